package tiles

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-geoengine/pkg/logging"
)

func newTestStore(t *testing.T, tier Tier) (*TileStore, *MetadataStore) {
	t.Helper()
	dir := t.TempDir()
	meta, err := OpenMetadataStore(filepath.Join(dir, "tiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	store, err := NewTileStore(filepath.Join(dir, "tiles"), tier, meta, logging.NewNopLogger())
	require.NoError(t, err)
	return store, meta
}

func TestOpenMetadataStoreRejectsBadPaths(t *testing.T) {
	_, err := OpenMetadataStore("  ")
	assert.Error(t, err)

	_, err = OpenMetadataStore(t.TempDir())
	assert.ErrorContains(t, err, "is a directory")
}

func TestTileStoreWriteRead(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, TierLive)
	c := Coordinate{Zoom: 12, X: 3767, Y: 2457}

	assert.False(t, store.Exists(c))
	_, err := store.Read(ctx, c)
	assert.True(t, IsNotFound(err))

	rec, err := store.Write(ctx, c, []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec.SizeBytes)
	assert.Equal(t, store.Path(c), rec.FilePath)
	assert.True(t, strings.HasSuffix(rec.FilePath, filepath.Join("live", "12", "3767", "2457.png")))

	assert.True(t, store.Exists(c))
	data, err := store.Read(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	count, bytes, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(9), bytes)
}

func TestTileStoreWriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, TierLive)
	c := Coordinate{Zoom: 3, X: 1, Y: 2}

	for i := 0; i < 3; i++ {
		_, err := store.Write(ctx, c, []byte(strings.Repeat("x", i+1)))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Dir(store.Path(c)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2.png", entries[0].Name())

	data, err := store.Read(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "xxx", string(data))

	_, bytes, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), bytes, "rewrite replaces the record")
}

func TestTileStoreWriteRejects(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, TierLive)

	_, err := store.Write(ctx, Coordinate{Zoom: 1, X: 2, Y: 0}, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidTile)

	_, err = store.Write(ctx, Coordinate{Zoom: 1}, nil)
	assert.ErrorIs(t, err, ErrEmptyTile)

	var tileErr *TileError
	require.ErrorAs(t, err, &tileErr)
	assert.Equal(t, "write", tileErr.Op)
	assert.Equal(t, TierLive, tileErr.Tier)
}

func TestTileStoreReadTouchesAccessClock(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, TierLive)
	clock := newFakeClock()
	store.now = clock.Now

	c := Coordinate{Zoom: 5, X: 10, Y: 11}
	_, err := store.Write(ctx, c, []byte("a"))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = store.Read(ctx, c)
	require.NoError(t, err)

	rec, err := store.Record(ctx, c)
	require.NoError(t, err)
	assert.True(t, rec.LastAccessedAt.Equal(clock.Now()))
	assert.True(t, rec.CachedAt.Equal(clock.Now().Add(-time.Hour)))
}

func TestTileStoreEvictionCandidatesOrder(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, TierLive)
	clock := newFakeClock()
	store.now = clock.Now

	var coords []Coordinate
	for i := 0; i < 5; i++ {
		c := Coordinate{Zoom: 10, X: i, Y: 0}
		coords = append(coords, c)
		_, err := store.Write(ctx, c, []byte("t"))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	// reading the oldest moves it to the back
	_, err := store.Read(ctx, coords[0])
	require.NoError(t, err)

	got, err := store.EvictionCandidates(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, coords[1], got[0].Coordinate)
	assert.Equal(t, coords[2], got[1].Coordinate)
	assert.Equal(t, coords[3], got[2].Coordinate)
}

func TestTileStoreTiersAreIndependent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	meta, err := OpenMetadataStore(filepath.Join(dir, "tiles.db"))
	require.NoError(t, err)
	defer meta.Close()

	root := filepath.Join(dir, "tiles")
	live, err := NewTileStore(root, TierLive, meta, logging.NewNopLogger())
	require.NoError(t, err)
	trip, err := NewTileStore(root, TripTier("alps"), meta, logging.NewNopLogger())
	require.NoError(t, err)

	c := Coordinate{Zoom: 8, X: 133, Y: 90}
	_, err = trip.Write(ctx, c, []byte("trip"))
	require.NoError(t, err)

	assert.False(t, live.Exists(c))
	n, _, err := live.Usage(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	tiers, err := meta.Tiers(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Equal(t, TripTier("alps"), tiers[0].Tier)

	require.NoError(t, trip.Clear(ctx))
	assert.False(t, trip.Exists(c))
	tiers, err = meta.Tiers(ctx)
	require.NoError(t, err)
	assert.Empty(t, tiers)
}

func TestTileStoreDeleteMissingFile(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, TierLive)
	c := Coordinate{Zoom: 4, X: 1, Y: 1}

	_, err := store.Write(ctx, c, []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(store.Path(c)))

	require.NoError(t, store.Delete(ctx, c))
	_, err = store.Record(ctx, c)
	assert.True(t, IsNotFound(err))
}

func TestMetadataStoreClosed(t *testing.T) {
	var m *MetadataStore
	assert.ErrorIs(t, m.Upsert(context.Background(), Record{}), ErrStoreClosed)
	assert.NoError(t, m.Close())
}
