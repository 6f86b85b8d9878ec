package tiles

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-geoengine/pkg/config"
	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/pubsub"
)

func TestGetTileDownloadsOnceThenServesFromLive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := Coordinate{Zoom: 14, X: 15070, Y: 9833}

	first, err := env.source.GetTile(ctx, c.Zoom, c.X, c.Y, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, first.Source)
	assert.Equal(t, tileBody(c), string(first.Data))
	assert.EqualValues(t, 1, env.server.hits.Load())

	second, err := env.source.GetTile(ctx, c.Zoom, c.X, c.Y, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceLive, second.Source)
	assert.Equal(t, first.Data, second.Data)
	assert.EqualValues(t, 1, env.server.hits.Load(), "repeat lookup must not touch the network")

	stats := env.source.Stats(ctx)
	assert.EqualValues(t, 1, stats.NetworkDownloads)
	assert.EqualValues(t, 1, stats.LiveHits)
	assert.Equal(t, 1, stats.LiveTiles)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.reg.TileLookupsTotal.WithLabelValues("network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.reg.TileLookupsTotal.WithLabelValues("live_hit")))
}

func TestConcurrentGetTileDownloadsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.server.delay = 50 * time.Millisecond
	ctx := context.Background()
	c := Coordinate{Zoom: 16, X: 60284, Y: 39332}

	const callers = 12
	var wg sync.WaitGroup
	results := make([]Lookup, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = env.source.GetTile(ctx, c.Zoom, c.X, c.Y, nil)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tileBody(c), string(results[i].Data))
	}
	assert.Equal(t, 1, env.server.requestsFor(c))
	assert.EqualValues(t, 1, env.live.Downloads())
}

func TestGetTileOfflineIsMiss(t *testing.T) {
	env := newTestEnv(t)
	env.conn.Set(false)

	res, err := env.source.GetTile(context.Background(), 10, 1, 1, nil)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, SourceMiss, res.Source)
	assert.Zero(t, env.server.hits.Load())
	assert.EqualValues(t, 1, env.source.Stats(context.Background()).Misses)
}

func TestGetTileUpstreamFailureIsMiss(t *testing.T) {
	env := newTestEnv(t)
	c := Coordinate{Zoom: 9, X: 10, Y: 10}
	env.server.failTile(c)

	res, err := env.source.GetTile(context.Background(), c.Zoom, c.X, c.Y, nil)
	assert.ErrorIs(t, err, ErrUpstreamStatus)
	assert.Equal(t, SourceMiss, res.Source)
	assert.False(t, env.live.Has(c))
}

func TestGetTileInvalidCoordinate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.source.GetTile(context.Background(), 2, 9, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidTile)
	assert.Zero(t, env.server.hits.Load())
}

func TestEvictRemovesLeastRecentlyAccessed(t *testing.T) {
	env := newTestEnv(t, withCap(500))
	ctx := context.Background()
	clock := newFakeClock()
	env.live.store.now = clock.Now

	payload := make([]byte, 100)
	var coords []Coordinate
	for i := 0; i < 10; i++ {
		c := Coordinate{Zoom: 12, X: 100 + i, Y: 200}
		coords = append(coords, c)
		_, err := env.live.store.Write(ctx, c, payload)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	clock.Advance(10 * time.Second)
	_, err := env.live.Get(ctx, coords[0])
	require.NoError(t, err)

	res, err := env.live.Evict(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Removed)
	assert.EqualValues(t, 1000, res.BytesBefore)
	assert.EqualValues(t, 400, res.BytesAfter)

	for i, c := range coords {
		want := i == 0 || i >= 7
		assert.Equal(t, want, env.live.Has(c), "tile %d", i)
	}

	_, used, err := env.live.Usage(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, used, env.settings.Tiles.LiveCacheMaxBytes)
	assert.Equal(t, 6.0, testutil.ToFloat64(env.reg.TileEvictionsTotal))
}

func TestEvictUnderCapIsNoop(t *testing.T) {
	env := newTestEnv(t, withCap(1000))
	ctx := context.Background()

	_, err := env.live.store.Write(ctx, Coordinate{Zoom: 3, X: 1, Y: 1}, make([]byte, 400))
	require.NoError(t, err)

	res, err := env.live.Evict(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
	assert.EqualValues(t, 400, res.BytesAfter)
}

func TestEvictLargerThanBatch(t *testing.T) {
	env := newTestEnv(t, withCap(20))
	ctx := context.Background()
	clock := newFakeClock()
	env.live.store.now = clock.Now

	for i := 0; i < EvictionBatchSize+50; i++ {
		_, err := env.live.store.Write(ctx, Coordinate{Zoom: 10, X: i, Y: 1}, []byte{1})
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
	}

	res, err := env.live.Evict(ctx)
	require.NoError(t, err)
	assert.Equal(t, 134, res.Removed)
	assert.EqualValues(t, 16, res.BytesAfter)
	assert.True(t, env.live.Has(Coordinate{Zoom: 10, X: 134, Y: 1}))
	assert.False(t, env.live.Has(Coordinate{Zoom: 10, X: 133, Y: 1}))
}

func TestDownloadSchedulesEviction(t *testing.T) {
	env := newTestEnv(t, withCap(40))
	ctx := context.Background()

	for x := 0; x < 6; x++ {
		_, err := env.source.GetTile(ctx, 11, x, 7, nil)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		_, used, err := env.live.Usage(ctx)
		return err == nil && used <= 40
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPrefetchDownloadsMissingThenNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	done, err := env.bus.Subscribe(ctx, pubsub.TopicPrefetchCompleted)
	require.NoError(t, err)
	defer done.Unsubscribe()

	var (
		mu       sync.Mutex
		progress []PrefetchProgress
	)
	first, err := env.live.Prefetch(ctx, harbour, func(p PrefetchProgress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	expected := 0
	for _, r := range PrefetchPlan(harbour, env.settings.Tiles.PrefetchRadiusMeters) {
		expected += r.Count()
	}
	assert.Equal(t, expected, first.Requested)
	assert.Equal(t, expected, first.Downloaded)
	assert.True(t, first.Complete)
	assert.Equal(t, 100.0, first.Percent())
	assert.EqualValues(t, expected, env.server.hits.Load())

	mu.Lock()
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	mu.Unlock()
	assert.Equal(t, expected, last.Processed)

	select {
	case msg := <-done.Channel():
		assert.Equal(t, first.RunID, msg.(PrefetchResult).RunID)
	case <-time.After(time.Second):
		t.Fatal("no completion event")
	}

	second, err := env.live.Prefetch(ctx, harbour, nil)
	require.NoError(t, err)
	assert.Zero(t, second.Requested)
	assert.Zero(t, second.Downloaded)
	assert.True(t, second.Complete)
	assert.Equal(t, 100.0, second.Percent())
	assert.EqualValues(t, expected, env.server.hits.Load())

	select {
	case msg := <-done.Channel():
		assert.Equal(t, second.RunID, msg.(PrefetchResult).RunID)
	case <-time.After(time.Second):
		t.Fatal("no completion event for the cached region")
	}
}

func TestPrefetchCountsFailuresAsIncomplete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	broken := At(harbour, 15)
	env.server.failTile(broken)

	res, err := env.live.Prefetch(ctx, harbour, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.Complete)
	assert.Less(t, res.Percent(), 100.0)
	assert.False(t, env.live.State().LastResult.Complete)
}

func TestPrefetchCapacityGuard(t *testing.T) {
	env := newTestEnv(t, withCap(1000))
	ctx := context.Background()

	_, err := env.live.store.Write(ctx, Coordinate{Zoom: 2, X: 0, Y: 0}, make([]byte, 900))
	require.NoError(t, err)

	res, err := env.live.Prefetch(ctx, harbour, nil)
	require.NoError(t, err)
	assert.Equal(t, SkipCapacity, res.Skipped)
	assert.True(t, res.Complete, "guarded attempt counts as satisfied")
	assert.Zero(t, env.server.hits.Load())

	st := env.live.State()
	assert.True(t, st.HasPrefetched)
	assert.True(t, st.LastResult.Complete)
}

func TestPrefetchOffline(t *testing.T) {
	env := newTestEnv(t)
	env.conn.Set(false)

	res, err := env.live.Prefetch(context.Background(), harbour, nil)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, SkipOffline, res.Skipped)
	assert.False(t, res.Complete)
	assert.Zero(t, env.server.hits.Load())
}

func TestPrefetchCancelledKeepsPartialResults(t *testing.T) {
	env := newTestEnv(t, func(s *config.Settings) {
		s.Tiles.PrefetchRadiusMeters = 3000
		s.Tiles.MaxConcurrentDownloads = 1
	})
	env.server.delay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	res, err := env.live.Prefetch(ctx, harbour, func(p PrefetchProgress) {
		if p.Downloaded >= 10 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Cancelled)
	assert.False(t, res.Complete)
	assert.GreaterOrEqual(t, res.Downloaded, 10)
	assert.Less(t, res.Downloaded, res.Requested)

	n, _, uerr := env.live.Usage(context.Background())
	require.NoError(t, uerr)
	// a download already in flight may still land after the run returns
	assert.GreaterOrEqual(t, n, res.Downloaded, "downloaded tiles stay cached")
	assert.LessOrEqual(t, n, res.Downloaded+1)
	assert.False(t, env.live.State().Running)
}

func TestCancelledPrefetchDoesNotFailJoinedLookup(t *testing.T) {
	env := newTestEnv(t)
	env.server.delay = 400 * time.Millisecond
	first := PrefetchPlan(harbour, env.settings.Tiles.PrefetchRadiusMeters)[0].Coordinates()[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prefetchDone := make(chan error, 1)
	go func() {
		_, err := env.live.Prefetch(ctx, harbour, nil)
		prefetchDone <- err
	}()
	require.Eventually(t, func() bool { return env.server.requestsFor(first) == 1 }, 2*time.Second, 5*time.Millisecond)

	type outcome struct {
		res Lookup
		err error
	}
	got := make(chan outcome, 1)
	go func() {
		res, err := env.source.GetTile(context.Background(), first.Zoom, first.X, first.Y, nil)
		got <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-prefetchDone, context.Canceled)
	out := <-got
	require.NoError(t, out.err)
	assert.Equal(t, SourceNetwork, out.res.Source)
	assert.Equal(t, tileBody(first), string(out.res.Data))
	assert.Equal(t, 1, env.server.requestsFor(first), "lookup shares the prefetch download")
	assert.True(t, env.live.Has(first))
}

func TestPrefetchRejectsOverlap(t *testing.T) {
	env := newTestEnv(t)
	env.live.mu.Lock()
	env.live.state.Running = true
	env.live.mu.Unlock()

	res, err := env.live.Prefetch(context.Background(), harbour, nil)
	assert.ErrorIs(t, err, ErrPrefetchRunning)
	assert.Equal(t, SkipRunning, res.Skipped)
}

func TestNoteLocationTriggerDistance(t *testing.T) {
	env := newTestEnv(t, func(s *config.Settings) {
		s.Tiles.PrefetchTriggerDistanceMeters = 500
	})

	assert.True(t, env.live.NoteLocation(harbour), "first fix always triggers")

	_, err := env.live.Prefetch(context.Background(), harbour, nil)
	require.NoError(t, err)

	near := geomath.Destination(harbour.Lat, harbour.Lon, 90, 499)
	assert.False(t, env.live.NoteLocation(near))

	far := geomath.Destination(harbour.Lat, harbour.Lon, 90, 501)
	assert.True(t, env.live.NoteLocation(far))
	assert.Equal(t, far, env.live.State().LastLocation)
}

func TestClearForgetsPrefetchHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.live.Prefetch(ctx, harbour, nil)
	require.NoError(t, err)
	require.NoError(t, env.source.ClearAll(ctx))

	n, _, err := env.live.Usage(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	st := env.live.State()
	assert.False(t, st.HasPrefetched)
	assert.True(t, st.HasLocation)
	assert.Zero(t, env.source.Stats(ctx).Total())
}

func TestGetOrDownloadCallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.server.delay = 100 * time.Millisecond
	c := Coordinate{Zoom: 13, X: 10, Y: 10}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := env.live.GetOrDownload(ctx, c)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the shared download still lands in the cache
	require.Eventually(t, func() bool { return env.live.Has(c) }, 2*time.Second, 10*time.Millisecond)
}

func ExampleStats_String() {
	s := Stats{LiveHits: 6, TripHits: 2, NetworkDownloads: 1, Misses: 1}
	fmt.Println(s)
	// Output: 10 lookups | live 6 (60.0%) | trip 2 (20.0%) | network 1 (10.0%) | miss 1 (10.0%) | hit rate 80.0%
}
