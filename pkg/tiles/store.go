package tiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/mmap"

	"github.com/dd0wney/cluso-geoengine/pkg/logging"
)

// TileStore persists one tier: tile bytes under <root>/<tier>/<z>/<x>/<y>.png
// and a metadata row per tile
type TileStore struct {
	dir    string
	tier   Tier
	meta   *MetadataStore
	logger logging.Logger
	now    func() time.Time
}

// NewTileStore creates the tier directory under root
func NewTileStore(root string, tier Tier, meta *MetadataStore, logger logging.Logger) (*TileStore, error) {
	dir := filepath.Join(root, string(tier))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewError("open").Tier(tier).Cause(err).Err()
	}
	return &TileStore{
		dir:    dir,
		tier:   tier,
		meta:   meta,
		logger: logging.ForComponent(logger, "tilestore").With(logging.Tier(string(tier))),
		now:    time.Now,
	}, nil
}

// Tier returns the tier label
func (s *TileStore) Tier() Tier { return s.tier }

// Path returns where a tile's bytes live
func (s *TileStore) Path(c Coordinate) string {
	return filepath.Join(s.dir, strconv.Itoa(c.Zoom), strconv.Itoa(c.X), strconv.Itoa(c.Y)+".png")
}

// Exists reports whether the tile file is present
func (s *TileStore) Exists(c Coordinate) bool {
	info, err := os.Stat(s.Path(c))
	return err == nil && info.Mode().IsRegular()
}

// Read returns the tile bytes and advances its LRU clock
func (s *TileStore) Read(ctx context.Context, c Coordinate) ([]byte, error) {
	data, err := s.read(c)
	if err != nil {
		return nil, err
	}
	if err := s.meta.Touch(ctx, s.tier, c, s.now()); err != nil {
		s.logger.Warn("touch failed", logging.Tile(c.Zoom, c.X, c.Y), logging.Error(err))
	}
	return data, nil
}

func (s *TileStore) read(c Coordinate) ([]byte, error) {
	r, err := mmap.Open(s.Path(c))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NotFoundError(s.tier, c)
		}
		return nil, NewError("read").Tier(s.tier).Tile(c).Cause(err).Err()
	}
	defer r.Close()

	data := make([]byte, r.Len())
	if _, err := r.ReadAt(data, 0); err != nil {
		return nil, NewError("read").Tier(s.tier).Tile(c).Cause(err).Err()
	}
	return data, nil
}

// Write stores the tile atomically: bytes go to a temporary file that is
// synced and renamed over the final path, so readers never see a partial
// tile. The metadata row is written after the rename.
func (s *TileStore) Write(ctx context.Context, c Coordinate, data []byte) (Record, error) {
	if !c.Valid() {
		return Record{}, NewError("write").Tier(s.tier).Tile(c).Cause(ErrInvalidTile).Err()
	}
	if len(data) == 0 {
		return Record{}, NewError("write").Tier(s.tier).Tile(c).Cause(ErrEmptyTile).Err()
	}

	final := s.Path(c)
	if err := writeAtomic(final, data); err != nil {
		return Record{}, NewError("write").Tier(s.tier).Tile(c).Cause(err).Err()
	}

	now := s.now()
	rec := Record{
		Coordinate:     c,
		Tier:           s.tier,
		FilePath:       final,
		SizeBytes:      int64(len(data)),
		CachedAt:       now,
		LastAccessedAt: now,
	}
	if err := s.meta.Upsert(ctx, rec); err != nil {
		return Record{}, NewError("write").Tier(s.tier).Tile(c).Context("metadata").Cause(err).Err()
	}
	return rec, nil
}

func writeAtomic(final string, data []byte) error {
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Delete removes a tile's file and record. A missing file is not an error.
func (s *TileStore) Delete(ctx context.Context, c Coordinate) error {
	if err := os.Remove(s.Path(c)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewError("delete").Tier(s.tier).Tile(c).Cause(err).Err()
	}
	if err := s.meta.Delete(ctx, s.tier, c); err != nil {
		return NewError("delete").Tier(s.tier).Tile(c).Context("metadata").Cause(err).Err()
	}
	return nil
}

// Usage returns the tile count and bytes recorded for the tier
func (s *TileStore) Usage(ctx context.Context) (int, int64, error) {
	return s.meta.Usage(ctx, s.tier)
}

// EvictionCandidates returns up to limit tiles, least recently accessed first
func (s *TileStore) EvictionCandidates(ctx context.Context, limit int) ([]Record, error) {
	return s.meta.OldestAccessed(ctx, s.tier, limit)
}

// Record returns the metadata of one tile
func (s *TileStore) Record(ctx context.Context, c Coordinate) (Record, error) {
	return s.meta.Get(ctx, s.tier, c)
}

// Clear removes every tile of the tier
func (s *TileStore) Clear(ctx context.Context) error {
	if err := s.meta.DeleteTier(ctx, s.tier); err != nil {
		return NewError("clear").Tier(s.tier).Cause(err).Err()
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return NewError("clear").Tier(s.tier).Cause(err).Err()
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return NewError("clear").Tier(s.tier).Cause(err).Err()
	}
	s.logger.Info("tier cleared")
	return nil
}

func (s *TileStore) String() string {
	return fmt.Sprintf("TileStore(%s)", s.dir)
}
