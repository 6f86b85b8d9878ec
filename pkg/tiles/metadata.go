package tiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// Tier labels one independently managed tile store
type Tier string

// TierLive is the LRU-managed browsing tier
const TierLive Tier = "live"

const tripTierPrefix = "trip-"

// TripTier returns the tier holding one trip's tiles
func TripTier(tripID string) Tier {
	return Tier(tripTierPrefix + tripID)
}

// Kind returns "live" or "trip"
func (t Tier) Kind() string {
	if strings.HasPrefix(string(t), tripTierPrefix) {
		return "trip"
	}
	return string(t)
}

// Record is the metadata row of one cached tile
type Record struct {
	Coordinate
	Tier           Tier      `json:"tier"`
	FilePath       string    `json:"file_path"`
	SizeBytes      int64     `json:"size_bytes"`
	CachedAt       time.Time `json:"cached_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// MetadataStore persists tile records in SQLite
type MetadataStore struct {
	db *sql.DB
}

// OpenMetadataStore opens or creates the database at path
func OpenMetadataStore(path string) (*MetadataStore, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("metadata path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("metadata path %q is a directory", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create metadata directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata sqlite %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping metadata sqlite %q: %w", cleanPath, err)
	}
	if err := migrateMetadataSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MetadataStore{db: db}, nil
}

func migrateMetadataSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS tiles (
	tier TEXT NOT NULL,
	zoom INTEGER NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	cached_at INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	PRIMARY KEY (tier, zoom, x, y)
);
CREATE INDEX IF NOT EXISTS idx_tiles_lru ON tiles (tier, last_accessed_at);
`)
	if err != nil {
		return fmt.Errorf("migrate metadata schema: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a record
func (m *MetadataStore) Upsert(ctx context.Context, r Record) error {
	if m == nil || m.db == nil {
		return ErrStoreClosed
	}
	_, err := m.db.ExecContext(ctx, `
INSERT INTO tiles (tier, zoom, x, y, path, size_bytes, cached_at, last_accessed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tier, zoom, x, y) DO UPDATE SET
	path = excluded.path,
	size_bytes = excluded.size_bytes,
	cached_at = excluded.cached_at,
	last_accessed_at = excluded.last_accessed_at
`, string(r.Tier), r.Zoom, r.X, r.Y, r.FilePath, r.SizeBytes, r.CachedAt.UnixNano(), r.LastAccessedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert tile %s: %w", r.ID(), err)
	}
	return nil
}

// Get returns the record for a tile
func (m *MetadataStore) Get(ctx context.Context, tier Tier, c Coordinate) (Record, error) {
	if m == nil || m.db == nil {
		return Record{}, ErrStoreClosed
	}
	row := m.db.QueryRowContext(ctx, `
SELECT tier, zoom, x, y, path, size_bytes, cached_at, last_accessed_at
FROM tiles
WHERE tier = ? AND zoom = ? AND x = ? AND y = ?
`, string(tier), c.Zoom, c.X, c.Y)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, NotFoundError(tier, c)
	}
	return r, err
}

// Touch sets the LRU clock of a tile. A missing row is not an error.
func (m *MetadataStore) Touch(ctx context.Context, tier Tier, c Coordinate, at time.Time) error {
	if m == nil || m.db == nil {
		return ErrStoreClosed
	}
	_, err := m.db.ExecContext(ctx, `
UPDATE tiles SET last_accessed_at = ?
WHERE tier = ? AND zoom = ? AND x = ? AND y = ?
`, at.UnixNano(), string(tier), c.Zoom, c.X, c.Y)
	if err != nil {
		return fmt.Errorf("touch tile %s: %w", c.ID(), err)
	}
	return nil
}

// Delete removes a record
func (m *MetadataStore) Delete(ctx context.Context, tier Tier, c Coordinate) error {
	if m == nil || m.db == nil {
		return ErrStoreClosed
	}
	_, err := m.db.ExecContext(ctx, `
DELETE FROM tiles WHERE tier = ? AND zoom = ? AND x = ? AND y = ?
`, string(tier), c.Zoom, c.X, c.Y)
	if err != nil {
		return fmt.Errorf("delete tile %s: %w", c.ID(), err)
	}
	return nil
}

// DeleteTier removes every record of a tier
func (m *MetadataStore) DeleteTier(ctx context.Context, tier Tier) error {
	if m == nil || m.db == nil {
		return ErrStoreClosed
	}
	if _, err := m.db.ExecContext(ctx, `DELETE FROM tiles WHERE tier = ?`, string(tier)); err != nil {
		return fmt.Errorf("delete tier %s: %w", tier, err)
	}
	return nil
}

// OldestAccessed returns up to limit records of a tier, least recently
// accessed first
func (m *MetadataStore) OldestAccessed(ctx context.Context, tier Tier, limit int) ([]Record, error) {
	if m == nil || m.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 1
	}
	rows, err := m.db.QueryContext(ctx, `
SELECT tier, zoom, x, y, path, size_bytes, cached_at, last_accessed_at
FROM tiles
WHERE tier = ?
ORDER BY last_accessed_at ASC, cached_at ASC, zoom ASC, x ASC, y ASC
LIMIT ?
`, string(tier), limit)
	if err != nil {
		return nil, fmt.Errorf("query eviction candidates: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eviction candidates: %w", err)
	}
	return out, nil
}

// Usage returns the tile count and total bytes of a tier
func (m *MetadataStore) Usage(ctx context.Context, tier Tier) (int, int64, error) {
	if m == nil || m.db == nil {
		return 0, 0, ErrStoreClosed
	}
	var (
		count int
		bytes int64
	)
	err := m.db.QueryRowContext(ctx, `
SELECT COUNT(1), COALESCE(SUM(size_bytes), 0) FROM tiles WHERE tier = ?
`, string(tier)).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("usage of tier %s: %w", tier, err)
	}
	return count, bytes, nil
}

// TierUsage is the footprint of one tier
type TierUsage struct {
	Tier  Tier  `json:"tier"`
	Tiles int   `json:"tiles"`
	Bytes int64 `json:"bytes"`
}

// Tiers returns the usage of every tier holding at least one tile
func (m *MetadataStore) Tiers(ctx context.Context) ([]TierUsage, error) {
	if m == nil || m.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := m.db.QueryContext(ctx, `
SELECT tier, COUNT(1), COALESCE(SUM(size_bytes), 0)
FROM tiles
GROUP BY tier
ORDER BY tier
`)
	if err != nil {
		return nil, fmt.Errorf("query tier usage: %w", err)
	}
	defer rows.Close()

	var out []TierUsage
	for rows.Next() {
		var (
			u    TierUsage
			tier string
		)
		if err := rows.Scan(&tier, &u.Tiles, &u.Bytes); err != nil {
			return nil, fmt.Errorf("scan tier usage: %w", err)
		}
		u.Tier = Tier(tier)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tier usage: %w", err)
	}
	return out, nil
}

// Close releases the database
func (m *MetadataStore) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (Record, error) {
	var (
		r        Record
		tier     string
		cachedAt int64
		accessed int64
	)
	if err := s.Scan(&tier, &r.Zoom, &r.X, &r.Y, &r.FilePath, &r.SizeBytes, &cachedAt, &accessed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan tile row: %w", err)
	}
	r.Tier = Tier(tier)
	r.CachedAt = time.Unix(0, cachedAt)
	r.LastAccessedAt = time.Unix(0, accessed)
	return r, nil
}
