package trips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGProvider reads trip metadata from PostgreSQL
type PGProvider struct {
	pool *pgxpool.Pool
}

// NewPGProvider connects to databaseURL and creates the trip tables if they
// do not exist
func NewPGProvider(ctx context.Context, databaseURL string) (*PGProvider, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	p := &PGProvider{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return p, nil
}

// Ping checks database connectivity
func (p *PGProvider) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool
func (p *PGProvider) Close() error {
	p.pool.Close()
	return nil
}

func (p *PGProvider) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		min_lat DOUBLE PRECISION NOT NULL,
		min_lon DOUBLE PRECISION NOT NULL,
		max_lat DOUBLE PRECISION NOT NULL,
		max_lon DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		min_zoom INTEGER NOT NULL DEFAULT 0,
		max_zoom INTEGER NOT NULL DEFAULT 0,
		tile_count INTEGER NOT NULL DEFAULT 0,
		downloaded_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS trip_nodes (
		trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (trip_id, id)
	);

	CREATE TABLE IF NOT EXISTS trip_edges (
		trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
		mode TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		geometry JSONB,
		PRIMARY KEY (trip_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_trips_status ON trips(status);
	`
	_, err := p.pool.Exec(ctx, schema)
	return err
}

// DownloadedTrips lists every trip row
func (p *PGProvider) DownloadedTrips(ctx context.Context) ([]DownloadedTrip, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, min_lat, min_lon, max_lat, max_lon, status, min_zoom, max_zoom, tile_count, downloaded_at
		FROM trips
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var out []DownloadedTrip
	for rows.Next() {
		var (
			t            DownloadedTrip
			status       string
			downloadedAt *time.Time
		)
		if err := rows.Scan(&t.ID, &t.Name,
			&t.Bounds.MinLat, &t.Bounds.MinLon, &t.Bounds.MaxLat, &t.Bounds.MaxLon,
			&status, &t.MinZoom, &t.MaxZoom, &t.TileCount, &downloadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		t.Status = DownloadStatus(status)
		if downloadedAt != nil {
			t.DownloadedAt = *downloadedAt
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trips: %w", err)
	}
	return out, nil
}

// TripGraph loads a trip's nodes and edges in their stored order
func (p *PGProvider) TripGraph(ctx context.Context, tripID string) (*TripGraph, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT true FROM trips WHERE id = $1`, tripID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrTripNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}

	g := &TripGraph{TripID: tripID}

	nodeRows, err := p.pool.Query(ctx, `
		SELECT id, name, type, lat, lon FROM trip_nodes WHERE trip_id = $1 ORDER BY seq
	`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	g.Nodes, err = pgx.CollectRows(nodeRows, func(row pgx.CollectableRow) (TripNode, error) {
		var n TripNode
		err := row.Scan(&n.ID, &n.Name, &n.Type, &n.Lat, &n.Lon)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan nodes: %w", err)
	}

	edgeRows, err := p.pool.Query(ctx, `
		SELECT from_id, to_id, distance_km, mode, type, geometry FROM trip_edges WHERE trip_id = $1 ORDER BY seq
	`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	g.Edges, err = pgx.CollectRows(edgeRows, func(row pgx.CollectableRow) (TripEdge, error) {
		var (
			e        TripEdge
			geometry []byte
		)
		if err := row.Scan(&e.From, &e.To, &e.DistanceKm, &e.Mode, &e.Type, &geometry); err != nil {
			return e, err
		}
		if len(geometry) > 0 {
			if err := json.Unmarshal(geometry, &e.Geometry); err != nil {
				return e, fmt.Errorf("edge %s->%s geometry: %w", e.From, e.To, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan edges: %w", err)
	}

	if len(g.Nodes) == 0 {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNoGraph)
	}
	return g, nil
}

// SaveBundle upserts a trip and replaces its graph in one transaction
func (p *PGProvider) SaveBundle(ctx context.Context, b Bundle) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback(ctx)

	t := b.Trip
	var downloadedAt *time.Time
	if !t.DownloadedAt.IsZero() {
		downloadedAt = &t.DownloadedAt
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO trips (id, name, min_lat, min_lon, max_lat, max_lon, status, min_zoom, max_zoom, tile_count, downloaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			min_lat = EXCLUDED.min_lat, min_lon = EXCLUDED.min_lon,
			max_lat = EXCLUDED.max_lat, max_lon = EXCLUDED.max_lon,
			status = EXCLUDED.status,
			min_zoom = EXCLUDED.min_zoom, max_zoom = EXCLUDED.max_zoom,
			tile_count = EXCLUDED.tile_count,
			downloaded_at = EXCLUDED.downloaded_at
	`, t.ID, t.Name, t.Bounds.MinLat, t.Bounds.MinLon, t.Bounds.MaxLat, t.Bounds.MaxLon,
		string(t.Status), t.MinZoom, t.MaxZoom, t.TileCount, downloadedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert trip: %w", err)
	}

	if b.Graph != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM trip_nodes WHERE trip_id = $1`, t.ID); err != nil {
			return fmt.Errorf("failed to clear nodes: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM trip_edges WHERE trip_id = $1`, t.ID); err != nil {
			return fmt.Errorf("failed to clear edges: %w", err)
		}

		batch := &pgx.Batch{}
		for i, n := range b.Graph.Nodes {
			batch.Queue(`
				INSERT INTO trip_nodes (trip_id, id, name, type, lat, lon, seq) VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (trip_id, id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type,
					lat = EXCLUDED.lat, lon = EXCLUDED.lon
			`, t.ID, n.ID, n.Name, n.Type, n.Lat, n.Lon, i)
		}
		for i, e := range b.Graph.Edges {
			var geometry []byte
			if len(e.Geometry) > 0 {
				if geometry, err = json.Marshal(e.Geometry); err != nil {
					return fmt.Errorf("failed to marshal geometry: %w", err)
				}
			}
			batch.Queue(`
				INSERT INTO trip_edges (trip_id, seq, from_id, to_id, distance_km, mode, type, geometry)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, t.ID, i, e.From, e.To, e.DistanceKm, e.Mode, e.Type, geometry)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write graph: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
