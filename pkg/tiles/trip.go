package tiles

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/trips"
)

// Active-trip detection cache bounds
const (
	ActiveTripTTL          = 30 * time.Second
	ActiveTripRecheckMeter = 1000.0
)

// Zooms downloaded for a trip that does not name its own range
const (
	DefaultTripMinZoom = 8
	DefaultTripMaxZoom = 16
)

type activeTrip struct {
	valid bool
	found bool
	trip  trips.DownloadedTrip
	at    time.Time
	loc   geomath.Point
}

// TripTileStore serves tiles of fully downloaded trips. Each trip is its own
// tier and is never evicted.
type TripTileStore struct {
	root     string
	meta     *MetadataStore
	provider trips.Provider
	logger   logging.Logger
	now      func() time.Time

	mu     sync.Mutex
	stores map[string]*TileStore

	activeMu sync.Mutex
	active   activeTrip
}

// NewTripTileStore creates the trip tier coordinator
func NewTripTileStore(root string, meta *MetadataStore, provider trips.Provider, logger logging.Logger) *TripTileStore {
	return &TripTileStore{
		root:     root,
		meta:     meta,
		provider: provider,
		logger:   logging.ForComponent(logger, "tripcache"),
		now:      time.Now,
		stores:   make(map[string]*TileStore),
	}
}

// Store returns the tile store of one trip, creating it on first use
func (t *TripTileStore) Store(tripID string) (*TileStore, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.stores[tripID]; ok {
		return s, nil
	}
	s, err := NewTileStore(t.root, TripTier(tripID), t.meta, t.logger)
	if err != nil {
		return nil, err
	}
	t.stores[tripID] = s
	return s, nil
}

// ActiveTrip returns the completed trip whose bounds contain loc. The answer
// is reused for ActiveTripTTL or until loc moves ActiveTripRecheckMeter away.
func (t *TripTileStore) ActiveTrip(ctx context.Context, loc geomath.Point) (trips.DownloadedTrip, bool, error) {
	now := t.now()

	t.activeMu.Lock()
	cached := t.active
	t.activeMu.Unlock()

	if cached.valid &&
		now.Sub(cached.at) < ActiveTripTTL &&
		geomath.Distance(cached.loc, loc) < ActiveTripRecheckMeter &&
		(!cached.found || cached.trip.Contains(loc)) {
		return cached.trip, cached.found, nil
	}

	if t.provider == nil {
		return trips.DownloadedTrip{}, false, nil
	}
	all, err := t.provider.DownloadedTrips(ctx)
	if err != nil {
		return trips.DownloadedTrip{}, false, fmt.Errorf("list downloaded trips: %w", err)
	}

	next := activeTrip{valid: true, at: now, loc: loc}
	for _, trip := range trips.CompletedTrips(all) {
		if trip.Contains(loc) {
			next.trip = trip
			next.found = true
			break
		}
	}

	t.activeMu.Lock()
	t.active = next
	t.activeMu.Unlock()

	if next.found && (!cached.found || cached.trip.ID != next.trip.ID) {
		t.logger.Debug("active trip changed", logging.TripID(next.trip.ID))
	}
	return next.trip, next.found, nil
}

// InvalidateActive forgets the cached active-trip answer
func (t *TripTileStore) InvalidateActive() {
	t.activeMu.Lock()
	t.active = activeTrip{}
	t.activeMu.Unlock()
}

// Get returns a tile from the trip containing loc. Without a location the
// trip tier cannot participate and the lookup misses.
func (t *TripTileStore) Get(ctx context.Context, c Coordinate, loc *geomath.Point) ([]byte, string, error) {
	if loc == nil {
		return nil, "", NewError("get").Tile(c).Context("no location").Cause(ErrTileNotFound).Err()
	}
	trip, ok, err := t.ActiveTrip(ctx, *loc)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", NewError("get").Tile(c).Context("no active trip").Cause(ErrTileNotFound).Err()
	}

	s, err := t.Store(trip.ID)
	if err != nil {
		return nil, "", err
	}
	data, err := s.Read(ctx, c)
	if err != nil {
		return nil, trip.ID, err
	}
	return data, trip.ID, nil
}

// Has reports whether the trip holds the tile
func (t *TripTileStore) Has(tripID string, c Coordinate) bool {
	s, err := t.Store(tripID)
	if err != nil {
		return false
	}
	return s.Exists(c)
}

// Put stores a tile in a trip tier
func (t *TripTileStore) Put(ctx context.Context, tripID string, c Coordinate, data []byte) error {
	s, err := t.Store(tripID)
	if err != nil {
		return err
	}
	_, err = s.Write(ctx, c, data)
	return err
}

// TripDownloadResult summarises a trip region download
type TripDownloadResult struct {
	TripID         string `json:"trip_id"`
	Requested      int    `json:"requested"`
	Downloaded     int    `json:"downloaded"`
	AlreadyPresent int    `json:"already_present"`
	Failed         int    `json:"failed"`
}

// DownloadRegion fetches every tile of the trip's bounding box across its
// zoom range. Per-tile failures are counted, not returned.
func (t *TripTileStore) DownloadRegion(ctx context.Context, trip trips.DownloadedTrip, fetcher Fetcher, limit int, onProgress func(done, total int)) (TripDownloadResult, error) {
	s, err := t.Store(trip.ID)
	if err != nil {
		return TripDownloadResult{}, err
	}

	minZ, maxZ := trip.MinZoom, trip.MaxZoom
	if minZ <= 0 && maxZ <= 0 {
		minZ, maxZ = DefaultTripMinZoom, DefaultTripMaxZoom
	}
	var coords []Coordinate
	for z := minZ; z <= maxZ; z++ {
		coords = append(coords, BoundsRange(trip.Bounds, z).Coordinates()...)
	}

	res := TripDownloadResult{TripID: trip.ID, Requested: len(coords)}
	var downloaded, present, failed, done atomic.Int64
	var progressMu sync.Mutex

	if limit <= 0 {
		limit = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, c := range coords {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				n := done.Add(1)
				if onProgress != nil {
					progressMu.Lock()
					onProgress(int(n), len(coords))
					progressMu.Unlock()
				}
			}()
			if s.Exists(c) {
				present.Add(1)
				return nil
			}
			data, err := fetcher.Fetch(ctx, c)
			if err == nil {
				_, err = s.Write(ctx, c, data)
			}
			if err != nil {
				failed.Add(1)
				t.logger.Debug("trip tile failed", logging.TripID(trip.ID), logging.Tile(c.Zoom, c.X, c.Y), logging.Error(err))
				return nil
			}
			downloaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Downloaded = int(downloaded.Load())
	res.AlreadyPresent = int(present.Load())
	res.Failed = int(failed.Load())
	t.logger.Info("trip region downloaded",
		logging.TripID(trip.ID),
		logging.Int("requested", res.Requested),
		logging.Int("downloaded", res.Downloaded),
		logging.Int("failed", res.Failed))
	return res, ctx.Err()
}

// Remove deletes every tile of a trip
func (t *TripTileStore) Remove(ctx context.Context, tripID string) error {
	s, err := t.Store(tripID)
	if err != nil {
		return err
	}
	if err := s.Clear(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.stores, tripID)
	t.mu.Unlock()
	t.InvalidateActive()
	return nil
}

// Usage returns the combined footprint of all trip tiers
func (t *TripTileStore) Usage(ctx context.Context) (int, int64, error) {
	tiers, err := t.meta.Tiers(ctx)
	if err != nil {
		return 0, 0, err
	}
	var (
		count int
		bytes int64
	)
	for _, u := range tiers {
		if u.Tier.Kind() == "trip" {
			count += u.Tiles
			bytes += u.Bytes
		}
	}
	return count, bytes, nil
}
