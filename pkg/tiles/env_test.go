package tiles

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-geoengine/pkg/config"
	"github.com/dd0wney/cluso-geoengine/pkg/device"
	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/metrics"
	"github.com/dd0wney/cluso-geoengine/pkg/parallel"
	"github.com/dd0wney/cluso-geoengine/pkg/pubsub"
	"github.com/dd0wney/cluso-geoengine/pkg/trips"
)

// tileServer serves "tile-z-x-y" bodies and counts requests per tile
type tileServer struct {
	*httptest.Server
	hits  atomic.Int64
	delay time.Duration

	mu   sync.Mutex
	byID map[string]int
	fail map[string]bool
}

func newTileServer(t *testing.T) *tileServer {
	t.Helper()
	ts := &tileServer{byID: make(map[string]int), fail: make(map[string]bool)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		var z, x, y int
		if _, err := fmt.Sscanf(r.URL.Path, "/%d/%d/%d.png", &z, &x, &y); err != nil {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}
		id := fmt.Sprintf("%d-%d-%d", z, x, y)

		ts.mu.Lock()
		ts.byID[id]++
		fail := ts.fail[id]
		ts.mu.Unlock()

		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		if fail {
			http.Error(w, "upstream", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprintf(w, "tile-%s", id)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tileServer) template() string {
	return ts.URL + "/{z}/{x}/{y}.png"
}

func (ts *tileServer) requestsFor(c Coordinate) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.byID[c.ID()]
}

func (ts *tileServer) failTile(c Coordinate) {
	ts.mu.Lock()
	ts.fail[c.ID()] = true
	ts.mu.Unlock()
}

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeTrips is an in-memory trips.Provider
type fakeTrips struct {
	mu    sync.Mutex
	trips []trips.DownloadedTrip
	calls int
}

func (f *fakeTrips) DownloadedTrips(ctx context.Context) ([]trips.DownloadedTrip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]trips.DownloadedTrip(nil), f.trips...), nil
}

func (f *fakeTrips) TripGraph(ctx context.Context, tripID string) (*trips.TripGraph, error) {
	return nil, trips.ErrNoGraph
}

func (f *fakeTrips) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	settings *config.Settings
	server   *tileServer
	meta     *MetadataStore
	conn     *device.Switch
	bus      *pubsub.PubSub
	reg      *metrics.Registry
	trips    *fakeTrips
	live     *LiveTileCache
	trip     *TripTileStore
	source   *UnifiedTileCacheSource
}

type envOption func(*config.Settings)

func withCap(bytes int64) envOption {
	return func(s *config.Settings) { s.Tiles.LiveCacheMaxBytes = bytes }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	server := newTileServer(t)
	dir := t.TempDir()

	settings := config.Defaults()
	settings.DataDir = dir
	settings.Tiles.URLTemplate = server.template()
	settings.Tiles.PrefetchRadiusMeters = 50
	settings.Tiles.MaxConcurrentDownloads = 3
	settings.Tiles.DownloadTimeout = 5 * time.Second
	for _, opt := range opts {
		opt(settings)
	}
	provider := config.NewStatic(settings)

	meta, err := OpenMetadataStore(filepath.Join(dir, "tiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	pool, err := parallel.NewWorkerPool("evict", 1, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	bus := pubsub.NewPubSub()
	t.Cleanup(bus.Shutdown)

	liveStore, err := NewTileStore(settings.TileRoot(), TierLive, meta, logging.NewNopLogger())
	require.NoError(t, err)

	env := &testEnv{
		settings: settings,
		server:   server,
		meta:     meta,
		conn:     device.NewSwitch(true),
		bus:      bus,
		reg:      metrics.NewRegistry(),
		trips:    &fakeTrips{},
	}
	env.live = NewLiveTileCache(LiveOptions{
		Store:        liveStore,
		Fetcher:      NewHTTPFetcher(settings.Tiles.URLTemplate, "geoengine-test", 0),
		Settings:     provider,
		Connectivity: env.conn,
		Bus:          bus,
		Pool:         pool,
		Metrics:      env.reg,
		Logger:       logging.NewNopLogger(),
	})
	env.trip = NewTripTileStore(settings.TileRoot(), meta, env.trips, logging.NewNopLogger())
	env.source = NewUnifiedTileCacheSource(UnifiedOptions{
		Live:         env.live,
		Trip:         env.trip,
		Settings:     provider,
		Connectivity: env.conn,
		Battery:      nil,
		Bus:          bus,
		Metrics:      env.reg,
		Logger:       logging.NewNopLogger(),
	})
	t.Cleanup(func() { env.source.Close() })
	return env
}

// harbour is a fixed prefetch centre
var harbour = geomath.Point{Lat: -33.8587, Lon: 151.2140}

func tileBody(c Coordinate) string {
	return "tile-" + c.ID()
}
