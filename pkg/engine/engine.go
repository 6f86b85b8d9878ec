// Package engine assembles the offline geospatial engine: the tiered tile
// cache, trip providers, the navigation graph and the route planner, wired
// to one event bus, one metrics registry and one health checker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/dd0wney/cluso-geoengine/pkg/config"
	"github.com/dd0wney/cluso-geoengine/pkg/device"
	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/health"
	"github.com/dd0wney/cluso-geoengine/pkg/location"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/metrics"
	"github.com/dd0wney/cluso-geoengine/pkg/navigation"
	"github.com/dd0wney/cluso-geoengine/pkg/parallel"
	"github.com/dd0wney/cluso-geoengine/pkg/pubsub"
	"github.com/dd0wney/cluso-geoengine/pkg/routing"
	"github.com/dd0wney/cluso-geoengine/pkg/tiles"
	"github.com/dd0wney/cluso-geoengine/pkg/trips"
)

var (
	// ErrUnknownTrip means the trip provider does not list the trip
	ErrUnknownTrip = errors.New("unknown trip")
	// ErrNoGraph means no navigation graph is loaded
	ErrNoGraph = errors.New("no navigation graph loaded")
	// ErrClosed means the engine has been closed
	ErrClosed = errors.New("engine closed")
)

// Background worker counts
const (
	maintenanceWorkers    = 2
	probeInterval         = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
	fixBuffer             = 16
)

// Options injects collaborators. Zero values are filled from settings.
type Options struct {
	Settings     config.Provider
	Logger       logging.Logger
	Metrics      *metrics.Registry
	Connectivity device.Connectivity
	Battery      device.Battery
	Trips        trips.Provider
	Fetcher      tiles.Fetcher
	RouteFetcher routing.RouteFetcher
	// Location overrides the location source chosen from settings
	Location location.Source
}

// Engine owns every long-lived component
type Engine struct {
	settings config.Provider
	logger   logging.Logger
	metrics  *metrics.Registry

	bus     *pubsub.PubSub
	pool    *parallel.WorkerPool
	conn    device.Connectivity
	probe   *device.Probe
	meta    *tiles.MetadataStore
	fetcher tiles.Fetcher
	live    *tiles.LiveTileCache
	trips   trips.Provider
	tripTil *tiles.TripTileStore
	source  *tiles.UnifiedTileCacheSource

	graphs     *navigation.Holder
	routeCache *routing.RouteCache
	planner    *routing.Planner

	fixes    chan location.Fix
	location location.Source
	health   *health.HealthChecker

	navMu   sync.Mutex
	tracker *navigation.Tracker
	path    []string

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the engine. Nothing runs until Start.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Settings == nil {
		opts.Settings = config.NewStatic(config.Defaults())
	}
	settings := opts.Settings.Snapshot()
	logger := opts.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}

	e := &Engine{
		settings: opts.Settings,
		logger:   logging.ForComponent(logger, "engine"),
		metrics:  reg,
		bus:      pubsub.NewPubSub(),
		graphs:   navigation.NewHolder(nil),
		health:   health.NewHealthChecker(),
	}
	var closers []io.Closer
	fail := func(err error) (*Engine, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
		e.bus.Shutdown()
		if e.pool != nil {
			e.pool.Close()
		}
		return nil, err
	}

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return fail(fmt.Errorf("create data dir: %w", err))
	}

	pool, err := parallel.NewWorkerPool("maintenance", maintenanceWorkers, logger)
	if err != nil {
		return fail(err)
	}
	e.pool = pool

	e.conn = opts.Connectivity
	if e.conn == nil {
		if settings.Routing.BaseURL != "" {
			e.probe = device.NewProbe(settings.Routing.BaseURL, probeInterval, logger)
			e.conn = e.probe
		} else {
			e.conn = device.NewSwitch(true)
		}
	}

	meta, err := tiles.OpenMetadataStore(settings.MetadataPath())
	if err != nil {
		return fail(err)
	}
	e.meta = meta
	closers = append(closers, meta)

	e.fetcher = opts.Fetcher
	if e.fetcher == nil {
		if e.fetcher, err = newFetcher(ctx, settings); err != nil {
			return fail(err)
		}
	}

	e.trips = opts.Trips
	if e.trips == nil {
		if e.trips, err = newTripProvider(ctx, settings); err != nil {
			return fail(err)
		}
		if c, ok := e.trips.(io.Closer); ok {
			closers = append(closers, c)
		}
	}

	liveStore, err := tiles.NewTileStore(settings.TileRoot(), tiles.TierLive, meta, logger)
	if err != nil {
		return fail(err)
	}
	e.live = tiles.NewLiveTileCache(tiles.LiveOptions{
		Store:        liveStore,
		Fetcher:      e.fetcher,
		Settings:     opts.Settings,
		Connectivity: e.conn,
		Bus:          e.bus,
		Pool:         pool,
		Metrics:      reg,
		Logger:       logger,
	})
	e.tripTil = tiles.NewTripTileStore(settings.TileRoot(), meta, e.trips, logger)
	e.source = tiles.NewUnifiedTileCacheSource(tiles.UnifiedOptions{
		Live:         e.live,
		Trip:         e.tripTil,
		Settings:     opts.Settings,
		Connectivity: e.conn,
		Battery:      opts.Battery,
		Bus:          e.bus,
		Metrics:      reg,
		Logger:       logger,
	})

	e.routeCache = routing.NewRouteCache(settings.Routing.CacheEntries, settings.Routing.CacheTTL)
	routeFetcher := opts.RouteFetcher
	if routeFetcher == nil && settings.Routing.BaseURL != "" {
		routeFetcher = routing.NewOSRMClient(routing.OSRMClientConfig{
			BaseURL:           settings.Routing.BaseURL,
			RequestsPerSecond: settings.Routing.RequestsPerSecond,
			Timeout:           settings.Routing.Timeout,
			UserAgent:         settings.Tiles.UserAgent,
		}, e.conn, reg, logger)
	}
	e.planner = routing.NewPlanner(e.graphs, e.routeCache, routeFetcher, reg, logger)

	e.location = opts.Location
	if e.location == nil {
		if addr := settings.Location.FeedAddress; addr != "" {
			e.location = location.NewNNGSource(addr, settings.Location.Topic, e.bus, logger)
		} else {
			e.fixes = make(chan location.Fix, fixBuffer)
			e.location = location.NewChannelSource(e.fixes, e.bus, logger)
		}
	}

	e.registerHealthChecks()
	return e, nil
}

func newFetcher(ctx context.Context, s *config.Settings) (tiles.Fetcher, error) {
	if s.Tiles.Source == "s3" {
		return tiles.NewS3FetcherFromEnv(ctx, s.Tiles.S3Bucket, s.Tiles.S3KeyTemplate)
	}
	return tiles.NewHTTPFetcher(s.Tiles.URLTemplate, s.Tiles.UserAgent, s.Tiles.DownloadTimeout), nil
}

func newTripProvider(ctx context.Context, s *config.Settings) (trips.Provider, error) {
	if s.Trips.DatabaseURL != "" {
		return trips.NewPGProvider(ctx, s.Trips.DatabaseURL)
	}
	dir := s.Trips.Dir
	if dir == "" {
		dir = filepath.Join(s.DataDir, "trips")
	}
	return trips.NewFileProvider(dir)
}

func (e *Engine) registerHealthChecks() {
	e.source.RegisterHealthChecks(e.health, e.meta)
	e.health.Register("navigation_graph", health.ProbeHealth, health.GraphCheck(func() (string, int, int, bool) {
		g := e.graphs.Load()
		if g == nil {
			return "", 0, 0, false
		}
		return g.TripID, g.NodeCount(), g.EdgeCount(), true
	}))
	e.health.Register("memory", health.ProbeHealth, health.MemoryCheck(func() (uint64, uint64) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.Alloc, m.Sys
	}))
	e.health.Register("engine", health.ProbeHealth|health.ProbeLive, health.ClosedCheck(func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.closed
	}))
	if pg, ok := e.trips.(*trips.PGProvider); ok {
		e.health.Register("trip_database", health.ProbeHealth|health.ProbeReady, health.DatabaseCheck(pg.Ping))
	}
}

// Start begins background work: location intake, the tile cache event
// loops and retry timer, connectivity probing and off-route tracking
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub, err := e.bus.Subscribe(runCtx, pubsub.TopicLocationFix)
	if err != nil {
		cancel()
		return err
	}
	if err := e.source.Start(runCtx); err != nil {
		sub.Unsubscribe()
		cancel()
		return err
	}
	if err := e.location.Start(); err != nil {
		sub.Unsubscribe()
		cancel()
		return fmt.Errorf("start location source: %w", err)
	}

	if e.probe != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.probe.Run(runCtx)
		}()
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.trackLoop(runCtx, sub)
	}()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.systemMetricsLoop(runCtx)
	}()

	e.cancel = cancel
	e.started = true

	if id := e.settings.Snapshot().Trips.ActiveTrip; id != "" {
		if err := e.LoadTrip(ctx, id); err != nil {
			e.logger.Warn("active trip graph not loaded", logging.TripID(id), logging.Error(err))
		}
	}
	e.logger.Info("engine started")
	return nil
}

func (e *Engine) systemMetricsLoop(ctx context.Context) {
	started := time.Now()
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	e.metrics.UpdateSystemMetrics(started)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.metrics.UpdateSystemMetrics(started)
		}
	}
}

// PushFix feeds a fix through the in-process location source. It reports
// false when fixes come from a network feed or the buffer is full.
func (e *Engine) PushFix(f location.Fix) bool {
	if e.fixes == nil {
		return false
	}
	select {
	case e.fixes <- f:
		return true
	default:
		return false
	}
}

// LoadTrip builds the trip's navigation graph and swaps it in
func (e *Engine) LoadTrip(ctx context.Context, tripID string) error {
	op := logging.StartTimer(e.logger, "trip graph load", logging.TripID(tripID))
	tg, err := e.trips.TripGraph(ctx, tripID)
	if err != nil {
		op.EndError(err)
		return err
	}
	g := navigation.BuildFromTrip(tg)
	e.graphs.Swap(g)
	e.metrics.SetNavigationGraph(g.NodeCount(), g.EdgeCount())
	e.ClearRoute()
	op.End(logging.Int("nodes", g.NodeCount()), logging.Int("edges", g.EdgeCount()))
	return nil
}

// UnloadTrip discards the navigation graph
func (e *Engine) UnloadTrip() {
	e.graphs.Clear()
	e.metrics.SetNavigationGraph(0, 0)
	e.ClearRoute()
}

// Graph returns the loaded navigation graph or nil
func (e *Engine) Graph() *navigation.Graph {
	return e.graphs.Load()
}

// Route builds directions through the planner fallback chain
func (e *Engine) Route(ctx context.Context, req routing.RouteRequest) (*routing.NavigationRoute, error) {
	return e.planner.BuildRoute(ctx, req)
}

// FollowPath sets the node path that location fixes are checked against
func (e *Engine) FollowPath(path []string) error {
	g := e.graphs.Load()
	if g == nil {
		return ErrNoGraph
	}
	t := navigation.NewTracker(g, path)
	e.navMu.Lock()
	e.tracker = t
	e.path = append([]string(nil), path...)
	e.navMu.Unlock()
	return nil
}

// ClearRoute stops off-route tracking
func (e *Engine) ClearRoute() {
	e.navMu.Lock()
	e.tracker = nil
	e.path = nil
	e.navMu.Unlock()
}

// Track checks a position against the followed path. ok is false when no
// path is being followed.
func (e *Engine) Track(p geomath.Point) (status navigation.TrackStatus, ok bool) {
	e.navMu.Lock()
	t := e.tracker
	e.navMu.Unlock()
	if t == nil {
		return navigation.TrackStatus{}, false
	}
	return t.Check(p.Lat, p.Lon), true
}

func (e *Engine) trackLoop(ctx context.Context, sub *pubsub.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			fix, ok := msg.(location.Fix)
			if !ok {
				continue
			}
			status, tracking := e.Track(fix.Point())
			if !tracking || !status.OffRoute {
				continue
			}
			e.logger.Info("off route",
				logging.Location(fix.Lat, fix.Lon),
				logging.Meters("deviation", status.DeviationM))
			e.bus.Publish(pubsub.TopicOffRoute, status)
		}
	}
}

// DownloadTrip fetches every tile of a listed trip into its trip tier
func (e *Engine) DownloadTrip(ctx context.Context, tripID string, onProgress func(done, total int)) (tiles.TripDownloadResult, error) {
	all, err := e.trips.DownloadedTrips(ctx)
	if err != nil {
		return tiles.TripDownloadResult{}, err
	}
	for _, t := range all {
		if t.ID == tripID {
			limit := e.settings.Snapshot().Tiles.MaxConcurrentDownloads
			res, err := e.tripTil.DownloadRegion(ctx, t, e.fetcher, limit, onProgress)
			e.tripTil.InvalidateActive()
			return res, err
		}
	}
	return tiles.TripDownloadResult{}, fmt.Errorf("%w: %s", ErrUnknownTrip, tripID)
}

// Accessors
func (e *Engine) Source() *tiles.UnifiedTileCacheSource { return e.source }
func (e *Engine) Metadata() *tiles.MetadataStore        { return e.meta }
func (e *Engine) Trips() trips.Provider                 { return e.trips }
func (e *Engine) Planner() *routing.Planner             { return e.planner }
func (e *Engine) RouteCache() *routing.RouteCache       { return e.routeCache }
func (e *Engine) Health() *health.HealthChecker         { return e.health }
func (e *Engine) Metrics() *metrics.Registry            { return e.metrics }
func (e *Engine) Bus() *pubsub.PubSub                   { return e.bus }
func (e *Engine) Settings() *config.Settings            { return e.settings.Snapshot() }

// Close stops background work and releases storage. It is safe to call
// more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	started := e.started
	e.mu.Unlock()

	var errs []error
	if started {
		if err := e.location.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.source.Close(); err != nil {
		errs = append(errs, err)
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.pool.Close()
	e.bus.Shutdown()

	if c, ok := e.trips.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.meta.Close(); err != nil {
		errs = append(errs, err)
	}
	e.logger.Info("engine closed")
	return errors.Join(errs...)
}
