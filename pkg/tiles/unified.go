package tiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-geoengine/pkg/config"
	"github.com/dd0wney/cluso-geoengine/pkg/device"
	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/metrics"
	"github.com/dd0wney/cluso-geoengine/pkg/pubsub"
)

// DefaultRetryInterval is the background completion retry period
const DefaultRetryInterval = 5 * time.Minute

// Source names the tier that answered a lookup
type Source string

const (
	SourceLive    Source = "live"
	SourceTrip    Source = "trip"
	SourceNetwork Source = "network"
	SourceMiss    Source = "miss"
)

// Lookup is the result of GetTile
type Lookup struct {
	Data   []byte
	Source Source
	TripID string
}

// Locator is implemented by location fixes published on the bus
type Locator interface {
	Point() geomath.Point
}

// UnifiedOptions wires a UnifiedTileCacheSource
type UnifiedOptions struct {
	Live         *LiveTileCache
	Trip         *TripTileStore
	Settings     config.Provider
	Connectivity device.Connectivity
	Battery      device.Battery
	Bus          *pubsub.PubSub
	Metrics      *metrics.Registry
	Logger       logging.Logger
}

// UnifiedTileCacheSource resolves tiles Live, then Trip, then Network, and
// keeps the live tier topped up around the device
type UnifiedTileCacheSource struct {
	live     *LiveTileCache
	trip     *TripTileStore
	settings config.Provider
	conn     device.Connectivity
	battery  device.Battery
	bus      *pubsub.PubSub
	metrics  *metrics.Registry
	logger   logging.Logger

	liveHits  atomic.Int64
	tripHits  atomic.Int64
	downloads atomic.Int64
	misses    atomic.Int64

	mu           sync.Mutex
	lastPrefetch *PrefetchResult
	started      bool
	cancel       context.CancelFunc
	subs         []*pubsub.Subscription

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewUnifiedTileCacheSource creates the coordinator. Call Start to begin
// listening for location fixes and running the retry timer.
func NewUnifiedTileCacheSource(opts UnifiedOptions) *UnifiedTileCacheSource {
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	return &UnifiedTileCacheSource{
		live:     opts.Live,
		trip:     opts.Trip,
		settings: opts.Settings,
		conn:     opts.Connectivity,
		battery:  opts.Battery,
		bus:      opts.Bus,
		metrics:  reg,
		logger:   logging.ForComponent(opts.Logger, "tilesource"),
	}
}

// Live returns the live tier
func (u *UnifiedTileCacheSource) Live() *LiveTileCache { return u.live }

// Trip returns the trip tier coordinator
func (u *UnifiedTileCacheSource) Trip() *TripTileStore { return u.trip }

// GetTile resolves one tile. hint is the device location used to select a
// trip tier; when nil the last known fix is used.
func (u *UnifiedTileCacheSource) GetTile(ctx context.Context, zoom, x, y int, hint *geomath.Point) (Lookup, error) {
	c := Coordinate{Zoom: zoom, X: x, Y: y}
	if !c.Valid() {
		u.miss()
		return Lookup{Source: SourceMiss}, NewError("get").Tile(c).Cause(ErrInvalidTile).Err()
	}

	if data, err := u.live.Get(ctx, c); err == nil {
		u.hit(SourceLive)
		return Lookup{Data: data, Source: SourceLive}, nil
	} else if !IsNotFound(err) {
		u.logger.Warn("live lookup failed", logging.Tile(zoom, x, y), logging.Error(err))
	}

	if u.trip != nil {
		loc := hint
		if loc == nil {
			if st := u.live.State(); st.HasLocation {
				loc = &st.LastLocation
			}
		}
		data, tripID, err := u.trip.Get(ctx, c, loc)
		if err == nil {
			u.hit(SourceTrip)
			return Lookup{Data: data, Source: SourceTrip, TripID: tripID}, nil
		}
		if !IsNotFound(err) {
			u.logger.Warn("trip lookup failed", logging.Tile(zoom, x, y), logging.Error(err))
		}
	}

	data, downloaded, err := u.live.GetOrDownload(ctx, c)
	if err != nil {
		u.miss()
		if !errors.Is(err, ErrOffline) && !errors.Is(err, context.Canceled) {
			u.logger.Debug("tile unavailable", logging.Tile(zoom, x, y), logging.Error(err))
		}
		return Lookup{Source: SourceMiss}, err
	}
	if !downloaded {
		// stored by a concurrent reader between the two checks
		u.hit(SourceLive)
		return Lookup{Data: data, Source: SourceLive}, nil
	}
	u.hit(SourceNetwork)
	return Lookup{Data: data, Source: SourceNetwork}, nil
}

func (u *UnifiedTileCacheSource) hit(src Source) {
	switch src {
	case SourceLive:
		u.liveHits.Add(1)
		u.metrics.RecordTileLookup("live_hit")
	case SourceTrip:
		u.tripHits.Add(1)
		u.metrics.RecordTileLookup("trip_hit")
	case SourceNetwork:
		u.downloads.Add(1)
		u.metrics.RecordTileLookup("network")
	}
}

func (u *UnifiedTileCacheSource) miss() {
	u.misses.Add(1)
	u.metrics.RecordTileLookup("miss")
}

// Start subscribes to location and prefetch events and starts the retry
// timer. It returns immediately.
func (u *UnifiedTileCacheSource) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return nil
	}
	if u.bus == nil {
		return fmt.Errorf("tile source: no event bus")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fixes, err := u.bus.Subscribe(runCtx, pubsub.TopicLocationFix)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe location fixes: %w", err)
	}
	done, err := u.bus.Subscribe(runCtx, pubsub.TopicPrefetchCompleted)
	if err != nil {
		fixes.Unsubscribe()
		cancel()
		return fmt.Errorf("subscribe prefetch events: %w", err)
	}

	u.started = true
	u.cancel = cancel
	u.subs = []*pubsub.Subscription{fixes, done}

	u.wg.Add(3)
	go u.locationLoop(runCtx, fixes)
	go u.prefetchEventLoop(runCtx, done)
	go u.retryLoop(runCtx)
	u.logger.Info("tile source started")
	return nil
}

func (u *UnifiedTileCacheSource) locationLoop(ctx context.Context, sub *pubsub.Subscription) {
	defer u.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			p, ok := pointOf(msg)
			if !ok {
				u.logger.Warn("unexpected location message", logging.String("type", fmt.Sprintf("%T", msg)))
				continue
			}
			u.UpdateLocation(ctx, p)
		}
	}
}

func pointOf(msg any) (geomath.Point, bool) {
	switch v := msg.(type) {
	case geomath.Point:
		return v, true
	case *geomath.Point:
		if v == nil {
			return geomath.Point{}, false
		}
		return *v, true
	case Locator:
		return v.Point(), true
	}
	return geomath.Point{}, false
}

// UpdateLocation feeds a fix to the live tier and starts a prefetch in the
// background when the device has moved past the trigger distance
func (u *UnifiedTileCacheSource) UpdateLocation(ctx context.Context, p geomath.Point) bool {
	if !u.live.NoteLocation(p) {
		return false
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.runPrefetch(ctx, p, "movement")
	}()
	return true
}

func (u *UnifiedTileCacheSource) prefetchEventLoop(ctx context.Context, sub *pubsub.Subscription) {
	defer u.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			res, ok := msg.(PrefetchResult)
			if !ok {
				continue
			}
			u.mu.Lock()
			u.lastPrefetch = &res
			u.mu.Unlock()
		}
	}
}

func (u *UnifiedTileCacheSource) retryInterval() time.Duration {
	if u.settings != nil {
		if d := u.settings.Snapshot().Tiles.RetryInterval; d > 0 {
			return d
		}
	}
	return DefaultRetryInterval
}

func (u *UnifiedTileCacheSource) retryLoop(ctx context.Context) {
	defer u.wg.Done()
	ticker := time.NewTicker(u.retryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.RetryTick(ctx)
			ticker.Reset(u.retryInterval())
		}
	}
}

// RetryTick runs one background completion check. It resumes an incomplete
// prefetch at the last known location unless a skip condition holds, and
// never panics.
func (u *UnifiedTileCacheSource) RetryTick(ctx context.Context) (reason SkipReason) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("retry tick panic recovered", logging.Any("panic", r))
			reason = "panic"
		}
	}()

	st := u.live.State()
	switch {
	case st.Running:
		reason = SkipRunning
	case !st.HasLocation:
		reason = SkipNoLocation
	case st.HasPrefetched && st.LastResult.Complete:
		reason = SkipComplete
	case u.conn != nil && !u.conn.HasInternet():
		reason = SkipOffline
	case device.IsLowBattery(u.battery):
		reason = SkipLowBattery
	}
	if reason != SkipNone {
		u.metrics.RecordRetrySkip(string(reason))
		u.logger.Debug("retry skipped", logging.String("reason", string(reason)))
		return reason
	}

	u.runPrefetch(ctx, st.LastLocation, "timer")
	return SkipNone
}

func (u *UnifiedTileCacheSource) runPrefetch(ctx context.Context, p geomath.Point, trigger string) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("prefetch panic recovered", logging.Any("panic", r), logging.String("trigger", trigger))
		}
	}()

	_, err := u.live.Prefetch(ctx, p, nil)
	switch {
	case err == nil:
	case errors.Is(err, ErrPrefetchRunning):
		u.logger.Debug("prefetch already running", logging.String("trigger", trigger))
	case errors.Is(err, context.Canceled), errors.Is(err, ErrOffline):
		u.logger.Debug("prefetch stopped", logging.String("trigger", trigger), logging.Error(err))
	default:
		u.logger.Warn("prefetch failed", logging.String("trigger", trigger), logging.Error(err))
	}
}

// Prefetch runs a prefetch around center in the caller's goroutine
func (u *UnifiedTileCacheSource) Prefetch(ctx context.Context, center geomath.Point, onProgress func(PrefetchProgress)) (PrefetchResult, error) {
	return u.live.Prefetch(ctx, center, onProgress)
}

// Stats is a snapshot of lookup counters and tier usage
type Stats struct {
	LiveHits         int64           `json:"live_hits"`
	TripHits         int64           `json:"trip_hits"`
	NetworkDownloads int64           `json:"network_downloads"`
	Misses           int64           `json:"misses"`
	LiveTiles        int             `json:"live_tiles"`
	LiveBytes        int64           `json:"live_bytes"`
	LiveCapBytes     int64           `json:"live_cap_bytes"`
	TripTiles        int             `json:"trip_tiles"`
	TripBytes        int64           `json:"trip_bytes"`
	LastPrefetch     *PrefetchResult `json:"last_prefetch,omitempty"`
}

// Total is the number of lookups counted
func (s Stats) Total() int64 {
	return s.LiveHits + s.TripHits + s.NetworkDownloads + s.Misses
}

// HitRate is the percentage of lookups served from disk
func (s Stats) HitRate() float64 {
	return percent(s.LiveHits+s.TripHits, s.Total())
}

func percent(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

// String renders the human-readable hit-rate summary
func (s Stats) String() string {
	total := s.Total()
	var b strings.Builder
	fmt.Fprintf(&b, "%d lookups", total)
	fmt.Fprintf(&b, " | live %d (%.1f%%)", s.LiveHits, percent(s.LiveHits, total))
	fmt.Fprintf(&b, " | trip %d (%.1f%%)", s.TripHits, percent(s.TripHits, total))
	fmt.Fprintf(&b, " | network %d (%.1f%%)", s.NetworkDownloads, percent(s.NetworkDownloads, total))
	fmt.Fprintf(&b, " | miss %d (%.1f%%)", s.Misses, percent(s.Misses, total))
	fmt.Fprintf(&b, " | hit rate %.1f%%", s.HitRate())
	return b.String()
}

// Stats returns the counters and current tier usage
func (u *UnifiedTileCacheSource) Stats(ctx context.Context) Stats {
	s := Stats{
		LiveHits:         u.liveHits.Load(),
		TripHits:         u.tripHits.Load(),
		NetworkDownloads: u.downloads.Load(),
		Misses:           u.misses.Load(),
	}
	if u.settings != nil {
		s.LiveCapBytes = u.settings.Snapshot().Tiles.LiveCacheMaxBytes
	}
	if n, b, err := u.live.Usage(ctx); err == nil {
		s.LiveTiles, s.LiveBytes = n, b
		u.metrics.SetTileCacheUsage(string(TierLive), n, b)
	}
	if u.trip != nil {
		if n, b, err := u.trip.Usage(ctx); err == nil {
			s.TripTiles, s.TripBytes = n, b
			u.metrics.SetTileCacheUsage("trip", n, b)
		}
	}

	u.mu.Lock()
	if u.lastPrefetch != nil {
		last := *u.lastPrefetch
		s.LastPrefetch = &last
	}
	u.mu.Unlock()
	if s.LastPrefetch == nil {
		if st := u.live.State(); st.HasPrefetched {
			last := st.LastResult
			s.LastPrefetch = &last
		}
	}
	return s
}

// Summary returns the human-readable hit-rate line
func (u *UnifiedTileCacheSource) Summary(ctx context.Context) string {
	return u.Stats(ctx).String()
}

// ClearAll deletes the live tier and resets the counters. Trip tiers are
// managed by their downloads and are left alone.
func (u *UnifiedTileCacheSource) ClearAll(ctx context.Context) error {
	if err := u.live.Clear(ctx); err != nil {
		return err
	}
	u.liveHits.Store(0)
	u.tripHits.Store(0)
	u.downloads.Store(0)
	u.misses.Store(0)

	u.mu.Lock()
	u.lastPrefetch = nil
	u.mu.Unlock()
	u.logger.Info("tile caches cleared")
	return nil
}

// Close unsubscribes from events, stops the timer and waits for background
// work to finish
func (u *UnifiedTileCacheSource) Close() error {
	u.closeOnce.Do(func() {
		u.mu.Lock()
		cancel := u.cancel
		subs := u.subs
		u.subs = nil
		u.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		for _, s := range subs {
			s.Unsubscribe()
		}
		u.wg.Wait()
		u.logger.Info("tile source closed")
	})
	return nil
}
