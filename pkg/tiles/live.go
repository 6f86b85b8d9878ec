package tiles

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/dd0wney/cluso-geoengine/pkg/config"
	"github.com/dd0wney/cluso-geoengine/pkg/device"
	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/metrics"
	"github.com/dd0wney/cluso-geoengine/pkg/parallel"
	"github.com/dd0wney/cluso-geoengine/pkg/pubsub"
)

// Live tier policy
const (
	EvictionBatchSize   = 100
	EvictionTargetRatio = 0.80
	CapacityGuardRatio  = 0.90
	SingleDownloadLimit = 2
	progressEvery       = 10
)

// ErrPrefetchRunning is returned when a prefetch is requested while one runs
var ErrPrefetchRunning = errors.New("prefetch already running")

// SkipReason explains why a prefetch or retry did not download anything
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipRunning    SkipReason = "running"
	SkipCapacity   SkipReason = "capacity"
	SkipOffline    SkipReason = "offline"
	SkipComplete   SkipReason = "complete"
	SkipNoLocation SkipReason = "no_location"
	SkipLowBattery SkipReason = "low_battery"
)

// PrefetchProgress is reported while a prefetch runs
type PrefetchProgress struct {
	RunID      string
	Total      int
	Processed  int
	Downloaded int
	Failed     int
}

// PrefetchResult summarises a prefetch run. It is also the payload
// published on pubsub.TopicPrefetchCompleted.
type PrefetchResult struct {
	RunID          string        `json:"run_id"`
	Center         geomath.Point `json:"center"`
	Requested      int           `json:"requested"`
	Downloaded     int           `json:"downloaded"`
	AlreadyPresent int           `json:"already_present"`
	Failed         int           `json:"failed"`
	Skipped        SkipReason    `json:"skipped,omitempty"`
	Cancelled      bool          `json:"cancelled"`
	Complete       bool          `json:"complete"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// Percent is the share of requested tiles now present. Nothing requested
// counts as fully satisfied.
func (r PrefetchResult) Percent() float64 {
	if r.Requested == 0 {
		return 100
	}
	return float64(r.Downloaded+r.AlreadyPresent) * 100 / float64(r.Requested)
}

// PrefetchState is a snapshot of the live tier's prefetch bookkeeping
type PrefetchState struct {
	Running        bool
	HasLocation    bool
	LastLocation   geomath.Point
	HasPrefetched  bool
	LastCenter     geomath.Point
	LastPrefetchAt time.Time
	LastResult     PrefetchResult
}

// EvictionResult summarises one eviction pass
type EvictionResult struct {
	Removed     int
	FreedBytes  int64
	BytesBefore int64
	BytesAfter  int64
}

// LiveOptions wires a LiveTileCache
type LiveOptions struct {
	Store        *TileStore
	Fetcher      Fetcher
	Settings     config.Provider
	Connectivity device.Connectivity
	Bus          *pubsub.PubSub
	Pool         *parallel.WorkerPool
	Metrics      *metrics.Registry
	Logger       logging.Logger
}

// LiveTileCache is the LRU-bounded browsing tier
type LiveTileCache struct {
	store    *TileStore
	fetcher  Fetcher
	settings config.Provider
	conn     device.Connectivity
	bus      *pubsub.PubSub
	pool     *parallel.WorkerPool
	metrics  *metrics.Registry
	logger   logging.Logger
	now      func() time.Time

	single      *semaphore.Weighted
	flights     singleflight.Group
	evictMu     sync.Mutex
	evictQueued atomic.Bool
	downloads   atomic.Int64

	progressMu sync.Mutex

	// guarded by mu
	mu    sync.Mutex
	state PrefetchState
}

// NewLiveTileCache creates the live tier
func NewLiveTileCache(opts LiveOptions) *LiveTileCache {
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	return &LiveTileCache{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		settings: opts.Settings,
		conn:     opts.Connectivity,
		bus:      opts.Bus,
		pool:     opts.Pool,
		metrics:  reg,
		logger:   logging.ForComponent(opts.Logger, "livecache"),
		now:      time.Now,
		single:   semaphore.NewWeighted(SingleDownloadLimit),
	}
}

func (l *LiveTileCache) online() bool {
	return l.conn == nil || l.conn.HasInternet()
}

// Store returns the backing tile store
func (l *LiveTileCache) Store() *TileStore { return l.store }

// Has reports whether the tile file is present
func (l *LiveTileCache) Has(c Coordinate) bool {
	return l.store.Exists(c)
}

// Get reads a cached tile, advancing its LRU clock
func (l *LiveTileCache) Get(ctx context.Context, c Coordinate) ([]byte, error) {
	return l.store.Read(ctx, c)
}

// Downloads returns how many tiles this cache has downloaded
func (l *LiveTileCache) Downloads() int64 {
	return l.downloads.Load()
}

type fetchOutcome struct {
	data       []byte
	downloaded bool
}

// GetOrDownload returns a cached tile or downloads it. Concurrent calls for
// one tile share a single download. The download itself outlives a
// cancelled caller so the tile still lands in the cache.
func (l *LiveTileCache) GetOrDownload(ctx context.Context, c Coordinate) ([]byte, bool, error) {
	if !c.Valid() {
		return nil, false, NewError("get").Tier(TierLive).Tile(c).Cause(ErrInvalidTile).Err()
	}

	data, err := l.store.Read(ctx, c)
	if err == nil {
		return data, false, nil
	}
	if !IsNotFound(err) {
		l.logger.Warn("live read failed", logging.Tile(c.Zoom, c.X, c.Y), logging.Error(err))
	}
	if !l.online() {
		return nil, false, NewError("download").Tile(c).Cause(ErrOffline).Err()
	}

	ch := l.flights.DoChan(c.ID(), func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.downloadTimeout())
		defer cancel()

		if err := l.single.Acquire(dctx, 1); err != nil {
			return fetchOutcome{}, err
		}
		defer l.single.Release(1)

		// another reader may have stored it while we waited for a slot
		if l.store.Exists(c) {
			return fetchOutcome{}, nil
		}
		data, err := l.download(dctx, c)
		return fetchOutcome{data: data, downloaded: err == nil}, err
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		out := res.Val.(fetchOutcome)
		if out.data == nil {
			data, err := l.store.Read(ctx, c)
			return data, false, err
		}
		return out.data, out.downloaded, nil
	}
}

func (l *LiveTileCache) downloadTimeout() time.Duration {
	if l.settings != nil {
		if d := l.settings.Snapshot().Tiles.DownloadTimeout; d > 0 {
			return d
		}
	}
	return 15 * time.Second
}

// download fetches one tile, stores it and schedules an eviction pass
func (l *LiveTileCache) download(ctx context.Context, c Coordinate) ([]byte, error) {
	start := time.Now()
	data, err := l.fetcher.Fetch(ctx, c)
	if err != nil {
		l.metrics.RecordTileDownload(l.fetcher.Name(), "error", time.Since(start), 0)
		l.logger.Debug("tile download failed", logging.Tile(c.Zoom, c.X, c.Y), logging.Error(err))
		return nil, err
	}
	l.metrics.RecordTileDownload(l.fetcher.Name(), "success", time.Since(start), len(data))

	if _, err := l.store.Write(ctx, c, data); err != nil {
		l.logger.Warn("tile write failed", logging.Tile(c.Zoom, c.X, c.Y), logging.Error(err))
		return nil, err
	}
	l.downloads.Add(1)
	l.ScheduleEviction()
	return data, nil
}

// ScheduleEviction queues an asynchronous eviction pass. Requests made while
// one is already queued are folded into it.
func (l *LiveTileCache) ScheduleEviction() {
	if !l.evictQueued.CompareAndSwap(false, true) {
		return
	}
	task := func() {
		l.evictQueued.Store(false)
		if _, err := l.Evict(context.Background()); err != nil {
			l.logger.Warn("eviction failed", logging.Error(err))
		}
	}
	if l.pool == nil {
		go task()
		return
	}
	if !l.pool.TrySubmit(task) {
		// the next download schedules again
		l.evictQueued.Store(false)
	}
}

// Evict deletes least recently accessed tiles while usage exceeds the cap,
// stopping at the eviction target. Per-tile failures are logged and skipped.
func (l *LiveTileCache) Evict(ctx context.Context) (EvictionResult, error) {
	l.evictMu.Lock()
	defer l.evictMu.Unlock()

	capBytes := l.settings.Snapshot().Tiles.LiveCacheMaxBytes
	count, used, err := l.store.Usage(ctx)
	if err != nil {
		return EvictionResult{}, err
	}
	res := EvictionResult{BytesBefore: used, BytesAfter: used}
	if used <= capBytes {
		l.metrics.SetTileCacheUsage(string(TierLive), count, used)
		return res, nil
	}

	target := int64(float64(capBytes) * EvictionTargetRatio)
	for used > target {
		batch, err := l.store.EvictionCandidates(ctx, EvictionBatchSize)
		if err != nil {
			return res, err
		}
		removed := 0
		for _, r := range batch {
			if used <= target {
				break
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if err := l.store.Delete(ctx, r.Coordinate); err != nil {
				l.logger.Warn("evict tile failed", logging.Tile(r.Zoom, r.X, r.Y), logging.Error(err))
				continue
			}
			used -= r.SizeBytes
			count--
			removed++
			res.Removed++
			res.FreedBytes += r.SizeBytes
		}
		if removed == 0 {
			break
		}
	}
	res.BytesAfter = used

	l.metrics.RecordEviction(res.Removed, res.FreedBytes)
	l.metrics.SetTileCacheUsage(string(TierLive), count, used)
	l.logger.Info("eviction pass",
		logging.Count(res.Removed),
		logging.Bytes(res.FreedBytes),
		logging.Int64("bytes_after", used),
		logging.Int64("cap_bytes", capBytes))
	return res, nil
}

// Usage returns the live tier tile count and bytes
func (l *LiveTileCache) Usage(ctx context.Context) (int, int64, error) {
	return l.store.Usage(ctx)
}

// State returns a snapshot of the prefetch bookkeeping
func (l *LiveTileCache) State() PrefetchState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// NoteLocation records the latest fix and reports whether the device has
// moved far enough from the last prefetch centre to warrant a new one
func (l *LiveTileCache) NoteLocation(p geomath.Point) bool {
	trigger := l.settings.Snapshot().Tiles.PrefetchTriggerDistanceMeters

	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.LastLocation = p
	l.state.HasLocation = true
	if l.state.Running {
		return false
	}
	if !l.state.HasPrefetched {
		return true
	}
	return geomath.Distance(l.state.LastCenter, p) >= trigger
}

// Prefetch downloads the tiles around center that are not cached yet,
// across every prefetch zoom level. onProgress may be nil; calls to it are
// serialized. A cancelled run keeps whatever it already stored.
func (l *LiveTileCache) Prefetch(ctx context.Context, center geomath.Point, onProgress func(PrefetchProgress)) (PrefetchResult, error) {
	l.mu.Lock()
	if l.state.Running {
		l.mu.Unlock()
		return PrefetchResult{Center: center, Skipped: SkipRunning}, ErrPrefetchRunning
	}
	l.state.Running = true
	l.state.LastLocation = center
	l.state.HasLocation = true
	l.mu.Unlock()
	l.metrics.SetPrefetchInFlight(true)

	tiles := l.settings.Snapshot().Tiles
	result := PrefetchResult{
		RunID:     uuid.NewString(),
		Center:    center,
		StartedAt: l.now(),
	}
	log := l.logger.With(logging.String("run_id", result.RunID), logging.Location(center.Lat, center.Lon))

	_, used, err := l.store.Usage(ctx)
	switch {
	case err != nil:
		log.Warn("usage check failed", logging.Error(err))
	case float64(used) >= float64(tiles.LiveCacheMaxBytes)*CapacityGuardRatio:
		// downloading would only evict what was just fetched
		result.Skipped = SkipCapacity
		result.Complete = true
		l.finishPrefetch(&result, log)
		return result, nil
	}

	if !l.online() {
		result.Skipped = SkipOffline
		l.finishPrefetch(&result, log)
		return result, ErrOffline
	}

	var missing []Coordinate
	for _, r := range PrefetchPlan(center, tiles.PrefetchRadiusMeters) {
		for _, c := range r.Coordinates() {
			if !l.store.Exists(c) {
				missing = append(missing, c)
			}
		}
	}
	result.Requested = len(missing)

	var downloaded, present, failed, processed atomic.Int64
	report := func() {
		if onProgress == nil {
			return
		}
		l.progressMu.Lock()
		defer l.progressMu.Unlock()
		onProgress(PrefetchProgress{
			RunID:      result.RunID,
			Total:      result.Requested,
			Processed:  int(processed.Load()),
			Downloaded: int(downloaded.Load()),
			Failed:     int(failed.Load()),
		})
	}

	limit := tiles.MaxConcurrentDownloads
	if limit <= 0 {
		limit = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)

	for _, c := range missing {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if n := processed.Add(1); n%progressEvery == 0 {
					report()
				}
			}()
			if ctx.Err() != nil {
				return nil
			}
			// the flight is shared with GetOrDownload, so it must not die with this run
			ch := l.flights.DoChan(c.ID(), func() (any, error) {
				dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.downloadTimeout())
				defer cancel()

				// re-check inside the slot so racing runs do not refetch
				if l.store.Exists(c) {
					return fetchOutcome{}, nil
				}
				data, err := l.download(dctx, c)
				return fetchOutcome{data: data, downloaded: err == nil}, err
			})

			var res singleflight.Result
			select {
			case <-ctx.Done():
				return nil
			case res = <-ch:
			}
			switch {
			case res.Err != nil:
				failed.Add(1)
			case res.Val.(fetchOutcome).downloaded:
				downloaded.Add(1)
			default:
				present.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	report()

	result.Downloaded = int(downloaded.Load())
	result.AlreadyPresent = int(present.Load())
	result.Failed = int(failed.Load())
	result.Cancelled = ctx.Err() != nil
	result.Complete = !result.Cancelled && result.Downloaded+result.AlreadyPresent == result.Requested
	l.finishPrefetch(&result, log)

	if result.Cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

func (l *LiveTileCache) finishPrefetch(result *PrefetchResult, log logging.Logger) {
	result.Duration = l.now().Sub(result.StartedAt)

	l.mu.Lock()
	l.state.Running = false
	l.state.HasPrefetched = true
	l.state.LastCenter = result.Center
	l.state.LastPrefetchAt = l.now()
	l.state.LastResult = *result
	l.mu.Unlock()

	status := "completed"
	switch {
	case result.Skipped != SkipNone:
		status = "skipped_" + string(result.Skipped)
	case result.Cancelled:
		status = "cancelled"
	case !result.Complete:
		status = "incomplete"
	}
	l.metrics.SetPrefetchInFlight(false)
	l.metrics.RecordPrefetch(status, result.Requested, result.Downloaded, result.Duration)

	log.Info("prefetch finished",
		logging.String("status", status),
		logging.Int("requested", result.Requested),
		logging.Int("downloaded", result.Downloaded),
		logging.Int("failed", result.Failed),
		logging.Float64("percent", result.Percent()))

	if l.bus != nil {
		l.bus.Publish(pubsub.TopicPrefetchCompleted, *result)
	}
}

// Clear deletes every live tile and forgets prefetch history
func (l *LiveTileCache) Clear(ctx context.Context) error {
	l.evictMu.Lock()
	defer l.evictMu.Unlock()

	if err := l.store.Clear(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	running := l.state.Running
	l.state = PrefetchState{
		Running:      running,
		HasLocation:  l.state.HasLocation,
		LastLocation: l.state.LastLocation,
	}
	l.mu.Unlock()
	l.metrics.SetTileCacheUsage(string(TierLive), 0, 0)
	return nil
}
