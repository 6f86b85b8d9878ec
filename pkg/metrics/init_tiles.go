package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTileMetrics() {
	r.TileLookupsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoengine_tile_lookups_total",
			Help: "Tile lookups by the tier that resolved them",
		},
		[]string{"result"}, // live_hit, trip_hit, network, miss
	)

	r.TileDownloadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoengine_tile_downloads_total",
			Help: "Tile downloads by origin and outcome",
		},
		[]string{"origin", "status"},
	)

	r.TileDownloadDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoengine_tile_download_duration_seconds",
			Help:    "Tile download latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"origin"},
	)

	r.TileDownloadBytes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "geoengine_tile_download_bytes_total",
			Help: "Bytes of tile data downloaded",
		},
	)

	r.TileCacheBytes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geoengine_tile_cache_bytes",
			Help: "Bytes of tile data held per tier",
		},
		[]string{"tier"},
	)

	r.TileCacheTiles = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geoengine_tile_cache_tiles",
			Help: "Number of tiles held per tier",
		},
		[]string{"tier"},
	)

	r.TileEvictionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "geoengine_tile_evictions_total",
			Help: "Tiles removed by LRU eviction",
		},
	)

	r.TileEvictedBytesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "geoengine_tile_evicted_bytes_total",
			Help: "Bytes freed by LRU eviction",
		},
	)
}

func (r *Registry) initPrefetchMetrics() {
	r.PrefetchRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoengine_prefetch_runs_total",
			Help: "Prefetch runs by outcome",
		},
		[]string{"status"}, // completed, cancelled, skipped_capacity
	)

	r.PrefetchTilesRequested = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "geoengine_prefetch_tiles_requested_total",
			Help: "Tiles missing from the cache when a prefetch started",
		},
	)

	r.PrefetchTilesDownloaded = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "geoengine_prefetch_tiles_downloaded_total",
			Help: "Tiles newly downloaded by prefetch",
		},
	)

	r.PrefetchDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geoengine_prefetch_duration_seconds",
			Help:    "Prefetch run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	r.PrefetchRetrySkipsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoengine_prefetch_retry_skips_total",
			Help: "Background retry ticks that did not start a prefetch",
		},
		[]string{"reason"},
	)

	r.PrefetchInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "geoengine_prefetch_in_flight",
			Help: "1 while a prefetch run is active",
		},
	)
}
