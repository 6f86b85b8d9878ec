package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the engine
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	HTTPResponseSizeBytes *prometheus.HistogramVec
	HTTPTileResponses     *prometheus.CounterVec

	// Tile Cache Metrics
	TileLookupsTotal      *prometheus.CounterVec
	TileDownloadsTotal    *prometheus.CounterVec
	TileDownloadDuration  *prometheus.HistogramVec
	TileDownloadBytes     prometheus.Counter
	TileCacheBytes        *prometheus.GaugeVec
	TileCacheTiles        *prometheus.GaugeVec
	TileEvictionsTotal    prometheus.Counter
	TileEvictedBytesTotal prometheus.Counter

	// Prefetch Metrics
	PrefetchRunsTotal       *prometheus.CounterVec
	PrefetchTilesRequested  prometheus.Counter
	PrefetchTilesDownloaded prometheus.Counter
	PrefetchDuration        prometheus.Histogram
	PrefetchRetrySkipsTotal *prometheus.CounterVec
	PrefetchInFlight        prometheus.Gauge

	// Routing Metrics
	RouteBuildsTotal       *prometheus.CounterVec
	RouteBuildDuration     *prometheus.HistogramVec
	RoutingRequestsTotal   *prometheus.CounterVec
	RoutingRequestDuration prometheus.Histogram
	RouteCacheEntries      prometheus.Gauge
	PathSearchesTotal      *prometheus.CounterVec
	PathSearchDuration     prometheus.Histogram
	NavigationGraphNodes   prometheus.Gauge
	NavigationGraphEdges   prometheus.Gauge

	// System Metrics
	UptimeSeconds prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

const namespace = "geoengine"

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	// Initialize all metrics
	r.initHTTPMetrics()
	r.initTileMetrics()
	r.initPrefetchMetrics()
	r.initRoutingMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
