package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tile responses are small and mostly served from disk, so latency buckets
// start well under a millisecond
var (
	httpLatencyBuckets = prometheus.ExponentialBuckets(0.0005, 4, 8)
	httpSizeBuckets    = prometheus.ExponentialBuckets(256, 4, 9)
)

func (r *Registry) initHTTPMetrics() {
	f := promauto.With(r.registry)

	r.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route template and status",
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   httpLatencyBuckets,
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestsInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served",
		},
	)

	r.HTTPResponseSizeBytes = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response body size in bytes",
			Buckets:   httpSizeBuckets,
		},
		[]string{"method", "path"},
	)

	r.HTTPTileResponses = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "tile_responses_total",
			Help:      "Tiles served over HTTP by the tier that answered",
		},
		[]string{"source"},
	)
}
