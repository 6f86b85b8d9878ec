package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRoutingMetrics() {
	r.RouteBuildsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoengine_route_builds_total",
			Help: "Routes built by the source that served them",
		},
		[]string{"source"}, // graph, cache, network, direct
	)

	r.RouteBuildDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoengine_route_build_duration_seconds",
			Help:    "Route build latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"source"},
	)

	r.RoutingRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoengine_routing_requests_total",
			Help: "Requests sent to the external routing service",
		},
		[]string{"status"},
	)

	r.RoutingRequestDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geoengine_routing_request_duration_seconds",
			Help:    "External routing request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	r.RouteCacheEntries = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "geoengine_route_cache_entries",
			Help: "Routes held in the session route cache",
		},
	)

	r.PathSearchesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoengine_path_searches_total",
			Help: "A* searches over the navigation graph",
		},
		[]string{"result"}, // found, not_found
	)

	r.PathSearchDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geoengine_path_search_duration_seconds",
			Help:    "A* search duration in seconds",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		},
	)

	r.NavigationGraphNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "geoengine_navigation_graph_nodes",
			Help: "Nodes in the loaded navigation graph",
		},
	)

	r.NavigationGraphEdges = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "geoengine_navigation_graph_edges",
			Help: "Edges in the loaded navigation graph",
		},
	)
}
