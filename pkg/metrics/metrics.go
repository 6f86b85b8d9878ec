package metrics

import (
	"time"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordTileResponse counts a tile served over HTTP by its source tier
func (r *Registry) RecordTileResponse(source string) {
	r.HTTPTileResponses.WithLabelValues(source).Inc()
}

// RecordTileLookup records which tier resolved a tile request
func (r *Registry) RecordTileLookup(result string) {
	r.TileLookupsTotal.WithLabelValues(result).Inc()
}

// RecordTileDownload records one origin fetch
func (r *Registry) RecordTileDownload(origin, status string, duration time.Duration, bytes int) {
	r.TileDownloadsTotal.WithLabelValues(origin, status).Inc()
	r.TileDownloadDuration.WithLabelValues(origin).Observe(duration.Seconds())
	if bytes > 0 {
		r.TileDownloadBytes.Add(float64(bytes))
	}
}

// SetTileCacheUsage publishes the current size of one tier
func (r *Registry) SetTileCacheUsage(tier string, tiles int, bytes int64) {
	r.TileCacheTiles.WithLabelValues(tier).Set(float64(tiles))
	r.TileCacheBytes.WithLabelValues(tier).Set(float64(bytes))
}

// RecordEviction records one eviction pass
func (r *Registry) RecordEviction(tiles int, bytes int64) {
	if tiles == 0 {
		return
	}
	r.TileEvictionsTotal.Add(float64(tiles))
	r.TileEvictedBytesTotal.Add(float64(bytes))
}

// RecordPrefetch records a finished prefetch run
func (r *Registry) RecordPrefetch(status string, requested, downloaded int, duration time.Duration) {
	r.PrefetchRunsTotal.WithLabelValues(status).Inc()
	r.PrefetchTilesRequested.Add(float64(requested))
	r.PrefetchTilesDownloaded.Add(float64(downloaded))
	r.PrefetchDuration.Observe(duration.Seconds())
}

// RecordRetrySkip records why a background retry tick did nothing
func (r *Registry) RecordRetrySkip(reason string) {
	r.PrefetchRetrySkipsTotal.WithLabelValues(reason).Inc()
}

// SetPrefetchInFlight toggles the in-flight gauge
func (r *Registry) SetPrefetchInFlight(active bool) {
	if active {
		r.PrefetchInFlight.Set(1)
	} else {
		r.PrefetchInFlight.Set(0)
	}
}

// RecordRouteBuild records a route served by source
func (r *Registry) RecordRouteBuild(source string, duration time.Duration) {
	r.RouteBuildsTotal.WithLabelValues(source).Inc()
	r.RouteBuildDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordRoutingRequest records one call to the external routing service
func (r *Registry) RecordRoutingRequest(status string, duration time.Duration) {
	r.RoutingRequestsTotal.WithLabelValues(status).Inc()
	r.RoutingRequestDuration.Observe(duration.Seconds())
}

// RecordPathSearch records one A* search
func (r *Registry) RecordPathSearch(found bool, duration time.Duration) {
	result := "not_found"
	if found {
		result = "found"
	}
	r.PathSearchesTotal.WithLabelValues(result).Inc()
	r.PathSearchDuration.Observe(duration.Seconds())
}

// SetNavigationGraph publishes the size of the loaded graph
func (r *Registry) SetNavigationGraph(nodes, edges int) {
	r.NavigationGraphNodes.Set(float64(nodes))
	r.NavigationGraphEdges.Set(float64(edges))
}

// UpdateSystemMetrics refreshes the engine uptime. Runtime and process
// statistics are collected on scrape.
func (r *Registry) UpdateSystemMetrics(startedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UptimeSeconds.Set(time.Since(startedAt).Seconds())
}
