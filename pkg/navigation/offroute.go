package navigation

import (
	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
)

const (
	// SegmentRoutingRangeMeters is how close a fix must be to a graph node
	// for graph routing to be used instead of an external route.
	SegmentRoutingRangeMeters = 50.0

	// OffRouteThresholdMeters is the deviation beyond which a fix is off-route
	OffRouteThresholdMeters = 100.0

	// distanceEpsilon absorbs float noise at the threshold comparisons
	distanceEpsilon = 1e-6
)

// IsWithinSegmentRoutingRange reports whether the nearest node is at most
// SegmentRoutingRangeMeters away. It is false on an empty graph.
func (g *Graph) IsWithinSegmentRoutingRange(lat, lon float64) bool {
	_, d, ok := g.nearest(lat, lon)
	if !ok {
		return false
	}
	return d <= SegmentRoutingRangeMeters+distanceEpsilon
}

// IsOffRoute reports whether the coordinate is more than
// OffRouteThresholdMeters from the edge. Edges with detailed geometry are
// measured against every sub-segment; otherwise the straight segment between
// the endpoint nodes is used. If an endpoint node is missing the position
// cannot be judged and the fix is treated as on-route.
func (g *Graph) IsOffRoute(lat, lon float64, edge Edge) bool {
	d, ok := g.DistanceToEdge(lat, lon, edge)
	if !ok {
		return false
	}
	return d > OffRouteThresholdMeters+distanceEpsilon
}

// DistanceToEdge returns the distance in meters from the coordinate to the
// edge's geometry, or false when the edge cannot be resolved.
func (g *Graph) DistanceToEdge(lat, lon float64, edge Edge) (float64, bool) {
	p := geomath.Point{Lat: lat, Lon: lon}
	if edge.HasGeometry() {
		return geomath.PointToPolylineDistance(p, edge.RouteGeometry), true
	}

	from, okFrom := g.Node(edge.FromNodeID)
	to, okTo := g.Node(edge.ToNodeID)
	if !okFrom || !okTo {
		return 0, false
	}
	return geomath.PointToSegmentDistance(p, from.Point(), to.Point()), true
}

// EdgeGeometry returns the polyline an edge is drawn with: its detailed
// geometry, or the straight line between its endpoints. It returns nil when
// the edge has no geometry and an endpoint is missing.
func (g *Graph) EdgeGeometry(edge Edge) []geomath.Point {
	if edge.HasGeometry() {
		out := make([]geomath.Point, len(edge.RouteGeometry))
		copy(out, edge.RouteGeometry)
		return out
	}
	from, okFrom := g.Node(edge.FromNodeID)
	to, okTo := g.Node(edge.ToNodeID)
	if !okFrom || !okTo {
		return nil
	}
	return []geomath.Point{from.Point(), to.Point()}
}
