package navigation

import "math"

// TrackStatus is the result of matching a fix against the active path
type TrackStatus struct {
	// Known is false when no edge of the path could be resolved; OffRoute
	// is then always false.
	Known       bool
	OffRoute    bool
	EdgeIndex   int
	Edge        Edge
	DeviationM  float64
	RemainingKm float64
}

// Tracker matches location fixes against a node path in a graph
type Tracker struct {
	graph *Graph
	edges []Edge
}

// NewTracker resolves the edges of path. Pairs without an edge are skipped.
func NewTracker(g *Graph, path []string) *Tracker {
	t := &Tracker{graph: g}
	for i := 0; i+1 < len(path); i++ {
		if e, ok := g.GetEdgeBetween(path[i], path[i+1]); ok {
			t.edges = append(t.edges, e)
		}
	}
	return t
}

// Check finds the path edge nearest the fix and reports whether the fix is
// off-route relative to it, plus the distance left from that edge onwards.
func (t *Tracker) Check(lat, lon float64) TrackStatus {
	status := TrackStatus{EdgeIndex: -1}
	best := math.Inf(1)

	for i, e := range t.edges {
		d, ok := t.graph.DistanceToEdge(lat, lon, e)
		if !ok {
			continue
		}
		if d < best {
			best = d
			status.Known = true
			status.EdgeIndex = i
			status.Edge = e
		}
	}
	if !status.Known {
		return status
	}

	status.DeviationM = best
	status.OffRoute = best > OffRouteThresholdMeters+distanceEpsilon
	for _, e := range t.edges[status.EdgeIndex:] {
		status.RemainingKm += e.DistanceKm
	}
	return status
}
