package navigation

import (
	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/trips"
)

// BuildFromTrip builds a graph from trip metadata. Nodes are added before
// edges so edge distances missing from the metadata can be derived from the
// geometry or, failing that, the straight line between the endpoints.
func BuildFromTrip(tg *trips.TripGraph) *Graph {
	if tg == nil {
		return NewGraph("")
	}

	g := NewGraph(tg.TripID)
	for _, n := range tg.Nodes {
		g.AddNode(Node{
			ID:        n.ID,
			Name:      n.Name,
			Latitude:  n.Lat,
			Longitude: n.Lon,
			Type:      nodeType(n.Type),
		})
	}

	for _, e := range tg.Edges {
		edge := Edge{
			FromNodeID:    e.From,
			ToNodeID:      e.To,
			DistanceKm:    e.DistanceKm,
			TransportMode: transportMode(e.Mode),
			EdgeType:      edgeType(e.Type),
			RouteGeometry: e.Geometry,
		}
		if edge.DistanceKm <= 0 {
			edge.DistanceKm = g.derivedDistanceKm(edge)
		}
		g.AddEdge(edge)
	}
	return g
}

func (g *Graph) derivedDistanceKm(e Edge) float64 {
	if e.HasGeometry() {
		return geomath.PolylineLength(e.RouteGeometry) / 1000
	}
	from, okFrom := g.Node(e.FromNodeID)
	to, okTo := g.Node(e.ToNodeID)
	if !okFrom || !okTo {
		return 0
	}
	return geomath.HaversineKm(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
}

func transportMode(s string) TransportMode {
	switch TransportMode(s) {
	case ModeWalking, ModeCycling, ModeDriving, ModeTransit, ModeFerry, ModeFlight:
		return TransportMode(s)
	case "walk", "foot":
		return ModeWalking
	case "bike", "bicycle":
		return ModeCycling
	case "car", "drive":
		return ModeDriving
	case "bus", "train", "rail", "tram":
		return ModeTransit
	case "plane", "air":
		return ModeFlight
	case "boat":
		return ModeFerry
	default:
		return ModeDriving
	}
}

func edgeType(s string) EdgeType {
	if s == "" {
		return EdgeSegment
	}
	return EdgeType(s)
}

func nodeType(s string) NodeType {
	if s == "" {
		return NodePlace
	}
	return NodeType(s)
}
