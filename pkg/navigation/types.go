package navigation

import "github.com/dd0wney/cluso-geoengine/pkg/geomath"

// TransportMode is how an edge is travelled
type TransportMode string

const (
	ModeWalking TransportMode = "walking"
	ModeCycling TransportMode = "cycling"
	ModeDriving TransportMode = "driving"
	ModeTransit TransportMode = "transit"
	ModeFerry   TransportMode = "ferry"
	ModeFlight  TransportMode = "flight"
)

// EdgeType describes where an edge came from
type EdgeType string

const (
	EdgeRoad    EdgeType = "road"
	EdgePath    EdgeType = "path"
	EdgeSegment EdgeType = "segment"
	EdgeDirect  EdgeType = "direct"
)

// NodeType classifies graph nodes
type NodeType string

const (
	NodePlace    NodeType = "place"
	NodeWaypoint NodeType = "waypoint"
	NodeStop     NodeType = "stop"
)

// Node is a place or waypoint in the navigation graph
type Node struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Type      NodeType `json:"type"`
}

// Point returns the node coordinate
func (n Node) Point() geomath.Point {
	return geomath.Point{Lat: n.Latitude, Lon: n.Longitude}
}

// Edge is a directed connection between two nodes. The reverse direction is
// a separate edge.
type Edge struct {
	FromNodeID    string          `json:"from_node_id"`
	ToNodeID      string          `json:"to_node_id"`
	DistanceKm    float64         `json:"distance_km"`
	TransportMode TransportMode   `json:"transport_mode"`
	EdgeType      EdgeType        `json:"edge_type"`
	RouteGeometry []geomath.Point `json:"route_geometry,omitempty"`
}

// HasGeometry reports whether the edge carries a detailed polyline
func (e Edge) HasGeometry() bool {
	return len(e.RouteGeometry) >= 2
}
