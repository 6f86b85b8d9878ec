// Package navigation holds the in-memory route graph built for a loaded trip:
// nodes are places and waypoints, edges are directed travel segments. The
// graph answers shortest-path (A*), nearest-node and off-route questions.
//
// A Graph is built once and then only read. Readers on other goroutines see
// a rebuilt graph through a Holder swap, never through in-place mutation.
package navigation

import (
	"math"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
)

// Graph is a weighted directed graph of places and waypoints
type Graph struct {
	// TripID tags the trip the graph was built from; empty for ad hoc graphs
	TripID string

	nodes    map[string]int // node id -> insertion index
	nodeList []Node
	edges    []Edge
	outgoing map[string][]int // node id -> edge indices in insertion order
}

// NewGraph creates an empty graph
func NewGraph(tripID string) *Graph {
	return &Graph{
		TripID:   tripID,
		nodes:    make(map[string]int),
		outgoing: make(map[string][]int),
	}
}

// AddNode inserts a node or replaces the node with the same ID. A replaced
// node keeps its original insertion position.
func (g *Graph) AddNode(n Node) {
	if idx, ok := g.nodes[n.ID]; ok {
		g.nodeList[idx] = n
		return
	}
	g.nodes[n.ID] = len(g.nodeList)
	g.nodeList = append(g.nodeList, n)
}

// AddEdge appends an edge. Edges may reference nodes that are not (yet) in
// the graph; lookups through such edges degrade instead of failing.
func (g *Graph) AddEdge(e Edge) {
	g.outgoing[e.FromNodeID] = append(g.outgoing[e.FromNodeID], len(g.edges))
	g.edges = append(g.edges, e)
}

// Node returns the node with the given ID
func (g *Graph) Node(id string) (Node, bool) {
	idx, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return g.nodeList[idx], true
}

// HasNode reports whether the node exists
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns all nodes in insertion order
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodeList))
	copy(out, g.nodeList)
	return out
}

// Edges returns all edges in insertion order
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

func (g *Graph) NodeCount() int { return len(g.nodeList) }
func (g *Graph) EdgeCount() int { return len(g.edges) }

// GetEdgesFromNode returns the edges leaving a node, in insertion order
func (g *Graph) GetEdgesFromNode(id string) []Edge {
	indices := g.outgoing[id]
	out := make([]Edge, 0, len(indices))
	for _, i := range indices {
		out = append(out, g.edges[i])
	}
	return out
}

// GetEdgeBetween returns the first edge inserted from -> to. When several
// transport modes connect the same pair, use GetEdgeBetweenByMode.
func (g *Graph) GetEdgeBetween(from, to string) (Edge, bool) {
	for _, i := range g.outgoing[from] {
		if g.edges[i].ToNodeID == to {
			return g.edges[i], true
		}
	}
	return Edge{}, false
}

// GetEdgeBetweenByMode returns the first edge from -> to with the given mode
func (g *Graph) GetEdgeBetweenByMode(from, to string, mode TransportMode) (Edge, bool) {
	for _, i := range g.outgoing[from] {
		e := g.edges[i]
		if e.ToNodeID == to && e.TransportMode == mode {
			return e, true
		}
	}
	return Edge{}, false
}

// HasEdgeBetween reports whether a directed edge from -> to exists
func (g *Graph) HasEdgeBetween(from, to string) bool {
	_, ok := g.GetEdgeBetween(from, to)
	return ok
}

// FindNearestNode returns the node closest to the coordinate, or nil on an
// empty graph. Equal distances keep the node inserted first.
func (g *Graph) FindNearestNode(lat, lon float64) *Node {
	n, _, ok := g.nearest(lat, lon)
	if !ok {
		return nil
	}
	return &n
}

func (g *Graph) nearest(lat, lon float64) (Node, float64, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, n := range g.nodeList {
		d := geomath.Haversine(lat, lon, n.Latitude, n.Longitude)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Node{}, 0, false
	}
	return g.nodeList[best], bestDist, true
}

// PathDistanceKm sums the first-match edge cost along a node path. It
// returns false if any consecutive pair has no edge.
func (g *Graph) PathDistanceKm(path []string) (float64, bool) {
	total := 0.0
	for i := 0; i+1 < len(path); i++ {
		e, ok := g.GetEdgeBetween(path[i], path[i+1])
		if !ok {
			return 0, false
		}
		total += e.DistanceKm
	}
	return total, true
}
