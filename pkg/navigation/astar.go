package navigation

import (
	"container/heap"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
)

// FindPath returns the cheapest node path from start to end using A*, with
// edge cost DistanceKm and the haversine distance to end as heuristic.
//
// It returns an empty slice when either node is missing or end is
// unreachable, and [start] when start == end. Frontier ties are broken by
// node insertion order and parents are only replaced by strictly cheaper
// routes, so the result is reproducible for a given graph.
func (g *Graph) FindPath(start, end string) []string {
	startIdx, okStart := g.nodes[start]
	_, okEnd := g.nodes[end]
	if !okStart || !okEnd {
		return []string{}
	}
	if start == end {
		return []string{start}
	}

	goal := g.nodeList[g.nodes[end]]
	heuristic := func(n Node) float64 {
		return geomath.HaversineKm(n.Latitude, n.Longitude, goal.Latitude, goal.Longitude)
	}

	gScore := map[string]float64{start: 0}
	cameFrom := make(map[string]string)
	closed := make(map[string]bool)

	open := &frontier{}
	heap.Push(open, &frontierItem{
		nodeID: start,
		order:  startIdx,
		g:      0,
		f:      heuristic(g.nodeList[startIdx]),
	})

	for open.Len() > 0 {
		item := heap.Pop(open).(*frontierItem)
		current := item.nodeID

		if closed[current] {
			continue
		}
		if current == end {
			return rebuildPath(cameFrom, start, end)
		}
		closed[current] = true

		for _, ei := range g.outgoing[current] {
			edge := g.edges[ei]
			nextIdx, ok := g.nodes[edge.ToNodeID]
			if !ok || closed[edge.ToNodeID] {
				// dangling reference or already settled
				continue
			}

			cost := edge.DistanceKm
			if cost < 0 {
				cost = 0
			}
			tentative := gScore[current] + cost

			if old, seen := gScore[edge.ToNodeID]; !seen || tentative < old {
				gScore[edge.ToNodeID] = tentative
				cameFrom[edge.ToNodeID] = current
				heap.Push(open, &frontierItem{
					nodeID: edge.ToNodeID,
					order:  nextIdx,
					g:      tentative,
					f:      tentative + heuristic(g.nodeList[nextIdx]),
				})
			}
		}
	}

	return []string{}
}

func rebuildPath(cameFrom map[string]string, start, end string) []string {
	path := []string{end}
	for node := end; node != start; {
		node = cameFrom[node]
		path = append(path, node)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type frontierItem struct {
	nodeID string
	order  int
	g      float64
	f      float64
}

// frontier is a min-heap on f, then node insertion order
type frontier []*frontierItem

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].f != f[j].f {
		return f[i].f < f[j].f
	}
	return f[i].order < f[j].order
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) {
	*f = append(*f, x.(*frontierItem))
}

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return item
}
