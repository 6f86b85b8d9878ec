package navigation

import "sync/atomic"

// Holder publishes the current graph to concurrent readers. A rebuild
// constructs a new Graph and swaps it in whole.
type Holder struct {
	current atomic.Pointer[Graph]
}

// NewHolder creates a holder with an initial graph, which may be nil
func NewHolder(g *Graph) *Holder {
	h := &Holder{}
	if g != nil {
		h.current.Store(g)
	}
	return h
}

// Load returns the current graph, or nil when no trip is loaded
func (h *Holder) Load() *Graph {
	return h.current.Load()
}

// Swap installs g and returns the previous graph
func (h *Holder) Swap(g *Graph) *Graph {
	return h.current.Swap(g)
}

// Clear drops the current graph (trip unload)
func (h *Holder) Clear() {
	h.current.Store(nil)
}
