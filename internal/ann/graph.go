package ann

import "fmt"

// Graph is the serialisable form of an HNSW index.
type Graph struct {
	Dimension int          `msgpack:"dim"`
	Options   Options      `msgpack:"opts"`
	Vectors   [][]float32  `msgpack:"vecs"`
	Levels    []int        `msgpack:"levels"`
	Links     [][][]uint32 `msgpack:"links"`
	Entry     uint32       `msgpack:"entry"`
	MaxLevel  int          `msgpack:"max_level"`
}

// Export snapshots the graph. The returned value shares vector storage with h.
func (h *HNSW) Export() *Graph {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g := &Graph{
		Dimension: h.dimension,
		Options:   h.opts,
		Vectors:   make([][]float32, len(h.nodes)),
		Levels:    make([]int, len(h.nodes)),
		Links:     make([][][]uint32, len(h.nodes)),
		Entry:     h.entry,
		MaxLevel:  h.maxLevel,
	}
	for i, n := range h.nodes {
		g.Vectors[i] = n.vector
		g.Levels[i] = n.level
		g.Links[i] = n.links
	}
	return g
}

// FromGraph restores an HNSW index exported with Export.
func FromGraph(g *Graph) (*HNSW, error) {
	if len(g.Vectors) != len(g.Levels) || len(g.Vectors) != len(g.Links) {
		return nil, fmt.Errorf("corrupt graph: %d vectors, %d levels, %d link sets",
			len(g.Vectors), len(g.Levels), len(g.Links))
	}
	h := NewHNSW(g.Dimension, func(o *Options) { *o = g.Options })
	h.nodes = make([]*node, len(g.Vectors))
	for i := range g.Vectors {
		if len(g.Vectors[i]) != g.Dimension {
			return nil, &ErrDimensionMismatch{Expected: g.Dimension, Actual: len(g.Vectors[i])}
		}
		h.nodes[i] = &node{vector: g.Vectors[i], level: g.Levels[i], links: g.Links[i]}
	}
	if len(h.nodes) > 0 && int(g.Entry) >= len(h.nodes) {
		return nil, fmt.Errorf("corrupt graph: entry %d out of range", g.Entry)
	}
	h.entry = g.Entry
	h.maxLevel = g.MaxLevel
	return h, nil
}
