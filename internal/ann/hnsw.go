package ann

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Options configures an HNSW graph.
type Options struct {
	// M is the number of links established for every new element. Layer 0
	// keeps up to 2*M.
	M int

	// EFConstruction is the candidate list size used while inserting.
	EFConstruction int

	// EFSearch is the candidate list size used while searching. Searches use
	// max(EFSearch, k).
	EFSearch int

	// Heuristic selects the diversity heuristic when pruning links instead of
	// keeping the M closest.
	Heuristic bool

	// Seed drives level generation so that equal insert sequences produce
	// equal graphs.
	Seed int64
}

var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EFSearch:       64,
	Heuristic:      true,
	Seed:           42,
}

type node struct {
	vector []float32
	level  int
	links  [][]uint32
}

// HNSW is a hierarchical navigable small world graph.
type HNSW struct {
	dimension int
	opts      Options
	mmax      int
	mmax0     int
	ml        float64
	rng       *rand.Rand

	mu       sync.RWMutex
	nodes    []*node
	entry    uint32
	maxLevel int
}

// NewHNSW creates an empty graph for vectors of the given dimension.
func NewHNSW(dimension int, optFns ...func(o *Options)) *HNSW {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 2 {
		opts.M = 2
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EFSearch < 1 {
		opts.EFSearch = 1
	}
	return &HNSW{
		dimension: dimension,
		opts:      opts,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}
}

// Insert adds a copy of v and returns its ID.
func (h *HNSW) Insert(v []float32) (uint32, error) {
	if len(v) != h.dimension {
		return 0, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(v)}
	}
	vec := make([]float32, len(v))
	copy(vec, v)

	h.mu.Lock()
	defer h.mu.Unlock()

	id := uint32(len(h.nodes))
	level := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))
	n := &node{vector: vec, level: level, links: make([][]uint32, level+1)}
	h.nodes = append(h.nodes, n)

	if id == 0 {
		h.entry = 0
		h.maxLevel = level
		return id, nil
	}

	ep := Neighbor{ID: h.entry, Distance: SquaredL2(vec, h.nodes[h.entry].vector)}
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedy(vec, ep, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, ep, h.opts.EFConstruction, l)
		selected := h.selectNeighbors(candidates, h.mmax)
		n.links[l] = make([]uint32, len(selected))
		for i, s := range selected {
			n.links[l][i] = s.ID
		}
		for _, s := range selected {
			h.link(s.ID, id, l)
		}
		ep = candidates[0]
	}

	if level > h.maxLevel {
		h.entry = id
		h.maxLevel = level
	}
	return id, nil
}

// Search returns the k approximate nearest neighbours of q.
func (h *HNSW) Search(q []float32, k int) ([]Neighbor, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	if k <= 0 || len(h.nodes) == 0 {
		return nil, nil
	}
	ep := Neighbor{ID: h.entry, Distance: SquaredL2(q, h.nodes[h.entry].vector)}
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedy(q, ep, l)
	}
	result := h.searchLayer(q, ep, max(h.opts.EFSearch, k), 0)
	if len(result) > k {
		result = result[:k]
	}
	return result, nil
}

func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

func (h *HNSW) Dimension() int { return h.dimension }

// greedy walks layer l towards q until no link improves the distance.
func (h *HNSW) greedy(q []float32, ep Neighbor, l int) Neighbor {
	for changed := true; changed; {
		changed = false
		cur := h.nodes[ep.ID]
		if l >= len(cur.links) {
			return ep
		}
		for _, id := range cur.links[l] {
			d := SquaredL2(q, h.nodes[id].vector)
			if d < ep.Distance || (d == ep.Distance && id < ep.ID) {
				ep = Neighbor{ID: id, Distance: d}
				changed = true
			}
		}
	}
	return ep
}

// searchLayer returns up to ef neighbours of q on layer l sorted by
// ascending distance.
func (h *HNSW) searchLayer(q []float32, ep Neighbor, ef int, l int) []Neighbor {
	var visited bitset.BitSet
	visited.Set(uint(ep.ID))

	candidates := &priorityQueue{}
	heap.Push(candidates, ep)
	top := &priorityQueue{max: true}
	heap.Push(top, ep)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(Neighbor)
		if c.Distance > top.top().Distance {
			break
		}
		n := h.nodes[c.ID]
		if l >= len(n.links) {
			continue
		}
		for _, id := range n.links[l] {
			if visited.Test(uint(id)) {
				continue
			}
			visited.Set(uint(id))
			item := Neighbor{ID: id, Distance: SquaredL2(q, h.nodes[id].vector)}
			if top.Len() < ef {
				heap.Push(top, item)
				heap.Push(candidates, item)
			} else if compareNeighbors(item, top.top()) < 0 {
				heap.Pop(top)
				heap.Push(top, item)
				heap.Push(candidates, item)
			}
		}
	}
	result := top.items
	sortNeighbors(result)
	return result
}

// selectNeighbors picks at most m of the sorted candidates. With the
// heuristic a candidate closer to an already selected neighbour than to the
// base is skipped, then skipped candidates fill any remaining slots.
func (h *HNSW) selectNeighbors(candidates []Neighbor, m int) []Neighbor {
	if len(candidates) <= m {
		return candidates
	}
	if !h.opts.Heuristic {
		return candidates[:m]
	}
	selected := make([]Neighbor, 0, m)
	skipped := make([]Neighbor, 0, len(candidates))
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if SquaredL2(h.nodes[s.ID].vector, h.nodes[c.ID].vector) < c.Distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			skipped = append(skipped, c)
		}
	}
	for i := 0; len(selected) < m && i < len(skipped); i++ {
		selected = append(selected, skipped[i])
	}
	return selected
}

// link adds a directed edge from -> to on layer l, pruning from's links when
// they exceed the layer limit.
func (h *HNSW) link(from, to uint32, l int) {
	limit := h.mmax
	if l == 0 {
		limit = h.mmax0
	}
	n := h.nodes[from]
	n.links[l] = append(n.links[l], to)
	if len(n.links[l]) <= limit {
		return
	}
	candidates := make([]Neighbor, len(n.links[l]))
	for i, id := range n.links[l] {
		candidates[i] = Neighbor{ID: id, Distance: SquaredL2(n.vector, h.nodes[id].vector)}
	}
	sortNeighbors(candidates)
	selected := h.selectNeighbors(candidates, limit)
	links := make([]uint32, len(selected))
	for i, s := range selected {
		links[i] = s.ID
	}
	n.links[l] = links
}
