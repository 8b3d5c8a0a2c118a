package ann

import (
	"container/heap"
)

// Flat is an exhaustive index. Results are exact, which makes it the
// reference the HNSW graph and the sharded multi-index are tested against.
type Flat struct {
	dimension int
	vectors   [][]float32
}

func NewFlat(dimension int) *Flat {
	return &Flat{dimension: dimension}
}

// Add appends a vector and returns its ID. The slice is retained, not copied.
func (f *Flat) Add(v []float32) (uint32, error) {
	if len(v) != f.dimension {
		return 0, &ErrDimensionMismatch{Expected: f.dimension, Actual: len(v)}
	}
	f.vectors = append(f.vectors, v)
	return uint32(len(f.vectors) - 1), nil
}

func (f *Flat) Search(q []float32, k int) ([]Neighbor, error) {
	if len(q) != f.dimension {
		return nil, &ErrDimensionMismatch{Expected: f.dimension, Actual: len(q)}
	}
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	top := &priorityQueue{max: true}
	for id, v := range f.vectors {
		n := Neighbor{ID: uint32(id), Distance: SquaredL2(q, v)}
		if top.Len() < k {
			heap.Push(top, n)
			continue
		}
		if compareNeighbors(n, top.top()) < 0 {
			heap.Pop(top)
			heap.Push(top, n)
		}
	}
	result := top.items
	sortNeighbors(result)
	return result, nil
}

func (f *Flat) Vector(id uint32) []float32 { return f.vectors[id] }

func (f *Flat) Len() int { return len(f.vectors) }

func (f *Flat) Dimension() int { return f.dimension }
