// Package ann provides the nearest-neighbour structures used for word
// assignment and for the per-shard descriptor forests: an HNSW graph for
// approximate search and a flat index for exhaustive search. Distances are
// squared L2 on float32 vectors.
package ann

import (
	"cmp"
	"fmt"
	"slices"
)

// Neighbor is a single search hit. ID is the insertion ordinal of the vector
// in its index.
type Neighbor struct {
	ID       uint32
	Distance float32
}

// Index is a read-only nearest-neighbour structure. Search returns at most k
// neighbours ordered by ascending distance, ties broken by ascending ID.
type Index interface {
	Search(q []float32, k int) ([]Neighbor, error)
	Len() int
	Dimension() int
}

// ErrDimensionMismatch reports a vector whose length differs from the index.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// SquaredL2 returns the squared euclidean distance between a and b, which
// must have equal length.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func compareNeighbors(a, b Neighbor) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func sortNeighbors(ns []Neighbor) {
	slices.SortFunc(ns, compareNeighbors)
}
