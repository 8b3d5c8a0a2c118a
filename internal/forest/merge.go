package forest

import "container/heap"

// Merge combines per-shard result lists into the global top limit ordered by
// ascending distance, then document id, feature index and shard id. Rank and
// ShardID of every hit are preserved.
func Merge(shardResults [][]Neighbor, limit int) []Neighbor {
	if limit <= 0 {
		return nil
	}
	h := &neighborHeap{}
	heap.Init(h)
	for _, results := range shardResults {
		for _, n := range results {
			heap.Push(h, n)
			if h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]Neighbor, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Neighbor)
	}
	return result
}

// neighborHeap keeps the worst retained hit on top.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int { return len(h) }

func (h neighborHeap) Less(i, j int) bool {
	return compareNeighbors(h[i], h[j]) > 0
}

func (h neighborHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *neighborHeap) Push(x interface{}) {
	*h = append(*h, x.(Neighbor))
}

func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
