package ann

// priorityQueue implements heap.Interface over neighbours. With max set the
// farthest neighbour is on top, otherwise the nearest.
type priorityQueue struct {
	max   bool
	items []Neighbor
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	c := compareNeighbors(pq.items[i], pq.items[j])
	if pq.max {
		return c > 0
	}
	return c < 0
}

func (pq *priorityQueue) Swap(i, j int) { pq.items[i], pq.items[j] = pq.items[j], pq.items[i] }

func (pq *priorityQueue) Push(x any) {
	pq.items = append(pq.items, x.(Neighbor))
}

func (pq *priorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	pq.items = old[:n-1]
	return item
}

func (pq *priorityQueue) top() Neighbor {
	return pq.items[0]
}
