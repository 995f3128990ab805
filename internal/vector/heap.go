package vector

import (
	"container/heap"
	"math"
)

type scored struct {
	id    int64
	score float64
}

// less reports whether a ranks below b: lower score, or equal score and a
// later id. NaN ranks below every number.
func less(a, b scored) bool {
	if an, bn := math.IsNaN(a.score), math.IsNaN(b.score); an || bn {
		if an != bn {
			return an
		}
		return a.id > b.id
	}
	if a.score != b.score {
		return a.score < b.score
	}
	return a.id > b.id
}

// resultHeap is a min-heap keyed by rank, so the root is the weakest kept hit.
type resultHeap []scored

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// offer keeps the best k candidates seen so far.
func (h *resultHeap) offer(c scored, k int) {
	if h.Len() < k {
		heap.Push(h, c)
		return
	}
	if less((*h)[0], c) {
		(*h)[0] = c
		heap.Fix(h, 0)
	}
}

// drain empties the heap and returns its contents best first.
func (h *resultHeap) drain() []scored {
	out := make([]scored, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(scored)
	}
	return out
}
