// Package utils provides panic recovery and small numeric helpers shared by
// the decoding and evaluation code.
package utils

import (
	"container/heap"
	"math"
)

// ArgMax returns the index of the largest value, the first one on ties.
// It returns -1 for an empty slice. NaN values are never selected.
func ArgMax(v []float64) int {
	best, bestVal := -1, math.Inf(-1)
	for i, x := range v {
		if x > bestVal || (best < 0 && !math.IsNaN(x)) {
			best, bestVal = i, x
		}
	}
	return best
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// ScoredItem represents an item with a score for top-K selection.
type ScoredItem[T any] struct {
	Item  T
	Score float64
}

// minHeap keeps the smallest retained score at the root. Ties are broken
// by arrival order so that earlier items win.
type minHeap[T any] []scoredEntry[T]

type scoredEntry[T any] struct {
	ScoredItem[T]
	seq int
}

func (h minHeap[T]) Len() int { return len(h) }
func (h minHeap[T]) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].seq > h[j].seq
}
func (h minHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *minHeap[T]) Push(x any) {
	*h = append(*h, x.(scoredEntry[T]))
}

func (h *minHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// TopKByScore returns the top K items with the highest scores using a heap,
// in descending score order. Equal scores keep their input order.
func TopKByScore[T any](items []ScoredItem[T], k int) []ScoredItem[T] {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	if k > len(items) {
		k = len(items)
	}

	h := make(minHeap[T], 0, k)
	for i, item := range items {
		e := scoredEntry[T]{ScoredItem: item, seq: i}
		if h.Len() < k {
			heap.Push(&h, e)
		} else if item.Score > h[0].Score {
			heap.Pop(&h)
			heap.Push(&h, e)
		}
	}

	result := make([]ScoredItem[T], h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(scoredEntry[T]).ScoredItem
	}
	return result
}

// TopKIndicesByScore returns the indices of the top K scores in
// descending order.
func TopKIndicesByScore(scores []float64, k int) []int {
	if k <= 0 || len(scores) == 0 {
		return nil
	}
	items := make([]ScoredItem[int], len(scores))
	for i, score := range scores {
		items[i] = ScoredItem[int]{Item: i, Score: score}
	}

	topK := TopKByScore(items, k)
	indices := make([]int, len(topK))
	for i, item := range topK {
		indices[i] = item.Item
	}
	return indices
}
