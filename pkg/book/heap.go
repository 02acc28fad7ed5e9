package book

import "github.com/lumendark/darkpool/pkg/types"

// maxPriceHeap keeps bid price levels with the highest price on top.
// Ported from the teacher's MaxPriceHeap (pkg/app/core/orderbook/heap.go),
// retyped from int64 to types.Price.
type maxPriceHeap []types.Price

func (h maxPriceHeap) Len() int            { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h maxPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxPriceHeap) Push(x interface{}) { *h = append(*h, x.(types.Price)) }
func (h *maxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h maxPriceHeap) Peek() types.Price {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}

// minPriceHeap keeps ask price levels with the lowest price on top.
type minPriceHeap []types.Price

func (h minPriceHeap) Len() int            { return len(h) }
func (h minPriceHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minPriceHeap) Push(x interface{}) { *h = append(*h, x.(types.Price)) }
func (h *minPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h minPriceHeap) Peek() types.Price {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}
