// Package book implements the two price-indexed, time-ordered order
// queues (bids, asks) described in spec.md §4.2: heap-based best-price
// tracking over per-price FIFO queues, with O(1) lookup by order_id.
// Removal (cancel or fill) scans the order's price level and the side's
// heap linearly; it is not O(1).
// Grounded on pkg/app/core/orderbook/orderbook.go from the teacher, whose
// maker-fills-at-resting-price crossing loop already implements the
// spec's price-improvement rule; here the crossing walk itself is pulled
// out into pkg/matching and this package is left with pure book state:
// insert, remove, best, and iterate_matchable.
package book

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/lumendark/darkpool/pkg/types"
)

// OrderBook holds resting orders for one side pair (the venue trades a
// single fixed A/B pair, so there is exactly one OrderBook per venue).
type OrderBook struct {
	mu sync.RWMutex

	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	bids map[types.Price][]*Order
	asks map[types.Price][]*Order

	byID map[uint64]*Order // order_id -> Order, for O(1) lookup
	seq  uint64            // monotonic created_seq counter
	idc  uint64            // monotonic order_id counter
}

// New creates an empty order book.
func New() *OrderBook {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)
	return &OrderBook{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[types.Price][]*Order),
		asks:    make(map[types.Price][]*Order),
		byID:    make(map[uint64]*Order),
	}
}

func (b *OrderBook) levels(side types.Side) map[types.Price][]*Order {
	if side == types.Buy {
		return b.bids
	}
	return b.asks
}

// NextOrderID allocates the next monotonic order_id.
func (b *OrderBook) NextOrderID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idc++
	return b.idc
}

// Insert appends the order to the queue for its (side, price) and assigns
// its created_seq from the book's monotonic counter.
func (b *OrderBook) Insert(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	o.CreatedSeq = b.seq

	levels := b.levels(o.Side)
	if len(levels[o.Price]) == 0 {
		if o.Side == types.Buy {
			heap.Push(b.bidHeap, o.Price)
		} else {
			heap.Push(b.askHeap, o.Price)
		}
	}
	levels[o.Price] = append(levels[o.Price], o)
	b.byID[o.ID] = o
}

// Restore re-inserts a previously persisted order, preserving its
// CreatedSeq and advancing the book's id/seq counters past it so newly
// placed orders never collide with restored ones. Used only at startup
// when replaying pkg/storage.Snapshotter state.
func (b *OrderBook) Restore(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.levels(o.Side)
	if len(levels[o.Price]) == 0 {
		if o.Side == types.Buy {
			heap.Push(b.bidHeap, o.Price)
		} else {
			heap.Push(b.askHeap, o.Price)
		}
	}
	levels[o.Price] = append(levels[o.Price], o)
	b.byID[o.ID] = o

	if o.CreatedSeq > b.seq {
		b.seq = o.CreatedSeq
	}
	if o.ID > b.idc {
		b.idc = o.ID
	}
}

// Remove deletes the order from its side's queue. Called on full fill and
// on cancel. Returns false if the order was not resting.
func (b *OrderBook) Remove(orderID uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(orderID)
}

func (b *OrderBook) removeLocked(orderID uint64) bool {
	o, ok := b.byID[orderID]
	if !ok {
		return false
	}
	levels := b.levels(o.Side)
	arr := levels[o.Price]
	for i, cur := range arr {
		if cur.ID == orderID {
			levels[o.Price] = append(arr[:i:i], arr[i+1:]...)
			if len(levels[o.Price]) == 0 {
				delete(levels, o.Price)
				b.removeLevelFromHeap(o.Side, o.Price)
			}
			delete(b.byID, orderID)
			return true
		}
	}
	return false
}

func (b *OrderBook) removeLevelFromHeap(side types.Side, price types.Price) {
	if side == types.Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i] == price {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// Get returns the order for an order_id, or (nil, false) if not resting.
func (b *OrderBook) Get(orderID uint64) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.byID[orderID]
	return o, ok
}

// Best returns the best (price, head order) on a side without removing it.
func (b *OrderBook) Best(side types.Side) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.bestPriceLocked(side)
	if !ok {
		return nil, false
	}
	level := b.levels(side)[price]
	if len(level) == 0 {
		return nil, false
	}
	return level[0], true
}

func (b *OrderBook) bestPriceLocked(side types.Side) (types.Price, bool) {
	if side == types.Buy {
		if b.bidHeap.Len() == 0 {
			return 0, false
		}
		return b.bidHeap.Peek(), true
	}
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// Crosses reports whether a resting price on side crosses an incoming
// limit price: asks at or below the incoming buy's limit, bids at or
// above the incoming sell's limit.
func crosses(restingSide types.Side, restingPrice, limit types.Price) bool {
	if restingSide == types.Sell {
		return restingPrice <= limit
	}
	return restingPrice >= limit
}

// Matchable returns, in (best-price, earliest-seq) order, every resting
// order on side whose price crosses limitPrice. It is a point-in-time
// snapshot of the *pointers* held on the book (spec.md's
// "iterate_matchable(side, limit_price) → stream<Order>"): the matching
// engine mutates RemainingQty on these pointers directly and calls
// SweepFilled afterward to remove any that hit zero, keeping the book
// itself free of matching logic.
func (b *OrderBook) Matchable(side types.Side, limitPrice types.Price) []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var prices []types.Price
	levels := b.levels(side)
	for p := range levels {
		if crosses(side, p, limitPrice) {
			prices = append(prices, p)
		}
	}
	if side == types.Buy {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}

	var out []*Order
	for _, p := range prices {
		out = append(out, levels[p]...)
	}
	return out
}

// SweepFilled removes every passed order that is fully filled
// (RemainingQty == 0) from the book. Called by pkg/matching after walking
// the Matchable snapshot for an incoming order.
func (b *OrderBook) SweepFilled(orders []*Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range orders {
		if o.RemainingQty == 0 {
			b.removeLocked(o.ID)
		}
	}
}


// Cancel removes a resting order owned by user. Returns false if the
// order is missing or owned by someone else.
func (b *OrderBook) Cancel(orderID uint64, user types.Address) (*Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.byID[orderID]
	if !ok || o.User != user {
		return nil, false
	}
	b.removeLocked(orderID)
	return o, true
}
