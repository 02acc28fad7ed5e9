package book

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lumendark/darkpool/pkg/types"
)

var (
	alice = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	carol = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

func newResting(bk *OrderBook, user types.Address, side types.Side, price types.Price, qty types.Amount) *Order {
	o := &Order{
		ID:           bk.NextOrderID(),
		User:         user,
		Side:         side,
		Price:        price,
		OriginalQty:  qty,
		RemainingQty: qty,
		Status:       Open,
	}
	bk.Insert(o)
	return o
}

func TestBestTracksHighestBidLowestAsk(t *testing.T) {
	bk := New()
	newResting(bk, alice, types.Buy, 20_000_000, 1)
	newResting(bk, bob, types.Buy, 25_000_000, 1)
	newResting(bk, alice, types.Sell, 30_000_000, 1)
	newResting(bk, bob, types.Sell, 28_000_000, 1)

	best, ok := bk.Best(types.Buy)
	if !ok || best.Price != 25_000_000 {
		t.Fatalf("best bid = %+v", best)
	}
	best, ok = bk.Best(types.Sell)
	if !ok || best.Price != 28_000_000 {
		t.Fatalf("best ask = %+v", best)
	}
}

func TestMatchableOrdersInPriceTimeOrder(t *testing.T) {
	bk := New()
	o1 := newResting(bk, alice, types.Sell, 20_000_000, 1)
	o2 := newResting(bk, bob, types.Sell, 20_000_000, 1)
	o3 := newResting(bk, carol, types.Sell, 19_000_000, 1)

	got := bk.Matchable(types.Sell, 25_000_000)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// best price (19) first, then earliest-seq within the 20 level.
	if got[0].ID != o3.ID || got[1].ID != o1.ID || got[2].ID != o2.ID {
		t.Fatalf("order = %v, %v, %v", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestMatchableExcludesNonCrossing(t *testing.T) {
	bk := New()
	newResting(bk, alice, types.Sell, 30_000_000, 1)

	got := bk.Matchable(types.Sell, 25_000_000)
	if len(got) != 0 {
		t.Fatalf("expected no matchable orders, got %d", len(got))
	}
}

func TestCancelRemovesFromBookAndIndex(t *testing.T) {
	bk := New()
	o := newResting(bk, alice, types.Sell, 20_000_000, 5)

	if _, ok := bk.Cancel(o.ID, bob); ok {
		t.Fatalf("cancel by non-owner should fail")
	}
	if _, ok := bk.Cancel(o.ID, alice); !ok {
		t.Fatalf("cancel by owner should succeed")
	}
	if _, ok := bk.Get(o.ID); ok {
		t.Fatalf("order should be gone after cancel")
	}
	if _, ok := bk.Best(types.Sell); ok {
		t.Fatalf("book should be empty after cancel")
	}
}

func TestSweepFilledRemovesZeroRemainder(t *testing.T) {
	bk := New()
	o := newResting(bk, alice, types.Sell, 20_000_000, 5)
	o.RemainingQty = 0

	bk.SweepFilled([]*Order{o})
	if _, ok := bk.Get(o.ID); ok {
		t.Fatalf("filled order should be removed")
	}
}
