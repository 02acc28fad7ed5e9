package matching

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lumendark/darkpool/pkg/book"
	"github.com/lumendark/darkpool/pkg/types"
)

var (
	u1 = common.HexToAddress("0x1111111111111111111111111111111111111111")
	u2 = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func nextID() func() uint64 {
	var n uint64
	return func() uint64 { n++; return n }
}

func resting(bk *book.OrderBook, user types.Address, side types.Side, price types.Price, qty types.Amount) *book.Order {
	o := &book.Order{
		ID:           bk.NextOrderID(),
		User:         user,
		Side:         side,
		Price:        price,
		OriginalQty:  qty,
		RemainingQty: qty,
		Status:       book.Open,
	}
	bk.Insert(o)
	return o
}

func TestSimpleMatchAtMakerPrice(t *testing.T) {
	bk := book.New()
	maker := resting(bk, u1, types.Sell, 2_0000000, 100_0000000)

	taker := &book.Order{ID: bk.NextOrderID(), User: u2, Side: types.Buy, Price: 2_5000000, OriginalQty: 100_0000000, RemainingQty: 100_0000000}
	trades := Match(bk, taker, nextID())

	if len(trades) != 1 {
		t.Fatalf("len(trades) = %d, want 1", len(trades))
	}
	tr := trades[0]
	if tr.Price != 2_0000000 {
		t.Fatalf("trade price = %d, want maker price 2.0", tr.Price)
	}
	if tr.Quantity != 100_0000000 {
		t.Fatalf("trade qty = %d", tr.Quantity)
	}
	if taker.RemainingQty != 0 {
		t.Fatalf("taker remaining = %d, want 0", taker.RemainingQty)
	}
	if maker.RemainingQty != 0 || maker.Status != book.Filled {
		t.Fatalf("maker not fully filled: %+v", maker)
	}
}

func TestPartialFillLeavesMakerResting(t *testing.T) {
	bk := book.New()
	maker := resting(bk, u1, types.Sell, 2_0000000, 100_0000000)

	taker := &book.Order{ID: bk.NextOrderID(), User: u2, Side: types.Buy, Price: 2_0000000, OriginalQty: 40_0000000, RemainingQty: 40_0000000}
	trades := Match(bk, taker, nextID())

	if len(trades) != 1 || trades[0].Quantity != 40_0000000 {
		t.Fatalf("trades = %+v", trades)
	}
	if maker.RemainingQty != 60_0000000 || maker.Status != book.PartiallyFilled {
		t.Fatalf("maker after partial fill = %+v", maker)
	}
	if _, ok := bk.Get(maker.ID); !ok {
		t.Fatalf("partially filled maker should remain on book")
	}
}

func TestSelfMatchIsSkipped(t *testing.T) {
	bk := book.New()
	resting(bk, u1, types.Sell, 2_0000000, 10_0000000)
	otherMaker := resting(bk, u2, types.Sell, 2_0000000, 10_0000000)

	taker := &book.Order{ID: bk.NextOrderID(), User: u1, Side: types.Buy, Price: 2_0000000, OriginalQty: 10_0000000, RemainingQty: 10_0000000}
	trades := Match(bk, taker, nextID())

	if len(trades) != 1 {
		t.Fatalf("len(trades) = %d, want 1 (self-match must be skipped)", len(trades))
	}
	if trades[0].MakerOrderID != otherMaker.ID {
		t.Fatalf("trade matched against own order")
	}
}

func TestMultiLevelCrossing(t *testing.T) {
	bk := book.New()
	resting(bk, u1, types.Sell, 2_0000000, 10_0000000)
	resting(bk, u1, types.Sell, 2_1000000, 10_0000000)

	taker := &book.Order{ID: bk.NextOrderID(), User: u2, Side: types.Buy, Price: 2_1000000, OriginalQty: 20_0000000, RemainingQty: 20_0000000}
	trades := Match(bk, taker, nextID())

	if len(trades) != 2 {
		t.Fatalf("len(trades) = %d, want 2", len(trades))
	}
	if trades[0].Price != 2_0000000 || trades[1].Price != 2_1000000 {
		t.Fatalf("trades not walked best-price-first: %+v", trades)
	}
}

func TestNotionalFloorRounding(t *testing.T) {
	price := types.Price(3_3333333) // 3.3333333
	qty := types.Amount(3)          // 3 base units of A
	notional := price.Notional(qty)
	// floor(3.3333333 * 3 * 1e7 / 1e7) = floor(9.9999999) = 9
	if notional != 9 {
		t.Fatalf("notional = %d, want 9", notional)
	}
}
