// Package matching implements the matching function of spec.md §4.3:
// given an incoming order and the resting book, produce trades, leaving
// the residual quantity in the incoming order's RemainingQty. Grounded on
// the teacher's OrderBook.Place loop (pkg/app/core/orderbook/orderbook.go),
// whose crossing walk already fills at the maker's resting price; here
// that walk is pulled out of the book so the book stays pure state. Match
// is not pure: it mutates the incoming order and the resting orders
// OrderBook.Matchable exposes, and sweeps filled makers from the book.
package matching

import (
	"github.com/lumendark/darkpool/pkg/book"
	"github.com/lumendark/darkpool/pkg/types"
)

// Trade is an immutable record of one fill between a taker and a maker.
type Trade struct {
	ID           uint64
	Buyer        types.Address
	Seller       types.Address
	Price        types.Price
	Quantity     types.Amount
	TakerOrderID uint64
	MakerOrderID uint64
}

// Match walks bk's resting orders on the opposite side of incoming,
// filling at each maker's price until incoming is exhausted or no more
// crossing makers remain. Fully filled makers are swept from the book.
// A resting order belonging to the same user as incoming is skipped
// entirely (self-match prevention, carried forward from the original
// engine's _match_buy/_match_sell — see SPEC_FULL.md SUPPLEMENTED
// FEATURES): the order below it in priority may still fill.
//
// nextTradeID allocates the next globally unique, monotonic trade_id.
func Match(bk *book.OrderBook, incoming *book.Order, nextTradeID func() uint64) []Trade {
	opposite := incoming.Side.Opposite()
	candidates := bk.Matchable(opposite, incoming.Price)

	var trades []Trade
	var touched []*book.Order

	for _, maker := range candidates {
		if incoming.RemainingQty == 0 {
			break
		}
		if maker.User == incoming.User {
			continue
		}

		fill := incoming.RemainingQty
		if maker.RemainingQty < fill {
			fill = maker.RemainingQty
		}

		incoming.RemainingQty -= fill
		maker.RemainingQty -= fill
		touched = append(touched, maker)

		if maker.RemainingQty == 0 {
			maker.Status = book.Filled
		} else {
			maker.Status = book.PartiallyFilled
		}

		var buyer, seller types.Address
		var takerID, makerID uint64
		if incoming.Side == types.Buy {
			buyer, seller = incoming.User, maker.User
			takerID, makerID = incoming.ID, maker.ID
		} else {
			buyer, seller = maker.User, incoming.User
			takerID, makerID = incoming.ID, maker.ID
		}

		trades = append(trades, Trade{
			ID:           nextTradeID(),
			Buyer:        buyer,
			Seller:       seller,
			Price:        maker.Price, // maker's price execution rule
			Quantity:     fill,
			TakerOrderID: takerID,
			MakerOrderID: makerID,
		})
	}

	bk.SweepFilled(touched)

	if incoming.RemainingQty == 0 {
		incoming.Status = book.Filled
	} else if incoming.RemainingQty < incoming.OriginalQty {
		incoming.Status = book.PartiallyFilled
	} else {
		incoming.Status = book.Open
	}

	return trades
}
