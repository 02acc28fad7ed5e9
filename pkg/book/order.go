package book

import "github.com/lumendark/darkpool/pkg/types"

// Status is the lifecycle state of a resting order.
type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a resting or incoming limit order. CreatedSeq is assigned by
// the book on Insert and establishes strict time priority at equal price;
// it is never reused or reassigned.
type Order struct {
	ID           uint64
	User         types.Address
	Side         types.Side
	Price        types.Price
	OriginalQty  types.Amount
	RemainingQty types.Amount
	CreatedSeq   uint64
	Status       Status
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() types.Amount { return o.RemainingQty }

// IsClosed reports whether the order is no longer resting on the book.
func (o *Order) IsClosed() bool {
	return o.Status == Filled || o.Status == Cancelled
}
