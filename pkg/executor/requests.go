package executor

import "github.com/lumendark/darkpool/pkg/types"

// Request is the sum type spec.md §9 asks for ("Dynamic request objects
// -> tagged variants"): every kind of thing that can arrive on the
// incoming queue, tagged so the executor dispatches exhaustively.
type Request struct {
	MessageID string
	Order     *OrderRequest
	Cancel    *CancelRequest
	Withdraw  *WithdrawRequest
	Deposit   *DepositRequest
	Credit    *CreditRequest // internal compensation, enqueued by pkg/outgoing
}

// OrderRequest submits a new limit order.
type OrderRequest struct {
	User     types.Address
	Side     types.Side
	Price    types.Price
	Quantity types.Amount
}

// CancelRequest cancels a resting order owned by User.
type CancelRequest struct {
	User    types.Address
	OrderID uint64
}

// WithdrawRequest debits User's available balance for an off-chain
// withdrawal.
type WithdrawRequest struct {
	User   types.Address
	Asset  types.Asset
	Amount types.Amount
}

// DepositRequest is a chain deposit event surfaced by the ingestor.
type DepositRequest struct {
	TxHash     string
	EventIndex uint64
	User       types.Address
	Asset      types.Asset
	Amount     types.Amount
}

// CreditRequest is an internal compensating credit issued by the outgoing
// processor after a withdrawal's chain submission terminally fails
// (spec.md §4.5). It is not externally originated and carries no message
// of its own: the processor enqueues it with an empty Request.MessageID.
type CreditRequest struct {
	User   types.Address
	Asset  types.Asset
	Amount types.Amount
}
