package api

import "time"

// Request/response DTOs for the coordinator's REST and WebSocket surface.
// Every mutating endpoint accepts decimal-string price/quantity fields at
// the wire boundary (parsed with shopspring/decimal) and returns a
// message ID immediately; the actual outcome is asynchronous and is
// observed via GET /api/v1/messages/{id} or, for trades, the WebSocket
// trade tape.

// SubmitOrderRequest is the body of POST /api/v1/orders.
type SubmitOrderRequest struct {
	Side     string `json:"side"`     // "buy" or "sell"
	Price    string `json:"price"`    // decimal string, units of B per unit of A
	Quantity string `json:"quantity"` // decimal string, units of A
}

// CancelOrderRequest is the body of POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	OrderID uint64 `json:"order_id"`
}

// WithdrawalRequest is the body of POST /api/v1/withdrawals.
type WithdrawalRequest struct {
	Asset  string `json:"asset"`  // "a" or "b"
	Amount string `json:"amount"` // decimal string
}

// MessageAccepted is returned by every mutating endpoint on success: the
// request has been queued for the executor, not yet processed.
type MessageAccepted struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// MessageView is the response of GET /api/v1/messages/{message_id}.
type MessageView struct {
	MessageID string   `json:"message_id"`
	Kind      string   `json:"kind"`
	Status    string   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	OrderID   uint64   `json:"order_id,omitempty"`
	TradeIDs  []uint64 `json:"trade_ids,omitempty"`
	TxHash    string   `json:"tx_hash,omitempty"`
}

// MockDepositRequest is the body of POST /api/v1/admin/mock-deposit,
// enabled only when the coordinator runs against chain.MockEventSource:
// it stands in for a real chain's deposit event.
type MockDepositRequest struct {
	TxHash     string `json:"tx_hash"`
	EventIndex uint64 `json:"event_index"`
	User       string `json:"user"` // hex address
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	LedgerSeq  uint64 `json:"ledger_seq"`
}

// ErrorResponse is the body of any non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is sent by a client to (un)subscribe to channels.
// The trade tape is the only published channel; subscription messages
// for any other name are accepted but never produce data, since nothing
// else is safe to publish under the venue's privacy invariant.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// AgentHealth is one agent goroutine's liveness as reported by GET /health.
type AgentHealth struct {
	LastProgress time.Time `json:"last_progress"`
	IdleFor      string    `json:"idle_for"` // e.g. "1.2s", how long since LastProgress
}

// HealthResponse is the body of GET /health. Agents is keyed by
// "executor", "processor", and "ingestor"; an agent that was never wired
// via Server.SetHeartbeats is simply absent from the map.
type HealthResponse struct {
	Status string                 `json:"status"`
	Agents map[string]AgentHealth `json:"agents"`
}

// TradePrint is the payload of every message on the "trades" channel: a
// completed fill, with no resting-order or counterparty information
// attached. This is the entirety of what the venue's privacy invariant
// allows onto the wire — order placement, cancellation, and book depth
// are never broadcast.
type TradePrint struct {
	Type     string `json:"type"` // "trade"
	TradeID  uint64 `json:"trade_id"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Ts       int64  `json:"ts"` // unix milliseconds
}
