// Package storage implements spec.md §4.13's pluggable snapshot hook:
// persistence across restarts is an explicit Non-goal, but the executor,
// outgoing processor, and ingestor each call a Snapshotter on every
// state-owning mutation so an operator may opt into durability without
// the in-memory core ever depending on it. Grounded on the teacher's
// pkg/app/core/account/store.go (Pebble open/close, JSON-per-key,
// prefix-scan key schema).
package storage

import (
	"github.com/lumendark/darkpool/pkg/book"
	"github.com/lumendark/darkpool/pkg/ledger"
	"github.com/lumendark/darkpool/pkg/message"
	"github.com/lumendark/darkpool/pkg/types"
)

// Snapshotter mirrors the disjoint-writer partition of spec.md §5: the
// executor calls SaveLedger/SaveOrder/DeleteOrder/SaveMessage/
// SaveDepositSeen, the
// outgoing processor calls SaveMessage, the ingestor calls
// SaveMessage/SaveCursor, and nothing else ever writes.
type Snapshotter interface {
	// SaveLedger persists one (user, asset) balance triple.
	SaveLedger(user types.Address, asset types.Asset, bal ledger.Balance) error
	// SaveOrder persists a resting order's current state.
	SaveOrder(o *book.Order) error
	// DeleteOrder removes an order once it leaves the book (filled or
	// cancelled).
	DeleteOrder(id uint64) error
	// SaveMessage persists a message's current lifecycle state.
	SaveMessage(m *message.Message) error
	// SaveDepositSeen records that the executor has applied the credit for
	// a (tx_hash, event_index) deposit, so the dedup guarantee in
	// pkg/executor's handleDeposit survives a restart.
	SaveDepositSeen(key string) error
	// SaveCursor persists the deposit ingestor's ledger-sequence
	// checkpoint.
	SaveCursor(seq uint64) error
	Close() error
}

// NopSnapshotter is the default: every call is a no-op, so the in-memory
// core spec.md's Non-goals describe is what every test and the default
// binary actually run against.
type NopSnapshotter struct{}

func (NopSnapshotter) SaveLedger(types.Address, types.Asset, ledger.Balance) error { return nil }
func (NopSnapshotter) SaveOrder(*book.Order) error                                 { return nil }
func (NopSnapshotter) DeleteOrder(uint64) error                                    { return nil }
func (NopSnapshotter) SaveMessage(*message.Message) error                          { return nil }
func (NopSnapshotter) SaveDepositSeen(string) error                                { return nil }
func (NopSnapshotter) SaveCursor(uint64) error                                     { return nil }
func (NopSnapshotter) Close() error                                                { return nil }

var _ Snapshotter = NopSnapshotter{}
