// Package chain defines the surface the core consumes from the on-chain
// contract (spec.md §6 "Chain contract surface", out of scope to
// implement here) and provides a MockSubmitter so the coordinator runs
// end-to-end without a live chain. Grounded on
// original_source/backend/lumendark/blockchain/event_listener.py's
// MockTransactionSubmitter, which the original ships as a first-class,
// production-usable runtime mode rather than a test double.
package chain

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/sha3"

	"github.com/lumendark/darkpool/pkg/types"
)

// DepositEvent is a single on-chain deposit credit, as emitted by the
// contract's deposit() call. The pair (TxHash, EventIndex) is the
// deduplication key the ingestor and executor both key on.
type DepositEvent struct {
	TxHash     string
	EventIndex uint64
	User       types.Address
	Asset      types.Asset
	Amount     types.Amount
	LedgerSeq  uint64
}

// SettleIntent asks the chain to atomically settle one trade's two legs.
// BuyerMessageID/SellerMessageID name the two (possibly different)
// originating messages so the outgoing processor can finalize both sides'
// status once the on-chain submission resolves. BuyerLegTotal/
// SellerLegTotal are the number of trade legs the order-processing pass
// that produced this trade contributed to each side's message (>1 when a
// single incoming order sweeps several resting makers): the outgoing
// processor waits for every leg from that count before moving a message
// to a terminal status, so one order's status reflects all of its fills,
// not just whichever leg's chain submission resolves first.
type SettleIntent struct {
	Buyer           types.Address
	Seller          types.Address
	AssetSold       types.Asset
	AmountSold      types.Amount
	AssetBought     types.Asset
	AmountBought    types.Amount
	TradeID         uint64
	BuyerMessageID  string
	SellerMessageID string
	BuyerLegTotal   int
	SellerLegTotal  int
}

// WithdrawIntent asks the chain to pay out a user's withdrawal.
type WithdrawIntent struct {
	User      types.Address
	Asset     types.Asset
	Amount    types.Amount
	MessageID string
}

// Result is the terminal outcome of a submitted chain transaction.
type Result struct {
	TxHash string
	// Transient is true when Err represents a retriable condition
	// (network, throttling, RPC timeout) rather than a chain rejection.
	Transient bool
	Err       error
}

// Submitter is the thin abstraction the outgoing processor drives. It
// owns transaction construction, signing with the admin keypair, and
// submission; the processor only sees success/transient-failure/
// terminal-failure.
type Submitter interface {
	SubmitSettle(ctx context.Context, intent SettleIntent) Result
	SubmitWithdraw(ctx context.Context, intent WithdrawIntent) Result
}

// MockSubmitter always succeeds, minting deterministic-looking tx hashes
// with Keccak (golang.org/x/crypto/sha3, the same hash family
// pkg/crypto uses for signature hashing) so the coordinator can run its
// full order lifecycle — order, match, settle, deposit, withdraw — without a live
// chain RPC endpoint. cmd/coordinator always wires it: no other Submitter
// exists, and a set chain_rpc_url only produces a fallback log line.
type MockSubmitter struct {
	counter uint64
}

func (m *MockSubmitter) nextHash(salt byte) string {
	n := atomic.AddUint64(&m.counter, 1)
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[:8], n)
	buf[8] = salt
	h := sha3.NewLegacyKeccak256()
	h.Write(buf[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func (m *MockSubmitter) SubmitSettle(_ context.Context, _ SettleIntent) Result {
	return Result{TxHash: m.nextHash('s')}
}

func (m *MockSubmitter) SubmitWithdraw(_ context.Context, _ WithdrawIntent) Result {
	return Result{TxHash: m.nextHash('w')}
}

var _ Submitter = (*MockSubmitter)(nil)

// EventSource is the read side of the chain surface: polling for deposit
// events past a given ledger sequence, per spec.md §4.6. Grounded on
// original_source/.../blockchain/client.py's SorobanClient.get_events /
// get_latest_ledger pair, generalized to a single call that returns both.
type EventSource interface {
	// PollDeposits returns every deposit event at or after fromLedgerSeq,
	// plus the chain's current ledger sequence.
	PollDeposits(ctx context.Context, fromLedgerSeq uint64) (events []DepositEvent, latestLedgerSeq uint64, err error)
}

// MockEventSource never surfaces deposit events on its own; a caller
// (typically a test, or an admin/debug endpoint in cmd/coordinator) feeds
// deposits with Push to simulate a chain observation, letting the
// coordinator's full deposit -> credit -> message pipeline run without a
// live RPC endpoint, matching MockSubmitter's role on the write side.
type MockEventSource struct {
	mu      sync.Mutex
	pending []DepositEvent
	ledger  uint64
}

// Push queues a deposit event to be returned on the next PollDeposits
// call, and advances the mock chain's ledger sequence past it.
func (m *MockEventSource) Push(evt DepositEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, evt)
	if evt.LedgerSeq >= m.ledger {
		m.ledger = evt.LedgerSeq + 1
	}
}

func (m *MockEventSource) PollDeposits(_ context.Context, fromLedgerSeq uint64) ([]DepositEvent, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DepositEvent
	var rest []DepositEvent
	for _, e := range m.pending {
		if e.LedgerSeq >= fromLedgerSeq {
			out = append(out, e)
		} else {
			rest = append(rest, e)
		}
	}
	m.pending = rest
	if m.ledger < fromLedgerSeq {
		m.ledger = fromLedgerSeq
	}
	return out, m.ledger, nil
}

var _ EventSource = (*MockEventSource)(nil)
