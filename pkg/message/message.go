// Package message implements the Message Store of spec.md §4.7: an
// append-and-mutate record of every externally originated request,
// enforcing the monotonic status DAG of §4.5. Writes come from the
// executor (request-originated transitions) and the outgoing processor
// (settlement transitions) on disjoint fields, so no lock contention
// between them is needed beyond guarding the map itself.
package message

import (
	"fmt"
	"sync"

	"github.com/lumendark/darkpool/pkg/types"
)

// Kind classifies the originating request.
type Kind int8

const (
	KindOrder Kind = iota
	KindCancel
	KindWithdrawal
	KindDeposit
)

// Status is a node in the message lifecycle DAG:
//
//	Received -> Accepted -> (SettlementPending -> SettlementConfirmed | SettlementFailed)
//	Received -> Rejected
//
// Transitions are enforced monotonic by Store.Transition; a Message never
// moves backward.
type Status int8

const (
	Received Status = iota
	Accepted
	Rejected
	SettlementPending
	SettlementConfirmed
	SettlementFailed
)

func (k Kind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindCancel:
		return "cancel"
	case KindWithdrawal:
		return "withdrawal"
	case KindDeposit:
		return "deposit"
	default:
		return "unknown"
	}
}

func (s Status) String() string {
	switch s {
	case Received:
		return "received"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case SettlementPending:
		return "settlement_pending"
	case SettlementConfirmed:
		return "settlement_confirmed"
	case SettlementFailed:
		return "settlement_failed"
	default:
		return "unknown"
	}
}

// rank gives each status its position in the DAG for monotonicity checks.
// Rejected/SettlementConfirmed/SettlementFailed are all terminal (no
// outgoing edges), so they share the terminal rank.
func (s Status) rank() int {
	switch s {
	case Received:
		return 0
	case Accepted:
		return 1
	case SettlementPending:
		return 2
	case Rejected, SettlementConfirmed, SettlementFailed:
		return 3
	default:
		return -1
	}
}

func (s Status) terminal() bool {
	return s == Rejected || s == SettlementConfirmed || s == SettlementFailed
}

// Message records the lifecycle of one externally originated request.
type Message struct {
	ID       string
	Kind     Kind
	User     types.Address
	Status   Status
	Reason   string
	OrderID  uint64
	HasOrder bool
	TradeIDs []uint64
	TxHash   string
}

// Store is the shared, mutex-guarded Message table.
type Store struct {
	mu       sync.Mutex
	messages map[string]*Message
}

// New creates an empty message store.
func New() *Store {
	return &Store{messages: make(map[string]*Message)}
}

// Create records a new Message in the Received state. Called the instant
// a request is enqueued, before the executor dequeues it.
func (s *Store) Create(id string, kind Kind, user types.Address) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &Message{ID: id, Kind: kind, User: user, Status: Received}
	s.messages[id] = m
	return m
}

// Restore re-inserts a previously persisted Message verbatim, bypassing
// Create's Received-only initialization and Transition's DAG check. Used
// only at startup when replaying pkg/storage.Snapshotter state.
func (s *Store) Restore(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[cp.ID] = &cp
}

// Get returns a snapshot copy of a Message, or (Message{}, false) if
// unknown. Safe for concurrent read from the API's status endpoint.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Transition moves a Message to a new status, enforcing that the DAG only
// ever advances. Returns an error (never applying the transition) if the
// target ranks below the current status, or if the current status is
// already terminal. Re-applying the current non-terminal status is
// allowed, and intermediate statuses may be skipped (Received straight to
// SettlementConfirmed, say).
func (s *Store) Transition(id string, to Status, mutate func(*Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: not found", id)
	}
	if m.Status.terminal() {
		return fmt.Errorf("message %s: already terminal at %s, cannot move to %s", id, m.Status, to)
	}
	if to.rank() <= m.Status.rank() && to != m.Status {
		return fmt.Errorf("message %s: illegal transition %s -> %s", id, m.Status, to)
	}
	m.Status = to
	if mutate != nil {
		mutate(m)
	}
	return nil
}
