// Package ledger tracks per-user, per-asset balances and enforces the
// core solvency invariant of the venue: liabilities never exceed
// available funds plus pending deposits. Only the executor calls these
// methods; see pkg/executor.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lumendark/darkpool/pkg/types"
)

// ErrInsufficientAvailable is returned by reserve/debit when the requested
// amount exceeds what the user has available to spend.
var ErrInsufficientAvailable = errors.New("insufficient available balance")

// UnderflowError is a fatal condition: liabilities would go negative,
// which can only happen from an internal miscount upstream. The executor
// treats this as InternalInvariantViolation and halts.
type UnderflowError struct {
	User  types.Address
	Asset types.Asset
	Have  types.Amount
	Want  types.Amount
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("underflow: user=%s asset=%s liabilities=%d release/consume=%d",
		e.User.Hex(), e.Asset, e.Have, e.Want)
}

// Balance holds the available/liabilities/pending_deposits triple for one
// (user, asset) pair. Invariant: Liabilities <= Available + PendingDeposits.
type Balance struct {
	Available       types.Amount
	Liabilities     types.Amount
	PendingDeposits types.Amount
}

// Spendable returns the amount free to reserve or withdraw right now.
func (b Balance) Spendable() types.Amount {
	return b.Available - b.Liabilities
}

func (b Balance) checkInvariant(user types.Address, asset types.Asset) error {
	if b.Liabilities > b.Available+b.PendingDeposits {
		return &UnderflowError{User: user, Asset: asset, Have: b.Available + b.PendingDeposits, Want: b.Liabilities}
	}
	return nil
}

// Ledger is the UserStore: a mutex-guarded map of balances, keyed by user
// and asset. Grounded on the teacher's AccountManager (pkg/app/core/account/manager.go),
// generalized from a single USDC balance to per-asset triples.
type Ledger struct {
	mu       sync.Mutex
	balances map[types.Address]map[types.Asset]*Balance
}

// New creates an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[types.Address]map[types.Asset]*Balance)}
}

func (l *Ledger) get(user types.Address, asset types.Asset) *Balance {
	byAsset, ok := l.balances[user]
	if !ok {
		byAsset = make(map[types.Asset]*Balance)
		l.balances[user] = byAsset
	}
	b, ok := byAsset[asset]
	if !ok {
		b = &Balance{}
		byAsset[asset] = b
	}
	return b
}

// Balance returns a snapshot copy of a user's balance for one asset.
func (l *Ledger) Balance(user types.Address, asset types.Asset) Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.get(user, asset)
}

// Restore overwrites a (user, asset) balance wholesale, bypassing every
// invariant check. Used only at startup when replaying
// pkg/storage.Snapshotter state, which was itself invariant-checked before
// it was ever persisted.
func (l *Ledger) Restore(user types.Address, asset types.Asset, bal Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.get(user, asset) = bal
}

// Credit increments Available. Used for deposits and the buyer-side half
// of settlement.
func (l *Ledger) Credit(user types.Address, asset types.Asset, amount types.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(user, asset)
	b.Available += amount
}

// Reserve requires amount <= Spendable() and increments Liabilities.
// Used when placing a resting order or locking funds for a taker leg.
func (l *Ledger) Reserve(user types.Address, asset types.Asset, amount types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(user, asset)
	if amount > b.Spendable() {
		return ErrInsufficientAvailable
	}
	b.Liabilities += amount
	return b.checkInvariant(user, asset)
}

// Release decrements Liabilities. Used on cancel of the remaining quantity
// of a resting order.
func (l *Ledger) Release(user types.Address, asset types.Asset, amount types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(user, asset)
	if amount > b.Liabilities {
		return &UnderflowError{User: user, Asset: asset, Have: b.Liabilities, Want: amount}
	}
	b.Liabilities -= amount
	return nil
}

// Consume decrements both Available and Liabilities by amount. Used on the
// seller's leg at settlement: funds leave the system for the counterparty.
func (l *Ledger) Consume(user types.Address, asset types.Asset, amount types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(user, asset)
	if amount > b.Liabilities {
		return &UnderflowError{User: user, Asset: asset, Have: b.Liabilities, Want: amount}
	}
	b.Available -= amount
	b.Liabilities -= amount
	return b.checkInvariant(user, asset)
}

// Debit requires amount <= Spendable() and decrements Available only.
// Used for withdrawals.
func (l *Ledger) Debit(user types.Address, asset types.Asset, amount types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(user, asset)
	if amount > b.Spendable() {
		return ErrInsufficientAvailable
	}
	b.Available -= amount
	return nil
}
