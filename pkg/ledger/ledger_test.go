package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lumendark/darkpool/pkg/types"
)

var u1 = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestCreditThenReserve(t *testing.T) {
	l := New()
	l.Credit(u1, types.AssetA, 100)

	if err := l.Reserve(u1, types.AssetA, 40); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	b := l.Balance(u1, types.AssetA)
	if b.Available != 100 || b.Liabilities != 40 {
		t.Fatalf("unexpected balance: %+v", b)
	}
	if b.Spendable() != 60 {
		t.Fatalf("spendable = %d, want 60", b.Spendable())
	}
}

func TestReserveInsufficientAvailable(t *testing.T) {
	l := New()
	l.Credit(u1, types.AssetA, 10)

	err := l.Reserve(u1, types.AssetA, 11)
	if !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("err = %v, want ErrInsufficientAvailable", err)
	}
}

func TestReleaseRestoresSpendable(t *testing.T) {
	l := New()
	l.Credit(u1, types.AssetA, 50)
	if err := l.Reserve(u1, types.AssetA, 50); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Release(u1, types.AssetA, 50); err != nil {
		t.Fatalf("release: %v", err)
	}

	b := l.Balance(u1, types.AssetA)
	if b.Liabilities != 0 {
		t.Fatalf("liabilities = %d, want 0", b.Liabilities)
	}
}

func TestConsumeDecrementsBoth(t *testing.T) {
	l := New()
	l.Credit(u1, types.AssetA, 100)
	if err := l.Reserve(u1, types.AssetA, 100); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Consume(u1, types.AssetA, 100); err != nil {
		t.Fatalf("consume: %v", err)
	}

	b := l.Balance(u1, types.AssetA)
	if b.Available != 0 || b.Liabilities != 0 {
		t.Fatalf("unexpected balance after consume: %+v", b)
	}
}

func TestDebitWithdrawal(t *testing.T) {
	l := New()
	l.Credit(u1, types.AssetB, 50)

	if err := l.Debit(u1, types.AssetB, 30); err != nil {
		t.Fatalf("debit: %v", err)
	}
	b := l.Balance(u1, types.AssetB)
	if b.Available != 20 {
		t.Fatalf("available = %d, want 20", b.Available)
	}

	if err := l.Debit(u1, types.AssetB, 100); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("err = %v, want ErrInsufficientAvailable", err)
	}
}

func TestConsumeUnderflowIsFatal(t *testing.T) {
	l := New()
	var ue *UnderflowError
	err := l.Consume(u1, types.AssetA, 1)
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UnderflowError", err)
	}
}
