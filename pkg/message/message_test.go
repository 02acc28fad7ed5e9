package message

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var u1 = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestCreateStartsReceived(t *testing.T) {
	s := New()
	m := s.Create("msg-1", KindOrder, u1)
	if m.Status != Received {
		t.Fatalf("status = %v, want Received", m.Status)
	}
}

func TestMonotonicTransitionSequence(t *testing.T) {
	s := New()
	s.Create("msg-1", KindOrder, u1)

	if err := s.Transition("msg-1", Accepted, func(m *Message) { m.OrderID = 7; m.HasOrder = true }); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := s.Transition("msg-1", SettlementPending, nil); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if err := s.Transition("msg-1", SettlementConfirmed, func(m *Message) { m.TxHash = "0xabc" }); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	got, ok := s.Get("msg-1")
	if !ok || got.Status != SettlementConfirmed || got.TxHash != "0xabc" || got.OrderID != 7 {
		t.Fatalf("unexpected final state: %+v", got)
	}
}

func TestCannotRegressAfterTerminal(t *testing.T) {
	s := New()
	s.Create("msg-1", KindCancel, u1)
	if err := s.Transition("msg-1", Rejected, nil); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := s.Transition("msg-1", Accepted, nil); err == nil {
		t.Fatalf("expected error transitioning out of a terminal status")
	}
}

func TestSkipDirectlyToTerminal(t *testing.T) {
	s := New()
	s.Create("msg-1", KindDeposit, u1)
	if err := s.Transition("msg-1", SettlementConfirmed, nil); err != nil {
		t.Fatalf("deposit direct-to-confirmed: %v", err)
	}
}
