package executor

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/lumendark/darkpool/pkg/book"
	"github.com/lumendark/darkpool/pkg/chain"
	"github.com/lumendark/darkpool/pkg/ledger"
	"github.com/lumendark/darkpool/pkg/message"
	"github.com/lumendark/darkpool/pkg/types"
)

var (
	alice = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

type harness struct {
	e   *Executor
	l   *ledger.Ledger
	b   *book.OrderBook
	m   *message.Store
	in  *IncomingQueue
	out *chain.OutgoingQueue
}

func newHarness() *harness {
	l := ledger.New()
	b := book.New()
	m := message.New()
	in := NewIncomingQueue(16)
	out := chain.NewOutgoingQueue(16)
	return &harness{
		e:   New(zap.NewNop(), l, b, m, in, out),
		l:   l,
		b:   b,
		m:   m,
		in:  in,
		out: out,
	}
}

func (h *harness) submitOrder(id string, user types.Address, side types.Side, price types.Price, qty types.Amount) {
	h.m.Create(id, message.KindOrder, user)
	h.e.dispatch(Request{MessageID: id, Order: &OrderRequest{User: user, Side: side, Price: price, Quantity: qty}})
}

func TestSimpleMatchSettlesBothLegs(t *testing.T) {
	h := newHarness()
	h.l.Credit(alice, types.AssetA, 100)
	h.l.Credit(bob, types.AssetB, 1_000_000_000)

	h.submitOrder("m1", alice, types.Sell, types.Price(2*types.Scale), 10)
	h.submitOrder("m2", bob, types.Buy, types.Price(2*types.Scale), 10)

	msg1, _ := h.m.Get("m1")
	msg2, _ := h.m.Get("m2")
	if msg1.Status != message.SettlementPending || msg2.Status != message.SettlementPending {
		t.Fatalf("expected both settlement pending, got %v %v", msg1.Status, msg2.Status)
	}

	aliceA := h.l.Balance(alice, types.AssetA)
	aliceB := h.l.Balance(alice, types.AssetB)
	bobA := h.l.Balance(bob, types.AssetA)
	bobB := h.l.Balance(bob, types.AssetB)

	if aliceA.Available != 90 || aliceA.Liabilities != 0 {
		t.Fatalf("alice A balance = %+v", aliceA)
	}
	if aliceB.Available != 20 {
		t.Fatalf("alice B balance = %+v", aliceB)
	}
	if bobA.Available != 10 {
		t.Fatalf("bob A balance = %+v", bobA)
	}
	if bobB.Liabilities != 0 || bobB.Available != 1_000_000_000-20 {
		t.Fatalf("bob B balance = %+v", bobB)
	}
}

func TestPriceImprovementReleasesTakerBuyerSurplus(t *testing.T) {
	h := newHarness()
	h.l.Credit(alice, types.AssetA, 100)
	h.l.Credit(bob, types.AssetB, 1_000_000_000)

	// Resting ask at 2.0, taker bids up to 3.0: fills at the maker's 2.0.
	h.submitOrder("m1", alice, types.Sell, types.Price(2*types.Scale), 10)
	h.submitOrder("m2", bob, types.Buy, types.Price(3*types.Scale), 10)

	bobB := h.l.Balance(bob, types.AssetB)
	if bobB.Liabilities != 0 {
		t.Fatalf("expected no leftover liability after settlement, got %+v", bobB)
	}
	if bobB.Available != 1_000_000_000-20 {
		t.Fatalf("bob should only have paid the maker's price, got %+v", bobB)
	}
}

func TestPartialFillRestsResidual(t *testing.T) {
	h := newHarness()
	h.l.Credit(alice, types.AssetA, 100)
	h.l.Credit(bob, types.AssetB, 1_000_000_000)

	h.submitOrder("m1", alice, types.Sell, types.Price(2*types.Scale), 10)
	h.submitOrder("m2", bob, types.Buy, types.Price(2*types.Scale), 4)

	msg1, _ := h.m.Get("m1")
	if msg1.Status != message.SettlementPending {
		t.Fatalf("resting order should have received a partial fill, got %v", msg1.Status)
	}
	o, ok := h.b.Get(msg1.OrderID)
	if !ok || o.RemainingQty != 6 || o.Status != book.PartiallyFilled {
		t.Fatalf("resting order state = %+v ok=%v", o, ok)
	}
}

func TestCancelReleasesReservedLiability(t *testing.T) {
	h := newHarness()
	h.l.Credit(alice, types.AssetB, 1_000_000_000)

	h.submitOrder("m1", alice, types.Buy, types.Price(2*types.Scale), 10)
	msg1, _ := h.m.Get("m1")

	before := h.l.Balance(alice, types.AssetB)
	if before.Liabilities != types.Price(2*types.Scale).Notional(10) {
		t.Fatalf("expected reservation on the book, got %+v", before)
	}

	h.m.Create("c1", message.KindCancel, alice)
	h.e.dispatch(Request{MessageID: "c1", Cancel: &CancelRequest{User: alice, OrderID: msg1.OrderID}})

	after := h.l.Balance(alice, types.AssetB)
	if after.Liabilities != 0 {
		t.Fatalf("expected liability released after cancel, got %+v", after)
	}
	if _, ok := h.b.Get(msg1.OrderID); ok {
		t.Fatalf("expected order removed from book after cancel")
	}
	c1, _ := h.m.Get("c1")
	if c1.Status != message.SettlementConfirmed {
		t.Fatalf("cancel message status = %v", c1.Status)
	}
}

func TestInsufficientFundsRejectsOrder(t *testing.T) {
	h := newHarness()
	h.m.Create("m1", message.KindOrder, alice)
	h.e.dispatch(Request{MessageID: "m1", Order: &OrderRequest{User: alice, Side: types.Buy, Price: types.Price(types.Scale), Quantity: 10}})

	m, _ := h.m.Get("m1")
	if m.Status != message.Rejected {
		t.Fatalf("expected rejection for insufficient funds, got %v", m.Status)
	}
}

func TestDepositCreditsAndConfirms(t *testing.T) {
	h := newHarness()
	h.m.Create("d1", message.KindDeposit, alice)
	h.e.dispatch(Request{MessageID: "d1", Deposit: &DepositRequest{TxHash: "0xabc", EventIndex: 0, User: alice, Asset: types.AssetA, Amount: 50}})

	bal := h.l.Balance(alice, types.AssetA)
	if bal.Available != 50 {
		t.Fatalf("expected deposit credited, got %+v", bal)
	}
	m, _ := h.m.Get("d1")
	if m.Status != message.SettlementConfirmed || m.TxHash != "0xabc" {
		t.Fatalf("deposit message state = %+v", m)
	}
}

func TestDuplicateDepositIsNotCreditedTwice(t *testing.T) {
	h := newHarness()
	h.m.Create("d1", message.KindDeposit, alice)
	h.e.dispatch(Request{MessageID: "d1", Deposit: &DepositRequest{TxHash: "0xabc", EventIndex: 0, User: alice, Asset: types.AssetA, Amount: 50}})

	// Same (tx_hash, event_index) redelivered, as happens when the ingestor
	// re-enqueues after a restart or a recent-events cache eviction
	// (spec.md §4.6/§8). A second message ID keeps the two deliveries'
	// statuses separately observable here.
	h.m.Create("d2", message.KindDeposit, alice)
	h.e.dispatch(Request{MessageID: "d2", Deposit: &DepositRequest{TxHash: "0xabc", EventIndex: 0, User: alice, Asset: types.AssetA, Amount: 50}})

	bal := h.l.Balance(alice, types.AssetA)
	if bal.Available != 50 {
		t.Fatalf("expected the credit applied exactly once, got %+v", bal)
	}
	m, _ := h.m.Get("d2")
	if m.Status != message.SettlementConfirmed {
		t.Fatalf("expected the redelivered message still confirmed, got %v", m.Status)
	}
}

func TestRestoredDepositSeenSurvivesRestart(t *testing.T) {
	h := newHarness()
	h.e.RestoreDepositSeen([]string{"0xabc:0"})

	h.m.Create("d1", message.KindDeposit, alice)
	h.e.dispatch(Request{MessageID: "d1", Deposit: &DepositRequest{TxHash: "0xabc", EventIndex: 0, User: alice, Asset: types.AssetA, Amount: 50}})

	bal := h.l.Balance(alice, types.AssetA)
	if bal.Available != 0 {
		t.Fatalf("expected a deposit already credited before a restart to stay uncredited, got %+v", bal)
	}
}

func TestWithdrawalDebitsAndEnqueues(t *testing.T) {
	h := newHarness()
	h.l.Credit(alice, types.AssetA, 100)
	h.m.Create("w1", message.KindWithdrawal, alice)
	h.e.dispatch(Request{MessageID: "w1", Withdraw: &WithdrawRequest{User: alice, Asset: types.AssetA, Amount: 40}})

	bal := h.l.Balance(alice, types.AssetA)
	if bal.Available != 60 {
		t.Fatalf("expected debit applied, got %+v", bal)
	}
	m, _ := h.m.Get("w1")
	if m.Status != message.SettlementPending {
		t.Fatalf("withdrawal message status = %v", m.Status)
	}
	select {
	case intent := <-h.out.Dequeue():
		if intent.Withdraw == nil || intent.Withdraw.Amount != 40 {
			t.Fatalf("unexpected outgoing intent: %+v", intent)
		}
	default:
		t.Fatalf("expected a withdraw intent on the outgoing queue")
	}
}

func TestCompensatingCreditRestoresFailedWithdrawal(t *testing.T) {
	h := newHarness()
	h.l.Credit(alice, types.AssetA, 100)
	h.m.Create("w1", message.KindWithdrawal, alice)
	h.e.dispatch(Request{MessageID: "w1", Withdraw: &WithdrawRequest{User: alice, Asset: types.AssetA, Amount: 40}})

	// Simulate the outgoing processor's terminal-failure compensation
	// (spec.md §4.5): credit the debited amount back since the chain
	// submission never went through.
	h.e.dispatch(Request{Credit: &CreditRequest{User: alice, Asset: types.AssetA, Amount: 40}})

	bal := h.l.Balance(alice, types.AssetA)
	if bal.Available != 100 {
		t.Fatalf("expected balance restored after compensation, got %+v", bal)
	}
}
