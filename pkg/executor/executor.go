// Package executor implements the single-consumer core loop of spec.md
// §4.4 and §5: the sole mutator of the ledger, the order book, and the
// message store, dispatching each Request off the incoming queue in
// strict arrival order and emitting settlement intents to the outgoing
// queue. Grounded on the teacher's OrderBook.Place (crossing +
// bookkeeping in one call site, pkg/app/core/orderbook/orderbook.go) and
// AccountManager (single-writer balance mutation,
// pkg/app/core/account/manager.go), collapsed into one serialized loop
// per spec.md §5's "single-consumer, run to completion" model.
package executor

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lumendark/darkpool/pkg/book"
	"github.com/lumendark/darkpool/pkg/chain"
	"github.com/lumendark/darkpool/pkg/ledger"
	"github.com/lumendark/darkpool/pkg/matching"
	"github.com/lumendark/darkpool/pkg/message"
	"github.com/lumendark/darkpool/pkg/storage"
	"github.com/lumendark/darkpool/pkg/types"
)

// Executor owns every piece of mutable venue state and is the only
// goroutine that ever touches it. Everything else communicates with it
// through the incoming queue.
type Executor struct {
	log *zap.Logger

	ledger   *ledger.Ledger
	book     *book.OrderBook
	messages *message.Store
	incoming *IncomingQueue
	outgoing *chain.OutgoingQueue

	tradeSeq uint64

	// lastProgress is the UnixNano timestamp at which dispatch last
	// completed, read by pkg/api's /health handler through LastProgress.
	// A single-consumer loop like this one is either dispatching or
	// blocked; a stalled timestamp is exactly the "wedged" signal spec.md
	// §6 asks the health endpoint to surface.
	lastProgress int64

	// orderMsgID maps a resting order's ID back to the message that
	// created it, so that when a later, unrelated taker fills it, this
	// order's own message can still be advanced to SettlementPending.
	orderMsgID map[uint64]string

	// depositSeen holds every (tx_hash, event_index) pair this executor
	// has already credited (spec.md §4.4.1/§4.6). At-least-once delivery
	// from the ingestor is only safe because this check lives here, not
	// upstream: the ingestor's own recent-events cache is capacity-bounded
	// and unpersisted, so it cannot be relied on alone.
	depositSeen map[string]struct{}

	// tradeSink, if set, is notified of every trade as it executes. This
	// is how pkg/api publishes the public trade tape without the book's
	// resting depth ever being exposed (the dark-pool privacy invariant):
	// only fills are observable, never resting orders.
	tradeSink func(matching.Trade)

	// snap receives every state-owning mutation this executor makes
	// (spec.md §4.13's pluggable snapshot hook). Defaults to a no-op so
	// the in-memory core never depends on it.
	snap storage.Snapshotter
}

// SetTradeSink registers a callback invoked synchronously, from within
// the executor's single goroutine, for every trade. The callback must not
// block or re-enter the executor.
func (e *Executor) SetTradeSink(sink func(matching.Trade)) {
	e.tradeSink = sink
}

// SetSnapshotter installs a persistence backend for every subsequent
// state-owning mutation. Must be called before Run starts consuming the
// incoming queue.
func (e *Executor) SetSnapshotter(s storage.Snapshotter) {
	e.snap = s
}

// New wires an Executor over already-constructed state. The caller
// (cmd/coordinator) owns the lifetime of the queues and shares the
// ledger/book/message store with the API layer for read-only queries.
func New(log *zap.Logger, l *ledger.Ledger, b *book.OrderBook, m *message.Store, in *IncomingQueue, out *chain.OutgoingQueue) *Executor {
	return &Executor{
		log: log, ledger: l, book: b, messages: m, incoming: in, outgoing: out,
		orderMsgID:   make(map[uint64]string),
		depositSeen:  make(map[string]struct{}),
		snap:         storage.NopSnapshotter{},
		lastProgress: time.Now().UnixNano(),
	}
}

// LastProgress reports the last time dispatch completed a request,
// satisfying pkg/api.HeartbeatSource.
func (e *Executor) LastProgress() time.Time {
	return time.Unix(0, atomic.LoadInt64(&e.lastProgress))
}

// RestoreDepositSeen preloads the dedup set from persisted
// pkg/storage.Snapshotter state. Used only at startup, before Run begins
// consuming the incoming queue.
func (e *Executor) RestoreDepositSeen(keys []string) {
	for _, k := range keys {
		e.depositSeen[k] = struct{}{}
	}
}

func depositKey(txHash string, eventIndex uint64) string {
	return txHash + ":" + strconv.FormatUint(eventIndex, 10)
}

func (e *Executor) snapshotBalance(user types.Address, asset types.Asset) {
	if err := e.snap.SaveLedger(user, asset, e.ledger.Balance(user, asset)); err != nil {
		e.log.Error("snapshot balance failed", zap.String("user", user.Hex()), zap.Stringer("asset", asset), zap.Error(err))
	}
}

func (e *Executor) snapshotMessage(id string) {
	if id == "" {
		return
	}
	if m, ok := e.messages.Get(id); ok {
		if err := e.snap.SaveMessage(&m); err != nil {
			e.log.Error("snapshot message failed", zap.String("message_id", id), zap.Error(err))
		}
	}
}

func (e *Executor) snapshotOrder(o *book.Order) {
	if err := e.snap.SaveOrder(o); err != nil {
		e.log.Error("snapshot order failed", zap.Uint64("order_id", o.ID), zap.Error(err))
	}
}

func (e *Executor) snapshotOrderClosed(id uint64) {
	if err := e.snap.DeleteOrder(id); err != nil {
		e.log.Error("snapshot order deletion failed", zap.Uint64("order_id", id), zap.Error(err))
	}
}

func (e *Executor) nextTradeID() uint64 {
	return atomic.AddUint64(&e.tradeSeq, 1)
}

// Run drains the incoming queue until it is closed (cmd/coordinator calls
// IncomingQueue.Close once its shutdown signal arrives). Any
// ledger.UnderflowError surfacing from a handler is an
// InternalInvariantViolation (spec.md §7): dispatch recovers the panic and
// logs it at Fatal level, which exits the process rather than continuing
// with a ledger that may be inconsistent.
func (e *Executor) Run() {
	for req := range e.incoming.Dequeue() {
		e.dispatch(req)
	}
}

func (e *Executor) dispatch(req Request) {
	defer atomic.StoreInt64(&e.lastProgress, time.Now().UnixNano())
	defer func() {
		if r := recover(); r != nil {
			e.log.Fatal("internal invariant violation, halting executor", zap.Any("panic", r), zap.String("message_id", req.MessageID))
		}
	}()

	switch {
	case req.Order != nil:
		e.handleOrder(req.MessageID, req.Order)
	case req.Cancel != nil:
		e.handleCancel(req.MessageID, req.Cancel)
	case req.Withdraw != nil:
		e.handleWithdraw(req.MessageID, req.Withdraw)
	case req.Deposit != nil:
		e.handleDeposit(req.MessageID, req.Deposit)
	case req.Credit != nil:
		e.handleCredit(req.Credit)
	default:
		e.log.Error("empty request dispatched", zap.String("message_id", req.MessageID))
	}
}

func mustNoUnderflow(err error) {
	if err == nil {
		return
	}
	var ue *ledger.UnderflowError
	if errors.As(err, &ue) {
		panic(ue)
	}
	panic(err)
}

// handleDeposit is spec.md §4.4.1. The ingestor's own recent-events cache
// is a best-effort pre-filter, not the source of truth: at-least-once
// delivery means the same (tx_hash, event_index) can reach the executor
// more than once (a redelivered batch, a restarted ingestor, an evicted
// cache entry), so the credit itself is only ever applied once here, keyed
// on that pair. A duplicate still closes the loop on the message the
// ingestor opened, just without crediting again.
func (e *Executor) handleDeposit(msgID string, req *DepositRequest) {
	key := depositKey(req.TxHash, req.EventIndex)
	if _, seen := e.depositSeen[key]; seen {
		e.log.Info("duplicate deposit event ignored",
			zap.String("tx_hash", req.TxHash), zap.Uint64("event_index", req.EventIndex))
	} else {
		e.depositSeen[key] = struct{}{}
		if err := e.snap.SaveDepositSeen(key); err != nil {
			e.log.Error("snapshot deposit-seen failed", zap.String("key", key), zap.Error(err))
		}
		e.ledger.Credit(req.User, req.Asset, req.Amount)
		e.snapshotBalance(req.User, req.Asset)
	}

	if err := e.messages.Transition(msgID, message.SettlementConfirmed, func(m *message.Message) {
		m.TxHash = req.TxHash
	}); err != nil {
		e.log.Error("deposit message transition failed", zap.String("message_id", msgID), zap.Error(err))
	}
	e.snapshotMessage(msgID)
}

// handleOrder is spec.md §4.4.2: reserve the order's full notional cost up
// front, match against the resting book, settle each trade leg on the
// ledger immediately, release any unused reservation left by the maker's
// price-improvement rule, and rest the residual quantity if any remains.
func (e *Executor) handleOrder(msgID string, req *OrderRequest) {
	if req.Price <= 0 || req.Quantity <= 0 {
		e.reject(msgID, "price and quantity must be positive")
		return
	}

	reserveAsset, reserveAmount := reservation(req.Side, req.Price, req.Quantity)
	if err := e.ledger.Reserve(req.User, reserveAsset, reserveAmount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientAvailable) {
			e.reject(msgID, "insufficient available balance")
			return
		}
		mustNoUnderflow(err)
	}
	e.snapshotBalance(req.User, reserveAsset)

	orderID := e.book.NextOrderID()
	incoming := &book.Order{
		ID:           orderID,
		User:         req.User,
		Side:         req.Side,
		Price:        req.Price,
		OriginalQty:  req.Quantity,
		RemainingQty: req.Quantity,
		Status:       book.Open,
	}

	e.orderMsgID[orderID] = msgID

	var tradeIDs []uint64
	if err := e.messages.Transition(msgID, message.Accepted, func(m *message.Message) {
		m.OrderID = orderID
		m.HasOrder = true
	}); err != nil {
		e.log.Error("order accept transition failed", zap.String("message_id", msgID), zap.Error(err))
	}
	e.snapshotMessage(msgID)

	trades := matching.Match(e.book, incoming, e.nextTradeID)
	for _, t := range trades {
		makerMsgID := e.advanceMakerMessage(t)
		e.settleTrade(t, req.Side, req.Price, msgID, makerMsgID, len(trades))
		tradeIDs = append(tradeIDs, t.ID)
		e.snapshotMessage(makerMsgID)
		if e.tradeSink != nil {
			e.tradeSink(t)
		}
	}

	// Fully filled at entry: nothing rests, and settleTrade already
	// unwound any price-improvement delta from the reservation.
	if incoming.RemainingQty > 0 {
		e.book.Insert(incoming)
		e.snapshotOrder(incoming)
	} else {
		delete(e.orderMsgID, orderID)
		e.snapshotOrderClosed(orderID)
	}

	if len(tradeIDs) > 0 {
		if err := e.messages.Transition(msgID, message.SettlementPending, func(m *message.Message) {
			m.TradeIDs = tradeIDs
		}); err != nil {
			e.log.Error("order settlement-pending transition failed", zap.String("message_id", msgID), zap.Error(err))
		}
		e.snapshotMessage(msgID)
	}
}

// advanceMakerMessage advances the message that originally created the
// resting order a trade just filled against. A single resting order can
// be touched by several taker orders over its lifetime, each producing a
// separate trade against the same message: the transition to
// SettlementPending is idempotent (Store.Transition allows re-applying the
// current status) so each fill can append its trade_id while the message
// is still non-terminal. Once the outgoing processor has finalized the
// message, a later fill's transition is rejected and "" is returned, so no
// settlement leg is tied to that message.
func (e *Executor) advanceMakerMessage(t matching.Trade) string {
	makerMsgID, ok := e.orderMsgID[t.MakerOrderID]
	if !ok {
		return ""
	}
	if o, resting := e.book.Get(t.MakerOrderID); !resting || o.RemainingQty == 0 {
		delete(e.orderMsgID, t.MakerOrderID)
		e.snapshotOrderClosed(t.MakerOrderID)
	} else {
		e.snapshotOrder(o)
	}
	if err := e.messages.Transition(makerMsgID, message.SettlementPending, func(m *message.Message) {
		m.TradeIDs = append(m.TradeIDs, t.ID)
	}); err != nil {
		e.log.Error("maker settlement-pending transition failed", zap.String("message_id", makerMsgID), zap.Error(err))
		return ""
	}
	return makerMsgID
}

// reservation returns the asset and amount an order must reserve before it
// can rest or match: a buy reserves asset B at its worst-case notional
// (its own limit price), a sell reserves asset A at its quantity.
func reservation(side types.Side, price types.Price, qty types.Amount) (types.Asset, types.Amount) {
	if side == types.Buy {
		return types.AssetB, price.Notional(qty)
	}
	return types.AssetA, qty
}

// settleTrade applies both legs of a single fill to the ledger and
// enqueues the on-chain settlement intent. takerPrice/takerSide describe
// the incoming order that produced this trade; the maker's own reserved
// notional is exactly t.Price * t.Quantity for a buy maker or t.Quantity
// for a sell maker, so no lookup of the maker's original limit is needed.
// takerMsgID/makerMsgID identify the two originating messages so the
// outgoing processor can finalize both once the chain submission resolves.
// takerLegTotal is the number of trades this handleOrder pass produced for
// the taker (matching.Match returns every leg up front, so this is known
// before any of them settle); the maker side of any single trade is always
// exactly one leg of that maker's message for this pass, since a resting
// order is matched at most once per incoming order.
func (e *Executor) settleTrade(t matching.Trade, takerSide types.Side, takerPrice types.Price, takerMsgID, makerMsgID string, takerLegTotal int) {
	notional := t.Price.Notional(t.Quantity)

	// Seller leg: gives up AssetA, receives AssetB.
	mustNoUnderflow(e.ledger.Consume(t.Seller, types.AssetA, t.Quantity))
	e.ledger.Credit(t.Seller, types.AssetB, notional)

	// Buyer leg: gives up AssetB, receives AssetA. The buyer's reservation
	// was sized off its own limit price; if the fill happened at a better
	// (lower) maker price, release the unused difference back to available
	// funds before consuming the actual notional.
	if takerSide == types.Buy {
		reserved := takerPrice.Notional(t.Quantity)
		if reserved > notional {
			mustNoUnderflow(e.ledger.Release(t.Buyer, types.AssetB, reserved-notional))
		}
	}
	mustNoUnderflow(e.ledger.Consume(t.Buyer, types.AssetB, notional))
	e.ledger.Credit(t.Buyer, types.AssetA, t.Quantity)

	e.snapshotBalance(t.Seller, types.AssetA)
	e.snapshotBalance(t.Seller, types.AssetB)
	e.snapshotBalance(t.Buyer, types.AssetA)
	e.snapshotBalance(t.Buyer, types.AssetB)

	buyerMsgID, sellerMsgID := takerMsgID, makerMsgID
	buyerLegTotal, sellerLegTotal := takerLegTotal, 1
	if takerSide == types.Sell {
		buyerMsgID, sellerMsgID = makerMsgID, takerMsgID
		buyerLegTotal, sellerLegTotal = 1, takerLegTotal
	}

	e.outgoing.Enqueue(chain.Intent{
		Settle: &chain.SettleIntent{
			Buyer:           t.Buyer,
			Seller:          t.Seller,
			AssetSold:       types.AssetA,
			AmountSold:      t.Quantity,
			AssetBought:     types.AssetB,
			AmountBought:    notional,
			TradeID:         t.ID,
			BuyerMessageID:  buyerMsgID,
			SellerMessageID: sellerMsgID,
			BuyerLegTotal:   buyerLegTotal,
			SellerLegTotal:  sellerLegTotal,
		},
	})
}

// handleCancel is spec.md §4.4.3: release the resting order's reservation
// and remove it from the book. Cancelling someone else's order, or an
// order that already closed, is rejected rather than fatal.
func (e *Executor) handleCancel(msgID string, req *CancelRequest) {
	o, ok := e.book.Cancel(req.OrderID, req.User)
	if !ok {
		e.reject(msgID, "order not found or not owned by caller")
		return
	}
	o.Status = book.Cancelled
	delete(e.orderMsgID, req.OrderID)

	asset, amount := reservation(o.Side, o.Price, o.RemainingQty)
	mustNoUnderflow(e.ledger.Release(req.User, asset, amount))
	e.snapshotBalance(req.User, asset)
	e.snapshotOrderClosed(req.OrderID)

	if err := e.messages.Transition(msgID, message.SettlementConfirmed, nil); err != nil {
		e.log.Error("cancel transition failed", zap.String("message_id", msgID), zap.Error(err))
	}
	e.snapshotMessage(msgID)
}

// handleWithdraw is spec.md §4.4.4: debit available funds immediately and
// hand off to the outgoing processor. The debit, not the chain
// confirmation, is what prevents double-spending the same balance.
func (e *Executor) handleWithdraw(msgID string, req *WithdrawRequest) {
	if err := e.ledger.Debit(req.User, req.Asset, req.Amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientAvailable) {
			e.reject(msgID, "insufficient available balance")
			return
		}
		mustNoUnderflow(err)
	}
	e.snapshotBalance(req.User, req.Asset)

	if err := e.messages.Transition(msgID, message.SettlementPending, nil); err != nil {
		e.log.Error("withdrawal transition failed", zap.String("message_id", msgID), zap.Error(err))
	}
	e.snapshotMessage(msgID)

	e.outgoing.Enqueue(chain.Intent{
		MessageID: msgID,
		Withdraw: &chain.WithdrawIntent{
			User:      req.User,
			Asset:     req.Asset,
			Amount:    req.Amount,
			MessageID: msgID,
		},
	})
}

// handleCredit applies a compensating credit issued by the outgoing
// processor after a withdrawal's chain submission terminally failed
// (spec.md §4.5). It carries no externally visible message of its own.
func (e *Executor) handleCredit(req *CreditRequest) {
	e.ledger.Credit(req.User, req.Asset, req.Amount)
	e.snapshotBalance(req.User, req.Asset)
}

func (e *Executor) reject(msgID, reason string) {
	if err := e.messages.Transition(msgID, message.Rejected, func(m *message.Message) {
		m.Reason = reason
	}); err != nil {
		e.log.Error("reject transition failed", zap.String("message_id", msgID), zap.Error(err))
	}
	e.snapshotMessage(msgID)
}
