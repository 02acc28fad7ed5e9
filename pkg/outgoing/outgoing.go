// Package outgoing implements the single outgoing processor of spec.md
// §4.5: the sole consumer of the executor's outgoing queue, submitting
// settlement and withdrawal intents to the chain sequentially (so nonce
// ordering never needs its own coordination), retrying transient failures
// with bounded exponential backoff, and driving each intent's message to
// its terminal status. Grounded on coachpo-meltica-gateway's
// internal/infra/adapters/okx/ws_manager.go connectLoop, whose
// NewExponentialBackOff/.MaxInterval/.NextBackOff/backoff.Stop shape is
// carried over from a reconnect loop to a per-intent submit-retry loop.
package outgoing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/lumendark/darkpool/pkg/chain"
	"github.com/lumendark/darkpool/pkg/executor"
	"github.com/lumendark/darkpool/pkg/message"
	"github.com/lumendark/darkpool/pkg/storage"
)

// Config carries the retry tuning spec.md §6 exposes as
// outgoing_retry_max / outgoing_backoff_initial_ms / outgoing_backoff_cap_ms.
type Config struct {
	RetryMax         int
	BackoffInitialMs int
	BackoffCapMs     int
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Processor drains a chain.OutgoingQueue and submits each intent through a
// chain.Submitter, one at a time.
type Processor struct {
	log       *zap.Logger
	submitter chain.Submitter
	queue     *chain.OutgoingQueue
	messages  *message.Store
	incoming  *executor.IncomingQueue
	cfg       Config

	snap storage.Snapshotter

	// pendingMu guards pending, the per-message leg-aggregation state for
	// settlements still waiting on some of their legs (spec.md §9's
	// multi-maker-fill resolution: see recordLeg).
	pendingMu sync.Mutex
	pending   map[string]*pendingSettlement

	// lastProgress is the UnixNano timestamp at which process last
	// completed submitting an intent, read by pkg/api's /health handler
	// through LastProgress. A submit that hangs inside the chain
	// submitter (a slow or dead RPC endpoint) holds this timestamp still
	// even though Run's select loop is technically alive.
	lastProgress int64
}

// pendingSettlement tracks how many of a message's trade legs from a
// single order-processing pass have resolved so far.
type pendingSettlement struct {
	remaining int
	failed    bool
	txHash    string
}

// New wires a Processor. incoming is the executor's own queue: on a
// terminal withdrawal failure the processor feeds a compensating credit
// back through it rather than mutating the ledger directly, preserving
// the rule that the executor is the sole ledger mutator.
func New(log *zap.Logger, submitter chain.Submitter, queue *chain.OutgoingQueue, messages *message.Store, incoming *executor.IncomingQueue, cfg Config) *Processor {
	return &Processor{
		log: log, submitter: submitter, queue: queue, messages: messages, incoming: incoming, cfg: cfg,
		snap:         storage.NopSnapshotter{},
		pending:      make(map[string]*pendingSettlement),
		lastProgress: time.Now().UnixNano(),
	}
}

// LastProgress reports the last time process finished submitting an
// intent, satisfying pkg/api.HeartbeatSource.
func (p *Processor) LastProgress() time.Time {
	return time.Unix(0, atomic.LoadInt64(&p.lastProgress))
}

// SetSnapshotter installs a persistence backend for the settlement/
// withdrawal messages this processor finalizes.
func (p *Processor) SetSnapshotter(s storage.Snapshotter) {
	p.snap = s
}

// Run processes intents until ctx is cancelled or the queue is closed.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent, ok := <-p.queue.Dequeue():
			if !ok {
				return
			}
			p.process(ctx, intent)
		}
	}
}

func (p *Processor) process(ctx context.Context, intent chain.Intent) {
	defer atomic.StoreInt64(&p.lastProgress, time.Now().UnixNano())

	result := p.submitWithRetry(ctx, intent)

	switch {
	case intent.Settle != nil:
		p.finalizeSettle(intent.Settle, result)
	case intent.Withdraw != nil:
		p.finalizeWithdraw(intent.Withdraw, result)
	}
}

// submitWithRetry calls the submitter up to cfg.RetryMax times, backing
// off between transient failures. A non-transient (terminal) failure or
// exhausting retries both return the last Result as-is; the caller
// distinguishes success from terminal failure by Result.Err.
func (p *Processor) submitWithRetry(ctx context.Context, intent chain.Intent) chain.Result {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = millis(p.cfg.BackoffInitialMs)
	bo.MaxInterval = millis(p.cfg.BackoffCapMs)

	var result chain.Result
	for attempt := 0; attempt < p.cfg.RetryMax; attempt++ {
		result = p.submitOnce(ctx, intent)
		if result.Err == nil || !result.Transient {
			return result
		}
		p.log.Warn("transient chain submission failure, retrying",
			zap.Int("attempt", attempt+1), zap.Error(result.Err))

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return result
		case <-time.After(sleep):
		}
	}
	return result
}

func (p *Processor) submitOnce(ctx context.Context, intent chain.Intent) chain.Result {
	if intent.Settle != nil {
		return p.submitter.SubmitSettle(ctx, *intent.Settle)
	}
	return p.submitter.SubmitWithdraw(ctx, *intent.Withdraw)
}

// finalizeSettle records this trade leg's outcome against both
// counterparties' messages. Per spec.md §9's resolution of the
// terminal-settle-failure Open Question, the ledger is never rolled back
// here: a failed settle leaves the off-chain ledger as the durable record,
// to be reconciled by an out-of-band retry.
func (p *Processor) finalizeSettle(intent *chain.SettleIntent, result chain.Result) {
	failed := result.Err != nil
	if failed {
		p.log.Error("settle intent terminally failed", zap.Uint64("trade_id", intent.TradeID), zap.Error(result.Err))
	}
	p.recordLeg(intent.BuyerMessageID, intent.BuyerLegTotal, failed, result.TxHash)
	p.recordLeg(intent.SellerMessageID, intent.SellerLegTotal, failed, result.TxHash)
}

// recordLeg tracks one resolved leg of msgID's settlement against
// legTotal, the number of legs the order-processing pass that produced it
// contributed to this message. A message only moves to a terminal status
// once every one of its legs has resolved, and moves to SettlementFailed
// if any leg failed — so a taker order that swept several resting makers
// reports its aggregate outcome, not just whichever leg's chain submission
// happened to resolve first.
//
// This aggregates only within one order-processing pass: if a resting
// order that already reached a terminal status is filled again by a later,
// unrelated order, advanceMakerMessage's Transition on that later fill is
// itself rejected by the terminal-state guard (logged, not fatal) and the
// executor enqueues that leg with an empty message ID, which recordLeg
// ignores.
func (p *Processor) recordLeg(msgID string, legTotal int, failed bool, txHash string) {
	if msgID == "" {
		return
	}
	if legTotal < 1 {
		legTotal = 1
	}

	p.pendingMu.Lock()
	pm, ok := p.pending[msgID]
	if !ok {
		pm = &pendingSettlement{remaining: legTotal}
		p.pending[msgID] = pm
	}
	pm.remaining--
	if failed {
		pm.failed = true
	}
	if txHash != "" {
		pm.txHash = txHash
	}
	done := pm.remaining <= 0
	status, tx := message.SettlementConfirmed, pm.txHash
	if pm.failed {
		status = message.SettlementFailed
	}
	if done {
		delete(p.pending, msgID)
	}
	p.pendingMu.Unlock()

	if !done {
		return
	}
	p.confirm(msgID, status, tx)
}

// finalizeWithdraw advances the withdrawal's message and, on terminal
// failure, feeds a compensating credit back through the executor so the
// user's debited balance is restored.
func (p *Processor) finalizeWithdraw(intent *chain.WithdrawIntent, result chain.Result) {
	if result.Err != nil {
		p.log.Error("withdrawal terminally failed, compensating", zap.String("message_id", intent.MessageID), zap.Error(result.Err))
		p.confirm(intent.MessageID, message.SettlementFailed, "")
		p.incoming.Enqueue(executor.Request{
			Credit: &executor.CreditRequest{User: intent.User, Asset: intent.Asset, Amount: intent.Amount},
		})
		return
	}
	p.confirm(intent.MessageID, message.SettlementConfirmed, result.TxHash)
}

func (p *Processor) confirm(msgID string, status message.Status, txHash string) {
	if msgID == "" {
		return
	}
	if err := p.messages.Transition(msgID, status, func(m *message.Message) {
		if txHash != "" {
			m.TxHash = txHash
		}
	}); err != nil {
		p.log.Error("outgoing message transition failed", zap.String("message_id", msgID), zap.Error(err))
	}
	if m, ok := p.messages.Get(msgID); ok {
		if err := p.snap.SaveMessage(&m); err != nil {
			p.log.Error("snapshot message failed", zap.String("message_id", msgID), zap.Error(err))
		}
	}
}
