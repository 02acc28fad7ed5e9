// Package ingestor implements the deposit ingestor of spec.md §4.6: an
// at-least-once poller over the chain's deposit events that deduplicates
// on (tx_hash, event_index) before handing each new deposit to the
// executor as a DepositRequest. Grounded on
// original_source/backend/lumendark/blockchain/event_listener.py's
// DepositEventListener: the poll-sleep-repeat loop, the current-ledger
// cursor, and the 10,000-entry processed-event pruning are all carried
// over, restructured into the teacher's agent-goroutine idiom
// (cmd/node/main.go's `go func(){ for { select {...} } }()` shape) instead
// of asyncio's event loop.
package ingestor

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lumendark/darkpool/pkg/chain"
	"github.com/lumendark/darkpool/pkg/executor"
	"github.com/lumendark/darkpool/pkg/message"
	"github.com/lumendark/darkpool/pkg/storage"
	"github.com/lumendark/darkpool/pkg/util"
)

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func itoa(n uint64) string { return strconv.FormatUint(n, 10) }

// dedupCapacity bounds the recent-events cache, matching the original's
// prune-to-10000 behavior.
const dedupCapacity = 10_000

// dedupKey is the (tx_hash, event_index) pair the spec keys deduplication
// on.
type dedupKey struct {
	TxHash     string
	EventIndex uint64
}

// dedupCache is a bounded FIFO set: eviction order is insertion order, not
// LRU, mirroring the original's oldest-first pruning ("keep last 10000").
type dedupCache struct {
	mu       sync.Mutex
	order    *list.List
	elements map[dedupKey]*list.Element
	cap      int
}

func newDedupCache(capacity int) *dedupCache {
	return &dedupCache{order: list.New(), elements: make(map[dedupKey]*list.Element), cap: capacity}
}

// seen reports whether key was already recorded, and records it if not.
func (c *dedupCache) seen(key dedupKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.elements[key]; ok {
		return true
	}
	c.elements[key] = c.order.PushBack(key)
	if c.order.Len() > c.cap {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.elements, oldest.Value.(dedupKey))
	}
	return false
}

// Config carries the poll cadence spec.md §6 exposes as
// ingestor_poll_interval_ms.
type Config struct {
	PollIntervalMs int
}

// Ingestor polls a chain.EventSource and feeds new deposits into the
// executor's incoming queue.
type Ingestor struct {
	log      *zap.Logger
	source   chain.EventSource
	incoming *executor.IncomingQueue
	messages *message.Store
	clock    util.Clock
	cfg      Config

	cursor uint64
	seen   *dedupCache

	snap storage.Snapshotter

	// lastProgress is the UnixNano timestamp at which poll last returned,
	// read by pkg/api's /health handler through LastProgress. Recorded
	// after PollDeposits returns regardless of outcome, so a poll blocked
	// inside a slow or dead chain RPC call — not merely one returning
	// errors — is exactly what leaves this timestamp stale.
	lastProgress int64
}

// New wires an Ingestor starting from cursor (the ledger sequence to
// resume polling from, e.g. loaded from pkg/storage on restart).
func New(log *zap.Logger, source chain.EventSource, incoming *executor.IncomingQueue, messages *message.Store, clock util.Clock, cfg Config, cursor uint64) *Ingestor {
	return &Ingestor{
		log: log, source: source, incoming: incoming, messages: messages, clock: clock, cfg: cfg, cursor: cursor,
		seen: newDedupCache(dedupCapacity), snap: storage.NopSnapshotter{},
		lastProgress: time.Now().UnixNano(),
	}
}

// LastProgress reports the last time poll returned, satisfying
// pkg/api.HeartbeatSource.
func (i *Ingestor) LastProgress() time.Time {
	return time.Unix(0, atomic.LoadInt64(&i.lastProgress))
}

// SetSnapshotter installs a persistence backend for the ingestor's cursor
// and the deposit messages it creates.
func (i *Ingestor) SetSnapshotter(s storage.Snapshotter) {
	i.snap = s
}

// Run polls until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) {
	interval := millis(i.cfg.PollIntervalMs)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := i.poll(ctx); err != nil {
			i.log.Error("deposit poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-i.clock.After(interval):
		}
	}
}

func (i *Ingestor) poll(ctx context.Context) error {
	defer atomic.StoreInt64(&i.lastProgress, time.Now().UnixNano())

	events, latest, err := i.source.PollDeposits(ctx, i.cursor)
	if err != nil {
		return err
	}

	for _, evt := range events {
		key := dedupKey{TxHash: evt.TxHash, EventIndex: evt.EventIndex}
		if i.seen.seen(key) {
			continue
		}

		msgID := depositMessageID(evt)
		m := i.messages.Create(msgID, message.KindDeposit, evt.User)
		if err := i.snap.SaveMessage(m); err != nil {
			i.log.Error("snapshot deposit message failed", zap.String("message_id", msgID), zap.Error(err))
		}
		i.incoming.Enqueue(executor.Request{
			MessageID: msgID,
			Deposit: &executor.DepositRequest{
				TxHash:     evt.TxHash,
				EventIndex: evt.EventIndex,
				User:       evt.User,
				Asset:      evt.Asset,
				Amount:     evt.Amount,
			},
		})
	}

	if latest > i.cursor {
		i.cursor = latest
		if err := i.snap.SaveCursor(i.cursor); err != nil {
			i.log.Error("snapshot cursor failed", zap.Uint64("cursor", i.cursor), zap.Error(err))
		}
	}
	return nil
}

// depositMessageID derives a stable message ID from the event's dedup key,
// so re-polling the same event before it clears the executor's queue never
// produces two Message records for it.
func depositMessageID(evt chain.DepositEvent) string {
	return "deposit:" + evt.TxHash + ":" + itoa(evt.EventIndex)
}
