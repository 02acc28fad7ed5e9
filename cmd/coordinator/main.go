// Command coordinator runs the dark-pool off-chain coordinator of
// spec.md: the single-consumer executor, outgoing settlement processor,
// deposit ingestor, and the HTTP/WebSocket API surface, wired together and
// run to completion or until an interrupt signal. Grounded on the
// teacher's cmd/node/main.go shape (config load, logger, signal-driven
// shutdown, background goroutines for each long-running component) with
// the consensus/p2p/ABCI machinery stripped: the coordinator has no
// distributed agreement to run, just the serialized executor loop.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/lumendark/darkpool/pkg/api"
	"github.com/lumendark/darkpool/pkg/book"
	"github.com/lumendark/darkpool/pkg/chain"
	"github.com/lumendark/darkpool/pkg/executor"
	"github.com/lumendark/darkpool/pkg/ingestor"
	"github.com/lumendark/darkpool/pkg/ledger"
	"github.com/lumendark/darkpool/pkg/message"
	"github.com/lumendark/darkpool/pkg/outgoing"
	"github.com/lumendark/darkpool/pkg/params"
	"github.com/lumendark/darkpool/pkg/storage"
	"github.com/lumendark/darkpool/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	led := ledger.New()
	bk := book.New()
	messages := message.New()
	incoming := executor.NewIncomingQueue(1024)
	outgoingQueue := chain.NewOutgoingQueue(1024)

	snap, cursor, depositSeen := setupSnapshotter(logger, led, bk, messages)
	defer snap.Close()

	exec := executor.New(logger, led, bk, messages, incoming, outgoingQueue)
	exec.SetSnapshotter(snap)
	exec.RestoreDepositSeen(depositSeen)

	submitter, source, mockSource := setupChain(cfg)

	proc := outgoing.New(logger, submitter, outgoingQueue, messages, incoming, outgoing.Config{
		RetryMax:         cfg.OutgoingRetryMax,
		BackoffInitialMs: int(cfg.OutgoingBackoffInitial.Milliseconds()),
		BackoffCapMs:     int(cfg.OutgoingBackoffCap.Milliseconds()),
	})
	proc.SetSnapshotter(snap)

	ing := ingestor.New(logger, source, incoming, messages, util.RealClock{}, ingestor.Config{
		PollIntervalMs: int(cfg.IngestorPollInterval.Milliseconds()),
	}, cursor)
	ing.SetSnapshotter(snap)

	apiAddr := os.Getenv("API_ADDR")
	if apiAddr == "" {
		apiAddr = ":8080"
	}
	server := api.NewServer(logger, incoming, messages, cfg.TimestampSkewWindow)
	exec.SetTradeSink(server.BroadcastTrade)
	server.SetHeartbeats(exec, proc, ing)
	if mockSource != nil {
		server.SetMockDepositSource(mockSource)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg conc.WaitGroup
	wg.Go(exec.Run)
	wg.Go(func() { proc.Run(ctx) })
	wg.Go(func() { ing.Run(ctx) })

	// The API server's http.ListenAndServe has no ctx-aware shutdown path,
	// so (matching the teacher's cmd/node/main.go) it runs detached from
	// the lifecycle WaitGroup: process exit is what stops it.
	go func() {
		if err := server.Start(apiAddr); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	logger.Info("coordinator started")
	<-ctx.Done()
	logger.Info("shutdown signal received")
	incoming.Close()
	wg.Wait()
}

// setupChain selects the chain integration the outgoing processor and
// ingestor drive. No real chain client ships in this repo (see
// DESIGN.md's pkg/chain entry): MockSubmitter/MockEventSource are the
// only Submitter/EventSource implementations, and spec.md §9 documents
// running them as a first-class runtime mode, not just a test double. The
// third return value is non-nil only for the mock path, letting main wire
// the admin mock-deposit endpoint to it.
func setupChain(cfg params.Config) (chain.Submitter, chain.EventSource, *chain.MockEventSource) {
	if cfg.ChainRPCURL != "" {
		log.Printf("chain_rpc_url set but no real chain client is wired; falling back to the mock submitter/event source")
	}
	mockSource := &chain.MockEventSource{}
	return &chain.MockSubmitter{}, mockSource, mockSource
}

// setupSnapshotter opens the durable Pebble-backed Snapshotter when
// SNAPSHOT_DB_PATH is set, replaying its persisted state into the ledger,
// order book, message store, and the executor's deposit dedup set before
// the executor starts; otherwise it returns the no-op default, a zero
// cursor, and no deposit keys, matching spec.md's Non-goal of persistence
// across restarts.
func setupSnapshotter(logger *zap.Logger, led *ledger.Ledger, bk *book.OrderBook, messages *message.Store) (storage.Snapshotter, uint64, []string) {
	path := os.Getenv("SNAPSHOT_DB_PATH")
	if path == "" {
		return storage.NopSnapshotter{}, 0, nil
	}

	pebbleSnap, err := storage.NewPebbleSnapshotter(path)
	if err != nil {
		logger.Fatal("open snapshot db failed", zap.Error(err))
	}

	balances, err := pebbleSnap.LoadBalances()
	if err != nil {
		logger.Fatal("load balances failed", zap.Error(err))
	}
	for user, byAsset := range balances {
		for asset, bal := range byAsset {
			led.Restore(user, asset, bal)
		}
	}

	orders, err := pebbleSnap.LoadOpenOrders()
	if err != nil {
		logger.Fatal("load open orders failed", zap.Error(err))
	}
	for _, o := range orders {
		bk.Restore(o)
	}

	msgs, err := pebbleSnap.LoadMessages()
	if err != nil {
		logger.Fatal("load messages failed", zap.Error(err))
	}
	for _, m := range msgs {
		messages.Restore(m)
	}

	cursor, _, err := pebbleSnap.LoadCursor()
	if err != nil {
		logger.Fatal("load cursor failed", zap.Error(err))
	}

	depositSeen, err := pebbleSnap.LoadDepositSeen()
	if err != nil {
		logger.Fatal("load deposit-seen failed", zap.Error(err))
	}

	logger.Info("snapshot state restored",
		zap.Int("balances", len(balances)), zap.Int("orders", len(orders)),
		zap.Int("messages", len(msgs)), zap.Uint64("cursor", cursor), zap.Int("deposit_seen", len(depositSeen)))
	return pebbleSnap, cursor, depositSeen
}
