// Package api implements the coordinator's external HTTP/WebSocket
// surface of spec.md §6: signed order/cancel/withdrawal submission, a
// message-status endpoint, and a public trade tape. Grounded on the
// teacher's pkg/api/server.go (mux routing, gorilla/websocket hub, rs/cors
// setup) with every market/position/orderbook-depth handler dropped —
// the venue's privacy invariant means resting orders and book depth are
// never observable, so there is no orderbook endpoint to serve. Requests
// are authenticated with pkg/authsig and translated into
// executor.Request values enqueued on the shared incoming queue; this
// package never touches the ledger or order book directly.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumendark/darkpool/pkg/authsig"
	"github.com/lumendark/darkpool/pkg/chain"
	"github.com/lumendark/darkpool/pkg/executor"
	"github.com/lumendark/darkpool/pkg/matching"
	"github.com/lumendark/darkpool/pkg/message"
	"github.com/lumendark/darkpool/pkg/types"
)

var errMissingAuthHeaders = errors.New("api: missing X-Address/X-Signature/X-Timestamp header")
var errTooManyFractionalDigits = errors.New("api: decimal value has more than 7 fractional digits")

// readBody reads and closes the request body.
func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// parseFixedPoint converts a decimal string into an int64 in base units
// at types.Scale precision, the representation every downstream package
// operates on. spec.md §6 gives the wire format exactly 7 fractional
// digits of precision; a string with more than that is rejected rather
// than silently rounded, since rounding would let a caller believe an
// order priced or sized more precisely than the venue supports.
func parseFixedPoint(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.Exponent() < -7 {
		return 0, errTooManyFractionalDigits
	}
	return d.Mul(scaleFactor).Round(0).IntPart(), nil
}

var scaleFactor = decimal.New(1, 7) // types.Scale as a decimal, for wire<->fixed-point conversion

// Server handles the coordinator's REST API and WebSocket trade tape.
type Server struct {
	log      *zap.Logger
	router   *mux.Router
	hub      *Hub
	incoming *executor.IncomingQueue
	messages *message.Store
	skew     time.Duration

	// mockDeposits is non-nil only when cmd/coordinator is running against
	// chain.MockSubmitter/MockEventSource: it lets an operator simulate an
	// on-chain deposit over HTTP instead of a live chain event, so the
	// deposit -> credit -> message pipeline is exercisable end to end
	// without a real chain (spec.md §9's mock-submitter-as-runtime-mode
	// decision extended to the read side).
	mockDeposits *chain.MockEventSource

	// executor, processor, and ingestor report the last time their
	// respective agent loop completed a unit of work (spec.md §6's health
	// endpoint). Left nil (the default, e.g. in tests that build a Server
	// directly) they are simply omitted from the health response.
	executor  HeartbeatSource
	processor HeartbeatSource
	ingestor  HeartbeatSource
}

// HeartbeatSource reports the last time an agent goroutine made progress.
// pkg/executor.Executor, pkg/outgoing.Processor, and pkg/ingestor.Ingestor
// each implement it by stamping an atomic timestamp after every unit of
// work they complete, so a goroutine wedged inside a blocking call (a slow
// chain RPC, say) stops advancing its timestamp even though the process
// itself is still running.
type HeartbeatSource interface {
	LastProgress() time.Time
}

// NewServer builds a Server wired to the executor's incoming queue and
// the shared message store. skew bounds how far a signed request's
// timestamp may drift from the server's clock.
func NewServer(log *zap.Logger, incoming *executor.IncomingQueue, messages *message.Store, skew time.Duration) *Server {
	s := &Server{
		log:      log,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		incoming: incoming,
		messages: messages,
		skew:     skew,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/messages/{message_id}", s.handleGetMessage).Methods("GET")
	api.HandleFunc("/admin/mock-deposit", s.handleMockDeposit).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// SetMockDepositSource installs the mock chain's event source, enabling
// POST /api/v1/admin/mock-deposit. Left nil (the default), that endpoint
// responds 404 — a real chain has no equivalent HTTP-triggered deposit.
func (s *Server) SetMockDepositSource(src *chain.MockEventSource) {
	s.mockDeposits = src
}

// SetHeartbeats wires the three agent goroutines' liveness sources into
// /health. Any argument may be nil (the health response simply omits an
// agent it never received).
func (s *Server) SetHeartbeats(executor, processor, ingestor HeartbeatSource) {
	s.executor = executor
	s.processor = processor
	s.ingestor = ingestor
}

// Router returns the mux.Router wrapped in the CORS handler, for use with
// a custom http.Server (timeouts, TLS, and so on).
func (s *Server) Router() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Address", "X-Signature", "X-Timestamp"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
}

// BroadcastTrade is registered as the executor's trade sink. It is the
// only path by which book activity reaches the outside world, and it
// carries nothing beyond a completed fill's price, quantity, and ID —
// no participant identity, no resting-order information.
func (s *Server) BroadcastTrade(t matching.Trade) {
	print := TradePrint{
		Type:     "trade",
		TradeID:  t.ID,
		Price:    decimal.New(int64(t.Price), 0).DivRound(scaleFactor, 7).String(),
		Quantity: decimal.New(int64(t.Quantity), 0).DivRound(scaleFactor, 7).String(),
		Ts:       time.Now().UnixMilli(),
	}
	s.hub.BroadcastTrade(print)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	body, addr, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	var req SubmitOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	side, ok := types.ParseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid side", req.Side)
		return
	}

	price, err := parseFixedPoint(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	qty, err := parseFixedPoint(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}

	msgID := uuid.NewString()
	s.messages.Create(msgID, message.KindOrder, addr)
	s.incoming.Enqueue(executor.Request{
		MessageID: msgID,
		Order: &executor.OrderRequest{
			User:     addr,
			Side:     side,
			Price:    types.Price(price),
			Quantity: types.Amount(qty),
		},
	})

	respondJSON(w, http.StatusAccepted, MessageAccepted{MessageID: msgID, Status: message.Received.String()})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	body, addr, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	var req CancelOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	msgID := uuid.NewString()
	s.messages.Create(msgID, message.KindCancel, addr)
	s.incoming.Enqueue(executor.Request{
		MessageID: msgID,
		Cancel:    &executor.CancelRequest{User: addr, OrderID: req.OrderID},
	})

	respondJSON(w, http.StatusAccepted, MessageAccepted{MessageID: msgID, Status: message.Received.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	body, addr, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	var req WithdrawalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	asset, ok := types.ParseAsset(req.Asset)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset", req.Asset)
		return
	}
	amount, err := parseFixedPoint(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	msgID := uuid.NewString()
	s.messages.Create(msgID, message.KindWithdrawal, addr)
	s.incoming.Enqueue(executor.Request{
		MessageID: msgID,
		Withdraw:  &executor.WithdrawRequest{User: addr, Asset: asset, Amount: types.Amount(amount)},
	})

	respondJSON(w, http.StatusAccepted, MessageAccepted{MessageID: msgID, Status: message.Received.String()})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["message_id"]
	m, ok := s.messages.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "message not found", "")
		return
	}

	respondJSON(w, http.StatusOK, MessageView{
		MessageID: m.ID,
		Kind:      m.Kind.String(),
		Status:    m.Status.String(),
		Reason:    m.Reason,
		OrderID:   m.OrderID,
		TradeIDs:  m.TradeIDs,
		TxHash:    m.TxHash,
	})
}

// handleMockDeposit simulates an on-chain deposit event when the
// coordinator is running with chain.MockEventSource. It is unauthenticated
// (there is no chain signature to verify here — it stands in for the
// chain itself) and only reachable when a mock source was installed.
func (s *Server) handleMockDeposit(w http.ResponseWriter, r *http.Request) {
	if s.mockDeposits == nil {
		respondError(w, http.StatusNotFound, "mock deposits not enabled", "")
		return
	}

	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	var req MockDepositRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	asset, ok := types.ParseAsset(req.Asset)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset", req.Asset)
		return
	}
	amount, err := parseFixedPoint(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	evt := chain.DepositEvent{
		TxHash:     req.TxHash,
		EventIndex: req.EventIndex,
		User:       common.HexToAddress(req.User),
		Asset:      asset,
		Amount:     types.Amount(amount),
		LedgerSeq:  req.LedgerSeq,
	}
	s.mockDeposits.Push(evt)

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleHealth reports the coordinator's own liveness plus, for each agent
// goroutine that was wired in via SetHeartbeats, how long ago it last made
// progress. spec.md §6 requires this so an operator can tell a wedged
// executor, processor, or ingestor apart from one that is merely idle.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := HealthResponse{
		Status: "ok",
		Agents: make(map[string]AgentHealth, 3),
	}
	for name, src := range map[string]HeartbeatSource{
		"executor":  s.executor,
		"processor": s.processor,
		"ingestor":  s.ingestor,
	} {
		if src == nil {
			continue
		}
		last := src.LastProgress()
		resp.Agents[name] = AgentHealth{
			LastProgress: last,
			IdleFor:      now.Sub(last).Round(time.Millisecond).String(),
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// ==============================
// Authentication
// ==============================

// authenticate reads the X-Address/X-Signature/X-Timestamp headers,
// verifies the request envelope against the request body, and returns
// the body (so handlers don't re-read r.Body) and the authenticated
// address.
func (s *Server) authenticate(r *http.Request) ([]byte, types.Address, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, types.Address{}, err
	}

	addrHeader := r.Header.Get("X-Address")
	sigHeader := r.Header.Get("X-Signature")
	tsHeader := r.Header.Get("X-Timestamp")
	if addrHeader == "" || sigHeader == "" || tsHeader == "" {
		return nil, types.Address{}, errMissingAuthHeaders
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return nil, types.Address{}, err
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHeader, "0x"))
	if err != nil {
		return nil, types.Address{}, err
	}

	env := authsig.Envelope{
		Address:   common.HexToAddress(addrHeader),
		Timestamp: ts,
		Signature: sig,
	}
	if err := authsig.Verify(env, r.Method, r.URL.Path, body, time.Now(), s.skew); err != nil {
		return nil, types.Address{}, err
	}
	return body, env.Address, nil
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, detail string) {
	respondJSON(w, status, ErrorResponse{Error: errMsg, Message: detail})
}
