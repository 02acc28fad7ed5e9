// WebSocket transport for the public trade tape (spec.md §6). The venue
// has exactly one channel worth publishing: completed fills. Unlike the
// teacher's arbitrary-channel pub-sub (built for orderbook/position/market
// topics that no longer exist here), a client's subscription set is
// reduced to a single bool — subscribed to "trades" or not — since the
// dark-pool privacy invariant means no other channel will ever carry
// data. Subscribing to any other name is accepted (so a client written
// against a richer API doesn't hard-fail) but is a no-op.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const tradesChannel = "trades"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub tracks connected WebSocket clients and fans out trade prints to
// whichever of them are subscribed to the trades channel.
type Hub struct {
	log *zap.Logger

	clients map[*Client]bool

	broadcast  chan TradePrint
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a Hub. Run must be started before any trade print is
// delivered.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan TradePrint, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's single-goroutine event loop: registration,
// deregistration, and fan-out all happen here so client bookkeeping never
// needs its own lock beyond mu (held briefly around each registration
// change and each broadcast fan-out).
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case print := <-h.broadcast:
			payload, err := json.Marshal(print)
			if err != nil {
				h.log.Error("trade print marshal failed", zap.Error(err))
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				if !client.subscribed() {
					continue
				}
				select {
				case client.send <- payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastTrade queues a trade print for delivery to every subscribed
// client. Never blocks: when the hub's buffer is full the print is dropped
// and logged; the hub's own loop applies backpressure per client.
func (h *Hub) BroadcastTrade(print TradePrint) {
	select {
	case h.broadcast <- print:
	default:
		h.log.Warn("trade tape buffer full, dropping trade print", zap.Uint64("trade_id", print.TradeID))
	}
}

// Client is one WebSocket connection. Its only piece of state is whether
// it has subscribed to the trades channel — the teacher's arbitrary
// channel-name map has no use here since there is only ever one channel.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subsMu sync.RWMutex
	subbed bool
}

func (c *Client) subscribed() bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subbed
}

func (c *Client) setSubscribed(v bool) {
	c.subsMu.Lock()
	c.subbed = v
	c.subsMu.Unlock()
}

// applySubscription handles one (un)subscribe request. Only the "trades"
// channel name has any effect; any other channel is accepted silently
// since nothing else will ever be published.
func (c *Client) applySubscription(req WSSubscribeRequest) {
	wantsTrades := false
	for _, ch := range req.Channels {
		if ch == tradesChannel {
			wantsTrades = true
			break
		}
	}
	if !wantsTrades {
		return
	}
	switch req.Op {
	case "subscribe":
		c.setSubscribed(true)
	case "unsubscribe":
		c.setSubscribed(false)
	}
}

// readPump reads (un)subscribe requests until the connection closes.
// Clients never publish data themselves — the trade tape is read-only —
// so this pump's only job is maintaining the subscription flag.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req WSSubscribeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		c.applySubscription(req)
	}
}

// writePump delivers queued trade prints and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades the connection and starts its pumps. A client
// starts unsubscribed; it must send {"op":"subscribe","channels":["trades"]}
// to receive anything.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
