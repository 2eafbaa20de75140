package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"candlecast/internal/model"
)

// DefaultHeartbeatPeriod is the liveness sweep interval. A session that
// answers nothing for one full period is terminated.
const DefaultHeartbeatPeriod = 30 * time.Second

// HistorySource supplies snapshot bars for the initial subscribe payload.
// Satisfied by history.Service.
type HistorySource interface {
	Snapshot(ctx context.Context, symbol string, iv model.Interval, limit int) ([]model.Candle, error)
}

// Hub owns the WebSocket sessions: accepting them, sweeping dead ones,
// and tearing them all down on shutdown. Room membership is the
// Registry's business; the hub only tracks connections.
type Hub struct {
	registry *Registry
	history  HistorySource
	symbols  []string

	mu      sync.RWMutex
	clients map[*Client]struct{}
	nextID  uint64

	// HeartbeatPeriod defaults to DefaultHeartbeatPeriod; overridable
	// before RunHeartbeat starts.
	HeartbeatPeriod time.Duration
	fetchTimeout    time.Duration

	// Metrics hooks (optional, set externally)
	OnConnect          func()
	OnDisconnect       func()
	OnHeartbeatTimeout func()
}

// NewHub creates a hub serving the given symbols. fetchTimeout bounds the
// per-subscribe history fetch.
func NewHub(registry *Registry, history HistorySource, symbols []string, fetchTimeout time.Duration) *Hub {
	return &Hub{
		registry:        registry,
		history:         history,
		symbols:         symbols,
		clients:         make(map[*Client]struct{}),
		HeartbeatPeriod: DefaultHeartbeatPeriod,
		fetchTimeout:    fetchTimeout,
	}
}

func (h *Hub) allowedSymbol(symbol string) bool {
	for _, s := range h.symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// HandleWS upgrades the request and starts the session pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.nextID++
	c := &Client{
		id:    fmt.Sprintf("session-%d", h.nextID),
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
	c.alive.Store(true)
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.OnConnect != nil {
		h.OnConnect()
	}
	log.Printf("[hub] %s connected from %s", c.id, r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

// dropSession removes the client from every room and the hub, closing the
// connection. Safe to call from any goroutine, any number of times.
func (h *Hub) dropSession(c *Client) {
	c.closeOnce.Do(func() {
		h.registry.LeaveAll(c)

		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()

		close(c.done)
		c.conn.Close()

		if h.OnDisconnect != nil {
			h.OnDisconnect()
		}
	})
}

// RunHeartbeat sweeps sessions every HeartbeatPeriod. A session that was
// not seen alive since the previous sweep is closed hard; a live one has
// its flag cleared and gets a protocol-level Ping to answer before the
// next sweep. Blocks until ctx is cancelled.
func (h *Hub) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(h.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		if !c.alive.Load() {
			log.Printf("[hub] %s heartbeat timeout, closing", c.id)
			if h.OnHeartbeatTimeout != nil {
				h.OnHeartbeatTimeout()
			}
			h.dropSession(c)
			continue
		}
		c.alive.Store(false)
		// WriteControl is safe concurrently with the write pump.
		c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every session with a normal-closure frame. Returns once
// all sessions are dropped or ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	for _, c := range snapshot {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		h.dropSession(c)
	}

	for {
		if h.ClientCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
