package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"candlecast/internal/model"
)

const (
	sendQueueSize = 256
	writeWait     = 10 * time.Second
	maxFrameSize  = 4096
)

// Client represents a single WebSocket session. Its room membership lives
// in the Registry; the rooms set here is guarded by the Registry's mutex.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	send chan []byte
	done chan struct{}

	// alive is cleared by the heartbeat sweep and set by any Pong frame or
	// application-level ping.
	alive atomic.Bool

	// rooms holds this session's room keys. Owned by Registry.mu, as is
	// gone, which marks a departed session so a subscribe racing the
	// disconnect cannot re-insert it into a room.
	rooms map[string]struct{}
	gone  bool

	closeOnce sync.Once
}

// trySend queues a frame without blocking. Returns false when the session
// is gone or its queue is full; the caller counts that as a send failure.
func (c *Client) trySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// sendJSON marshals and queues a frame, reporting whether it was queued.
func (c *Client) sendJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[session] json marshal error: %v", err)
		return false
	}
	if c.trySend(data) {
		return true
	}
	select {
	case <-c.done:
		// Session already closed; nothing to report.
	default:
		log.Printf("[session] %s send buffer full, dropping message", c.id)
	}
	return false
}

func (c *Client) sendError(msg string) {
	c.sendJSON(errorResponse{Type: "error", Message: msg})
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.dropSession(c)
		log.Printf("[session] %s disconnected", c.id)
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			c.sendError("Invalid message")
			continue
		}

		switch base.Type {
		case "subscribe":
			var sub subscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				c.sendError("Invalid message")
				continue
			}
			go c.handleSubscribe(sub)

		case "unsubscribe":
			var unsub unsubscribeMsg
			if err := json.Unmarshal(msg, &unsub); err != nil {
				c.sendError("Invalid message")
				continue
			}
			// Silently succeeds even when the session is not a member.
			c.hub.registry.Leave(c, unsub.Symbol, model.Interval(unsub.Interval))

		case "ping":
			c.alive.Store(true)
			c.sendJSON(pongResponse{Type: "pong"})

		default:
			if base.Type == "" {
				c.sendError("Invalid message")
			} else {
				c.sendError("Unknown message type: " + base.Type)
			}
		}
	}
}

// handleSubscribe validates the request, joins the room, and sends the
// initial history snapshot. A failed history fetch keeps the room
// membership: the client gets an error now and updates on later ticks.
func (c *Client) handleSubscribe(msg subscribeMsg) {
	iv, ok := model.ParseInterval(msg.Interval)
	if !ok {
		c.sendError(invalidIntervalMsg(msg.Interval))
		return
	}
	if !c.hub.allowedSymbol(msg.Symbol) {
		c.sendError(invalidSymbolMsg(msg.Symbol, c.hub.symbols))
		return
	}
	limit := clampInitialBars(msg.InitialBars)

	c.hub.registry.Join(c, msg.Symbol, iv)

	ctx, cancel := context.WithTimeout(context.Background(), c.hub.fetchTimeout)
	defer cancel()

	bars, err := c.hub.history.Snapshot(ctx, msg.Symbol, iv, limit)
	if err != nil {
		log.Printf("[session] %s history fetch %s:%s failed: %v", c.id, msg.Symbol, iv, err)
		c.sendError(errFailedSubscribe)
		c.hub.registry.MarkReady(c, msg.Symbol, iv)
		return
	}

	// The room only starts receiving updates once the initial snapshot is
	// actually on the wire; a dropped initial means the client resubscribes.
	if !c.sendJSON(initialResponse{
		Type:     "initial",
		Symbol:   msg.Symbol,
		Interval: string(iv),
		Bars:     bars,
	}) {
		log.Printf("[session] %s initial %s:%s not queued", c.id, msg.Symbol, iv)
		return
	}
	c.hub.registry.MarkReady(c, msg.Symbol, iv)
	log.Printf("[session] %s subscribed %s:%s (%d bars)", c.id, msg.Symbol, iv, len(bars))
}
