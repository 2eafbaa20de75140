package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"candlecast/internal/model"
)

// BroadcastPeriod is the per-room throttle floor: no room emits more than
// one update per period, regardless of how fast candles arrive.
const BroadcastPeriod = time.Second

// CandleSource supplies the current candle for a (symbol, interval) pair.
// Satisfied by agg.Aggregator.
type CandleSource interface {
	Current(symbol string, iv model.Interval, now time.Time) (model.Candle, bool)
}

// room groups the clients subscribed to one (symbol, interval) pair.
// A room exists iff it has at least one client.
type room struct {
	symbol   string
	interval model.Interval

	// clients maps member → ready. A member becomes ready once its initial
	// snapshot (or the subscribe error) has been queued, so no update can
	// overtake the initial on the same connection.
	clients map[*Client]bool

	current       *model.Candle
	lastBroadcast time.Time
}

func roomKey(symbol string, iv model.Interval) string {
	return symbol + ":" + string(iv)
}

// Registry owns all rooms and runs the throttled dispatch loop. Every
// mutation is serialized under one mutex; LeaveAll and dispatch walk the
// whole registry, so per-room locking would buy nothing.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*room
	source CandleSource

	// Metrics hooks (optional, set externally)
	OnUpdateSent  func()
	OnSendFailure func()
	OnRoomCount   func(n int)
}

// NewRegistry creates an empty room registry reading candles from source.
func NewRegistry(source CandleSource) *Registry {
	return &Registry{
		rooms:  make(map[string]*room),
		source: source,
	}
}

// Join adds the client to the (symbol, interval) room, creating it lazily.
// Idempotent for repeated joins; a rejoin resets the ready flag until the
// new initial snapshot is queued. A client already removed by LeaveAll is
// never re-inserted, so a subscribe racing the disconnect cannot leave a
// room behind.
func (r *Registry) Join(c *Client, symbol string, iv model.Interval) {
	key := roomKey(symbol, iv)

	r.mu.Lock()
	if c.gone {
		r.mu.Unlock()
		return
	}
	rm := r.rooms[key]
	if rm == nil {
		rm = &room{
			symbol:   symbol,
			interval: iv,
			clients:  make(map[*Client]bool),
		}
		r.rooms[key] = rm
	}
	rm.clients[c] = false
	c.rooms[key] = struct{}{}
	n := len(r.rooms)
	r.mu.Unlock()

	r.roomCountChanged(n)
}

// MarkReady flags the client as eligible for updates in the room. No-op if
// the client already left.
func (r *Registry) MarkReady(c *Client, symbol string, iv model.Interval) {
	r.mu.Lock()
	if rm := r.rooms[roomKey(symbol, iv)]; rm != nil {
		if _, member := rm.clients[c]; member {
			rm.clients[c] = true
		}
	}
	r.mu.Unlock()
}

// Leave removes the client from the room, deleting the room when it
// empties. No-op if the client is not a member.
func (r *Registry) Leave(c *Client, symbol string, iv model.Interval) {
	key := roomKey(symbol, iv)

	r.mu.Lock()
	rm := r.rooms[key]
	if rm != nil {
		delete(rm.clients, c)
		if len(rm.clients) == 0 {
			delete(r.rooms, key)
		}
	}
	delete(c.rooms, key)
	n := len(r.rooms)
	r.mu.Unlock()

	r.roomCountChanged(n)
}

// LeaveAll removes the client from every room it belongs to, deleting any
// that become empty, and marks it departed. Called on disconnect and
// heartbeat termination.
func (r *Registry) LeaveAll(c *Client) {
	r.mu.Lock()
	c.gone = true
	for key := range c.rooms {
		if rm := r.rooms[key]; rm != nil {
			delete(rm.clients, c)
			if len(rm.clients) == 0 {
				delete(r.rooms, key)
			}
		}
		delete(c.rooms, key)
	}
	n := len(r.rooms)
	r.mu.Unlock()

	r.roomCountChanged(n)
}

// Refresh re-reads the current candle of every room whose symbol matches.
// Called by the ingest adapter after each upstream candle; it always
// observes the effects of the immediately preceding ingest.
func (r *Registry) Refresh(symbol string) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rm := range r.rooms {
		if rm.symbol != symbol {
			continue
		}
		if c, ok := r.source.Current(symbol, rm.interval, now); ok {
			rm.current = &c
		}
	}
}

// Run drives the dispatch loop: one tick per BroadcastPeriod walks all
// rooms. Blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(BroadcastPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.dispatch(now)
		}
	}
}

// dispatch emits each due room's current candle to its ready clients.
// lastBroadcast advances even when individual sends fail; disconnect
// detection belongs to the session layer, not here.
func (r *Registry) dispatch(now time.Time) {
	var sent, failed int

	r.mu.Lock()
	for _, rm := range r.rooms {
		if len(rm.clients) == 0 || rm.current == nil {
			continue
		}
		if !rm.lastBroadcast.IsZero() && now.Sub(rm.lastBroadcast) < BroadcastPeriod {
			continue
		}

		payload, err := json.Marshal(updateResponse{
			Type:     "update",
			Symbol:   rm.symbol,
			Interval: string(rm.interval),
			Bar:      *rm.current,
		})
		if err != nil {
			log.Printf("[rooms] marshal update for %s: %v", roomKey(rm.symbol, rm.interval), err)
			continue
		}

		rm.lastBroadcast = now
		for c, ready := range rm.clients {
			if !ready {
				continue
			}
			if c.trySend(payload) {
				sent++
			} else {
				failed++
			}
		}
	}
	r.mu.Unlock()

	if sent > 0 && r.OnUpdateSent != nil {
		for i := 0; i < sent; i++ {
			r.OnUpdateSent()
		}
	}
	if failed > 0 && r.OnSendFailure != nil {
		for i := 0; i < failed; i++ {
			r.OnSendFailure()
		}
	}
}

// ── Stats ──

// RoomStats is the per-room entry in a stats snapshot.
type RoomStats struct {
	Key             string `json:"key"`
	ClientCount     int    `json:"clientCount"`
	HasCandle       bool   `json:"hasCandle"`
	LastBroadcastAt int64  `json:"lastBroadcastAt"` // unix ms, 0 if never
}

// Stats is a read-only snapshot of the registry.
type Stats struct {
	TotalRooms   int         `json:"totalRooms"`
	TotalClients int         `json:"totalClients"`
	Rooms        []RoomStats `json:"rooms"`
}

// Stats returns a snapshot of all rooms. A session subscribed to N rooms
// counts N times in TotalClients.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		TotalRooms: len(r.rooms),
		Rooms:      make([]RoomStats, 0, len(r.rooms)),
	}
	for key, rm := range r.rooms {
		var last int64
		if !rm.lastBroadcast.IsZero() {
			last = rm.lastBroadcast.UnixMilli()
		}
		s.TotalClients += len(rm.clients)
		s.Rooms = append(s.Rooms, RoomStats{
			Key:             key,
			ClientCount:     len(rm.clients),
			HasCandle:       rm.current != nil,
			LastBroadcastAt: last,
		})
	}
	return s
}

// RoomCount returns the number of registered rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) roomCountChanged(n int) {
	if r.OnRoomCount != nil {
		r.OnRoomCount(n)
	}
}
