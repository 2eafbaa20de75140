package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"candlecast/internal/model"
)

// fakeSource returns a fixed candle for every (symbol, interval) asked.
type fakeSource struct {
	candle model.Candle
	ok     bool
}

func (f *fakeSource) Current(symbol string, iv model.Interval, now time.Time) (model.Candle, bool) {
	return f.candle, f.ok
}

func newTestClient() *Client {
	c := &Client{
		id:    "test",
		send:  make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
	return c
}

func drain(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		return nil
	}
}

func TestRegistry_JoinLeaveLifecycle(t *testing.T) {
	r := NewRegistry(&fakeSource{})
	c := newTestClient()

	r.Join(c, "BTC/USDT", model.Interval5m)
	if r.RoomCount() != 1 {
		t.Fatalf("room count after join: got %d, want 1", r.RoomCount())
	}

	// Rejoin is idempotent for room count.
	r.Join(c, "BTC/USDT", model.Interval5m)
	if r.RoomCount() != 1 {
		t.Fatalf("room count after rejoin: got %d, want 1", r.RoomCount())
	}

	// Room is deleted the moment its last client leaves.
	r.Leave(c, "BTC/USDT", model.Interval5m)
	if r.RoomCount() != 0 {
		t.Fatalf("room count after leave: got %d, want 0", r.RoomCount())
	}

	// Leaving a room you are not in is a no-op.
	r.Leave(c, "BTC/USDT", model.Interval1h)
}

func TestRegistry_LeaveAllCleansEverything(t *testing.T) {
	r := NewRegistry(&fakeSource{})
	c1 := newTestClient()
	c2 := newTestClient()

	r.Join(c1, "BTC/USDT", model.Interval1m)
	r.Join(c1, "BTC/USDT", model.Interval5m)
	r.Join(c2, "BTC/USDT", model.Interval5m)

	r.LeaveAll(c1)
	if r.RoomCount() != 1 {
		t.Fatalf("room count: got %d, want 1 (5m still has c2)", r.RoomCount())
	}
	if len(c1.rooms) != 0 {
		t.Errorf("client room set not cleared: %v", c1.rooms)
	}

	s := r.Stats()
	if s.TotalClients != 1 {
		t.Errorf("total clients: got %d, want 1", s.TotalClients)
	}
}

func TestRegistry_JoinAfterLeaveAllIsNoOp(t *testing.T) {
	r := NewRegistry(&fakeSource{})
	c := newTestClient()

	r.Join(c, "BTC/USDT", model.Interval1m)
	r.LeaveAll(c)

	// A subscribe handler racing the disconnect lands after LeaveAll; the
	// departed client must not resurrect the room.
	r.Join(c, "BTC/USDT", model.Interval1m)
	if r.RoomCount() != 0 {
		t.Fatalf("room count after late join: got %d, want 0", r.RoomCount())
	}
	if len(c.rooms) != 0 {
		t.Errorf("departed client kept room keys: %v", c.rooms)
	}

	r.MarkReady(c, "BTC/USDT", model.Interval1m)
	if r.Stats().TotalClients != 0 {
		t.Errorf("departed client counted in stats")
	}
}

func TestRegistry_RefreshStoresCurrent(t *testing.T) {
	src := &fakeSource{
		candle: model.Candle{Time: time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC), Close: 42},
		ok:     true,
	}
	r := NewRegistry(src)
	c := newTestClient()
	r.Join(c, "BTC/USDT", model.Interval5m)
	r.Join(c, "ETH/USDT", model.Interval5m)

	r.Refresh("BTC/USDT")

	s := r.Stats()
	for _, rm := range s.Rooms {
		switch rm.Key {
		case "BTC/USDT:5m":
			if !rm.HasCandle {
				t.Error("BTC room should have a candle after refresh")
			}
		case "ETH/USDT:5m":
			if rm.HasCandle {
				t.Error("ETH room must not be touched by a BTC refresh")
			}
		}
	}
}

func TestDispatch_SendsOnlyToReadyClients(t *testing.T) {
	src := &fakeSource{candle: model.Candle{Close: 7}, ok: true}
	r := NewRegistry(src)
	ready := newTestClient()
	pending := newTestClient()

	r.Join(ready, "BTC/USDT", model.Interval1m)
	r.Join(pending, "BTC/USDT", model.Interval1m)
	r.MarkReady(ready, "BTC/USDT", model.Interval1m)
	r.Refresh("BTC/USDT")

	r.dispatch(time.Now())

	if msg := drain(t, ready); msg == nil {
		t.Fatal("ready client got no update")
	} else {
		var u updateResponse
		if err := json.Unmarshal(msg, &u); err != nil || u.Type != "update" || u.Bar.Close != 7 {
			t.Errorf("unexpected update frame: %s (err=%v)", msg, err)
		}
	}
	if msg := drain(t, pending); msg != nil {
		t.Errorf("pending client received update before initial: %s", msg)
	}
}

func TestDispatch_ThrottlesPerRoom(t *testing.T) {
	src := &fakeSource{candle: model.Candle{Close: 1}, ok: true}
	r := NewRegistry(src)
	c := newTestClient()
	r.Join(c, "BTC/USDT", model.Interval1m)
	r.MarkReady(c, "BTC/USDT", model.Interval1m)
	r.Refresh("BTC/USDT")

	now := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	r.dispatch(now)
	if drain(t, c) == nil {
		t.Fatal("first dispatch should send")
	}

	// Within the throttle window nothing is sent, even with a fresh candle.
	r.Refresh("BTC/USDT")
	r.dispatch(now.Add(300 * time.Millisecond))
	if drain(t, c) != nil {
		t.Fatal("dispatch inside throttle window must not send")
	}

	// One full period later the room is due again.
	r.dispatch(now.Add(BroadcastPeriod))
	if drain(t, c) == nil {
		t.Fatal("dispatch after full period should send")
	}
}

func TestDispatch_SkipsRoomsWithoutCandle(t *testing.T) {
	r := NewRegistry(&fakeSource{ok: false})
	c := newTestClient()
	r.Join(c, "BTC/USDT", model.Interval1m)
	r.MarkReady(c, "BTC/USDT", model.Interval1m)
	r.Refresh("BTC/USDT")

	r.dispatch(time.Now())
	if drain(t, c) != nil {
		t.Error("room with no candle must not broadcast")
	}
}

func TestDispatch_CountsSendFailures(t *testing.T) {
	src := &fakeSource{candle: model.Candle{Close: 1}, ok: true}
	r := NewRegistry(src)

	var failures int
	r.OnSendFailure = func() { failures++ }

	c := newTestClient()
	c.send = make(chan []byte) // unbuffered and never read: every send fails
	r.Join(c, "BTC/USDT", model.Interval1m)
	r.MarkReady(c, "BTC/USDT", model.Interval1m)
	r.Refresh("BTC/USDT")

	r.dispatch(time.Now())

	if failures != 1 {
		t.Errorf("send failures: got %d, want 1", failures)
	}
	// The failing client stays a member; failures do not evict.
	if r.Stats().TotalClients != 1 {
		t.Errorf("client evicted on send failure")
	}
}
