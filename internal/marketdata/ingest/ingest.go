package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"candlecast/internal/marketdata/agg"
	"candlecast/internal/model"
)

const (
	backoffInitial = 500 * time.Millisecond
	backoffMax     = 30 * time.Second
)

// Aggregator is the slice of agg.Aggregator the consumer needs.
type Aggregator interface {
	Ingest(symbol string, c model.Candle) error
}

// Refresher is notified after each accepted candle so rooms re-read their
// current aggregate. Satisfied by gateway.Registry.
type Refresher interface {
	Refresh(symbol string)
}

// Consumer subscribes to the upstream 1m candle channels and feeds the
// aggregator. It reconnects forever with jittered exponential backoff.
type Consumer struct {
	rdb     *redis.Client
	agg     Aggregator
	rooms   Refresher
	symbols []string

	// Metrics hooks (optional, set externally)
	OnCandle    func()
	OnRejected  func()
	OnReconnect func()
}

// NewConsumer creates a consumer for the given symbols.
func NewConsumer(rdb *redis.Client, a Aggregator, rooms Refresher, symbols []string) *Consumer {
	return &Consumer{rdb: rdb, agg: a, rooms: rooms, symbols: symbols}
}

// ChannelFor returns the upstream channel carrying a symbol's 1m candles.
func ChannelFor(symbol string) string {
	return "candles:" + symbol + ":1m"
}

// symbolFromChannel inverts ChannelFor. Returns false for channels that do
// not match the expected shape.
func symbolFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, "candles:") || !strings.HasSuffix(channel, ":1m") {
		return "", false
	}
	sym := strings.TrimSuffix(strings.TrimPrefix(channel, "candles:"), ":1m")
	if sym == "" {
		return "", false
	}
	return sym, true
}

// Run consumes until ctx is cancelled. Subscription failures and dropped
// connections trigger a reconnect; candles published while disconnected
// are lost, the warm window catches the stream back up.
func (c *Consumer) Run(ctx context.Context) {
	channels := make([]string, len(c.symbols))
	for i, s := range c.symbols {
		channels[i] = ChannelFor(s)
	}

	backoff := backoffInitial
	for {
		if err := c.consume(ctx, channels); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[ingest] stream error: %v, retrying in %v", err, backoff)
			if c.OnReconnect != nil {
				c.OnReconnect()
			}
			if !sleepCtx(ctx, jitter(backoff)) {
				return
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		return
	}
}

// consume runs one subscription session. Returns nil only on ctx
// cancellation.
func (c *Consumer) consume(ctx context.Context, channels []string) error {
	sub := c.rdb.Subscribe(ctx, channels...)
	defer sub.Close()

	// Wait for the subscription confirmation before trusting the stream.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[ingest] subscribed to %d channels", len(channels))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			c.handleMessage(msg.Channel, []byte(msg.Payload))
		}
	}
}

// handleMessage parses, validates and ingests one published candle, then
// refreshes the symbol's rooms.
func (c *Consumer) handleMessage(channel string, payload []byte) {
	symbol, ok := symbolFromChannel(channel)
	if !ok {
		log.Printf("[ingest] message on unexpected channel %q", channel)
		return
	}

	var candle model.Candle
	if err := json.Unmarshal(payload, &candle); err != nil {
		log.Printf("[ingest] %s: bad payload: %v", symbol, err)
		c.rejected()
		return
	}
	if err := candle.Validate(); err != nil {
		log.Printf("[ingest] %s: invalid candle: %v", symbol, err)
		c.rejected()
		return
	}
	// Upstream publishes minute bars; anything not minute-aligned is a
	// producer bug, not a candle.
	if !candle.Time.Equal(model.Interval1m.BucketStart(candle.Time)) {
		log.Printf("[ingest] %s: candle time %v not minute-aligned", symbol, candle.Time)
		c.rejected()
		return
	}

	if err := c.agg.Ingest(symbol, candle); err != nil {
		if errors.Is(err, agg.ErrOutOfOrder) {
			log.Printf("[ingest] %s: dropped out-of-order candle at %v", symbol, candle.Time)
		} else {
			log.Printf("[ingest] %s: ingest failed: %v", symbol, err)
		}
		c.rejected()
		return
	}

	if c.OnCandle != nil {
		c.OnCandle()
	}
	if c.rooms != nil {
		c.rooms.Refresh(symbol)
	}
}

func (c *Consumer) rejected() {
	if c.OnRejected != nil {
		c.OnRejected()
	}
}

// jitter spreads reconnect attempts over [d, 1.5d) so the base delay is
// never undercut.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d/2)))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
