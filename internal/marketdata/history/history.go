package history

import (
	"context"
	"errors"
	"log"
	"time"

	"candlecast/internal/marketdata/agg"
	"candlecast/internal/model"
)

// DefaultFetchTimeout bounds a single history fetch.
const DefaultFetchTimeout = 10 * time.Second

// ErrNoStore is returned by Snapshot when the service was built without a
// backing store.
var ErrNoStore = errors.New("history: no store configured")

// Store loads persisted candles, ascending by time.
type Store interface {
	Fetch(ctx context.Context, symbol string, iv model.Interval, limit int) ([]model.Candle, error)
}

// Window is the aggregator surface the service warms.
type Window interface {
	Initialize(symbol string, candles []model.Candle)
	WindowLen(symbol string) int
}

// Service answers snapshot requests from the store and keeps the rolling
// window warm: eagerly at startup, lazily when a higher timeframe is
// requested against an empty window.
type Service struct {
	store Store
	agg   Window

	FetchTimeout time.Duration

	// Metrics hooks (optional, set externally)
	OnFetch      func(elapsed time.Duration)
	OnFetchError func()
}

// NewService creates a history service. store may be nil; snapshots then
// fail and warmups are skipped.
func NewService(store Store, a Window) *Service {
	return &Service{store: store, agg: a, FetchTimeout: DefaultFetchTimeout}
}

// WarmUp seeds every symbol's window with its most recent 1m candles.
// Failures are logged and skipped: the window fills from the live stream.
func (s *Service) WarmUp(ctx context.Context, symbols []string) {
	if s.store == nil {
		log.Printf("[history] no store, skipping warmup")
		return
	}
	for _, sym := range symbols {
		candles, err := s.fetch(ctx, sym, model.Interval1m, agg.Max1m)
		if err != nil {
			log.Printf("[history] warmup %s failed: %v", sym, err)
			continue
		}
		s.agg.Initialize(sym, candles)
		log.Printf("[history] warmed %s with %d candles", sym, len(candles))
	}
}

// Snapshot returns up to limit closed bars for the pair, ascending. When a
// higher timeframe is requested against an empty window, the window is
// warmed first so the forming aggregate has contributors.
func (s *Service) Snapshot(ctx context.Context, symbol string, iv model.Interval, limit int) ([]model.Candle, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}

	if iv != model.Interval1m && s.agg.WindowLen(symbol) == 0 {
		if candles, err := s.fetch(ctx, symbol, model.Interval1m, agg.Max1m); err != nil {
			log.Printf("[history] lazy warmup %s failed: %v", symbol, err)
		} else {
			s.agg.Initialize(symbol, candles)
		}
	}

	return s.fetch(ctx, symbol, iv, limit)
}

func (s *Service) fetch(ctx context.Context, symbol string, iv model.Interval, limit int) ([]model.Candle, error) {
	timeout := s.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	candles, err := s.store.Fetch(ctx, symbol, iv, limit)
	if err != nil {
		if s.OnFetchError != nil {
			s.OnFetchError()
		}
		return nil, err
	}
	if s.OnFetch != nil {
		s.OnFetch(time.Since(start))
	}
	return candles, nil
}
