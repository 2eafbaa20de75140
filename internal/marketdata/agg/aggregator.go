// Package agg maintains a rolling window of 1-minute candles per symbol and
// derives higher-timeframe candles from it on demand. It is pure in-memory:
// no I/O, no blocking. All operations are serialized by a single mutex.
package agg

import (
	"errors"
	"sort"
	"sync"
	"time"

	"candlecast/internal/model"
)

// Max1m is the window capacity: one day of 1-minute candles.
const Max1m = 1440

// ErrOutOfOrder is returned by Ingest when a candle's time is strictly
// before the window tail. The caller logs and drops it; it never reaches
// the network.
var ErrOutOfOrder = errors.New("agg: candle older than window tail")

// Aggregator holds the per-symbol 1m windows.
type Aggregator struct {
	mu      sync.Mutex
	windows map[string]*window
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{windows: make(map[string]*window)}
}

// Ingest incorporates a 1m candle. A candle for the same bar as the tail
// overwrites it (the bar is still forming); a newer candle is appended,
// evicting the head when the window is full; an older candle is rejected
// with ErrOutOfOrder.
func (a *Aggregator) Ingest(symbol string, c model.Candle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.windows[symbol]
	if w == nil {
		w = newWindow(Max1m)
		a.windows[symbol] = w
	}

	if tail := w.tail(); tail != nil {
		if c.Time.Equal(tail.Time) {
			*tail = c
			return nil
		}
		if c.Time.Before(tail.Time) {
			return ErrOutOfOrder
		}
	}
	w.push(c)
	return nil
}

// Initialize replaces the symbol's window with the sorted-by-time tail of
// candles, truncated to the last Max1m. Idempotent with respect to content.
func (a *Aggregator) Initialize(symbol string, candles []model.Candle) {
	sorted := append([]model.Candle(nil), candles...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	if len(sorted) > Max1m {
		sorted = sorted[len(sorted)-Max1m:]
	}

	w := newWindow(Max1m)
	for _, c := range sorted {
		w.push(c)
	}

	a.mu.Lock()
	a.windows[symbol] = w
	a.mu.Unlock()
}

// Current returns the aggregated candle for the bar containing now, or
// false if the window has no candles in that bar. For 1m the tail candle
// is returned directly.
func (a *Aggregator) Current(symbol string, iv model.Interval, now time.Time) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.windows[symbol]
	if w == nil || w.len() == 0 {
		return model.Candle{}, false
	}

	if iv == model.Interval1m {
		return *w.tail(), true
	}

	barStart := iv.BucketStart(now)
	barEnd := barStart.Add(iv.Duration())

	var (
		out       model.Candle
		qvSum     float64
		qvPresent bool
		found     bool
	)

	// Walk newest → oldest; everything before barStart is out of the bar.
	for i := w.len() - 1; i >= 0; i-- {
		c := w.at(i)
		if !c.Time.Before(barEnd) {
			continue
		}
		if c.Time.Before(barStart) {
			break
		}

		if !found {
			out = *c
			found = true
		} else {
			if c.High > out.High {
				out.High = c.High
			}
			if c.Low < out.Low {
				out.Low = c.Low
			}
			// Walking backwards, so this candle is earlier: it owns the open.
			out.Open = c.Open
			out.Volume += c.Volume
		}
		if c.QuoteVolume != nil {
			qvSum += *c.QuoteVolume
			qvPresent = true
		}
	}

	if !found {
		return model.Candle{}, false
	}

	out.Time = barStart
	if qvPresent {
		qv := qvSum
		out.QuoteVolume = &qv
	} else {
		out.QuoteVolume = nil
	}
	return out, true
}

// Window returns a copy of the symbol's 1m candles, oldest first.
func (a *Aggregator) Window(symbol string) []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.windows[symbol]
	if w == nil {
		return nil
	}
	return w.slice()
}

// WindowLen returns the number of 1m candles held for the symbol.
func (a *Aggregator) WindowLen(symbol string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.windows[symbol]
	if w == nil {
		return 0
	}
	return w.len()
}
