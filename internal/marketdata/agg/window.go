package agg

import "candlecast/internal/model"

// window is a fixed-capacity ring of 1m candles in time order. Appending
// beyond capacity evicts the oldest entry. Not goroutine-safe; the
// Aggregator serializes access under its own lock.
type window struct {
	buf   []model.Candle
	start int
	size  int
}

func newWindow(capacity int) *window {
	if capacity < 1 {
		capacity = 1
	}
	return &window{buf: make([]model.Candle, capacity)}
}

// push appends a candle, evicting the head when full.
func (w *window) push(c model.Candle) {
	idx := (w.start + w.size) % len(w.buf)
	w.buf[idx] = c
	if w.size < len(w.buf) {
		w.size++
	} else {
		// Overwrote the head slot
		w.start = (w.start + 1) % len(w.buf)
	}
}

// at returns the candle at logical index i (0 = oldest).
func (w *window) at(i int) *model.Candle {
	return &w.buf[(w.start+i)%len(w.buf)]
}

// tail returns the newest candle, or nil if empty.
func (w *window) tail() *model.Candle {
	if w.size == 0 {
		return nil
	}
	return w.at(w.size - 1)
}

func (w *window) len() int {
	return w.size
}

// slice returns a copy of the window contents, oldest first.
func (w *window) slice() []model.Candle {
	out := make([]model.Candle, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = *w.at(i)
	}
	return out
}
