package agg

import (
	"testing"
	"time"

	"candlecast/internal/model"
)

func TestWindow_PushEvictsOldest(t *testing.T) {
	w := newWindow(3)
	t0 := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		w.push(model.Candle{Time: t0.Add(time.Duration(i) * time.Minute), Close: float64(i)})
	}

	if w.len() != 3 {
		t.Fatalf("len: got %d, want 3", w.len())
	}
	if w.at(0).Close != 2 || w.at(2).Close != 4 {
		t.Errorf("unexpected contents: head=%v tail=%v", w.at(0).Close, w.at(2).Close)
	}
	if w.tail().Close != 4 {
		t.Errorf("tail: got %v, want 4", w.tail().Close)
	}
}

func TestWindow_EmptyTail(t *testing.T) {
	w := newWindow(4)
	if w.tail() != nil {
		t.Error("expected nil tail for empty window")
	}
	if got := w.slice(); len(got) != 0 {
		t.Errorf("expected empty slice, got %d", len(got))
	}
}

func TestWindow_TailMutableInPlace(t *testing.T) {
	w := newWindow(2)
	t0 := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	w.push(model.Candle{Time: t0, Close: 1})

	// The aggregator overwrites the in-progress bar through the tail pointer.
	w.tail().Close = 7
	if w.at(0).Close != 7 {
		t.Errorf("tail overwrite not visible: got %v", w.at(0).Close)
	}
}
