package model

import (
	"strings"
	"time"
)

// Interval is a supported candle timeframe, canonical spelling.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1D  Interval = "1D"
	Interval1W  Interval = "1W"
)

// ValidIntervals lists every supported timeframe in ascending duration order.
var ValidIntervals = []Interval{
	Interval1m, Interval5m, Interval15m,
	Interval1h, Interval4h, Interval1D, Interval1W,
}

var intervalMillis = map[Interval]int64{
	Interval1m:  60_000,
	Interval5m:  300_000,
	Interval15m: 900_000,
	Interval1h:  3_600_000,
	Interval4h:  14_400_000,
	Interval1D:  86_400_000,
	Interval1W:  604_800_000,
}

// ParseInterval validates a timeframe string against the canonical set.
func ParseInterval(s string) (Interval, bool) {
	iv := Interval(s)
	_, ok := intervalMillis[iv]
	return iv, ok
}

// Millis returns the bar duration in epoch milliseconds.
func (iv Interval) Millis() int64 {
	return intervalMillis[iv]
}

// Duration returns the bar duration.
func (iv Interval) Duration() time.Duration {
	return time.Duration(iv.Millis()) * time.Millisecond
}

// BucketStart floors t to the start of the bar containing it:
// ⌊t/Δ⌋*Δ in UTC epoch ms. Weeks anchor on the Unix epoch modulus
// (Thursday-anchored), not ISO weeks.
func (iv Interval) BucketStart(t time.Time) time.Time {
	d := iv.Millis()
	ms := t.UnixMilli()
	return time.UnixMilli(ms - ms%d).UTC()
}

// ValidIntervalList renders the canonical spellings for protocol errors:
// "1m, 5m, 15m, 1h, 4h, 1D, 1W".
func ValidIntervalList() string {
	parts := make([]string, len(ValidIntervals))
	for i, iv := range ValidIntervals {
		parts[i] = string(iv)
	}
	return strings.Join(parts, ", ")
}
