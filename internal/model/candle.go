package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Candle represents an OHLCV bar for a single symbol. Time marks the start
// of the bar and is aligned to the bar's timeframe. QuoteVolume is optional;
// nil means the upstream feed did not report it.
type Candle struct {
	Time        time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	QuoteVolume *float64
}

// candleWire is the JSON shape on both the upstream feed and the client
// protocol. Time is emitted as ISO-8601; on input it may also be epoch ms.
type candleWire struct {
	Time        json.RawMessage `json:"time"`
	Open        float64         `json:"open"`
	High        float64         `json:"high"`
	Low         float64         `json:"low"`
	Close       float64         `json:"close"`
	Volume      float64         `json:"volume"`
	QuoteVolume *float64        `json:"quoteVolume,omitempty"`
}

// MarshalJSON emits the candle with an ISO-8601 UTC timestamp.
func (c Candle) MarshalJSON() ([]byte, error) {
	ts, err := json.Marshal(c.Time.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	return json.Marshal(candleWire{
		Time:        ts,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		QuoteVolume: c.QuoteVolume,
	})
}

// UnmarshalJSON accepts the time field as an ISO-8601 string or epoch ms.
func (c *Candle) UnmarshalJSON(data []byte) error {
	var w candleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Time) == 0 {
		return errors.New("candle: missing time")
	}

	var ts time.Time
	if w.Time[0] == '"' {
		var s string
		if err := json.Unmarshal(w.Time, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("candle: parse time %q: %w", s, err)
		}
		ts = parsed
	} else {
		ms, err := strconv.ParseFloat(string(w.Time), 64)
		if err != nil {
			return fmt.Errorf("candle: parse time %s: %w", w.Time, err)
		}
		ts = time.UnixMilli(int64(ms))
	}

	c.Time = ts.UTC()
	c.Open = w.Open
	c.High = w.High
	c.Low = w.Low
	c.Close = w.Close
	c.Volume = w.Volume
	c.QuoteVolume = w.QuoteVolume
	return nil
}

// Validate checks the candle's numeric invariants: all fields finite and
// non-negative, low ≤ open,close ≤ high.
func (c *Candle) Validate() error {
	if c.Time.IsZero() {
		return errors.New("candle: zero time")
	}
	fields := []struct {
		name string
		v    float64
	}{
		{"open", c.Open}, {"high", c.High}, {"low", c.Low},
		{"close", c.Close}, {"volume", c.Volume},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("candle: invalid %s %v", f.name, f.v)
		}
	}
	if c.QuoteVolume != nil {
		qv := *c.QuoteVolume
		if math.IsNaN(qv) || math.IsInf(qv, 0) || qv < 0 {
			return fmt.Errorf("candle: invalid quoteVolume %v", qv)
		}
	}
	if c.Low > c.High || c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
		return fmt.Errorf("candle: OHLC out of range o=%v h=%v l=%v c=%v", c.Open, c.High, c.Low, c.Close)
	}
	return nil
}

// SameBar reports whether two candles describe the same bar (identical start
// time; the timeframe is implied by context).
func (c *Candle) SameBar(other *Candle) bool {
	return c.Time.Equal(other.Time)
}
