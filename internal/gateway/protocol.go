package gateway

import (
	"fmt"
	"strings"

	"candlecast/internal/model"
)

// ── WS Protocol Message Types ──
//
// All frames are JSON objects discriminated on "type". The discriminant is
// validated before any field access.

// subscribeMsg is the client → server subscribe request.
type subscribeMsg struct {
	Type        string `json:"type"`     // "subscribe"
	Symbol      string `json:"symbol"`   // e.g. "BTC/USDT"
	Interval    string `json:"interval"` // "1m".."1W"
	InitialBars int    `json:"initialBars"`
}

// unsubscribeMsg is the client → server unsubscribe request.
type unsubscribeMsg struct {
	Type     string `json:"type"` // "unsubscribe"
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// initialResponse is the server → client history snapshot, bars ascending
// by time. Sent once per successful subscribe.
type initialResponse struct {
	Type     string         `json:"type"` // "initial"
	Symbol   string         `json:"symbol"`
	Interval string         `json:"interval"`
	Bars     []model.Candle `json:"bars"`
}

// updateResponse carries the current candle of one room.
type updateResponse struct {
	Type     string       `json:"type"` // "update"
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Bar      model.Candle `json:"bar"`
}

// errorResponse is the server → client error message.
type errorResponse struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// pongResponse answers an application-level ping.
type pongResponse struct {
	Type string `json:"type"` // "pong"
}

// ── Subscribe parameter bounds ──

const (
	defaultInitialBars = 100
	maxInitialBars     = 1000
)

// clampInitialBars applies the default and the [1, maxInitialBars] clamp.
func clampInitialBars(n int) int {
	if n == 0 {
		return defaultInitialBars
	}
	if n < 1 {
		return 1
	}
	if n > maxInitialBars {
		return maxInitialBars
	}
	return n
}

// ── Protocol error texts ──

const errFailedSubscribe = "Failed to subscribe to candles"

func invalidIntervalMsg(interval string) string {
	return fmt.Sprintf("Invalid interval: %s. Valid: %s", interval, model.ValidIntervalList())
}

func invalidSymbolMsg(symbol string, allowed []string) string {
	return fmt.Sprintf("Invalid symbol: %s. Only %s is supported.", symbol, strings.Join(allowed, ", "))
}
