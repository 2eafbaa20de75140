package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WindowInspector exposes per-symbol window depth for the stats endpoint.
// Satisfied by agg.Aggregator.
type WindowInspector interface {
	WindowLen(symbol string) int
}

// Pinger is the health probe for the history store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterRoutes wires the WebSocket endpoint and the health/stats
// endpoints onto mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, registry *Registry, windows WindowInspector, rdb *redis.Client, store Pinger, symbols []string, start time.Time) {
	mux.HandleFunc("/", hub.HandleWS)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		services := map[string]string{}
		healthy := true

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				services["redis"] = "DOWN"
				healthy = false
			} else {
				services["redis"] = "UP"
			}
		}
		if store != nil {
			if err := store.Ping(ctx); err != nil {
				services["store"] = "DOWN"
				healthy = false
			} else {
				services["store"] = "UP"
			}
		}

		status := "OK"
		code := http.StatusOK
		if !healthy {
			status = "DEGRADED"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   status,
			"services": services,
			"uptimeMs": time.Since(start).Milliseconds(),
		})
	})

	mux.HandleFunc("/health/ws-stats", func(w http.ResponseWriter, r *http.Request) {
		windowLens := make(map[string]int, len(symbols))
		for _, s := range symbols {
			windowLens[s] = windows.WindowLen(s)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"connections": hub.ClientCount(),
			"rooms":       registry.Stats(),
			"windows":     windowLens,
		})
	})
}
