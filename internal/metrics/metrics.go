package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. Components report
// through plain func hooks so none of them import this package.
type Metrics struct {
	CandlesIngested   prometheus.Counter
	CandlesRejected   prometheus.Counter
	IngestReconnects  prometheus.Counter
	WSClients         prometheus.Gauge
	RoomsActive       prometheus.Gauge
	UpdatesSent       prometheus.Counter
	SendFailures      prometheus.Counter
	HeartbeatTimeouts prometheus.Counter
	HistoryFetchDur   prometheus.Histogram
	HistoryFetchErrs  prometheus.Counter
}

// New creates and registers the collectors on the default registry.
func New() *Metrics {
	m := &Metrics{
		CandlesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlecast_candles_ingested_total",
			Help: "1m candles accepted from the upstream stream.",
		}),
		CandlesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlecast_candles_rejected_total",
			Help: "Upstream candles dropped as malformed, invalid or out of order.",
		}),
		IngestReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlecast_ingest_reconnects_total",
			Help: "Reconnect attempts against the upstream candle stream.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candlecast_ws_clients",
			Help: "Currently connected WebSocket sessions.",
		}),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candlecast_rooms_active",
			Help: "Rooms with at least one subscriber.",
		}),
		UpdatesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlecast_updates_sent_total",
			Help: "Update frames queued to subscribers.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlecast_send_failures_total",
			Help: "Update frames dropped because a session's queue was full.",
		}),
		HeartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlecast_heartbeat_timeouts_total",
			Help: "Sessions closed for missing a heartbeat cycle.",
		}),
		HistoryFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candlecast_history_fetch_seconds",
			Help:    "History fetch latency.",
			Buckets: prometheus.DefBuckets,
		}),
		HistoryFetchErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candlecast_history_fetch_errors_total",
			Help: "Failed history fetches.",
		}),
	}

	prometheus.MustRegister(
		m.CandlesIngested,
		m.CandlesRejected,
		m.IngestReconnects,
		m.WSClients,
		m.RoomsActive,
		m.UpdatesSent,
		m.SendFailures,
		m.HeartbeatTimeouts,
		m.HistoryFetchDur,
		m.HistoryFetchErrs,
	)
	return m
}

// ObserveFetch records one history fetch.
func (m *Metrics) ObserveFetch(elapsed time.Duration) {
	m.HistoryFetchDur.Observe(elapsed.Seconds())
}

// Server exposes /metrics on its own listener.
type Server struct {
	srv *http.Server
}

// NewServer builds the metrics HTTP server on addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
