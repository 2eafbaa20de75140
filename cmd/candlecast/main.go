package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"candlecast/config"
	"candlecast/internal/gateway"
	"candlecast/internal/logger"
	"candlecast/internal/marketdata/agg"
	"candlecast/internal/marketdata/history"
	"candlecast/internal/marketdata/ingest"
	"candlecast/internal/metrics"
	"candlecast/internal/store/timescale"
)

const shutdownTimeout = 5 * time.Second

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Init("candlecast", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg := config.Load()
	symbols := cfg.ParseSymbols()
	if len(symbols) == 0 {
		log.Fatal("[main] no symbols configured")
	}
	log.Printf("[main] serving symbols %v", symbols)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis carries the live candle stream. No stream means nothing to
	// serve, so a dead broker at boot is fatal.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[main] redis ping %s: %v", cfg.RedisAddr, err)
	}
	defer rdb.Close()
	log.Printf("[main] connected to redis at %s", cfg.RedisAddr)

	store := connectStore(ctx, cfg.PostgresDSN)
	defer store.Close()

	m := metrics.New()

	aggregator := agg.New()

	registry := gateway.NewRegistry(aggregator)
	registry.OnUpdateSent = m.UpdatesSent.Inc
	registry.OnSendFailure = m.SendFailures.Inc
	registry.OnRoomCount = func(n int) { m.RoomsActive.Set(float64(n)) }

	hist := history.NewService(store, aggregator)
	hist.OnFetch = m.ObserveFetch
	hist.OnFetchError = m.HistoryFetchErrs.Inc

	hub := gateway.NewHub(registry, hist, symbols, history.DefaultFetchTimeout)
	hub.OnConnect = func() { m.WSClients.Inc() }
	hub.OnDisconnect = func() { m.WSClients.Dec() }
	hub.OnHeartbeatTimeout = m.HeartbeatTimeouts.Inc

	consumer := ingest.NewConsumer(rdb, aggregator, registry, symbols)
	consumer.OnCandle = m.CandlesIngested.Inc
	consumer.OnRejected = m.CandlesRejected.Inc
	consumer.OnReconnect = m.IngestReconnects.Inc

	// Warm the windows before accepting traffic; a failed warmup only
	// means early aggregates are thin.
	hist.WarmUp(ctx, symbols)

	go consumer.Run(ctx)
	go registry.Run(ctx)
	go hub.RunHeartbeat(ctx)

	msrv := metrics.NewServer(cfg.MetricsAddr)
	msrv.Start()

	start := time.Now()
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, registry, aggregator, rdb, store, symbols, start)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("[main] listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("[main] shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] hub shutdown: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] http shutdown: %v", err)
	}
	if err := msrv.Stop(shutdownCtx); err != nil {
		log.Printf("[main] metrics shutdown: %v", err)
	}
	log.Println("[main] bye")
}

// connectStore dials TimescaleDB with a few retries; history is required
// for initial snapshots, so a store that never comes up is fatal.
func connectStore(ctx context.Context, dsn string) *timescale.Reader {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		store, err := timescale.NewReader(ctx, dsn)
		if err == nil {
			log.Printf("[main] connected to timescale")
			return store
		}
		lastErr = err
		log.Printf("[main] timescale connect attempt %d: %v", attempt, err)
		time.Sleep(2 * time.Second)
	}
	log.Fatalf("[main] timescale unavailable: %v", lastErr)
	return nil
}
