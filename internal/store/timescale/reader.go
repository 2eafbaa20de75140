package timescale

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"candlecast/internal/model"
)

// intervalSQL maps a timeframe to the bucket width passed to time_bucket.
var intervalSQL = map[model.Interval]string{
	model.Interval1m:  "1 minute",
	model.Interval5m:  "5 minutes",
	model.Interval15m: "15 minutes",
	model.Interval1h:  "1 hour",
	model.Interval4h:  "4 hours",
	model.Interval1D:  "1 day",
	model.Interval1W:  "7 days",
}

// fetch1mQuery reads raw minute rows; fetchBucketQuery rolls minutes up
// into larger bars. Bucketing is anchored at the unix epoch so week bars
// line up with pure epoch arithmetic, not ISO weeks.
const (
	fetch1mQuery = `
		SELECT time, open, high, low, close, volume, quote_volume
		FROM candles_1m
		WHERE symbol = $1 AND time >= $2
		ORDER BY time DESC
		LIMIT $3`

	fetchBucketQuery = `
		SELECT time_bucket($1::interval, time, 'epoch'::timestamptz) AS bucket,
		       first(open, time)  AS open,
		       max(high)          AS high,
		       min(low)           AS low,
		       last(close, time)  AS close,
		       sum(volume)        AS volume,
		       sum(quote_volume)  AS quote_volume
		FROM candles_1m
		WHERE symbol = $2 AND time >= $3
		GROUP BY bucket
		ORDER BY bucket DESC
		LIMIT $4`
)

// Reader serves historical candles from the candles_1m hypertable.
type Reader struct {
	pool *pgxpool.Pool
}

// NewReader connects to the database and verifies the connection.
func NewReader(ctx context.Context, dsn string) (*Reader, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("timescale connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("timescale ping: %w", err)
	}
	return &Reader{pool: pool}, nil
}

// Ping probes database connectivity.
func (r *Reader) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the connection pool.
func (r *Reader) Close() {
	r.pool.Close()
}

// Fetch returns up to limit bars for the pair, ascending by time. Minute
// bars come straight off the table; larger bars are bucketed in SQL with
// the same epoch-anchored alignment the live aggregator uses.
func (r *Reader) Fetch(ctx context.Context, symbol string, iv model.Interval, limit int) ([]model.Candle, error) {
	width, ok := intervalSQL[iv]
	if !ok {
		return nil, fmt.Errorf("timescale: unsupported interval %q", iv)
	}

	// Bound the scan to the window the limit can possibly cover.
	horizon := time.Now().UTC().Add(-time.Duration(limit+1) * iv.Duration())

	var (
		rowsErr error
		out     []model.Candle
	)
	if iv == model.Interval1m {
		rows, err := r.pool.Query(ctx, fetch1mQuery, symbol, horizon, limit)
		if err != nil {
			return nil, fmt.Errorf("timescale query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c model.Candle
			if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume); err != nil {
				return nil, fmt.Errorf("timescale scan: %w", err)
			}
			out = append(out, c)
		}
		rowsErr = rows.Err()
	} else {
		rows, err := r.pool.Query(ctx, fetchBucketQuery, width, symbol, horizon, limit)
		if err != nil {
			return nil, fmt.Errorf("timescale query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c model.Candle
			if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume); err != nil {
				return nil, fmt.Errorf("timescale scan: %w", err)
			}
			out = append(out, c)
		}
		rowsErr = rows.Err()
	}
	if rowsErr != nil {
		return nil, fmt.Errorf("timescale rows: %w", rowsErr)
	}

	// Rows arrive newest first; callers want ascending.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	for i := range out {
		out[i].Time = out[i].Time.UTC()
	}
	return out, nil
}
