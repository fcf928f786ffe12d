// Package analytics implements a non-blocking, batched request-log sink.
//
// Finalized request logs are written to an internal buffered channel and
// flushed in batches by a background goroutine — so analytics never blocks
// the request path. Every entry is emitted as a structured log line; when a
// ClickHouse DSN is configured, batches are also inserted into the
// request_logs table for long-term retention. If the channel fills up
// (> 10 000 entries), new entries are dropped and counted in Dropped.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/nulpointcorp/llm-router/internal/state"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second

	connectTimeout = 5 * time.Second
	insertQuery    = "INSERT INTO request_logs"
)

const createTableDDL = `
CREATE TABLE IF NOT EXISTS request_logs (
	id               String,
	ts               DateTime64(3),
	model            String,
	effective_model  Nullable(String),
	provider         Nullable(String),
	status           LowCardinality(String),
	status_code      Nullable(Int64),
	duration_ms      UInt64,
	input_tokens     Nullable(UInt64),
	output_tokens    Nullable(UInt64),
	estimated_cost   Nullable(Float64),
	complexity_tier  Nullable(String),
	complexity_score Nullable(Float64),
	error_message    Nullable(String),
	providers_tried  Array(String),
	cache_status     Nullable(String),
	agentic_mode     Nullable(Bool),
	session_id       Nullable(String),
	session_pinned   Nullable(Bool)
) ENGINE = MergeTree
ORDER BY ts`

// Sink receives finalized request logs from the gateway.
type Sink struct {
	ch        chan state.RequestLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	baseCtx context.Context
	log     *slog.Logger
	conn    driver.Conn
}

// New starts a sink. An empty dsn disables the ClickHouse leg; entries are
// then only emitted as structured log lines. A non-empty dsn that cannot be
// reached is a startup error, not a silent degradation.
func New(ctx context.Context, dsn string, slogger *slog.Logger) (*Sink, error) {
	if ctx == nil {
		return nil, fmt.Errorf("analytics: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	s := &Sink{
		ch:      make(chan state.RequestLog, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
	}

	if dsn != "" {
		opts, err := clickhouse.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("analytics: parse dsn: %w", err)
		}
		conn, err := clickhouse.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("analytics: open: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := conn.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("analytics: ping: %w", err)
		}
		if err := conn.Exec(pingCtx, createTableDDL); err != nil {
			return nil, fmt.Errorf("analytics: create table: %w", err)
		}
		s.conn = conn
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// Record enqueues an entry. Never blocks; entries are dropped when the
// buffer is full.
func (s *Sink) Record(entry state.RequestLog) {
	select {
	case s.ch <- entry:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

// Dropped reports how many entries were discarded due to a full buffer.
func (s *Sink) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Close drains the buffer, flushes the final batch, and releases the
// ClickHouse connection.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]state.RequestLog, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			s.log.InfoContext(ctx, "request",
				slog.String("id", e.ID),
				slog.String("model", e.Model),
				slog.String("provider", strOrEmpty(e.Provider)),
				slog.String("status", e.Status),
				slog.Uint64("duration_ms", e.DurationMs),
				slog.Uint64("input_tokens", uintOrZero(e.InputTokens)),
				slog.Uint64("output_tokens", uintOrZero(e.OutputTokens)),
				slog.Float64("estimated_cost", floatOrZero(e.EstimatedCost)),
				slog.String("cache_status", strOrEmpty(e.CacheStatus)),
				slog.Time("ts", e.Timestamp),
			)
		}
		if s.conn != nil {
			s.insert(ctx, batch)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(s.baseCtx)
			}

		case <-ticker.C:
			flush(s.baseCtx)

		case <-s.done:
			// Drain with a detached context — shutdown cancels baseCtx, and
			// the final batch must still reach ClickHouse.
			drainCtx := context.WithoutCancel(s.baseCtx)
			for {
				select {
				case entry := <-s.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(drainCtx)
					}
				default:
					flush(drainCtx)
					return
				}
			}
		}
	}
}

// insert writes one batch to ClickHouse. Failures are logged and absorbed;
// analytics loss never affects request handling.
func (s *Sink) insert(ctx context.Context, entries []state.RequestLog) {
	b, err := s.conn.PrepareBatch(ctx, insertQuery)
	if err != nil {
		s.log.WarnContext(ctx, "analytics_batch_failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, e := range entries {
		if err := b.Append(
			e.ID,
			e.Timestamp,
			e.Model,
			e.EffectiveModel,
			e.Provider,
			e.Status,
			nullableInt64(e.StatusCode),
			e.DurationMs,
			e.InputTokens,
			e.OutputTokens,
			e.EstimatedCost,
			e.ComplexityTier,
			e.ComplexityScore,
			e.ErrorMessage,
			e.ProvidersTried,
			e.CacheStatus,
			e.AgenticMode,
			e.SessionID,
			e.SessionPinned,
		); err != nil {
			s.log.WarnContext(ctx, "analytics_append_failed",
				slog.String("id", e.ID),
				slog.String("error", err.Error()),
			)
			_ = b.Abort()
			return
		}
	}

	if err := b.Send(); err != nil {
		s.log.WarnContext(ctx, "analytics_flush_failed",
			slog.Int("entries", len(entries)),
			slog.String("error", err.Error()),
		)
	}
}

func strOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func uintOrZero(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func nullableInt64(v *int) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
