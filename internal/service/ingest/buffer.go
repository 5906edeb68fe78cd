// Package ingest moves observed calls from test runs into the session store.
// Each call is recorded synchronously in its run log and persisted
// asynchronously through a bounded buffer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/sessionstore"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// DefaultCapacity is the hard upper limit on queued records.
const DefaultCapacity = 100_000

// maxAttempts bounds persistence attempts per record. These are store
// retries; the observed HTTP call itself is never repeated.
const maxAttempts = 3

// ErrBufferFull is returned by Add when the buffer is at capacity.
var ErrBufferFull = errors.New("ingest: buffer at capacity")

type pending struct {
	project    string
	subproject string
	sessionID  string
	record     model.CallRecord
	attempts   int
}

// Buffer queues call records and appends them to a session store when the
// batch size or flush interval is reached.
type Buffer struct {
	store        sessionstore.Store
	logger       *slog.Logger
	maxSize      int
	capacity     int
	flushTimeout time.Duration

	mu    sync.Mutex
	queue []pending

	flushMu sync.Mutex // serializes flushes so FlushNow observes completed writes

	started atomic.Bool
	flushed atomic.Int64
	dropped atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) BufferOption {
	return func(b *Buffer) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// NewBuffer creates a buffer that flushes every flushTimeout or once maxSize
// records are queued.
func NewBuffer(store sessionstore.Store, logger *slog.Logger, maxSize int, flushTimeout time.Duration, opts ...BufferOption) *Buffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if flushTimeout <= 0 {
		flushTimeout = 100 * time.Millisecond
	}
	b := &Buffer{
		store:        store,
		logger:       logger,
		maxSize:      maxSize,
		capacity:     DefaultCapacity,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start begins the background flush loop and registers metrics. Call Drain
// to stop. Subsequent calls are no-ops.
func (b *Buffer) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("ingest: buffer already started")
		return
	}
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Add queues one record for the given session.
func (b *Buffer) Add(ctx context.Context, project, subproject, sessionID string, rec model.CallRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ingest: add: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) >= b.capacity {
		return ErrBufferFull
	}
	b.queue = append(b.queue, pending{project: project, subproject: subproject, sessionID: sessionID, record: rec})
	if len(b.queue) >= b.maxSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if b.drainCtx != nil {
				b.flush(b.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				b.flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

// FlushNow persists everything queued so far and waits for any in-flight
// flush to finish. It returns an error if records remain queued afterwards.
func (b *Buffer) FlushNow(ctx context.Context) error {
	b.flush(ctx)
	if n := b.Len(); n > 0 {
		return fmt.Errorf("ingest: flush: %d records still queued", n)
	}
	return nil
}

func (b *Buffer) flush(ctx context.Context) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	start := time.Now()
	var retry []pending
	written := 0
	for _, p := range batch {
		if ctx.Err() != nil {
			retry = append(retry, p)
			continue
		}
		err := b.store.AppendCallRecord(ctx, p.project, p.subproject, p.sessionID, p.record)
		if err == nil {
			written++
			continue
		}
		p.attempts++
		if p.attempts >= maxAttempts || errors.Is(err, sessionstore.ErrInvalidArgument) {
			b.dropped.Add(1)
			b.logger.Error("ingest: dropping call record",
				"project", p.project, "subproject", p.subproject, "session_id", p.sessionID,
				"key", p.record.Key(), "attempts", p.attempts, "error", err)
			continue
		}
		retry = append(retry, p)
	}
	b.flushed.Add(int64(written))

	if len(retry) > 0 {
		b.mu.Lock()
		if len(b.queue)+len(retry) <= b.capacity {
			b.queue = append(retry, b.queue...)
		} else {
			b.dropped.Add(int64(len(retry)))
			b.logger.Error("ingest: dropping records, buffer at capacity after flush failure", "dropped", len(retry))
		}
		b.mu.Unlock()
	}

	b.logger.Debug("ingest: batch flushed",
		"batch_size", len(batch),
		"written", written,
		"requeued", len(retry),
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
}

// Drain stops the flush loop after a final flush bounded by ctx. Without a
// running loop it flushes inline.
func (b *Buffer) Drain(ctx context.Context) {
	if b.cancelLoop == nil {
		b.flush(ctx)
		return
	}
	b.drainCtx = ctx
	b.cancelLoop()
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("ingest: drain timed out waiting for flush loop")
	}
}

func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("kiroku/ingest")

	_, _ = meter.Int64ObservableGauge("kiroku.ingest.depth",
		metric.WithDescription("Call records waiting to be persisted"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableCounter("kiroku.ingest.flushed_total",
		metric.WithDescription("Call records persisted to the session store"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Flushed())
			return nil
		}),
	)
	_, _ = meter.Int64ObservableCounter("kiroku.ingest.dropped_total",
		metric.WithDescription("Call records dropped after exhausting persistence attempts"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Dropped())
			return nil
		}),
	)
}

// Len returns the number of queued records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Capacity returns the maximum number of queued records.
func (b *Buffer) Capacity() int { return b.capacity }

// Flushed returns the total number of records persisted.
func (b *Buffer) Flushed() int64 { return b.flushed.Load() }

// Dropped returns the total number of records given up on. A non-zero value
// means history was lost.
func (b *Buffer) Dropped() int64 { return b.dropped.Load() }
