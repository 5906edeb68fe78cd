package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/embedding"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// IndexSource is the report store side of the indexing loop.
type IndexSource interface {
	UnindexedReports(ctx context.Context, limit int) ([]model.Report, error)
	SetReportEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector) error
	MarkReportsIndexed(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// IndexWorker polls for reports without an embedding, embeds them and
// pushes them to the vector index.
type IndexWorker struct {
	source       IndexSource
	index        Index
	embedder     embedding.Provider
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	indexed atomic.Int64
	failed  atomic.Int64

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context
}

// NewIndexWorker creates a worker.
func NewIndexWorker(source IndexSource, index Index, embedder embedding.Provider, logger *slog.Logger, pollInterval time.Duration, batchSize int) *IndexWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &IndexWorker{
		source:       source,
		index:        index,
		embedder:     embedder,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the poll loop. Subsequent calls are no-ops.
func (w *IndexWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("search index: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain stops the loop after one final pass bounded by ctx.
func (w *IndexWorker) Drain(ctx context.Context) {
	if w.cancelLoop == nil {
		return
	}
	select {
	case w.drainCh <- ctx:
	default:
	}
	w.cancelLoop()
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("search index: drain timed out")
	}
}

func (w *IndexWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.ProcessBatch(drainCtx)
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.ProcessBatch(batchCtx)
			cancel()
		}
	}
}

// reportText is the text embedded for a report.
func reportText(r model.Report) string {
	parts := []string{r.Project, r.Subproject}
	if r.NarrativeOK {
		parts = append(parts, r.Narrative)
	}
	s := r.Sections
	parts = append(parts, s.KeyIssues, s.RootCause, s.ErrorBreakdown)
	parts = append(parts, r.Errors...)
	for _, c := range r.Comparisons {
		if c.Diff != nil {
			parts = append(parts, c.Diff.NewFailures...)
			parts = append(parts, c.Diff.RecurringFailures...)
		}
	}
	var b strings.Builder
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteString(p)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ProcessBatch indexes one batch of pending reports and returns how many
// were indexed.
func (w *IndexWorker) ProcessBatch(ctx context.Context) int {
	reports, err := w.source.UnindexedReports(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("search index: fetch unindexed reports", "error", err)
		return 0
	}
	if len(reports) == 0 {
		return 0
	}

	texts := make([]string, len(reports))
	for i, r := range reports {
		texts[i] = reportText(r)
	}
	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		w.failed.Add(int64(len(reports)))
		w.logger.Error("search index: embed reports", "error", err, "count", len(reports))
		return 0
	}
	if len(vecs) != len(reports) {
		w.failed.Add(int64(len(reports)))
		w.logger.Error("search index: embedding count mismatch", "want", len(reports), "got", len(vecs))
		return 0
	}

	points := make([]Point, len(reports))
	for i, r := range reports {
		points[i] = Point{
			ID:              r.ID,
			Project:         r.Project,
			Subproject:      r.Subproject,
			CreatedAt:       r.CreatedAt,
			WeightedAverage: r.WeightedAverage,
			Embedding:       vecs[i].Slice(),
		}
	}
	if err := w.index.Upsert(ctx, points); err != nil {
		w.failed.Add(int64(len(reports)))
		w.logger.Error("search index: upsert", "error", err, "count", len(points))
		return 0
	}

	ids := make([]uuid.UUID, 0, len(reports))
	for i, r := range reports {
		if err := w.source.SetReportEmbedding(ctx, r.ID, vecs[i]); err != nil {
			w.logger.Warn("search index: store embedding", "report_id", r.ID, "error", err)
		}
		ids = append(ids, r.ID)
	}
	if err := w.source.MarkReportsIndexed(ctx, ids, time.Now().UTC()); err != nil {
		w.logger.Error("search index: mark indexed", "error", err)
		return 0
	}
	w.indexed.Add(int64(len(ids)))
	w.logger.Info("search index: indexed reports", "count", len(ids))
	return len(ids)
}

// Indexed returns the total number of reports indexed.
func (w *IndexWorker) Indexed() int64 { return w.indexed.Load() }

func (w *IndexWorker) registerMetrics() {
	meter := telemetry.Meter("kiroku/search")
	_, _ = meter.Int64ObservableCounter("kiroku.search.indexed_total",
		metric.WithDescription("Reports pushed to the vector index"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(w.indexed.Load())
			return nil
		}),
	)
	_, _ = meter.Int64ObservableCounter("kiroku.search.index_failures_total",
		metric.WithDescription("Reports that failed an indexing attempt"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(w.failed.Load())
			return nil
		}),
	)
}
