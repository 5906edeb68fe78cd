// Package summary assembles run reports from comparisons and a generated
// narrative. It formats only; every statistic comes from the comparator.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiroku/internal/integrity"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/runlog"
	"github.com/ashita-ai/kiroku/internal/service/narrative"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// DefaultNarrativeTimeout bounds a single generator call.
const DefaultNarrativeTimeout = 30 * time.Second

// ReportSink persists assembled reports.
type ReportSink interface {
	InsertReport(ctx context.Context, r model.Report) error
}

// AssembleInput is everything one report is built from.
type AssembleInput struct {
	Project    string
	Subproject string
	SessionID  string
	Snapshot   runlog.Snapshot
	Comparison model.ProjectComparison
}

// Assembler combines comparisons with a narrative into a Report.
type Assembler struct {
	generator narrative.Generator
	timeout   time.Duration
	sink      ReportSink
	logger    *slog.Logger
	now       func() time.Time

	outcomes metric.Int64Counter
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithTimeout overrides DefaultNarrativeTimeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Assembler) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithSink persists every report passed to Save.
func WithSink(s ReportSink) Option {
	return func(a *Assembler) { a.sink = s }
}

// WithClock overrides time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// New creates an Assembler. A nil generator behaves like narrative.NoopProvider.
func New(gen narrative.Generator, logger *slog.Logger, opts ...Option) *Assembler {
	if gen == nil {
		gen = narrative.NoopProvider{}
	}
	a := &Assembler{
		generator: gen,
		timeout:   DefaultNarrativeTimeout,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.outcomes, _ = telemetry.Meter("kiroku/summary").Int64Counter("kiroku.narrative.outcomes",
		metric.WithDescription("Narrative generation attempts by outcome"),
	)
	return a
}

// Assemble builds a report. Narrative failures yield model.NarrativePlaceholder
// and never abort the report.
func (a *Assembler) Assemble(ctx context.Context, in AssembleInput) model.Report {
	report := model.Report{
		ID:         uuid.New(),
		Project:    in.Project,
		Subproject: in.Subproject,
		SessionID:  in.SessionID,
		// Postgres keeps microseconds; the hash must survive a round trip.
		CreatedAt:       a.now().UTC().Truncate(time.Microsecond),
		Comparisons:     orderedComparisons(in.Comparison),
		WeightedAverage: in.Comparison.WeightedAverage,
		Endpoints:       in.Snapshot.Endpoints,
		Errors:          make([]string, 0, len(in.Snapshot.Errors)),
	}
	for _, e := range in.Snapshot.Errors {
		report.Errors = append(report.Errors, Sanitize(e))
	}
	if report.Endpoints == nil {
		report.Endpoints = []model.EndpointStatus{}
	}

	text, ok := a.narrate(ctx, in)
	report.Narrative = text
	report.NarrativeOK = ok
	if ok {
		report.Sections = ExtractSections(text)
	}
	report.ContentHash = integrity.ComputeReportHash(report)
	return report
}

// Save persists a report through the configured sink. Without a sink it is
// a no-op.
func (a *Assembler) Save(ctx context.Context, r model.Report) error {
	if a.sink == nil {
		return nil
	}
	if err := a.sink.InsertReport(ctx, r); err != nil {
		return fmt.Errorf("summary: save report: %w", err)
	}
	return nil
}

func (a *Assembler) narrate(ctx context.Context, in AssembleInput) (string, bool) {
	if in.Snapshot.Empty() {
		a.record(ctx, "no_records")
		return model.NarrativePlaceholder, false
	}

	gctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := a.generator.Generate(gctx, BuildPrompt(in.Snapshot))
	switch {
	case errors.Is(err, narrative.ErrUnavailable):
		a.record(ctx, "unavailable")
		return model.NarrativePlaceholder, false
	case err != nil:
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		a.record(ctx, outcome)
		a.logger.Warn("summary: narrative generation failed",
			"project", in.Project, "subproject", in.Subproject, "error", err)
		return model.NarrativePlaceholder, false
	case looksLikeError(text):
		a.record(ctx, "invalid")
		a.logger.Warn("summary: narrative output unusable",
			"project", in.Project, "subproject", in.Subproject, "output", Sanitize(truncate(text, 200)))
		return model.NarrativePlaceholder, false
	}
	a.record(ctx, "ok")
	return text, true
}

func (a *Assembler) record(ctx context.Context, outcome string) {
	if a.outcomes != nil {
		a.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// orderedComparisons flattens a project comparison in subproject order.
func orderedComparisons(pc model.ProjectComparison) []model.Comparison {
	names := make([]string, 0, len(pc.PerSubproject))
	for name := range pc.PerSubproject {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]model.Comparison, 0, len(names))
	for _, name := range names {
		out = append(out, pc.PerSubproject[name])
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
