package compare

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/sessionstore"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// Strategy selects how the two runs being compared are chosen.
type Strategy string

const (
	// StrategySessions compares the two most recent explicit sessions.
	StrategySessions Strategy = "sessions"
	// StrategyWindow partitions a flat record history by an idle gap.
	StrategyWindow Strategy = "window"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySessions, StrategyWindow:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("compare: unknown strategy %q (want %q or %q)", s, StrategySessions, StrategyWindow)
	}
}

const (
	defaultRecentLimit = 100
	defaultConcurrency = 4
)

// Config tunes a Comparator. Zero values take defaults.
type Config struct {
	Strategy    Strategy
	Gap         time.Duration
	RecentLimit int
	Concurrency int
}

// Comparator produces comparisons from a failure-free store view. It keeps
// no state between calls and holds no locks.
type Comparator struct {
	reader      sessionstore.Reader
	strategy    Strategy
	gap         time.Duration
	recentLimit int
	concurrency int
	logger      *slog.Logger

	duration metric.Float64Histogram
}

// New creates a Comparator.
func New(reader sessionstore.Reader, cfg Config, logger *slog.Logger) *Comparator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySessions
	}
	if cfg.Gap <= 0 {
		cfg.Gap = DefaultGap
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = defaultRecentLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	c := &Comparator{
		reader:      reader,
		strategy:    cfg.Strategy,
		gap:         cfg.Gap,
		recentLimit: cfg.RecentLimit,
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
	c.duration, _ = telemetry.Meter("kiroku/compare").Float64Histogram("kiroku.compare.duration",
		metric.WithDescription("Time spent producing one subproject comparison"),
		metric.WithUnit("ms"),
	)
	return c
}

// Strategy returns the configured strategy.
func (c *Comparator) Strategy() Strategy { return c.strategy }

// Compare produces the comparison for one subproject. Missing data and
// invalid arguments are reported in the result, never as an error.
func (c *Comparator) Compare(ctx context.Context, project, subproject string) model.Comparison {
	start := time.Now()
	result := model.Comparison{Project: project, Subproject: subproject, Strategy: string(c.strategy)}
	if project == "" || subproject == "" {
		result.Reason = "invalid argument: project and subproject are required"
		return result
	}

	switch c.strategy {
	case StrategyWindow:
		c.compareWindow(ctx, &result)
	default:
		c.compareSessions(ctx, &result)
	}

	if c.duration != nil {
		c.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000,
			metric.WithAttributes(
				attribute.String("strategy", string(c.strategy)),
				attribute.Bool("available", result.Available),
			))
	}
	return result
}

func (c *Comparator) compareSessions(ctx context.Context, result *model.Comparison) {
	sessions := c.reader.RecentSessions(ctx, result.Project, result.Subproject, 2)
	result.SessionCount = len(sessions)
	if len(sessions) < 2 {
		result.Reason = fmt.Sprintf("insufficient data: %d session(s) recorded", len(sessions))
		return
	}
	latest, previous := sessions[0], sessions[1]
	for _, s := range []model.Session{latest, previous} {
		if len(s.Endpoints) == 0 {
			result.Reason = fmt.Sprintf("insufficient data: session %s has no call records", s.SessionID)
			return
		}
	}
	c.warnMalformed(result, latest.Endpoints)
	c.warnMalformed(result, previous.Endpoints)

	diff := Diff(
		Side{Endpoints: Collapse(previous.Endpoints), Time: previous.CreatedAt},
		Side{Endpoints: Collapse(latest.Endpoints), Time: latest.CreatedAt},
	)
	result.Available = true
	result.Diff = &diff
}

func (c *Comparator) compareWindow(ctx context.Context, result *model.Comparison) {
	records := c.reader.RecentCallRecords(ctx, result.Project, result.Subproject, c.recentLimit)
	current, previous := Partition(records, c.gap)
	switch {
	case len(current) == 0:
		result.Reason = "insufficient data: no call records found"
		return
	case len(previous) == 0:
		result.SessionCount = 1
		result.Reason = fmt.Sprintf("insufficient data: no earlier run more than %s before the latest record", c.gap)
		return
	}
	result.SessionCount = 2
	c.warnMalformed(result, records)

	diff := Diff(
		Side{Endpoints: Collapse(previous), Time: newest(previous)},
		Side{Endpoints: Collapse(current), Time: newest(current)},
	)
	result.Available = true
	result.Diff = &diff
}

// warnMalformed logs records whose status falls outside the valid range.
// They still take part in the comparison as failures.
func (c *Comparator) warnMalformed(result *model.Comparison, records []model.CallRecord) {
	for _, r := range records {
		if r.NormalizedStatus() != r.Status {
			c.logger.Debug("compare: malformed status counted as failure",
				"project", result.Project, "subproject", result.Subproject,
				"key", r.Key(), "status", r.Status)
		}
	}
}

// CompareAll compares every subproject of project concurrently and computes
// the project's weighted average success rate over available comparisons.
func (c *Comparator) CompareAll(ctx context.Context, project string) model.ProjectComparison {
	out := model.ProjectComparison{Project: project, PerSubproject: make(map[string]model.Comparison)}
	if project == "" {
		return out
	}
	names := c.reader.Subprojects(ctx, project)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.concurrency)
	for _, name := range names {
		g.Go(func() error {
			cmp := c.Compare(ctx, project, name)
			mu.Lock()
			out.PerSubproject[name] = cmp
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, name := range names {
		cmp := out.PerSubproject[name]
		if cmp.Available {
			out.Compared++
		} else {
			out.Insufficient = append(out.Insufficient, name)
		}
	}
	sort.Strings(out.Insufficient)
	out.WeightedAverage = WeightedAverage(out.PerSubproject)
	return out
}

// WeightedAverage is sum(rate*total)/sum(total) over available comparisons,
// using each comparison's current side. It is 0.0 when nothing is available.
func WeightedAverage(comparisons map[string]model.Comparison) float64 {
	var weighted float64
	var total int
	for _, cmp := range comparisons {
		if !cmp.Available || cmp.Diff == nil {
			continue
		}
		weighted += cmp.Diff.Current.Rate * float64(cmp.Diff.Current.Total)
		total += cmp.Diff.Current.Total
	}
	if total == 0 {
		return 0.0
	}
	return weighted / float64(total)
}
