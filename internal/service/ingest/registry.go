package ingest

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiroku/internal/runlog"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

type runKey struct {
	project    string
	subproject string
}

// Registry tracks the active run per (project, subproject) for callers that
// report calls over the network.
type Registry struct {
	buffer *Buffer
	clock  runlog.Clock

	mu   sync.Mutex
	runs map[runKey]*Run
}

// NewRegistry creates a registry whose runs share buffer.
func NewRegistry(buffer *Buffer, clock runlog.Clock) *Registry {
	return &Registry{buffer: buffer, clock: clock, runs: make(map[runKey]*Run)}
}

// Get returns the active run, starting one if needed.
func (g *Registry) Get(project, subproject string) *Run {
	k := runKey{project, subproject}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.runs[k]; ok {
		return r
	}
	r := NewRun(project, subproject, g.buffer, g.clock)
	g.runs[k] = r
	return r
}

// Detach removes and returns the active run so the next call starts a fresh
// one. It returns nil when no run is active.
func (g *Registry) Detach(project, subproject string) *Run {
	k := runKey{project, subproject}
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.runs[k]
	delete(g.runs, k)
	return r
}

// maxRunAttempts bounds how often Use moves on to a newer run.
const maxRunAttempts = 3

// Use calls fn with the active run. When the run is finished between lookup
// and fn, it is detached and fn is retried against the next run.
func (g *Registry) Use(project, subproject string, fn func(*Run) error) (*Run, error) {
	var (
		run *Run
		err error
	)
	for range maxRunAttempts {
		run = g.Get(project, subproject)
		if err = fn(run); !errors.Is(err, ErrRunFinished) {
			return run, err
		}
		g.forget(project, subproject, run)
	}
	return run, err
}

// forget drops run if it is still registered.
func (g *Registry) forget(project, subproject string, run *Run) {
	k := runKey{project, subproject}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runs[k] == run {
		delete(g.runs, k)
	}
}

// Active returns the number of runs in progress.
func (g *Registry) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.runs)
}

func (g *Registry) totals() (entries, errs int64) {
	g.mu.Lock()
	runs := make([]*Run, 0, len(g.runs))
	for _, r := range g.runs {
		runs = append(runs, r)
	}
	g.mu.Unlock()
	for _, r := range runs {
		entries += int64(r.log.Len())
		errs += int64(r.log.ErrorCount())
	}
	return entries, errs
}

// RegisterMetrics exposes aggregate run gauges.
func (g *Registry) RegisterMetrics() {
	meter := telemetry.Meter("kiroku/ingest")

	_, _ = meter.Int64ObservableGauge("kiroku.runs.active",
		metric.WithDescription("Runs currently accumulating calls"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(g.Active()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kiroku.runlog.entries",
		metric.WithDescription("Log entries held by active runs"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			entries, _ := g.totals()
			o.Observe(entries)
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kiroku.runlog.errors",
		metric.WithDescription("Errors held by active runs"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			_, errs := g.totals()
			o.Observe(errs)
			return nil
		}),
	)
}
