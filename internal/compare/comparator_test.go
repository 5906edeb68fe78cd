package compare

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/sessionstore"
)

var base = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*sessionstore.Memory, *sessionstore.Guard) {
	t.Helper()
	m := sessionstore.NewMemory()
	return m, sessionstore.NewGuard(m, slog.New(slog.DiscardHandler))
}

func seed(t *testing.T, m *sessionstore.Memory, project, subproject, sessionID string, at time.Time, calls ...any) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.UpsertSession(ctx, project, subproject, model.Session{SessionID: sessionID, CreatedAt: at}))
	for i := 0; i < len(calls); i += 3 {
		r := model.CallRecord{
			Method:    calls[i].(string),
			Endpoint:  calls[i+1].(string),
			Status:    calls[i+2].(int),
			Timestamp: at.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, m.AppendCallRecord(ctx, project, subproject, sessionID, r))
	}
}

func TestCompareSessionsScenario(t *testing.T) {
	m, g := newStore(t)
	seed(t, m, "shop", "api", "run-1", base, "GET", "/a", 200, "POST", "/b", 500)
	seed(t, m, "shop", "api", "run-2", base.Add(time.Hour), "GET", "/a", 200, "POST", "/b", 200, "GET", "/c", 404)

	c := New(g, Config{Strategy: StrategySessions}, slog.New(slog.DiscardHandler))
	got := c.Compare(context.Background(), "shop", "api")

	require.True(t, got.Available, got.Reason)
	assert.Equal(t, 2, got.SessionCount)
	assert.Equal(t, "sessions", got.Strategy)
	require.NotNil(t, got.Diff)
	assert.InDelta(t, 50.0, got.Diff.Previous.Rate, 1e-9)
	assert.InDelta(t, 66.67, got.Diff.Current.Rate, 0.01)
	assert.Equal(t, base, got.Diff.Previous.Time)
	assert.Equal(t, base.Add(time.Hour), got.Diff.Current.Time)
	assert.Equal(t, []string{"GET /c"}, got.Diff.Added)
	assert.Equal(t, []string{"POST /b"}, got.Diff.Fixed)
	assert.Equal(t, []string{"GET /c"}, got.Diff.NewFailures)
}

func TestCompareSingleSessionIsInsufficient(t *testing.T) {
	m, g := newStore(t)
	seed(t, m, "shop", "api", "only", base, "GET", "/a", 200)

	c := New(g, Config{}, slog.New(slog.DiscardHandler))
	got := c.Compare(context.Background(), "shop", "api")

	assert.False(t, got.Available)
	assert.Nil(t, got.Diff)
	assert.Equal(t, 1, got.SessionCount)
	assert.Contains(t, got.Reason, "insufficient data: 1 session")
}

func TestCompareEmptySessionIsInsufficient(t *testing.T) {
	for name, order := range map[string][2]string{
		"latest empty":   {"full", "empty"},
		"previous empty": {"empty", "full"},
	} {
		t.Run(name, func(t *testing.T) {
			m, g := newStore(t)
			for i, id := range order {
				at := base.Add(time.Duration(i) * time.Hour)
				if id == "empty" {
					seed(t, m, "shop", "api", id, at)
				} else {
					seed(t, m, "shop", "api", id, at, "GET", "/a", 200)
				}
			}

			c := New(g, Config{Strategy: StrategySessions}, slog.New(slog.DiscardHandler))
			got := c.Compare(context.Background(), "shop", "api")

			assert.False(t, got.Available)
			assert.Nil(t, got.Diff)
			assert.Equal(t, 2, got.SessionCount)
			assert.Equal(t, "insufficient data: session empty has no call records", got.Reason)
		})
	}
}

func TestCompareAllCountsEmptySessionAsInsufficient(t *testing.T) {
	m, g := newStore(t)
	seed(t, m, "shop", "api", "prev", base, "GET", "/a", 200)
	seed(t, m, "shop", "api", "curr", base.Add(time.Hour))
	seed(t, m, "shop", "web", "prev", base, "GET", "/", 200)
	seed(t, m, "shop", "web", "curr", base.Add(time.Hour), "GET", "/", 500)

	c := New(g, Config{}, slog.New(slog.DiscardHandler))
	got := c.CompareAll(context.Background(), "shop")

	assert.Equal(t, 1, got.Compared)
	assert.Equal(t, []string{"api"}, got.Insufficient)
	assert.InDelta(t, 0.0, got.WeightedAverage, 1e-9)
}

func TestCompareUnknownSubprojectIsInsufficient(t *testing.T) {
	_, g := newStore(t)
	c := New(g, Config{}, slog.New(slog.DiscardHandler))
	got := c.Compare(context.Background(), "nope", "nothing")
	assert.False(t, got.Available)
	assert.Equal(t, 0, got.SessionCount)
}

func TestCompareInvalidArgument(t *testing.T) {
	_, g := newStore(t)
	c := New(g, Config{}, slog.New(slog.DiscardHandler))
	got := c.Compare(context.Background(), "", "api")
	assert.False(t, got.Available)
	assert.Contains(t, got.Reason, "invalid argument")
}

func TestCompareWindowStrategy(t *testing.T) {
	m, g := newStore(t)
	ctx := context.Background()
	// One session spanning two runs separated by a long idle gap.
	for _, r := range []model.CallRecord{
		{Method: "GET", Endpoint: "/a", Status: 200, Timestamp: base},
		{Method: "GET", Endpoint: "/b", Status: 500, Timestamp: base.Add(30 * time.Millisecond)},
		{Method: "GET", Endpoint: "/b", Status: 200, Timestamp: base.Add(4000 * time.Millisecond)},
	} {
		require.NoError(t, m.AppendCallRecord(ctx, "shop", "api", "s", r))
	}

	c := New(g, Config{Strategy: StrategyWindow, Gap: 2 * time.Second}, slog.New(slog.DiscardHandler))
	got := c.Compare(ctx, "shop", "api")

	require.True(t, got.Available, got.Reason)
	assert.Equal(t, 2, got.Diff.Previous.Total)
	assert.Equal(t, 1, got.Diff.Current.Total)
	assert.Equal(t, []string{"GET /b"}, got.Diff.Fixed)
	assert.Equal(t, []string{"GET /a"}, got.Diff.Removed)
	assert.Equal(t, base.Add(4000*time.Millisecond), got.Diff.Current.Time)
	assert.Equal(t, base.Add(30*time.Millisecond), got.Diff.Previous.Time)
}

func TestCompareWindowSingleRunIsInsufficient(t *testing.T) {
	m, g := newStore(t)
	require.NoError(t, m.AppendCallRecord(context.Background(), "shop", "api", "s",
		model.CallRecord{Method: "GET", Endpoint: "/a", Status: 200, Timestamp: base}))

	c := New(g, Config{Strategy: StrategyWindow}, slog.New(slog.DiscardHandler))
	got := c.Compare(context.Background(), "shop", "api")
	assert.False(t, got.Available)
	assert.Equal(t, 1, got.SessionCount)
}

func TestCompareAllWeightedAverage(t *testing.T) {
	m, g := newStore(t)

	// Subproject "full": current run 10/10 passing.
	// Subproject "half": current run 5/10 passing.
	for _, sp := range []string{"full", "half"} {
		seed(t, m, "shop", sp, sp+"-prev", base, "GET", "/x", 200)
		var calls []any
		for i := range 10 {
			status := 200
			if sp == "half" && i%2 == 1 {
				status = 500
			}
			calls = append(calls, "GET", fmt.Sprintf("/e%d", i), status)
		}
		seed(t, m, "shop", sp, sp+"-curr", base.Add(time.Hour), calls...)
	}
	// Subproject "lonely" has a single session and must not affect the average.
	seed(t, m, "shop", "lonely", "one", base, "GET", "/a", 500)

	c := New(g, Config{Concurrency: 2}, slog.New(slog.DiscardHandler))
	got := c.CompareAll(context.Background(), "shop")

	require.Len(t, got.PerSubproject, 3)
	assert.InDelta(t, 100.0, got.PerSubproject["full"].Diff.Current.Rate, 1e-9)
	assert.InDelta(t, 50.0, got.PerSubproject["half"].Diff.Current.Rate, 1e-9)
	assert.InDelta(t, 75.0, got.WeightedAverage, 1e-9)
	assert.Equal(t, 2, got.Compared)
	assert.Equal(t, []string{"lonely"}, got.Insufficient)
	assert.False(t, got.PerSubproject["lonely"].Available)
}

func TestWeightedAverageNoneAvailable(t *testing.T) {
	assert.Equal(t, 0.0, WeightedAverage(nil))
	assert.Equal(t, 0.0, WeightedAverage(map[string]model.Comparison{
		"a": {Available: false, Reason: "insufficient data: 0 session(s) recorded"},
	}))
}

func TestCompareAllEmptyProject(t *testing.T) {
	_, g := newStore(t)
	c := New(g, Config{}, slog.New(slog.DiscardHandler))
	got := c.CompareAll(context.Background(), "ghost")
	assert.Empty(t, got.PerSubproject)
	assert.Equal(t, 0.0, got.WeightedAverage)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("window")
	require.NoError(t, err)
	assert.Equal(t, StrategyWindow, s)

	_, err = ParseStrategy("latest")
	assert.Error(t, err)
}
