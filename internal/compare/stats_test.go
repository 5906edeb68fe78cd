package compare

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
)

func eps(pairs ...any) []model.EndpointStatus {
	out := make([]model.EndpointStatus, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, model.EndpointStatus{Key: pairs[i].(string), Status: pairs[i+1].(int)})
	}
	return out
}

// sideFrom builds a side from generated statuses. A negative status means
// the key is absent from the side.
func sideFrom(statuses []int) []model.EndpointStatus {
	out := []model.EndpointStatus{}
	for i, s := range statuses {
		if s < 0 {
			continue
		}
		out = append(out, model.EndpointStatus{Key: fmt.Sprintf("GET /k%d", i), Status: s})
	}
	return out
}

func toSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func TestScenarioPreviousVsCurrent(t *testing.T) {
	prev := eps("GET /a", 200, "POST /b", 500)
	curr := eps("GET /a", 200, "POST /b", 200, "GET /c", 404)

	d := Diff(Side{Endpoints: prev}, Side{Endpoints: curr})

	assert.InDelta(t, 50.0, d.Previous.Rate, 1e-9)
	assert.InDelta(t, 66.6667, d.Current.Rate, 1e-3)
	assert.Equal(t, []string{"GET /c"}, d.Added)
	assert.Empty(t, d.Removed)
	assert.Equal(t, []string{"POST /b"}, d.Fixed)
	assert.Equal(t, []string{"GET /c"}, d.NewFailures)
	assert.Empty(t, d.RecurringFailures)
	assert.Equal(t, 1, d.Previous.Fails)
	assert.Equal(t, 1, d.Current.Fails)
	assert.Equal(t, 3, d.Current.Total)
	assert.Equal(t, model.TrendImprovement, d.Trend)
}

func TestStatusZeroIsFailure(t *testing.T) {
	set := eps("GET /a", 0, "GET /b", 200)
	assert.Equal(t, 50.0, Rate(set))
	assert.Equal(t, 1, Fails(set))
	assert.Contains(t, FailedKeys(set), "GET /a")

	d := Diff(Side{Endpoints: eps("GET /a", 200)}, Side{Endpoints: eps("GET /a", 0)})
	assert.Equal(t, []string{"GET /a"}, d.NewFailures)
	assert.Equal(t, model.TrendDecline, d.Trend)
}

func TestOutOfRangeStatusIsFailure(t *testing.T) {
	set := eps("GET /a", 1200, "GET /b", -5, "GET /c", 250)
	assert.Equal(t, 1, Successes(set))
	assert.Len(t, FailedKeys(set), 2)
}

func TestRateEmptySet(t *testing.T) {
	assert.Equal(t, 0.0, Rate(nil))
	assert.Equal(t, 0, Fails(nil))
}

func TestTrend(t *testing.T) {
	assert.Equal(t, model.TrendImprovement, Trend(0.1))
	assert.Equal(t, model.TrendDecline, Trend(-3))
	assert.Equal(t, model.TrendNoChange, Trend(0))
}

func TestCollapseLastWriteWinsByTimestamp(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []model.CallRecord{
		{Method: "GET", Endpoint: "/a", Status: 200, Timestamp: base.Add(2 * time.Second)},
		{Method: "POST", Endpoint: "/b", Status: 201, Timestamp: base.Add(time.Second)},
		{Method: "GET", Endpoint: "/a", Status: 503, Timestamp: base},
		{Method: "GET", Endpoint: "/x", Status: 42, Timestamp: base.Add(3 * time.Second)},
	}
	got := Collapse(records)
	require.Len(t, got, 3)
	assert.Equal(t, model.EndpointStatus{Key: "GET /a", Status: 200}, got[0])
	assert.Equal(t, model.EndpointStatus{Key: "POST /b", Status: 201}, got[1])
	assert.Equal(t, model.EndpointStatus{Key: "GET /x", Status: model.StatusUnknown}, got[2])
}

func TestStatsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	statuses := gen.SliceOf(gen.IntRange(-1, 700))

	properties.Property("rate is within [0,100] and fails+successes=total", prop.ForAll(
		func(s []int) bool {
			set := sideFrom(s)
			if len(set) == 0 {
				return Rate(set) == 0.0
			}
			r := Rate(set)
			return r >= 0 && r <= 100 && Fails(set)+Successes(set) == len(set)
		},
		statuses,
	))

	properties.Property("added and removed are disjoint", prop.ForAll(
		func(prev, curr []int) bool {
			d := Diff(Side{Endpoints: sideFrom(prev)}, Side{Endpoints: sideFrom(curr)})
			removed := toSet(d.Removed)
			for _, k := range d.Added {
				if _, ok := removed[k]; ok {
					return false
				}
			}
			return true
		},
		statuses, statuses,
	))

	properties.Property("recurring failures are failed on both sides and never fixed", prop.ForAll(
		func(prev, curr []int) bool {
			p, c := sideFrom(prev), sideFrom(curr)
			d := Diff(Side{Endpoints: p}, Side{Endpoints: c})
			failedPrev, failedCurr := FailedKeys(p), FailedKeys(c)
			fixed := toSet(d.Fixed)
			for _, k := range d.RecurringFailures {
				if _, ok := failedPrev[k]; !ok {
					return false
				}
				if _, ok := failedCurr[k]; !ok {
					return false
				}
				if _, ok := fixed[k]; ok {
					return false
				}
			}
			return true
		},
		statuses, statuses,
	))

	properties.Property("delta matches the trend", prop.ForAll(
		func(prev, curr []int) bool {
			d := Diff(Side{Endpoints: sideFrom(prev)}, Side{Endpoints: sideFrom(curr)})
			return d.Trend == Trend(d.Current.Rate-d.Previous.Rate)
		},
		statuses, statuses,
	))

	properties.TestingRun(t)
}

func TestSummarizeCollapsesRepeats(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := model.Session{
		SessionID: "s1",
		CreatedAt: t0,
		Endpoints: []model.CallRecord{
			{Method: "GET", Endpoint: "/a", Status: 500, Timestamp: t0},
			{Method: "GET", Endpoint: "/a", Status: 200, Timestamp: t0.Add(time.Second)},
			{Method: "POST", Endpoint: "/b", Status: 404, Timestamp: t0.Add(2 * time.Second)},
		},
	}
	got := Summarize(s)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, 3, got.Calls)
	assert.Equal(t, 1, got.Fails)
	assert.InDelta(t, 50.0, got.Rate, 1e-9)
}
