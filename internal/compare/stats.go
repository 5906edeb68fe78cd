// Package compare implements the execution history comparator: pure
// statistics over endpoint outcomes and the strategies that pick which two
// runs to compare.
package compare

import (
	"sort"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Side is one run's collapsed endpoint outcomes.
type Side struct {
	Endpoints []model.EndpointStatus
	Time      time.Time
}

// Collapse reduces records to one status per "METHOD path" key. Records are
// applied in timestamp order, so the latest status wins; keys keep the
// position of their first appearance. Statuses are normalized.
func Collapse(records []model.CallRecord) []model.EndpointStatus {
	ordered := make([]model.CallRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	index := make(map[string]int, len(ordered))
	out := make([]model.EndpointStatus, 0, len(ordered))
	for _, r := range ordered {
		key := r.Key()
		status := r.NormalizedStatus()
		if i, ok := index[key]; ok {
			out[i].Status = status
			continue
		}
		index[key] = len(out)
		out = append(out, model.EndpointStatus{Key: key, Status: status})
	}
	return out
}

// Successes counts 2xx statuses. Out-of-range statuses are failures.
func Successes(eps []model.EndpointStatus) int {
	n := 0
	for _, e := range eps {
		if model.IsSuccess(model.NormalizeStatus(e.Status)) {
			n++
		}
	}
	return n
}

// Fails is the total minus successes.
func Fails(eps []model.EndpointStatus) int {
	return len(eps) - Successes(eps)
}

// Rate is the percentage of 2xx statuses, 0.0 for an empty set.
func Rate(eps []model.EndpointStatus) float64 {
	if len(eps) == 0 {
		return 0.0
	}
	return 100 * float64(Successes(eps)) / float64(len(eps))
}

// Summarize reduces a session to its collapsed outcome counts.
func Summarize(s model.Session) model.SessionSummary {
	eps := Collapse(s.Endpoints)
	return model.SessionSummary{
		SessionID: s.SessionID,
		CreatedAt: s.CreatedAt,
		Calls:     len(s.Endpoints),
		Rate:      Rate(eps),
		Fails:     Fails(eps),
	}
}

// FailedKeys returns keys whose status is below 200 or at least 300.
func FailedKeys(eps []model.EndpointStatus) map[string]struct{} {
	out := make(map[string]struct{})
	for _, e := range eps {
		if !model.IsSuccess(model.NormalizeStatus(e.Status)) {
			out[e.Key] = struct{}{}
		}
	}
	return out
}

// Trend classifies a rate delta.
func Trend(delta float64) model.Trend {
	switch {
	case delta > 0:
		return model.TrendImprovement
	case delta < 0:
		return model.TrendDecline
	default:
		return model.TrendNoChange
	}
}

func keySet(eps []model.EndpointStatus) map[string]struct{} {
	out := make(map[string]struct{}, len(eps))
	for _, e := range eps {
		out[e.Key] = struct{}{}
	}
	return out
}

// minus returns the sorted keys of a that are not in b.
func minus(a, b map[string]struct{}) []string {
	out := []string{}
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// intersect returns the sorted keys present in both a and b.
func intersect(a, b map[string]struct{}) []string {
	out := []string{}
	for k := range a {
		if _, ok := b[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func stats(s Side) model.SideStats {
	return model.SideStats{
		Rate:  Rate(s.Endpoints),
		Total: len(s.Endpoints),
		Fails: Fails(s.Endpoints),
		Time:  s.Time,
	}
}

// Diff compares two sides. It is a pure function of its inputs.
func Diff(previous, current Side) model.DiffReport {
	prevKeys, currKeys := keySet(previous.Endpoints), keySet(current.Endpoints)
	prevFailed, currFailed := FailedKeys(previous.Endpoints), FailedKeys(current.Endpoints)

	prev, curr := stats(previous), stats(current)
	delta := curr.Rate - prev.Rate

	return model.DiffReport{
		Previous:          prev,
		Current:           curr,
		Added:             minus(currKeys, prevKeys),
		Removed:           minus(prevKeys, currKeys),
		NewFailures:       minus(currFailed, prevFailed),
		RecurringFailures: intersect(currFailed, prevFailed),
		Fixed:             minus(prevFailed, currFailed),
		Delta:             delta,
		Trend:             Trend(delta),
	}
}
