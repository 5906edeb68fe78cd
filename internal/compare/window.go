package compare

import (
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// DefaultGap separates consecutive automated runs in the window strategy.
// Suites that run back to back faster than the gap merge into one side.
const DefaultGap = 2 * time.Minute

// Partition splits records into the current and previous run. The newest
// timestamp anchors the window: a record belongs to current when
// latest-ts < gap, otherwise to previous. Input order is preserved.
func Partition(records []model.CallRecord, gap time.Duration) (current, previous []model.CallRecord) {
	if len(records) == 0 {
		return nil, nil
	}
	latest := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	for _, r := range records {
		if latest.Sub(r.Timestamp) < gap {
			current = append(current, r)
		} else {
			previous = append(previous, r)
		}
	}
	return current, previous
}

func newest(records []model.CallRecord) time.Time {
	var t time.Time
	for _, r := range records {
		if r.Timestamp.After(t) {
			t = r.Timestamp
		}
	}
	return t
}
