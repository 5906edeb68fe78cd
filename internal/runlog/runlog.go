// Package runlog provides the per-run accumulator of call outcomes and
// free-text entries that feeds the narrative summary.
//
// A Log is owned by whoever drives the run and is passed explicitly; there
// is no package-level instance. All operations are mutually exclusive, so a
// reader never observes a partial append.
package runlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Clock returns the current time. Injected for deterministic tests.
type Clock func() time.Time

// Snapshot is the drained content of a Log.
type Snapshot struct {
	Records   []string               `json:"records"`
	Errors    []string               `json:"errors"`
	Endpoints []model.EndpointStatus `json:"endpoints"`
}

// Empty reports whether the snapshot carries nothing.
func (s Snapshot) Empty() bool {
	return len(s.Records) == 0 && len(s.Errors) == 0 && len(s.Endpoints) == 0
}

// Log accumulates entries for one run.
type Log struct {
	now Clock

	mu        sync.Mutex
	records   []string
	errors    []string
	endpoints []model.EndpointStatus
	index     map[string]int // key -> position in endpoints
}

// New creates an empty Log. A nil clock uses time.Now.
func New(clock Clock) *Log {
	if clock == nil {
		clock = time.Now
	}
	return &Log{now: clock, index: make(map[string]int)}
}

func (l *Log) stamp(entry string) string {
	return "[" + l.now().UTC().Format(time.RFC3339) + "] " + entry
}

// Append adds a timestamped free-text entry.
func (l *Log) Append(entry string) {
	line := l.stamp(entry)
	l.mu.Lock()
	l.records = append(l.records, line)
	l.mu.Unlock()
}

// RecordEndpoint appends a formatted entry and sets the last-seen status for
// "METHOD endpoint". Repeated keys overwrite the status but keep their first
// position, so duplicate calls within one run count once.
func (l *Log) RecordEndpoint(method, endpoint string, status int) {
	key := model.EndpointKey(method, endpoint)
	line := l.stamp(fmt.Sprintf("%s -> %d", key, status))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, line)
	if i, ok := l.index[key]; ok {
		l.endpoints[i].Status = status
		return
	}
	l.index[key] = len(l.endpoints)
	l.endpoints = append(l.endpoints, model.EndpointStatus{Key: key, Status: status})
}

// RecordEndpointRaw is RecordEndpoint for a textual status. A malformed
// status is stored as model.StatusUnknown and counts as a failure.
func (l *Log) RecordEndpointRaw(method, endpoint, status string) {
	l.RecordEndpoint(method, endpoint, model.ParseStatus(status))
}

// RecordError appends to both the general log and the error list.
func (l *Log) RecordError(endpoint, message string) {
	line := l.stamp(fmt.Sprintf("ERROR %s: %s", endpoint, message))

	l.mu.Lock()
	l.records = append(l.records, line)
	l.errors = append(l.errors, fmt.Sprintf("%s: %s", endpoint, message))
	l.mu.Unlock()
}

// DrainAndClear atomically returns everything accumulated and resets the Log.
// A second call returns empty collections.
func (l *Log) DrainAndClear() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		Records:   l.records,
		Errors:    l.errors,
		Endpoints: l.endpoints,
	}
	if snap.Records == nil {
		snap.Records = []string{}
	}
	if snap.Errors == nil {
		snap.Errors = []string{}
	}
	if snap.Endpoints == nil {
		snap.Endpoints = []model.EndpointStatus{}
	}

	l.records = nil
	l.errors = nil
	l.endpoints = nil
	l.index = make(map[string]int)
	return snap
}

// Len returns the number of general log entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// ErrorCount returns the number of recorded errors.
func (l *Log) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}
