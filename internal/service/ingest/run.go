package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/runlog"
)

// ErrRunFinished is returned by a run that has already been drained. The
// caller should fetch the active run from the Registry and try again.
var ErrRunFinished = errors.New("ingest: run already finished")

// Run is one test run against a subproject. Its session ID is generated on
// first use and shared by every record of the run.
type Run struct {
	project    string
	subproject string
	buffer     *Buffer
	log        *runlog.Log
	started    time.Time

	once      sync.Once
	sessionID string

	// mu orders writes against Finish so nothing lands in a drained log.
	mu       sync.Mutex
	finished bool
}

// NewRun creates a run. A nil buffer records to the run log only.
func NewRun(project, subproject string, buffer *Buffer, clock runlog.Clock) *Run {
	if clock == nil {
		clock = time.Now
	}
	return &Run{
		project:    project,
		subproject: subproject,
		buffer:     buffer,
		log:        runlog.New(clock),
		started:    clock().UTC(),
	}
}

// Project returns the run's project.
func (r *Run) Project() string { return r.project }

// Subproject returns the run's subproject.
func (r *Run) Subproject() string { return r.subproject }

// Started returns when the run was created.
func (r *Run) Started() time.Time { return r.started }

// Log exposes the run's accumulator.
func (r *Run) Log() *runlog.Log { return r.log }

// SessionID returns the run's session identifier, generating it once.
func (r *Run) SessionID() string {
	r.once.Do(func() { r.sessionID = uuid.NewString() })
	return r.sessionID
}

// Record notes the call's outcome in the run log and queues it for
// persistence. The run log is updated even when queueing fails.
func (r *Run) Record(ctx context.Context, rec model.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrRunFinished
	}
	rec.Status = rec.NormalizedStatus()
	r.log.RecordEndpoint(rec.Method, rec.Endpoint, rec.Status)
	if r.buffer == nil {
		return nil
	}
	return r.buffer.Add(ctx, r.project, r.subproject, r.SessionID(), rec)
}

// Fail records an error for endpoint.
func (r *Run) Fail(endpoint, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrRunFinished
	}
	r.log.RecordError(endpoint, message)
	return nil
}

// Note appends a free-text entry.
func (r *Run) Note(entry string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrRunFinished
	}
	r.log.Append(entry)
	return nil
}

// Finished reports whether Finish has been called.
func (r *Run) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Finish flushes pending records and drains the run log. The snapshot is
// returned even when the flush fails, so a summary can still be produced.
// Later writes to the run fail with ErrRunFinished.
func (r *Run) Finish(ctx context.Context) (runlog.Snapshot, error) {
	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()

	var err error
	if r.buffer != nil {
		err = r.buffer.FlushNow(ctx)
	}
	return r.log.DrainAndClear(), err
}
