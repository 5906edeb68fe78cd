// Package sessionstore defines the persistence boundary for run history and
// the guard that keeps storage failures out of comparison logic.
package sessionstore

import (
	"context"
	"errors"

	"github.com/ashita-ai/kiroku/internal/model"
)

// ErrInvalidArgument is returned for empty project, subproject or session IDs.
var ErrInvalidArgument = errors.New("sessionstore: invalid argument")

// Store durably groups call records under project, subproject and session.
// Implementations must not lose records when appends to the same session race.
type Store interface {
	// UpsertSession creates the project, subproject and session if they do
	// not exist. Existing sessions keep their endpoints and createdAt.
	UpsertSession(ctx context.Context, project, subproject string, s model.Session) error
	// AppendCallRecord appends rec to the session, creating the hierarchy on first use.
	AppendCallRecord(ctx context.Context, project, subproject, sessionID string, rec model.CallRecord) error
	// RecentSessions returns up to limit sessions, newest createdAt first.
	RecentSessions(ctx context.Context, project, subproject string, limit int) ([]model.Session, error)
	// RecentCallRecords returns up to limit records across sessions, newest timestamp first.
	RecentCallRecords(ctx context.Context, project, subproject string, limit int) ([]model.CallRecord, error)
	// Subprojects lists subproject names of a project in name order.
	Subprojects(ctx context.Context, project string) ([]string, error)
	// Projects lists project names in name order.
	Projects(ctx context.Context) ([]string, error)
}

// Reader is the failure-free view the comparator consumes. Any storage error
// has already been logged and replaced with an empty result.
type Reader interface {
	RecentSessions(ctx context.Context, project, subproject string, limit int) []model.Session
	RecentCallRecords(ctx context.Context, project, subproject string, limit int) []model.CallRecord
	Subprojects(ctx context.Context, project string) []string
	Projects(ctx context.Context) []string
}

func validate(project, subproject string) error {
	if project == "" || subproject == "" {
		return ErrInvalidArgument
	}
	return nil
}
