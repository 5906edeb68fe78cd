package sessionstore

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Guard wraps a Store. Reads never fail: errors are logged and surface as
// "no data available". Writes pass errors through so callers can retry.
type Guard struct {
	store  Store
	logger *slog.Logger
}

// NewGuard wraps store.
func NewGuard(store Store, logger *slog.Logger) *Guard {
	return &Guard{store: store, logger: logger}
}

// Store returns the wrapped store.
func (g *Guard) Store() Store { return g.store }

// UpsertSession forwards to the wrapped store.
func (g *Guard) UpsertSession(ctx context.Context, project, subproject string, s model.Session) error {
	return g.store.UpsertSession(ctx, project, subproject, s)
}

// AppendCallRecord forwards to the wrapped store.
func (g *Guard) AppendCallRecord(ctx context.Context, project, subproject, sessionID string, rec model.CallRecord) error {
	return g.store.AppendCallRecord(ctx, project, subproject, sessionID, rec)
}

// RecentSessions returns up to limit sessions, newest first, or nil when
// the store cannot be read.
func (g *Guard) RecentSessions(ctx context.Context, project, subproject string, limit int) []model.Session {
	sessions, err := g.store.RecentSessions(ctx, project, subproject, limit)
	if err != nil {
		g.logger.Warn("sessionstore: recent sessions unavailable",
			"project", project, "subproject", subproject, "error", err)
		return nil
	}
	return sessions
}

// RecentCallRecords returns up to limit records, newest first, or nil when
// the store cannot be read.
func (g *Guard) RecentCallRecords(ctx context.Context, project, subproject string, limit int) []model.CallRecord {
	records, err := g.store.RecentCallRecords(ctx, project, subproject, limit)
	if err != nil {
		g.logger.Warn("sessionstore: recent call records unavailable",
			"project", project, "subproject", subproject, "error", err)
		return nil
	}
	return records
}

// Subprojects lists the subprojects of project, or nil on a read failure.
func (g *Guard) Subprojects(ctx context.Context, project string) []string {
	names, err := g.store.Subprojects(ctx, project)
	if err != nil {
		g.logger.Warn("sessionstore: subprojects unavailable", "project", project, "error", err)
		return nil
	}
	return names
}

// Projects lists every project, or nil on a read failure.
func (g *Guard) Projects(ctx context.Context) []string {
	names, err := g.store.Projects(ctx)
	if err != nil {
		g.logger.Warn("sessionstore: projects unavailable", "error", err)
		return nil
	}
	return names
}
