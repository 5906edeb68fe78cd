package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
)

// upsertHierarchy creates the project, subproject and session rows if missing.
func upsertHierarchy(ctx context.Context, tx pgx.Tx, project, subproject, sessionID string, createdAt time.Time) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO projects (name) VALUES ($1) ON CONFLICT DO NOTHING`, project,
	); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO subprojects (project, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		project, subproject,
	); err != nil {
		return fmt.Errorf("upsert subproject: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO sessions (session_id, project, subproject, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (session_id) DO NOTHING`,
		sessionID, project, subproject, createdAt,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func insertCallRecord(ctx context.Context, tx pgx.Tx, sessionID string, r model.CallRecord) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO call_records (session_id, method, endpoint, payload, response, status, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sessionID, r.Method, r.Endpoint, r.Payload, r.Response, r.Status, r.Timestamp,
	); err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// UpsertSession creates the session hierarchy and inserts any endpoints the
// session carries. An existing session keeps its createdAt.
func (db *DB) UpsertSession(ctx context.Context, project, subproject string, s model.Session) error {
	if project == "" || subproject == "" || s.SessionID == "" {
		return ErrInvalidArgument
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := WithRetry(ctx, defaultRetries, defaultRetryDelay, func() error {
		return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			if err := upsertHierarchy(ctx, tx, project, subproject, s.SessionID, createdAt); err != nil {
				return err
			}
			for _, r := range s.Endpoints {
				if err := insertCallRecord(ctx, tx, s.SessionID, r); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("storage: upsert session %s: %w", s.SessionID, err)
	}
	return nil
}

// AppendCallRecord appends one record, creating the hierarchy on first use.
// The session's createdAt is the first record's timestamp.
func (db *DB) AppendCallRecord(ctx context.Context, project, subproject, sessionID string, r model.CallRecord) error {
	if project == "" || subproject == "" || sessionID == "" {
		return ErrInvalidArgument
	}
	createdAt := r.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := WithRetry(ctx, defaultRetries, defaultRetryDelay, func() error {
		return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			if err := upsertHierarchy(ctx, tx, project, subproject, sessionID, createdAt); err != nil {
				return err
			}
			return insertCallRecord(ctx, tx, sessionID, r)
		})
	})
	if err != nil {
		return fmt.Errorf("storage: append call record: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first, each with its
// records in chronological order.
func (db *DB) RecentSessions(ctx context.Context, project, subproject string, limit int) ([]model.Session, error) {
	if project == "" || subproject == "" {
		return nil, ErrInvalidArgument
	}
	rows, err := db.pool.Query(ctx,
		`SELECT session_id, created_at FROM sessions
		 WHERE project = $1 AND subproject = $2
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $3`,
		project, subproject, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Session, error) {
		var s model.Session
		err := row.Scan(&s.SessionID, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan sessions: %w", err)
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	ids := make([]string, len(sessions))
	pos := make(map[string]int, len(sessions))
	for i, s := range sessions {
		ids[i] = s.SessionID
		pos[s.SessionID] = i
		sessions[i].Endpoints = []model.CallRecord{}
	}

	recRows, err := db.pool.Query(ctx,
		`SELECT session_id, method, endpoint, payload, response, status, ts
		 FROM call_records WHERE session_id = ANY($1)
		 ORDER BY ts ASC, id ASC`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: session records: %w", err)
	}
	defer recRows.Close()

	for recRows.Next() {
		var sid string
		var r model.CallRecord
		if err := recRows.Scan(&sid, &r.Method, &r.Endpoint, &r.Payload, &r.Response, &r.Status, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan call record: %w", err)
		}
		i := pos[sid]
		sessions[i].Endpoints = append(sessions[i].Endpoints, r)
	}
	if err := recRows.Err(); err != nil {
		return nil, fmt.Errorf("storage: session records: %w", err)
	}
	return sessions, nil
}

// RecentCallRecords returns the flat record history of a subproject, newest first.
func (db *DB) RecentCallRecords(ctx context.Context, project, subproject string, limit int) ([]model.CallRecord, error) {
	if project == "" || subproject == "" {
		return nil, ErrInvalidArgument
	}
	rows, err := db.pool.Query(ctx,
		`SELECT c.method, c.endpoint, c.payload, c.response, c.status, c.ts
		 FROM call_records c
		 JOIN sessions s ON s.session_id = c.session_id
		 WHERE s.project = $1 AND s.subproject = $2
		 ORDER BY c.ts DESC, c.id DESC
		 LIMIT $3`,
		project, subproject, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent call records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CallRecord, error) {
		var r model.CallRecord
		err := row.Scan(&r.Method, &r.Endpoint, &r.Payload, &r.Response, &r.Status, &r.Timestamp)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan call records: %w", err)
	}
	return records, nil
}

// Subprojects lists a project's subprojects in name order.
func (db *DB) Subprojects(ctx context.Context, project string) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT name FROM subprojects WHERE project = $1 ORDER BY name`, project)
	if err != nil {
		return nil, fmt.Errorf("storage: list subprojects: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storage: scan subprojects: %w", err)
	}
	return names, nil
}

// Projects lists every project in name order.
func (db *DB) Projects(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT name FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list projects: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storage: scan projects: %w", err)
	}
	return names, nil
}

const maxQueryLimit = 1000

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
