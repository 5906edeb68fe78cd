package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/sessionstore"
)

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (d *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func upsertHierarchy(ctx context.Context, tx *sql.Tx, project, subproject, sessionID string, createdAt time.Time) error {
	now := nanos(time.Now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (name, created_at) VALUES (?, ?) ON CONFLICT DO NOTHING`, project, now,
	); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subprojects (project, name, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		project, subproject, now,
	); err != nil {
		return fmt.Errorf("upsert subproject: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, project, subproject, created_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT (session_id) DO NOTHING`,
		sessionID, project, subproject, nanos(createdAt),
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func insertCallRecord(ctx context.Context, tx *sql.Tx, sessionID string, r model.CallRecord) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO call_records (session_id, method, endpoint, payload, response, status, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, r.Method, r.Endpoint, r.Payload, r.Response, r.Status, nanos(r.Timestamp),
	); err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// UpsertSession creates the session hierarchy and inserts the session's records.
func (d *DB) UpsertSession(ctx context.Context, project, subproject string, s model.Session) error {
	if project == "" || subproject == "" || s.SessionID == "" {
		return sessionstore.ErrInvalidArgument
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := d.inTx(ctx, func(tx *sql.Tx) error {
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
	if err != nil {
		return fmt.Errorf("sqlite: upsert session %s: %w", s.SessionID, err)
	}
	return nil
}

// AppendCallRecord appends one record, creating the hierarchy on first use.
func (d *DB) AppendCallRecord(ctx context.Context, project, subproject, sessionID string, r model.CallRecord) error {
	if project == "" || subproject == "" || sessionID == "" {
		return sessionstore.ErrInvalidArgument
	}
	createdAt := r.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertHierarchy(ctx, tx, project, subproject, sessionID, createdAt); err != nil {
			return err
		}
		return insertCallRecord(ctx, tx, sessionID, r)
	})
	if err != nil {
		return fmt.Errorf("sqlite: append call record: %w", err)
	}
	return nil
}

func scanRecord(scan func(...any) error, extra ...any) (model.CallRecord, error) {
	var (
		r  model.CallRecord
		ts int64
	)
	dest := append(extra, &r.Method, &r.Endpoint, &r.Payload, &r.Response, &r.Status, &ts)
	if err := scan(dest...); err != nil {
		return r, err
	}
	r.Timestamp = fromNanos(ts)
	return r, nil
}

// RecentSessions returns up to limit sessions, newest first, each with its
// records in chronological order.
func (d *DB) RecentSessions(ctx context.Context, project, subproject string, limit int) ([]model.Session, error) {
	if project == "" || subproject == "" {
		return nil, sessionstore.ErrInvalidArgument
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT session_id, created_at FROM sessions
		 WHERE project = ? AND subproject = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		project, subproject, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent sessions: %w", err)
	}
	sessions := []model.Session{}
	for rows.Next() {
		var s model.Session
		var created int64
		if err := rows.Scan(&s.SessionID, &created); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		s.CreatedAt = fromNanos(created)
		s.Endpoints = []model.CallRecord{}
		sessions = append(sessions, s)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: recent sessions: %w", err)
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	args := make([]any, len(sessions))
	pos := make(map[string]int, len(sessions))
	for i, s := range sessions {
		args[i] = s.SessionID
		pos[s.SessionID] = i
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	recRows, err := d.db.QueryContext(ctx,
		`SELECT session_id, method, endpoint, payload, response, status, ts
		 FROM call_records WHERE session_id IN (`+placeholders+`)
		 ORDER BY ts ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: session records: %w", err)
	}
	defer func() { _ = recRows.Close() }()
	for recRows.Next() {
		var sid string
		r, err := scanRecord(recRows.Scan, &sid)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan call record: %w", err)
		}
		i := pos[sid]
		sessions[i].Endpoints = append(sessions[i].Endpoints, r)
	}
	if err := recRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: session records: %w", err)
	}
	return sessions, nil
}

// RecentCallRecords returns the flat record history of a subproject, newest first.
func (d *DB) RecentCallRecords(ctx context.Context, project, subproject string, limit int) ([]model.CallRecord, error) {
	if project == "" || subproject == "" {
		return nil, sessionstore.ErrInvalidArgument
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT c.method, c.endpoint, c.payload, c.response, c.status, c.ts
		 FROM call_records c
		 JOIN sessions s ON s.session_id = c.session_id
		 WHERE s.project = ? AND s.subproject = ?
		 ORDER BY c.ts DESC, c.id DESC
		 LIMIT ?`,
		project, subproject, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent call records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	records := []model.CallRecord{}
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan call record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: recent call records: %w", err)
	}
	return records, nil
}

func (d *DB) names(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Subprojects lists a project's subprojects in name order.
func (d *DB) Subprojects(ctx context.Context, project string) ([]string, error) {
	names, err := d.names(ctx, `SELECT name FROM subprojects WHERE project = ? ORDER BY name`, project)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list subprojects: %w", err)
	}
	return names, nil
}

// Projects lists every project in name order.
func (d *DB) Projects(ctx context.Context) ([]string, error) {
	names, err := d.names(ctx, `SELECT name FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list projects: %w", err)
	}
	return names, nil
}
