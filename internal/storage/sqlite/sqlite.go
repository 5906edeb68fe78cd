// Package sqlite is an embedded session and report store for single-process
// deployments, local runs and the operator CLI. It mirrors the Postgres
// table layout without the vector column.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ashita-ai/kiroku/internal/sessionstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS subprojects (
	project    TEXT NOT NULL REFERENCES projects(name),
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (project, name)
);
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	project    TEXT NOT NULL,
	subproject TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (project, subproject) REFERENCES subprojects(project, name)
);
CREATE INDEX IF NOT EXISTS idx_sessions_recent ON sessions (project, subproject, created_at DESC);
CREATE TABLE IF NOT EXISTS call_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	method     TEXT NOT NULL,
	endpoint   TEXT NOT NULL,
	payload    TEXT,
	response   TEXT,
	status     INTEGER NOT NULL,
	ts         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_records_session ON call_records (session_id, ts);
CREATE TABLE IF NOT EXISTS reports (
	id               TEXT PRIMARY KEY,
	project          TEXT NOT NULL,
	subproject       TEXT NOT NULL DEFAULT '',
	session_id       TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	narrative        TEXT NOT NULL,
	narrative_ok     INTEGER NOT NULL,
	sections         TEXT NOT NULL,
	comparisons      TEXT NOT NULL,
	endpoints        TEXT NOT NULL,
	errors           TEXT NOT NULL,
	weighted_average REAL NOT NULL,
	content_hash     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_project ON reports (project, created_at DESC);
`

// DB is a SQLite-backed store.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ sessionstore.Store = (*DB)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. WAL mode is enabled and a single connection serializes writes.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	dsn := "file:" + path + "?" + q.Encode()

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	logger.Info("sqlite: opened", "path", path)
	return &DB{db: sqlDB, logger: logger}, nil
}

// Ping checks the database is usable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases the database.
func (d *DB) Close() error {
	return d.db.Close()
}

const maxQueryLimit = 1000

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
