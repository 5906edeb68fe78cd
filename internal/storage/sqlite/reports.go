package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const excerptLen = 280

// InsertReport persists an assembled report.
func (d *DB) InsertReport(ctx context.Context, r model.Report) error {
	encode := func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	sections, err := encode(r.Sections)
	if err != nil {
		return fmt.Errorf("sqlite: marshal sections: %w", err)
	}
	comparisons, err := encode(r.Comparisons)
	if err != nil {
		return fmt.Errorf("sqlite: marshal comparisons: %w", err)
	}
	endpoints, err := encode(r.Endpoints)
	if err != nil {
		return fmt.Errorf("sqlite: marshal endpoints: %w", err)
	}
	errs, err := encode(r.Errors)
	if err != nil {
		return fmt.Errorf("sqlite: marshal errors: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO reports (id, project, subproject, session_id, created_at, narrative, narrative_ok,
		 sections, comparisons, endpoints, errors, weighted_average, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Project, r.Subproject, r.SessionID, nanos(r.CreatedAt), r.Narrative, r.NarrativeOK,
		sections, comparisons, endpoints, errs, r.WeightedAverage, r.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert report: %w", err)
	}
	return nil
}

// GetReport loads one report by ID.
func (d *DB) GetReport(ctx context.Context, id uuid.UUID) (model.Report, error) {
	var (
		r                                      model.Report
		rawID                                  string
		created                                int64
		sections, comparisons, endpoints, errs string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, project, subproject, session_id, created_at, narrative, narrative_ok,
		 sections, comparisons, endpoints, errors, weighted_average, content_hash
		 FROM reports WHERE id = ?`, id.String(),
	).Scan(&rawID, &r.Project, &r.Subproject, &r.SessionID, &created, &r.Narrative, &r.NarrativeOK,
		&sections, &comparisons, &endpoints, &errs, &r.WeightedAverage, &r.ContentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Report{}, fmt.Errorf("sqlite: report %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return model.Report{}, fmt.Errorf("sqlite: get report: %w", err)
	}
	r.ID = id
	r.CreatedAt = fromNanos(created)
	for _, f := range []struct {
		raw string
		dst any
	}{
		{sections, &r.Sections},
		{comparisons, &r.Comparisons},
		{endpoints, &r.Endpoints},
		{errs, &r.Errors},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return model.Report{}, fmt.Errorf("sqlite: decode report %s: %w", id, err)
		}
	}
	return r, nil
}

func (d *DB) summaries(ctx context.Context, query string, args ...any) ([]model.ReportSummary, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.ReportSummary{}
	for rows.Next() {
		var (
			s       model.ReportSummary
			rawID   string
			created int64
		)
		if err := rows.Scan(&rawID, &s.Project, &s.Subproject, &created, &s.WeightedAverage, &s.Excerpt); err != nil {
			return nil, err
		}
		if s.ID, err = uuid.Parse(rawID); err != nil {
			return nil, err
		}
		s.CreatedAt = fromNanos(created)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListReports returns the newest reports for a project.
func (d *DB) ListReports(ctx context.Context, project string, limit int) ([]model.ReportSummary, error) {
	out, err := d.summaries(ctx,
		`SELECT id, project, subproject, created_at, weighted_average, substr(narrative, 1, ?)
		 FROM reports WHERE project = ?
		 ORDER BY created_at DESC LIMIT ?`,
		excerptLen, project, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list reports: %w", err)
	}
	return out, nil
}

// SearchReportsText is a case-insensitive keyword search over narratives,
// sections and errors. An empty project searches every project.
func (d *DB) SearchReportsText(ctx context.Context, project, query string, limit int) ([]model.ReportSummary, error) {
	out, err := d.summaries(ctx,
		`SELECT id, project, subproject, created_at, weighted_average, substr(narrative, 1, ?)
		 FROM reports
		 WHERE (? = '' OR project = ?)
		   AND (instr(lower(narrative), lower(?)) > 0
		        OR instr(lower(sections), lower(?)) > 0
		        OR instr(lower(errors), lower(?)) > 0)
		 ORDER BY created_at DESC LIMIT ?`,
		excerptLen, project, project, query, query, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: search reports: %w", err)
	}
	return out, nil
}
