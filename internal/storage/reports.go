package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kiroku/internal/model"
)

const reportColumns = `id, project, subproject, session_id, created_at, narrative, narrative_ok,
	sections, comparisons, endpoints, errors, weighted_average, content_hash, indexed_at`

// InsertReport persists an assembled report.
func (db *DB) InsertReport(ctx context.Context, r model.Report) error {
	sections, err := json.Marshal(r.Sections)
	if err != nil {
		return fmt.Errorf("storage: marshal sections: %w", err)
	}
	comparisons, err := json.Marshal(r.Comparisons)
	if err != nil {
		return fmt.Errorf("storage: marshal comparisons: %w", err)
	}
	endpoints, err := json.Marshal(r.Endpoints)
	if err != nil {
		return fmt.Errorf("storage: marshal endpoints: %w", err)
	}
	errs, err := json.Marshal(r.Errors)
	if err != nil {
		return fmt.Errorf("storage: marshal errors: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO reports (id, project, subproject, session_id, created_at, narrative, narrative_ok,
		 sections, comparisons, endpoints, errors, weighted_average, content_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.Project, r.Subproject, r.SessionID, r.CreatedAt, r.Narrative, r.NarrativeOK,
		sections, comparisons, endpoints, errs, r.WeightedAverage, r.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("storage: insert report: %w", err)
	}
	return nil
}

func scanReport(row pgx.Row) (model.Report, error) {
	var (
		r                                      model.Report
		sections, comparisons, endpoints, errs []byte
	)
	if err := row.Scan(&r.ID, &r.Project, &r.Subproject, &r.SessionID, &r.CreatedAt, &r.Narrative,
		&r.NarrativeOK, &sections, &comparisons, &endpoints, &errs, &r.WeightedAverage,
		&r.ContentHash, &r.IndexedAt); err != nil {
		return r, err
	}
	if err := json.Unmarshal(sections, &r.Sections); err != nil {
		return r, fmt.Errorf("unmarshal sections: %w", err)
	}
	if err := json.Unmarshal(comparisons, &r.Comparisons); err != nil {
		return r, fmt.Errorf("unmarshal comparisons: %w", err)
	}
	if err := json.Unmarshal(endpoints, &r.Endpoints); err != nil {
		return r, fmt.Errorf("unmarshal endpoints: %w", err)
	}
	if err := json.Unmarshal(errs, &r.Errors); err != nil {
		return r, fmt.Errorf("unmarshal errors: %w", err)
	}
	return r, nil
}

// GetReport loads one report by ID.
func (db *DB) GetReport(ctx context.Context, id uuid.UUID) (model.Report, error) {
	r, err := scanReport(db.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Report{}, fmt.Errorf("storage: report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Report{}, fmt.Errorf("storage: get report: %w", err)
	}
	return r, nil
}

// ListReports returns the newest reports for a project.
func (db *DB) ListReports(ctx context.Context, project string, limit int) ([]model.ReportSummary, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, project, subproject, created_at, weighted_average, left(narrative, 280)
		 FROM reports WHERE project = $1
		 ORDER BY created_at DESC LIMIT $2`,
		project, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list reports: %w", err)
	}
	return collectSummaries(rows)
}

// SearchReportsText is a case-insensitive keyword search over narratives and
// extracted sections. An empty project searches every project.
func (db *DB) SearchReportsText(ctx context.Context, project, query string, limit int) ([]model.ReportSummary, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, project, subproject, created_at, weighted_average, left(narrative, 280)
		 FROM reports
		 WHERE ($1::text = '' OR project = $1)
		   AND (narrative ILIKE '%' || $2::text || '%' OR sections::text ILIKE '%' || $2::text || '%'
		        OR errors::text ILIKE '%' || $2::text || '%')
		 ORDER BY created_at DESC LIMIT $3`,
		project, query, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: search reports: %w", err)
	}
	return collectSummaries(rows)
}

// GetReportSummaries loads summaries for the given IDs, preserving the order of ids.
func (db *DB) GetReportSummaries(ctx context.Context, ids []uuid.UUID) ([]model.ReportSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, project, subproject, created_at, weighted_average, left(narrative, 280)
		 FROM reports WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: get report summaries: %w", err)
	}
	found, err := collectSummaries(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]model.ReportSummary, len(found))
	for _, s := range found {
		byID[s.ID] = s
	}
	out := make([]model.ReportSummary, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func collectSummaries(rows pgx.Rows) ([]model.ReportSummary, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ReportSummary, error) {
		var s model.ReportSummary
		err := row.Scan(&s.ID, &s.Project, &s.Subproject, &s.CreatedAt, &s.WeightedAverage, &s.Excerpt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan report summaries: %w", err)
	}
	return out, nil
}

// UnindexedReports returns reports that have not been pushed to the vector index, oldest first.
func (db *DB) UnindexedReports(ctx context.Context, limit int) ([]model.Report, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+reportColumns+` FROM reports
		 WHERE indexed_at IS NULL
		 ORDER BY created_at ASC LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: unindexed reports: %w", err)
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetReportEmbedding stores the embedding vector for a report.
func (db *DB) SetReportEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector) error {
	tag, err := db.pool.Exec(ctx, `UPDATE reports SET embedding = $2 WHERE id = $1`, id, vec)
	if err != nil {
		return fmt.Errorf("storage: set report embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: report %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkReportsIndexed records that the given reports are in the vector index.
func (db *DB) MarkReportsIndexed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := db.pool.Exec(ctx,
		`UPDATE reports SET indexed_at = $2 WHERE id = ANY($1)`, ids, at,
	); err != nil {
		return fmt.Errorf("storage: mark reports indexed: %w", err)
	}
	return nil
}
