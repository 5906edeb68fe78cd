package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
)

const excerptLen = 280

// MemoryReports is a process-local report archive used with the memory
// session store and in tests.
type MemoryReports struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]model.Report
}

// NewMemoryReports creates an empty archive.
func NewMemoryReports() *MemoryReports {
	return &MemoryReports{reports: make(map[uuid.UUID]model.Report)}
}

// InsertReport stores r. Reports are immutable, so a duplicate ID is rejected.
func (m *MemoryReports) InsertReport(_ context.Context, r model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; ok {
		return fmt.Errorf("storage: report %s already exists", r.ID)
	}
	m.reports[r.ID] = r
	return nil
}

// GetReport loads one report by ID.
func (m *MemoryReports) GetReport(_ context.Context, id uuid.UUID) (model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return model.Report{}, fmt.Errorf("storage: report %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// ListReports returns the newest reports for a project.
func (m *MemoryReports) ListReports(_ context.Context, project string, limit int) ([]model.ReportSummary, error) {
	return m.filter(limit, func(r model.Report) bool { return r.Project == project }), nil
}

// SearchReportsText matches query case-insensitively against narratives,
// sections and errors. An empty project searches every project.
func (m *MemoryReports) SearchReportsText(_ context.Context, project, query string, limit int) ([]model.ReportSummary, error) {
	q := strings.ToLower(query)
	return m.filter(limit, func(r model.Report) bool {
		if project != "" && r.Project != project {
			return false
		}
		return strings.Contains(strings.ToLower(reportSearchText(r)), q)
	}), nil
}

// GetReportSummaries loads summaries for ids in the order given. Unknown
// IDs are skipped.
func (m *MemoryReports) GetReportSummaries(_ context.Context, ids []uuid.UUID) ([]model.ReportSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ReportSummary, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.reports[id]; ok {
			out = append(out, summarize(r))
		}
	}
	return out, nil
}

func (m *MemoryReports) filter(limit int, keep func(model.Report) bool) []model.ReportSummary {
	m.mu.RLock()
	matched := make([]model.Report, 0)
	for _, r := range m.reports {
		if keep(r) {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if limit = clampLimit(limit); len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]model.ReportSummary, len(matched))
	for i, r := range matched {
		out[i] = summarize(r)
	}
	return out
}

func reportSearchText(r model.Report) string {
	s := r.Sections
	parts := []string{r.Narrative, s.OverallSummary, s.KeyIssues, s.RootCause,
		s.Suggestions, s.EndpointsTested, s.ErrorBreakdown}
	parts = append(parts, r.Errors...)
	return strings.Join(parts, "\n")
}

func summarize(r model.Report) model.ReportSummary {
	excerpt := r.Narrative
	if runes := []rune(excerpt); len(runes) > excerptLen {
		excerpt = string(runes[:excerptLen])
	}
	return model.ReportSummary{
		ID:              r.ID,
		Project:         r.Project,
		Subproject:      r.Subproject,
		CreatedAt:       r.CreatedAt,
		WeightedAverage: r.WeightedAverage,
		Excerpt:         excerpt,
	}
}
