// Package search finds stored reports by meaning or keyword. Semantic search
// goes through a vector index; Postgres keyword search is the fallback.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/embedding"
)

// Result is a report ID with its raw similarity score.
type Result struct {
	ReportID uuid.UUID
	Score    float32
}

// Index is a vector index of reports. Implementations must be safe for
// concurrent use.
type Index interface {
	Search(ctx context.Context, project string, embedding []float32, limit int) ([]Result, error)
	Upsert(ctx context.Context, points []Point) error
	Healthy(ctx context.Context) error
}

// ReportSource is the keyword-search and hydration side of the report store.
type ReportSource interface {
	SearchReportsText(ctx context.Context, project, query string, limit int) ([]model.ReportSummary, error)
	GetReportSummaries(ctx context.Context, ids []uuid.UUID) ([]model.ReportSummary, error)
}

// TextSearcher is the subset of ReportSource needed without a vector index.
type TextSearcher interface {
	SearchReportsText(ctx context.Context, project, query string, limit int) ([]model.ReportSummary, error)
}

// Service answers report searches.
type Service struct {
	index    Index // nil when no vector index is configured
	embedder embedding.Provider
	reports  TextSearcher
	logger   *slog.Logger
}

// NewService creates a search service. index may be nil.
func NewService(index Index, embedder embedding.Provider, reports TextSearcher, logger *slog.Logger) *Service {
	return &Service{index: index, embedder: embedder, reports: reports, logger: logger}
}

// Semantic reports whether vector search can be attempted.
func (s *Service) Semantic() bool {
	_, canHydrate := s.reports.(ReportSource)
	return s.index != nil && canHydrate && embedding.Enabled(s.embedder)
}

// Search returns up to limit reports matching query. Semantic search is
// used when the index is healthy; any failure falls back to keyword search.
func (s *Service) Search(ctx context.Context, project, query string, limit int) ([]model.ReportSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if s.Semantic() {
		if err := s.index.Healthy(ctx); err != nil {
			s.logger.Warn("search: vector index unhealthy, using keyword search", "error", err)
		} else {
			out, err := s.semantic(ctx, project, query, limit)
			if err == nil {
				return out, nil
			}
			s.logger.Warn("search: semantic search failed, using keyword search", "error", err)
		}
	}
	out, err := s.reports.SearchReportsText(ctx, project, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search: keyword search: %w", err)
	}
	return out, nil
}

func (s *Service) semantic(ctx context.Context, project, query string, limit int) ([]model.ReportSummary, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.index.Search(ctx, project, vec.Slice(), limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []model.ReportSummary{}, nil
	}
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.ReportID
	}
	summaries, err := s.reports.(ReportSource).GetReportSummaries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate reports: %w", err)
	}
	return ReScore(results, summaries, limit), nil
}

// ReScore applies recency decay to raw similarity, sorts descending and
// truncates to limit. Results whose report no longer exists are skipped.
//
// relevance = similarity * 1/(1 + age_days/90)
func ReScore(results []Result, summaries []model.ReportSummary, limit int) []model.ReportSummary {
	byID := make(map[uuid.UUID]model.ReportSummary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}
	now := time.Now()
	scored := make([]model.ReportSummary, 0, len(results))
	for _, r := range results {
		s, ok := byID[r.ReportID]
		if !ok {
			continue
		}
		ageDays := math.Max(0, now.Sub(s.CreatedAt).Hours()/24.0)
		s.Score = float32(float64(r.Score) / (1.0 + ageDays/90.0))
		scored = append(scored, s)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
