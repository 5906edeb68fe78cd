package model

import (
	"time"

	"github.com/google/uuid"
)

// NarrativePlaceholder replaces the narrative when the generator fails or
// returns unusable output.
const NarrativePlaceholder = "AI summary unavailable"

// Sections holds the narrative split into its named headings.
type Sections struct {
	OverallSummary  string `json:"overall_summary,omitempty"`
	KeyIssues       string `json:"key_issues,omitempty"`
	RootCause       string `json:"root_cause,omitempty"`
	Suggestions     string `json:"suggestions,omitempty"`
	EndpointsTested string `json:"endpoints_tested,omitempty"`
	ErrorBreakdown  string `json:"error_breakdown,omitempty"`
}

// Empty reports whether no section was extracted.
func (s Sections) Empty() bool {
	return s == Sections{}
}

// Report is the exportable result of one summary request.
type Report struct {
	ID              uuid.UUID        `json:"id"`
	Project         string           `json:"project"`
	Subproject      string           `json:"subproject,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	Narrative       string           `json:"narrative"`
	NarrativeOK     bool             `json:"narrative_ok"`
	Sections        Sections         `json:"sections"`
	Comparisons     []Comparison     `json:"comparisons"`
	WeightedAverage float64          `json:"weighted_average"`
	Endpoints       []EndpointStatus `json:"endpoints"`
	Errors          []string         `json:"errors,omitempty"`
	ContentHash     string           `json:"content_hash,omitempty"`
	IndexedAt       *time.Time       `json:"indexed_at,omitempty"`
}

// ReportSummary is a report listing or search hit.
type ReportSummary struct {
	ID              uuid.UUID `json:"id"`
	Project         string    `json:"project"`
	Subproject      string    `json:"subproject,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	WeightedAverage float64   `json:"weighted_average"`
	Excerpt         string    `json:"excerpt"`
	Score           float32   `json:"score,omitempty"`
}
