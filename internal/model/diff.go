package model

import "time"

// Trend classifies a success-rate delta for display.
type Trend string

const (
	TrendImprovement Trend = "improvement"
	TrendDecline     Trend = "decline"
	TrendNoChange    Trend = "no change"
)

// SideStats summarizes one side (previous or current) of a comparison.
type SideStats struct {
	Rate  float64   `json:"rate"`
	Total int       `json:"total"`
	Fails int       `json:"fails"`
	Time  time.Time `json:"time"`
}

// DiffReport is the structured comparison between two sessions.
// Set fields are sorted "METHOD path" keys. Never persisted by the comparator.
type DiffReport struct {
	Previous          SideStats `json:"previous"`
	Current           SideStats `json:"current"`
	Added             []string  `json:"added"`
	Removed           []string  `json:"removed"`
	NewFailures       []string  `json:"new_failures"`
	RecurringFailures []string  `json:"recurring_failures"`
	Fixed             []string  `json:"fixed"`
	Delta             float64   `json:"delta"`
	Trend             Trend     `json:"trend"`
}

// Comparison is the result of comparing one subproject. When Available is
// false, Diff is nil and Reason explains why (insufficient data, invalid
// argument). It is never an error.
type Comparison struct {
	Project      string      `json:"project"`
	Subproject   string      `json:"subproject"`
	Strategy     string      `json:"strategy"`
	Available    bool        `json:"available"`
	Reason       string      `json:"reason,omitempty"`
	SessionCount int         `json:"session_count"`
	Diff         *DiffReport `json:"diff,omitempty"`
}

// ProjectComparison aggregates per-subproject comparisons for one project.
type ProjectComparison struct {
	Project         string                `json:"project"`
	PerSubproject   map[string]Comparison `json:"per_subproject"`
	WeightedAverage float64               `json:"weighted_average"`
	Compared        int                   `json:"compared"`
	Insufficient    []string              `json:"insufficient,omitempty"`
}
