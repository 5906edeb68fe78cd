package model

import "time"

// Session is the set of call records produced by one run.
// Created lazily on the first record and only appended to while that run is active.
type Session struct {
	SessionID string       `json:"sessionId"`
	CreatedAt time.Time    `json:"createdAt"`
	Endpoints []CallRecord `json:"endpoints"`
}

// Subproject groups sessions for one test-suite variant.
// Sessions are kept in insertion order, which is chronological.
type Subproject struct {
	Name     string    `json:"name"`
	Sessions []Session `json:"sessions"`
}

// Project is the top-level namespace. The name is resolved by the caller
// and treated as opaque.
type Project struct {
	Name        string                 `json:"name"`
	Subprojects map[string]*Subproject `json:"subprojects"`
}

// SessionSummary is the lightweight listing view of a session.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Calls     int       `json:"calls"`
	Rate      float64   `json:"rate"`
	Fails     int       `json:"fails"`
}

// ProjectListing names a project and its subprojects.
type ProjectListing struct {
	Name        string   `json:"name"`
	Subprojects []string `json:"subprojects"`
}
