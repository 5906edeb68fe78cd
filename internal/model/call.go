// Package model defines the core domain types for kiroku.
//
// CallRecord, Session, Subproject and Project mirror the persisted history
// documents field for field, so their JSON names are camelCase. API request
// and response types use snake_case like the rest of the HTTP surface.
package model

import (
	"strconv"
	"time"
)

// Status bounds. A status outside [MinStatus, MaxStatus] is unknown and is
// normalized to StatusUnknown, which always counts as a failure.
const (
	MinStatus     = 100
	MaxStatus     = 599
	StatusUnknown = 0
)

// CallRecord is one observed HTTP exchange. Immutable once created.
type CallRecord struct {
	Method    string    `json:"method"`
	Endpoint  string    `json:"endpoint"`
	Payload   *string   `json:"payload,omitempty"`
	Response  *string   `json:"response,omitempty"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the "METHOD endpoint" identity used by every comparison.
func (r CallRecord) Key() string {
	return EndpointKey(r.Method, r.Endpoint)
}

// NormalizedStatus returns the status, or StatusUnknown when it is out of range.
func (r CallRecord) NormalizedStatus() int {
	return NormalizeStatus(r.Status)
}

// EndpointKey formats the "METHOD endpoint" key.
func EndpointKey(method, endpoint string) string {
	return method + " " + endpoint
}

// NormalizeStatus maps any value outside [100,599] to StatusUnknown.
func NormalizeStatus(status int) int {
	if status < MinStatus || status > MaxStatus {
		return StatusUnknown
	}
	return status
}

// ParseStatus converts a textual status. Non-numeric input yields StatusUnknown.
func ParseStatus(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return StatusUnknown
	}
	return NormalizeStatus(n)
}

// IsSuccess reports whether status is a 2xx code.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// EndpointStatus is the last-seen status for one "METHOD endpoint" key.
type EndpointStatus struct {
	Key    string `json:"key"`
	Status int    `json:"status"`
}
