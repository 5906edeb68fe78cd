package kiroku

import "time"

// CallRecord is the public representation of one observed HTTP exchange.
// It mirrors the internal record so extension code never imports internal
// packages.
type CallRecord struct {
	Method    string
	Endpoint  string
	Payload   *string
	Response  *string
	Status    int
	Timestamp time.Time
}

// Session is the set of call records produced by one test run.
type Session struct {
	SessionID string
	CreatedAt time.Time
	Records   []CallRecord
}
