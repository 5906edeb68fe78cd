package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Field length limits for ingested call records. Payload and response
// bodies are truncated by the ingestion layer rather than rejected.
const (
	MaxMethodLen   = 16
	MaxEndpointLen = 2048
	MaxNameLen     = 200
	MaxBodyLen     = 64 * 1024 // 64 KB
	MaxEntryLen    = 8 * 1024  // 8 KB
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Data  any          `json:"data"`
	Total int          `json:"total"`
	Limit int          `json:"limit"`
	Meta  ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// RecordCallRequest is the request body for POST /v1/runs/{project}/{subproject}/calls.
type RecordCallRequest struct {
	Method    string     `json:"method"`
	Endpoint  string     `json:"endpoint"`
	Payload   *string    `json:"payload,omitempty"`
	Response  *string    `json:"response,omitempty"`
	Status    int        `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// RecordCallResponse acknowledges a recorded call.
type RecordCallResponse struct {
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
	Status    int    `json:"status"`
}

// AppendLogRequest is the request body for POST /v1/runs/{project}/{subproject}/log.
type AppendLogRequest struct {
	Entry string `json:"entry"`
}

// RecordErrorRequest is the request body for POST /v1/runs/{project}/{subproject}/errors.
type RecordErrorRequest struct {
	Endpoint string `json:"endpoint"`
	Message  string `json:"message"`
}

// RunAck acknowledges a log or error entry added to an active run.
type RunAck struct {
	SessionID string `json:"session_id"`
	Entries   int    `json:"entries"`
	Errors    int    `json:"errors"`
}

// ReportView is a stored report with the result of re-checking its content hash.
type ReportView struct {
	Report
	Verified bool `json:"verified"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Subject string `json:"subject"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Store        string `json:"store"`
	StoreStatus  string `json:"store_status"`
	Qdrant       string `json:"qdrant,omitempty"`
	BufferDepth  int    `json:"buffer_depth"`
	BufferStatus string `json:"buffer_status"` // "ok", "high", "critical"
	ActiveRuns   int    `json:"active_runs"`
	Uptime       int64  `json:"uptime_seconds"`
}

// ValidateRecordCall checks the required fields and length limits of a call.
func ValidateRecordCall(r RecordCallRequest) error {
	if r.Method == "" {
		return errors.New("method is required")
	}
	if len(r.Method) > MaxMethodLen {
		return fmt.Errorf("method exceeds maximum length of %d characters", MaxMethodLen)
	}
	if r.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(r.Endpoint) > MaxEndpointLen {
		return fmt.Errorf("endpoint exceeds maximum length of %d characters", MaxEndpointLen)
	}
	return nil
}

// ValidateName checks a project or subproject path segment.
func ValidateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%s exceeds maximum length of %d characters", kind, MaxNameLen)
	}
	return nil
}
