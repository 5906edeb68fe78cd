package kiroku

import (
	"context"
	"net/http"
)

// NarrativeGenerator turns a summary prompt into narrative text.
// When provided via WithNarrativeGenerator, replaces the auto-detected
// OpenRouter/Ollama/noop backend. Errors make the report fall back to its
// placeholder narrative; they never fail the summary request.
type NarrativeGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbeddingProvider generates vector embeddings from report text.
// Uses []float32 (not pgvector.Vector) so external consumers do not need the
// pgvector dependency. App wraps it in an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// SessionStore persists run history. When provided via WithSessionStore it
// replaces the configured postgres/sqlite/memory store, and reports are kept
// in memory.
//
// Implementations must be safe for concurrent use and must not lose records
// when appends to the same session race.
type SessionStore interface {
	UpsertSession(ctx context.Context, project, subproject string, s Session) error
	AppendCallRecord(ctx context.Context, project, subproject, sessionID string, rec CallRecord) error
	RecentSessions(ctx context.Context, project, subproject string, limit int) ([]Session, error)
	RecentCallRecords(ctx context.Context, project, subproject string, limit int) ([]CallRecord, error)
	Subprojects(ctx context.Context, project string) ([]string, error)
	Projects(ctx context.Context) ([]string, error)
}

// Middleware wraps the route mux. It runs after authentication and rate
// limiting, so it sees authenticated requests only.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
