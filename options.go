package kiroku

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
type resolvedOptions struct {
	port         int
	databaseURL  string
	logger       *slog.Logger
	version      string
	generator    NarrativeGenerator
	embedder     EmbeddingProvider
	sessionStore SessionStore
	middlewares  []Middleware
}

// WithPort overrides the TCP port from config (KIROKU_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var). It has no effect unless KIROKU_STORE=postgres.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithNarrativeGenerator replaces the auto-detected narrative backend.
func WithNarrativeGenerator(g NarrativeGenerator) Option {
	return func(o *resolvedOptions) { o.generator = g }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider (Ollama/noop).
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embedder = p }
}

// WithSessionStore replaces the configured session store.
func WithSessionStore(s SessionStore) Option {
	return func(o *resolvedOptions) { o.sessionStore = s }
}

// WithMiddleware registers an HTTP middleware around the route mux.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
