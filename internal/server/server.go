// Package server implements the kiroku HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/compare"
	"github.com/ashita-ai/kiroku/internal/ctxutil"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/ratelimit"
	"github.com/ashita-ai/kiroku/internal/search"
	"github.com/ashita-ai/kiroku/internal/service/ingest"
	"github.com/ashita-ai/kiroku/internal/service/summary"
	"github.com/ashita-ai/kiroku/internal/sessionstore"
)

// ReportStore is the report archive the API reads and writes.
type ReportStore interface {
	InsertReport(ctx context.Context, r model.Report) error
	GetReport(ctx context.Context, id uuid.UUID) (model.Report, error)
	ListReports(ctx context.Context, project string, limit int) ([]model.ReportSummary, error)
}

// Server is the kiroku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds the dependencies and settings of a Server.
// Optional (nil-safe): Buffer, Searcher, Limiter, MCPServer, StorePing,
// IndexHealthy, Middleware.
type Config struct {
	Sessions   *sessionstore.Guard
	Reports    ReportStore
	Comparator *compare.Comparator
	Assembler  *summary.Assembler
	Runs       *ingest.Registry
	JWTMgr     *auth.JWTManager
	Keys       *auth.KeyVerifier
	Logger     *slog.Logger

	Buffer       *ingest.Buffer
	Searcher     *search.Service
	Limiter      ratelimit.Limiter
	MCPServer    *mcpserver.MCPServer
	StorePing    func(context.Context) error
	IndexHealthy func(context.Context) error
	// Middleware wraps the route mux inside the built-in chain, outermost first.
	Middleware []func(http.Handler) http.Handler

	StoreName           string
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	// Now stamps calls that arrive without a timestamp. Defaults to time.Now.
	Now func() time.Time
}

// New creates a server with every route registered.
func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NoopLimiter{}
	}
	h := newHandlers(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("POST /auth/token", h.HandleAuthToken)

	mux.HandleFunc("POST /v1/runs/{project}/{subproject}/calls", h.HandleRecordCall)
	mux.HandleFunc("POST /v1/runs/{project}/{subproject}/log", h.HandleAppendLog)
	mux.HandleFunc("POST /v1/runs/{project}/{subproject}/errors", h.HandleRecordError)
	mux.HandleFunc("POST /v1/runs/{project}/{subproject}/summary", h.HandleSummary)

	mux.HandleFunc("GET /v1/projects", h.HandleListProjects)
	mux.HandleFunc("GET /v1/projects/{project}/compare", h.HandleCompareAll)
	mux.HandleFunc("GET /v1/projects/{project}/subprojects/{subproject}/compare", h.HandleCompare)
	mux.HandleFunc("GET /v1/projects/{project}/subprojects/{subproject}/sessions", h.HandleRecentSessions)
	mux.HandleFunc("GET /v1/projects/{project}/reports", h.HandleListReports)
	mux.HandleFunc("GET /v1/reports/{id}", h.HandleGetReport)
	mux.HandleFunc("GET /v1/search", h.HandleSearch)

	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Outermost executes first:
	// request ID, security headers, tracing, logging, body limit, auth, rate limit, recovery.
	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		handler = cfg.Middleware[i](handler)
	}
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = ratelimit.Middleware(cfg.Limiter, rateLimitKey,
		func(r *http.Request) string { return ctxutil.RequestID(r.Context()) }, cfg.Logger)(handler)
	handler = authMiddleware(cfg.JWTMgr, cfg.Keys, cfg.Logger, handler)
	handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// rateLimitKey limits authenticated callers by subject and everyone else by IP.
func rateLimitKey(r *http.Request) string {
	if sub := ctxutil.Subject(r.Context()); sub != "" {
		return "sub:" + sub
	}
	return "ip:" + ratelimit.IPKeyFunc(r)
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
