// Package kiroku is the public API for embedding the kiroku execution
// history server.
//
//	app, err := kiroku.New(
//	    kiroku.WithVersion(version),
//	    kiroku.WithLogger(logger),
//	    kiroku.WithNarrativeGenerator(myGenerator),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, never the other way around. Public
// types (CallRecord, Session) are standalone structs; the adapters that
// convert them live here because this is the only file that sees both sides.
package kiroku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/compare"
	"github.com/ashita-ai/kiroku/internal/config"
	"github.com/ashita-ai/kiroku/internal/mcp"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/ratelimit"
	"github.com/ashita-ai/kiroku/internal/search"
	"github.com/ashita-ai/kiroku/internal/server"
	"github.com/ashita-ai/kiroku/internal/service/embedding"
	"github.com/ashita-ai/kiroku/internal/service/ingest"
	"github.com/ashita-ai/kiroku/internal/service/narrative"
	"github.com/ashita-ai/kiroku/internal/service/summary"
	"github.com/ashita-ai/kiroku/internal/sessionstore"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/storage/sqlite"
	"github.com/ashita-ai/kiroku/internal/telemetry"
	"github.com/ashita-ai/kiroku/migrations"
)

// App is the kiroku server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        *openedStore
	srv          *server.Server
	buf          *ingest.Buffer
	worker       *search.IndexWorker // nil without Qdrant
	qdrantIndex  *search.QdrantIndex // nil without Qdrant
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// reportArchive is what every store mode offers for reports.
type reportArchive interface {
	server.ReportStore
	search.TextSearcher
}

// openedStore is the session store and report archive selected by config.
type openedStore struct {
	name     string
	sessions sessionstore.Store
	reports  reportArchive
	ping     func(context.Context) error
	index    search.IndexSource // nil unless the store can feed the vector index
	close    func()
}

// New initialises the kiroku server. It opens the store, runs migrations,
// wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kiroku starting", "version", version, "port", cfg.Port, "store", cfg.Store)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg, o.sessionStore, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}
	fail := func(err error) (*App, error) {
		store.close()
		_ = otelShutdown(ctx)
		return nil, err
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}
	keys, err := auth.NewKeyVerifier(cfg.APIKey)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}

	strategy, err := compare.ParseStrategy(cfg.CompareStrategy)
	if err != nil {
		return fail(err)
	}
	guard := sessionstore.NewGuard(store.sessions, logger)
	comparator := compare.New(guard, compare.Config{
		Strategy:    strategy,
		Gap:         cfg.WindowGap,
		RecentLimit: cfg.RecentLimit,
		Concurrency: cfg.CompareConcurrency,
	}, logger)

	var generator narrative.Generator
	if o.generator != nil {
		generator = o.generator
		logger.Info("narrative generator: external")
	} else {
		generator = newNarrativeGenerator(ctx, cfg, logger)
	}
	assembler := summary.New(generator, logger,
		summary.WithTimeout(cfg.NarrativeTimeout),
		summary.WithSink(store.reports),
	)

	var embedder embedding.Provider
	if o.embedder != nil {
		embedder = &embeddingAdapter{p: o.embedder}
	} else {
		embedder = newEmbeddingProvider(ctx, cfg, logger)
	}

	// A nil *QdrantIndex must not reach search.NewService as a non-nil Index.
	var index search.Index
	var qdrantIndex *search.QdrantIndex
	var worker *search.IndexWorker
	switch {
	case cfg.QdrantURL == "":
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	case store.index == nil:
		logger.Warn("qdrant: disabled, semantic search needs KIROKU_STORE=postgres", "store", store.name)
	default:
		qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("qdrant: %w", err))
		}
		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			_ = qdrantIndex.Close()
			return fail(fmt.Errorf("qdrant ensure collection: %w", err))
		}
		index = qdrantIndex
		worker = search.NewIndexWorker(store.index, qdrantIndex, embedder, logger, cfg.IndexPollInterval, cfg.IndexBatchSize)
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	}
	searcher := search.NewService(index, embedder, store.reports, logger)

	buf := ingest.NewBuffer(store.sessions, logger, cfg.IngestBufferSize, cfg.IngestFlushTimeout)
	runs := ingest.NewRegistry(buf, nil)
	runs.RegisterMetrics()

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(comparator, guard, searcher, store.reports, logger, version)

	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	var indexHealthy func(context.Context) error
	if qdrantIndex != nil {
		indexHealthy = qdrantIndex.Healthy
	}

	srv := server.New(server.Config{
		Sessions:            guard,
		Reports:             store.reports,
		Comparator:          comparator,
		Assembler:           assembler,
		Runs:                runs,
		JWTMgr:              jwtMgr,
		Keys:                keys,
		Logger:              logger,
		Buffer:              buf,
		Searcher:            searcher,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		StorePing:           store.ping,
		IndexHealthy:        indexHealthy,
		Middleware:          middlewares,
		StoreName:           store.name,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		srv:          srv,
		buf:          buf,
		worker:       worker,
		qdrantIndex:  qdrantIndex,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler without starting a listener.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the ingest buffer, the index worker and the HTTP server, then
// blocks until ctx is cancelled or the server fails. On return, Shutdown has
// been called; callers should not call it again.
func (a *App) Run(ctx context.Context) error {
	a.buf.Start(ctx)
	if a.worker != nil {
		a.worker.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("http server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops accepting HTTP requests, flushes buffered call records to
// the store, drains the index worker, then closes Qdrant, the store and the
// OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kiroku shutting down")

	var shutdownErr error
	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
		shutdownErr = fmt.Errorf("http shutdown: %w", err)
	}

	a.buf.Drain(ctx)
	if n := a.buf.Len(); n > 0 {
		a.logger.Error("ingest buffer drain incomplete, unflushed records lost", "remaining", n)
	}

	if a.worker != nil {
		a.worker.Drain(ctx)
	}
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	_ = a.limiter.Close()
	a.store.close()
	if err := a.otelShutdown(context.Background()); err != nil {
		a.logger.Warn("telemetry shutdown error", "error", err)
	}

	a.logger.Info("kiroku stopped")
	return shutdownErr
}

// openStore selects the session store and report archive. An external
// SessionStore wins over config and keeps reports in memory.
func openStore(ctx context.Context, cfg config.Config, external SessionStore, logger *slog.Logger) (*openedStore, error) {
	if external != nil {
		logger.Info("session store: external, reports kept in memory")
		return &openedStore{
			name:     "external",
			sessions: &sessionStoreAdapter{s: external},
			reports:  storage.NewMemoryReports(),
			close:    func() {},
		}, nil
	}

	switch cfg.Store {
	case "memory":
		logger.Warn("session store: memory, history is lost on restart")
		return &openedStore{
			name:     "memory",
			sessions: sessionstore.NewMemory(),
			reports:  storage.NewMemoryReports(),
			close:    func() {},
		}, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return &openedStore{
			name:     "sqlite",
			sessions: db,
			reports:  db,
			ping:     db.Ping,
			close: func() {
				if err := db.Close(); err != nil {
					logger.Warn("sqlite: close failed", "error", err)
				}
			},
		}, nil

	default:
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		db.RegisterPoolMetrics()
		return &openedStore{
			name:     "postgres",
			sessions: db,
			reports:  db,
			ping:     db.Ping,
			index:    db,
			close:    db.Close,
		}, nil
	}
}

func newNarrativeGenerator(ctx context.Context, cfg config.Config, logger *slog.Logger) narrative.Generator {
	openRouter := func() narrative.Generator {
		logger.Info("narrative generator: openrouter", "model", cfg.NarrativeModel)
		return narrative.NewOpenRouterProvider(cfg.OpenRouterURL, cfg.OpenRouterAPIKey, cfg.NarrativeModel, cfg.NarrativeTimeout)
	}
	ollama := func() narrative.Generator {
		logger.Info("narrative generator: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return narrative.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.NarrativeTimeout)
	}

	switch cfg.NarrativeProvider {
	case "openrouter":
		return openRouter()
	case "ollama":
		return ollama()
	case "noop":
		logger.Info("narrative generator: noop (reports use the placeholder narrative)")
		return narrative.NoopProvider{}
	default:
		if cfg.OpenRouterAPIKey != "" {
			return openRouter()
		}
		if narrative.Reachable(ctx, cfg.OllamaURL) {
			return ollama()
		}
		logger.Warn("no narrative generator available, reports use the placeholder narrative")
		return narrative.NoopProvider{}
	}
}

func newEmbeddingProvider(ctx context.Context, cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.EmbeddingModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	default:
		if cfg.QdrantURL != "" && narrative.Reachable(ctx, cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.EmbeddingModel, dims)
		}
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

// embeddingAdapter wraps a kiroku.EmbeddingProvider to satisfy embedding.Provider.
type embeddingAdapter struct {
	p EmbeddingProvider
}

func (a *embeddingAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

func (a *embeddingAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vs) != len(texts) {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for %d texts", len(vs), len(texts))
	}
	out := make([]pgvector.Vector, len(vs))
	for i, v := range vs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *embeddingAdapter) Dimensions() int { return a.p.Dimensions() }

// sessionStoreAdapter wraps a kiroku.SessionStore to satisfy sessionstore.Store.
type sessionStoreAdapter struct {
	s SessionStore
}

func (a *sessionStoreAdapter) UpsertSession(ctx context.Context, project, subproject string, s model.Session) error {
	return a.s.UpsertSession(ctx, project, subproject, toPublicSession(s))
}

func (a *sessionStoreAdapter) AppendCallRecord(ctx context.Context, project, subproject, sessionID string, rec model.CallRecord) error {
	return a.s.AppendCallRecord(ctx, project, subproject, sessionID, CallRecord(rec))
}

func (a *sessionStoreAdapter) RecentSessions(ctx context.Context, project, subproject string, limit int) ([]model.Session, error) {
	sessions, err := a.s.RecentSessions(ctx, project, subproject, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Session, len(sessions))
	for i, s := range sessions {
		out[i] = fromPublicSession(s)
	}
	return out, nil
}

func (a *sessionStoreAdapter) RecentCallRecords(ctx context.Context, project, subproject string, limit int) ([]model.CallRecord, error) {
	recs, err := a.s.RecentCallRecords(ctx, project, subproject, limit)
	if err != nil {
		return nil, err
	}
	return fromPublicRecords(recs), nil
}

func (a *sessionStoreAdapter) Subprojects(ctx context.Context, project string) ([]string, error) {
	return a.s.Subprojects(ctx, project)
}

func (a *sessionStoreAdapter) Projects(ctx context.Context) ([]string, error) {
	return a.s.Projects(ctx)
}

func toPublicSession(s model.Session) Session {
	recs := make([]CallRecord, len(s.Endpoints))
	for i, r := range s.Endpoints {
		recs[i] = CallRecord(r)
	}
	return Session{SessionID: s.SessionID, CreatedAt: s.CreatedAt, Records: recs}
}

func fromPublicSession(s Session) model.Session {
	return model.Session{SessionID: s.SessionID, CreatedAt: s.CreatedAt, Endpoints: fromPublicRecords(s.Records)}
}

func fromPublicRecords(recs []CallRecord) []model.CallRecord {
	out := make([]model.CallRecord, len(recs))
	for i, r := range recs {
		out[i] = model.CallRecord(r)
	}
	return out
}
