package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/compare"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/search"
	"github.com/ashita-ai/kiroku/internal/service/ingest"
	"github.com/ashita-ai/kiroku/internal/service/summary"
	"github.com/ashita-ai/kiroku/internal/sessionstore"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	sessions     *sessionstore.Guard
	reports      ReportStore
	comparator   *compare.Comparator
	assembler    *summary.Assembler
	runs         *ingest.Registry
	buffer       *ingest.Buffer
	searcher     *search.Service
	jwtMgr       *auth.JWTManager
	keys         *auth.KeyVerifier
	storePing    func(context.Context) error
	indexHealthy func(context.Context) error
	logger       *slog.Logger
	now          func() time.Time
	startedAt    time.Time
	storeName    string
	version      string
}

func newHandlers(cfg Config) *Handlers {
	return &Handlers{
		sessions:     cfg.Sessions,
		reports:      cfg.Reports,
		comparator:   cfg.Comparator,
		assembler:    cfg.Assembler,
		runs:         cfg.Runs,
		buffer:       cfg.Buffer,
		searcher:     cfg.Searcher,
		jwtMgr:       cfg.JWTMgr,
		keys:         cfg.Keys,
		storePing:    cfg.StorePing,
		indexHealthy: cfg.IndexHealthy,
		logger:       cfg.Logger,
		now:          cfg.Now,
		startedAt:    cfg.Now(),
		storeName:    cfg.StoreName,
		version:      cfg.Version,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	storeStatus := "connected"
	if h.storePing != nil {
		if err := h.storePing(r.Context()); err != nil {
			storeStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	// Buffer health: >50% capacity is high, >75% is critical.
	depth, bufStatus := 0, "ok"
	if h.buffer != nil {
		depth = h.buffer.Len()
		capacity := h.buffer.Capacity()
		switch {
		case depth > capacity*3/4:
			bufStatus = "critical"
			if status == "healthy" {
				status = "degraded"
			}
		case depth > capacity/2:
			bufStatus = "high"
		}
	}

	resp := model.HealthResponse{
		Status:       status,
		Version:      h.version,
		Store:        h.storeName,
		StoreStatus:  storeStatus,
		BufferDepth:  depth,
		BufferStatus: bufStatus,
		ActiveRuns:   h.runs.Active(),
		Uptime:       int64(h.now().Sub(h.startedAt).Seconds()),
	}
	if h.indexHealthy != nil {
		resp.Qdrant = "connected"
		if err := h.indexHealthy(r.Context()); err != nil {
			resp.Qdrant = "disconnected"
		}
	}
	writeJSON(w, r, httpStatus, resp)
}

// HandleAuthToken handles POST /auth/token, exchanging the API key for a JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateName("subject", req.Subject); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if h.keys == nil || !h.keys.Verify(req.APIKey) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	token, expiresAt, err := h.jwtMgr.IssueToken(req.Subject)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	h.logger.Info("token issued", "subject", req.Subject, "expires_at", expiresAt)
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "path", r.URL.Path)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// pathNames reads and validates the project (and optionally subproject) path values.
func pathNames(w http.ResponseWriter, r *http.Request, withSubproject bool) (project, subproject string, ok bool) {
	project = r.PathValue("project")
	if err := model.ValidateName("project", project); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return "", "", false
	}
	if !withSubproject {
		return project, "", true
	}
	subproject = r.PathValue("subproject")
	if err := model.ValidateName("subproject", subproject); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return "", "", false
	}
	return project, subproject, true
}

// maxQueryLimit is the largest accepted limit query parameter.
const maxQueryLimit = 1000

// queryLimit returns the limit query parameter clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := defaultVal
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return min(max(limit, 1), maxQueryLimit)
}
