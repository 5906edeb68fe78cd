package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/compare"
	"github.com/ashita-ai/kiroku/internal/integrity"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// HandleListProjects handles GET /v1/projects.
func (h *Handlers) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	names := h.sessions.Projects(r.Context())
	out := make([]model.ProjectListing, 0, len(names))
	for _, name := range names {
		subs := h.sessions.Subprojects(r.Context(), name)
		if subs == nil {
			subs = []string{}
		}
		out = append(out, model.ProjectListing{Name: name, Subprojects: subs})
	}
	writeList(w, r, out, len(out), len(out))
}

// HandleCompareAll handles GET /v1/projects/{project}/compare.
func (h *Handlers) HandleCompareAll(w http.ResponseWriter, r *http.Request) {
	project, _, ok := pathNames(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, h.comparator.CompareAll(r.Context(), project))
}

// HandleCompare handles GET /v1/projects/{project}/subprojects/{subproject}/compare.
func (h *Handlers) HandleCompare(w http.ResponseWriter, r *http.Request) {
	project, subproject, ok := pathNames(w, r, true)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, h.comparator.Compare(r.Context(), project, subproject))
}

// HandleRecentSessions handles GET /v1/projects/{project}/subprojects/{subproject}/sessions.
func (h *Handlers) HandleRecentSessions(w http.ResponseWriter, r *http.Request) {
	project, subproject, ok := pathNames(w, r, true)
	if !ok {
		return
	}
	limit := queryLimit(r, 10)
	sessions := h.sessions.RecentSessions(r.Context(), project, subproject, limit)
	out := make([]model.SessionSummary, len(sessions))
	for i, s := range sessions {
		out[i] = compare.Summarize(s)
	}
	writeList(w, r, out, len(out), limit)
}

// HandleListReports handles GET /v1/projects/{project}/reports.
func (h *Handlers) HandleListReports(w http.ResponseWriter, r *http.Request) {
	project, _, ok := pathNames(w, r, false)
	if !ok {
		return
	}
	limit := queryLimit(r, 20)
	reports, err := h.reports.ListReports(r.Context(), project, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to list reports", err)
		return
	}
	if reports == nil {
		reports = []model.ReportSummary{}
	}
	writeList(w, r, reports, len(reports), limit)
}

// HandleGetReport handles GET /v1/reports/{id}. The content hash is
// recomputed on every read and reported as verified.
func (h *Handlers) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid report id")
		return
	}
	format, ok := reportFormat(w, r)
	if !ok {
		return
	}
	report, err := h.reports.GetReport(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "report not found")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to load report", err)
		return
	}
	verified := integrity.VerifyReportHash(report.ContentHash, report)
	if !verified {
		h.logger.Warn("report content hash mismatch", "report_id", id)
	}
	h.writeReport(w, r, http.StatusOK, format, model.ReportView{Report: report, Verified: verified})
}

// HandleSearch handles GET /v1/search.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "q is required")
		return
	}
	if h.searcher == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "search is not configured")
		return
	}
	limit := min(queryLimit(r, 20), 100)
	hits, err := h.searcher.Search(r.Context(), r.URL.Query().Get("project"), q, limit)
	if err != nil {
		h.writeInternalError(w, r, "search failed", err)
		return
	}
	if hits == nil {
		hits = []model.ReportSummary{}
	}
	writeList(w, r, hits, len(hits), limit)
}
