package server

import (
	"bytes"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/render"
	"github.com/ashita-ai/kiroku/internal/service/ingest"
	"github.com/ashita-ai/kiroku/internal/service/summary"
)

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func clipPtr(s *string, n int) *string {
	if s == nil {
		return nil
	}
	c := clip(*s, n)
	return &c
}

// HandleRecordCall handles POST /v1/runs/{project}/{subproject}/calls.
func (h *Handlers) HandleRecordCall(w http.ResponseWriter, r *http.Request) {
	project, subproject, ok := pathNames(w, r, true)
	if !ok {
		return
	}
	var req model.RecordCallRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateRecordCall(req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rec := model.CallRecord{
		Method:   req.Method,
		Endpoint: req.Endpoint,
		Payload:  clipPtr(req.Payload, model.MaxBodyLen),
		Response: clipPtr(req.Response, model.MaxBodyLen),
		Status:   model.NormalizeStatus(req.Status),
	}
	if req.Timestamp != nil {
		rec.Timestamp = req.Timestamp.UTC()
	} else {
		rec.Timestamp = h.now().UTC()
	}

	run, err := h.runs.Use(project, subproject, func(run *ingest.Run) error {
		return run.Record(r.Context(), rec)
	})
	if err != nil {
		if errors.Is(err, ingest.ErrBufferFull) {
			writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
				"ingest buffer is full, retry later")
			return
		}
		h.writeInternalError(w, r, "failed to queue call record", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, model.RecordCallResponse{
		SessionID: run.SessionID(),
		Key:       rec.Key(),
		Status:    rec.Status,
	})
}

// HandleAppendLog handles POST /v1/runs/{project}/{subproject}/log.
func (h *Handlers) HandleAppendLog(w http.ResponseWriter, r *http.Request) {
	project, subproject, ok := pathNames(w, r, true)
	if !ok {
		return
	}
	var req model.AppendLogRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Entry == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "entry is required")
		return
	}
	entry := clip(req.Entry, model.MaxEntryLen)
	run, err := h.runs.Use(project, subproject, func(run *ingest.Run) error { return run.Note(entry) })
	if err != nil {
		h.writeInternalError(w, r, "failed to append log entry", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, runAck(run))
}

// HandleRecordError handles POST /v1/runs/{project}/{subproject}/errors.
func (h *Handlers) HandleRecordError(w http.ResponseWriter, r *http.Request) {
	project, subproject, ok := pathNames(w, r, true)
	if !ok {
		return
	}
	var req model.RecordErrorRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Endpoint == "" || req.Message == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "endpoint and message are required")
		return
	}
	endpoint, message := clip(req.Endpoint, model.MaxEndpointLen), clip(req.Message, model.MaxEntryLen)
	run, err := h.runs.Use(project, subproject, func(run *ingest.Run) error { return run.Fail(endpoint, message) })
	if err != nil {
		h.writeInternalError(w, r, "failed to record error", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, runAck(run))
}

func runAck(run *ingest.Run) model.RunAck {
	return model.RunAck{
		SessionID: run.SessionID(),
		Entries:   run.Log().Len(),
		Errors:    run.Log().ErrorCount(),
	}
}

// HandleSummary handles POST /v1/runs/{project}/{subproject}/summary. The
// active run is detached first, so calls arriving meanwhile start a new run.
// The report is produced even when the store, the flush or the narrative
// generator fail.
func (h *Handlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	project, subproject, ok := pathNames(w, r, true)
	if !ok {
		return
	}
	format, ok := reportFormat(w, r)
	if !ok {
		return
	}

	in := summary.AssembleInput{Project: project, Subproject: subproject}
	if run := h.runs.Detach(project, subproject); run != nil {
		snap, err := run.Finish(r.Context())
		if err != nil {
			h.logger.Warn("summary: flush before compare failed",
				"project", project, "subproject", subproject, "error", err)
		}
		in.SessionID = run.SessionID()
		in.Snapshot = snap
	}
	in.Comparison = h.comparator.CompareAll(r.Context(), project)

	report := h.assembler.Assemble(r.Context(), in)
	if err := h.assembler.Save(r.Context(), report); err != nil {
		h.logger.Error("summary: save report failed", "report_id", report.ID, "error", err)
	}
	h.writeReport(w, r, http.StatusCreated, format, model.ReportView{Report: report, Verified: true})
}

const (
	formatJSON     = "json"
	formatMarkdown = "markdown"
	formatHTML     = "html"
)

func reportFormat(w http.ResponseWriter, r *http.Request) (string, bool) {
	switch f := r.URL.Query().Get("format"); f {
	case "", formatJSON:
		return formatJSON, true
	case formatMarkdown, formatHTML:
		return f, true
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"format must be json, markdown or html")
		return "", false
	}
}

func (h *Handlers) writeReport(w http.ResponseWriter, r *http.Request, status int, format string, view model.ReportView) {
	switch format {
	case formatMarkdown:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(render.Markdown(view.Report)))
	case formatHTML:
		var buf bytes.Buffer
		if err := render.HTML(&buf, view.Report); err != nil {
			h.writeInternalError(w, r, "failed to render report", err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write(buf.Bytes())
	default:
		writeJSON(w, r, status, view)
	}
}
