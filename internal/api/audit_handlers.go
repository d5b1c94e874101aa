package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/technosupport/flowforge/internal/audit"
)

// AuditHandler exposes the append-only audit trail for reading and
// bulk export (spec §8: GET /audit/events, GET /audit/export). Access
// control is applied by the route's PermissionGate middleware, not here.
type AuditHandler struct {
	Service *audit.Service
	Log     *zap.Logger
}

func NewAuditHandler(service *audit.Service, log *zap.Logger) *AuditHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditHandler{Service: service, Log: log}
}

func parseAuditFilter(r *http.Request) audit.Filter {
	q := r.URL.Query()
	filter := audit.Filter{
		Result: q.Get("result"),
		Cursor: q.Get("cursor"),
	}
	if actorStr := q.Get("actor_user_id"); actorStr != "" {
		if id, err := uuid.Parse(actorStr); err == nil {
			filter.ActorUserID = &id
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if fromStr := q.Get("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			filter.DateFrom = &t
		}
	}
	if toStr := q.Get("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			filter.DateTo = &t
		}
	}
	return filter
}

func (h *AuditHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseAuditFilter(r)
	events, nextCursor, err := h.Service.QueryEvents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "cursor": nextCursor})
}

func (h *AuditHandler) ExportEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseAuditFilter(r)
	filter.Limit = 0 // Service.ExportEvents ignores the filter and streams at most maxExportRecords rows

	w.Header().Set("Content-Type", "application/x-jsonl")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_export.jsonl"`)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if err := h.Service.ExportEvents(r.Context(), filter, w); err != nil {
		// Headers are already on the wire; nothing left to do but log.
		h.Log.Error("audit export stream interrupted", zap.Error(err))
	}
}
