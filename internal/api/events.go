package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxace/ajax-sync-core/internal/ajax"
	"github.com/foxace/ajax-sync-core/internal/journal"
)

// defaultTransitionLimit bounds the transitions listing.
const defaultTransitionLimit = 50

// handleListEvents returns journal notifications matching the query filters.
//
// Query parameters:
//   - hub: Filter by hub id
//   - severity: Filter by severity (info, warning, alarm)
//   - tag: Filter by event tag
//   - limit, offset: Pagination (default 50, max 200)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "event journal not enabled")
		return
	}

	filter := journal.Filter{
		HubID: r.URL.Query().Get("hub"),
		Tag:   r.URL.Query().Get("tag"),
	}

	if sev := r.URL.Query().Get("severity"); sev != "" {
		switch ajax.Severity(sev) {
		case ajax.SeverityInfo, ajax.SeverityWarning, ajax.SeverityAlarm:
			filter.Severity = ajax.Severity(sev)
		default:
			writeBadRequest(w, "unknown severity: "+sev)
			return
		}
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeBadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		writeBadRequest(w, "invalid offset")
		return
	}

	result, err := s.journal.ListNotifications(r.Context(), filter)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "journal query failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleListTransitions returns recent armed-mode transitions for one hub.
func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "event journal not enabled")
		return
	}

	hubID := chi.URLParam(r, "hubID")

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeBadRequest(w, "invalid limit")
		return
	}
	if limit <= 0 {
		limit = defaultTransitionLimit
	}

	transitions, err := s.journal.ListModeTransitions(r.Context(), hubID, limit)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "journal query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transitions": transitions,
		"count":       len(transitions),
	})
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
