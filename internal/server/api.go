// ABOUTME: HTTP API handlers for event ingestion and response submission
// ABOUTME: Maps hub and store errors to the wire-level status codes and reasons

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hookline/hookline/internal/hub"
	"github.com/hookline/hookline/internal/store"
)

// IngestResponse is the JSON response for POST /events.
type IngestResponse struct {
	ID int64 `json:"id"`
}

// FilterOptionsResponse is the JSON response for GET /events/filter-options.
type FilterOptionsResponse struct {
	Sessions []store.SessionInfo `json:"sessions"`
}

// handleIngest handles POST /events requests.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var event store.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.hub.Ingest(r.Context(), &event)
	if errors.Is(err, hub.ErrInvalidEvent) {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("ingest failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, IngestResponse{ID: id})
}

// handleEventsSubtree dispatches the /events/ subtree:
// GET /events/recent, GET /events/filter-options,
// GET /events/{id}, POST /events/{id}/respond.
func (s *Server) handleEventsSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/events/")

	switch {
	case rest == "recent":
		s.handleRecentEvents(w, r)
	case rest == "filter-options":
		s.handleFilterOptions(w, r)
	case strings.HasSuffix(rest, "/respond"):
		s.handleRespond(w, r, strings.TrimSuffix(rest, "/respond"))
	default:
		s.handleGetEvent(w, r, rest)
	}
}

// handleRespond handles POST /events/{id}/respond requests.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		s.sendJSONError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	resp, err := parseResponseBody(r.Body)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.hub.SubmitResponse(r.Context(), id, resp)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, store.ErrEventNotFound):
		s.sendJSONError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, hub.ErrNotHITL),
		errors.Is(err, hub.ErrAlreadyTerminal),
		errors.Is(err, hub.ErrShapeMismatch):
		s.sendJSONError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("respond failed", "event_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleGetEvent handles GET /events/{id} requests.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		s.sendJSONError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := s.store.GetEvent(r.Context(), id)
	if errors.Is(err, store.ErrEventNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		s.logger.Error("get event failed", "event_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}

// handleRecentEvents handles GET /events/recent requests.
// Returns up to ?limit= events, newest first (default 100, max 500).
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := s.store.ListRecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing recent events failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []*store.Event{}
	}

	s.writeJSON(w, http.StatusOK, events)
}

// handleFilterOptions handles GET /events/filter-options requests.
func (s *Server) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.logger.Error("listing sessions failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sessions == nil {
		sessions = []store.SessionInfo{}
	}

	s.writeJSON(w, http.StatusOK, FilterOptionsResponse{Sessions: sessions})
}

// parseResponseBody parses a response submission body. The shape check
// against the request's kind happens in the hub; this only rejects bodies
// that are not valid JSON objects with the known fields.
func parseResponseBody(r io.Reader) (*store.Response, error) {
	var resp store.Response
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&resp); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return &resp, nil
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing JSON response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
