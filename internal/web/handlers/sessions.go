package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/session"
)

const defaultHistoryLimit = 50

// SessionsHandler handles live attendance session endpoints.
type SessionsHandler struct {
	manager    *session.Manager
	identities database.IdentityReader
	attendance database.AttendanceReader // optional
	history    database.SessionReader    // optional
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(
	manager *session.Manager, identities database.IdentityReader,
	attendance database.AttendanceReader, history database.SessionReader,
) *SessionsHandler {
	return &SessionsHandler{
		manager:    manager,
		identities: identities,
		attendance: attendance,
		history:    history,
	}
}

// StartSessionRequest is the body of POST /sessions.
type StartSessionRequest struct {
	session.Details
	IdentityIDs    []string `json:"identity_ids,omitempty"` // restricts the class roster
	ScanIntervalMs int64    `json:"scan_interval_ms,omitempty"`
	MatchThreshold float64  `json:"match_threshold,omitempty"`
}

// SessionListResponse lists live sessions and persisted history.
type SessionListResponse struct {
	Sessions []session.Status         `json:"sessions"`
	History  []database.SessionRecord `json:"history,omitempty"`
}

// Start snapshots the roster and starts a session.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.ScanIntervalMs < 0 || req.MatchThreshold < 0 {
		respondError(w, http.StatusBadRequest, "scan_interval_ms and match_threshold must not be negative")
		return
	}

	roster, err := session.LoadRoster(r.Context(), h.identities, req.ClassID)
	if err != nil {
		slog.Error("failed to load roster", "class_id", sanitizeForLog(req.ClassID), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load roster")
		return
	}
	if len(req.IdentityIDs) > 0 {
		roster = restrictRoster(roster, req.IdentityIDs)
	}

	c, err := h.manager.Start(r.Context(), session.StartRequest{
		Roster:         roster,
		Details:        req.Details,
		ScanInterval:   time.Duration(req.ScanIntervalMs) * time.Millisecond,
		MatchThreshold: req.MatchThreshold,
	})
	if err != nil {
		if c == nil {
			// rejected before the session existed, e.g. an invalid policy
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, statusForError(err), map[string]any{
			"error":   err.Error(),
			"session": c.Status(),
		})
		return
	}

	respondJSON(w, http.StatusCreated, c.Status())
}

// restrictRoster keeps the roster entries listed in ids, preserving roster order.
func restrictRoster(roster []facematch.Identity, ids []string) []facematch.Identity {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	result := make([]facematch.Identity, 0, len(ids))
	for _, identity := range roster {
		if _, ok := keep[identity.ID]; ok {
			result = append(result, identity)
		}
	}
	return result
}

// List returns live sessions and, when a session store is configured, recent history.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := SessionListResponse{Sessions: h.manager.List()}

	if h.history != nil {
		limit := defaultHistoryLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				limit = n
			}
		}
		history, err := h.history.ListSessions(r.Context(), limit)
		if err != nil {
			slog.Warn("failed to list session history", "error", err)
		}
		resp.History = history
	}

	respondJSON(w, http.StatusOK, resp)
}

// Get returns the status of a live session, falling back to its persisted summary.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.manager.Get(id)
	if err == nil {
		respondJSON(w, http.StatusOK, c.Status())
		return
	}

	if h.history != nil {
		rec, herr := h.history.GetSession(r.Context(), id)
		if herr != nil {
			respondError(w, http.StatusInternalServerError, "failed to load session")
			return
		}
		if rec != nil {
			respondJSON(w, http.StatusOK, rec)
			return
		}
	}
	respondError(w, http.StatusNotFound, "session not found")
}

// Pause stops scanning without releasing the camera.
func (h *SessionsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, (*session.Controller).Pause)
}

// Resume restarts scanning of a paused session.
func (h *SessionsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, (*session.Controller).Resume)
}

func (h *SessionsHandler) toggle(w http.ResponseWriter, r *http.Request, fn func(*session.Controller) error) {
	c, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	if err := fn(c); err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c.Status())
}

// Stop ends a session and returns its final status.
func (h *SessionsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	c, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	c.Stop()
	respondJSON(w, http.StatusOK, c.Status())
}

// Events streams session events via SSE until the session ends or the client leaves.
func (h *SessionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	c, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	flusher, ok := setupSSE(w)
	if !ok {
		return
	}

	eventCh := c.AddListener()
	defer c.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", c.Status())

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
		}
	}
}

// Attendance returns the ledger records of a session.
func (h *SessionsHandler) Attendance(w http.ResponseWriter, r *http.Request) {
	if h.attendance == nil {
		respondError(w, http.StatusServiceUnavailable, "attendance ledger not available")
		return
	}

	id := chi.URLParam(r, "id")
	records, err := h.attendance.ListBySession(r.Context(), id)
	if err != nil {
		slog.Error("failed to list attendance", "session_id", sanitizeForLog(id), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list attendance")
		return
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}
