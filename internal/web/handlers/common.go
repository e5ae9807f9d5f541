package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/enroll"
	"github.com/kozaktomas/rollcall/internal/extractor"
	"github.com/kozaktomas/rollcall/internal/session"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps engine errors onto HTTP status codes.
func statusForError(err error) int {
	var camErr *capture.CameraAccessError
	var loadErr *extractor.ModelLoadError

	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, enroll.ErrUnknownIdentity):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidPhase), errors.Is(err, session.ErrSessionStopped):
		return http.StatusConflict
	case errors.Is(err, enroll.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, enroll.ErrDetectionTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &camErr), errors.As(err, &loadErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
