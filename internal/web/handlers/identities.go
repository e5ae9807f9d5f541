package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/enroll"
)

// IdentitiesHandler handles roster and enrollment endpoints.
type IdentitiesHandler struct {
	store    database.IdentityWriter
	enroller *enroll.Service
	camera   capture.Device // nil when no camera is configured
	cameraCf config.CameraConfig
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(
	store database.IdentityWriter, enroller *enroll.Service, camera capture.Device, cameraCfg config.CameraConfig,
) *IdentitiesHandler {
	return &IdentitiesHandler{
		store:    store,
		enroller: enroller,
		camera:   camera,
		cameraCf: cameraCfg,
	}
}

// IdentityResponse is an identity without its embedding.
type IdentityResponse struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	ClassID     string     `json:"class_id"`
	Enrolled    bool       `json:"enrolled"`
	Model       string     `json:"model,omitempty"`
	Dim         int        `json:"dim,omitempty"`
	EnrolledAt  *time.Time `json:"enrolled_at,omitempty"`
}

func toIdentityResponse(s *database.StoredIdentity) IdentityResponse {
	resp := IdentityResponse{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		ClassID:     s.ClassID,
		Enrolled:    s.HasEmbedding(),
	}
	if resp.Enrolled {
		resp.Model = s.Model
		resp.Dim = s.Dim
		enrolledAt := s.EnrolledAt
		resp.EnrolledAt = &enrolledAt
	}
	return resp
}

// List returns identities filtered by class_id, q (name) and enrolled=true.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := database.IdentityFilter{
		ClassID:      query.Get("class_id"),
		Query:        query.Get("q"),
		EnrolledOnly: query.Get("enrolled") == "true",
	}

	identities, err := h.store.List(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list identities", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}

	result := make([]IdentityResponse, 0, len(identities))
	for i := range identities {
		result = append(result, toIdentityResponse(&identities[i]))
	}
	respondJSON(w, http.StatusOK, result)
}

// UpsertIdentityRequest is the body of PUT /identities/{id}.
type UpsertIdentityRequest struct {
	DisplayName string `json:"display_name"`
	ClassID     string `json:"class_id"`
}

// Upsert creates or renames an identity.
func (h *IdentitiesHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpsertIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	err := h.store.Upsert(r.Context(), database.StoredIdentity{ID: id, DisplayName: req.DisplayName, ClassID: req.ClassID})
	if err != nil {
		slog.Error("failed to save identity", "identity_id", sanitizeForLog(id), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save identity")
		return
	}

	stored, err := h.store.Get(r.Context(), id)
	if err != nil || stored == nil {
		respondError(w, http.StatusInternalServerError, "failed to load identity")
		return
	}
	respondJSON(w, http.StatusOK, toIdentityResponse(stored))
}

// Delete removes an identity.
func (h *IdentitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		slog.Error("failed to delete identity", "identity_id", sanitizeForLog(id), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete identity")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Enroll stores the face found in an uploaded image (form field "image").
func (h *IdentitiesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxEnrollUploadSize)
	if err := r.ParseMultipartForm(constants.MaxEnrollUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	frame, err := capture.NewFrame(data, time.Now())
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported image")
		return
	}

	h.respondEnrollment(w, id, func() (*enroll.Result, error) {
		return h.enroller.EnrollFrame(r.Context(), id, frame)
	})
}

// EnrollCamera captures the current frame of the configured camera and enrolls it.
func (h *IdentitiesHandler) EnrollCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.camera == nil {
		respondError(w, http.StatusServiceUnavailable, "camera not configured")
		return
	}

	h.respondEnrollment(w, id, func() (*enroll.Result, error) {
		return h.enroller.EnrollFromDevice(r.Context(), id, h.camera, h.cameraCf.Width, h.cameraCf.Height, h.cameraCf.Warmup)
	})
}

func (h *IdentitiesHandler) respondEnrollment(w http.ResponseWriter, id string, run func() (*enroll.Result, error)) {
	result, err := run()
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			slog.Error("enrollment failed", "identity_id", sanitizeForLog(id), "error", err)
		}
		msg := err.Error()
		if errors.Is(err, enroll.ErrUnknownIdentity) {
			msg = "identity not found"
		}
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}
