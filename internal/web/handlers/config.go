package handlers

import (
	"net/http"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/extractor"
)

// ModelStater reports the extractor's model initialization state.
type ModelStater interface {
	State() extractor.State
}

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
	model  ModelStater
}

// NewConfigHandler creates a new config handler. model may be nil.
func NewConfigHandler(cfg *config.Config, model ModelStater) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
		model:  model,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	ScanIntervalMs   int64   `json:"scan_interval_ms"`
	MatchThreshold   float64 `json:"match_threshold"`
	EnrollTimeoutMs  int64   `json:"enroll_timeout_ms"`
	CaptureWidth     int     `json:"capture_width"`
	CaptureHeight    int     `json:"capture_height"`
	EmbeddingDim     int     `json:"embedding_dim"`
	CameraConfigured bool    `json:"camera_configured"`
	ExtractorModel   string  `json:"extractor_model,omitempty"`
	ModelState       string  `json:"model_state"`
	DatabaseReady    bool    `json:"database_ready"`
	NotifyEnabled    bool    `json:"notify_enabled"`
	MirrorEnabled    bool    `json:"mirror_enabled"`
}

// Get returns the session policy defaults and which collaborators are available
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	state := extractor.StateNotStarted
	if h.model != nil {
		state = h.model.State()
	}

	response := ConfigResponse{
		ScanIntervalMs:   h.config.Session.ScanInterval.Milliseconds(),
		MatchThreshold:   h.config.Session.MatchThreshold,
		EnrollTimeoutMs:  h.config.Session.EnrollTimeout.Milliseconds(),
		CaptureWidth:     h.config.Camera.Width,
		CaptureHeight:    h.config.Camera.Height,
		EmbeddingDim:     h.config.Extractor.Dim,
		CameraConfigured: h.config.Camera.CameraConfigured(),
		ExtractorModel:   h.config.Extractor.Model,
		ModelState:       string(state),
		DatabaseReady:    database.IsInitialized(),
		NotifyEnabled:    h.config.MQTT.Broker != "",
		MirrorEnabled:    h.config.Mirror.DSN != "",
	}

	respondJSON(w, http.StatusOK, response)
}
