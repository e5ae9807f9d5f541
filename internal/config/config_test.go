package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"SCAN_INTERVAL", "MATCH_THRESHOLD", "ENROLL_TIMEOUT", "PASS_TIMEOUT",
		"CAMERA_WIDTH", "CAMERA_HEIGHT", "CAMERA_WARMUP", "EXTRACTOR_DIM", "MQTT_TOPIC",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Session.ScanInterval != 2*time.Second {
		t.Errorf("expected scan interval 2s, got %v", cfg.Session.ScanInterval)
	}
	if cfg.Session.MatchThreshold != 0.6 {
		t.Errorf("expected match threshold 0.6, got %f", cfg.Session.MatchThreshold)
	}
	if cfg.Session.EnrollTimeout != 10*time.Second {
		t.Errorf("expected enroll timeout 10s, got %v", cfg.Session.EnrollTimeout)
	}
	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Errorf("expected 640x480, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Camera.Warmup != time.Second {
		t.Errorf("expected warmup 1s, got %v", cfg.Camera.Warmup)
	}
	if cfg.Extractor.Dim != 128 {
		t.Errorf("expected dim 128, got %d", cfg.Extractor.Dim)
	}
	if cfg.Extractor.ScoreThreshold != 0.5 {
		t.Errorf("expected score threshold 0.5, got %f", cfg.Extractor.ScoreThreshold)
	}
	if cfg.MQTT.Topic != "rollcall/attendance" {
		t.Errorf("expected default topic, got '%s'", cfg.MQTT.Topic)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "500ms")
	t.Setenv("MATCH_THRESHOLD", "0.45")
	t.Setenv("DATABASE_URL", "postgres://localhost/rollcall")
	t.Setenv("MQTT_BROKER", "localhost:1883")

	cfg := Load()

	if cfg.Session.ScanInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.Session.ScanInterval)
	}
	if cfg.Session.MatchThreshold != 0.45 {
		t.Errorf("expected 0.45, got %f", cfg.Session.MatchThreshold)
	}
	if cfg.Database.URL != "postgres://localhost/rollcall" {
		t.Errorf("unexpected database URL '%s'", cfg.Database.URL)
	}
	if cfg.MQTT.Broker != "localhost:1883" {
		t.Errorf("unexpected broker '%s'", cfg.MQTT.Broker)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "soon")
	t.Setenv("MATCH_THRESHOLD", "-1")
	t.Setenv("CAMERA_WIDTH", "abc")

	cfg := Load()

	if cfg.Session.ScanInterval != 2*time.Second {
		t.Errorf("expected fallback to 2s, got %v", cfg.Session.ScanInterval)
	}
	if cfg.Session.MatchThreshold != 0.6 {
		t.Errorf("expected fallback to 0.6, got %f", cfg.Session.MatchThreshold)
	}
	if cfg.Camera.Width != 640 {
		t.Errorf("expected fallback to 640, got %d", cfg.Camera.Width)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Session.ScanInterval = 0 }},
		{"zero threshold", func(c *Config) { c.Session.MatchThreshold = 0 }},
		{"zero enroll timeout", func(c *Config) { c.Session.EnrollTimeout = 0 }},
		{"zero pass timeout", func(c *Config) { c.Session.PassTimeout = 0 }},
		{"bad resolution", func(c *Config) { c.Camera.Width = 0 }},
		{"bad dim", func(c *Config) { c.Extractor.Dim = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCameraConfigured(t *testing.T) {
	cam := CameraConfig{}
	if cam.CameraConfigured() {
		t.Error("expected camera not configured")
	}
	cam.SnapshotURL = "http://camera.local/snapshot.jpg"
	if !cam.CameraConfigured() {
		t.Error("expected camera configured")
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("WEB_ALLOWED_ORIGINS", " https://school.example , ,https://admin.example")

	cfg := Load()

	if len(cfg.Web.AllowedOrigins) != 2 ||
		cfg.Web.AllowedOrigins[0] != "https://school.example" ||
		cfg.Web.AllowedOrigins[1] != "https://admin.example" {
		t.Errorf("unexpected origins %q", cfg.Web.AllowedOrigins)
	}
}
