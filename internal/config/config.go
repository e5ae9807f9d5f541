package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database  DatabaseConfig
	Extractor ExtractorConfig
	Camera    CameraConfig
	Session   SessionConfig
	MQTT      MQTTConfig
	Mirror    MirrorConfig
	Web       WebConfig
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the enrollment HNSW index (optional)
}

type ExtractorConfig struct {
	URL            string  // defaults to http://localhost:8000
	Model          string  // model name for reference only
	Dim            int     `yaml:"dim"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

type CameraConfig struct {
	SnapshotURL string
	Username    string
	Password    string
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	Warmup      time.Duration `yaml:"warmup"`
	PollEvery   time.Duration `yaml:"poll_every"`
	MaxFailures int           `yaml:"max_failures"`
}

// SessionConfig holds the policy defaults applied when a caller does not
// override them on session start.
type SessionConfig struct {
	ScanInterval   time.Duration `yaml:"scan_interval"`
	MatchThreshold float64       `yaml:"match_threshold"`
	EnrollTimeout  time.Duration `yaml:"enroll_timeout"`
	PassTimeout    time.Duration `yaml:"pass_timeout"`
}

type MQTTConfig struct {
	Broker   string // host:port, empty disables publishing
	Topic    string
	ClientID string
}

// MirrorConfig configures the optional MariaDB attendance mirror.
type MirrorConfig struct {
	DSN string
}

// WebConfig configures the HTTP API.
type WebConfig struct {
	AllowedOrigins []string // extra CORS origins, localhost is always allowed
}

type defaultsFile struct {
	Extractor ExtractorConfig `yaml:"extractor"`
	Camera    CameraConfig    `yaml:"camera"`
	Session   SessionConfig   `yaml:"session"`
	MQTT      struct {
		Topic string `yaml:"topic"`
	} `yaml:"mqtt"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration string ("2s", "1500ms"), falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var result []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

func loadDefaults() defaultsFile {
	var d defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}

func Load() *Config {
	d := loadDefaults()

	return &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Extractor: ExtractorConfig{
			URL:            os.Getenv("EXTRACTOR_URL"),
			Model:          os.Getenv("EXTRACTOR_MODEL"),
			Dim:            envInt("EXTRACTOR_DIM", d.Extractor.Dim),
			ScoreThreshold: envFloat("EXTRACTOR_SCORE_THRESHOLD", d.Extractor.ScoreThreshold),
		},
		Camera: CameraConfig{
			SnapshotURL: os.Getenv("CAMERA_SNAPSHOT_URL"),
			Username:    os.Getenv("CAMERA_USERNAME"),
			Password:    os.Getenv("CAMERA_PASSWORD"),
			Width:       envInt("CAMERA_WIDTH", d.Camera.Width),
			Height:      envInt("CAMERA_HEIGHT", d.Camera.Height),
			Warmup:      envDuration("CAMERA_WARMUP", d.Camera.Warmup),
			PollEvery:   envDuration("CAMERA_POLL_EVERY", d.Camera.PollEvery),
			MaxFailures: envInt("CAMERA_MAX_FAILURES", d.Camera.MaxFailures),
		},
		Session: SessionConfig{
			ScanInterval:   envDuration("SCAN_INTERVAL", d.Session.ScanInterval),
			MatchThreshold: envFloat("MATCH_THRESHOLD", d.Session.MatchThreshold),
			EnrollTimeout:  envDuration("ENROLL_TIMEOUT", d.Session.EnrollTimeout),
			PassTimeout:    envDuration("PASS_TIMEOUT", d.Session.PassTimeout),
		},
		MQTT: MQTTConfig{
			Broker:   os.Getenv("MQTT_BROKER"),
			Topic:    envString("MQTT_TOPIC", d.MQTT.Topic),
			ClientID: os.Getenv("MQTT_CLIENT_ID"),
		},
		Mirror: MirrorConfig{
			DSN: os.Getenv("LEDGER_MIRROR_DSN"),
		},
		Web: WebConfig{
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
	}
}

// Validate checks the policy values that the session engine depends on.
func (c *Config) Validate() error {
	if c.Session.ScanInterval <= 0 {
		return errors.New("scan interval must be positive")
	}
	if c.Session.MatchThreshold <= 0 {
		return fmt.Errorf("match threshold must be positive, got %f", c.Session.MatchThreshold)
	}
	if c.Session.EnrollTimeout <= 0 {
		return errors.New("enrollment timeout must be positive")
	}
	if c.Session.PassTimeout <= 0 {
		return errors.New("pass timeout must be positive")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid capture resolution %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Extractor.Dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Extractor.Dim)
	}
	return nil
}

// CameraConfigured reports whether a capture device has been configured.
func (c *CameraConfig) CameraConfigured() bool {
	return c.SnapshotURL != ""
}
