package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mariadb"
	"github.com/kozaktomas/rollcall/internal/database/postgres"
	"github.com/kozaktomas/rollcall/internal/enroll"
	"github.com/kozaktomas/rollcall/internal/extractor"
	"github.com/kozaktomas/rollcall/internal/notify"
	"github.com/kozaktomas/rollcall/internal/session"
)

// mirrorTimeout bounds a single MariaDB mirror write.
const mirrorTimeout = 5 * time.Second

// backend holds the collaborators shared by the serve and session commands.
type backend struct {
	cfg        *config.Config
	identities database.IdentityWriter
	attendance database.AttendanceStore
	sessions   database.SessionStore
	extractor  *extractor.Adapter
	camera     capture.Device // nil when CAMERA_SNAPSHOT_URL is unset
	mirror     *mariadb.Pool
}

// loadConfig reads and validates the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// connectStores initializes PostgreSQL and, when configured, the MariaDB ledger mirror.
func connectStores(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	slog.Info("connecting to PostgreSQL")
	if err := postgres.Initialize(ctx, &cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	b := &backend{cfg: cfg}
	var err error
	if b.identities, err = database.GetIdentityWriter(ctx); err != nil {
		return nil, err
	}
	if b.attendance, err = database.GetAttendanceStore(ctx); err != nil {
		return nil, err
	}
	if b.sessions, err = database.GetSessionStore(ctx); err != nil {
		return nil, err
	}

	if rebuilder := database.GetIdentityHNSWRebuilder(); rebuilder != nil {
		slog.Info("identity index ready", "identities", rebuilder.HNSWCount())
	}

	if cfg.Mirror.DSN != "" {
		mirror, err := mariadb.NewPool(cfg.Mirror.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect attendance mirror: %w", err)
		}
		if err := mirror.EnsureSchema(ctx); err != nil {
			_ = mirror.Close()
			return nil, fmt.Errorf("failed to prepare attendance mirror: %w", err)
		}
		b.mirror = mirror
		b.attendance = &database.MirroredAttendance{
			Primary: b.attendance,
			Mirror:  mirror,
			Timeout: mirrorTimeout,
		}
		slog.Info("attendance mirror enabled (MariaDB)")
	}
	return b, nil
}

// withDetector adds the extractor and the configured camera.
func (b *backend) withDetector() *backend {
	cfg := b.cfg
	client := extractor.NewClient(cfg.Extractor.URL, cfg.Extractor.Model)
	b.extractor = extractor.NewAdapter(client, extractor.Options{
		Dim:            cfg.Extractor.Dim,
		ScoreThreshold: cfg.Extractor.ScoreThreshold,
	})

	if cfg.Camera.CameraConfigured() {
		cam := capture.NewSnapshotDevice(cfg.Camera.SnapshotURL, cfg.Camera.Username, cfg.Camera.Password)
		cam.PollEvery = cfg.Camera.PollEvery
		cam.MaxFailures = cfg.Camera.MaxFailures
		b.camera = cam
	}
	return b
}

func (b *backend) enroller() *enroll.Service {
	return &enroll.Service{
		Detector:  b.extractor,
		Store:     b.identities,
		Model:     b.cfg.Extractor.Model,
		Timeout:   b.cfg.Session.EnrollTimeout,
		Threshold: b.cfg.Session.MatchThreshold,
	}
}

func (b *backend) manager() *session.Manager {
	return &session.Manager{
		Device:    b.camera,
		Extractor: b.extractor,
		Ledger:    b.attendance,
		Store:     b.sessions,
		Defaults:  policyFromConfig(b.cfg),
	}
}

// policyFromConfig maps configured defaults onto a session policy.
func policyFromConfig(cfg *config.Config) session.Policy {
	return session.Policy{
		ScanInterval:   cfg.Session.ScanInterval,
		MatchThreshold: cfg.Session.MatchThreshold,
		PassTimeout:    cfg.Session.PassTimeout,
		Width:          cfg.Camera.Width,
		Height:         cfg.Camera.Height,
		Warmup:         cfg.Camera.Warmup,
	}
}

// startNotifier forwards manager events to MQTT when a broker is configured.
// The returned function disconnects the client.
func startNotifier(ctx context.Context, cfg *config.Config, m *session.Manager) func() {
	if cfg.MQTT.Broker == "" {
		return func() {}
	}
	n, err := notify.Connect(ctx, cfg.MQTT)
	if err != nil {
		slog.Warn("mark notifications disabled", "broker", cfg.MQTT.Broker, "error", err)
		return func() {}
	}

	events := m.AddListener()
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx, events)
	}()
	slog.Info("publishing session events", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topic)

	return func() {
		m.RemoveListener(events)
		<-done
		published, failed := n.Stats()
		slog.Info("mark notifications stopped", "published", published, "failed", failed)
		n.Close()
	}
}

// close releases database connections and saves the identity index.
func (b *backend) close() {
	if rebuilder := database.GetIdentityHNSWRebuilder(); rebuilder != nil {
		if err := rebuilder.SaveHNSWIndex(); err != nil {
			slog.Warn("failed to save identity index", "error", err)
		}
	}
	if b.mirror != nil {
		_ = b.mirror.Close()
	}
	if pool := postgres.GetGlobalPool(); pool != nil {
		_ = pool.Close()
	}
}
