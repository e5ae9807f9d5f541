// Package session runs live attendance sessions: it scans camera frames on a fixed
// cadence, matches faces against a roster snapshot and marks each identity at most once.
package session

import (
	"fmt"
	"time"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// Phase is the lifecycle phase of a session.
type Phase string

// Phase constants. Ended is terminal.
const (
	PhaseConfiguring  Phase = "configuring"
	PhaseInitializing Phase = "initializing"
	PhaseActive       Phase = "active"
	PhaseEnded        Phase = "ended"
)

// Details is the pre-session form. It is copied into every mark.
type Details struct {
	ClassID         string `json:"class_id"`
	ClassName       string `json:"class_name"`
	Subject         string `json:"subject,omitempty"`
	Topic           string `json:"topic,omitempty"`
	SessionType     string `json:"session_type,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	TeacherID       string `json:"teacher_id,omitempty"`
	OrganizationID  string `json:"organization_id,omitempty"`
}

// Policy holds the timing and matching parameters of a session.
type Policy struct {
	ScanInterval   time.Duration `json:"scan_interval"`
	MatchThreshold float64       `json:"match_threshold"`
	PassTimeout    time.Duration `json:"pass_timeout"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	Warmup         time.Duration `json:"warmup"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		ScanInterval:   constants.DefaultScanInterval,
		MatchThreshold: constants.DefaultMatchThreshold,
		PassTimeout:    constants.DefaultPassTimeout,
		Width:          constants.CaptureWidth,
		Height:         constants.CaptureHeight,
		Warmup:         constants.WarmupDelay,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.ScanInterval == 0 {
		p.ScanInterval = d.ScanInterval
	}
	if p.MatchThreshold == 0 {
		p.MatchThreshold = d.MatchThreshold
	}
	if p.PassTimeout == 0 {
		p.PassTimeout = d.PassTimeout
	}
	if p.Width == 0 || p.Height == 0 {
		p.Width, p.Height = d.Width, d.Height
	}
	return p
}

// Validate rejects policies the scan loop cannot run with.
func (p Policy) Validate() error {
	if p.ScanInterval < constants.MinScanInterval {
		return fmt.Errorf("scan interval %s is below the minimum of %s", p.ScanInterval, constants.MinScanInterval)
	}
	if p.MatchThreshold <= 0 {
		return fmt.Errorf("match threshold must be positive, got %f", p.MatchThreshold)
	}
	if p.PassTimeout <= 0 {
		return fmt.Errorf("pass timeout must be positive, got %s", p.PassTimeout)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("invalid capture resolution %dx%d", p.Width, p.Height)
	}
	if p.Warmup < 0 {
		return fmt.Errorf("warm-up delay must not be negative, got %s", p.Warmup)
	}
	return nil
}

// Mark is one identity confirmed present in a session.
type Mark struct {
	SessionID   string    `json:"session_id"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name"`
	Distance    float64   `json:"distance"`
	MarkedAt    time.Time `json:"marked_at"`
	RecordID    int64     `json:"record_id,omitempty"`
	Error       string    `json:"error,omitempty"` // set when the ledger failed to record it
}

// Status is a point-in-time snapshot of a session for observers.
type Status struct {
	ID           string     `json:"id"`
	Phase        Phase      `json:"phase"`
	Details      Details    `json:"details"`
	Policy       Policy     `json:"policy"`
	RosterSize   int        `json:"roster_size"`
	MarkCount    int        `json:"mark_count"`
	FailedCount  int        `json:"failed_count"`
	Passes       int64      `json:"passes"`
	SkippedTicks int64      `json:"skipped_ticks"`
	Paused       bool       `json:"paused"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Marks        []Mark     `json:"marks"`
}
