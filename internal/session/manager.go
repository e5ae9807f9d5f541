package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// summaryTimeout bounds writing a session summary to the session store.
const summaryTimeout = 10 * time.Second

// NewID returns a unique session ID of the form session_<unix-ms>_<random>.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), suffix)
}

// LoadRoster returns the enrolled identities of a class (all classes when classID
// is empty) in the store's stable ID order.
func LoadRoster(ctx context.Context, store database.IdentityReader, classID string) ([]facematch.Identity, error) {
	stored, err := store.List(ctx, database.IdentityFilter{ClassID: classID, EnrolledOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	roster := make([]facematch.Identity, 0, len(stored))
	for i := range stored {
		roster = append(roster, stored[i].Identity())
	}
	return roster, nil
}

// StartRequest is a caller's request to start a session.
// Zero policy fields fall back to the manager defaults.
type StartRequest struct {
	Roster         []facematch.Identity
	Details        Details
	ScanInterval   time.Duration
	MatchThreshold float64
}

// Manager keeps track of sessions and persists their summaries.
// Events of every session are re-broadcast on the manager itself.
type Manager struct {
	EventBroadcaster

	Device    capture.Device
	Extractor Extractor
	Ledger    database.AttendanceWriter
	Store     database.SessionWriter // optional
	Defaults  Policy
	Logger    *slog.Logger
	Ticker    TickerFunc // overrides the scan ticker, used by tests

	mu        sync.RWMutex
	sessions  map[string]*Controller
	wg        sync.WaitGroup
	persistMu sync.Mutex
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Start creates a session for req and starts it. A session that fails to start is
// still returned so callers can inspect its error.
//
// With a Store configured, ended sessions are dropped from the manager once their
// final summary is written and are served from the store from then on. Without one
// they stay registered until Remove.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Controller, error) {
	policy := m.Defaults
	if req.ScanInterval > 0 {
		policy.ScanInterval = req.ScanInterval
	}
	if req.MatchThreshold > 0 {
		policy.MatchThreshold = req.MatchThreshold
	}

	c, err := New(Config{
		Roster:    req.Roster,
		Details:   req.Details,
		Policy:    policy,
		Device:    m.Device,
		Extractor: m.Extractor,
		Ledger:    m.Ledger,
		Logger:    m.logger(),
		Ticker:    m.Ticker,
		OnEvent:   m.SendEvent,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.sessions == nil {
		m.sessions = make(map[string]*Controller)
	}
	m.sessions[c.ID()] = c
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-c.Done()
		m.persist(c)
		if m.Store != nil {
			// the summary now answers for the session
			if err := m.Remove(c.ID()); err != nil {
				m.logger().Debug("ended session already removed", "session_id", c.ID(), "error", err)
			}
		}
	}()

	if err := c.Start(ctx); err != nil {
		return c, err
	}
	m.persist(c)
	return c, nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

// List returns snapshots of every known session, newest first.
func (m *Manager) List() []Status {
	m.mu.RLock()
	result := make([]Status, 0, len(m.sessions))
	for _, c := range m.sessions {
		result = append(result, c.Status())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// Stop stops a session and waits for it to release the camera.
func (m *Manager) Stop(id string) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	c.Stop()
	return nil
}

// Remove forgets an ended session.
func (m *Manager) Remove(id string) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	if c.Phase() != PhaseEnded {
		return fmt.Errorf("%w: only ended sessions can be removed", ErrInvalidPhase)
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Shutdown stops every session and waits for their summaries to be written.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		sessions = append(sessions, c)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Stop()
		}()
	}
	wg.Wait()
	m.wg.Wait()
	m.EventBroadcaster.Close()
}

func (m *Manager) persist(c *Controller) {
	if m.Store == nil {
		return
	}
	// Snapshots are taken under the lock so a later write never carries older state.
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	if err := m.Store.SaveSession(ctx, SummaryRecord(c.Status())); err != nil {
		m.logger().Warn("failed to save session summary", "session_id", c.ID(), "error", err)
	}
}

// SummaryRecord converts a status snapshot into its persisted form.
func SummaryRecord(s Status) database.SessionRecord {
	rec := database.SessionRecord{
		ID:              s.ID,
		ClassID:         s.Details.ClassID,
		ClassName:       s.Details.ClassName,
		Subject:         s.Details.Subject,
		Topic:           s.Details.Topic,
		SessionType:     s.Details.SessionType,
		DurationMinutes: s.Details.DurationMinutes,
		TeacherID:       s.Details.TeacherID,
		OrganizationID:  s.Details.OrganizationID,
		Phase:           string(s.Phase),
		RosterSize:      s.RosterSize,
		MarkCount:       s.MarkCount,
		FailedCount:     s.FailedCount,
		LastError:       s.LastError,
		StartedAt:       s.CreatedAt,
		EndedAt:         s.EndedAt,
	}
	if s.StartedAt != nil {
		rec.StartedAt = *s.StartedAt
	}
	return rec
}
