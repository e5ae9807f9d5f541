package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

func newTestManager(ext *fakeExtractor) (*Manager, *mock.MockAttendanceStore, *mock.MockSessionStore, *manualTicker) {
	ledger := mock.NewMockAttendanceStore()
	store := mock.NewMockSessionStore()
	ticker := newManualTicker()
	policy := DefaultPolicy()
	policy.Warmup = 0
	m := &Manager{
		Device:    &fakeDevice{handle: &fakeHandle{}},
		Extractor: ext,
		Ledger:    ledger,
		Store:     store,
		Defaults:  policy,
		Ticker:    ticker.start,
	}
	return m, ledger, store, ticker
}

func TestManager_StartStopPersistsSummary(t *testing.T) {
	ext := &fakeExtractor{script: [][]facematch.Detection{{det(0, 0)}}}
	m, ledger, store, ticker := newTestManager(ext)
	defer m.Shutdown()

	events := m.AddListener()

	c, err := m.Start(context.Background(), StartRequest{
		Roster:  []facematch.Identity{s1},
		Details: Details{ClassID: "c1", ClassName: "3.A", Subject: "Math", DurationMinutes: 45},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := m.Get(c.ID())
	if err != nil || got != c {
		t.Fatalf("expected session to be registered, got %v", err)
	}

	ticker.tick(t)
	waitFor(t, "mark", func() bool { return len(ledger.Records()) == 1 })

	if err := m.Stop(c.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	waitFor(t, "ended summary", func() bool {
		rec, _ := store.GetSession(context.Background(), c.ID())
		return rec != nil && rec.Phase == string(PhaseEnded)
	})
	rec, _ := store.GetSession(context.Background(), c.ID())
	if rec.MarkCount != 1 || rec.RosterSize != 1 || rec.Subject != "Math" || rec.DurationMinutes != 45 {
		t.Errorf("unexpected summary %+v", rec)
	}
	if rec.EndedAt == nil {
		t.Error("expected ended_at to be set")
	}

	// manager re-broadcasts session events
	select {
	case ev := <-events:
		if ev.SessionID != c.ID() {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("expected events on the manager")
	}
}

func TestManager_PolicyOverrides(t *testing.T) {
	m, _, _, _ := newTestManager(&fakeExtractor{})
	defer m.Shutdown()

	c, err := m.Start(context.Background(), StartRequest{ScanInterval: 500 * time.Millisecond, MatchThreshold: 0.4})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := c.Status().Policy
	if p.ScanInterval != 500*time.Millisecond || p.MatchThreshold != 0.4 {
		t.Errorf("expected overrides to apply, got %+v", p)
	}

	if _, err := m.Start(context.Background(), StartRequest{ScanInterval: time.Millisecond}); err == nil {
		t.Error("expected invalid interval to be rejected")
	}
}

func TestManager_FailedStartIsPersisted(t *testing.T) {
	m, _, store, _ := newTestManager(&fakeExtractor{})
	m.Device = &fakeDevice{err: &capture.CameraAccessError{Device: "cam", Err: capture.ErrCameraUnavailable}}
	defer m.Shutdown()

	c, err := m.Start(context.Background(), StartRequest{})
	if !errors.Is(err, capture.ErrCameraUnavailable) {
		t.Fatalf("expected camera error, got %v", err)
	}
	if c == nil {
		t.Fatal("expected the failed session to be returned")
	}

	st := c.Status()
	if st.Phase != PhaseEnded || st.LastError == "" {
		t.Errorf("unexpected status %+v", st)
	}
	waitFor(t, "summary", func() bool {
		rec, _ := store.GetSession(context.Background(), c.ID())
		return rec != nil && rec.Phase == string(PhaseEnded) && rec.LastError != ""
	})
}

func TestManager_EndedSessionServedFromHistory(t *testing.T) {
	m, _, store, _ := newTestManager(&fakeExtractor{})
	defer m.Shutdown()

	c, err := m.Start(context.Background(), StartRequest{Details: Details{ClassID: "c1", Subject: "Math"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(c.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	waitFor(t, "eviction", func() bool {
		_, err := m.Get(c.ID())
		return errors.Is(err, ErrSessionNotFound)
	})
	if len(m.List()) != 0 {
		t.Errorf("expected no live sessions, got %+v", m.List())
	}

	rec, err := store.GetSession(context.Background(), c.ID())
	if err != nil || rec == nil {
		t.Fatalf("expected a persisted summary, got %v", err)
	}
	if rec.Phase != string(PhaseEnded) || rec.Subject != "Math" || rec.EndedAt == nil {
		t.Errorf("unexpected summary %+v", rec)
	}
}

func TestManager_WithoutStoreKeepsEndedSessions(t *testing.T) {
	m, _, _, _ := newTestManager(&fakeExtractor{})
	m.Store = nil
	defer m.Shutdown()

	c, err := m.Start(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(c.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, err := m.Get(c.ID())
	if err != nil || got.Phase() != PhaseEnded {
		t.Fatalf("expected the ended session to stay registered, got %v", err)
	}
	if err := m.Remove(c.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := m.Get(c.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_RemoveActiveRejected(t *testing.T) {
	m, _, _, _ := newTestManager(&fakeExtractor{})
	defer m.Shutdown()

	c, err := m.Start(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Remove(c.ID()); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("expected ErrInvalidPhase, got %v", err)
	}
	if err := m.Stop("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_ListNewestFirst(t *testing.T) {
	m, _, _, _ := newTestManager(&fakeExtractor{})
	defer m.Shutdown()

	first, err := m.Start(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := m.Start(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	list := m.List()
	if len(list) != 2 || list[0].ID != second.ID() || list[1].ID != first.ID() {
		t.Errorf("unexpected order %+v", list)
	}
}

func TestManager_ShutdownStopsAll(t *testing.T) {
	m, _, _, _ := newTestManager(&fakeExtractor{})

	c, err := m.Start(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Shutdown()

	if c.Phase() != PhaseEnded {
		t.Errorf("expected ended after shutdown, got %s", c.Phase())
	}
}

func TestLoadRoster(t *testing.T) {
	store := mock.NewMockIdentityStore()
	store.AddIdentity(database.StoredIdentity{ID: "b", DisplayName: "B", ClassID: "c1", Embedding: []float32{1}})
	store.AddIdentity(database.StoredIdentity{ID: "a", DisplayName: "A", ClassID: "c1", Embedding: []float32{2}})
	store.AddIdentity(database.StoredIdentity{ID: "c", DisplayName: "C", ClassID: "c1"})
	store.AddIdentity(database.StoredIdentity{ID: "d", DisplayName: "D", ClassID: "c2", Embedding: []float32{3}})

	roster, err := LoadRoster(context.Background(), store, "c1")
	if err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}
	if len(roster) != 2 || roster[0].ID != "a" || roster[1].ID != "b" {
		t.Errorf("expected enrolled identities of c1 in ID order, got %+v", roster)
	}

	store.ListError = errors.New("db down")
	if _, err := LoadRoster(context.Background(), store, ""); err == nil {
		t.Error("expected error")
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Error("expected unique IDs")
	}
	if !strings.HasPrefix(a, "session_") {
		t.Errorf("unexpected ID %q", a)
	}
}
