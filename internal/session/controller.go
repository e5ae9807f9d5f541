package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// Extractor is the part of the embedding extractor a session drives.
type Extractor interface {
	EnsureReady(ctx context.Context) error
	DetectAll(ctx context.Context, frame *capture.Frame) ([]facematch.Detection, error)
}

// TickerFunc starts a periodic ticker and returns its channel and a stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func defaultTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Config wires a Controller to its collaborators.
type Config struct {
	ID        string // generated when empty
	Roster    []facematch.Identity
	Details   Details
	Policy    Policy
	Device    capture.Device
	Extractor Extractor
	Ledger    database.AttendanceWriter
	Logger    *slog.Logger
	Ticker    TickerFunc
	OnEvent   func(Event) // called for every event in addition to listeners
}

// Controller owns one attendance session.
type Controller struct {
	EventBroadcaster

	id        string
	details   Details
	policy    Policy
	roster    []facematch.Identity
	device    capture.Device
	extractor Extractor
	ledger    database.AttendanceWriter
	logger    *slog.Logger
	ticker    TickerFunc
	onEvent   func(Event)
	createdAt time.Time

	mu          sync.Mutex
	phase       Phase
	stopping    bool
	loopStarted bool
	cancelStart context.CancelFunc
	handle      capture.Handle
	marked      map[string]struct{}
	marks       []Mark
	failed      int
	lastErr     error
	startedAt   time.Time
	endedAt     time.Time

	scanInFlight atomic.Bool
	paused       atomic.Bool
	passes       atomic.Int64
	skipped      atomic.Int64

	inflight sync.WaitGroup
	endOnce  sync.Once
	stopCh   chan struct{}
	loopDone chan struct{}
	done     chan struct{}
}

// New creates a session in the Configuring phase. The roster is copied so later
// changes to the caller's slice do not reach the session.
func New(cfg Config) (*Controller, error) {
	if cfg.Device == nil {
		return nil, errors.New("capture device is required")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("attendance ledger is required")
	}
	policy := cfg.Policy.withDefaults()
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	id := cfg.ID
	if id == "" {
		id = NewID()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ticker := cfg.Ticker
	if ticker == nil {
		ticker = defaultTicker
	}

	roster := make([]facematch.Identity, len(cfg.Roster))
	for i, identity := range cfg.Roster {
		identity.Embedding = append(facematch.Embedding(nil), identity.Embedding...)
		roster[i] = identity
	}

	return &Controller{
		id:        id,
		details:   cfg.Details,
		policy:    policy,
		roster:    roster,
		device:    cfg.Device,
		extractor: cfg.Extractor,
		ledger:    cfg.Ledger,
		logger:    logger.With("session_id", id),
		ticker:    ticker,
		onEvent:   cfg.OnEvent,
		createdAt: time.Now(),
		phase:     PhaseConfiguring,
		marked:    make(map[string]struct{}),
		stopCh:    make(chan struct{}),
		loopDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// ID returns the session ID.
func (c *Controller) ID() string { return c.id }

// Details returns the session form.
func (c *Controller) Details() Details { return c.details }

// Done is closed once the session has ended and released its camera.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Start acquires the camera, waits out its warm-up, makes sure the model is loaded
// and starts the scan loop. Any failure releases what was acquired, ends the
// session and is returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return ErrSessionStopped
	}
	if c.phase != PhaseConfiguring {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start a session in phase %s", ErrInvalidPhase, phase)
	}
	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelStart = cancel
	c.phase = PhaseInitializing
	c.mu.Unlock()

	c.logger.Info("session initializing", "roster", len(c.roster), "interval", c.policy.ScanInterval,
		"threshold", c.policy.MatchThreshold)
	c.emit(EventPhase, "", PhaseInitializing)

	handle, err := capture.Open(startCtx, c.device, c.policy.Width, c.policy.Height, c.policy.Warmup)
	if err != nil {
		return c.abortStart(err)
	}
	if err := c.extractor.EnsureReady(startCtx); err != nil {
		handle.Release()
		return c.abortStart(err)
	}

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		handle.Release()
		return c.abortStart(nil)
	}
	c.handle = handle
	c.phase = PhaseActive
	c.startedAt = time.Now()
	c.loopStarted = true
	c.mu.Unlock()

	// Before the loop starts: end() waits for it, so Ended always comes last.
	c.logger.Info("session active")
	c.emit(EventPhase, "", PhaseActive)

	go c.run(handle)
	return nil
}

func (c *Controller) abortStart(err error) error {
	c.mu.Lock()
	stopped := c.stopping
	c.mu.Unlock()

	if stopped {
		c.end(nil)
		return ErrSessionStopped
	}
	c.end(err)
	return err
}

// Stop ends the session from any phase and waits until its camera is released.
// A pass already running is allowed to finish first. Stopping an ended session is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	phase := c.phase
	cancel := c.cancelStart
	c.stopping = true
	c.mu.Unlock()

	switch phase {
	case PhaseInitializing:
		// Start notices the cancellation and tears down.
		cancel()
	case PhaseConfiguring, PhaseActive:
		c.end(nil)
	}
	<-c.done
}

// Pause keeps the camera but skips scan passes until Resume.
func (c *Controller) Pause() error {
	if c.Phase() == PhaseEnded {
		return fmt.Errorf("%w: session has ended", ErrInvalidPhase)
	}
	if !c.paused.Swap(true) {
		c.logger.Info("scanning paused")
		c.emit(EventPaused, "", nil)
	}
	return nil
}

// Resume re-enables scan passes.
func (c *Controller) Resume() error {
	if c.Phase() == PhaseEnded {
		return fmt.Errorf("%w: session has ended", ErrInvalidPhase)
	}
	if c.paused.Swap(false) {
		c.logger.Info("scanning resumed")
		c.emit(EventResumed, "", nil)
	}
	return nil
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// MarkCount returns how many identities have been marked present.
func (c *Controller) MarkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.marked)
}

// LastError returns the most recent persistence or terminal error.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// IsMarked reports whether identityID has been marked in this session.
func (c *Controller) IsMarked(identityID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.marked[identityID]
	return ok
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		ID:           c.id,
		Phase:        c.phase,
		Details:      c.details,
		Policy:       c.policy,
		RosterSize:   len(c.roster),
		MarkCount:    len(c.marked),
		FailedCount:  c.failed,
		Passes:       c.passes.Load(),
		SkippedTicks: c.skipped.Load(),
		Paused:       c.paused.Load(),
		CreatedAt:    c.createdAt,
		Marks:        append([]Mark{}, c.marks...),
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		s.StartedAt = &started
	}
	if !c.endedAt.IsZero() {
		ended := c.endedAt
		s.EndedAt = &ended
	}
	return s
}

// run drives the scan loop until Stop or until the camera dies.
func (c *Controller) run(handle capture.Handle) {
	err := c.loop(handle)
	close(c.loopDone)
	if err != nil {
		c.end(err)
	}
}

func (c *Controller) loop(handle capture.Handle) error {
	ticks, stop := c.ticker(c.policy.ScanInterval)
	defer stop()

	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ticks:
		}

		// A tick may race with Stop; never start a pass after it.
		select {
		case <-c.stopCh:
			return nil
		default:
		}

		if err := handle.Err(); err != nil {
			return err
		}
		if c.paused.Load() {
			continue
		}
		if !c.scanInFlight.CompareAndSwap(false, true) {
			c.skipped.Add(1)
			c.logger.Debug("scan pass still running, skipping tick")
			continue
		}

		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			defer c.scanInFlight.Store(false)
			c.pass(handle)
		}()
	}
}

// pass runs one detect-match-mark cycle. Detection failures count as no detections.
func (c *Controller) pass(handle capture.Handle) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("scan pass panicked", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.policy.PassTimeout)
	defer cancel()

	detections, err := c.extractor.DetectAll(ctx, handle.Frame())
	c.passes.Add(1)
	if err != nil {
		c.logger.Warn("detection failed, treating pass as empty", "error", err)
		return
	}

	for _, res := range facematch.MatchAll(detections, c.roster, c.policy.MatchThreshold) {
		if !c.claim(res.Identity.ID) {
			continue
		}
		c.record(ctx, res)
	}
}

// claim adds identityID to the marked set. Only the first caller for an identity wins.
func (c *Controller) claim(identityID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.marked[identityID]; ok {
		return false
	}
	c.marked[identityID] = struct{}{}
	return true
}

func (c *Controller) record(ctx context.Context, res facematch.Result) {
	now := time.Now()
	mark := Mark{
		SessionID:   c.id,
		IdentityID:  res.Identity.ID,
		DisplayName: res.Identity.DisplayName,
		Distance:    res.Distance,
		MarkedAt:    now,
	}

	recordID, err := c.ledger.Record(ctx, database.AttendanceRecord{
		SessionID:      c.id,
		IdentityID:     res.Identity.ID,
		IdentityName:   res.Identity.DisplayName,
		ClassID:        c.details.ClassID,
		ClassName:      c.details.ClassName,
		TeacherID:      c.details.TeacherID,
		OrganizationID: c.details.OrganizationID,
		Status:         database.StatusPresent,
		MarkedBy:       database.MarkedByFaceRecognition,
		Distance:       res.Distance,
		MarkedAt:       now,
	})

	if err != nil {
		perr := &PersistenceError{SessionID: c.id, IdentityID: res.Identity.ID, Err: err}
		mark.Error = err.Error()

		c.mu.Lock()
		c.marks = append(c.marks, mark)
		c.failed++
		c.lastErr = perr
		c.mu.Unlock()

		c.logger.Error("failed to record attendance", "identity_id", res.Identity.ID, "error", err)
		c.emit(EventPersistenceError, perr.Error(), mark)
		return
	}

	mark.RecordID = recordID
	c.mu.Lock()
	c.marks = append(c.marks, mark)
	c.mu.Unlock()

	c.logger.Info("identity marked present", "identity_id", res.Identity.ID,
		"name", res.Identity.DisplayName, "distance", res.Distance)
	c.emit(EventMarked, res.Identity.DisplayName, mark)
}

// end tears the session down exactly once: the loop stops, running passes
// finish, the camera is released and the session becomes Ended.
func (c *Controller) end(cause error) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.stopping = true
		loopStarted := c.loopStarted
		handle := c.handle
		c.mu.Unlock()

		close(c.stopCh)
		if loopStarted {
			<-c.loopDone
		}
		c.inflight.Wait()
		if handle != nil {
			handle.Release()
		}

		c.mu.Lock()
		c.phase = PhaseEnded
		c.endedAt = time.Now()
		if cause != nil {
			c.lastErr = cause
		}
		marked := len(c.marked)
		c.mu.Unlock()

		if cause != nil {
			c.logger.Error("session ended with error", "error", cause)
			c.emit(EventError, cause.Error(), nil)
		}
		c.logger.Info("session ended", "marked", marked, "passes", c.passes.Load(), "skipped_ticks", c.skipped.Load())
		c.emit(EventPhase, "", PhaseEnded)

		c.EventBroadcaster.Close()
		close(c.done)
	})
}

func (c *Controller) emit(typ, message string, data any) {
	ev := Event{Type: typ, SessionID: c.id, Message: message, Data: data, At: time.Now()}
	c.SendEvent(ev)
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
