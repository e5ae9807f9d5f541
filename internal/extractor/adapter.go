// Package extractor wraps the external face detector and embedding model.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// Face is one raw detection returned by a backend.
type Face struct {
	Embedding []float32
	BBox      []float64 // [x1, y1, x2, y2]
	Score     float64
}

// Backend is the detector the adapter drives.
type Backend interface {
	// Load initializes heavyweight model state. It may be slow.
	Load(ctx context.Context) error
	// Detect returns every face in an encoded image.
	Detect(ctx context.Context, image []byte) ([]Face, error)
}

// Options tune the adapter.
type Options struct {
	Dim            int           // expected embedding length, 0 disables the check
	ScoreThreshold float64       // detections below this confidence are dropped
	LoadTimeout    time.Duration // bound on a single shared model load
	Logger         *slog.Logger
}

// State of the shared model initialization.
type State string

const (
	StateNotStarted State = "not_started"
	StateLoading    State = "loading"
	StateReady      State = "ready"
)

// Adapter exposes detect-one and detect-all over a Backend and owns its
// lazy, de-duplicated initialization. One adapter is shared by all sessions.
type Adapter struct {
	backend Backend
	opts    Options
	logger  *slog.Logger

	group   singleflight.Group
	ready   atomic.Bool
	loading atomic.Bool
	loads   atomic.Int64
}

// NewAdapter creates an adapter over backend.
func NewAdapter(backend Backend, opts Options) *Adapter {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = constants.ModelLoadTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		backend: backend,
		opts:    opts,
		logger:  logger.With("component", "extractor"),
	}
}

// EnsureReady loads the model once. Concurrent callers share a single load and
// observe the same outcome. A failed load is forgotten so the next call retries.
func (a *Adapter) EnsureReady(ctx context.Context) error {
	if a.ready.Load() {
		return nil
	}

	ch := a.group.DoChan("load", func() (any, error) {
		if a.ready.Load() {
			return nil, nil
		}
		return nil, a.load()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load runs detached from any caller context so an impatient caller does not
// fail the load for everyone else sharing it.
func (a *Adapter) load() error {
	a.loading.Store(true)
	defer a.loading.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), a.opts.LoadTimeout)
	defer cancel()

	a.loads.Add(1)
	start := time.Now()
	if err := a.backend.Load(ctx); err != nil {
		a.logger.Error("model load failed", "error", err, "duration", time.Since(start))
		return &ModelLoadError{Err: err}
	}

	a.ready.Store(true)
	a.logger.Info("model ready", "duration", time.Since(start))
	return nil
}

// State reports the current initialization state.
func (a *Adapter) State() State {
	switch {
	case a.ready.Load():
		return StateReady
	case a.loading.Load():
		return StateLoading
	default:
		return StateNotStarted
	}
}

// Loads returns how many times the backend load has actually run.
func (a *Adapter) Loads() int64 {
	return a.loads.Load()
}

// DetectAll returns every confident face in the frame, in backend order.
// A frame that is not ready yields no detections and no error.
func (a *Adapter) DetectAll(ctx context.Context, frame *capture.Frame) ([]facematch.Detection, error) {
	if err := a.EnsureReady(ctx); err != nil {
		return nil, err
	}
	if !frame.Ready() {
		return nil, nil
	}

	faces, err := a.backend.Detect(ctx, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	detections := make([]facematch.Detection, 0, len(faces))
	for _, f := range faces {
		if f.Score < a.opts.ScoreThreshold {
			continue
		}
		if a.opts.Dim > 0 && len(f.Embedding) != a.opts.Dim {
			return nil, fmt.Errorf("unexpected embedding dimension %d, want %d", len(f.Embedding), a.opts.Dim)
		}
		detections = append(detections, facematch.Detection{
			Embedding:      facematch.Embedding(f.Embedding),
			FrameTimestamp: frame.CapturedAt,
			Score:          f.Score,
			BBox:           f.BBox,
		})
	}
	return detections, nil
}

// DetectOne returns the most confident face in the frame, or ErrNotFound.
func (a *Adapter) DetectOne(ctx context.Context, frame *capture.Frame) (facematch.Detection, error) {
	detections, err := a.DetectAll(ctx, frame)
	if err != nil {
		return facematch.Detection{}, err
	}
	if len(detections) == 0 {
		return facematch.Detection{}, ErrNotFound
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
	return detections[0], nil
}
