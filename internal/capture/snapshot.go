package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// SnapshotDevice is an IP camera exposing a JPEG snapshot URL.
// An acquired handle polls the URL in the background and keeps the latest frame.
type SnapshotDevice struct {
	URL         string
	Username    string
	Password    string
	PollEvery   time.Duration
	MaxFailures int

	client   *http.Client
	logger   *slog.Logger
	initOnce sync.Once
}

// NewSnapshotDevice creates a snapshot camera with polling defaults applied.
func NewSnapshotDevice(url, username, password string) *SnapshotDevice {
	return &SnapshotDevice{
		URL:         url,
		Username:    username,
		Password:    password,
		PollEvery:   constants.SnapshotPollInterval,
		MaxFailures: constants.MaxSnapshotFailures,
		client:      &http.Client{Timeout: 5 * time.Second},
		logger:      slog.Default().With("component", "capture"),
	}
}

// Acquire fetches a first frame to verify access and starts polling.
func (d *SnapshotDevice) Acquire(ctx context.Context, width, height int) (Handle, error) {
	d.initOnce.Do(d.applyDefaults)

	first, err := d.fetch(ctx, width, height)
	if err != nil {
		return nil, &CameraAccessError{Device: d.URL, Err: err}
	}

	h := &snapshotHandle{
		dev:    d,
		width:  width,
		height: height,
		latest: first,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.poll()

	d.logger.Info("camera acquired", "url", d.URL, "width", width, "height", height)
	return h, nil
}

// applyDefaults fills settings left zero on a literal SnapshotDevice.
// It runs once, before the first Acquire; fields must not change afterwards.
func (d *SnapshotDevice) applyDefaults() {
	if d.client == nil {
		d.client = &http.Client{Timeout: 5 * time.Second}
	}
	if d.logger == nil {
		d.logger = slog.Default().With("component", "capture")
	}
	if d.PollEvery <= 0 {
		d.PollEvery = constants.SnapshotPollInterval
	}
	if d.MaxFailures <= 0 {
		d.MaxFailures = constants.MaxSnapshotFailures
	}
}

func (d *SnapshotDevice) fetch(ctx context.Context, width, height int) (*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	if d.Username != "" {
		req.SetBasicAuth(d.Username, d.Password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrCameraDenied, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrCameraUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read snapshot: %v", ErrCameraUnavailable, err)
	}

	return scaleFrame(data, width, height, time.Now())
}

// scaleFrame decodes a snapshot and re-encodes it at the target resolution.
// Frames already at the target size are passed through untouched.
func scaleFrame(data []byte, width, height int, at time.Time) (*Frame, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode snapshot: %v", ErrCameraUnavailable, err)
	}

	b := src.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return &Frame{Data: data, Width: width, Height: height, CapturedAt: at}, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: constants.SnapshotJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	return &Frame{Data: buf.Bytes(), Width: width, Height: height, CapturedAt: at}, nil
}

type snapshotHandle struct {
	dev           *SnapshotDevice
	width, height int

	mu       sync.RWMutex
	latest   *Frame
	err      error
	failures int

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (h *snapshotHandle) poll() {
	defer close(h.done)

	ticker := time.NewTicker(h.dev.PollEvery)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		frame, err := h.dev.fetch(ctx, h.width, h.height)
		if errors.Is(err, context.Canceled) {
			return
		}

		h.mu.Lock()
		if err != nil {
			h.failures++
			if h.failures >= h.dev.MaxFailures {
				h.err = &CameraAccessError{Device: h.dev.URL, Err: fmt.Errorf("%w: %v", ErrCameraLost, err)}
				h.latest = nil
				h.mu.Unlock()
				h.dev.logger.Error("camera lost", "url", h.dev.URL, "failures", h.failures, "error", err)
				return
			}
		} else {
			h.failures = 0
			h.latest = frame
		}
		h.mu.Unlock()
	}
}

func (h *snapshotHandle) Frame() *Frame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

func (h *snapshotHandle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

func (h *snapshotHandle) Release() {
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		h.mu.Lock()
		h.latest = nil
		h.mu.Unlock()
		h.dev.logger.Info("camera released", "url", h.dev.URL)
	})
}
