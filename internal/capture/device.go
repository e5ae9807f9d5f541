package capture

import (
	"context"
	"sync"
	"time"
)

// Device is a capture device that can be acquired at a target resolution.
type Device interface {
	Acquire(ctx context.Context, width, height int) (Handle, error)
}

// Handle is a live, acquired capture device.
type Handle interface {
	// Frame returns the latest frame, or nil when none is available yet.
	Frame() *Frame
	// Err returns a non-nil error once the device has died. A dead handle never recovers.
	Err() error
	// Release frees the device. It is safe to call more than once.
	Release()
}

// Open acquires the device and waits out the warm-up delay before returning the handle.
// The handle is released when the context ends during warm-up.
func Open(ctx context.Context, dev Device, width, height int, warmup time.Duration) (Handle, error) {
	h, err := dev.Acquire(ctx, width, height)
	if err != nil {
		return nil, err
	}

	if warmup <= 0 {
		return h, nil
	}

	timer := time.NewTimer(warmup)
	defer timer.Stop()

	select {
	case <-timer.C:
		return h, nil
	case <-ctx.Done():
		h.Release()
		return nil, ctx.Err()
	}
}

// StillDevice serves a single fixed frame. It backs enrollment from uploaded images.
type StillDevice struct {
	frame *Frame
}

// NewStillDevice returns a device whose handle always yields frame.
func NewStillDevice(frame *Frame) *StillDevice {
	return &StillDevice{frame: frame}
}

func (d *StillDevice) Acquire(_ context.Context, _, _ int) (Handle, error) {
	return &stillHandle{frame: d.frame}, nil
}

type stillHandle struct {
	once  sync.Once
	frame *Frame
	mu    sync.Mutex
}

func (h *stillHandle) Frame() *Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

func (h *stillHandle) Err() error { return nil }

func (h *stillHandle) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		h.frame = nil
		h.mu.Unlock()
	})
}
