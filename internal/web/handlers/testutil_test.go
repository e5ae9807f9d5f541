package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/extractor"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Extractor: config.ExtractorConfig{Dim: 128, Model: "test-model"},
		Camera:    config.CameraConfig{Width: 640, Height: 480},
		Session: config.SessionConfig{
			ScanInterval:   2 * time.Second,
			MatchThreshold: 0.6,
			EnrollTimeout:  time.Second,
			PassTimeout:    time.Second,
		},
	}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

// stubHandle is a live camera handle serving a fixed frame.
type stubHandle struct {
	mu       sync.Mutex
	released int
}

func (h *stubHandle) Frame() *capture.Frame {
	return &capture.Frame{Data: []byte{1}, Width: 640, Height: 480, CapturedAt: time.Now()}
}

func (h *stubHandle) Err() error { return nil }

func (h *stubHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released++
}

type stubDevice struct {
	handle *stubHandle
	err    error
}

func (d *stubDevice) Acquire(context.Context, int, int) (capture.Handle, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.handle, nil
}

// stubExtractor detects the same faces in every frame.
type stubExtractor struct {
	readyErr   error
	detections []facematch.Detection
	detectErr  error
}

func (e *stubExtractor) EnsureReady(context.Context) error { return e.readyErr }

func (e *stubExtractor) DetectAll(context.Context, *capture.Frame) ([]facematch.Detection, error) {
	return e.detections, e.detectErr
}

func (e *stubExtractor) DetectOne(context.Context, *capture.Frame) (facematch.Detection, error) {
	if e.detectErr != nil {
		return facematch.Detection{}, e.detectErr
	}
	if len(e.detections) == 0 {
		return facematch.Detection{}, extractor.ErrNotFound
	}
	return e.detections[0], nil
}
