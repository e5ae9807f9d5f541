// Package capture acquires and releases camera devices and exposes their live frames.
package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"time"
)

// Frame is a single encoded image taken from a capture device.
type Frame struct {
	Data       []byte // encoded image (JPEG or PNG)
	Width      int
	Height     int
	CapturedAt time.Time
}

// Ready reports whether the frame is fully available for detection.
// A nil frame is never ready.
func (f *Frame) Ready() bool {
	return f != nil && len(f.Data) > 0 && f.Width > 0 && f.Height > 0
}

// NewFrame wraps an encoded image, reading its dimensions from the header.
func NewFrame(data []byte, capturedAt time.Time) (*Frame, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	return &Frame{
		Data:       data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: capturedAt,
	}, nil
}
