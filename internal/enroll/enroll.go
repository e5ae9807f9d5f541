// Package enroll captures a single face embedding for storage against an identity.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/extractor"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

var (
	// ErrDetectionTimeout means no detection result arrived before the deadline.
	ErrDetectionTimeout = errors.New("face detection timed out")
	// ErrNoFaceDetected means the detector finished but found no face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrUnknownIdentity means the identity to enroll does not exist.
	ErrUnknownIdentity = errors.New("identity not found")
)

// Detector finds the single most confident face in a frame.
type Detector interface {
	DetectOne(ctx context.Context, frame *capture.Frame) (facematch.Detection, error)
}

type outcome struct {
	det facematch.Detection
	err error
}

// CaptureOne detects one face in frame and returns its embedding.
// The detection races a timer; if the timer wins the detection is left to finish
// on its own and its result is dropped.
func CaptureOne(ctx context.Context, detector Detector, frame *capture.Frame, timeout time.Duration) (facematch.Embedding, error) {
	results := make(chan outcome, 1)
	go func() {
		det, err := detector.DetectOne(context.WithoutCancel(ctx), frame)
		results <- outcome{det: det, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if errors.Is(res.err, extractor.ErrNotFound) {
			return nil, ErrNoFaceDetected
		}
		if res.err != nil {
			return nil, fmt.Errorf("enrollment detection failed: %w", res.err)
		}
		return append(facematch.Embedding(nil), res.det.Embedding...), nil
	case <-timer.C:
		return nil, ErrDetectionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
