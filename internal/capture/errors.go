package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrCameraDenied means the device refused access (bad credentials, permission).
	ErrCameraDenied = errors.New("camera access denied")
	// ErrCameraUnavailable means the device could not be reached or produced no usable frame.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrCameraLost means an acquired handle stopped producing frames.
	ErrCameraLost = errors.New("camera lost")
)

// CameraAccessError wraps a failure to acquire or keep a capture device.
type CameraAccessError struct {
	Device string
	Err    error
}

func (e *CameraAccessError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Device, e.Err)
}

func (e *CameraAccessError) Unwrap() error {
	return e.Err
}
