// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Session policy constants
const (
	// DefaultScanInterval is the period between scan passes of a live session
	DefaultScanInterval = 2 * time.Second

	// DefaultMatchThreshold is the Euclidean distance a detection must stay strictly
	// below to be matched against an enrolled identity. Lower values = stricter matching
	DefaultMatchThreshold = 0.6

	// DefaultPassTimeout bounds a single detect-match-mark pass
	DefaultPassTimeout = 30 * time.Second

	// MinScanInterval rejects intervals that would hammer the extractor
	MinScanInterval = 100 * time.Millisecond
)

// Capture constants
const (
	// CaptureWidth and CaptureHeight are the resolution requested from the camera
	CaptureWidth  = 640
	CaptureHeight = 480

	// WarmupDelay masks device warm-up before the first frame is used for detection
	WarmupDelay = time.Second

	// SnapshotPollInterval is how often the snapshot camera refreshes its latest frame
	SnapshotPollInterval = 200 * time.Millisecond

	// MaxSnapshotFailures is the number of consecutive failed snapshots after which
	// the camera is considered lost
	MaxSnapshotFailures = 10

	// SnapshotJPEGQuality is the quality used when re-encoding scaled frames
	SnapshotJPEGQuality = 90
)

// Enrollment constants
const (
	// DefaultEnrollTimeout is the deadline for a single-shot enrollment capture
	DefaultEnrollTimeout = 10 * time.Second

	// MaxEnrollUploadSize caps uploaded enrollment images
	MaxEnrollUploadSize = 10 << 20

	// DuplicateCandidates is the number of nearest enrolled identities reported on enrollment
	DuplicateCandidates = 3
)

// Extractor constants
const (
	// ModelLoadTimeout bounds the shared model initialization
	ModelLoadTimeout = 2 * time.Minute
)

// Event constants
const (
	// EventChannelBuffer is the buffer size for session event listener channels
	EventChannelBuffer = 100
)
