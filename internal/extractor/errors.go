package extractor

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by DetectOne when no face is visible.
var ErrNotFound = errors.New("no face found")

// ModelLoadError reports that the detector model could not be initialized.
// It is not cached: a later EnsureReady call retries the load.
type ModelLoadError struct {
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("model load failed: %v", e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}
