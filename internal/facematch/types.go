// Package facematch provides face matching utilities shared between the session engine,
// the enrollment flow and the web handlers.
package facematch

import "time"

// Embedding is a fixed-length face descriptor produced by the extractor.
// Embeddings are treated as immutable once produced.
type Embedding []float32

// Identity is an enrolled person with the embedding used for matching.
type Identity struct {
	ID          string
	DisplayName string
	Embedding   Embedding
}

// Detection is a single face found in a frame.
type Detection struct {
	Embedding      Embedding
	FrameTimestamp time.Time
	Score          float64   // detector confidence
	BBox           []float64 // [x1, y1, x2, y2] in pixels, may be empty
}

// Result is the outcome of a successful match.
type Result struct {
	Identity Identity
	Index    int // position in the roster
	Distance float64
}
