package database

import (
	"context"
)

// IdentityReader provides read-only access to enrolled identities
type IdentityReader interface {
	// Get retrieves an identity by ID, returns nil if not found
	Get(ctx context.Context, id string) (*StoredIdentity, error)
	// List returns identities matching the filter ordered by ID.
	// The stable order keeps roster snapshots deterministic across sessions.
	List(ctx context.Context, filter IdentityFilter) ([]StoredIdentity, error)
	// Count returns the number of identities with an enrolled embedding
	Count(ctx context.Context) (int, error)
	// FindNearest returns up to limit enrolled identities closer than maxDistance (Euclidean)
	FindNearest(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]Neighbor, error)
}

// IdentityWriter provides write access to identities
type IdentityWriter interface {
	IdentityReader

	// Upsert creates or updates an identity's name and class, keeping any enrolled embedding
	Upsert(ctx context.Context, identity StoredIdentity) error
	// SaveEmbedding replaces the enrolled embedding of an existing identity
	SaveEmbedding(ctx context.Context, id string, embedding []float32, model string) error
	// Delete removes an identity
	Delete(ctx context.Context, id string) error
}

// AttendanceWriter records attendance marks
type AttendanceWriter interface {
	// Record stores a mark and returns its record ID
	Record(ctx context.Context, record AttendanceRecord) (int64, error)
}

// AttendanceReader lists recorded attendance
type AttendanceReader interface {
	// ListBySession returns the marks of a session in the order they were made
	ListBySession(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
}

// AttendanceStore combines attendance read and write access
type AttendanceStore interface {
	AttendanceWriter
	AttendanceReader
}

// SessionWriter persists session summaries
type SessionWriter interface {
	SaveSession(ctx context.Context, session SessionRecord) error
}

// SessionReader reads persisted session summaries
type SessionReader interface {
	// GetSession returns nil if the session is not found
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	// ListSessions returns the most recent sessions first
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
}

// SessionStore combines session read and write access
type SessionStore interface {
	SessionWriter
	SessionReader
}
