package database

import (
	"time"

	"github.com/kozaktomas/rollcall/internal/facematch"
)

// Attendance mark values recorded by the session engine
const (
	StatusPresent           = "present"
	MarkedByFaceRecognition = "face-recognition"
)

// StoredIdentity represents an enrolled person stored in the database
type StoredIdentity struct {
	ID          string
	DisplayName string
	ClassID     string
	Embedding   []float32 // nil until a face has been enrolled
	Model       string
	Dim         int
	EnrolledAt  time.Time // zero until a face has been enrolled
	UpdatedAt   time.Time
}

// HasEmbedding reports whether a face has been enrolled for the identity.
func (s *StoredIdentity) HasEmbedding() bool {
	return len(s.Embedding) > 0
}

// Identity converts the stored row into the matcher's roster entry.
func (s *StoredIdentity) Identity() facematch.Identity {
	return facematch.Identity{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		Embedding:   facematch.Embedding(s.Embedding),
	}
}

// IdentityFilter narrows identity listings
type IdentityFilter struct {
	ClassID      string // exact class match, empty for all
	Query        string // display name substring, diacritics-insensitive
	EnrolledOnly bool   // only identities with an embedding
}

// Neighbor is an enrolled identity close to a query embedding
type Neighbor struct {
	IdentityID  string  `json:"identity_id"`
	DisplayName string  `json:"display_name"`
	Distance    float64 `json:"distance"`
}

// AttendanceRecord is one attendance mark as persisted by the ledger
type AttendanceRecord struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	IdentityID     string    `json:"identity_id"`
	IdentityName   string    `json:"identity_name"`
	ClassID        string    `json:"class_id"`
	ClassName      string    `json:"class_name"`
	TeacherID      string    `json:"teacher_id"`
	OrganizationID string    `json:"organization_id"`
	Status         string    `json:"status"`
	MarkedBy       string    `json:"marked_by"`
	Distance       float64   `json:"distance"`
	MarkedAt       time.Time `json:"marked_at"`
}

// SessionRecord is the persisted summary of one attendance session
type SessionRecord struct {
	ID              string     `json:"id"`
	ClassID         string     `json:"class_id"`
	ClassName       string     `json:"class_name"`
	Subject         string     `json:"subject"`
	Topic           string     `json:"topic"`
	SessionType     string     `json:"session_type"`
	DurationMinutes int        `json:"duration_minutes"`
	TeacherID       string     `json:"teacher_id"`
	OrganizationID  string     `json:"organization_id"`
	Phase           string     `json:"phase"`
	RosterSize      int        `json:"roster_size"`
	MarkCount       int        `json:"mark_count"`
	FailedCount     int        `json:"failed_count"`
	LastError       string     `json:"last_error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}
