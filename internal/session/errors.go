package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionStopped is returned by Start when Stop was called before the session became active.
	ErrSessionStopped = errors.New("session stopped")
	// ErrInvalidPhase is returned when an operation is not allowed in the current phase.
	ErrInvalidPhase = errors.New("invalid session phase")
	// ErrSessionNotFound is returned by the Manager for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")
)

// PersistenceError reports a confirmed mark the ledger failed to record.
// The identity stays marked so it is not attempted again in the same session.
type PersistenceError struct {
	SessionID  string
	IdentityID string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to record attendance of %s in %s: %v", e.IdentityID, e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
