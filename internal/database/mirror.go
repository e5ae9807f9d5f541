package database

import (
	"context"
	"log/slog"
	"time"
)

// MirroredAttendance writes every mark to a primary store and copies it to a
// secondary writer. Only the primary decides success; mirror failures are logged.
type MirroredAttendance struct {
	Primary AttendanceStore
	Mirror  AttendanceWriter
	Timeout time.Duration
	Logger  *slog.Logger
}

// Record stores the mark in the primary and then mirrors it with the primary's record ID.
func (m *MirroredAttendance) Record(ctx context.Context, rec AttendanceRecord) (int64, error) {
	id, err := m.Primary.Record(ctx, rec)
	if err != nil {
		return 0, err
	}
	if m.Mirror == nil {
		return id, nil
	}

	rec.ID = id
	mctx := ctx
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}
	if _, err := m.Mirror.Record(mctx, rec); err != nil {
		logger := m.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("attendance mirror write failed",
			"session_id", rec.SessionID, "identity_id", rec.IdentityID, "error", err)
	}
	return id, nil
}

// ListBySession reads from the primary store.
func (m *MirroredAttendance) ListBySession(ctx context.Context, sessionID string) ([]AttendanceRecord, error) {
	return m.Primary.ListBySession(ctx, sessionID)
}
