package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/database"
)

// SessionRepository provides PostgreSQL-backed storage of attendance session summaries
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, class_id, class_name, subject, topic, session_type, duration_minutes,
	teacher_id, organization_id, phase, roster_size, mark_count, failed_count, last_error,
	started_at, ended_at`

// SaveSession stores a session summary in the database
func (r *SessionRepository) SaveSession(ctx context.Context, s database.SessionRecord) error {
	query := `
		INSERT INTO attendance_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			roster_size = EXCLUDED.roster_size,
			mark_count = EXCLUDED.mark_count,
			failed_count = EXCLUDED.failed_count,
			last_error = EXCLUDED.last_error,
			ended_at = EXCLUDED.ended_at
	`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.ClassID, s.ClassName, s.Subject, s.Topic, s.SessionType, s.DurationMinutes,
		s.TeacherID, s.OrganizationID, s.Phase, s.RosterSize, s.MarkCount, s.FailedCount, s.LastError,
		s.StartedAt, s.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func scanSession(scanner interface{ Scan(...any) error }) (database.SessionRecord, error) {
	var (
		s       database.SessionRecord
		endedAt sql.NullTime
	)
	err := scanner.Scan(
		&s.ID, &s.ClassID, &s.ClassName, &s.Subject, &s.Topic, &s.SessionType, &s.DurationMinutes,
		&s.TeacherID, &s.OrganizationID, &s.Phase, &s.RosterSize, &s.MarkCount, &s.FailedCount, &s.LastError,
		&s.StartedAt, &endedAt,
	)
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return s, err
}

// GetSession retrieves a session by ID, returns nil if not found
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*database.SessionRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// ListSessions returns the most recent sessions first
func (r *SessionRepository) ListSessions(ctx context.Context, limit int) ([]database.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []database.SessionRecord
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}
