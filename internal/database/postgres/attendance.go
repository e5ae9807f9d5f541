package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/database"
)

// AttendanceRepository is the PostgreSQL attendance ledger
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// Record stores a mark. A repeated mark for the same session and identity keeps
// the first row and returns its ID.
func (r *AttendanceRepository) Record(ctx context.Context, rec database.AttendanceRecord) (int64, error) {
	query := `
		INSERT INTO attendance (
			session_id, identity_id, identity_name, class_id, class_name,
			teacher_id, organization_id, status, marked_by, distance, marked_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, identity_id) DO UPDATE SET session_id = attendance.session_id
		RETURNING id
	`

	status := rec.Status
	if status == "" {
		status = database.StatusPresent
	}
	markedBy := rec.MarkedBy
	if markedBy == "" {
		markedBy = database.MarkedByFaceRecognition
	}

	var id int64
	err := r.pool.QueryRow(ctx, query,
		rec.SessionID, rec.IdentityID, rec.IdentityName, rec.ClassID, rec.ClassName,
		rec.TeacherID, rec.OrganizationID, status, markedBy, rec.Distance, rec.MarkedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record attendance: %w", err)
	}
	return id, nil
}

// ListBySession returns the marks of a session in the order they were made
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]database.AttendanceRecord, error) {
	query := `
		SELECT id, session_id, identity_id, identity_name, class_id, class_name,
		       teacher_id, organization_id, status, marked_by, distance, marked_at
		FROM attendance
		WHERE session_id = $1
		ORDER BY marked_at, id
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var result []database.AttendanceRecord
	for rows.Next() {
		var a database.AttendanceRecord
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.IdentityID, &a.IdentityName, &a.ClassID, &a.ClassName,
			&a.TeacherID, &a.OrganizationID, &a.Status, &a.MarkedBy, &a.Distance, &a.MarkedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return result, nil
}
