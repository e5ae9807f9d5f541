package mariadb

import (
	"context"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/database"
)

const createMirrorTable = `
	CREATE TABLE IF NOT EXISTS attendance_mirror (
		session_id       VARCHAR(255) NOT NULL,
		identity_id      VARCHAR(255) NOT NULL,
		record_id        BIGINT NOT NULL,
		identity_name    VARCHAR(255) NOT NULL DEFAULT '',
		class_id         VARCHAR(255) NOT NULL DEFAULT '',
		class_name       VARCHAR(255) NOT NULL DEFAULT '',
		teacher_id       VARCHAR(255) NOT NULL DEFAULT '',
		organization_id  VARCHAR(255) NOT NULL DEFAULT '',
		status           VARCHAR(32) NOT NULL,
		marked_by        VARCHAR(64) NOT NULL,
		marked_at        DATETIME(3) NOT NULL,
		PRIMARY KEY (session_id, identity_id)
	)
`

// EnsureSchema creates the mirror table when it does not exist yet.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createMirrorTable); err != nil {
		return fmt.Errorf("create attendance mirror table: %w", err)
	}
	return nil
}

// Record copies an attendance mark into the reporting database.
// Replaying the same mark overwrites the earlier copy.
func (p *Pool) Record(ctx context.Context, rec database.AttendanceRecord) (int64, error) {
	query := `
		INSERT INTO attendance_mirror (
			session_id, identity_id, record_id, identity_name, class_id, class_name,
			teacher_id, organization_id, status, marked_by, marked_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE record_id = VALUES(record_id), marked_at = VALUES(marked_at)
	`
	_, err := p.db.ExecContext(ctx, query,
		rec.SessionID, rec.IdentityID, rec.ID, rec.IdentityName, rec.ClassID, rec.ClassName,
		rec.TeacherID, rec.OrganizationID, rec.Status, rec.MarkedBy, rec.MarkedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("mirror attendance: %w", err)
	}
	return rec.ID, nil
}
