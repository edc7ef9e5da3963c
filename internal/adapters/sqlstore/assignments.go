package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/okian/tremor/internal/domain/model"
)

const releaseOpen = `UPDATE device_assignments SET released_at_ms = ?, status = ? WHERE device_id = ? AND released_at_ms IS NULL`

// AssignmentStore reads and writes device-to-patient assignments.
type AssignmentStore struct {
	db *DB
}

// NewAssignmentStore creates an AssignmentStore.
func NewAssignmentStore(db *DB) *AssignmentStore {
	return &AssignmentStore{db: db}
}

// Assignments returns the assignments of deviceID that overlap r, oldest first.
func (s *AssignmentStore) Assignments(ctx context.Context, deviceID string, r model.TimeRange) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, s.db.rebind(
		`SELECT device_id, patient_id, assigned_at_ms, released_at_ms, status
		 FROM device_assignments
		 WHERE device_id = ? AND assigned_at_ms <= ? AND (released_at_ms IS NULL OR released_at_ms > ?)
		 ORDER BY assigned_at_ms`),
		deviceID, r.End, r.Start)
	if err != nil {
		return nil, fmt.Errorf("query assignments for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var (
			a        model.Assignment
			released sql.NullInt64
		)
		if err := rows.Scan(&a.DeviceID, &a.PatientID, &a.AssignedAt, &released, &a.Status); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		if released.Valid {
			v := released.Int64
			a.ReleasedAt = &v
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

// Assign records a new open assignment. Any assignment still open for
// deviceID is released at the same instant, in the same transaction.
func (s *AssignmentStore) Assign(ctx context.Context, deviceID, patientID string, at int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.db.rebind(releaseOpen), at, model.StatusInactive, deviceID); err != nil {
		return fmt.Errorf("release %s: %w", deviceID, err)
	}
	if _, err := tx.ExecContext(ctx, s.db.rebind(
		`INSERT INTO device_assignments (device_id, patient_id, assigned_at_ms, status) VALUES (?, ?, ?, ?)`),
		deviceID, patientID, at, model.StatusActive); err != nil {
		return fmt.Errorf("assign %s to %s: %w", deviceID, patientID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Release closes the open assignment of deviceID at the given time.
func (s *AssignmentStore) Release(ctx context.Context, deviceID string, at int64) error {
	res, err := s.db.ExecContext(ctx, s.db.rebind(releaseOpen), at, model.StatusInactive, deviceID)
	if err != nil {
		return fmt.Errorf("release %s: %w", deviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release %s: %w", deviceID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w for %s", ErrNoOpenAssignment, deviceID)
	}
	return nil
}
