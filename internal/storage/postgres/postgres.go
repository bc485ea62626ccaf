package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"attendance-service/internal/models"
	"attendance-service/pkg/response"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Storage struct {
	db *sql.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// #### slot catalog ####

func (s *Storage) SlotsForScope(ctx context.Context, scope models.Scope, weekday int) ([]models.TimeSlot, error) {
	const op = "storage.postgres.SlotsForScope"

	rows, err := s.db.QueryContext(ctx,
		`SELECT slot_id, slot_number, weekday, start_time, end_time, subject_code, subject_name, faculty_id, section, branch, year
		FROM time_slots
		WHERE section=$1 AND branch=$2 AND year=$3 AND weekday=$4
		ORDER BY slot_number`,
		scope.Section, scope.Branch, scope.Year, weekday,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var slots []models.TimeSlot
	for rows.Next() {
		var slot models.TimeSlot
		err := rows.Scan(
			&slot.SlotID, &slot.SlotNumber, &slot.Weekday,
			&slot.StartTime, &slot.EndTime,
			&slot.SubjectCode, &slot.SubjectName, &slot.FacultyID,
			&slot.Section, &slot.Branch, &slot.Year,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		slots = append(slots, slot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// No schedule for this scope is an empty day, not a fault.
	return slots, nil
}

func (s *Storage) GetSlot(ctx context.Context, slotID string) (*models.TimeSlot, error) {
	const op = "storage.postgres.GetSlot"

	var slot models.TimeSlot

	err := s.db.QueryRowContext(ctx,
		`SELECT slot_id, slot_number, weekday, start_time, end_time, subject_code, subject_name, faculty_id, section, branch, year
		FROM time_slots
		WHERE slot_id=$1`,
		slotID,
	).Scan(
		&slot.SlotID, &slot.SlotNumber, &slot.Weekday,
		&slot.StartTime, &slot.EndTime,
		&slot.SubjectCode, &slot.SubjectName, &slot.FacultyID,
		&slot.Section, &slot.Branch, &slot.Year,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &slot, nil
}

// #### attendance ledger ####

const recordColumns = `id, student_id, slot_id, date, status, category, marked_by, marked_by_role, marked_at, is_override, override_reason, subject_code, subject_name, section, branch, year`

func scanRecord(row interface{ Scan(...any) error }) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	err := row.Scan(
		&rec.ID, &rec.StudentID, &rec.SlotID, &rec.Date,
		&rec.Status, &rec.Category,
		&rec.MarkedBy, &rec.MarkedByRole, &rec.MarkedAt,
		&rec.IsOverride, &rec.OverrideReason,
		&rec.SubjectCode, &rec.SubjectName,
		&rec.Section, &rec.Branch, &rec.Year,
	)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// UpsertRecord writes the record by its composite key. A second write to the
// same (student_id, slot_id, date) updates in place; no duplicate row can
// appear. The conditional update is what serializes same-key racers on the
// database side.
func (s *Storage) UpsertRecord(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	const op = "storage.postgres.UpsertRecord"

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (student_id, slot_id, date)
		DO UPDATE
		SET status = EXCLUDED.status,
			category = EXCLUDED.category,
			marked_by = EXCLUDED.marked_by,
			marked_by_role = EXCLUDED.marked_by_role,
			marked_at = EXCLUDED.marked_at,
			is_override = EXCLUDED.is_override,
			override_reason = EXCLUDED.override_reason
		RETURNING `+recordColumns,
		rec.ID, rec.StudentID, rec.SlotID, rec.Date,
		rec.Status, rec.Category,
		rec.MarkedBy, rec.MarkedByRole, rec.MarkedAt,
		rec.IsOverride, rec.OverrideReason,
		rec.SubjectCode, rec.SubjectName,
		rec.Section, rec.Branch, rec.Year,
	)

	stored, err := scanRecord(row)
	if err != nil {
		sqlErr, ok := err.(*pq.Error)
		if ok && (sqlErr.Code == "40001" || sqlErr.Code == "40P01") {
			return nil, fmt.Errorf("%s: %w", op, response.ErrWriteConflict)
		}
		if ok && sqlErr.Code == "23503" {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return stored, nil
}

func (s *Storage) GetRecord(ctx context.Context, key models.RecordKey) (*models.AttendanceRecord, error) {
	const op = "storage.postgres.GetRecord"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id=$1 AND slot_id=$2 AND date=$3`,
		key.StudentID, key.SlotID, key.Date,
	)

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

func (s *Storage) RecordsForStudent(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceRecord, error) {
	const op = "storage.postgres.RecordsForStudent"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id=$1 AND date >= $2 AND date <= $3
		ORDER BY date, slot_id`,
		studentID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	return collectRecords(op, rows)
}

func (s *Storage) RecordsForSlot(ctx context.Context, slotID string, date time.Time) ([]models.AttendanceRecord, error) {
	const op = "storage.postgres.RecordsForSlot"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+`
		FROM attendance_records
		WHERE slot_id=$1 AND date=$2
		ORDER BY student_id`,
		slotID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	return collectRecords(op, rows)
}

func collectRecords(op string, rows *sql.Rows) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return records, nil
}

// #### audit trail ####

func (s *Storage) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	const op = "storage.postgres.AppendAudit"

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attendance_audit
		(id, record_id, student_id, slot_id, date, previous_status, new_status, changed_by, changed_by_role, changed_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.RecordID, entry.StudentID, entry.SlotID, entry.Date,
		entry.PreviousStatus, entry.NewStatus,
		entry.ChangedBy, entry.ChangedByRole, entry.ChangedAt,
		entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) AuditForSlot(ctx context.Context, slotID string, date time.Time) ([]models.AuditEntry, error) {
	const op = "storage.postgres.AuditForSlot"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record_id, student_id, slot_id, date, previous_status, new_status, changed_by, changed_by_role, changed_at, reason
		FROM attendance_audit
		WHERE slot_id=$1 AND date=$2
		ORDER BY changed_at`,
		slotID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		err := rows.Scan(
			&entry.ID, &entry.RecordID, &entry.StudentID, &entry.SlotID, &entry.Date,
			&entry.PreviousStatus, &entry.NewStatus,
			&entry.ChangedBy, &entry.ChangedByRole, &entry.ChangedAt,
			&entry.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return entries, nil
}

// #### enrollments ####

func (s *Storage) IsEnrolled(ctx context.Context, studentID string, scope models.Scope) (bool, error) {
	const op = "storage.postgres.IsEnrolled"

	var enrolled bool

	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM enrollments
			WHERE student_id=$1 AND section=$2 AND branch=$3 AND year=$4
		)`,
		studentID, scope.Section, scope.Branch, scope.Year,
	).Scan(&enrolled)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return enrolled, nil
}
