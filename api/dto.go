package api

import "time"

type MarkRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SlotID    string `json:"slot_id" validate:"required"`
	Date      string `json:"date" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=PRESENT ABSENT LATE EXCUSED"`
	Category  string `json:"category" validate:"required,oneof=ACADEMIC EVENT SPORTS CLUB"`
}

type MarkBulkRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1"`
	SlotID     string   `json:"slot_id" validate:"required"`
	Date       string   `json:"date" validate:"required"`
	Status     string   `json:"status" validate:"required,oneof=PRESENT ABSENT LATE EXCUSED"`
	Category   string   `json:"category" validate:"required,oneof=ACADEMIC EVENT SPORTS CLUB"`
}

type OverrideRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1"`
	SlotID     string   `json:"slot_id" validate:"required"`
	Date       string   `json:"date" validate:"required"`
	Status     string   `json:"status" validate:"required,oneof=PRESENT ABSENT LATE EXCUSED"`
	Reason     string   `json:"reason" validate:"required"`
	Category   string   `json:"category" validate:"omitempty,oneof=ACADEMIC EVENT SPORTS CLUB"`
}

type AttendanceRecordResponse struct {
	ID             string    `json:"id"`
	StudentID      string    `json:"student_id"`
	SlotID         string    `json:"slot_id"`
	Date           string    `json:"date"`
	Status         string    `json:"status"`
	Category       string    `json:"category"`
	MarkedBy       string    `json:"marked_by"`
	MarkedByRole   string    `json:"marked_by_role"`
	MarkedAt       time.Time `json:"marked_at"`
	IsOverride     bool      `json:"is_override"`
	OverrideReason string    `json:"override_reason,omitempty"`
	SubjectCode    string    `json:"subject_code"`
	SubjectName    string    `json:"subject_name"`
	Section        string    `json:"section"`
	Branch         string    `json:"branch"`
	Year           string    `json:"year"`
}

type BulkMarkError struct {
	StudentID string `json:"student_id"`
	Error     string `json:"error"`
}

type BulkMarkResponse struct {
	MarkedCount int             `json:"marked_count"`
	FailedCount int             `json:"failed_count"`
	Errors      []BulkMarkError `json:"errors,omitempty"`
}

type SlotResponse struct {
	SlotID      string `json:"slot_id"`
	SlotNumber  int    `json:"slot_number"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	SubjectCode string `json:"subject_code"`
	SubjectName string `json:"subject_name"`
	FacultyID   string `json:"faculty_id"`
	Section     string `json:"section"`
	Branch      string `json:"branch"`
	Year        string `json:"year"`
}

type DailyScheduleItem struct {
	Slot       SlotResponse `json:"slot"`
	Status     string       `json:"status"`
	IsSlotOpen bool         `json:"is_slot_open"`
	CanMark    bool         `json:"can_mark"`
	LockStatus string       `json:"lock_status"`
}

type AuditEntryResponse struct {
	ID             string    `json:"id"`
	RecordID       string    `json:"record_id"`
	StudentID      string    `json:"student_id"`
	SlotID         string    `json:"slot_id"`
	Date           string    `json:"date"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ChangedBy      string    `json:"changed_by"`
	ChangedByRole  string    `json:"changed_by_role"`
	ChangedAt      time.Time `json:"changed_at"`
	Reason         string    `json:"reason"`
}
