package models

import (
	"time"
)

type AttendanceStatus string

const (
	AttendancePresent   AttendanceStatus = "PRESENT"
	AttendanceAbsent    AttendanceStatus = "ABSENT"
	AttendanceLate      AttendanceStatus = "LATE"
	AttendanceExcused   AttendanceStatus = "EXCUSED"
	AttendanceNotMarked AttendanceStatus = "NOT_MARKED"
)

// Markable reports whether the status may be written explicitly.
// NOT_MARKED is never a write target: the absence of a record is that state.
func (s AttendanceStatus) Markable() bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused:
		return true
	default:
		return false
	}
}

type AttendanceCategory string

const (
	CategoryAcademic AttendanceCategory = "ACADEMIC"
	CategoryEvent    AttendanceCategory = "EVENT"
	CategorySports   AttendanceCategory = "SPORTS"
	CategoryClub     AttendanceCategory = "CLUB"
)

func (c AttendanceCategory) Valid() bool {
	switch c {
	case CategoryAcademic, CategoryEvent, CategorySports, CategoryClub:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleSubAdmin    Role = "SUB_ADMIN"
	RoleFaculty     Role = "FACULTY"
	RoleCoordinator Role = "COORDINATOR"
	RoleStudent     Role = "STUDENT"
)

func (r Role) Valid() bool {
	_, ok := Capabilities[r]
	return ok
}

// Capability is the fixed set of flags a role carries.
type Capability struct {
	MarkAcademic bool
	MarkEvent    bool
	MarkSports   bool
	MarkClub     bool
	Override     bool
	ViewAll      bool
	TimeBound    bool
}

// Capabilities is the role matrix. Fixed per deployment, never configurable
// at runtime.
var Capabilities = map[Role]Capability{
	RoleAdmin:       {MarkAcademic: true, MarkEvent: true, MarkSports: true, MarkClub: true, Override: true, ViewAll: true, TimeBound: false},
	RoleSubAdmin:    {MarkAcademic: true, MarkEvent: true, MarkSports: true, MarkClub: true, Override: false, ViewAll: true, TimeBound: false},
	RoleFaculty:     {MarkAcademic: true, MarkEvent: false, MarkSports: false, MarkClub: false, Override: false, ViewAll: false, TimeBound: true},
	RoleCoordinator: {MarkAcademic: false, MarkEvent: true, MarkSports: true, MarkClub: true, Override: false, ViewAll: false, TimeBound: false},
	RoleStudent:     {MarkAcademic: false, MarkEvent: false, MarkSports: false, MarkClub: false, Override: false, ViewAll: false, TimeBound: false},
}

// CanMark reports whether the role may record marks under the given category.
func (c Capability) CanMark(category AttendanceCategory) bool {
	switch category {
	case CategoryAcademic:
		return c.MarkAcademic
	case CategoryEvent:
		return c.MarkEvent
	case CategorySports:
		return c.MarkSports
	case CategoryClub:
		return c.MarkClub
	default:
		return false
	}
}

// Actor is the identity context resolved by the upstream auth layer.
type Actor struct {
	UserID  string
	Role    Role
	Section string
	Branch  string
	Year    string
}

// Scope is the (section, branch, year) triple slots and students belong to.
type Scope struct {
	Section string `db:"section" json:"section"`
	Branch  string `db:"branch" json:"branch"`
	Year    string `db:"year" json:"year"`
}

// TimeSlot is one scheduled period for a scope on a weekday. Immutable once
// published; the ledger never mutates slots.
type TimeSlot struct {
	SlotID      string `db:"slot_id"`
	SlotNumber  int    `db:"slot_number"`
	Weekday     int    `db:"weekday"`    // 0 = Sunday
	StartTime   string `db:"start_time"` // "15:04", time-of-day only
	EndTime     string `db:"end_time"`
	SubjectCode string `db:"subject_code"`
	SubjectName string `db:"subject_name"`
	FacultyID   string `db:"faculty_id"`
	Scope
}

const DateLayout = "2006-01-02"

// RecordKey is the composite identity of an attendance record. Date is kept
// in DateLayout form so the key stays comparable.
type RecordKey struct {
	StudentID string
	SlotID    string
	Date      string
}

type AttendanceRecord struct {
	ID             string             `db:"id"`
	StudentID      string             `db:"student_id"`
	SlotID         string             `db:"slot_id"`
	Date           time.Time          `db:"date"`
	Status         AttendanceStatus   `db:"status"`
	Category       AttendanceCategory `db:"category"`
	MarkedBy       string             `db:"marked_by"`
	MarkedByRole   Role               `db:"marked_by_role"`
	MarkedAt       time.Time          `db:"marked_at"`
	IsOverride     bool               `db:"is_override"`
	OverrideReason string             `db:"override_reason"`
	SubjectCode    string             `db:"subject_code"`
	SubjectName    string             `db:"subject_name"`
	Scope
}

func (r *AttendanceRecord) Key() RecordKey {
	return RecordKey{
		StudentID: r.StudentID,
		SlotID:    r.SlotID,
		Date:      r.Date.Format(DateLayout),
	}
}

// AuditEntry is one row of the append-only override trail. Records are never
// physically deleted, so the trail is the history of supersessions.
type AuditEntry struct {
	ID             string           `db:"id"`
	RecordID       string           `db:"record_id"`
	StudentID      string           `db:"student_id"`
	SlotID         string           `db:"slot_id"`
	Date           time.Time        `db:"date"`
	PreviousStatus AttendanceStatus `db:"previous_status"`
	NewStatus      AttendanceStatus `db:"new_status"`
	ChangedBy      string           `db:"changed_by"`
	ChangedByRole  Role             `db:"changed_by_role"`
	ChangedAt      time.Time        `db:"changed_at"`
	Reason         string           `db:"reason"`
}

type LockStatus string

const (
	WindowOpen     LockStatus = "OPEN"
	WindowLocked   LockStatus = "LOCKED"
	WindowOverride LockStatus = "OVERRIDE"
)

// SlotLockState is derived from slot end time vs. server time. Never the
// source of truth: any persisted copy is a cache revalidated on read.
type SlotLockState struct {
	SlotID   string
	Date     string
	Status   LockStatus
	LockedAt *time.Time
	LockedBy string
}

// PermissionCheck is the evaluator's verdict. Ephemeral, never persisted.
type PermissionCheck struct {
	CanMark       bool   `json:"can_mark"`
	Reason        string `json:"reason,omitempty"`
	IsTimeValid   bool   `json:"is_time_valid"`
	IsSlotOpen    bool   `json:"is_slot_open"`
	HasPermission bool   `json:"has_permission"`
}

type SummaryStatus string

const (
	SummarySatisfactory SummaryStatus = "SATISFACTORY"
	SummaryWarning      SummaryStatus = "WARNING"
	SummaryCritical     SummaryStatus = "CRITICAL"
)

type StudentAttendanceSummary struct {
	StudentID    string        `json:"student_id"`
	WindowWeeks  int           `json:"window_weeks"`
	TotalClasses int           `json:"total_classes"`
	Attended     int           `json:"attended"`
	Absent       int           `json:"absent"`
	Late         int           `json:"late"`
	Excused      int           `json:"excused"`
	Percentage   int           `json:"percentage"`
	Status       SummaryStatus `json:"status"`
}

type SubjectAttendanceSummary struct {
	SubjectCode  string        `json:"subject_code"`
	SubjectName  string        `json:"subject_name"`
	TotalClasses int           `json:"total_classes"`
	Attended     int           `json:"attended"`
	Absent       int           `json:"absent"`
	Late         int           `json:"late"`
	Excused      int           `json:"excused"`
	Percentage   int           `json:"percentage"`
	Status       SummaryStatus `json:"status"`
}

// Enrollment ties a student to a scope. Bulk marking validates each student
// against the slot's scope through these rows.
type Enrollment struct {
	StudentID string `db:"student_id"`
	Scope
}
