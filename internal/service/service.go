package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance-service/api"
	"attendance-service/internal/aggregate"
	"attendance-service/internal/catalog"
	"attendance-service/internal/clock"
	"attendance-service/internal/lock"
	"attendance-service/internal/models"
	"attendance-service/internal/permission"
	"attendance-service/internal/pubsub"
	"attendance-service/internal/window"
	"attendance-service/pkg/response"
)

// Store is the ledger's persistence boundary. The postgres implementation is
// the production store; the memory implementation backs tests and local runs.
type Store interface {
	// Slot catalog
	SlotsForScope(ctx context.Context, scope models.Scope, weekday int) ([]models.TimeSlot, error)
	GetSlot(ctx context.Context, slotID string) (*models.TimeSlot, error)

	// Attendance ledger
	UpsertRecord(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error)
	GetRecord(ctx context.Context, key models.RecordKey) (*models.AttendanceRecord, error)
	RecordsForStudent(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceRecord, error)
	RecordsForSlot(ctx context.Context, slotID string, date time.Time) ([]models.AttendanceRecord, error)

	// Audit trail
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	AuditForSlot(ctx context.Context, slotID string, date time.Time) ([]models.AuditEntry, error)

	// Enrollments
	IsEnrolled(ctx context.Context, studentID string, scope models.Scope) (bool, error)
}

const writeLockTTL = 10 * time.Second

type Service struct {
	store       Store
	catalog     *catalog.Catalog
	clock       clock.Clock
	locker      lock.Locker
	windows     *window.Controller
	eval        *permission.Evaluator
	bus         *pubsub.Bus
	windowWeeks int
}

func NewService(store Store, cat *catalog.Catalog, clk clock.Clock, locker lock.Locker, windows *window.Controller, bus *pubsub.Bus, windowWeeks int) *Service {
	if windowWeeks <= 0 {
		windowWeeks = aggregate.DefaultWindowWeeks
	}

	return &Service{
		store:       store,
		catalog:     cat,
		clock:       clk,
		locker:      locker,
		windows:     windows,
		eval:        permission.New(windows),
		bus:         bus,
		windowWeeks: windowWeeks,
	}
}

// Bus exposes the notification hub to transports (SSE, websocket).
func (s *Service) Bus() *pubsub.Bus {
	return s.bus
}

func parseDate(raw string) (time.Time, error) {
	date, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", raw, response.ErrInvalidKey)
	}

	return date, nil
}

// Mark records one attendance mark. Permission is re-evaluated against server
// time inside the per-key lock, immediately adjacent to the write, so a
// window locking mid-request cannot slip through on a stale earlier check.
func (s *Service) Mark(ctx context.Context, actor models.Actor, req *api.MarkRequest) (*api.AttendanceRecordResponse, error) {
	const op = "service.Mark"

	date, err := parseDate(req.Date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slot, err := s.catalog.Slot(ctx, req.SlotID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.Denied(permission.ReasonNoSchedule))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec, err := s.markOne(ctx, actor, req.StudentID, slot, date,
		models.AttendanceStatus(req.Status), models.AttendanceCategory(req.Category), false, "")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recordResponse(rec), nil
}

// MarkBulk applies Mark to each student independently. One student's failure
// never aborts the rest; failures are collected per student.
func (s *Service) MarkBulk(ctx context.Context, actor models.Actor, req *api.MarkBulkRequest) (*api.BulkMarkResponse, error) {
	const op = "service.MarkBulk"

	date, err := parseDate(req.Date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slot, err := s.catalog.Slot(ctx, req.SlotID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.Denied(permission.ReasonNoSchedule))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.applyBulk(ctx, actor, req.StudentIDs, slot, date,
		models.AttendanceStatus(req.Status), models.AttendanceCategory(req.Category), false, ""), nil
}

// AdminOverride is MarkBulk for override-capable roles: it ignores lock
// state, flags every written record, and requires a reason for the trail.
func (s *Service) AdminOverride(ctx context.Context, actor models.Actor, req *api.OverrideRequest) (*api.BulkMarkResponse, error) {
	const op = "service.AdminOverride"

	caps, ok := models.Capabilities[actor.Role]
	if !ok || !caps.Override {
		return nil, fmt.Errorf("%s: %w", op, response.Denied(fmt.Sprintf("role %s cannot override", actor.Role)))
	}

	if req.Reason == "" {
		return nil, fmt.Errorf("%s: %w", op, response.ErrOverrideReason)
	}

	date, err := parseDate(req.Date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slot, err := s.catalog.Slot(ctx, req.SlotID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.Denied(permission.ReasonNoSchedule))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	category := models.AttendanceCategory(req.Category)
	if category == "" {
		category = models.CategoryAcademic
	}

	s.windows.BeginOverride(slot.SlotID, date, actor.UserID)
	defer s.windows.EndOverride(slot.SlotID, date)

	return s.applyBulk(ctx, actor, req.StudentIDs, slot, date,
		models.AttendanceStatus(req.Status), category, true, req.Reason), nil
}

func (s *Service) applyBulk(ctx context.Context, actor models.Actor, studentIDs []string, slot *models.TimeSlot, date time.Time, status models.AttendanceStatus, category models.AttendanceCategory, isOverride bool, reason string) *api.BulkMarkResponse {
	result := &api.BulkMarkResponse{}

	for _, studentID := range studentIDs {
		_, err := s.markOne(ctx, actor, studentID, slot, date, status, category, isOverride, reason)
		if err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, api.BulkMarkError{
				StudentID: studentID,
				Error:     err.Error(),
			})
			continue
		}

		result.MarkedCount++
	}

	return result
}

func (s *Service) markOne(ctx context.Context, actor models.Actor, studentID string, slot *models.TimeSlot, date time.Time, status models.AttendanceStatus, category models.AttendanceCategory, forceOverride bool, reason string) (*models.AttendanceRecord, error) {
	const op = "service.markOne"

	if !status.Markable() {
		return nil, fmt.Errorf("%s: %w", op, response.ErrInvalidStatus)
	}

	if !category.Valid() {
		return nil, fmt.Errorf("%s: %w", op, response.ErrInvalidStatus)
	}

	enrolled, err := s.store.IsEnrolled(ctx, studentID, slot.Scope)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !enrolled {
		return nil, fmt.Errorf("%s: student %s is not enrolled in the slot's scope: %w", op, studentID, response.ErrInvalidKey)
	}

	key := models.RecordKey{StudentID: studentID, SlotID: slot.SlotID, Date: date.Format(models.DateLayout)}
	lockKey := lock.RecordLockKey(key)

	locked, err := s.locker.Lock(ctx, lockKey, writeLockTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: lock error: %w", op, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", op, response.ErrLocked)
	}
	defer func() {
		_ = s.locker.Unlock(ctx, lockKey)
	}()

	// Authoritative time and the permission verdict, taken under the key
	// lock. A write without a trusted timestamp fails closed as retryable.
	now, err := s.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, response.ErrClockUnavailable)
	}

	check := s.eval.Evaluate(actor, *slot, date, category, now)
	if !check.CanMark {
		return nil, fmt.Errorf("%s: %w", op, response.Denied(check.Reason))
	}

	// Any write once the window is LOCKED is an override, even through the
	// plain mark path.
	isOverride := forceOverride || !check.IsSlotOpen
	if isOverride && reason == "" {
		return nil, fmt.Errorf("%s: %w", op, response.ErrOverrideReason)
	}

	var previous models.AttendanceStatus = models.AttendanceNotMarked
	var previousID string
	if prev, err := s.store.GetRecord(ctx, key); err == nil {
		previous = prev.Status
		previousID = prev.ID
	} else if !errors.Is(err, response.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec := &models.AttendanceRecord{
		ID:             previousID,
		StudentID:      studentID,
		SlotID:         slot.SlotID,
		Date:           date,
		Status:         status,
		Category:       category,
		MarkedBy:       actor.UserID,
		MarkedByRole:   actor.Role,
		MarkedAt:       now,
		IsOverride:     isOverride,
		OverrideReason: reason,
		SubjectCode:    slot.SubjectCode,
		SubjectName:    slot.SubjectName,
		Scope:          slot.Scope,
	}

	stored, err := s.store.UpsertRecord(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if isOverride {
		entry := &models.AuditEntry{
			RecordID:       stored.ID,
			StudentID:      studentID,
			SlotID:         slot.SlotID,
			Date:           date,
			PreviousStatus: previous,
			NewStatus:      status,
			ChangedBy:      actor.UserID,
			ChangedByRole:  actor.Role,
			ChangedAt:      now,
			Reason:         reason,
		}
		if err := s.store.AppendAudit(ctx, entry); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	// Published while the key lock is still held, so subscribers observe
	// same-key events in write order.
	s.bus.Publish(pubsub.Event{Key: stored.Key(), Record: *stored})

	return stored, nil
}

// CheckPermission is the advisory check UIs use to disable controls. It is
// never trusted as authorization; Mark re-checks at write time.
func (s *Service) CheckPermission(ctx context.Context, actor models.Actor, slotID, dateStr string, category models.AttendanceCategory) (*models.PermissionCheck, error) {
	const op = "service.CheckPermission"

	date, err := parseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slot, err := s.catalog.Slot(ctx, slotID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return &models.PermissionCheck{Reason: permission.ReasonNoSchedule}, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now, err := s.clock.Now(ctx)
	if err != nil {
		// Fail closed: no cached OPEN state survives a dead clock.
		check := s.eval.EvaluateClockDown(actor, category)
		return &check, nil
	}

	check := s.eval.Evaluate(actor, *slot, date, category, now)
	return &check, nil
}

// TodaySchedule lists the scope's slots for the date with the calling
// actor's record status and marking ability per slot.
func (s *Service) TodaySchedule(ctx context.Context, actor models.Actor, scope models.Scope, dateStr string) ([]*api.DailyScheduleItem, error) {
	const op = "service.TodaySchedule"

	date, err := parseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slots, err := s.catalog.SlotsFor(ctx, scope, date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now, clockErr := s.clock.Now(ctx)

	items := make([]*api.DailyScheduleItem, 0, len(slots))
	for _, slot := range slots {
		item := &api.DailyScheduleItem{
			Slot:   slotResponse(slot),
			Status: string(models.AttendanceNotMarked),
		}

		key := models.RecordKey{StudentID: actor.UserID, SlotID: slot.SlotID, Date: date.Format(models.DateLayout)}
		if rec, err := s.store.GetRecord(ctx, key); err == nil {
			item.Status = string(rec.Status)
		}

		if clockErr != nil {
			check := s.eval.EvaluateClockDown(actor, models.CategoryAcademic)
			item.CanMark = check.CanMark
			item.LockStatus = string(models.WindowLocked)
		} else {
			check := s.eval.Evaluate(actor, slot, date, models.CategoryAcademic, now)
			item.CanMark = check.CanMark

			if state, err := s.windows.Status(slot, date, now); err == nil {
				item.LockStatus = string(state.Status)
				item.IsSlotOpen = state.Status == models.WindowOpen
			}
		}

		items = append(items, item)
	}

	return items, nil
}

// RecordsForStudent reads a student's records over a date range. Non-ViewAll
// roles may only read their own.
func (s *Service) RecordsForStudent(ctx context.Context, actor models.Actor, studentID, fromStr, toStr string) ([]*api.AttendanceRecordResponse, error) {
	const op = "service.RecordsForStudent"

	caps := models.Capabilities[actor.Role]
	if !caps.ViewAll && actor.UserID != studentID {
		return nil, fmt.Errorf("%s: %w", op, response.Denied("role "+string(actor.Role)+" may only view its own records"))
	}

	from, err := parseDate(fromStr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	to, err := parseDate(toStr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	records, err := s.store.RecordsForStudent(ctx, studentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recordResponses(records), nil
}

// RecordsForSlot reads every record for a slot on a date. Faculty may read
// slots they own; otherwise ViewAll is required.
func (s *Service) RecordsForSlot(ctx context.Context, actor models.Actor, slotID, dateStr string) ([]*api.AttendanceRecordResponse, error) {
	const op = "service.RecordsForSlot"

	date, err := parseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	caps := models.Capabilities[actor.Role]
	if !caps.ViewAll {
		slot, err := s.catalog.Slot(ctx, slotID)
		if err != nil {
			if errors.Is(err, response.ErrNotFound) {
				return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if slot.FacultyID != actor.UserID {
			return nil, fmt.Errorf("%s: %w", op, response.Denied("role "+string(actor.Role)+" may only view slots it owns"))
		}
	}

	records, err := s.store.RecordsForSlot(ctx, slotID, date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recordResponses(records), nil
}

// AuditTrail returns the override history for a slot/date. ViewAll only.
func (s *Service) AuditTrail(ctx context.Context, actor models.Actor, slotID, dateStr string) ([]*api.AuditEntryResponse, error) {
	const op = "service.AuditTrail"

	caps := models.Capabilities[actor.Role]
	if !caps.ViewAll {
		return nil, fmt.Errorf("%s: %w", op, response.Denied("role "+string(actor.Role)+" cannot view the audit trail"))
	}

	date, err := parseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entries, err := s.store.AuditForSlot(ctx, slotID, date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*api.AuditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		result = append(result, &api.AuditEntryResponse{
			ID:             entry.ID,
			RecordID:       entry.RecordID,
			StudentID:      entry.StudentID,
			SlotID:         entry.SlotID,
			Date:           entry.Date.Format(models.DateLayout),
			PreviousStatus: string(entry.PreviousStatus),
			NewStatus:      string(entry.NewStatus),
			ChangedBy:      entry.ChangedBy,
			ChangedByRole:  string(entry.ChangedByRole),
			ChangedAt:      entry.ChangedAt,
			Reason:         entry.Reason,
		})
	}

	return result, nil
}

// RollingSummary recomputes the student's rolling-window summary from the
// ledger. Recompute-on-demand is the only update path; there is no counter
// to keep consistent.
func (s *Service) RollingSummary(ctx context.Context, actor models.Actor, studentID string, scope models.Scope, windowWeeks int) (*models.StudentAttendanceSummary, error) {
	const op = "service.RollingSummary"

	if windowWeeks <= 0 {
		windowWeeks = s.windowWeeks
	}

	records, err := s.windowRecords(ctx, actor, studentID, scope, windowWeeks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	summary := aggregate.Summarize(studentID, windowWeeks, records)
	return &summary, nil
}

// SubjectSummaries recomputes per-subject summaries over the default window.
func (s *Service) SubjectSummaries(ctx context.Context, actor models.Actor, studentID string, scope models.Scope) ([]models.SubjectAttendanceSummary, error) {
	const op = "service.SubjectSummaries"

	records, err := s.windowRecords(ctx, actor, studentID, scope, s.windowWeeks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return aggregate.BySubject(records), nil
}

func (s *Service) windowRecords(ctx context.Context, actor models.Actor, studentID string, scope models.Scope, windowWeeks int) ([]models.AttendanceRecord, error) {
	caps := models.Capabilities[actor.Role]
	if !caps.ViewAll && actor.UserID != studentID {
		return nil, response.Denied("role " + string(actor.Role) + " may only view its own summaries")
	}

	now, err := s.clock.Now(ctx)
	if err != nil {
		return nil, response.ErrClockUnavailable
	}

	from := now.AddDate(0, 0, -windowWeeks*7)

	records, err := s.store.RecordsForStudent(ctx, studentID, from, now)
	if err != nil {
		return nil, err
	}

	scoped := records[:0]
	for _, rec := range records {
		if rec.Scope == scope {
			scoped = append(scoped, rec)
		}
	}

	return scoped, nil
}

func slotResponse(slot models.TimeSlot) api.SlotResponse {
	return api.SlotResponse{
		SlotID:      slot.SlotID,
		SlotNumber:  slot.SlotNumber,
		StartTime:   slot.StartTime,
		EndTime:     slot.EndTime,
		SubjectCode: slot.SubjectCode,
		SubjectName: slot.SubjectName,
		FacultyID:   slot.FacultyID,
		Section:     slot.Section,
		Branch:      slot.Branch,
		Year:        slot.Year,
	}
}

func recordResponse(rec *models.AttendanceRecord) *api.AttendanceRecordResponse {
	return &api.AttendanceRecordResponse{
		ID:             rec.ID,
		StudentID:      rec.StudentID,
		SlotID:         rec.SlotID,
		Date:           rec.Date.Format(models.DateLayout),
		Status:         string(rec.Status),
		Category:       string(rec.Category),
		MarkedBy:       rec.MarkedBy,
		MarkedByRole:   string(rec.MarkedByRole),
		MarkedAt:       rec.MarkedAt,
		IsOverride:     rec.IsOverride,
		OverrideReason: rec.OverrideReason,
		SubjectCode:    rec.SubjectCode,
		SubjectName:    rec.SubjectName,
		Section:        rec.Section,
		Branch:         rec.Branch,
		Year:           rec.Year,
	}
}

func recordResponses(records []models.AttendanceRecord) []*api.AttendanceRecordResponse {
	result := make([]*api.AttendanceRecordResponse, 0, len(records))
	for i := range records {
		result = append(result, recordResponse(&records[i]))
	}

	return result
}
