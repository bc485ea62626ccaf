package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attendance-service/api"
	"attendance-service/internal/catalog"
	"attendance-service/internal/clock"
	"attendance-service/internal/lock"
	"attendance-service/internal/models"
	"attendance-service/internal/pubsub"
	"attendance-service/internal/storage/memory"
	"attendance-service/internal/window"
	"attendance-service/pkg/response"
)

var testScope = models.Scope{Section: "A", Branch: "CSE", Year: "3"}

const testDate = "2026-03-02" // a Monday

var (
	facultyActor = models.Actor{UserID: "fac-1", Role: models.RoleFaculty, Section: "A", Branch: "CSE", Year: "3"}
	adminActor   = models.Actor{UserID: "adm-1", Role: models.RoleAdmin}
	studentActor = models.Actor{UserID: "stu-1", Role: models.RoleStudent, Section: "A", Branch: "CSE", Year: "3"}
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func setupTestService(t *testing.T, now time.Time) (*Service, *memory.Storage, *clock.Manual) {
	t.Helper()

	store := memory.New()
	store.AddSlot(models.TimeSlot{
		SlotID:      "slot-1",
		SlotNumber:  1,
		Weekday:     1,
		StartTime:   "09:00",
		EndTime:     "10:00",
		SubjectCode: "CS101",
		SubjectName: "Data Structures",
		FacultyID:   "fac-1",
		Scope:       testScope,
	})
	store.AddSlot(models.TimeSlot{
		SlotID:      "slot-2",
		SlotNumber:  2,
		Weekday:     1,
		StartTime:   "10:00",
		EndTime:     "11:00",
		SubjectCode: "MA102",
		SubjectName: "Linear Algebra",
		FacultyID:   "fac-2",
		Scope:       testScope,
	})
	store.Enroll("stu-1", testScope)
	store.Enroll("stu-2", testScope)
	store.Enroll("stu-3", testScope)

	clk := clock.NewManual(now)
	cat := catalog.New(store, time.Second)
	windows := window.NewController(15 * time.Minute)
	bus := pubsub.NewBus()

	service := NewService(store, cat, clk, lock.NewMemoryLock(), windows, bus, 4)

	return service, store, clk
}

func markReq(studentID, status string) *api.MarkRequest {
	return &api.MarkRequest{
		StudentID: studentID,
		SlotID:    "slot-1",
		Date:      testDate,
		Status:    status,
		Category:  "ACADEMIC",
	}
}

func TestMark_IdempotentUpsert(t *testing.T) {
	service, store, _ := setupTestService(t, at(9, 30))
	ctx := context.Background()

	first, err := service.Mark(ctx, facultyActor, markReq("stu-1", "PRESENT"))
	if err != nil {
		t.Fatalf("first mark failed: %v", err)
	}

	second, err := service.Mark(ctx, facultyActor, markReq("stu-1", "ABSENT"))
	if err != nil {
		t.Fatalf("second mark failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("second write created a new row: %s vs %s", second.ID, first.ID)
	}
	if second.Status != "ABSENT" {
		t.Errorf("status = %s, want the latest write", second.Status)
	}

	records, err := store.RecordsForSlot(ctx, "slot-1", at(0, 0))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records for the key, want exactly 1", len(records))
	}
	if records[0].Status != models.AttendanceAbsent {
		t.Errorf("stored status = %s, want ABSENT", records[0].Status)
	}
}

func TestMark_WindowBoundary(t *testing.T) {
	service, _, clk := setupTestService(t, at(10, 14))
	ctx := context.Background()

	if _, err := service.Mark(ctx, facultyActor, markReq("stu-1", "PRESENT")); err != nil {
		t.Fatalf("faculty at 10:14 should succeed: %v", err)
	}

	clk.Set(at(10, 16))

	_, err := service.Mark(ctx, facultyActor, markReq("stu-2", "PRESENT"))
	if !errors.Is(err, response.ErrPermissionDenied) {
		t.Fatalf("faculty at 10:16: got %v, want PermissionDenied", err)
	}

	var permErr *response.PermissionError
	if !errors.As(err, &permErr) {
		t.Fatal("denial must carry a human-readable reason")
	}
	if permErr.Reason != "marking window is closed" {
		t.Errorf("reason = %q, want the window-closed wording", permErr.Reason)
	}
}

func TestAdminOverride_AfterLock(t *testing.T) {
	service, store, _ := setupTestService(t, at(10, 16))
	ctx := context.Background()

	result, err := service.AdminOverride(ctx, adminActor, &api.OverrideRequest{
		StudentIDs: []string{"stu-1"},
		SlotID:     "slot-1",
		Date:       testDate,
		Status:     "PRESENT",
		Reason:     "projector failure, class held in lab",
	})
	if err != nil {
		t.Fatalf("admin override at 10:16 should succeed: %v", err)
	}
	if result.MarkedCount != 1 || result.FailedCount != 0 {
		t.Fatalf("marked=%d failed=%d, want 1/0", result.MarkedCount, result.FailedCount)
	}

	key := models.RecordKey{StudentID: "stu-1", SlotID: "slot-1", Date: testDate}
	rec, err := store.GetRecord(ctx, key)
	if err != nil {
		t.Fatalf("record not retrievable: %v", err)
	}
	if !rec.IsOverride {
		t.Error("record written past the lock must be flagged isOverride")
	}
	if rec.OverrideReason == "" {
		t.Error("override record must carry its reason")
	}

	entries, err := store.AuditForSlot(ctx, "slot-1", at(0, 0))
	if err != nil {
		t.Fatalf("audit read failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
	if entries[0].PreviousStatus != models.AttendanceNotMarked {
		t.Errorf("previous status = %s, want NOT_MARKED for a first write", entries[0].PreviousStatus)
	}
}

func TestAdminOverride_RequiresReason(t *testing.T) {
	service, _, _ := setupTestService(t, at(10, 16))

	_, err := service.AdminOverride(context.Background(), adminActor, &api.OverrideRequest{
		StudentIDs: []string{"stu-1"},
		SlotID:     "slot-1",
		Date:       testDate,
		Status:     "PRESENT",
	})
	if !errors.Is(err, response.ErrOverrideReason) {
		t.Fatalf("got %v, want ErrOverrideReason", err)
	}
}

func TestMark_AdminPastLockNeedsOverridePath(t *testing.T) {
	service, _, _ := setupTestService(t, at(10, 16))

	// The plain mark path cannot supply a reason, so a locked-window write
	// by an override-capable role is rejected at the ledger boundary.
	_, err := service.Mark(context.Background(), adminActor, markReq("stu-1", "PRESENT"))
	if !errors.Is(err, response.ErrOverrideReason) {
		t.Fatalf("got %v, want ErrOverrideReason", err)
	}
}

func TestMark_PermissionRecheckedAtWriteTime(t *testing.T) {
	service, _, clk := setupTestService(t, at(10, 14))
	ctx := context.Background()

	check, err := service.CheckPermission(ctx, facultyActor, "slot-1", testDate, models.CategoryAcademic)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !check.CanMark {
		t.Fatalf("advisory check at 10:14 should allow marking, reason %q", check.Reason)
	}

	// Window locks between the advisory check and the write.
	clk.Set(at(10, 20))

	_, err = service.Mark(ctx, facultyActor, markReq("stu-1", "PRESENT"))
	if !errors.Is(err, response.ErrPermissionDenied) {
		t.Fatalf("stale advisory check must not authorize the write, got %v", err)
	}
}

func TestMark_ClockDownFailsClosed(t *testing.T) {
	service, _, clk := setupTestService(t, at(9, 30))
	ctx := context.Background()

	clk.SetFailing(true)

	_, err := service.Mark(ctx, facultyActor, markReq("stu-1", "PRESENT"))
	if !errors.Is(err, response.ErrClockUnavailable) {
		t.Fatalf("got %v, want ErrClockUnavailable", err)
	}

	check, err := service.CheckPermission(ctx, facultyActor, "slot-1", testDate, models.CategoryAcademic)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if check.CanMark {
		t.Fatal("clock down: advisory check must fail closed for a non-override role")
	}
}

func TestMarkBulk_PartialFailure(t *testing.T) {
	service, store, _ := setupTestService(t, at(9, 30))
	ctx := context.Background()

	result, err := service.MarkBulk(ctx, facultyActor, &api.MarkBulkRequest{
		StudentIDs: []string{"stu-1", "stu-2", "ghost-1", "stu-3", "ghost-2"},
		SlotID:     "slot-1",
		Date:       testDate,
		Status:     "PRESENT",
		Category:   "ACADEMIC",
	})
	if err != nil {
		t.Fatalf("bulk mark must not fail outright: %v", err)
	}

	if result.MarkedCount != 3 {
		t.Errorf("markedCount = %d, want 3", result.MarkedCount)
	}
	if result.FailedCount != 2 {
		t.Errorf("failedCount = %d, want 2", result.FailedCount)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("got %d errors, want 2", len(result.Errors))
	}
	for _, failed := range result.Errors {
		if failed.StudentID != "ghost-1" && failed.StudentID != "ghost-2" {
			t.Errorf("unexpected failed student %s", failed.StudentID)
		}
	}

	// The successful writes are individually retrievable.
	for _, studentID := range []string{"stu-1", "stu-2", "stu-3"} {
		key := models.RecordKey{StudentID: studentID, SlotID: "slot-1", Date: testDate}
		if _, err := store.GetRecord(ctx, key); err != nil {
			t.Errorf("record for %s not retrievable: %v", studentID, err)
		}
	}
}

func TestMark_InvalidStatus(t *testing.T) {
	service, _, _ := setupTestService(t, at(9, 30))

	_, err := service.Mark(context.Background(), facultyActor, markReq("stu-1", "NOT_MARKED"))
	if !errors.Is(err, response.ErrInvalidStatus) {
		t.Fatalf("got %v, want ErrInvalidStatus", err)
	}
}

func TestMark_ConcurrentSameKey(t *testing.T) {
	service, store, _ := setupTestService(t, at(9, 30))
	ctx := context.Background()

	statuses := []string{"PRESENT", "ABSENT"}

	var wg sync.WaitGroup
	for _, status := range statuses {
		wg.Add(1)
		go func(status string) {
			defer wg.Done()

			// The per-key lock is non-blocking; losers retry.
			for {
				_, err := service.Mark(ctx, facultyActor, markReq("stu-1", status))
				if err == nil {
					return
				}
				if !errors.Is(err, response.ErrLocked) {
					t.Errorf("mark %s: unexpected error %v", status, err)
					return
				}
			}
		}(status)
	}
	wg.Wait()

	records, err := store.RecordsForSlot(ctx, "slot-1", at(0, 0))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want exactly 1", len(records))
	}

	final := string(records[0].Status)
	if final != "PRESENT" && final != "ABSENT" {
		t.Errorf("final status %s is neither submitted value", final)
	}
}

func TestMark_NotifiesInWriteOrder(t *testing.T) {
	service, _, _ := setupTestService(t, at(9, 30))
	ctx := context.Background()

	var mu sync.Mutex
	var seen []models.AttendanceStatus

	date, _ := time.Parse(models.DateLayout, testDate)
	unsubscribe := service.Bus().SubscribeSlot("slot-1", date, func(e pubsub.Event) {
		mu.Lock()
		seen = append(seen, e.Record.Status)
		mu.Unlock()
	})
	defer unsubscribe()

	if _, err := service.Mark(ctx, facultyActor, markReq("stu-1", "PRESENT")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := service.Mark(ctx, facultyActor, markReq("stu-1", "LATE")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(seen) != 2 {
		t.Fatalf("got %d events, want 2", len(seen))
	}
	if seen[0] != models.AttendancePresent || seen[1] != models.AttendanceLate {
		t.Errorf("events out of write order: %v", seen)
	}
}

func TestTodaySchedule(t *testing.T) {
	service, _, _ := setupTestService(t, at(9, 30))
	ctx := context.Background()

	if _, err := service.Mark(ctx, facultyActor, markReq("stu-1", "PRESENT")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	schedule, err := service.TodaySchedule(ctx, studentActor, testScope, testDate)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if len(schedule) != 2 {
		t.Fatalf("got %d slots, want 2", len(schedule))
	}

	// Ordered by slot number; the student's own record status is attached.
	if schedule[0].Slot.SlotID != "slot-1" || schedule[1].Slot.SlotID != "slot-2" {
		t.Errorf("slots out of order: %s, %s", schedule[0].Slot.SlotID, schedule[1].Slot.SlotID)
	}
	if schedule[0].Status != "PRESENT" {
		t.Errorf("slot-1 status = %s, want the student's mark", schedule[0].Status)
	}
	if schedule[1].Status != "NOT_MARKED" {
		t.Errorf("slot-2 status = %s, want NOT_MARKED with no record", schedule[1].Status)
	}
	if schedule[0].CanMark {
		t.Error("students can never mark")
	}
	if !schedule[0].IsSlotOpen {
		t.Error("slot-1 should read open at 09:30")
	}

	// A scope with no schedule yields an empty day, not an error.
	other := models.Scope{Section: "Z", Branch: "ME", Year: "1"}
	schedule, err = service.TodaySchedule(ctx, adminActor, other, testDate)
	if err != nil {
		t.Fatalf("empty schedule must not error: %v", err)
	}
	if len(schedule) != 0 {
		t.Errorf("got %d slots, want 0", len(schedule))
	}
}

func TestRollingSummary_TrimsWindow(t *testing.T) {
	service, store, _ := setupTestService(t, at(9, 30))
	ctx := context.Background()

	// One record inside the 4-week window, one well outside it.
	inside := models.AttendanceRecord{
		StudentID: "stu-1", SlotID: "slot-1",
		Date:        at(0, 0).AddDate(0, 0, -7),
		Status:      models.AttendancePresent,
		Category:    models.CategoryAcademic,
		SubjectCode: "CS101",
		Scope:       testScope,
	}
	outside := inside
	outside.Date = at(0, 0).AddDate(0, 0, -60)
	outside.Status = models.AttendanceAbsent
	outside.SlotID = "slot-2"

	if _, err := store.UpsertRecord(ctx, &inside); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := store.UpsertRecord(ctx, &outside); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	summary, err := service.RollingSummary(ctx, studentActor, "stu-1", testScope, 4)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}

	if summary.TotalClasses != 1 {
		t.Errorf("totalClasses = %d, want 1: stale records must fall out of the window", summary.TotalClasses)
	}
	if summary.Percentage != 100 {
		t.Errorf("percentage = %d, want 100", summary.Percentage)
	}
}

func TestRecordsForStudent_ScopedToSelf(t *testing.T) {
	service, _, _ := setupTestService(t, at(9, 30))
	ctx := context.Background()

	_, err := service.RecordsForStudent(ctx, studentActor, "stu-2", testDate, testDate)
	if !errors.Is(err, response.ErrPermissionDenied) {
		t.Fatalf("student reading another student: got %v, want PermissionDenied", err)
	}

	if _, err := service.RecordsForStudent(ctx, studentActor, "stu-1", testDate, testDate); err != nil {
		t.Errorf("student reading own records should succeed: %v", err)
	}

	if _, err := service.RecordsForStudent(ctx, adminActor, "stu-2", testDate, testDate); err != nil {
		t.Errorf("ViewAll role should read any student: %v", err)
	}
}

func TestAuditTrail_ViewAllOnly(t *testing.T) {
	service, _, _ := setupTestService(t, at(9, 30))
	ctx := context.Background()

	_, err := service.AuditTrail(ctx, facultyActor, "slot-1", testDate)
	if !errors.Is(err, response.ErrPermissionDenied) {
		t.Fatalf("faculty reading the audit trail: got %v, want PermissionDenied", err)
	}

	if _, err := service.AuditTrail(ctx, adminActor, "slot-1", testDate); err != nil {
		t.Errorf("admin reading the audit trail should succeed: %v", err)
	}
}
