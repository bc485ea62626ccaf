package permission

import (
	"strings"
	"testing"
	"time"

	"attendance-service/internal/models"
	"attendance-service/internal/window"
)

var testScope = models.Scope{Section: "A", Branch: "CSE", Year: "3"}

// Monday 2026-03-02, slot 09:00-10:00, lock buffer 15m.
func testSlot() models.TimeSlot {
	return models.TimeSlot{
		SlotID:      "slot-1",
		SlotNumber:  1,
		Weekday:     1,
		StartTime:   "09:00",
		EndTime:     "10:00",
		SubjectCode: "CS101",
		SubjectName: "Data Structures",
		FacultyID:   "fac-1",
		Scope:       testScope,
	}
}

func testDate() time.Time {
	return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func newEvaluator() *Evaluator {
	return New(window.NewController(15 * time.Minute))
}

func TestEvaluate_RoleMatrix(t *testing.T) {
	// hasPermission must reproduce the role table exactly, independent of
	// window state.
	tests := []struct {
		role models.Role
		want map[models.AttendanceCategory]bool
	}{
		{models.RoleAdmin, map[models.AttendanceCategory]bool{
			models.CategoryAcademic: true, models.CategoryEvent: true,
			models.CategorySports: true, models.CategoryClub: true,
		}},
		{models.RoleSubAdmin, map[models.AttendanceCategory]bool{
			models.CategoryAcademic: true, models.CategoryEvent: true,
			models.CategorySports: true, models.CategoryClub: true,
		}},
		{models.RoleFaculty, map[models.AttendanceCategory]bool{
			models.CategoryAcademic: true, models.CategoryEvent: false,
			models.CategorySports: false, models.CategoryClub: false,
		}},
		{models.RoleCoordinator, map[models.AttendanceCategory]bool{
			models.CategoryAcademic: false, models.CategoryEvent: true,
			models.CategorySports: true, models.CategoryClub: true,
		}},
		{models.RoleStudent, map[models.AttendanceCategory]bool{
			models.CategoryAcademic: false, models.CategoryEvent: false,
			models.CategorySports: false, models.CategoryClub: false,
		}},
	}

	eval := newEvaluator()
	slot := testSlot()

	for _, tt := range tests {
		for category, want := range tt.want {
			actor := models.Actor{UserID: "u-1", Role: tt.role}

			check := eval.Evaluate(actor, slot, testDate(), category, at(9, 30))
			if check.HasPermission != want {
				t.Errorf("role %s category %s: hasPermission = %v, want %v",
					tt.role, category, check.HasPermission, want)
			}

			if !want && check.CanMark {
				t.Errorf("role %s category %s: canMark granted without capability", tt.role, category)
			}
		}
	}
}

func TestEvaluate_WindowBoundary(t *testing.T) {
	eval := newEvaluator()
	slot := testSlot()
	faculty := models.Actor{UserID: "fac-1", Role: models.RoleFaculty}

	// 10:14 is inside end+buffer, 10:16 is past it.
	check := eval.Evaluate(faculty, slot, testDate(), models.CategoryAcademic, at(10, 14))
	if !check.CanMark {
		t.Fatalf("faculty at 10:14: expected canMark, got denied with %q", check.Reason)
	}
	if !check.IsTimeValid || !check.IsSlotOpen {
		t.Errorf("faculty at 10:14: isTimeValid=%v isSlotOpen=%v, want both true",
			check.IsTimeValid, check.IsSlotOpen)
	}

	check = eval.Evaluate(faculty, slot, testDate(), models.CategoryAcademic, at(10, 16))
	if check.CanMark {
		t.Fatal("faculty at 10:16: expected denial")
	}
	if check.Reason != ReasonWindowClosed {
		t.Errorf("faculty at 10:16: reason = %q, want %q", check.Reason, ReasonWindowClosed)
	}

	admin := models.Actor{UserID: "adm-1", Role: models.RoleAdmin}
	check = eval.Evaluate(admin, slot, testDate(), models.CategoryAcademic, at(10, 16))
	if !check.CanMark {
		t.Fatalf("admin at 10:16: expected canMark, got denied with %q", check.Reason)
	}
	if check.IsSlotOpen {
		t.Error("admin at 10:16: window should read as closed even when marking is allowed")
	}
}

func TestEvaluate_BeforeWindowOpens(t *testing.T) {
	eval := newEvaluator()
	faculty := models.Actor{UserID: "fac-1", Role: models.RoleFaculty}

	check := eval.Evaluate(faculty, testSlot(), testDate(), models.CategoryAcademic, at(8, 45))
	if check.CanMark {
		t.Fatal("faculty before start: expected denial")
	}
	if check.Reason != ReasonWindowNotOpen {
		t.Errorf("reason = %q, want %q", check.Reason, ReasonWindowNotOpen)
	}
}

func TestEvaluate_NonTimeBoundBypassesWindow(t *testing.T) {
	eval := newEvaluator()
	coordinator := models.Actor{UserID: "coo-1", Role: models.RoleCoordinator}

	// Coordinator is not time-bound; before start the window is still open
	// (not yet locked), so the mark goes through.
	check := eval.Evaluate(coordinator, testSlot(), testDate(), models.CategoryEvent, at(8, 0))
	if !check.CanMark {
		t.Fatalf("coordinator at 08:00: expected canMark, got denied with %q", check.Reason)
	}
}

func TestEvaluate_WrongRoleReasonNamesCapability(t *testing.T) {
	eval := newEvaluator()
	faculty := models.Actor{UserID: "fac-1", Role: models.RoleFaculty}

	check := eval.Evaluate(faculty, testSlot(), testDate(), models.CategorySports, at(9, 30))
	if check.HasPermission {
		t.Fatal("faculty marking sports: expected no permission")
	}
	if !strings.Contains(check.Reason, "SPORTS") {
		t.Errorf("reason %q should name the missing capability", check.Reason)
	}
}

func TestEvaluateClockDown_FailsClosed(t *testing.T) {
	eval := newEvaluator()

	faculty := models.Actor{UserID: "fac-1", Role: models.RoleFaculty}
	check := eval.EvaluateClockDown(faculty, models.CategoryAcademic)
	if check.CanMark {
		t.Fatal("clock down: non-override role must not be able to mark")
	}
	if check.Reason != ReasonClockDown {
		t.Errorf("reason = %q, want %q", check.Reason, ReasonClockDown)
	}

	admin := models.Actor{UserID: "adm-1", Role: models.RoleAdmin}
	check = eval.EvaluateClockDown(admin, models.CategoryAcademic)
	if !check.CanMark {
		t.Fatal("clock down: override-capable role keeps its advisory canMark")
	}
}
