package window

import (
	"testing"
	"time"

	"attendance-service/internal/models"
)

func testSlot() models.TimeSlot {
	return models.TimeSlot{
		SlotID:    "slot-1",
		Weekday:   1,
		StartTime: "09:00",
		EndTime:   "10:00",
	}
}

func testDate() time.Time {
	return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func TestStatus_OpenUntilBufferExpires(t *testing.T) {
	c := NewController(15 * time.Minute)
	slot := testSlot()

	tests := []struct {
		name string
		now  time.Time
		want models.LockStatus
	}{
		{"before start", at(8, 0), models.WindowOpen},
		{"during slot", at(9, 30), models.WindowOpen},
		{"at end", at(10, 0), models.WindowOpen},
		{"inside buffer", at(10, 14), models.WindowOpen},
		{"at buffer edge", at(10, 15), models.WindowLocked},
		{"past buffer", at(10, 16), models.WindowLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := c.Status(slot, testDate(), tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if state.Status != tt.want {
				t.Errorf("status = %s, want %s", state.Status, tt.want)
			}
		})
	}
}

func TestStatus_LockedAtRecordedOnce(t *testing.T) {
	c := NewController(15 * time.Minute)
	slot := testSlot()

	first, err := c.Status(slot, testDate(), at(10, 20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.LockedAt == nil {
		t.Fatal("lockedAt not populated on first LOCKED observation")
	}

	second, err := c.Status(slot, testDate(), at(11, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.LockedAt == nil || !second.LockedAt.Equal(*first.LockedAt) {
		t.Error("lockedAt must stick to the first observation, not move with later reads")
	}
}

func TestStatus_OverrideAnnotation(t *testing.T) {
	c := NewController(15 * time.Minute)
	slot := testSlot()
	date := testDate()

	c.BeginOverride(slot.SlotID, date, "adm-1")

	state, err := c.Status(slot, date, at(10, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != models.WindowOverride {
		t.Fatalf("status = %s, want OVERRIDE while a write is in flight", state.Status)
	}
	if state.LockedBy != "adm-1" {
		t.Errorf("lockedBy = %q, want the override actor", state.LockedBy)
	}

	c.EndOverride(slot.SlotID, date)

	state, err = c.Status(slot, date, at(10, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != models.WindowLocked {
		t.Errorf("status = %s, want LOCKED after the override clears", state.Status)
	}
}

func TestStatus_OverrideDoesNotTouchOpenWindow(t *testing.T) {
	c := NewController(15 * time.Minute)
	slot := testSlot()
	date := testDate()

	c.BeginOverride(slot.SlotID, date, "adm-1")
	defer c.EndOverride(slot.SlotID, date)

	state, err := c.Status(slot, date, at(9, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != models.WindowOpen {
		t.Errorf("status = %s, want OPEN: the annotation only applies once locked", state.Status)
	}
}

func TestBounds_InvalidTime(t *testing.T) {
	slot := testSlot()
	slot.EndTime = "not-a-time"

	if _, _, err := Bounds(slot, testDate()); err == nil {
		t.Fatal("expected an error for an unparseable end time")
	}
}
