package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"attendance-service/internal/models"
	"attendance-service/pkg/response"
)

type fakeStore struct {
	slots   map[string]models.TimeSlot
	failing bool
}

func (f *fakeStore) SlotsForScope(ctx context.Context, scope models.Scope, weekday int) ([]models.TimeSlot, error) {
	if f.failing {
		return nil, errors.New("connection refused")
	}

	var out []models.TimeSlot
	for _, slot := range f.slots {
		if slot.Scope == scope && slot.Weekday == weekday {
			out = append(out, slot)
		}
	}

	return out, nil
}

func (f *fakeStore) GetSlot(ctx context.Context, slotID string) (*models.TimeSlot, error) {
	if f.failing {
		return nil, errors.New("connection refused")
	}

	slot, ok := f.slots[slotID]
	if !ok {
		return nil, response.ErrNotFound
	}

	return &slot, nil
}

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newFakeStore() *fakeStore {
	return &fakeStore{slots: map[string]models.TimeSlot{
		"slot-1": {
			SlotID:    "slot-1",
			Weekday:   1,
			StartTime: "09:00",
			EndTime:   "10:00",
			Scope:     models.Scope{Section: "A", Branch: "CSE", Year: "3"},
		},
	}}
}

func TestSlotsFor_EmptyScheduleIsNotAnError(t *testing.T) {
	cat := New(newFakeStore(), time.Second)

	slots, err := cat.SlotsFor(context.Background(), models.Scope{Section: "Z", Branch: "ME", Year: "1"}, monday)
	if err != nil {
		t.Fatalf("empty schedule must not error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("got %d slots, want 0", len(slots))
	}
}

func TestSlotsFor_LastKnownGoodFallback(t *testing.T) {
	store := newFakeStore()
	cat := New(store, time.Second)
	scope := models.Scope{Section: "A", Branch: "CSE", Year: "3"}

	slots, err := cat.SlotsFor(context.Background(), scope, monday)
	if err != nil {
		t.Fatalf("warm-up read failed: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1", len(slots))
	}

	store.failing = true

	slots, err = cat.SlotsFor(context.Background(), scope, monday)
	if err != nil {
		t.Fatalf("cached answer should mask the outage: %v", err)
	}
	if len(slots) != 1 || slots[0].SlotID != "slot-1" {
		t.Errorf("cached answer mismatch: %v", slots)
	}
}

func TestSlotsFor_ColdCacheSurfacesOutage(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	cat := New(store, time.Second)

	_, err := cat.SlotsFor(context.Background(), models.Scope{Section: "A", Branch: "CSE", Year: "3"}, monday)
	if !errors.Is(err, response.ErrCatalogUnavailable) {
		t.Fatalf("got %v, want ErrCatalogUnavailable", err)
	}
}

func TestSlot_NotFoundPassesThrough(t *testing.T) {
	cat := New(newFakeStore(), time.Second)

	_, err := cat.Slot(context.Background(), "no-such-slot")
	if !errors.Is(err, response.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSlot_FallbackAfterListWarmUp(t *testing.T) {
	store := newFakeStore()
	cat := New(store, time.Second)

	// A scope listing also warms the per-slot cache.
	if _, err := cat.SlotsFor(context.Background(), models.Scope{Section: "A", Branch: "CSE", Year: "3"}, monday); err != nil {
		t.Fatalf("warm-up read failed: %v", err)
	}

	store.failing = true

	slot, err := cat.Slot(context.Background(), "slot-1")
	if err != nil {
		t.Fatalf("cached slot should mask the outage: %v", err)
	}
	if slot.SlotID != "slot-1" {
		t.Errorf("slot id = %s", slot.SlotID)
	}
}
