package window

import (
	"fmt"
	"sync"
	"time"

	"attendance-service/internal/models"
)

// DefaultLockBuffer is the grace period after a slot's end time during which
// marking stays OPEN.
const DefaultLockBuffer = 15 * time.Minute

type stateKey struct {
	slotID string
	date   string
}

// Controller owns lock-state transitions. OPEN vs LOCKED is always recomputed
// from slot end time plus buffer against server time; the maps below only
// annotate when a lock was first observed and whether an override write is in
// flight, they never gate anything.
type Controller struct {
	lockBuffer time.Duration

	mu        sync.Mutex
	lockedAt  map[stateKey]lockedInfo
	overrides map[stateKey]string
}

type lockedInfo struct {
	at time.Time
	by string
}

func NewController(lockBuffer time.Duration) *Controller {
	if lockBuffer <= 0 {
		lockBuffer = DefaultLockBuffer
	}

	return &Controller{
		lockBuffer: lockBuffer,
		lockedAt:   make(map[stateKey]lockedInfo),
		overrides:  make(map[stateKey]string),
	}
}

func (c *Controller) LockBuffer() time.Duration {
	return c.lockBuffer
}

// Bounds resolves the slot's time-of-day strings onto the given date.
func Bounds(slot models.TimeSlot, date time.Time) (start, end time.Time, err error) {
	const op = "window.Bounds"

	startTOD, err := parseTimeOfDay(slot.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%s: invalid start_time: %w", op, err)
	}

	endTOD, err := parseTimeOfDay(slot.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%s: invalid end_time: %w", op, err)
	}

	loc := date.Location()
	start = time.Date(date.Year(), date.Month(), date.Day(), startTOD.Hour(), startTOD.Minute(), startTOD.Second(), 0, loc)
	end = time.Date(date.Year(), date.Month(), date.Day(), endTOD.Hour(), endTOD.Minute(), endTOD.Second(), 0, loc)

	return start, end, nil
}

// Postgres TIME columns scan as "15:04:05"; config and requests use "15:04".
func parseTimeOfDay(s string) (time.Time, error) {
	if t, err := time.Parse("15:04:05", s); err == nil {
		return t, nil
	}
	return time.Parse("15:04", s)
}

// Status computes the lock state for (slot, date) at the given server time.
// The OPEN to LOCKED transition is purely time-driven.
func (c *Controller) Status(slot models.TimeSlot, date time.Time, now time.Time) (models.SlotLockState, error) {
	const op = "window.Controller.Status"

	key := stateKey{slotID: slot.SlotID, date: date.Format(models.DateLayout)}

	state := models.SlotLockState{
		SlotID: slot.SlotID,
		Date:   key.date,
	}

	_, end, err := Bounds(slot, date)
	if err != nil {
		return state, fmt.Errorf("%s: %w", op, err)
	}

	locksAt := end.Add(c.lockBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Before(locksAt) {
		state.Status = models.WindowOpen
		delete(c.lockedAt, key)
		return state, nil
	}

	info, ok := c.lockedAt[key]
	if !ok {
		info = lockedInfo{at: now, by: "system"}
		c.lockedAt[key] = info
	}

	state.Status = models.WindowLocked
	at := info.at
	state.LockedAt = &at
	state.LockedBy = info.by

	if actor, ok := c.overrides[key]; ok {
		state.Status = models.WindowOverride
		state.LockedBy = actor
	}

	return state, nil
}

// BeginOverride annotates an in-flight override write for audit purposes.
// It does not gate anything; gating always reduces to OPEN/LOCKED.
func (c *Controller) BeginOverride(slotID string, date time.Time, actorID string) {
	key := stateKey{slotID: slotID, date: date.Format(models.DateLayout)}

	c.mu.Lock()
	c.overrides[key] = actorID
	c.mu.Unlock()
}

func (c *Controller) EndOverride(slotID string, date time.Time) {
	key := stateKey{slotID: slotID, date: date.Format(models.DateLayout)}

	c.mu.Lock()
	delete(c.overrides, key)
	c.mu.Unlock()
}
