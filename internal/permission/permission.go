package permission

import (
	"fmt"
	"time"

	"attendance-service/internal/models"
	"attendance-service/internal/window"
)

// Evaluation reasons surfaced to callers. Each one maps to a different
// corrective action, so they are never collapsed into a generic denial.
const (
	ReasonUnknownRole   = "unknown role"
	ReasonWindowNotOpen = "marking window has not opened yet"
	ReasonWindowClosed  = "marking window is closed"
	ReasonClockDown     = "server time unavailable"
	ReasonNoSchedule    = "no schedule for this slot today"
	ReasonInvalidWindow = "slot has an invalid time window"
)

// Evaluator decides whether a marking action is currently allowed. It grants
// or denies only; audit requirements on override writes are enforced at the
// ledger boundary.
type Evaluator struct {
	windows *window.Controller
}

func New(windows *window.Controller) *Evaluator {
	return &Evaluator{windows: windows}
}

// Evaluate applies, in order: the role capability check, the lock-state
// check, and the marking-window check for time-bound roles. now must come
// from the clock source, never from the caller.
func (e *Evaluator) Evaluate(actor models.Actor, slot models.TimeSlot, date time.Time, category models.AttendanceCategory, now time.Time) models.PermissionCheck {
	caps, ok := models.Capabilities[actor.Role]
	if !ok {
		return models.PermissionCheck{Reason: ReasonUnknownRole}
	}

	check := models.PermissionCheck{}

	if !caps.CanMark(category) {
		check.Reason = fmt.Sprintf("role %s cannot mark %s attendance", actor.Role, category)
		return check
	}
	check.HasPermission = true

	state, err := e.windows.Status(slot, date, now)
	if err != nil {
		check.Reason = ReasonInvalidWindow
		return check
	}

	// OVERRIDE is an audit annotation; for gating it reads as LOCKED.
	check.IsSlotOpen = state.Status == models.WindowOpen

	if !check.IsSlotOpen && !caps.Override {
		check.Reason = ReasonWindowClosed
		return check
	}

	check.IsTimeValid = true
	if caps.TimeBound {
		start, end, err := window.Bounds(slot, date)
		if err != nil {
			check.IsTimeValid = false
			check.Reason = ReasonInvalidWindow
			return check
		}

		locksAt := end.Add(e.windows.LockBuffer())
		switch {
		case now.Before(start):
			check.IsTimeValid = false
			check.Reason = ReasonWindowNotOpen
			return check
		case !now.Before(locksAt):
			check.IsTimeValid = false
			check.Reason = ReasonWindowClosed
			return check
		}
	}

	check.CanMark = true
	return check
}

// EvaluateClockDown is the fail-closed verdict used when the clock source is
// unavailable: nothing opens, and only override-capable roles may still write.
func (e *Evaluator) EvaluateClockDown(actor models.Actor, category models.AttendanceCategory) models.PermissionCheck {
	caps, ok := models.Capabilities[actor.Role]
	if !ok {
		return models.PermissionCheck{Reason: ReasonUnknownRole}
	}

	check := models.PermissionCheck{}

	if !caps.CanMark(category) {
		check.Reason = fmt.Sprintf("role %s cannot mark %s attendance", actor.Role, category)
		return check
	}
	check.HasPermission = true

	if !caps.Override {
		check.Reason = ReasonClockDown
		return check
	}

	check.CanMark = true
	return check
}
