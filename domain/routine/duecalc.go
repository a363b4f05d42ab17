package routine

import "time"

// HoursUntilDue computes the remaining runtime hours before the routine is
// due, clamped at zero. Only meaningful for runtime_hours routines.
func (r *Routine) HoursUntilDue(currentRuntimeHours float64) float64 {
	if r.LastExecutionRuntimeHours == nil {
		return 0
	}
	remaining := r.TriggerRuntimeHours - (currentRuntimeHours - *r.LastExecutionRuntimeHours)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DaysUntilDue computes the remaining calendar days before the routine is
// due, clamped at zero. Only meaningful for calendar_days routines.
func (r *Routine) DaysUntilDue(now time.Time) float64 {
	if r.LastExecutionCompletedAt.IsZero() {
		return 0
	}
	elapsedDays := now.Sub(time.Time(r.LastExecutionCompletedAt)).Hours() / 24
	remaining := float64(r.TriggerCalendarDays) - elapsedDays
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsDue reports whether the trigger threshold has been reached. A routine
// that never executed, or whose asset has no runtime measurement yet, is due
// immediately.
func (r *Routine) IsDue(currentRuntimeHours *float64, now time.Time) bool {
	switch r.TriggerKind {
	case TriggerKindRuntimeHours:
		if currentRuntimeHours == nil || r.LastExecutionRuntimeHours == nil {
			return true
		}
		return r.HoursUntilDue(*currentRuntimeHours) <= 0
	case TriggerKindCalendarDays:
		if r.LastExecutionCompletedAt.IsZero() {
			return true
		}
		return r.DaysUntilDue(now) <= 0
	}
	return false
}

// ShouldGenerateWorkOrder reports whether the routine is close enough to due
// to pre-generate a work order. The advance window is compared in the
// trigger's own unit: hours for runtime routines, days for calendar ones.
func (r *Routine) ShouldGenerateWorkOrder(currentRuntimeHours *float64, now time.Time) bool {
	if !r.Active {
		return false
	}
	switch r.TriggerKind {
	case TriggerKindRuntimeHours:
		if currentRuntimeHours == nil || r.LastExecutionRuntimeHours == nil {
			return true
		}
		return r.HoursUntilDue(*currentRuntimeHours) <= r.AdvanceNoticeHours
	case TriggerKindCalendarDays:
		if r.LastExecutionCompletedAt.IsZero() {
			return true
		}
		return r.DaysUntilDue(now) <= float64(r.AdvanceNoticeDays)
	}
	return false
}
