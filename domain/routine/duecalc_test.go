package routine_test

import (
	"testing"
	"time"

	"maintos/domain/routine"

	"github.com/fundwit/go-commons/types"
	. "github.com/onsi/gomega"
)

func float64Ptr(v float64) *float64 {
	return &v
}

func TestRuntimeDueCalculation(t *testing.T) {
	RegisterTestingT(t)

	t.Run("should be due at the trigger boundary", func(t *testing.T) {
		r := routine.Routine{Active: true, TriggerKind: routine.TriggerKindRuntimeHours,
			TriggerRuntimeHours: 500, LastExecutionRuntimeHours: float64Ptr(400)}

		Expect(r.IsDue(float64Ptr(900), time.Now())).To(BeTrue())
		Expect(r.HoursUntilDue(900)).To(BeZero())
	})

	t.Run("should not be due before the trigger boundary", func(t *testing.T) {
		r := routine.Routine{Active: true, TriggerKind: routine.TriggerKindRuntimeHours,
			TriggerRuntimeHours: 500, LastExecutionRuntimeHours: float64Ptr(400)}

		Expect(r.IsDue(float64Ptr(800), time.Now())).To(BeFalse())
		Expect(r.HoursUntilDue(800)).To(Equal(float64(100)))
	})

	t.Run("should clamp hours until due at zero when overdue", func(t *testing.T) {
		r := routine.Routine{Active: true, TriggerKind: routine.TriggerKindRuntimeHours,
			TriggerRuntimeHours: 100, LastExecutionRuntimeHours: float64Ptr(80)}

		Expect(r.HoursUntilDue(300)).To(BeZero())
	})

	t.Run("never executed routine is due immediately", func(t *testing.T) {
		r := routine.Routine{Active: true, TriggerKind: routine.TriggerKindRuntimeHours, TriggerRuntimeHours: 500}

		Expect(r.IsDue(nil, time.Now())).To(BeTrue())
		Expect(r.ShouldGenerateWorkOrder(nil, time.Now())).To(BeTrue())

		withMeasurement := routine.Routine{Active: true, TriggerKind: routine.TriggerKindRuntimeHours, TriggerRuntimeHours: 500}
		Expect(withMeasurement.IsDue(float64Ptr(1234), time.Now())).To(BeTrue())
	})
}

func TestCalendarDueCalculation(t *testing.T) {
	RegisterTestingT(t)

	t.Run("should be due when the interval elapsed", func(t *testing.T) {
		now := time.Now()
		r := routine.Routine{Active: true, TriggerKind: routine.TriggerKindCalendarDays, TriggerCalendarDays: 30,
			LastExecutionCompletedAt: types.Timestamp(now.Add(-31 * 24 * time.Hour))}

		Expect(r.IsDue(nil, now)).To(BeTrue())
		Expect(r.DaysUntilDue(now)).To(BeZero())
	})

	t.Run("should not be due before the interval elapsed", func(t *testing.T) {
		now := time.Now()
		r := routine.Routine{Active: true, TriggerKind: routine.TriggerKindCalendarDays, TriggerCalendarDays: 30,
			LastExecutionCompletedAt: types.Timestamp(now.Add(-10 * 24 * time.Hour))}

		Expect(r.IsDue(nil, now)).To(BeFalse())
		Expect(r.DaysUntilDue(now)).To(BeNumerically("~", 20, 0.01))
	})

	t.Run("never completed routine is due immediately", func(t *testing.T) {
		r := routine.Routine{Active: true, TriggerKind: routine.TriggerKindCalendarDays, TriggerCalendarDays: 30}
		Expect(r.IsDue(nil, time.Now())).To(BeTrue())
	})
}

func TestShouldGenerateWorkOrder(t *testing.T) {
	RegisterTestingT(t)

	t.Run("inactive routine never generates", func(t *testing.T) {
		r := routine.Routine{Active: false, TriggerKind: routine.TriggerKindRuntimeHours, TriggerRuntimeHours: 500}
		Expect(r.ShouldGenerateWorkOrder(nil, time.Now())).To(BeFalse())
	})

	t.Run("runtime routine generates within the advance window", func(t *testing.T) {
		r := routine.Routine{Active: true, TriggerKind: routine.TriggerKindRuntimeHours,
			TriggerRuntimeHours: 100, AdvanceNoticeHours: 10, LastExecutionRuntimeHours: float64Ptr(80)}

		// 10 hours remaining, exactly at the window edge
		Expect(r.ShouldGenerateWorkOrder(float64Ptr(170), time.Now())).To(BeTrue())
		// 11 hours remaining, outside the window
		Expect(r.ShouldGenerateWorkOrder(float64Ptr(169), time.Now())).To(BeFalse())
		// overdue
		Expect(r.ShouldGenerateWorkOrder(float64Ptr(190), time.Now())).To(BeTrue())
	})

	t.Run("calendar routine generates within the advance window", func(t *testing.T) {
		now := time.Now()
		r := routine.Routine{Active: true, TriggerKind: routine.TriggerKindCalendarDays,
			TriggerCalendarDays: 30, AdvanceNoticeDays: 5,
			LastExecutionCompletedAt: types.Timestamp(now.Add(-26 * 24 * time.Hour))}

		Expect(r.ShouldGenerateWorkOrder(nil, now)).To(BeTrue())

		r.LastExecutionCompletedAt = types.Timestamp(now.Add(-10 * 24 * time.Hour))
		Expect(r.ShouldGenerateWorkOrder(nil, now)).To(BeFalse())
	})
}
