package scheduler

import (
	"testing"
	"time"

	"github.com/cklxx/autonomy/internal/cycle"
)

func TestNextDailyAdvancesWhenPastToday(t *testing.T) {
	sched := Schedule{Hour: 2, Minute: 0}
	now := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC) // already past 02:00 today
	next := NextFire(cycle.Daily, sched, now)
	want := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextDailySameDayWhenStillAhead(t *testing.T) {
	sched := Schedule{Hour: 2, Minute: 0}
	now := time.Date(2026, 7, 31, 1, 0, 0, 0, time.UTC)
	next := NextFire(cycle.Daily, sched, now)
	want := time.Date(2026, 7, 31, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextWeeklyFindsNextOccurrence(t *testing.T) {
	sched := Schedule{Hour: 3, Minute: 0, DayOfWeek: time.Sunday}
	// 2026-07-31 is a Friday.
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	next := NextFire(cycle.Weekly, sched, now)
	want := time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC) // next Sunday
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextWeeklyRollsOverWhenTodayIsTargetButPast(t *testing.T) {
	sched := Schedule{Hour: 3, Minute: 0, DayOfWeek: time.Friday}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) // Friday, past 03:00
	next := NextFire(cycle.Weekly, sched, now)
	want := time.Date(2026, 8, 7, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextMonthlyRoundsDownNonExistentDay(t *testing.T) {
	sched := Schedule{Hour: 4, Minute: 0, DayOfMonth: 30}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	next := NextFire(cycle.Monthly, sched, now)
	want := time.Date(2026, 2, 28, 4, 0, 0, 0, time.UTC) // 2026 is not a leap year
	if !next.Equal(want) {
		t.Fatalf("expected last valid day of February, got %v", next)
	}
}

func TestNextMonthlyRollsToNextMonthWhenPast(t *testing.T) {
	sched := Schedule{Hour: 4, Minute: 0, DayOfMonth: 1}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	next := NextFire(cycle.Monthly, sched, now)
	want := time.Date(2026, 8, 1, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextMonthlyWrapsDecemberToJanuary(t *testing.T) {
	sched := Schedule{Hour: 4, Minute: 0, DayOfMonth: 1}
	now := time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC)
	next := NextFire(cycle.Monthly, sched, now)
	want := time.Date(2027, 1, 1, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}
