// Package scheduler computes wall-clock next-fire instants per cycle
// kind and owns the per-kind timers that drive the autonomy engine's
// cycle runs (spec.md §4.6).
package scheduler

import (
	"time"

	"github.com/cklxx/autonomy/internal/cycle"
)

// Schedule is the (hour, minute, dayOfWeek?, dayOfMonth?) tuple the
// engine accepts as a per-kind override (spec.md §6.4).
type Schedule struct {
	Hour       int
	Minute     int
	DayOfWeek  time.Weekday // consulted for cycle.Weekly
	DayOfMonth int          // consulted for cycle.Monthly
}

// Defaults are the engine's built-in schedule per cycle kind absent an
// override: Daily 02:00, Weekly Sunday 03:00, Monthly day 1 at 04:00.
func Defaults() map[cycle.Kind]Schedule {
	return map[cycle.Kind]Schedule{
		cycle.Daily:   {Hour: 2, Minute: 0},
		cycle.Weekly:  {Hour: 3, Minute: 0, DayOfWeek: time.Sunday},
		cycle.Monthly: {Hour: 4, Minute: 0, DayOfMonth: 1},
	}
}

// NextFire computes the next instant, strictly after now, at which kind
// is due to run under sched. Non-existent target days (e.g. day 30 in
// February) round down to the last valid day of that month.
func NextFire(kind cycle.Kind, sched Schedule, now time.Time) time.Time {
	switch kind {
	case cycle.Daily:
		return nextDaily(sched, now)
	case cycle.Weekly:
		return nextWeekly(sched, now)
	case cycle.Monthly:
		return nextMonthly(sched, now)
	default:
		return now
	}
}

func nextDaily(sched Schedule, now time.Time) time.Time {
	candidate := atClock(now, now.Year(), now.Month(), now.Day(), sched)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func nextWeekly(sched Schedule, now time.Time) time.Time {
	daysUntil := (int(sched.DayOfWeek) - int(now.Weekday()) + 7) % 7
	candidate := atClock(now, now.Year(), now.Month(), now.Day(), sched).AddDate(0, 0, daysUntil)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

func nextMonthly(sched Schedule, now time.Time) time.Time {
	candidate := monthlyCandidate(now.Year(), now.Month(), sched, now.Location())
	if !candidate.After(now) {
		year, month := now.Year(), now.Month()+1
		if month > time.December {
			month = time.January
			year++
		}
		candidate = monthlyCandidate(year, month, sched, now.Location())
	}
	return candidate
}

func monthlyCandidate(year int, month time.Month, sched Schedule, loc *time.Location) time.Time {
	day := clampDayOfMonth(year, month, sched.DayOfMonth)
	return time.Date(year, month, day, sched.Hour, sched.Minute, 0, 0, loc)
}

// clampDayOfMonth rounds a requested day down to the last valid day of
// year/month when the month is shorter (e.g. requesting day 30 in
// February).
func clampDayOfMonth(year int, month time.Month, day int) int {
	if day < 1 {
		day = 1
	}
	last := daysInMonth(year, month)
	if day > last {
		return last
	}
	return day
}

func daysInMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.AddDate(0, 0, -1)
	return lastOfThis.Day()
}

func atClock(now time.Time, year int, month time.Month, day int, sched Schedule) time.Time {
	return time.Date(year, month, day, sched.Hour, sched.Minute, 0, 0, now.Location())
}
