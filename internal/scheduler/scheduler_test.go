package scheduler

import (
	"testing"
	"time"

	"github.com/cklxx/autonomy/internal/clock"
	"github.com/cklxx/autonomy/internal/cycle"
)

func TestStartArmsAndFiresDueTimer(t *testing.T) {
	start := time.Date(2026, 7, 31, 1, 59, 0, 0, time.UTC)
	fake := clock.NewFake(start)

	fired := make(chan cycle.Kind, 8)
	s := New(WithClock(fake), WithSchedule(cycle.Daily, Schedule{Hour: 2, Minute: 0}))
	defer s.Stop()
	if err := s.Start(func(k cycle.Kind) { fired <- k }); err != nil {
		t.Fatalf("start: %v", err)
	}

	fake.Advance(2 * time.Minute)
	select {
	case k := <-fired:
		if k != cycle.Daily {
			t.Fatalf("expected Daily to fire, got %s", k)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Daily timer to fire after advancing past 02:00")
	}
}

func TestArmRearmsForNextOccurrenceAfterFiring(t *testing.T) {
	start := time.Date(2026, 7, 31, 1, 59, 0, 0, time.UTC)
	fake := clock.NewFake(start)
	fired := make(chan cycle.Kind, 8)

	s := New(WithClock(fake), WithSchedule(cycle.Daily, Schedule{Hour: 2, Minute: 0}))
	defer s.Stop()
	s.Start(func(k cycle.Kind) { fired <- k })

	fake.Advance(2 * time.Minute)
	<-fired

	// Advance under a day: should not fire again yet.
	fake.Advance(time.Hour)
	select {
	case k := <-fired:
		t.Fatalf("did not expect a second fire yet, got %s", k)
	case <-time.After(50 * time.Millisecond):
	}

	// Advance the rest of the way to the next day's 02:00.
	fake.Advance(23 * time.Hour)
	select {
	case k := <-fired:
		if k != cycle.Daily {
			t.Fatalf("expected Daily, got %s", k)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Daily to re-fire the next day")
	}
}

func TestStopPreventsFurtherFires(t *testing.T) {
	start := time.Date(2026, 7, 31, 1, 59, 0, 0, time.UTC)
	fake := clock.NewFake(start)
	fired := make(chan cycle.Kind, 8)

	s := New(WithClock(fake), WithSchedule(cycle.Daily, Schedule{Hour: 2, Minute: 0}))
	s.Start(func(k cycle.Kind) { fired <- k })
	s.Stop()

	fake.Advance(24 * time.Hour)
	select {
	case k := <-fired:
		t.Fatalf("expected no fires after Stop, got %s", k)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNextFireTimeReflectsCurrentSchedule(t *testing.T) {
	start := time.Date(2026, 7, 31, 1, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)
	s := New(WithClock(fake), WithSchedule(cycle.Daily, Schedule{Hour: 2, Minute: 0}))
	want := time.Date(2026, 7, 31, 2, 0, 0, 0, time.UTC)
	if got := s.NextFireTime(cycle.Daily); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
