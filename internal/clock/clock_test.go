package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	timer := f.NewTimer(5 * time.Minute)
	select {
	case <-timer.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	f.Advance(4 * time.Minute)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	f.Advance(1 * time.Minute)
	select {
	case fired := <-timer.C():
		if !fired.Equal(start.Add(5 * time.Minute)) {
			t.Fatalf("unexpected fire time: %v", fired)
		}
	default:
		t.Fatal("expected timer to fire")
	}
}

func TestFakeStopPreventsFire(t *testing.T) {
	f := NewFake(time.Now())
	timer := f.NewTimer(time.Minute)
	timer.Stop()
	f.Advance(2 * time.Minute)
	select {
	case <-timer.C():
		t.Fatal("stopped timer should not fire")
	default:
	}
}

func TestFakeNowAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	f.Advance(time.Hour)
	if !f.Now().Equal(start.Add(time.Hour)) {
		t.Fatalf("expected now to advance, got %v", f.Now())
	}
}
