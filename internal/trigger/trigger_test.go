package trigger

import (
	"testing"
	"time"

	"github.com/cklxx/autonomy/internal/approval"
	"github.com/cklxx/autonomy/internal/eventbus"
)

func TestRegisterUnregisterIsIdempotentObservationally(t *testing.T) {
	r := New()
	before := r.All()

	tr, err := r.Register(Config{ID: "t1", Name: "one", Kind: EventKind, Pattern: "metrics:*", Action: "alertAndDiagnose"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Unregister(tr.ID)

	after := r.All()
	if len(before) != len(after) {
		t.Fatalf("expected registry unchanged after register+unregister, before=%v after=%v", before, after)
	}
}

func TestEventTriggerMatchesWildcard(t *testing.T) {
	r := New()
	bus := eventbus.New()
	_, err := r.Register(Config{ID: "t1", Kind: EventKind, Pattern: "autonomy:cycle:*", Action: "runSecuritySweep"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evt := eventbus.Event{Name: "autonomy:cycle:start"}
	matched := r.Matching(evt, bus)
	if len(matched) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matched))
	}

	evt2 := eventbus.Event{Name: "plugin:load"}
	if got := r.Matching(evt2, bus); len(got) != 0 {
		t.Fatalf("expected no match, got %d", len(got))
	}
}

func TestConditionTriggerFiresAboveThresholdOnly(t *testing.T) {
	r := New()
	bus := eventbus.New()
	_, err := r.Register(Config{
		ID: "high-error-rate", Kind: ConditionKind, HDMLevel: approval.Low, Action: "alertAndDiagnose",
		Predicate: func(e eventbus.Event) bool {
			rate, _ := e.Get("errorRate")
			f, ok := rate.(float64)
			return ok && f > 0.05
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	high := eventbus.Event{Name: "metrics:sample", Data: map[string]any{"errorRate": 0.06}}
	if matched := r.Matching(high, bus); len(matched) != 1 {
		t.Fatalf("expected match above threshold, got %d", len(matched))
	}

	low := eventbus.Event{Name: "metrics:sample", Data: map[string]any{"errorRate": 0.04}}
	if matched := r.Matching(low, bus); len(matched) != 0 {
		t.Fatalf("expected no match below threshold, got %d", len(matched))
	}
}

func TestConditionPredicatePanicIsNonMatchingNotFatal(t *testing.T) {
	r := New()
	bus := eventbus.New()
	_, _ = r.Register(Config{
		ID: "panics", Kind: ConditionKind, Action: "alertAndDiagnose",
		Predicate: func(e eventbus.Event) bool { panic("boom") },
	})
	evt := eventbus.Event{Name: "metrics:sample"}
	matched := r.Matching(evt, bus) // must not panic
	if len(matched) != 0 {
		t.Fatalf("expected panicking predicate to be treated as non-matching, got %d", len(matched))
	}
}

func TestFireStampsAndIncrements(t *testing.T) {
	r := New()
	tr, _ := r.Register(Config{ID: "t1", Kind: EventKind, Pattern: "x:*", Action: "runSecurityScan"})
	if tr.FireCount != 0 || tr.LastFired != nil {
		t.Fatalf("expected fresh trigger, got %+v", tr)
	}
	fired, ok := r.Fire("t1")
	if !ok {
		t.Fatal("expected fire to succeed")
	}
	if fired.FireCount != 1 {
		t.Fatalf("expected FireCount 1, got %d", fired.FireCount)
	}
	if fired.LastFired == nil || fired.LastFired.After(time.Now()) {
		t.Fatalf("expected LastFired stamped, got %+v", fired.LastFired)
	}
}

func TestDisabledTriggerNeverMatches(t *testing.T) {
	r := New()
	bus := eventbus.New()
	_, _ = r.Register(Config{ID: "t1", Kind: EventKind, Pattern: "*", Action: "noop", Disabled: true})
	evt := eventbus.Event{Name: "anything"}
	if matched := r.Matching(evt, bus); len(matched) != 0 {
		t.Fatalf("expected disabled trigger to never match, got %d", len(matched))
	}
}
