package eventbus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMatchExactAndWildcard(t *testing.T) {
	m := newMatcher()
	if !m.Match("autonomy:cycle:start", "autonomy:cycle:start") {
		t.Fatal("expected exact match")
	}
	if !m.Match("anything:at:all", "*") {
		t.Fatal("bare wildcard should match every name")
	}
	if !m.Match("foo:x:bar", "foo:*:bar") {
		t.Fatal("expected single-segment wildcard match")
	}
	if !m.Match("foo:x:y:bar", "foo:*:bar") {
		t.Fatal("expected multi-segment wildcard match (wildcard spans colons)")
	}
	if m.Match("foo:bar", "foo:*:bar") {
		t.Fatal("pattern requires the middle segment to be present")
	}
}

func TestOnReceivesMatchingEvents(t *testing.T) {
	b := New()
	var got []string
	var mu sync.Mutex
	b.On("autonomy:*", func(e Event) error {
		mu.Lock()
		got = append(got, e.Name)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	_ = b.Emit(ctx, "autonomy:cycle:start", nil)
	_ = b.Emit(ctx, "plugin:load", nil)
	_ = b.Emit(ctx, "autonomy:cycle:end", nil)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %v", got)
	}
}

func TestOnceFiresAtMostOnce(t *testing.T) {
	b := New()
	var n int
	var mu sync.Mutex
	b.Once("metrics:sample", func(e Event) error {
		mu.Lock()
		n++
		mu.Unlock()
		return nil
	})
	ctx := context.Background()
	_ = b.Emit(ctx, "metrics:sample", nil)
	_ = b.Emit(ctx, "metrics:sample", nil)

	mu.Lock()
	defer mu.Unlock()
	if n != 1 {
		t.Fatalf("expected once handler to fire exactly once, got %d", n)
	}
}

func TestDisposerDetaches(t *testing.T) {
	b := New()
	var n int
	var mu sync.Mutex
	dispose := b.On("x:*", func(e Event) error {
		mu.Lock()
		n++
		mu.Unlock()
		return nil
	})
	ctx := context.Background()
	_ = b.Emit(ctx, "x:1", nil)
	dispose()
	_ = b.Emit(ctx, "x:2", nil)

	mu.Lock()
	defer mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 delivery before dispose, got %d", n)
	}
}

func TestHandlerFailureIsolatesAndContinues(t *testing.T) {
	b := New()
	var secondCalled bool
	var failures []string
	b.On("e:*", func(e Event) error { return fmt.Errorf("boom") })
	b.On("e:*", func(e Event) error { secondCalled = true; return nil })
	b2 := New(WithFailureObserver(func(pattern string, evt Event, err error) {
		failures = append(failures, pattern)
	}))
	b2.On("e:*", func(e Event) error { return fmt.Errorf("boom") })
	b2.On("e:*", func(e Event) error { secondCalled = true; return nil })

	if err := b.Emit(context.Background(), "e:1", nil); err != nil {
		t.Fatalf("emit should not fail when a handler errors: %v", err)
	}
	if !secondCalled {
		t.Fatal("expected second handler to still run")
	}

	secondCalled = false
	if err := b2.Emit(context.Background(), "e:1", nil); err != nil {
		t.Fatalf("emit should not fail: %v", err)
	}
	if !secondCalled {
		t.Fatal("expected second handler to still run on second bus")
	}
	if len(failures) != 1 {
		t.Fatalf("expected failure observer called once, got %v", failures)
	}
}

func TestHistoryBoundedAndFiltered(t *testing.T) {
	b := New(WithHistoryCap(3))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.Emit(ctx, fmt.Sprintf("n:%d", i), nil)
	}
	all := b.History("")
	if len(all) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(all))
	}
	if all[len(all)-1].Name != "n:4" {
		t.Fatalf("expected newest last, got %v", all)
	}
	if all[0].Name != "n:2" {
		t.Fatalf("expected oldest dropped, got %v", all)
	}
}

func TestWaitForSucceedsAndTimesOut(t *testing.T) {
	b := New()
	ctx := context.Background()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = b.Emit(ctx, "autonomy:cycle:end", map[string]any{"ok": true})
	}()
	evt, err := b.WaitFor(ctx, "autonomy:cycle:*", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Name != "autonomy:cycle:end" {
		t.Fatalf("unexpected event: %v", evt)
	}

	_, err = b.WaitFor(ctx, "never:happens", 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestEventDataIsCopiedPerHandler(t *testing.T) {
	b := New()
	b.On("mutate:*", func(e Event) error {
		e.Data["poisoned"] = true
		return nil
	})
	data := map[string]any{"a": 1}
	_ = b.Emit(context.Background(), "mutate:1", data)
	if _, ok := data["poisoned"]; ok {
		t.Fatal("handler mutation leaked back into caller's map")
	}
}
