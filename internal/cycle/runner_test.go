package cycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cklxx/autonomy/internal/approval"
	"github.com/cklxx/autonomy/internal/clock"
	"github.com/cklxx/autonomy/internal/eventbus"
	"github.com/cklxx/autonomy/internal/hook"
)

func TestRunSkipsTasksAboveApprovalLevel(t *testing.T) {
	bus := eventbus.New()
	var required []map[string]any
	bus.On("autonomy:approval:required", func(e eventbus.Event) error {
		required = append(required, e.Data)
		return nil
	})

	r := New(bus, hook.NopDispatcher{}, clock.New(), nil)
	tasks := []Task{{ID: "t1", Name: "monthly-audit", HDMLevel: approval.Moderate}}
	handlers := Handlers{"t1": func(HandlerContext) (any, error) { return "ran", nil }}

	report, err := r.Run(context.Background(), Monthly, tasks, handlers, true, Options{EngineLevel: approval.Low})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Tasks[0].Status != StatusSkipped || report.Tasks[0].Reason != "requires higher approval level" {
		t.Fatalf("expected skipped task, got %+v", report.Tasks[0])
	}
	if len(report.Errors) != 0 {
		t.Fatalf("skipped tasks must not count as errors: %+v", report.Errors)
	}
	if report.Status != StatusCompleted {
		t.Fatalf("expected Completed status, got %s", report.Status)
	}
	if len(required) != 1 {
		t.Fatalf("expected one approval:required event, got %d", len(required))
	}
}

func TestRunReturnsNilWithoutForceWhenNotRunning(t *testing.T) {
	r := New(eventbus.New(), hook.NopDispatcher{}, clock.New(), nil)
	report, err := r.Run(context.Background(), Daily, nil, nil, false, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report != nil {
		t.Fatalf("expected nil report, got %+v", report)
	}
}

func TestRunForcedOverridesNotRunning(t *testing.T) {
	r := New(eventbus.New(), hook.NopDispatcher{}, clock.New(), nil)
	tasks := []Task{{ID: "t1", Name: "x", HDMLevel: approval.Informational}}
	handlers := Handlers{"t1": func(HandlerContext) (any, error) { return nil, nil }}
	report, err := r.Run(context.Background(), Daily, tasks, handlers, false, Options{Force: true, EngineLevel: approval.Informational})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report == nil {
		t.Fatal("expected report when forced")
	}
}

func TestBeforeCycleCancelSkipsTasks(t *testing.T) {
	bus := eventbus.New()
	var taskStarted bool
	bus.On("autonomy:task:start", func(e eventbus.Event) error { taskStarted = true; return nil })

	cancelDispatcher := dispatcherFunc(func(name hook.Name, ctx hook.Context) hook.Context {
		if name == hook.BeforeCycle {
			ctx.Cancelled = true
		}
		return ctx
	})

	r := New(bus, cancelDispatcher, clock.New(), nil)
	tasks := []Task{{ID: "t1", Name: "x", HDMLevel: approval.Informational}}
	handlers := Handlers{"t1": func(HandlerContext) (any, error) { return nil, nil }}
	report, err := r.Run(context.Background(), Daily, tasks, handlers, true, Options{EngineLevel: approval.Informational})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != StatusCancelled {
		t.Fatalf("expected Cancelled status, got %s", report.Status)
	}
	if taskStarted {
		t.Fatal("expected no tasks to run after cancellation")
	}
}

func TestTaskTimeoutRetriesThenFails(t *testing.T) {
	var attempts int
	handlers := Handlers{"slow": func(HandlerContext) (any, error) {
		attempts++
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	}}
	tasks := []Task{{ID: "slow", Name: "slow-task", HDMLevel: approval.Informational}}

	// The handler sleeps on a real timer, so the timeout race uses the
	// production clock; RetryDelay=0 keeps the test fast.
	r := New(eventbus.New(), hook.NopDispatcher{}, clock.New(), nil)
	r.TaskTimeout = 10 * time.Millisecond
	r.RetryDelay = 0
	r.RetryAttempts = 2

	report, err := r.Run(context.Background(), Daily, tasks, handlers, true, Options{EngineLevel: approval.Informational})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if report.Tasks[0].Status != StatusError {
		t.Fatalf("expected Error status after exhausted retries, got %+v", report.Tasks[0])
	}
	if report.Status != StatusCompletedWithError {
		t.Fatalf("expected CompletedWithErrors, got %s", report.Status)
	}
}

func TestNonTimeoutFailureIsNotRetried(t *testing.T) {
	r := New(eventbus.New(), hook.NopDispatcher{}, clock.New(), nil)
	var attempts int
	handlers := Handlers{"t1": func(HandlerContext) (any, error) {
		attempts++
		return nil, errors.New("permanent failure")
	}}
	tasks := []Task{{ID: "t1", Name: "x", HDMLevel: approval.Informational}}
	report, err := r.Run(context.Background(), Daily, tasks, handlers, true, Options{EngineLevel: approval.Informational})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-timeout failure, got %d", attempts)
	}
	if report.Tasks[0].Error != "permanent failure" {
		t.Fatalf("unexpected error captured: %+v", report.Tasks[0])
	}
}

type dispatcherFunc func(hook.Name, hook.Context) hook.Context

func (f dispatcherFunc) Dispatch(name hook.Name, ctx hook.Context) hook.Context { return f(name, ctx) }
