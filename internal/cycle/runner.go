package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cklxx/autonomy/internal/approval"
	"github.com/cklxx/autonomy/internal/clock"
	"github.com/cklxx/autonomy/internal/eventbus"
	"github.com/cklxx/autonomy/internal/hook"
	"github.com/cklxx/autonomy/internal/logging"
)

// DefaultTaskTimeout is the per-task handler deadline (spec.md §4.7).
const DefaultTaskTimeout = 60 * time.Second

// DefaultRetryAttempts is the total attempts (including the first) made
// for a task handler that times out.
const DefaultRetryAttempts = 2

// DefaultRetryDelay is the delay before the single retry attempt.
const DefaultRetryDelay = time.Second

// ErrTimeout marks a task handler attempt that exceeded its deadline.
var ErrTimeout = errors.New("cycle: task handler timed out")

// Handlers resolves a task's opaque handler body by name. Unknown task
// names are a configuration error surfaced by the caller building the
// battery, not by the runner.
type Handlers map[string]Handler

// Runner executes one cycle: approval gate per task, before/after hooks,
// timeout+retry around each handler, and result capture into a Report.
type Runner struct {
	Bus          *eventbus.Bus
	Hooks        hook.Dispatcher
	Clock        clock.Clock
	Logger       logging.Logger
	TaskTimeout  time.Duration
	RetryAttempts int
	RetryDelay   time.Duration
}

// New constructs a Runner with spec defaults, overridden by any non-zero
// field the caller sets afterward.
func New(bus *eventbus.Bus, hooks hook.Dispatcher, clk clock.Clock, logger logging.Logger) *Runner {
	if hooks == nil {
		hooks = hook.NopDispatcher{}
	}
	return &Runner{
		Bus:           bus,
		Hooks:         hooks,
		Clock:         clk,
		Logger:        logging.OrNop(logger),
		TaskTimeout:   DefaultTaskTimeout,
		RetryAttempts: DefaultRetryAttempts,
		RetryDelay:    DefaultRetryDelay,
	}
}

// Options bundles the per-invocation parameters runCycle takes in spec.md
// §4.7.
type Options struct {
	Force    bool
	EngineLevel approval.Level
}

// Run executes kind's fixed task battery against handlers. It returns nil
// (not an error) when running is false (the engine is not running) and
// Force was not set, matching spec.md §4.7 step 1's "return null".
func (r *Runner) Run(ctx context.Context, kind Kind, tasks []Task, handlers Handlers, running bool, opts Options) (*Report, error) {
	if !running && !opts.Force {
		return nil, nil
	}

	report := &Report{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartTime: r.now(),
		Status:    StatusRunning,
	}

	r.emit(ctx, "autonomy:cycle:start", map[string]any{"kind": string(kind), "cycleId": report.ID})

	hctx := hook.Context{Kind: string(kind), CycleID: report.ID}
	hctx = r.Hooks.Dispatch(hook.BeforeCycle, hctx)
	if hctx.Cancelled {
		report.EndTime = r.now()
		report.Status = StatusCancelled
		r.emit(ctx, "autonomy:cycle:skip", map[string]any{"kind": string(kind), "cycleId": report.ID})
		return report, nil
	}

	for _, task := range tasks {
		result := r.runTask(ctx, kind, report.ID, task, handlers, opts.EngineLevel)
		report.Tasks = append(report.Tasks, result)
		if result.Status == StatusError {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", task.Name, result.Error))
		}
	}

	r.Hooks.Dispatch(hook.AfterCycle, hook.Context{Kind: string(kind), CycleID: report.ID})

	report.EndTime = r.now()
	if len(report.Errors) == 0 {
		report.Status = StatusCompleted
	} else {
		report.Status = StatusCompletedWithError
	}
	r.emit(ctx, "autonomy:cycle:end", map[string]any{
		"kind": string(kind), "cycleId": report.ID, "status": string(report.Status),
	})
	return report, nil
}

func (r *Runner) runTask(ctx context.Context, kind Kind, cycleID string, task Task, handlers Handlers, engineLevel approval.Level) TaskResult {
	result := TaskResult{ID: task.ID, Name: task.Name, StartTime: r.now()}

	if !approval.Allows(task.HDMLevel, engineLevel) {
		result.EndTime = r.now()
		result.Status = StatusSkipped
		result.Reason = "requires higher approval level"
		r.emit(ctx, "autonomy:approval:required", map[string]any{
			"subject":       task.Name,
			"requiredLevel": int(task.HDMLevel),
			"engineLevel":   int(engineLevel),
		})
		return result
	}

	r.emit(ctx, "autonomy:task:start", map[string]any{"kind": string(kind), "cycleId": cycleID, "taskId": task.ID, "name": task.Name})
	r.Hooks.Dispatch(hook.BeforeTask, hook.Context{Kind: string(kind), CycleID: cycleID, TaskID: task.ID})

	handler, ok := handlers[task.ID]
	if !ok {
		result.EndTime = r.now()
		result.Status = StatusError
		result.Error = fmt.Sprintf("no handler registered for task %q", task.ID)
	} else {
		output, err := r.runWithRetry(ctx, kind, task, handler)
		result.EndTime = r.now()
		if err != nil {
			result.Status = StatusError
			result.Error = err.Error()
		} else {
			result.Status = StatusCompleted
			result.Output = output
		}
	}

	r.Hooks.Dispatch(hook.AfterTask, hook.Context{Kind: string(kind), CycleID: cycleID, TaskID: task.ID})
	r.emit(ctx, "autonomy:task:end", map[string]any{"kind": string(kind), "cycleId": cycleID, "taskId": task.ID, "status": string(result.Status)})
	if result.Status == StatusError {
		r.emit(ctx, "autonomy:task:error", map[string]any{"kind": string(kind), "cycleId": cycleID, "taskId": task.ID, "error": result.Error})
	}
	return result
}

// runWithRetry executes handlers[task.ID] under TaskTimeout, retrying up
// to RetryAttempts total attempts only when an attempt times out (spec.md
// §4.7: "only retry on TimeoutError. Other failures fall through").
func (r *Runner) runWithRetry(ctx context.Context, kind Kind, task Task, handler Handler) (any, error) {
	var lastErr error
	attempts := r.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		output, err := r.runOnce(ctx, kind, task, handler, attempt)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTimeout) {
			return nil, err
		}
		if attempt < attempts {
			r.sleep(r.RetryDelay)
		}
	}
	return nil, lastErr
}

func (r *Runner) runOnce(ctx context.Context, kind Kind, task Task, handler Handler, attempt int) (any, error) {
	type result struct {
		output any
		err    error
	}
	done := make(chan result, 1)
	hctx := HandlerContext{Task: task, Kind: kind, Attempt: attempt}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("task handler panic: %v", rec)}
			}
		}()
		out, err := handler(hctx)
		done <- result{output: out, err: err}
	}()

	timeout := r.TaskTimeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	select {
	case res := <-done:
		return res.output, res.err
	case <-r.after(timeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Runner) after(d time.Duration) <-chan time.Time {
	if r.Clock != nil {
		return r.Clock.After(d)
	}
	return time.After(d)
}

func (r *Runner) sleep(d time.Duration) {
	<-r.after(d)
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock.Now()
	}
	return time.Now()
}

func (r *Runner) emit(ctx context.Context, name string, data map[string]any) {
	if r.Bus == nil {
		return
	}
	if err := r.Bus.Emit(ctx, name, data); err != nil {
		r.Logger.Warn("cycle: emit %q failed: %v", name, err)
	}
}
