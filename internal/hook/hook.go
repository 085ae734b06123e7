// Package hook defines the closed set of plugin lifecycle hook names and
// the context value type passed through hook dispatch, shared by the
// plugin manager (which dispatches hooks) and the cycle runner (which
// calls them around cycle/task boundaries) without those two packages
// depending on each other.
package hook

// Name is one of the closed set of hook points the runner invokes
// plugins at.
type Name string

const (
	BeforeCycle Name = "beforeCycle"
	AfterCycle  Name = "afterCycle"
	BeforeTask  Name = "beforeTask"
	AfterTask   Name = "afterTask"
	OnTrigger   Name = "onTrigger"
	OnError     Name = "onError"
)

// Names is the closed set of hook names registration must validate
// against.
var Names = map[Name]struct{}{
	BeforeCycle: {},
	AfterCycle:  {},
	BeforeTask:  {},
	AfterTask:   {},
	OnTrigger:   {},
	OnError:     {},
}

// Valid reports whether n is one of the closed set of hook names.
func (n Name) Valid() bool {
	_, ok := Names[n]
	return ok
}

// Context is the value passed to and returned from hook dispatch. It is
// documented (per the design note on ad-hoc map merging) as a closed set
// of fields the runner observes, plus an opaque Extra map for
// plugin-contributed keys that don't need first-class runner support.
//
// Hook handlers must be pure with respect to the Context they receive:
// the manager treats Context as a value and only observes the Context
// returned by the handler, shallow-merging it over the context it passed
// in (later hooks in priority order override earlier keys).
type Context struct {
	// Kind/TaskID/CycleID are read-only identification fields a
	// hook may inspect but whose runner-observed effect is governed only
	// by Cancelled, StopOnError, and Extra below.
	Kind    string
	CycleID string
	TaskID  string

	// Cancelled, when true after beforeCycle hooks run, causes the
	// runner to mark the cycle Cancelled and skip task execution.
	Cancelled bool

	// StopOnError, when true, makes a hook panic or error stop dispatch
	// of that hook point at the failing handler; the failure is still
	// logged and emitted as plugin:error.
	StopOnError bool

	// Extra carries plugin-contributed keys the runner does not
	// interpret itself but preserves across the merge.
	Extra map[string]any
}

// Merge shallow-merges update over c, with update's non-empty string
// fields (and Extra keys) overriding c's, matching the spec's "hook
// return overrides earlier keys" rule. Cancelled and StopOnError only
// ever turn on: a false value in update never clears a true one in c.
// Merge does not mutate c; it returns the result.
func (c Context) Merge(update Context) Context {
	merged := c
	merged.Cancelled = update.Cancelled || c.Cancelled
	if update.StopOnError {
		merged.StopOnError = true
	}
	if update.Kind != "" {
		merged.Kind = update.Kind
	}
	if update.CycleID != "" {
		merged.CycleID = update.CycleID
	}
	if update.TaskID != "" {
		merged.TaskID = update.TaskID
	}
	if len(update.Extra) > 0 {
		extra := make(map[string]any, len(c.Extra)+len(update.Extra))
		for k, v := range c.Extra {
			extra[k] = v
		}
		for k, v := range update.Extra {
			extra[k] = v
		}
		merged.Extra = extra
	}
	return merged
}

// Dispatcher runs every Enabled plugin's handler registered for name, in
// descending-priority order, merging each returned Context over the one
// passed in. Implemented by the plugin manager; depended on by the cycle
// runner so the two packages don't import each other.
type Dispatcher interface {
	Dispatch(name Name, ctx Context) Context
}

// NopDispatcher runs no hooks and returns the context unchanged. Useful
// for tests and for an engine configured without a plugin manager.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(_ Name, ctx Context) Context { return ctx }
