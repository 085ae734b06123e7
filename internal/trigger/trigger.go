// Package trigger holds the set of registered triggers, their matching
// predicates, and fire counters, evaluated by the autonomy engine against
// each event delivered on the bus.
package trigger

import (
	"fmt"
	"sync"
	"time"

	"github.com/cklxx/autonomy/internal/approval"
	"github.com/cklxx/autonomy/internal/clock"
	"github.com/cklxx/autonomy/internal/eventbus"
	"github.com/cklxx/autonomy/internal/logging"
)

// Kind distinguishes an event-name trigger from a predicate-condition
// trigger.
type Kind string

const (
	EventKind     Kind = "Event"
	ConditionKind Kind = "Condition"
)

// Predicate evaluates an event for a Condition trigger. Predicates must
// be total (never panic) and side-effect free; if one panics the
// registry treats the evaluation as non-matching, logs a warning, and
// passes the failure to the WithPanicObserver callback (if set), without
// failing the caller. Nothing is emitted on the bus for it.
type Predicate func(eventbus.Event) bool

// Config is the caller-supplied definition passed to Register.
type Config struct {
	ID        string
	Name      string
	Kind      Kind
	Pattern   string    // event name/wildcard, for Kind == EventKind
	Predicate Predicate // condition, for Kind == ConditionKind
	Action    string
	HDMLevel  approval.Level
	// Disabled registers the trigger inactive; triggers are enabled by
	// default so a zero-value Config registers an active trigger.
	Disabled bool
}

// Trigger is the durable, queryable record of a registered trigger.
type Trigger struct {
	ID        string
	Name      string
	Kind      Kind
	Pattern   string
	Predicate Predicate `json:"-"`
	Action    string
	HDMLevel  approval.Level
	Enabled   bool
	FireCount int
	LastFired *time.Time
}

// Projection is the JSON-safe snapshot of a Trigger persisted in
// EngineState, omitting the unmarshalable Predicate closure.
type Projection struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Kind      Kind           `json:"kind"`
	Pattern   string         `json:"pattern,omitempty"`
	Action    string         `json:"action"`
	HDMLevel  approval.Level `json:"hdmLevel"`
	Enabled   bool           `json:"enabled"`
	FireCount int            `json:"fireCount"`
	LastFired *time.Time     `json:"lastFired,omitempty"`
}

// Project converts a Trigger into its persistable Projection.
func (t Trigger) Project() Projection {
	return Projection{
		ID: t.ID, Name: t.Name, Kind: t.Kind, Pattern: t.Pattern,
		Action: t.Action, HDMLevel: t.HDMLevel, Enabled: t.Enabled,
		FireCount: t.FireCount, LastFired: t.LastFired,
	}
}

// Registry holds triggers by id and matches incoming events against
// them.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Trigger
	order   []string
	clock   clock.Clock
	logger  logging.Logger
	onPanic func(id string, err error)
}

// Option customizes a Registry at construction.
type Option func(*Registry)

// WithClock injects the time source used to stamp LastFired.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger injects the logging collaborator.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) { r.logger = logging.OrNop(logger) }
}

// WithPanicObserver installs a callback invoked whenever a Condition
// trigger's predicate panics during evaluation.
func WithPanicObserver(fn func(id string, err error)) Option {
	return func(r *Registry) { r.onPanic = fn }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byID:   make(map[string]*Trigger),
		clock:  clock.New(),
		logger: logging.OrNop(nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds cfg to the registry, defaulting Enabled to true, and
// returns the stored Trigger. Registering the same id twice replaces the
// previous definition but preserves no state across the replace (fresh
// FireCount), matching "register; unregister" idempotence: registering
// twice is not itself specified as idempotent, only register-then-
// unregister is.
func (r *Registry) Register(cfg Config) (*Trigger, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("trigger: id is required")
	}
	if cfg.Kind == EventKind && cfg.Pattern == "" {
		return nil, fmt.Errorf("trigger %q: event trigger requires a pattern", cfg.ID)
	}
	if cfg.Kind == ConditionKind && cfg.Predicate == nil {
		return nil, fmt.Errorf("trigger %q: condition trigger requires a predicate", cfg.ID)
	}

	t := &Trigger{
		ID: cfg.ID, Name: cfg.Name, Kind: cfg.Kind, Pattern: cfg.Pattern,
		Predicate: cfg.Predicate, Action: cfg.Action, HDMLevel: cfg.HDMLevel,
		Enabled: !cfg.Disabled,
	}

	r.mu.Lock()
	if _, exists := r.byID[cfg.ID]; !exists {
		r.order = append(r.order, cfg.ID)
	}
	r.byID[cfg.ID] = t
	r.mu.Unlock()
	return t, nil
}

// Get returns a snapshot of the trigger registered under id.
func (r *Registry) Get(id string) (Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return Trigger{}, false
	}
	return *t, true
}

// Unregister removes a trigger by id. Unregistering an unknown id is a
// no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// All returns a snapshot of every registered trigger, in registration
// order.
func (r *Registry) All() []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Trigger, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// Matching evaluates every enabled trigger against evt and returns those
// that match, in registration order. A panicking predicate is treated as
// non-matching and reported via onPanic (if set) rather than crashing
// evaluation of the remaining triggers.
func (r *Registry) Matching(evt eventbus.Event, bus *eventbus.Bus) []*Trigger {
	r.mu.RLock()
	candidates := make([]*Trigger, 0, len(r.order))
	for _, id := range r.order {
		t := r.byID[id]
		if t.Enabled {
			candidates = append(candidates, t)
		}
	}
	r.mu.RUnlock()

	var matched []*Trigger
	for _, t := range candidates {
		if r.matches(evt, t, bus) {
			matched = append(matched, t)
		}
	}
	return matched
}

func (r *Registry) matches(evt eventbus.Event, t *Trigger, bus *eventbus.Bus) (matches bool) {
	switch t.Kind {
	case EventKind:
		if bus == nil {
			return evt.Name == t.Pattern
		}
		return matchEventName(bus, evt.Name, t.Pattern)
	case ConditionKind:
		defer func() {
			if rec := recover(); rec != nil {
				matches = false
				r.logger.Warn("trigger: condition predicate for %q panicked: %v", t.ID, rec)
				if r.onPanic != nil {
					r.onPanic(t.ID, fmt.Errorf("%v", rec))
				}
			}
		}()
		return t.Predicate(evt)
	default:
		return false
	}
}

// Fire stamps LastFired and increments FireCount for id. It is the
// caller's responsibility (the engine) to have already confirmed the
// trigger's HDMLevel gate passed; Fire unconditionally records the fire.
func (r *Registry) Fire(id string) (*Trigger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	now := r.clock.Now()
	t.LastFired = &now
	t.FireCount++
	cp := *t
	return &cp, true
}

// matchEventName delegates to the bus's own wildcard semantics so trigger
// matching and subscription matching never drift apart; exported via a
// tiny adapter since eventbus does not expose its matcher directly.
func matchEventName(bus *eventbus.Bus, name, pattern string) bool {
	return bus.MatchName(name, pattern)
}
