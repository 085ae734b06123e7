// Package eventbus implements the in-process publish/subscribe router:
// wildcard pattern matching, bounded event history, and async fan-out to
// subscribers with per-handler fault isolation.
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cklxx/autonomy/internal/async"
	"github.com/cklxx/autonomy/internal/logging"
)

// Handler is invoked for every event matching a subscription's pattern.
// An error return (or a panic, recovered by the bus) marks the delivery
// as failed without aborting delivery to sibling subscribers or failing
// Emit itself.
type Handler func(Event) error

// Disposer detaches the subscription it was returned for. Calling it more
// than once is a no-op.
type Disposer func()

// DefaultHistoryCap is the default size of the bounded event history ring.
const DefaultHistoryCap = 100

type subscription struct {
	id      string
	pattern string
	handler Handler
	once    bool
}

// Bus is the event router. The zero value is not usable; construct with
// New.
type Bus struct {
	mu         sync.RWMutex
	subs       []*subscription
	history    []Event
	historyCap int
	matcher    *matcher
	logger     logging.Logger
	onFailure  func(subPattern string, evt Event, err error)
}

// Option customizes a Bus at construction.
type Option func(*Bus)

// WithLogger injects the logging collaborator.
func WithLogger(logger logging.Logger) Option {
	return func(b *Bus) { b.logger = logging.OrNop(logger) }
}

// WithHistoryCap overrides the bounded history ring size.
func WithHistoryCap(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historyCap = n
		}
	}
}

// WithFailureObserver installs a callback invoked whenever a handler
// returns an error, after delivery to that subscriber. A handler panic is
// recovered and logged but does not reach this callback.
func WithFailureObserver(fn func(pattern string, evt Event, err error)) Option {
	return func(b *Bus) { b.onFailure = fn }
}

// New constructs a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		historyCap: DefaultHistoryCap,
		matcher:    newMatcher(),
		logger:     logging.OrNop(nil),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers a persistent subscription and returns a disposer that
// detaches it.
func (b *Bus) On(pattern string, handler Handler) Disposer {
	return b.subscribe(pattern, handler, false)
}

// Once registers a subscription that auto-detaches after its first
// matching delivery.
func (b *Bus) Once(pattern string, handler Handler) Disposer {
	return b.subscribe(pattern, handler, true)
}

func (b *Bus) subscribe(pattern string, handler Handler, once bool) Disposer {
	sub := &subscription{id: uuid.NewString(), pattern: pattern, handler: handler, once: once}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var disposed sync.Once
	return func() {
		disposed.Do(func() { b.remove(sub.id) })
	}
}

// Off removes the subscription registered on pattern with this exact
// handler. Go funcs are not comparable with ==, so identity is established
// via the function pointer (reflect), matching the common idiom for
// "unsubscribe by reference" APIs; prefer the Disposer returned by On/Once
// when a closure is involved, since two distinct closures never compare
// equal even if they wrap the same top-level function.
func (b *Bus) Off(pattern string, handler Handler) {
	if handler == nil {
		return
	}
	target := reflect.ValueOf(handler).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.pattern == pattern && reflect.ValueOf(s.handler).Pointer() == target {
			continue
		}
		kept = append(kept, s)
	}
	b.subs = kept
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit publishes name with data, appends it to history, and completes only
// after every matching handler has run to completion (successfully or
// not). Handler failures are isolated: they never cause Emit to fail and
// never stop delivery to remaining subscribers.
func (b *Bus) Emit(ctx context.Context, name string, data map[string]any) error {
	evt := Event{ID: uuid.NewString(), Name: name, Data: data, Timestamp: time.Now()}
	b.appendHistory(evt)

	matched, onceIDs := b.snapshotMatching(name)
	if len(onceIDs) > 0 {
		b.removeIDs(onceIDs)
	}
	if len(matched) == 0 {
		return nil
	}

	fns := make([]func() error, len(matched))
	for i, s := range matched {
		s := s
		fns[i] = func() error { return s.handler(evt.clone()) }
	}
	async.FanOut(b.logger, "eventbus.emit:"+name, fns, func(i int, err error) {
		s := matched[i]
		b.logger.Warn("eventbus: handler for pattern %q failed on event %q: %v", s.pattern, name, err)
		if b.onFailure != nil {
			b.onFailure(s.pattern, evt, err)
		}
	})
	return ctx.Err()
}

// snapshotMatching returns, in registration order, every live subscription
// matching name, plus the ids of any "once" subscriptions among them (to
// be atomically removed by the caller before handlers run).
func (b *Bus) snapshotMatching(name string) ([]*subscription, []string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []*subscription
	var onceIDs []string
	for _, s := range b.subs {
		if b.matcher.Match(name, s.pattern) {
			matched = append(matched, s)
			if s.once {
				onceIDs = append(onceIDs, s.id)
			}
		}
	}
	return matched, onceIDs
}

func (b *Bus) removeIDs(ids []string) {
	if len(ids) == 0 {
		return
	}
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	for _, s := range b.subs {
		if _, gone := remove[s.id]; gone {
			continue
		}
		kept = append(kept, s)
	}
	b.subs = kept
}

func (b *Bus) appendHistory(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, evt)
	if over := len(b.history) - b.historyCap; over > 0 {
		b.history = b.history[over:]
	}
}

// WaitFor blocks until the next event matching pattern arrives, or
// timeout elapses.
func (b *Bus) WaitFor(ctx context.Context, pattern string, timeout time.Duration) (Event, error) {
	ch := make(chan Event, 1)
	dispose := b.Once(pattern, func(e Event) error {
		select {
		case ch <- e:
		default:
		}
		return nil
	})
	defer dispose()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e := <-ch:
		return e, nil
	case <-timer.C:
		return Event{}, fmt.Errorf("eventbus: timed out waiting for %q after %s", pattern, timeout)
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// MatchName reports whether name satisfies pattern under the bus's
// wildcard rule, exposed so other components (the trigger registry) can
// reuse exactly the same matching semantics emit() uses.
func (b *Bus) MatchName(name, pattern string) bool {
	return b.matcher.Match(name, pattern)
}

// History returns a snapshot of the bounded history, oldest first, newest
// last, optionally filtered by pattern.
func (b *Bus) History(pattern string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if pattern == "" {
		out := make([]Event, len(b.history))
		copy(out, b.history)
		return out
	}
	var out []Event
	for _, e := range b.history {
		if b.matcher.Match(e.Name, pattern) {
			out = append(out, e)
		}
	}
	return out
}
