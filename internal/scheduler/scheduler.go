package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cklxx/autonomy/internal/async"
	"github.com/cklxx/autonomy/internal/clock"
	"github.com/cklxx/autonomy/internal/cycle"
	"github.com/cklxx/autonomy/internal/logging"
)

// Scheduler owns one timer per cycle kind, arming each from NextFire and
// re-arming it after every fire, plus an optional robfig/cron
// housekeeping job independent of the per-kind timers (spec.md §4.6).
type Scheduler struct {
	mu        sync.Mutex
	clock     clock.Clock
	logger    logging.Logger
	schedules map[cycle.Kind]Schedule
	timers    map[cycle.Kind]clock.Timer
	stopped   map[cycle.Kind]bool
	onFire    func(cycle.Kind)
	done      chan struct{}
	doneOnce  sync.Once

	housekeeping     *cron.Cron
	housekeepingSpec string
	onHousekeeping   func()
}

// Option customizes a Scheduler at construction.
type Option func(*Scheduler)

// WithLogger injects the logging collaborator.
func WithLogger(logger logging.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.OrNop(logger) }
}

// WithClock injects the time source driving timer arming.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithSchedule overrides the built-in default for one cycle kind.
func WithSchedule(kind cycle.Kind, sched Schedule) Option {
	return func(s *Scheduler) { s.schedules[kind] = sched }
}

// WithHousekeeping arms a robfig/cron job on spec (standard 5-field cron
// syntax) that runs fn independently of the Daily/Weekly/Monthly timers
// — used for self-checks such as emitting autonomy:health:check without
// tying that cadence to any cycle kind.
func WithHousekeeping(spec string, fn func()) Option {
	return func(s *Scheduler) {
		s.housekeepingSpec = spec
		s.onHousekeeping = fn
	}
}

// New constructs a Scheduler with the built-in Defaults, overridable via
// WithSchedule.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:     clock.New(),
		logger:    logging.OrNop(nil),
		schedules: Defaults(),
		timers:    make(map[cycle.Kind]clock.Timer),
		stopped:   make(map[cycle.Kind]bool),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms a timer for each of Daily, Weekly, Monthly, invoking onFire
// when each fires, and starts the housekeeping cron job if configured.
func (s *Scheduler) Start(onFire func(cycle.Kind)) error {
	s.mu.Lock()
	s.onFire = onFire
	// Clear the effects of a previous Stop so a restarted scheduler arms
	// its timers again.
	s.stopped = make(map[cycle.Kind]bool)
	s.done = make(chan struct{})
	s.doneOnce = sync.Once{}
	s.mu.Unlock()

	for _, kind := range []cycle.Kind{cycle.Daily, cycle.Weekly, cycle.Monthly} {
		s.Arm(kind)
	}

	if s.housekeepingSpec != "" && s.onHousekeeping != nil {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		s.housekeeping = cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
		if _, err := s.housekeeping.AddFunc(s.housekeepingSpec, s.onHousekeeping); err != nil {
			return fmt.Errorf("scheduler: invalid housekeeping spec %q: %w", s.housekeepingSpec, err)
		}
		s.housekeeping.Start()
	}
	return nil
}

// Arm computes the next fire instant for kind and arms a single timer
// for it, replacing any existing one. When the timer fires, onFire is
// invoked and Arm is called again to schedule the following occurrence.
func (s *Scheduler) Arm(kind cycle.Kind) {
	s.mu.Lock()
	if s.stopped[kind] {
		s.mu.Unlock()
		return
	}
	sched := s.schedules[kind]
	now := s.clock.Now()
	next := NextFire(kind, sched, now)
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	if existing, ok := s.timers[kind]; ok {
		existing.Stop()
	}
	timer := s.clock.NewTimer(d)
	s.timers[kind] = timer
	s.mu.Unlock()

	async.Go(s.logger, "scheduler.wait:"+string(kind), func() {
		select {
		case <-s.done:
			return
		case _, ok := <-timer.C():
			if !ok {
				return
			}
		}
		s.mu.Lock()
		stopped := s.stopped[kind]
		fire := s.onFire
		s.mu.Unlock()
		if stopped {
			return
		}
		if fire != nil {
			fire(kind)
		}
		s.Arm(kind)
	})
}

// NextFireTime exposes the next-fire computation for kind under the
// scheduler's current schedule and clock, for status reporting.
func (s *Scheduler) NextFireTime(kind cycle.Kind) time.Time {
	s.mu.Lock()
	sched := s.schedules[kind]
	now := s.clock.Now()
	s.mu.Unlock()
	return NextFire(kind, sched, now)
}

// Stop cancels every per-kind timer and the housekeeping cron job.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for kind, timer := range s.timers {
		s.stopped[kind] = true
		timer.Stop()
	}
	housekeeping := s.housekeeping
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
	if housekeeping != nil {
		housekeeping.Stop()
	}
}
