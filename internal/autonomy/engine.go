// Package autonomy composes the Persistence, Event Bus, Plugin Manager,
// Trigger Registry, Scheduler, and Cycle Runner components into the
// Autonomy Engine (spec.md §4.8): the top-level object a host process
// constructs, starts, and stops.
package autonomy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cklxx/autonomy/internal/approval"
	"github.com/cklxx/autonomy/internal/clock"
	"github.com/cklxx/autonomy/internal/cycle"
	"github.com/cklxx/autonomy/internal/eventbus"
	"github.com/cklxx/autonomy/internal/hook"
	"github.com/cklxx/autonomy/internal/logging"
	"github.com/cklxx/autonomy/internal/metrics"
	"github.com/cklxx/autonomy/internal/persistence"
	"github.com/cklxx/autonomy/internal/plugin"
	"github.com/cklxx/autonomy/internal/scheduler"
	"github.com/cklxx/autonomy/internal/trigger"
)

var _ hook.Dispatcher = (*plugin.Manager)(nil)

// defaultMaxHistory is the in-memory cycle history cap absent an
// explicit WithMaxHistory (spec.md §6.4), matching
// config.DefaultMaxHistory. This is distinct from
// persistence.MaxCycleHistory (10), which bounds only the cycleHistory
// slice persisted into state.json (spec.md §6.1).
const defaultMaxHistory = 100

// Battery is the fixed task sequence and handler table for one cycle
// kind (spec.md §3: batteries are compile-time constants in this
// version). A host process supplies these at construction; the engine
// itself only sequences and gates their execution.
type Battery struct {
	Tasks    []cycle.Task
	Handlers cycle.Handlers
}

// Engine is the Autonomy Engine. Its zero value is not usable; construct
// with New.
type Engine struct {
	mu         sync.RWMutex
	rootDir    string
	state      persistence.RuntimeState
	hdmLevel   approval.Level
	maxHistory int

	bus      *eventbus.Bus
	store    *persistence.Store
	plugins  *plugin.Manager
	triggers *trigger.Registry
	sched    *scheduler.Scheduler
	runner   *cycle.Runner
	metrics  *metrics.Collector
	logger   logging.Logger
	clk      clock.Clock

	batteries        map[cycle.Kind]Battery
	pendingSchedules map[cycle.Kind]scheduler.Schedule
	actions          map[string]ActionFunc

	lastCycleRun   map[cycle.Kind]time.Time
	cycleHistory   []cycle.Report
	// persistedHistory mirrors what is written into state.json's
	// cycleHistory field: the last persistence.MaxCycleHistory (10)
	// reports only (spec.md §6.1), maintained independently of
	// cycleHistory/maxHistory, which govern the larger in-memory
	// history GetLogs serves (spec.md §6.4, default 100).
	persistedHistory []cycle.Report

	unsubscribe eventbus.Disposer
	inFlight    map[cycle.Kind]bool
}

// Option customizes an Engine at construction.
type Option func(*Engine)

// WithHDMLevel sets the initial approval ceiling (default Moderate).
func WithHDMLevel(level approval.Level) Option {
	return func(e *Engine) { e.hdmLevel = level }
}

// WithMaxHistory overrides the engine's in-memory cycle history cap
// (default 100, spec.md §6.4). The persisted state.json projection is
// capped separately, at persistence.MaxCycleHistory (10, spec.md §6.1),
// regardless of this setting.
func WithMaxHistory(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxHistory = n
		}
	}
}

// WithBus injects a pre-built event bus (tests, or a shared bus across
// subsystems).
func WithBus(bus *eventbus.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithPluginManager injects a pre-built plugin manager.
func WithPluginManager(m *plugin.Manager) Option {
	return func(e *Engine) { e.plugins = m }
}

// WithClock injects the time source used by the scheduler, registry, and
// runner.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithLogger injects the logging collaborator.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(logger) }
}

// WithMetrics injects a metrics collector; omitted, a no-op collector is
// used.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithSchedule overrides one cycle kind's fire schedule.
func WithSchedule(kind cycle.Kind, sched scheduler.Schedule) Option {
	return func(e *Engine) { e.pendingSchedules[kind] = sched }
}

// WithBattery registers the fixed task sequence and handler table for
// kind.
func WithBattery(kind cycle.Kind, battery Battery) Option {
	return func(e *Engine) { e.batteries[kind] = battery }
}

// WithAction overrides or adds an entry to the fixed action registry
// (spec.md §6.5), the registry's named extension point.
func WithAction(name string, fn ActionFunc) Option {
	return func(e *Engine) { e.actions[name] = fn }
}

// New constructs an Engine rooted at rootDir (the base directory for
// persistence and plugin discovery, spec.md §6.4).
func New(rootDir string, opts ...Option) *Engine {
	e := &Engine{
		rootDir:          rootDir,
		state:            persistence.StateStopped,
		hdmLevel:         approval.Moderate,
		maxHistory:       defaultMaxHistory,
		clk:              clock.New(),
		logger:           logging.OrNop(nil),
		batteries:        make(map[cycle.Kind]Battery),
		pendingSchedules: make(map[cycle.Kind]scheduler.Schedule),
		lastCycleRun:     make(map[cycle.Kind]time.Time),
		inFlight:         make(map[cycle.Kind]bool),
	}
	e.actions = defaultActions(e)

	for _, opt := range opts {
		opt(e)
	}

	if e.bus == nil {
		e.bus = eventbus.New(eventbus.WithLogger(e.logger))
	}
	if e.plugins == nil {
		e.plugins = plugin.New(rootDir+"/plugins", e.bus, plugin.WithLogger(e.logger))
	}
	if e.metrics == nil {
		e.metrics = metrics.OrNop(nil)
	}
	e.store = persistence.New(rootDir, persistence.WithLogger(e.logger))
	e.triggers = trigger.New(
		trigger.WithClock(e.clk),
		trigger.WithLogger(e.logger),
		trigger.WithPanicObserver(func(id string, err error) {
			e.logger.Warn("autonomy: trigger %q predicate panicked: %v", id, err)
		}),
	)
	e.runner = cycle.New(e.bus, e.plugins, e.clk, e.logger)

	schedOpts := []scheduler.Option{scheduler.WithClock(e.clk), scheduler.WithLogger(e.logger)}
	for kind, sched := range e.pendingSchedules {
		schedOpts = append(schedOpts, scheduler.WithSchedule(kind, sched))
	}
	e.sched = scheduler.New(schedOpts...)

	return e
}

// Name identifies this subsystem for lifecycle-manager registration.
func (e *Engine) Name() string { return "autonomy-engine" }

// Initialize ensures the persistence directories exist, restores any
// previously saved state and registered triggers, installs the engine's
// built-in default triggers, and discovers plugins on disk (spec.md
// §4.8).
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.store.EnsureDirs(); err != nil {
		return fmt.Errorf("autonomy: initialize: %w", err)
	}

	saved := e.store.LoadState()
	e.mu.Lock()
	if saved.State != "" {
		e.hdmLevel = saved.HDMLevel
	}
	if saved.LastCycleRun != nil {
		e.lastCycleRun = saved.LastCycleRun
	}
	e.cycleHistory = saved.CycleHistory
	e.persistedHistory = saved.CycleHistory
	e.mu.Unlock()

	for _, proj := range saved.Triggers {
		if _, err := e.triggers.Register(trigger.Config{
			ID: proj.ID, Name: proj.Name, Kind: proj.Kind, Pattern: proj.Pattern,
			Action: proj.Action, HDMLevel: proj.HDMLevel, Disabled: !proj.Enabled,
		}); err != nil {
			e.logger.Warn("autonomy: restore trigger %q: %v", proj.ID, err)
		}
	}
	e.registerDefaultTriggers()

	if _, errs := e.plugins.Discover(); len(errs) > 0 {
		for _, err := range errs {
			e.logger.Warn("autonomy: plugin discovery: %v", err)
		}
	}
	return nil
}

// registerDefaultTriggers installs the engine's built-in condition and
// event triggers alongside whatever was restored from the persisted
// snapshot. An id that already exists (restored from the snapshot) is
// skipped so a restored trigger's fire history is never reset by a
// redundant re-registration.
func (e *Engine) registerDefaultTriggers() {
	defaults := []trigger.Config{
		{
			ID: "default-error-rate", Name: "error rate above 5%", Kind: trigger.ConditionKind,
			Action: "alertAndDiagnose", HDMLevel: approval.Low,
			Predicate: func(evt eventbus.Event) bool {
				rate, ok := evt.Get("errorRate")
				f, isFloat := rate.(float64)
				return ok && isFloat && f > 0.05
			},
		},
		{
			ID: "default-burn-rate", Name: "burn rate above 1.5x", Kind: trigger.ConditionKind,
			Action: "financialAlert", HDMLevel: approval.Moderate,
			Predicate: func(evt eventbus.Event) bool {
				rate, ok := evt.Get("burnRate")
				f, isFloat := rate.(float64)
				return ok && isFloat && f > 1.5
			},
		},
		{
			ID: "default-code-change", Name: "code change security sweep", Kind: trigger.EventKind,
			Pattern: "vcs:commit:*", Action: "runSecuritySweep", HDMLevel: approval.Low,
		},
	}
	for _, cfg := range defaults {
		if _, exists := e.triggers.Get(cfg.ID); exists {
			continue
		}
		if _, err := e.triggers.Register(cfg); err != nil {
			e.logger.Warn("autonomy: default trigger %q: %v", cfg.ID, err)
		}
	}
}

// Start transitions the engine from Stopped to Running: subscribes the
// engine's wildcard event listener and arms the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != persistence.StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("autonomy: start: engine is %s, not Stopped", e.state)
	}
	e.mu.Unlock()

	e.unsubscribe = e.bus.On("*", func(evt eventbus.Event) error {
		e.processEvent(ctx, evt)
		return nil
	})

	if err := e.sched.Start(func(kind cycle.Kind) { e.onScheduledFire(ctx, kind) }); err != nil {
		e.unsubscribe()
		return fmt.Errorf("autonomy: start scheduler: %w", err)
	}

	e.mu.Lock()
	e.state = persistence.StateRunning
	e.mu.Unlock()

	e.emit(ctx, "autonomy:engine:start", nil)
	e.persist(ctx)
	return nil
}

// Stop cancels pending scheduled timers, drops the wildcard
// subscription, and transitions to Stopped. An in-progress cycle runs to
// completion; Stop does not abort it (spec.md §5).
func (e *Engine) Stop(ctx context.Context) error {
	e.sched.Stop()
	if e.unsubscribe != nil {
		e.unsubscribe()
	}

	e.mu.Lock()
	e.state = persistence.StateStopped
	e.mu.Unlock()

	e.emit(ctx, "autonomy:engine:stop", nil)
	e.persist(ctx)
	return nil
}

// Drain stops new cycles from arming and waits, bounded by ctx, for any
// in-progress cycle to finish before transitioning to Stopped — a
// graceful variant of Stop for callers that want to avoid walking away
// while a cycle is mid-flight.
func (e *Engine) Drain(ctx context.Context) error {
	e.sched.Stop()
	if e.unsubscribe != nil {
		e.unsubscribe()
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for e.anyCycleInFlight() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	e.mu.Lock()
	e.state = persistence.StateStopped
	e.mu.Unlock()
	e.emit(ctx, "autonomy:engine:stop", nil)
	e.persist(ctx)
	return nil
}

func (e *Engine) anyCycleInFlight() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, running := range e.inFlight {
		if running {
			return true
		}
	}
	return false
}

// Pause toggles Running to Paused. While Paused, processEvent ignores
// incoming events; scheduled timers keep firing but RunCycle returns nil
// for them since the engine is not Running and Force is absent.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	if e.state != persistence.StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("autonomy: pause: engine is %s, not Running", e.state)
	}
	e.state = persistence.StatePaused
	e.mu.Unlock()
	e.emit(ctx, "autonomy:engine:pause", nil)
	e.persist(ctx)
	return nil
}

// Resume toggles Paused back to Running.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.state != persistence.StatePaused {
		e.mu.Unlock()
		return fmt.Errorf("autonomy: resume: engine is %s, not Paused", e.state)
	}
	e.state = persistence.StateRunning
	e.mu.Unlock()
	e.emit(ctx, "autonomy:engine:resume", nil)
	e.persist(ctx)
	return nil
}

func (e *Engine) onScheduledFire(ctx context.Context, kind cycle.Kind) {
	if _, err := e.RunCycle(ctx, kind, cycle.Options{}); err != nil {
		e.logger.Warn("autonomy: scheduled %s cycle: %v", kind, err)
	}
}

// RunCycle executes kind's registered battery, enforcing that no two
// cycles of the same kind overlap (spec.md §5). opts.Force bypasses the
// "engine must be Running" gate, matching a manually-triggered cycle.
func (e *Engine) RunCycle(ctx context.Context, kind cycle.Kind, opts cycle.Options) (*cycle.Report, error) {
	if !e.tryEnterCycle(kind) {
		return nil, fmt.Errorf("autonomy: a %s cycle is already running", kind)
	}
	defer e.exitCycle(kind)

	e.mu.RLock()
	running := e.state == persistence.StateRunning
	battery, ok := e.batteries[kind]
	level := e.hdmLevel
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("autonomy: no battery registered for cycle kind %q", kind)
	}

	e.metrics.CyclesInFlight.Inc()
	defer e.metrics.CyclesInFlight.Dec()

	report, err := e.runner.Run(ctx, kind, battery.Tasks, battery.Handlers, running, cycle.Options{
		Force: opts.Force, EngineLevel: level,
	})
	if err != nil || report == nil {
		return report, err
	}

	if _, werr := e.store.WriteCycleReport(*report); werr != nil {
		e.logger.Warn("autonomy: write cycle report: %v", werr)
	}

	e.mu.Lock()
	if !report.EndTime.IsZero() {
		e.lastCycleRun[kind] = report.EndTime
	}
	e.cycleHistory = append(e.cycleHistory, *report)
	if over := len(e.cycleHistory) - e.maxHistory; over > 0 {
		e.cycleHistory = e.cycleHistory[over:]
	}
	persisted := persistence.EngineState{CycleHistory: e.persistedHistory}.WithCycleReport(*report)
	e.persistedHistory = persisted.CycleHistory
	e.mu.Unlock()

	e.metrics.CyclesTotal.WithLabelValues(string(kind), string(report.Status)).Inc()
	e.persist(ctx)
	return report, nil
}

func (e *Engine) tryEnterCycle(kind cycle.Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[kind] {
		return false
	}
	e.inFlight[kind] = true
	return true
}

func (e *Engine) exitCycle(kind cycle.Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight[kind] = false
}

// RegisterTrigger adds cfg to the trigger registry and persists the
// updated snapshot.
func (e *Engine) RegisterTrigger(cfg trigger.Config) (*trigger.Trigger, error) {
	t, err := e.triggers.Register(cfg)
	if err != nil {
		return nil, err
	}
	e.persist(context.Background())
	return t, nil
}

// UnregisterTrigger removes id from the trigger registry and persists
// the updated snapshot. Unregistering an unknown id is a no-op.
func (e *Engine) UnregisterTrigger(id string) {
	e.triggers.Unregister(id)
	e.persist(context.Background())
}

// GetTriggers returns a snapshot of every registered trigger.
func (e *Engine) GetTriggers() []trigger.Trigger {
	return e.triggers.All()
}

// GetPlugins returns a snapshot of every discovered plugin.
func (e *Engine) GetPlugins() []plugin.Plugin {
	return e.plugins.All()
}

// LogQuery filters GetLogs. A nil Kind/Status matches every cycle; a
// non-positive Limit returns every match.
type LogQuery struct {
	Kind   *cycle.Kind
	Status *cycle.Status
	Limit  int
}

// GetLogs returns cycle reports from the engine's in-memory history
// (capped at maxHistory), newest first, matching q.
func (e *Engine) GetLogs(q LogQuery) []cycle.Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []cycle.Report
	for i := len(e.cycleHistory) - 1; i >= 0; i-- {
		r := e.cycleHistory[i]
		if q.Kind != nil && r.Kind != *q.Kind {
			continue
		}
		if q.Status != nil && r.Status != *q.Status {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// Status is the queryable health snapshot returned by GetStatus.
type Status struct {
	State        persistence.RuntimeState
	HDMLevel     approval.Level
	LastCycleRun map[cycle.Kind]time.Time
	NextFire     map[cycle.Kind]time.Time
	TriggerCount int
	PluginCount  int
}

// GetStatus reports the engine's current lifecycle state, approval
// ceiling, last-run and next-fire times per cycle kind, and trigger and
// plugin counts.
func (e *Engine) GetStatus() Status {
	e.mu.RLock()
	lastRun := make(map[cycle.Kind]time.Time, len(e.lastCycleRun))
	for k, v := range e.lastCycleRun {
		lastRun[k] = v
	}
	st := Status{State: e.state, HDMLevel: e.hdmLevel, LastCycleRun: lastRun}
	e.mu.RUnlock()

	st.NextFire = map[cycle.Kind]time.Time{
		cycle.Daily:   e.sched.NextFireTime(cycle.Daily),
		cycle.Weekly:  e.sched.NextFireTime(cycle.Weekly),
		cycle.Monthly: e.sched.NextFireTime(cycle.Monthly),
	}
	st.TriggerCount = len(e.triggers.All())
	st.PluginCount = len(e.plugins.All())
	return st
}

// processEvent iterates registered triggers against evt, gating each
// match by the engine's approval ceiling before dispatching its action.
// Any internal error is caught, logged, and never propagated (spec.md
// §7).
func (e *Engine) processEvent(ctx context.Context, evt eventbus.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("autonomy: processEvent panicked: %v", r)
		}
	}()

	e.mu.RLock()
	state := e.state
	level := e.hdmLevel
	e.mu.RUnlock()
	if state != persistence.StateRunning {
		return
	}

	for _, t := range e.triggers.Matching(evt, e.bus) {
		if !approval.Allows(t.HDMLevel, level) {
			e.metrics.ApprovalDenials.WithLabelValues(t.Name).Inc()
			e.emit(ctx, "autonomy:approval:required", map[string]any{
				"subject": t.Name, "requiredLevel": int(t.HDMLevel), "engineLevel": int(level),
			})
			continue
		}
		fired, ok := e.triggers.Fire(t.ID)
		if !ok {
			continue
		}
		e.metrics.TriggerFiresTotal.WithLabelValues(fired.ID, fired.Action).Inc()
		e.emit(ctx, "autonomy:trigger:fire", map[string]any{
			"id": fired.ID, "name": fired.Name, "action": fired.Action, "fireCount": fired.FireCount,
		})
		e.dispatchAction(ctx, *fired, evt)
	}
}

func (e *Engine) dispatchAction(ctx context.Context, t trigger.Trigger, evt eventbus.Event) {
	fn, ok := e.actions[t.Action]
	if !ok {
		e.logger.Warn("autonomy: unknown action %q for trigger %q", t.Action, t.ID)
		return
	}
	if err := fn(ctx, t, evt); err != nil {
		e.logger.Warn("autonomy: action %q for trigger %q failed: %v", t.Action, t.ID, err)
	}
}

func (e *Engine) emit(ctx context.Context, name string, data map[string]any) {
	if err := e.bus.Emit(ctx, name, data); err != nil {
		e.logger.Warn("autonomy: emit %q: %v", name, err)
	}
}

// persist saves the current EngineState snapshot. Failures are logged,
// never fatal to the caller (spec.md §4.2, §7).
func (e *Engine) persist(ctx context.Context) {
	state := e.snapshot()
	if err := e.store.SaveState(state); err != nil {
		e.logger.Warn("autonomy: persist state: %v", err)
	}
}

func (e *Engine) snapshot() persistence.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	lastRun := make(map[cycle.Kind]time.Time, len(e.lastCycleRun))
	for k, v := range e.lastCycleRun {
		lastRun[k] = v
	}
	// history is e.persistedHistory, not e.cycleHistory: the persisted
	// snapshot keeps only the last persistence.MaxCycleHistory (10)
	// reports (spec.md §6.1), independent of e.maxHistory's larger
	// in-memory cap (spec.md §6.4).
	history := make([]cycle.Report, len(e.persistedHistory))
	copy(history, e.persistedHistory)
	var triggers []trigger.Projection
	for _, t := range e.triggers.All() {
		triggers = append(triggers, t.Project())
	}
	return persistence.EngineState{
		State: e.state, HDMLevel: e.hdmLevel, LastCycleRun: lastRun,
		CycleHistory: history, Triggers: triggers, UpdatedAt: e.clk.Now(),
	}
}
