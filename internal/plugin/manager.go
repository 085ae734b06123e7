package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/cklxx/autonomy/internal/async"
	"github.com/cklxx/autonomy/internal/eventbus"
	"github.com/cklxx/autonomy/internal/hook"
	"github.com/cklxx/autonomy/internal/logging"
)

// hookEntry is one plugin's resolved handler for one hook point, ordered
// by descending Manifest.HooksPriority with registration order as the
// tiebreak.
type hookEntry struct {
	pluginID string
	priority int
	seq      int
	handler  HookHandler
}

// Manager discovers, validates, loads, enables, disables, and unloads
// plugins, and dispatches hook invocations to enabled plugins' handlers
// in priority order with per-plugin fault isolation (spec.md §4.4).
type Manager struct {
	mu         sync.RWMutex
	root       string
	registrars map[string]Registrar
	plugins    map[string]*Plugin
	order      []string
	hooks      map[hook.Name][]hookEntry
	seq        int

	bus    *eventbus.Bus
	logger logging.Logger
	watch  *fsnotify.Watcher
}

// Option customizes a Manager at construction.
type Option func(*Manager)

// WithLogger injects the logging collaborator.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(logger) }
}

// WithRegistrar binds a compiled-in Registrar to the manifest "main" path
// (or plugin id, if the manifest omits "main") it resolves for.
func WithRegistrar(key string, r Registrar) Option {
	return func(m *Manager) { m.registrars[key] = r }
}

// New constructs a Manager rooted at dir, the directory whose immediate
// children are each expected to hold a plugin.json.
func New(dir string, bus *eventbus.Bus, opts ...Option) *Manager {
	m := &Manager{
		root:       dir,
		registrars: make(map[string]Registrar),
		plugins:    make(map[string]*Plugin),
		hooks:      make(map[hook.Name][]hookEntry),
		bus:        bus,
		logger:     logging.OrNop(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Discover enumerates the immediate subdirectories of root, reads and
// validates each plugin.json, and registers valid manifests as Unloaded
// plugins. A single bad manifest does not abort discovery of the rest;
// its error is returned alongside the successfully discovered ids.
func (m *Manager) Discover() ([]string, []error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, []error{fmt.Errorf("plugin: discover %s: %w", m.root, err)}
	}

	var found []string
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())
		manifest, err := LoadManifest(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("plugin dir %s: %w", entry.Name(), err))
			continue
		}
		if err := manifest.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}

		m.mu.Lock()
		if _, exists := m.plugins[manifest.ID]; !exists {
			m.order = append(m.order, manifest.ID)
		}
		m.plugins[manifest.ID] = &Plugin{Manifest: manifest, BasePath: dir, State: Unloaded}
		m.mu.Unlock()
		found = append(found, manifest.ID)
	}
	return found, errs
}

// Register adds an already-built manifest directly (bypassing directory
// discovery), useful for plugins registered programmatically at startup.
func (m *Manager) Register(manifest Manifest, basePath string) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[manifest.ID]; !exists {
		m.order = append(m.order, manifest.ID)
	}
	m.plugins[manifest.ID] = &Plugin{Manifest: manifest, BasePath: basePath, State: Unloaded}
	return nil
}

// Get returns a snapshot of the plugin record for id.
func (m *Manager) Get(id string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[id]
	if !ok {
		return Plugin{}, false
	}
	return *p, true
}

// All returns a snapshot of every known plugin, in discovery order.
func (m *Manager) All() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Plugin, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.plugins[id])
	}
	return out
}

// Load resolves id's Instance via its registrar, verifies declared
// dependencies are at least Loaded, resolves declared hook handler names
// against the instance's exports, and transitions the plugin to Loaded.
// A failure at any step transitions the plugin to Error with the
// captured reason and is returned to the caller.
func (m *Manager) Load(id string) error {
	m.mu.Lock()
	p, ok := m.plugins[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: not found", id)
	}
	manifest := p.Manifest
	m.mu.Unlock()

	for _, dep := range manifest.Dependencies {
		m.mu.RLock()
		d, exists := m.plugins[dep]
		m.mu.RUnlock()
		if !exists || (d.State != Loaded && d.State != Enabled) {
			return m.fail(id, fmt.Errorf("plugin %q: missing dependency %q", id, dep))
		}
	}

	key := manifest.Main
	if key == "" {
		key = manifest.ID
	}
	registrar, ok := m.registrars[key]
	if !ok {
		return m.fail(id, fmt.Errorf("plugin %q: no registrar bound for %q", id, key))
	}
	instance := registrar()

	exports := instance.Exports()
	entries := make(map[hook.Name]hookEntry, len(manifest.Hooks))
	for name, exportName := range manifest.Hooks {
		handler, ok := exports[exportName]
		if !ok {
			return m.fail(id, fmt.Errorf("plugin %q: hook %q references unknown export %q", id, name, exportName))
		}
		priority := manifest.HooksPriority[name]
		entries[name] = hookEntry{pluginID: id, priority: priority, handler: handler}
	}

	now := time.Now()
	m.mu.Lock()
	p.Instance = instance
	p.State = Loaded
	p.LoadedAt = &now
	p.LastError = ""
	for name, e := range entries {
		m.seq++
		e.seq = m.seq
		m.hooks[name] = insertSorted(m.hooks[name], e)
	}
	m.mu.Unlock()

	m.emit("plugin:load", id)
	return nil
}

// Enable transitions a Loaded or Disabled plugin to Enabled, first
// requiring that every declared dependency is itself Enabled (recursing
// with cycle detection, since a dependency cycle can never be
// satisfied).
func (m *Manager) Enable(id string, config map[string]any) error {
	if err := m.ensureDependenciesEnabled(id, make(map[string]bool)); err != nil {
		return err
	}

	m.mu.RLock()
	p, ok := m.plugins[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %q: not found", id)
	}
	if p.State != Loaded && p.State != Disabled {
		return fmt.Errorf("plugin %q: cannot enable from state %s", id, p.State)
	}

	if enabler, ok := p.Instance.(Enabler); ok {
		if err := enabler.OnEnable(config); err != nil {
			return m.fail(id, fmt.Errorf("plugin %q: OnEnable: %w", id, err))
		}
	}

	m.mu.Lock()
	p.State = Enabled
	m.mu.Unlock()
	m.emit("plugin:enable", id)
	return nil
}

func (m *Manager) ensureDependenciesEnabled(id string, visiting map[string]bool) error {
	if visiting[id] {
		return fmt.Errorf("plugin %q: dependency cycle detected", id)
	}
	visiting[id] = true

	m.mu.RLock()
	p, ok := m.plugins[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %q: not found", id)
	}
	for _, dep := range p.Manifest.Dependencies {
		m.mu.RLock()
		d, exists := m.plugins[dep]
		m.mu.RUnlock()
		if !exists {
			return fmt.Errorf("plugin %q: missing dependency %q", id, dep)
		}
		if d.State == Enabled {
			continue
		}
		if err := m.ensureDependenciesEnabled(dep, visiting); err != nil {
			return err
		}
		if d.State != Enabled {
			if err := m.Enable(dep, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Disable transitions an Enabled plugin to Disabled. OnDisable errors are
// logged and emitted as plugin:error but never block the transition
// (spec.md §4.4: best-effort teardown).
func (m *Manager) Disable(id string) error {
	m.mu.RLock()
	p, ok := m.plugins[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %q: not found", id)
	}
	if p.State != Enabled {
		return fmt.Errorf("plugin %q: cannot disable from state %s", id, p.State)
	}

	if disabler, ok := p.Instance.(Disabler); ok {
		if err := disabler.OnDisable(); err != nil {
			m.logger.Warn("plugin %q: OnDisable failed: %v", id, err)
			m.emitError(id, "", err)
		}
	}

	m.mu.Lock()
	p.State = Disabled
	m.mu.Unlock()
	m.emit("plugin:disable", id)
	return nil
}

// Unload releases a plugin's resources and returns it to Unloaded,
// unregistering its hook entries. Unload is rejected while another
// Loaded-or-later plugin still declares id as a dependency.
func (m *Manager) Unload(id string) error {
	m.mu.RLock()
	for _, other := range m.plugins {
		if other.Manifest.ID == id {
			continue
		}
		if other.State == Unloaded {
			continue
		}
		for _, dep := range other.Manifest.Dependencies {
			if dep == id {
				m.mu.RUnlock()
				return fmt.Errorf("plugin %q: in use by %q", id, other.Manifest.ID)
			}
		}
	}
	p, ok := m.plugins[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %q: not found", id)
	}

	if unloader, ok := p.Instance.(Unloader); ok {
		if err := unloader.OnUnload(); err != nil {
			m.logger.Warn("plugin %q: OnUnload failed: %v", id, err)
			m.emitError(id, "", err)
		}
	}

	m.mu.Lock()
	p.State = Unloaded
	p.Instance = nil
	p.LoadedAt = nil
	for name, entries := range m.hooks {
		kept := entries[:0]
		for _, e := range entries {
			if e.pluginID != id {
				kept = append(kept, e)
			}
		}
		m.hooks[name] = kept
	}
	m.mu.Unlock()
	m.emit("plugin:unload", id)
	return nil
}

// Dispatch runs every Enabled plugin's handler for name, in descending
// priority order (registration order breaks ties), merging each returned
// Context over the one passed along the chain. A handler's error or
// panic is isolated: logged, emitted as plugin:error, and skipped,
// unless the in-flight context has StopOnError set, in which case
// dispatch of this hook point stops at that handler.
func (m *Manager) Dispatch(name hook.Name, ctx hook.Context) hook.Context {
	m.mu.RLock()
	entries := append([]hookEntry(nil), m.hooks[name]...)
	states := make(map[string]State, len(m.plugins))
	for id, p := range m.plugins {
		states[id] = p.State
	}
	m.mu.RUnlock()

	current := ctx
	for _, e := range entries {
		if states[e.pluginID] != Enabled {
			continue
		}
		updated, err := m.invoke(e, current)
		if err != nil {
			m.logger.Warn("plugin %q: hook %q failed: %v", e.pluginID, name, err)
			m.emitError(e.pluginID, string(name), err)
			if current.StopOnError {
				break
			}
			continue
		}
		current = current.Merge(updated)
	}
	return current
}

func (m *Manager) invoke(e hookEntry, ctx hook.Context) (updated hook.Context, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return e.handler(ctx)
}

// Watch starts a best-effort fsnotify watch on root and on each plugin
// subdirectory (existing ones and ones created later), re-running
// Discover whenever a plugin directory or a file inside one is created,
// written, removed, or renamed. It does not itself
// Load/Enable anything it finds; that orchestration belongs to the
// autonomy engine, which can react to newly discovered plugin ids
// however its policy dictates. Watch returns immediately; the watch
// loop runs until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("plugin: watch: %w", err)
	}
	if err := w.Add(m.root); err != nil {
		w.Close()
		return fmt.Errorf("plugin: watch %s: %w", m.root, err)
	}
	if entries, err := os.ReadDir(m.root); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = w.Add(filepath.Join(m.root, entry.Name()))
			}
		}
	}
	m.mu.Lock()
	m.watch = w
	m.mu.Unlock()

	async.Go(m.logger, "plugin.watch", func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = w.Add(ev.Name)
					}
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					if _, errs := m.Discover(); len(errs) > 0 {
						m.logger.Warn("plugin: rediscovery after %s reported %d error(s)", ev.Name, len(errs))
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				m.logger.Warn("plugin: watch error: %v", werr)
			}
		}
	})
	return nil
}

func (m *Manager) fail(id string, err error) error {
	m.mu.Lock()
	if p, ok := m.plugins[id]; ok {
		p.State = Error
		p.LastError = err.Error()
	}
	m.mu.Unlock()
	return err
}

func (m *Manager) emit(name, id string) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Emit(context.Background(), name, map[string]any{"pluginId": id})
}

func (m *Manager) emitError(pluginID, hookName string, cause error) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Emit(context.Background(), "plugin:error", map[string]any{
		"pluginId": pluginID,
		"hook":     hookName,
		"error":    cause.Error(),
		"traceId":  uuid.NewString(),
	})
}

// insertSorted inserts e into entries keeping descending-priority order
// with ascending sequence number as the tiebreak, matching the "higher
// priority runs first, ties in registration order" rule.
func insertSorted(entries []hookEntry, e hookEntry) []hookEntry {
	entries = append(entries, e)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
	return entries
}
