// Package plugin implements discovery, manifest validation, the
// load/enable/disable/unload lifecycle with dependency ordering, and
// priority-ordered hook dispatch with per-plugin fault isolation.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cklxx/autonomy/internal/hook"
)

// idPattern matches spec.md §3: "id must match [A-Za-z0-9_-]+ and be
// ≤100 chars".
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// safePathPattern is the character whitelist a manifest's "main" field
// must satisfy once absolute paths and ".." segments have been rejected.
var safePathPattern = regexp.MustCompile(`^[A-Za-z0-9_\-./]+$`)

// Manifest is the declarative plugin.json contract (spec.md §3).
type Manifest struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Description   string            `json:"description,omitempty"`
	Author        string            `json:"author,omitempty"`
	Dependencies  []string          `json:"dependencies,omitempty"`
	Main          string            `json:"main,omitempty"`
	Hooks         map[hook.Name]string `json:"hooks,omitempty"`
	HooksPriority map[hook.Name]int    `json:"hooksPriority,omitempty"`
	Config        map[string]any    `json:"config,omitempty"`
}

// Validate checks the manifest against spec.md §3's validation rules:
// id format/length, non-empty name/version, and (if present) a safe
// relative "main" path.
func (m Manifest) Validate() error {
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("plugin manifest: id %q must match [A-Za-z0-9_-]+", m.ID)
	}
	if len(m.ID) > 100 {
		return fmt.Errorf("plugin manifest: id %q exceeds 100 characters", m.ID)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("plugin manifest %q: name is required", m.ID)
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("plugin manifest %q: version is required", m.ID)
	}
	if m.Main != "" {
		if err := validateSafeRelativePath(m.Main); err != nil {
			return fmt.Errorf("plugin manifest %q: main: %w", m.ID, err)
		}
	}
	for name := range m.Hooks {
		if !name.Valid() {
			return fmt.Errorf("plugin manifest %q: unknown hook name %q", m.ID, name)
		}
	}
	return nil
}

// validateSafeRelativePath rejects absolute paths, ".." segments, null
// bytes, and any character outside [A-Za-z0-9_-./].
func validateSafeRelativePath(p string) error {
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path %q contains a null byte", p)
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q must be relative", p)
	}
	if !safePathPattern.MatchString(p) {
		return fmt.Errorf("path %q contains disallowed characters", p)
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return fmt.Errorf("path %q must not contain \"..\" segments", p)
		}
	}
	return nil
}

// LoadManifest reads and parses plugin.json from dir without validating
// it; callers call Validate separately so discovery can report the
// precise failing rule.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "plugin.json"))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// State is a Plugin's position in the Unloaded → Loaded → Enabled ⇄
// Disabled → Unloaded lifecycle (spec.md §3).
type State string

const (
	Unloaded State = "Unloaded"
	Loaded   State = "Loaded"
	Enabled  State = "Enabled"
	Disabled State = "Disabled"
	Error    State = "Error"
)

// Plugin is the Manager-owned record for one discovered plugin.
type Plugin struct {
	Manifest  Manifest
	BasePath  string
	State     State
	Instance  Instance
	LoadedAt  *time.Time
	LastError string
}

// Instance is the compiled-in object a plugin's manifest "main" resolves
// to. Go has no runtime module loading (design note in spec.md §9), so
// plugins are registrar functions compiled into the binary and looked up
// by the manifest's "main" path (or by plugin id when "main" is absent);
// Exports resolves the manifest's declared hook handler names against
// this instance's exported handlers, rejecting unknown names at load
// time rather than at dispatch.
type Instance interface {
	Exports() map[string]HookHandler
}

// HookHandler is a plugin's hook function. It may return an updated
// Context to be shallow-merged over the one it received, or an error
// (including a recovered panic) which the manager isolates per spec.md
// §4.4 unless ctx.StopOnError is set.
type HookHandler func(hook.Context) (hook.Context, error)

// Enabler is implemented by an Instance that wants to run setup logic
// when its plugin transitions to Enabled.
type Enabler interface {
	OnEnable(config map[string]any) error
}

// Disabler is implemented by an Instance that wants to run teardown logic
// when its plugin transitions to Disabled. Errors are logged, never
// fatal to the transition (spec.md §4.4: "best-effort").
type Disabler interface {
	OnDisable() error
}

// Unloader is implemented by an Instance that wants to release resources
// when its plugin is unloaded. Errors are logged, never fatal.
type Unloader interface {
	OnUnload() error
}

// Registrar constructs a fresh Instance for a plugin's compiled-in main
// module. The Manager is given a fixed table of these at construction,
// replacing the source's dynamic `require()`/`import()` of "main".
type Registrar func() Instance
