// Package config builds the Autonomy Engine's construction-time options
// (spec.md §6.4) by layering defaults, an optional YAML file, environment
// variables, and caller-supplied functional-option overrides, tracking
// which layer won for each field the way the teacher's own config loader
// does.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cklxx/autonomy/internal/approval"
	"github.com/cklxx/autonomy/internal/cycle"
	"github.com/cklxx/autonomy/internal/scheduler"
)

// Source identifies which layer a field's final value came from.
type Source string

const (
	SourceDefault  Source = "default"
	SourceFile     Source = "file"
	SourceEnv      Source = "environment"
	SourceOverride Source = "override"
)

// DefaultHDMLevel and DefaultMaxHistory are the engine's built-in
// defaults absent any override.
const (
	DefaultHDMLevel   = approval.Moderate
	DefaultMaxHistory = 100
)

// Config is the engine's fully-resolved construction-time configuration.
type Config struct {
	RootDir    string
	HDMLevel   approval.Level
	Schedules  map[cycle.Kind]scheduler.Schedule
	MaxHistory int
}

// Metadata records, per field name, which layer supplied the final value.
type Metadata struct {
	sources  map[string]Source
	loadedAt time.Time
}

// Source reports the provenance of field, defaulting to SourceDefault if
// never overridden.
func (m Metadata) Source(field string) Source {
	if m.sources == nil {
		return SourceDefault
	}
	if s, ok := m.sources[field]; ok {
		return s
	}
	return SourceDefault
}

// LoadedAt is when this Metadata was produced.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

// fileConfig is the YAML file's shape; every field is optional and only
// overrides a default when present.
type fileConfig struct {
	RootDir    string             `yaml:"rootDir"`
	HDMLevel   *int               `yaml:"hdmLevel"`
	MaxHistory *int               `yaml:"maxHistory"`
	Schedules  map[string]schedEntry `yaml:"schedules"`
}

type schedEntry struct {
	Hour       int `yaml:"hour"`
	Minute     int `yaml:"minute"`
	DayOfWeek  int `yaml:"dayOfWeek"`
	DayOfMonth int `yaml:"dayOfMonth"`
}

// Overrides conveys caller-specified values taking precedence over file
// and environment sources.
type Overrides struct {
	RootDir    *string
	HDMLevel   *approval.Level
	MaxHistory *int
	Schedules  map[cycle.Kind]scheduler.Schedule
}

type loadOptions struct {
	configPath string
	viper      *viper.Viper
	overrides  Overrides
}

// Option customizes the loader.
type Option func(*loadOptions)

// WithConfigPath points the loader at a specific YAML file instead of
// the default <rootDir>/.eaos/autonomy/config.yaml.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithOverrides applies overrides last, after file and environment layers.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) { o.overrides = overrides }
}

// WithViper injects a pre-configured *viper.Viper in place of the
// package default, primarily so tests can set values directly instead
// of mutating process environment variables.
func WithViper(v *viper.Viper) Option {
	return func(o *loadOptions) { o.viper = v }
}

// Load builds a Config by layering defaults < YAML file < environment
// (via viper, prefix AUTONOMY_) < functional-option overrides.
func Load(rootDir string, opts ...Option) (Config, Metadata, error) {
	options := loadOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.viper == nil {
		options.viper = newEnvViper()
	}

	meta := Metadata{sources: map[string]Source{}, loadedAt: time.Now()}
	cfg := Config{
		RootDir:    rootDir,
		HDMLevel:   DefaultHDMLevel,
		Schedules:  scheduler.Defaults(),
		MaxHistory: DefaultMaxHistory,
	}

	path := options.configPath
	if path == "" {
		path = rootDir + "/.eaos/autonomy/config.yaml"
	}
	if err := applyFile(&cfg, &meta, path); err != nil {
		return Config{}, Metadata{}, err
	}

	applyEnv(&cfg, &meta, options.viper)
	applyOverrides(&cfg, &meta, options.overrides)

	if cfg.MaxHistory <= 0 {
		return Config{}, Metadata{}, fmt.Errorf("config: maxHistory must be positive, got %d", cfg.MaxHistory)
	}
	if !cfg.HDMLevel.Valid() {
		return Config{}, Metadata{}, fmt.Errorf("config: hdmLevel %d is out of range", cfg.HDMLevel)
	}
	return cfg, meta, nil
}

func applyFile(cfg *Config, meta *Metadata, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.RootDir != "" {
		cfg.RootDir = fc.RootDir
		meta.sources["RootDir"] = SourceFile
	}
	if fc.HDMLevel != nil {
		cfg.HDMLevel = approval.Level(*fc.HDMLevel)
		meta.sources["HDMLevel"] = SourceFile
	}
	if fc.MaxHistory != nil {
		cfg.MaxHistory = *fc.MaxHistory
		meta.sources["MaxHistory"] = SourceFile
	}
	for kindName, entry := range fc.Schedules {
		kind := cycle.Kind(kindName)
		cfg.Schedules[kind] = scheduler.Schedule{
			Hour: entry.Hour, Minute: entry.Minute,
			DayOfWeek: dayOfWeek(entry.DayOfWeek), DayOfMonth: entry.DayOfMonth,
		}
		meta.sources["Schedules."+kindName] = SourceFile
	}
	return nil
}

// newEnvViper builds the default *viper.Viper: AUTONOMY_-prefixed
// environment variables, automatically bound, with "." in key names
// mapped to "_" to match shell-friendly env var names.
func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("AUTONOMY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"root_dir", "hdm_level", "max_history"} {
		_ = v.BindEnv(key)
	}
	return v
}

// applyEnv overlays viper-resolved environment values above the file
// layer, matching the teacher's "env overrides file" precedence.
func applyEnv(cfg *Config, meta *Metadata, v *viper.Viper) {
	if v.IsSet("root_dir") {
		cfg.RootDir = v.GetString("root_dir")
		meta.sources["RootDir"] = SourceEnv
	}
	if v.IsSet("hdm_level") {
		cfg.HDMLevel = approval.Level(v.GetInt("hdm_level"))
		meta.sources["HDMLevel"] = SourceEnv
	}
	if v.IsSet("max_history") {
		cfg.MaxHistory = v.GetInt("max_history")
		meta.sources["MaxHistory"] = SourceEnv
	}
}

func applyOverrides(cfg *Config, meta *Metadata, overrides Overrides) {
	if overrides.RootDir != nil {
		cfg.RootDir = *overrides.RootDir
		meta.sources["RootDir"] = SourceOverride
	}
	if overrides.HDMLevel != nil {
		cfg.HDMLevel = *overrides.HDMLevel
		meta.sources["HDMLevel"] = SourceOverride
	}
	if overrides.MaxHistory != nil {
		cfg.MaxHistory = *overrides.MaxHistory
		meta.sources["MaxHistory"] = SourceOverride
	}
	for kind, sched := range overrides.Schedules {
		cfg.Schedules[kind] = sched
		meta.sources["Schedules."+string(kind)] = SourceOverride
	}
}

func dayOfWeek(n int) time.Weekday { return time.Weekday(n) }
