package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/cklxx/autonomy/internal/approval"
	"github.com/cklxx/autonomy/internal/cycle"
)

func TestLoadDefaultsWhenNoFileOrEnv(t *testing.T) {
	root := t.TempDir()
	cfg, meta, err := Load(root, WithViper(viper.New()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HDMLevel != DefaultHDMLevel {
		t.Fatalf("expected default HDMLevel, got %v", cfg.HDMLevel)
	}
	if cfg.MaxHistory != DefaultMaxHistory {
		t.Fatalf("expected default MaxHistory, got %d", cfg.MaxHistory)
	}
	if meta.Source("HDMLevel") != SourceDefault {
		t.Fatalf("expected SourceDefault, got %s", meta.Source("HDMLevel"))
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".eaos", "autonomy")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	yamlContent := "hdmLevel: 3\nmaxHistory: 50\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, meta, err := Load(root, WithViper(viper.New()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HDMLevel != approval.High {
		t.Fatalf("expected High from file, got %v", cfg.HDMLevel)
	}
	if cfg.MaxHistory != 50 {
		t.Fatalf("expected 50 from file, got %d", cfg.MaxHistory)
	}
	if meta.Source("HDMLevel") != SourceFile {
		t.Fatalf("expected SourceFile, got %s", meta.Source("HDMLevel"))
	}
}

func TestEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".eaos", "autonomy")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("hdmLevel: 1\n"), 0o644)

	v := viper.New()
	v.Set("hdm_level", 4)

	cfg, meta, err := Load(root, WithViper(v))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HDMLevel != approval.Critical {
		t.Fatalf("expected env override to win, got %v", cfg.HDMLevel)
	}
	if meta.Source("HDMLevel") != SourceEnv {
		t.Fatalf("expected SourceEnv, got %s", meta.Source("HDMLevel"))
	}
}

func TestOverrideWinsOverEverything(t *testing.T) {
	root := t.TempDir()
	v := viper.New()
	v.Set("hdm_level", 4)
	level := approval.Informational

	cfg, meta, err := Load(root, WithViper(v), WithOverrides(Overrides{HDMLevel: &level}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HDMLevel != approval.Informational {
		t.Fatalf("expected override to win, got %v", cfg.HDMLevel)
	}
	if meta.Source("HDMLevel") != SourceOverride {
		t.Fatalf("expected SourceOverride, got %s", meta.Source("HDMLevel"))
	}
}

func TestInvalidMaxHistoryRejected(t *testing.T) {
	root := t.TempDir()
	zero := 0
	_, _, err := Load(root, WithViper(viper.New()), WithOverrides(Overrides{MaxHistory: &zero}))
	if err == nil {
		t.Fatal("expected error for non-positive MaxHistory")
	}
}

func TestScheduleOverrideFromFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".eaos", "autonomy")
	os.MkdirAll(dir, 0o755)
	yamlContent := "schedules:\n  Daily:\n    hour: 5\n    minute: 15\n"
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlContent), 0o644)

	cfg, _, err := Load(root, WithViper(viper.New()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := cfg.Schedules[cycle.Daily]
	if got.Hour != 5 || got.Minute != 15 {
		t.Fatalf("expected overridden Daily schedule, got %+v", got)
	}
}
