package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Watchdog.Interval != 15*time.Second {
		t.Errorf("Watchdog.Interval = %v, want 15s", cfg.Watchdog.Interval)
	}
	if cfg.Watchdog.ZombieAfter <= cfg.Watchdog.StaleAfter {
		t.Errorf("ZombieAfter (%v) must exceed StaleAfter (%v)", cfg.Watchdog.ZombieAfter, cfg.Watchdog.StaleAfter)
	}
	if cfg.Wait.Backoff < 1 {
		t.Errorf("Wait.Backoff = %v, want >= 1", cfg.Wait.Backoff)
	}
	if _, ok := cfg.Groups["all"]; !ok {
		t.Error("default groups missing \"all\"")
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
watchdog:
  interval: 30s
  stale_after: 2m
  zombie_after: 10m
  ai_triage_enabled: true
mail:
  debounce_window: 5s
groups:
  all:
    all: true
  workers:
    capabilities: ["scout", "builder"]
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Watchdog.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", cfg.Watchdog.Interval)
	}
	if !cfg.Watchdog.AITriageEnabled {
		t.Error("AITriageEnabled = false, want true")
	}
	if cfg.Mail.DebounceWindow != 5*time.Second {
		t.Errorf("DebounceWindow = %v, want 5s", cfg.Mail.DebounceWindow)
	}
	workers, ok := cfg.Groups["workers"]
	if !ok || len(workers.Capabilities) != 2 {
		t.Errorf("workers group = %+v", workers)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
