package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Engine.Interval != 60*time.Second {
		t.Errorf("expected default interval 60s, got %s", cfg.Engine.Interval)
	}
	if cfg.Engine.Cooldown != 5*time.Minute {
		t.Errorf("expected default cooldown 5m, got %s", cfg.Engine.Cooldown)
	}
	if cfg.Engine.HourlyCap != 10 {
		t.Errorf("expected default hourly cap 10, got %d", cfg.Engine.HourlyCap)
	}
	if cfg.Detector.CPUPercent != 80 {
		t.Errorf("expected default cpu threshold 80, got %.1f", cfg.Detector.CPUPercent)
	}
	if cfg.Executor.DevMode {
		t.Error("dev mode must be off by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
engine:
  interval: 30s
  hourlyCap: 3
  minSeverity: medium
detector:
  diskPercent: 95
  services: [nginx, sshd]
watcher:
  criticalPaths: [/etc/nixos/configuration.nix]
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Interval != 30*time.Second {
		t.Errorf("interval not applied, got %s", cfg.Engine.Interval)
	}
	if cfg.Engine.HourlyCap != 3 {
		t.Errorf("hourlyCap not applied, got %d", cfg.Engine.HourlyCap)
	}
	if len(cfg.Detector.Services) != 2 || cfg.Detector.Services[0] != "nginx" {
		t.Errorf("services not applied, got %v", cfg.Detector.Services)
	}
	if len(cfg.Watcher.CriticalPaths) != 1 {
		t.Errorf("critical paths not applied, got %v", cfg.Watcher.CriticalPaths)
	}
	// Untouched values keep defaults.
	if cfg.Engine.Cooldown != 5*time.Minute {
		t.Errorf("cooldown default lost, got %s", cfg.Engine.Cooldown)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LUMEN_HEAL_DEV_MODE", "1")
	t.Setenv("LUMEN_HEAL_HOURLY_CAP", "7")
	t.Setenv("LUMEN_HEAL_SOCKET", "/tmp/test-heal.sock")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Executor.DevMode {
		t.Error("LUMEN_HEAL_DEV_MODE=1 should enable dev mode")
	}
	if cfg.Engine.HourlyCap != 7 {
		t.Errorf("env hourly cap not applied, got %d", cfg.Engine.HourlyCap)
	}
	if cfg.Executor.SocketPath != "/tmp/test-heal.sock" {
		t.Errorf("env socket path not applied, got %s", cfg.Executor.SocketPath)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Engine.Interval = 0 }},
		{"zero cap", func(c *Config) { c.Engine.HourlyCap = 0 }},
		{"bad severity", func(c *Config) { c.Engine.MinSeverity = "urgent" }},
		{"cpu threshold over 100", func(c *Config) { c.Detector.CPUPercent = 120 }},
		{"negative disk threshold", func(c *Config) { c.Detector.DiskPercent = -1 }},
		{"empty socket", func(c *Config) { c.Executor.SocketPath = "" }},
		{"zero executor timeout", func(c *Config) { c.Executor.Timeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}
