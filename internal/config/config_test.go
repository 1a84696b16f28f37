package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  environment: test\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	if cfg.Sampler.ReferenceWindow != 24*time.Hour {
		t.Fatalf("expected 24h reference window, got %s", cfg.Sampler.ReferenceWindow)
	}
	if cfg.Sampler.Lookback != time.Hour {
		t.Fatalf("expected 1h lookback, got %s", cfg.Sampler.Lookback)
	}
	if cfg.Notification.MinAnomalyScore != 0.7 {
		t.Fatalf("expected 0.7 min anomaly score, got %v", cfg.Notification.MinAnomalyScore)
	}
	if !cfg.Scheduler.RunOnStart {
		t.Fatalf("expected run_on_start to default to true")
	}
	if cfg.App.Environment != "test" {
		t.Fatalf("file value should override default, got %q", cfg.App.Environment)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spotwatch.yaml")
	body := `
sampler:
  regions: [us-west-2, eu-west-1]
  families: [m5.large]
  workers: 2
scheduler:
  interval: 1m
notification:
  system_owner: ops
  sms:
    enabled: true
    base_url: http://sms.local:8080
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Sampler.Regions) != 2 || cfg.Sampler.Regions[1] != "eu-west-1" {
		t.Fatalf("regions not decoded: %v", cfg.Sampler.Regions)
	}
	if cfg.Scheduler.Interval != time.Minute {
		t.Fatalf("interval not decoded: %s", cfg.Scheduler.Interval)
	}
	if cfg.Notification.SystemOwner != "ops" || !cfg.Notification.SMS.Enabled {
		t.Fatalf("notification section not decoded: %+v", cfg.Notification)
	}
}

func TestValidateRejectsUnsupportedSamplerRegion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("sampler:\n  regions: [moon-1]\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unsupported region must fail validation")
	}
}

func TestValidateEmailRequiresHost(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "email.yaml")
	if err := os.WriteFile(path, []byte("notification:\n  email:\n    enabled: true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("enabled email without host must fail")
	}
}
