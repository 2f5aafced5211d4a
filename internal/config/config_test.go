package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("failure_threshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Cache.MaxSize != 1000 {
		t.Errorf("cache max_size = %d, want 1000", cfg.Cache.MaxSize)
	}
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
circuit_breaker:
  failure_threshold: 7
ensemble:
  tau_high: 0.9
  tau_mid: 0.6
  tau_low: 0.2
storage:
  pdf_retention_sec: 120
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Breaker.FailureThreshold != 7 {
		t.Errorf("failure_threshold = %d, want 7", cfg.Breaker.FailureThreshold)
	}
	if cfg.Ensemble.TauHigh != 0.9 {
		t.Errorf("tau_high = %v, want 0.9", cfg.Ensemble.TauHigh)
	}
	if cfg.Storage.PDFRetentionSec != 120 {
		t.Errorf("pdf_retention_sec = %d, want 120", cfg.Storage.PDFRetentionSec)
	}
	// Untouched sections keep defaults.
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("retry.max_retries = %d, want 3", cfg.Retry.MaxRetries)
	}
}

func TestLoadRejectsInvalidThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
ensemble:
  tau_high: 0.3
  tau_mid: 0.5
  tau_low: 0.1
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected threshold ordering error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MEDSCREEN_REDIS_ADDR", "localhost:7777")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.RedisAddr != "localhost:7777" {
		t.Errorf("redis addr = %q, want env override", cfg.Storage.RedisAddr)
	}
}

func TestProviderAPIKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	p := DefaultLLMConfig().Providers["openai"]
	if p.APIKey() != "sk-test" {
		t.Errorf("APIKey() = %q, want sk-test", p.APIKey())
	}
	if _, ok := p.Model("gpt-4o"); !ok {
		t.Error("gpt-4o missing from default catalog")
	}
	if m, _ := p.Model("o3-mini"); m.SupportsTemperature {
		t.Error("reasoning model should not support temperature")
	}
}
