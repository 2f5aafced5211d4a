// Package config holds all medscreen configuration. Each concern lives in
// its own file; Default() gives a runnable configuration and Load merges a
// YAML file plus environment overrides on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// Workspace is the directory for logs, snapshots and stored PDFs.
	Workspace string `yaml:"workspace"`

	LLM      LLMConfig      `yaml:"llm"`
	Breaker  BreakerConfig  `yaml:"circuit_breaker"`
	Rate     RateConfig     `yaml:"rate_limit"`
	Cache    CacheConfig    `yaml:"cache"`
	Retry    RetryConfig    `yaml:"retry"`
	Ensemble EnsembleConfig `yaml:"ensemble"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns a configuration that runs out of the box with the
// built-in provider catalog.
func Default() Config {
	return Config{
		Workspace: ".",
		LLM:       DefaultLLMConfig(),
		Breaker:   DefaultBreakerConfig(),
		Rate:      DefaultRateConfig(),
		Cache:     DefaultCacheConfig(),
		Retry:     DefaultRetryConfig(),
		Ensemble:  DefaultEnsembleConfig(),
		Storage:   DefaultStorageConfig(),
		Logging:   DefaultLoggingConfig(),
	}
}

// Load reads a YAML config file on top of defaults and applies environment
// overrides. A missing file is not an error; defaults plus env apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from the environment. API keys are
// always env-sourced (see ProviderConfig.APIKeyEnvVar); these are the
// operational knobs.
func (c *Config) applyEnv() {
	if v := os.Getenv("MEDSCREEN_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("MEDSCREEN_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("MEDSCREEN_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}

// Validate checks cross-field invariants the engine depends on.
func (c Config) Validate() error {
	if !(c.Ensemble.TauHigh > c.Ensemble.TauMid && c.Ensemble.TauMid > c.Ensemble.TauLow) {
		return fmt.Errorf("ensemble thresholds must satisfy tau_high > tau_mid > tau_low, got %.2f/%.2f/%.2f",
			c.Ensemble.TauHigh, c.Ensemble.TauMid, c.Ensemble.TauLow)
	}
	if c.Rate.RPMMin <= 0 || c.Rate.RPMMax < c.Rate.RPMMin {
		return fmt.Errorf("rate_limit bounds invalid: min=%.1f max=%.1f", c.Rate.RPMMin, c.Rate.RPMMax)
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker thresholds must be positive")
	}
	for name, p := range c.LLM.Providers {
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s has no models", name)
		}
	}
	return nil
}
