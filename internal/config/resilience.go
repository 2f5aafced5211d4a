package config

import "time"

// BreakerConfig shapes the per-(provider, model) circuit breakers.
type BreakerConfig struct {
	FailureThreshold   int `yaml:"failure_threshold"`
	RecoveryTimeoutSec int `yaml:"recovery_timeout_sec"`
	SuccessThreshold   int `yaml:"success_threshold"`
	RequestTimeoutSec  int `yaml:"request_timeout_sec"`
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:   5,
		RecoveryTimeoutSec: 60,
		SuccessThreshold:   3,
		RequestTimeoutSec:  120,
	}
}

// RecoveryTimeout returns the open-state duration.
func (b BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(b.RecoveryTimeoutSec) * time.Second
}

// RequestTimeout is the default per-call deadline when a model carries no
// timeout of its own.
func (b BreakerConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSec) * time.Second
}

// RateConfig shapes the adaptive per-model RPM gate.
type RateConfig struct {
	RPMInitial  float64 `yaml:"per_model_rpm_initial"`
	RPMMin      float64 `yaml:"rpm_min"`
	RPMMax      float64 `yaml:"rpm_max"`
	AdjustAlpha float64 `yaml:"adjust_alpha"`
}

func DefaultRateConfig() RateConfig {
	return RateConfig{
		RPMInitial:  60,
		RPMMin:      6,
		RPMMax:      300,
		AdjustAlpha: 0.1,
	}
}

// CacheConfig shapes the response cache.
type CacheConfig struct {
	MaxSize int `yaml:"max_size"`
	TTLSec  int `yaml:"ttl_sec"`
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxSize: 1000, TTLSec: 3600}
}

func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

// RetryConfig shapes the dispatcher's backoff loop.
type RetryConfig struct {
	MaxRetries   int     `yaml:"max_retries"`
	BaseDelaySec float64 `yaml:"base_delay_sec"`
	MaxDelaySec  float64 `yaml:"max_delay_sec"`
	JitterPct    float64 `yaml:"jitter_pct"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelaySec: 1,
		MaxDelaySec:  30,
		JitterPct:    0.1,
	}
}

// EnsembleConfig shapes aggregation thresholds and the per-record deadline.
type EnsembleConfig struct {
	TauHigh              float64 `yaml:"tau_high"`
	TauMid               float64 `yaml:"tau_mid"`
	TauLow               float64 `yaml:"tau_low"`
	PerRecordDeadlineSec int     `yaml:"per_record_deadline_sec"`
}

func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		TauHigh:              0.85,
		TauMid:               0.5,
		TauLow:               0.3,
		PerRecordDeadlineSec: 3500,
	}
}

func (e EnsembleConfig) PerRecordDeadline() time.Duration {
	return time.Duration(e.PerRecordDeadlineSec) * time.Second
}
