package config

import "os"

// ModelType groups models by capability tier. Fallback routing only crosses
// providers within the same tier.
type ModelType string

const (
	ModelChat       ModelType = "chat"
	ModelReasoning  ModelType = "reasoning"
	ModelMultimodal ModelType = "multimodal"
)

// ModelConfig describes one model of a provider.
type ModelConfig struct {
	ID                  string    `yaml:"id"`
	Type                ModelType `yaml:"type"`
	ContextWindow       int       `yaml:"context_window"`
	SupportsTemperature bool      `yaml:"supports_temperature"`
	RPMInitial          float64   `yaml:"rpm_initial,omitempty"`
	TimeoutSec          int       `yaml:"timeout_sec,omitempty"`
	MaxRetries          int       `yaml:"max_retries,omitempty"`
}

// ProviderConfig describes how to reach one LLM provider.
type ProviderConfig struct {
	// Wire identifies the request/response dialect: "openai", "anthropic"
	// or "gemini". Any OpenAI-compatible endpoint uses "openai".
	Wire         string            `yaml:"wire"`
	APIKeyEnvVar string            `yaml:"api_key_env_var"`
	BaseURL      string            `yaml:"base_url"`
	APIKeyHeader string            `yaml:"api_key_header"`
	// APIKeyFormat is a template like "Bearer {key}"; "{key}" alone sends
	// the bare key.
	APIKeyFormat string            `yaml:"api_key_format"`
	ExtraHeaders map[string]string `yaml:"extra_headers,omitempty"`
	// NoRateLimit skips the adaptive RPM gate for providers documented as
	// unmetered; the circuit breaker still applies.
	NoRateLimit bool          `yaml:"no_rate_limit,omitempty"`
	Models      []ModelConfig `yaml:"models"`
}

// APIKey resolves the provider's secret from the environment.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnvVar == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnvVar)
}

// Model looks up a model by id.
func (p ProviderConfig) Model(id string) (ModelConfig, bool) {
	for _, m := range p.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// ModelRef names one (provider, model) pair of the screening ensemble.
type ModelRef struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// LLMConfig is the provider catalog plus the ensemble roster.
type LLMConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	// Ensemble lists the models fanned out per screening call.
	Ensemble []ModelRef `yaml:"ensemble"`
	// Assessor is the single model used for per-criterion QA calls.
	Assessor ModelRef `yaml:"assessor"`
	// Fallbacks maps a provider to the ordered providers tried when it is
	// rate-limited or its breaker is open.
	Fallbacks map[string][]string `yaml:"fallbacks"`
}

// DefaultLLMConfig returns the built-in provider catalog. API keys come
// from the environment; providers without a key present are skipped at
// registry construction.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Providers: map[string]ProviderConfig{
			"openai": {
				Wire:         "openai",
				APIKeyEnvVar: "OPENAI_API_KEY",
				BaseURL:      "https://api.openai.com/v1",
				APIKeyHeader: "Authorization",
				APIKeyFormat: "Bearer {key}",
				Models: []ModelConfig{
					{ID: "gpt-4o", Type: ModelChat, ContextWindow: 128000, SupportsTemperature: true, RPMInitial: 60, TimeoutSec: 120, MaxRetries: 3},
					{ID: "o3-mini", Type: ModelReasoning, ContextWindow: 200000, SupportsTemperature: false, RPMInitial: 30, TimeoutSec: 300, MaxRetries: 4},
				},
			},
			"anthropic": {
				Wire:         "anthropic",
				APIKeyEnvVar: "ANTHROPIC_API_KEY",
				BaseURL:      "https://api.anthropic.com/v1",
				APIKeyHeader: "x-api-key",
				APIKeyFormat: "{key}",
				ExtraHeaders: map[string]string{"anthropic-version": "2023-06-01"},
				Models: []ModelConfig{
					{ID: "claude-sonnet-4-20250514", Type: ModelChat, ContextWindow: 200000, SupportsTemperature: true, RPMInitial: 50, TimeoutSec: 120, MaxRetries: 3},
				},
			},
			"gemini": {
				Wire:         "gemini",
				APIKeyEnvVar: "GEMINI_API_KEY",
				BaseURL:      "https://generativelanguage.googleapis.com/v1beta",
				APIKeyHeader: "x-goog-api-key",
				APIKeyFormat: "{key}",
				Models: []ModelConfig{
					{ID: "gemini-2.0-flash", Type: ModelChat, ContextWindow: 1000000, SupportsTemperature: true, RPMInitial: 60, TimeoutSec: 120, MaxRetries: 3},
				},
			},
			"deepseek": {
				Wire:         "openai",
				APIKeyEnvVar: "DEEPSEEK_API_KEY",
				BaseURL:      "https://api.deepseek.com/v1",
				APIKeyHeader: "Authorization",
				APIKeyFormat: "Bearer {key}",
				NoRateLimit:  true,
				Models: []ModelConfig{
					{ID: "deepseek-chat", Type: ModelChat, ContextWindow: 64000, SupportsTemperature: true, TimeoutSec: 180, MaxRetries: 3},
					{ID: "deepseek-reasoner", Type: ModelReasoning, ContextWindow: 64000, SupportsTemperature: false, TimeoutSec: 600, MaxRetries: 4},
				},
			},
		},
		Ensemble: []ModelRef{
			{Provider: "openai", Model: "gpt-4o"},
			{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
			{Provider: "gemini", Model: "gemini-2.0-flash"},
		},
		Assessor: ModelRef{Provider: "openai", Model: "gpt-4o"},
		Fallbacks: map[string][]string{
			"openai":    {"anthropic", "gemini"},
			"anthropic": {"openai", "gemini"},
			"gemini":    {"openai", "deepseek"},
		},
	}
}
