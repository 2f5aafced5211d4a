package llm

import (
	"fmt"
	"sort"
	"sync"

	"medscreen/internal/config"
	"medscreen/internal/logging"
)

// Registry owns the per-(provider, model) limiter and breaker instances and
// the provider clients, constructed once at startup from configuration and
// injected into the dispatcher. There are no package-level singletons.
type Registry struct {
	providers map[string]config.ProviderConfig
	fallbacks map[string][]string

	mu       sync.RWMutex
	clients  map[string]Client
	limiters map[string]*AdaptiveLimiter
	breakers map[string]*Breaker

	rateCfg    config.RateConfig
	breakerCfg config.BreakerConfig
}

func pairKey(provider, model string) string { return provider + "/" + model }

// NewRegistry builds clients, limiters and breakers for every configured
// provider and model.
func NewRegistry(llmCfg config.LLMConfig, rateCfg config.RateConfig, breakerCfg config.BreakerConfig) (*Registry, error) {
	r := &Registry{
		providers:  llmCfg.Providers,
		fallbacks:  llmCfg.Fallbacks,
		clients:    make(map[string]Client),
		limiters:   make(map[string]*AdaptiveLimiter),
		breakers:   make(map[string]*Breaker),
		rateCfg:    rateCfg,
		breakerCfg: breakerCfg,
	}
	for name, pcfg := range llmCfg.Providers {
		client, err := NewClient(name, pcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build client for %s: %w", name, err)
		}
		r.clients[name] = client
		for _, m := range pcfg.Models {
			key := pairKey(name, m.ID)
			if pcfg.NoRateLimit {
				r.limiters[key] = NewUnlimited()
			} else {
				r.limiters[key] = NewAdaptiveLimiter(m.RPMInitial, rateCfg)
			}
			r.breakers[key] = NewBreaker(key, breakerCfg)
		}
		logging.Get(logging.CategoryBoot).Debug("registered provider %s with %d models", name, len(pcfg.Models))
	}
	return r, nil
}

// SetClient replaces a provider's client. Tests use this to inject fakes.
func (r *Registry) SetClient(provider string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[provider] = c
}

// Client returns the wire client for a provider.
func (r *Registry) Client(provider string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[provider]
	return c, ok
}

// Limiter returns the rate gate for a (provider, model) pair.
func (r *Registry) Limiter(provider, model string) (*AdaptiveLimiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[pairKey(provider, model)]
	return l, ok
}

// Breaker returns the circuit breaker for a (provider, model) pair.
func (r *Registry) Breaker(provider, model string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[pairKey(provider, model)]
	return b, ok
}

// ModelConfig resolves a model's configuration.
func (r *Registry) ModelConfig(provider, model string) (config.ModelConfig, bool) {
	p, ok := r.providers[provider]
	if !ok {
		return config.ModelConfig{}, false
	}
	return p.Model(model)
}

// Fallbacks returns the ordered fallback providers for a provider.
func (r *Registry) Fallbacks(provider string) []string {
	return r.fallbacks[provider]
}

// ModelOfTier returns a provider's first model matching the capability
// tier. Fallback routing never crosses tiers: a failing reasoning model
// falls back to another provider's reasoning model, not to a chat model.
func (r *Registry) ModelOfTier(provider string, tier config.ModelType) (config.ModelConfig, bool) {
	p, ok := r.providers[provider]
	if !ok {
		return config.ModelConfig{}, false
	}
	for _, m := range p.Models {
		if m.Type == tier {
			return m, true
		}
	}
	return config.ModelConfig{}, false
}

// Snapshot returns breaker stats sorted by name, for the status CLI.
func (r *Registry) Snapshot() []BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BreakerStats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
