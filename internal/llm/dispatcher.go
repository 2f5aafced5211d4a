package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"medscreen/internal/config"
	"medscreen/internal/logging"
)

// CallSpec is one dispatch request. ValidDecisions lists the labels a
// cacheable response may carry; responses outside the set (errors, free
// text) bypass the cache.
type CallSpec struct {
	Provider       string
	Model          string
	SystemPrompt   string
	Prompt         string
	Params         Params
	ValidDecisions []string
}

// Caller is the dispatch capability the pipelines depend on. Dispatcher is
// the production implementation; tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, spec CallSpec) (Response, error)
}

// Dispatcher composes cache, rate limiter, circuit breaker, provider client
// and fallback routing behind a single Call. The retry loop is an explicit
// candidate/attempt state machine, not nested error handling.
type Dispatcher struct {
	reg   *Registry
	cache *Cache
	retry config.RetryConfig

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(context.Context, time.Duration) error // test hook
}

// NewDispatcher wires a dispatcher from its parts.
func NewDispatcher(reg *Registry, cache *Cache, retry config.RetryConfig) *Dispatcher {
	return &Dispatcher{
		reg:   reg,
		cache: cache,
		retry: retry,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// candidate is one (provider, model) route for a call.
type candidate struct {
	provider string
	model    config.ModelConfig
}

// candidates resolves the primary route plus same-tier fallbacks.
func (d *Dispatcher) candidates(provider, model string) []candidate {
	primary, ok := d.reg.ModelConfig(provider, model)
	if !ok {
		// Unknown model: call it anyway with defaults so misconfiguration
		// surfaces as a provider error, not a silent skip.
		primary = config.ModelConfig{ID: model, Type: config.ModelChat, SupportsTemperature: true}
	}
	out := []candidate{{provider: provider, model: primary}}
	for _, fb := range d.reg.Fallbacks(provider) {
		if m, ok := d.reg.ModelOfTier(fb, primary.Type); ok {
			out = append(out, candidate{provider: fb, model: m})
		}
	}
	return out
}

// Call is the single entry point for "call an LLM with this prompt".
func (d *Dispatcher) Call(ctx context.Context, spec CallSpec) (Response, error) {
	fullPrompt := spec.SystemPrompt + "\n" + spec.Prompt
	key := CacheKey(spec.Provider, spec.Model, fullPrompt, paramsMap(spec.Params))
	if resp, ok := d.cache.Get(key); ok {
		logging.DispatchDebug("cache hit for %s/%s", spec.Provider, spec.Model)
		return resp, nil
	}

	cands := d.candidates(spec.Provider, spec.Model)
	var lastErr error
	for i, cand := range cands {
		hasNext := i+1 < len(cands)
		resp, err, switchover := d.callCandidate(ctx, spec, cand, hasNext)
		if err == nil {
			d.maybeCache(key, spec, resp)
			return resp, nil
		}
		lastErr = err
		if !switchover {
			return Response{}, err
		}
		logging.DispatchWarn("switching from %s/%s to fallback: %v", cand.provider, cand.model.ID, err)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no provider candidates for %s/%s", spec.Provider, spec.Model)
	}
	return Response{}, lastErr
}

// callCandidate runs the attempt loop against one route. switchover
// reports whether the caller should try the next fallback candidate.
func (d *Dispatcher) callCandidate(ctx context.Context, spec CallSpec, cand candidate, hasNext bool) (resp Response, err error, switchover bool) {
	client, ok := d.reg.Client(cand.provider)
	if !ok {
		return Response{}, fmt.Errorf("no client for provider %s", cand.provider), hasNext
	}
	limiter, _ := d.reg.Limiter(cand.provider, cand.model.ID)
	breaker, _ := d.reg.Breaker(cand.provider, cand.model.ID)
	if limiter == nil {
		limiter = NewUnlimited()
	}
	if breaker == nil {
		breaker = NewBreaker(pairKey(cand.provider, cand.model.ID), config.DefaultBreakerConfig())
	}

	maxRetries := d.retry.MaxRetries
	if cand.model.MaxRetries > 0 {
		maxRetries = cand.model.MaxRetries
	}
	req := Request{
		Model:               cand.model.ID,
		SystemPrompt:        spec.SystemPrompt,
		Prompt:              spec.Prompt,
		Params:              spec.Params,
		SupportsTemperature: cand.model.SupportsTemperature,
		Timeout:             time.Duration(cand.model.TimeoutSec) * time.Second,
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		for !limiter.Allow() {
			// The limiter is the backpressure mechanism: hand off to a
			// fallback if one exists, otherwise wait one slot and ask
			// again. Proceeding after a single wait would let concurrent
			// waiters burst past the gate.
			if hasNext {
				return Response{}, &CallError{
					Kind: KindRateLimit, Provider: cand.provider, Model: cand.model.ID,
					Message: "local rate gate denied",
				}, true
			}
			if err := d.sleep(ctx, limiter.WaitInterval()); err != nil {
				return Response{}, transportError(cand.provider, cand.model.ID, err), false
			}
		}

		resp, err = breaker.Execute(func() (Response, error) {
			return client.Complete(ctx, req)
		})
		if err == nil {
			limiter.RecordSuccess()
			resp.Provider = cand.provider
			resp.Model = cand.model.ID
			return resp, nil, false
		}

		switch KindOf(err) {
		case KindRateLimit:
			limiter.RecordRateLimitError()
			if hasNext {
				return Response{}, err, true
			}
		case KindCircuitOpen:
			return Response{}, err, hasNext
		case KindAuth, KindInvalidResponse:
			// Deterministic failures: retrying cannot help.
			return Response{}, err, false
		default:
			limiter.RecordFailure()
		}

		if attempt == maxRetries || !retryableHere(err) {
			return Response{}, err, false
		}
		if sleepErr := d.sleep(ctx, d.backoff(attempt)); sleepErr != nil {
			return Response{}, transportError(cand.provider, cand.model.ID, sleepErr), false
		}
		logging.DispatchDebug("retrying %s/%s after %v (attempt %d/%d)", cand.provider, cand.model.ID, err, attempt+1, maxRetries)
	}
	return Response{}, err, false
}

// retryableHere mirrors Retryable but keeps rate-limit retries in the loop
// only when no fallback absorbed them.
func retryableHere(err error) bool { return Retryable(err) }

// backoff computes min(base * 2^attempt, max) with symmetric jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	base := d.retry.BaseDelaySec * math.Pow(2, float64(attempt))
	if base > d.retry.MaxDelaySec {
		base = d.retry.MaxDelaySec
	}
	d.mu.Lock()
	jitter := 1 + d.retry.JitterPct*(2*d.rng.Float64()-1)
	d.mu.Unlock()
	return time.Duration(base * jitter * float64(time.Second))
}

// maybeCache stores a response only when its decision label is valid.
func (d *Dispatcher) maybeCache(key string, spec CallSpec, resp Response) {
	if len(spec.ValidDecisions) == 0 {
		return
	}
	label := decisionOf(resp.Text)
	for _, valid := range spec.ValidDecisions {
		if label == valid {
			d.cache.Put(key, resp)
			return
		}
	}
}

// Stats exposes the registry's breaker snapshot.
func (d *Dispatcher) Stats() []BreakerStats { return d.reg.Snapshot() }

func paramsMap(p Params) map[string]string {
	out := map[string]string{}
	if p.Temperature != nil {
		out["temperature"] = strconv.FormatFloat(*p.Temperature, 'f', -1, 64)
	}
	if p.MaxTokens != 0 {
		out["max_tokens"] = strconv.Itoa(p.MaxTokens)
	}
	if p.Seed != nil {
		out["seed"] = strconv.FormatInt(*p.Seed, 10)
	}
	return out
}
