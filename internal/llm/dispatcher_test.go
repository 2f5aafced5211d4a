package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"medscreen/internal/config"
)

type fakeClient struct {
	provider string

	mu    sync.Mutex
	calls int
	fn    func(req Request) (Response, error)
}

func (f *fakeClient) Provider() string { return f.provider }

func (f *fakeClient) Complete(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func respondWith(text string) func(Request) (Response, error) {
	return func(Request) (Response, error) {
		return Response{Text: text, Latency: 5 * time.Millisecond}, nil
	}
}

func failWith(kind ErrorKind, provider, model string) func(Request) (Response, error) {
	return func(Request) (Response, error) {
		return Response{}, &CallError{Kind: kind, Provider: provider, Model: model, Message: "fake failure"}
	}
}

// newTestDispatcher wires two providers: alpha (primary) falling back to
// beta, both carrying one chat model, with fake clients injected.
func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeClient, *fakeClient) {
	t.Helper()
	llmCfg := config.LLMConfig{
		Providers: map[string]config.ProviderConfig{
			"alpha": {
				Wire: "openai",
				Models: []config.ModelConfig{
					{ID: "alpha-chat", Type: config.ModelChat, SupportsTemperature: true, RPMInitial: 300, MaxRetries: 2},
				},
			},
			"beta": {
				Wire: "openai",
				Models: []config.ModelConfig{
					{ID: "beta-chat", Type: config.ModelChat, SupportsTemperature: true, RPMInitial: 300, MaxRetries: 2},
				},
			},
		},
		Fallbacks: map[string][]string{"alpha": {"beta"}},
	}
	reg, err := NewRegistry(llmCfg, testRateConfig(), testBreakerConfig())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	alpha := &fakeClient{provider: "alpha", fn: respondWith(`{"decision":"INCLUDE","score":0.9}`)}
	beta := &fakeClient{provider: "beta", fn: respondWith(`{"decision":"EXCLUDE","score":0.1}`)}
	reg.SetClient("alpha", alpha)
	reg.SetClient("beta", beta)

	d := NewDispatcher(reg, NewCache(config.DefaultCacheConfig()), config.RetryConfig{
		MaxRetries: 2, BaseDelaySec: 0.001, MaxDelaySec: 0.002, JitterPct: 0,
	})
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d, alpha, beta
}

func alphaSpec(prompt string) CallSpec {
	return CallSpec{Provider: "alpha", Model: "alpha-chat", Prompt: prompt}
}

func TestDispatcherPrimarySuccess(t *testing.T) {
	d, alpha, beta := newTestDispatcher(t)
	resp, err := d.Call(context.Background(), alphaSpec("p1"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Provider != "alpha" || resp.Model != "alpha-chat" {
		t.Errorf("served by %s/%s, want alpha/alpha-chat", resp.Provider, resp.Model)
	}
	if alpha.callCount() != 1 || beta.callCount() != 0 {
		t.Errorf("calls alpha=%d beta=%d", alpha.callCount(), beta.callCount())
	}
}

func TestDispatcherRateLimitFallsBack(t *testing.T) {
	d, alpha, beta := newTestDispatcher(t)
	alpha.fn = failWith(KindRateLimit, "alpha", "alpha-chat")

	resp, err := d.Call(context.Background(), alphaSpec("p1"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	// The response must name the route that actually served it.
	if resp.Provider != "beta" || resp.Model != "beta-chat" {
		t.Errorf("served by %s/%s, want beta/beta-chat", resp.Provider, resp.Model)
	}
	if alpha.callCount() != 1 {
		t.Errorf("alpha retried a 429 with a fallback available: %d calls", alpha.callCount())
	}
	if beta.callCount() != 1 {
		t.Errorf("beta calls = %d", beta.callCount())
	}

	lim, _ := d.reg.Limiter("alpha", "alpha-chat")
	if lim.CurrentRPM() >= 300 {
		t.Error("429 did not shrink alpha's rate")
	}
}

func TestDispatcherOpenBreakerFallsBack(t *testing.T) {
	d, alpha, beta := newTestDispatcher(t)
	br, _ := d.reg.Breaker("alpha", "alpha-chat")
	for i := 0; i < 5; i++ {
		br.Execute(func() (Response, error) { return Response{}, serverErr() })
	}
	if br.State() != "open" {
		t.Fatalf("setup: breaker state = %s", br.State())
	}

	resp, err := d.Call(context.Background(), alphaSpec("p1"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Provider != "beta" {
		t.Errorf("served by %s, want beta", resp.Provider)
	}
	if alpha.callCount() != 0 {
		t.Error("open breaker let a call through to alpha")
	}
	if beta.callCount() != 1 {
		t.Errorf("beta calls = %d", beta.callCount())
	}
}

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	d, alpha, _ := newTestDispatcher(t)
	var delays []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		delays = append(delays, dur)
		return nil
	}
	attempts := 0
	alpha.fn = func(req Request) (Response, error) {
		attempts++
		if attempts < 3 {
			return Response{}, &CallError{Kind: KindServer, Provider: "alpha", Model: "alpha-chat"}
		}
		return respondWith(`{"decision":"INCLUDE"}`)(req)
	}

	resp, err := d.Call(context.Background(), alphaSpec("p1"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Provider != "alpha" {
		t.Errorf("served by %s, want alpha after retries", resp.Provider)
	}
	if alpha.callCount() != 3 {
		t.Errorf("alpha calls = %d, want 3", alpha.callCount())
	}
	if len(delays) != 2 {
		t.Fatalf("backoff sleeps = %d, want 2", len(delays))
	}
	if delays[1] != 2*delays[0] {
		t.Errorf("backoff not doubling: %v then %v", delays[0], delays[1])
	}
}

func TestDispatcherDeterministicFailuresDoNotRetry(t *testing.T) {
	for _, kind := range []ErrorKind{KindAuth, KindInvalidResponse} {
		t.Run(string(kind), func(t *testing.T) {
			d, alpha, beta := newTestDispatcher(t)
			alpha.fn = failWith(kind, "alpha", "alpha-chat")

			_, err := d.Call(context.Background(), alphaSpec("p1"))
			if KindOf(err) != kind {
				t.Fatalf("err = %v, want %s", err, kind)
			}
			if alpha.callCount() != 1 {
				t.Errorf("alpha calls = %d, want exactly 1", alpha.callCount())
			}
			if beta.callCount() != 0 {
				t.Error("deterministic failure must not fall back")
			}
		})
	}
}

func TestDispatcherCachesValidDecisions(t *testing.T) {
	d, alpha, _ := newTestDispatcher(t)
	spec := alphaSpec("p1")
	spec.ValidDecisions = []string{"INCLUDE", "EXCLUDE", "HUMAN_REVIEW"}

	if _, err := d.Call(context.Background(), spec); err != nil {
		t.Fatalf("Call: %v", err)
	}
	resp, err := d.Call(context.Background(), spec)
	if err != nil {
		t.Fatalf("cached Call: %v", err)
	}
	if resp.Text == "" {
		t.Error("cached response empty")
	}
	if alpha.callCount() != 1 {
		t.Errorf("alpha calls = %d, want 1 with cache hit", alpha.callCount())
	}
}

func TestDispatcherSkipsCacheForInvalidDecision(t *testing.T) {
	d, alpha, _ := newTestDispatcher(t)
	alpha.fn = respondWith(`{"decision":"MAYBE"}`)
	spec := alphaSpec("p1")
	spec.ValidDecisions = []string{"INCLUDE", "EXCLUDE", "HUMAN_REVIEW"}

	d.Call(context.Background(), spec)
	d.Call(context.Background(), spec)
	if alpha.callCount() != 2 {
		t.Errorf("invalid decision was cached: alpha calls = %d", alpha.callCount())
	}
}

func TestDispatcherParamsChangeCacheKey(t *testing.T) {
	d, alpha, _ := newTestDispatcher(t)
	temp1, temp2 := 0.1, 0.7
	spec := alphaSpec("p1")
	spec.ValidDecisions = []string{"INCLUDE"}
	spec.Params = Params{Temperature: &temp1}
	d.Call(context.Background(), spec)
	spec.Params = Params{Temperature: &temp2}
	d.Call(context.Background(), spec)
	if alpha.callCount() != 2 {
		t.Errorf("different temperature reused the cache: alpha calls = %d", alpha.callCount())
	}
}

func TestDispatcherLimiterDenialWithoutFallbackWaitsForSlot(t *testing.T) {
	d, _, beta := newTestDispatcher(t)
	// beta has no fallback route, so a drained bucket must park the call.
	lim, _ := d.reg.Limiter("beta", "beta-chat")
	for lim.Allow() {
	}

	var mu sync.Mutex
	sleeps := 0
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		mu.Lock()
		sleeps++
		mu.Unlock()
		return ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := d.Call(ctx, CallSpec{Provider: "beta", Model: "beta-chat", Prompt: "p-wait"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Provider != "beta" {
		t.Errorf("served by %s, want beta", resp.Provider)
	}
	if beta.callCount() != 1 {
		t.Errorf("beta calls = %d, want 1", beta.callCount())
	}
	// The gate is consulted again after every wait. A single wait followed
	// by an unconditional send would report exactly one sleep here and let
	// concurrent waiters burst past the configured rate.
	mu.Lock()
	defer mu.Unlock()
	if sleeps < 2 {
		t.Errorf("sleeps = %d, want repeated re-checks until a slot opened", sleeps)
	}
}

func TestDispatcherLimiterDenialFallsBack(t *testing.T) {
	d, alpha, beta := newTestDispatcher(t)
	// Drain alpha's token bucket out of band so the next call is denied.
	lim, _ := d.reg.Limiter("alpha", "alpha-chat")
	for lim.Allow() {
	}

	resp, err := d.Call(context.Background(), alphaSpec("p-denied"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Provider != "beta" {
		t.Errorf("served by %s, want beta after local rate gate denial", resp.Provider)
	}
	if alpha.callCount() != 0 {
		t.Error("denied call still reached alpha")
	}
	if beta.callCount() != 1 {
		t.Errorf("beta calls = %d", beta.callCount())
	}
}
