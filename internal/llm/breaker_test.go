package llm

import (
	"errors"
	"testing"
	"time"

	"medscreen/internal/config"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold:   5,
		RecoveryTimeoutSec: 1,
		SuccessThreshold:   3,
		RequestTimeoutSec:  120,
	}
}

func serverErr() error {
	return &CallError{Kind: KindServer, Provider: "p", Model: "m", Message: "boom"}
}

func failCall(b *Breaker) error {
	_, err := b.Execute(func() (Response, error) { return Response{}, serverErr() })
	return err
}

func okCall(b *Breaker) error {
	_, err := b.Execute(func() (Response, error) {
		return Response{Text: "ok", Latency: 10 * time.Millisecond}, nil
	})
	return err
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("p/m", testBreakerConfig())
	for i := 0; i < 4; i++ {
		if err := failCall(b); KindOf(err) != KindServer {
			t.Fatalf("call %d: err = %v", i, err)
		}
		if b.State() != "closed" {
			t.Fatalf("breaker opened after only %d failures", i+1)
		}
	}
	failCall(b)
	if b.State() != "open" {
		t.Fatalf("state after 5 consecutive failures = %s, want open", b.State())
	}

	// Open state rejects without invoking the call.
	invoked := false
	_, err := b.Execute(func() (Response, error) {
		invoked = true
		return Response{}, nil
	})
	if invoked {
		t.Error("open breaker invoked the provider call")
	}
	if KindOf(err) != KindCircuitOpen || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker err = %v, want circuit_open", err)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("p/m", testBreakerConfig())
	for i := 0; i < 5; i++ {
		failCall(b)
	}
	time.Sleep(1100 * time.Millisecond)
	if b.State() != "half-open" {
		t.Fatalf("state after recovery timeout = %s, want half-open", b.State())
	}
	if err := okCall(b); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if b.State() != "half-open" {
		t.Fatalf("one success of three closed the breaker early: %s", b.State())
	}
	failCall(b)
	if b.State() != "open" {
		t.Errorf("half-open failure must reopen, state = %s", b.State())
	}
}

func TestBreakerHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := NewBreaker("p/m", testBreakerConfig())
	for i := 0; i < 5; i++ {
		failCall(b)
	}
	time.Sleep(1100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := okCall(b); err != nil {
			t.Fatalf("probe %d failed: %v", i, err)
		}
	}
	if b.State() != "closed" {
		t.Errorf("state after 3 half-open successes = %s, want closed", b.State())
	}
}

func TestBreakerIgnoresNonHealthErrors(t *testing.T) {
	b := NewBreaker("p/m", testBreakerConfig())
	for i := 0; i < 20; i++ {
		b.Execute(func() (Response, error) {
			return Response{}, &CallError{Kind: KindRateLimit}
		})
		b.Execute(func() (Response, error) {
			return Response{}, &CallError{Kind: KindInvalidResponse}
		})
	}
	if b.State() != "closed" {
		t.Errorf("rate-limit and parse errors tripped the breaker: %s", b.State())
	}
}

func TestBreakerStats(t *testing.T) {
	b := NewBreaker("p/m", testBreakerConfig())
	okCall(b)
	okCall(b)
	failCall(b)
	st := b.Stats()
	if st.Name != "p/m" || st.TotalCalls != 3 {
		t.Errorf("stats = %+v", st)
	}
	if st.SuccessRate < 0.6 || st.SuccessRate > 0.7 {
		t.Errorf("success rate = %v, want 2/3", st.SuccessRate)
	}
	if st.AvgLatency == 0 {
		t.Error("latency EWMA never updated")
	}
}
