package llm

import (
	"math"
	"testing"
	"time"

	"medscreen/internal/config"
)

func testRateConfig() config.RateConfig {
	return config.RateConfig{RPMInitial: 60, RPMMin: 6, RPMMax: 300, AdjustAlpha: 0.1}
}

func TestAdaptiveLimiterShrinkOn429(t *testing.T) {
	l := NewAdaptiveLimiter(60, testRateConfig())
	l.RecordRateLimitError()
	if got := l.CurrentRPM(); math.Abs(got-54) > 1e-9 {
		t.Errorf("rpm after one 429 = %v, want 54", got)
	}
	// Repeated 429s never push the rate below the floor.
	for i := 0; i < 100; i++ {
		l.RecordRateLimitError()
	}
	if got := l.CurrentRPM(); got != 6 {
		t.Errorf("rpm floor = %v, want 6", got)
	}
}

func TestAdaptiveLimiterGrowthNeedsQuietWindows(t *testing.T) {
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	l := NewAdaptiveLimiter(60, testRateConfig())
	l.now = func() time.Time { return clock }

	l.RecordRateLimitError() // rpm -> 54, marks both error timestamps

	// Inside the 120 s rate-limit quiet window: no growth.
	clock = clock.Add(100 * time.Second)
	l.RecordSuccess()
	if got := l.CurrentRPM(); math.Abs(got-54) > 1e-9 {
		t.Errorf("rpm grew inside 429 quiet window: %v", got)
	}

	// Past 120 s but inside the 300 s any-error window: still no growth.
	clock = clock.Add(100 * time.Second)
	l.RecordSuccess()
	if got := l.CurrentRPM(); math.Abs(got-54) > 1e-9 {
		t.Errorf("rpm grew inside error quiet window: %v", got)
	}

	// Past both windows: growth by alpha/2.
	clock = clock.Add(200 * time.Second)
	l.RecordSuccess()
	if got := l.CurrentRPM(); math.Abs(got-54*1.05) > 1e-9 {
		t.Errorf("rpm after clean success = %v, want %v", got, 54*1.05)
	}
}

func TestAdaptiveLimiterGrowthCap(t *testing.T) {
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	l := NewAdaptiveLimiter(290, testRateConfig())
	l.now = func() time.Time { return clock }
	for i := 0; i < 50; i++ {
		l.RecordSuccess()
	}
	if got := l.CurrentRPM(); got != 300 {
		t.Errorf("rpm cap = %v, want 300", got)
	}
}

func TestAdaptiveLimiterNonRateFailureBlocksGrowth(t *testing.T) {
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	l := NewAdaptiveLimiter(60, testRateConfig())
	l.now = func() time.Time { return clock }

	l.RecordFailure()
	clock = clock.Add(200 * time.Second)
	l.RecordSuccess()
	if got := l.CurrentRPM(); got != 60 {
		t.Errorf("rpm grew within 300 s of a failure: %v", got)
	}
	// A plain failure never shrinks the rate either.
	if got := l.CurrentRPM(); got < 60 {
		t.Errorf("failure shrank rpm to %v", got)
	}
}

func TestAdaptiveLimiterAllowAndWaitInterval(t *testing.T) {
	l := NewAdaptiveLimiter(60, testRateConfig())
	if !l.Allow() {
		t.Fatal("first Allow must grant")
	}
	if l.Allow() {
		t.Error("second immediate Allow at 60 rpm must deny")
	}
	if got := l.WaitInterval(); got != time.Second {
		t.Errorf("WaitInterval at 60 rpm = %v, want 1s", got)
	}
}

func TestUnlimitedLimiter(t *testing.T) {
	l := NewUnlimited()
	for i := 0; i < 1000; i++ {
		if !l.Allow() {
			t.Fatal("unlimited limiter denied a call")
		}
	}
	l.RecordRateLimitError()
	l.RecordSuccess()
	if l.WaitInterval() != 0 {
		t.Error("unlimited limiter must not impose a wait")
	}
}
