package llm

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"medscreen/internal/config"
)

// successAdjustQuiet429 and successAdjustQuietErr are the quiet windows the
// limiter requires before growing RPM on sustained success.
const (
	successAdjustQuiet429 = 120 * time.Second
	successAdjustQuietErr = 300 * time.Second
)

// AdaptiveLimiter is the per-(provider, model) RPM gate. A token bucket
// (golang.org/x/time/rate) does the counting; the adaptive part moves the
// bucket's rate down on 429s and back up on sustained clean traffic.
type AdaptiveLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	rpm      float64
	min      float64
	max      float64
	alpha    float64
	disabled bool

	lastRateLimitErr time.Time
	lastErr          time.Time

	now func() time.Time // test hook
}

// NewAdaptiveLimiter builds a limiter starting at initialRPM, clamped to
// the configured bounds. A nil-safe disabled limiter (for providers with no
// documented rate limits) is produced by NewUnlimited.
func NewAdaptiveLimiter(initialRPM float64, cfg config.RateConfig) *AdaptiveLimiter {
	if initialRPM <= 0 {
		initialRPM = cfg.RPMInitial
	}
	initialRPM = clampRPM(initialRPM, cfg.RPMMin, cfg.RPMMax)
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(rpmToLimit(initialRPM), burstFor(initialRPM)),
		rpm:     initialRPM,
		min:     cfg.RPMMin,
		max:     cfg.RPMMax,
		alpha:   cfg.AdjustAlpha,
		now:     time.Now,
	}
}

// NewUnlimited returns a limiter whose Allow always grants.
func NewUnlimited() *AdaptiveLimiter {
	return &AdaptiveLimiter{disabled: true, now: time.Now}
}

func rpmToLimit(rpm float64) rate.Limit { return rate.Limit(rpm / 60.0) }

func burstFor(rpm float64) int {
	b := int(math.Ceil(rpm / 60.0))
	if b < 1 {
		b = 1
	}
	return b
}

func clampRPM(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Allow grants a slot if window occupancy is under the current RPM. Never
// blocks.
func (l *AdaptiveLimiter) Allow() bool {
	if l.disabled {
		return true
	}
	return l.limiter.Allow()
}

// RecordRateLimitError shrinks RPM by alpha, clamped to the minimum.
func (l *AdaptiveLimiter) RecordRateLimitError() {
	if l.disabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.lastRateLimitErr = now
	l.lastErr = now
	l.setRPMLocked(l.rpm * (1 - l.alpha))
}

// RecordFailure notes a non-429 error; it blocks RPM growth for the quiet
// window but does not shrink the rate.
func (l *AdaptiveLimiter) RecordFailure() {
	if l.disabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastErr = l.now()
}

// RecordSuccess grows RPM by alpha/2 when there was no rate-limit error in
// the last 120 s and no error at all in the last 300 s.
func (l *AdaptiveLimiter) RecordSuccess() {
	if l.disabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if !l.lastRateLimitErr.IsZero() && now.Sub(l.lastRateLimitErr) < successAdjustQuiet429 {
		return
	}
	if !l.lastErr.IsZero() && now.Sub(l.lastErr) < successAdjustQuietErr {
		return
	}
	l.setRPMLocked(l.rpm * (1 + l.alpha/2))
}

func (l *AdaptiveLimiter) setRPMLocked(rpm float64) {
	rpm = clampRPM(rpm, l.min, l.max)
	if rpm == l.rpm {
		return
	}
	l.rpm = rpm
	l.limiter.SetLimit(rpmToLimit(rpm))
	l.limiter.SetBurst(burstFor(rpm))
}

// CurrentRPM reports the live rate, for metrics and tests.
func (l *AdaptiveLimiter) CurrentRPM() float64 {
	if l.disabled {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rpm
}

// WaitInterval is how long a denied caller should wait before re-trying:
// one request slot at the current rate.
func (l *AdaptiveLimiter) WaitInterval() time.Duration {
	if l.disabled {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(60.0 / l.rpm * float64(time.Second))
}
