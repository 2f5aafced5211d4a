package llm

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"medscreen/internal/config"
)

const latencyEWMAAlpha = 0.1

// Breaker is the per-(provider, model) circuit breaker. The three-state
// machine (Closed/Open/Half-Open) is sony/gobreaker; this wrapper maps its
// errors into the call-error taxonomy and keeps per-breaker metrics.
//
// Only provider-health errors (timeout, network, 5xx) count as failures;
// rate limits belong to the limiter and deterministic failures (auth,
// unparseable response) say nothing about provider health.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker

	mu         sync.Mutex
	totalCalls int64
	successes  int64
	avgLatency time.Duration // EWMA
}

// BreakerStats is a point-in-time snapshot for metrics and the status CLI.
type BreakerStats struct {
	Name                string
	State               string
	TotalCalls          int64
	SuccessRate         float64
	AvgLatency          time.Duration
	ConsecutiveFailures uint32
}

// NewBreaker builds a breaker for one (provider, model) pair.
func NewBreaker(name string, cfg config.BreakerConfig) *Breaker {
	b := &Breaker{name: name}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		// Half-Open closes after this many consecutive successes.
		MaxRequests: uint32(cfg.SuccessThreshold),
		Timeout:     cfg.RecoveryTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !CountsAsBreakerFailure(err)
		},
	})
	return b
}

// Execute runs fn under the breaker. In the Open state it fails immediately
// with a circuit-open call error.
func (b *Breaker) Execute(fn func() (Response, error)) (Response, error) {
	var resp Response
	var callErr error
	_, err := b.cb.Execute(func() (interface{}, error) {
		resp, callErr = fn()
		return nil, callErr
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return Response{}, &CallError{
			Kind: KindCircuitOpen, Message: "circuit breaker " + b.name + " is open",
		}
	}
	b.record(callErr == nil, resp.Latency)
	return resp, callErr
}

func (b *Breaker) record(success bool, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalCalls++
	if success {
		b.successes++
		if b.avgLatency == 0 {
			b.avgLatency = latency
		} else {
			b.avgLatency = time.Duration(float64(b.avgLatency)*(1-latencyEWMAAlpha) + float64(latency)*latencyEWMAAlpha)
		}
	}
}

// State reports the breaker state as a string: closed, open or half-open.
func (b *Breaker) State() string { return b.cb.State().String() }

// Stats returns the metric snapshot.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := BreakerStats{
		Name:                b.name,
		State:               b.cb.State().String(),
		TotalCalls:          b.totalCalls,
		AvgLatency:          b.avgLatency,
		ConsecutiveFailures: b.cb.Counts().ConsecutiveFailures,
	}
	if b.totalCalls > 0 {
		stats.SuccessRate = float64(b.successes) / float64(b.totalCalls)
	}
	return stats
}
