// Package llm is the single entry point for "call an LLM with this prompt".
// It composes per-provider HTTP clients, an adaptive rate limiter, a
// circuit breaker, a content-addressed response cache and fallback routing
// behind one Dispatcher.
package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies call failures. The dispatcher's retry policy and the
// pipelines' degradation behavior both key off the kind, never off message
// text.
type ErrorKind string

const (
	KindRateLimit       ErrorKind = "rate_limit"
	KindAuth            ErrorKind = "auth"
	KindTimeout         ErrorKind = "timeout"
	KindNetwork         ErrorKind = "network"
	KindServer          ErrorKind = "server"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindCircuitOpen     ErrorKind = "circuit_open"
)

// ErrCircuitOpen is the sentinel wrapped by circuit-open call errors.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CallError is the typed failure of one LLM call.
type CallError struct {
	Kind       ErrorKind
	Provider   string
	Model      string
	StatusCode int
	Message    string
	// RawBody preserves the response text for audit when parsing failed.
	RawBody string
	Err     error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s/%s: %s (%s, status %d)", e.Provider, e.Model, e.Message, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s/%s: %s (%s)", e.Provider, e.Model, e.Message, e.Kind)
}

func (e *CallError) Unwrap() error {
	if e.Kind == KindCircuitOpen {
		return ErrCircuitOpen
	}
	return e.Err
}

// KindOf extracts the ErrorKind from err, or "" when err is not a CallError.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// RawBodyOf extracts the preserved response text from a call error chain,
// for audit trails. Empty when err carries no body.
func RawBodyOf(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.RawBody
	}
	return ""
}

// Retryable reports whether the dispatcher's backoff loop may retry this
// error. Auth failures and deterministic parse failures never retry.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetwork, KindServer, KindRateLimit:
		return true
	}
	return false
}

// CountsAsBreakerFailure reports whether the error should trip the circuit
// breaker. Rate limits are the limiter's concern; auth and parse failures
// say nothing about provider health.
func CountsAsBreakerFailure(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetwork, KindServer:
		return true
	}
	return false
}
