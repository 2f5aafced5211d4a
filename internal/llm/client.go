package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"medscreen/internal/config"
)

// Params are the normalized call parameters. Parameters a model does not
// support are silently dropped by the client, never rejected.
type Params struct {
	Temperature *float64
	MaxTokens   int
	Seed        *int64
}

// Request is one normalized LLM call. The dispatcher resolves the model's
// capabilities and timeout before handing the request to a client.
type Request struct {
	Model               string
	SystemPrompt        string
	Prompt              string
	Params              Params
	SupportsTemperature bool
	Timeout             time.Duration
}

// Response is the raw text result of one call; the caller parses it.
// Provider and Model identify the route that actually served the call,
// which differs from the requested route after a fallback.
type Response struct {
	Text     string
	Latency  time.Duration
	Provider string
	Model    string
}

// Client is one provider's wire dialect. Clients never retry internally;
// retry is the dispatcher's job.
type Client interface {
	Provider() string
	Complete(ctx context.Context, req Request) (Response, error)
}

const defaultMaxTokens = 4096

// NewClient builds a client for a provider config based on its wire dialect.
func NewClient(name string, cfg config.ProviderConfig) (Client, error) {
	switch cfg.Wire {
	case "openai", "":
		return newOpenAIClient(name, cfg), nil
	case "anthropic":
		return newAnthropicClient(name, cfg), nil
	case "gemini":
		return newGeminiClient(name, cfg), nil
	default:
		return nil, fmt.Errorf("unknown wire dialect %q for provider %s", cfg.Wire, name)
	}
}

// formatAPIKey expands an api_key_format template like "Bearer {key}".
func formatAPIKey(format, key string) string {
	if format == "" {
		return key
	}
	return strings.ReplaceAll(format, "{key}", key)
}

// applyAuth sets the provider's auth header and any extra headers.
func applyAuth(req *http.Request, cfg config.ProviderConfig) {
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKeyHeader != "" {
		req.Header.Set(cfg.APIKeyHeader, formatAPIKey(cfg.APIKeyFormat, cfg.APIKey()))
	}
	for k, v := range cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}
}

// callContext applies the model-specific timeout when the request carries
// one; otherwise the caller's context governs.
func callContext(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		return context.WithTimeout(ctx, req.Timeout)
	}
	return ctx, func() {}
}

// statusError maps a non-200 HTTP status to a typed call error.
func statusError(provider, model string, status int, body string) error {
	kind := KindNetwork
	msg := "request failed"
	switch {
	case status == http.StatusTooManyRequests:
		kind, msg = KindRateLimit, "rate limit exceeded"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind, msg = KindAuth, "authentication failed"
	case status >= 500:
		kind, msg = KindServer, "provider server error"
	case status >= 400:
		kind, msg = KindInvalidResponse, "provider rejected request"
	}
	return &CallError{
		Kind: kind, Provider: provider, Model: model,
		StatusCode: status, Message: msg, RawBody: body,
	}
}

// transportError maps a transport-level failure to a typed call error.
func transportError(provider, model string, err error) error {
	kind := KindNetwork
	msg := "network error"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind, msg = KindTimeout, "request timed out"
	}
	return &CallError{Kind: kind, Provider: provider, Model: model, Message: msg, Err: err}
}

// invalidResponse builds the typed parse failure, preserving raw text.
func invalidResponse(provider, model, msg, raw string, err error) error {
	return &CallError{
		Kind: KindInvalidResponse, Provider: provider, Model: model,
		Message: msg, RawBody: raw, Err: err,
	}
}
