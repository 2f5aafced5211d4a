package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"medscreen/internal/config"
	"medscreen/internal/logging"
)

// anthropicClient speaks the Anthropic messages dialect: x-api-key auth
// plus an anthropic-version header.
type anthropicClient struct {
	name       string
	cfg        config.ProviderConfig
	httpClient *http.Client
}

func newAnthropicClient(name string, cfg config.ProviderConfig) *anthropicClient {
	return &anthropicClient{name: name, cfg: cfg, httpClient: &http.Client{}}
}

func (c *anthropicClient) Provider() string { return c.name }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.Params.MaxTokens,
		System:    req.SystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = defaultMaxTokens
	}
	if req.SupportsTemperature {
		body.Temperature = req.Params.Temperature
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return Response{}, invalidResponse(c.name, req.Model, "failed to marshal request", "", err)
	}

	ctx, cancel := callContext(ctx, req)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return Response{}, invalidResponse(c.name, req.Model, "failed to create request", "", err)
	}
	applyAuth(httpReq, c.cfg)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, transportError(c.name, req.Model, err)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, transportError(c.name, req.Model, err)
	}
	logging.APIDebug("%s/%s: status %d in %v", c.name, req.Model, resp.StatusCode, latency)

	if resp.StatusCode != http.StatusOK {
		return Response{}, statusError(c.name, req.Model, resp.StatusCode, string(raw))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, invalidResponse(c.name, req.Model, "failed to parse response", string(raw), err)
	}
	if parsed.Error != nil {
		return Response{}, invalidResponse(c.name, req.Model, "API error: "+parsed.Error.Message, string(raw), nil)
	}
	if len(parsed.Content) == 0 {
		return Response{}, invalidResponse(c.name, req.Model, "no completion returned", string(raw), nil)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return Response{Text: strings.TrimSpace(text.String()), Latency: latency}, nil
}
