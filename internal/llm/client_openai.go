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

// openAIClient speaks the OpenAI chat-completions dialect. It also serves
// every OpenAI-compatible provider (DeepSeek and friends) via base_url.
type openAIClient struct {
	name       string
	cfg        config.ProviderConfig
	httpClient *http.Client
}

func newOpenAIClient(name string, cfg config.ProviderConfig) *openAIClient {
	return &openAIClient{name: name, cfg: cfg, httpClient: &http.Client{}}
}

func (c *openAIClient) Provider() string { return c.name }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Seed        *int64          `json:"seed,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *openAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body := openAIRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.Params.MaxTokens,
		Seed:      req.Params.Seed,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = defaultMaxTokens
	}
	// Reasoning-only models reject temperature; drop it silently.
	if req.SupportsTemperature {
		body.Temperature = req.Params.Temperature
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return Response{}, invalidResponse(c.name, req.Model, "failed to marshal request", "", err)
	}

	ctx, cancel := callContext(ctx, req)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(jsonData))
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

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, invalidResponse(c.name, req.Model, "failed to parse response", string(raw), err)
	}
	if parsed.Error != nil {
		return Response{}, invalidResponse(c.name, req.Model, "API error: "+parsed.Error.Message, string(raw), nil)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, invalidResponse(c.name, req.Model, "no completion returned", string(raw), nil)
	}

	return Response{
		Text:    strings.TrimSpace(parsed.Choices[0].Message.Content),
		Latency: latency,
	}, nil
}
