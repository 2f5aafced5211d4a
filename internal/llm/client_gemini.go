package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"medscreen/internal/config"
	"medscreen/internal/logging"
)

// geminiClient speaks the generateContent dialect with x-goog-api-key auth.
type geminiClient struct {
	name       string
	cfg        config.ProviderConfig
	httpClient *http.Client
}

func newGeminiClient(name string, cfg config.ProviderConfig) *geminiClient {
	return &geminiClient{name: name, cfg: cfg, httpClient: &http.Client{}}
}

func (c *geminiClient) Provider() string { return c.name }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (c *geminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: &geminiGenerationConfig{
			MaxOutputTokens: req.Params.MaxTokens,
			Seed:            req.Params.Seed,
		},
	}
	if body.GenerationConfig.MaxOutputTokens == 0 {
		body.GenerationConfig.MaxOutputTokens = defaultMaxTokens
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if req.SupportsTemperature {
		body.GenerationConfig.Temperature = req.Params.Temperature
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return Response{}, invalidResponse(c.name, req.Model, "failed to marshal request", "", err)
	}

	ctx, cancel := callContext(ctx, req)
	defer cancel()

	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
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

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, invalidResponse(c.name, req.Model, "failed to parse response", string(raw), err)
	}
	if parsed.Error != nil {
		return Response{}, invalidResponse(c.name, req.Model, "API error: "+parsed.Error.Message, string(raw), nil)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Response{}, invalidResponse(c.name, req.Model, "no completion returned", string(raw), nil)
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return Response{Text: strings.TrimSpace(text.String()), Latency: latency}, nil
}
