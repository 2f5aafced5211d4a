package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"medscreen/internal/domain"
)

// CleanFences strips markdown code fences that models wrap around JSON.
// Handles ``` and ```json openers, with and without a closing fence.
func CleanFences(s string) string {
	out := strings.TrimSpace(s)
	if !strings.HasPrefix(out, "```") {
		return out
	}
	out = strings.TrimPrefix(out, "```")
	// Language tag on the opening fence, e.g. ```json
	if idx := strings.IndexByte(out, '\n'); idx >= 0 {
		first := strings.TrimSpace(out[:idx])
		if first == "" || !strings.ContainsAny(first, "{[") {
			out = out[idx+1:]
		}
	} else {
		out = strings.TrimPrefix(out, "json")
	}
	out = strings.TrimSpace(out)
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}

// ScreeningResponse is the canonical parsed form of a screening reply.
// Unknown provider-specific fields survive in Extra.
type ScreeningResponse struct {
	Decision          domain.Decision
	Score             float64
	Confidence        float64
	Rationale         string
	ElementAssessment map[string]domain.ElementAssessment
	Extra             map[string]json.RawMessage
}

// rawScreening accepts the lenient wire shape. Models name the element map
// either element_assessment or after the framework (pico_assessment etc.).
type rawScreening struct {
	Decision   string   `json:"decision"`
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
	Rationale  string   `json:"rationale"`
}

type rawElement struct {
	Match    *bool  `json:"match"`
	Evidence string `json:"evidence"`
}

var elementMapKeys = []string{
	"element_assessment",
	"pico_assessment",
	"picot_assessment",
	"picos_assessment",
	"peco_assessment",
	"spider_assessment",
	"pcc_assessment",
}

// ParseScreeningResponse cleans fences and parses raw model text into the
// canonical form. On failure the raw text is preserved in the returned
// CallError for audit.
func ParseScreeningResponse(provider, model, raw string) (*ScreeningResponse, error) {
	cleaned := CleanFences(raw)

	var all map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &all); err != nil {
		return nil, &CallError{
			Kind: KindInvalidResponse, Provider: provider, Model: model,
			Message: "response is not valid JSON", RawBody: raw, Err: err,
		}
	}

	var top rawScreening
	if err := json.Unmarshal([]byte(cleaned), &top); err != nil {
		return nil, &CallError{
			Kind: KindInvalidResponse, Provider: provider, Model: model,
			Message: "response fields have wrong types", RawBody: raw, Err: err,
		}
	}

	decision := domain.Decision(strings.ToUpper(strings.TrimSpace(top.Decision)))
	if !decision.Valid() {
		return nil, &CallError{
			Kind: KindInvalidResponse, Provider: provider, Model: model,
			Message: fmt.Sprintf("unknown decision %q", top.Decision), RawBody: raw,
		}
	}

	resp := &ScreeningResponse{
		Decision:  decision,
		Rationale: top.Rationale,
		Extra:     map[string]json.RawMessage{},
	}
	if top.Score != nil {
		resp.Score = clamp01(*top.Score)
	}
	if top.Confidence != nil {
		resp.Confidence = clamp01(*top.Confidence)
	}

	known := map[string]bool{"decision": true, "score": true, "confidence": true, "rationale": true}
	for _, key := range elementMapKeys {
		if rawMap, ok := all[key]; ok {
			var elements map[string]rawElement
			if err := json.Unmarshal(rawMap, &elements); err == nil {
				resp.ElementAssessment = make(map[string]domain.ElementAssessment, len(elements))
				for name, el := range elements {
					resp.ElementAssessment[strings.ToLower(name)] = domain.ElementAssessment{
						Match:    el.Match,
						Evidence: el.Evidence,
					}
				}
			}
			known[key] = true
			break
		}
	}
	for key, val := range all {
		if !known[key] {
			resp.Extra[key] = val
		}
	}
	return resp, nil
}

// CriterionResponse is the parsed form of one QA criterion reply.
type CriterionResponse struct {
	Judgment       string   `json:"judgment"`
	Reason         string   `json:"reason"`
	EvidenceQuotes []string `json:"evidence_quotes"`
}

// ParseCriterionResponse cleans fences and parses a QA criterion reply.
func ParseCriterionResponse(provider, model, raw string) (*CriterionResponse, error) {
	cleaned := CleanFences(raw)
	var resp CriterionResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, &CallError{
			Kind: KindInvalidResponse, Provider: provider, Model: model,
			Message: "criterion response is not valid JSON", RawBody: raw, Err: err,
		}
	}
	if strings.TrimSpace(resp.Judgment) == "" {
		return nil, &CallError{
			Kind: KindInvalidResponse, Provider: provider, Model: model,
			Message: "criterion response has no judgment", RawBody: raw,
		}
	}
	return &resp, nil
}

// decisionOf extracts the decision or judgment label from raw text without
// full validation. The cache uses it to decide whether a response is worth
// keeping.
func decisionOf(raw string) string {
	var probe struct {
		Decision string `json:"decision"`
		Judgment string `json:"judgment"`
	}
	if err := json.Unmarshal([]byte(CleanFences(raw)), &probe); err != nil {
		return ""
	}
	if probe.Decision != "" {
		return strings.ToUpper(strings.TrimSpace(probe.Decision))
	}
	return probe.Judgment
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
