package llm

import (
	"errors"
	"strings"
	"testing"

	"medscreen/internal/domain"
)

func TestCleanFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"no closing fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"single line fence", "```json{\"a\":1}```", `{"a":1}`},
		{"whitespace", "  \n```\n{\"a\":1}\n```  \n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanFences(tt.in); got != tt.want {
				t.Errorf("CleanFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseScreeningResponse(t *testing.T) {
	raw := "```json\n" + `{
		"decision": "include",
		"score": 0.9,
		"confidence": 0.8,
		"rationale": "matches population and outcome",
		"pico_assessment": {
			"Population": {"match": true, "evidence": "adults with T2DM"},
			"Outcome": {"match": false, "evidence": ""}
		},
		"provider_trace_id": "abc"
	}` + "\n```"

	resp, err := ParseScreeningResponse("openai", "gpt-4o", raw)
	if err != nil {
		t.Fatalf("ParseScreeningResponse: %v", err)
	}
	if resp.Decision != domain.DecisionInclude {
		t.Errorf("decision = %s, want INCLUDE", resp.Decision)
	}
	if resp.Score != 0.9 || resp.Confidence != 0.8 {
		t.Errorf("score/confidence = %v/%v", resp.Score, resp.Confidence)
	}
	pop, ok := resp.ElementAssessment["population"]
	if !ok || pop.Match == nil || !*pop.Match {
		t.Error("population assessment not normalized to lowercase true")
	}
	out := resp.ElementAssessment["outcome"]
	if out.Match == nil || *out.Match {
		t.Error("outcome match should be false")
	}
	if _, ok := resp.Extra["provider_trace_id"]; !ok {
		t.Error("unknown fields must survive in Extra")
	}
}

func TestParseScreeningResponseClampsRanges(t *testing.T) {
	resp, err := ParseScreeningResponse("p", "m", `{"decision":"EXCLUDE","score":1.7,"confidence":-0.2}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 1 || resp.Confidence != 0 {
		t.Errorf("clamp failed: score=%v confidence=%v", resp.Score, resp.Confidence)
	}
}

func TestParseScreeningResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "I think this should be included."},
		{"bad decision", `{"decision":"MAYBE","score":0.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScreeningResponse("p", "m", tt.raw)
			if err == nil {
				t.Fatal("expected error")
			}
			var ce *CallError
			if !errors.As(err, &ce) {
				t.Fatalf("error is %T, want *CallError", err)
			}
			if ce.Kind != KindInvalidResponse {
				t.Errorf("kind = %s, want invalid_response", ce.Kind)
			}
			if ce.RawBody != tt.raw {
				t.Error("raw text must be preserved for audit")
			}
		})
	}
}

func TestParseCriterionResponse(t *testing.T) {
	resp, err := ParseCriterionResponse("p", "m", "```json\n"+`{"judgment":"Low risk","reason":"allocation concealed","evidence_quotes":["sealed envelopes"]}`+"\n```")
	if err != nil {
		t.Fatalf("ParseCriterionResponse: %v", err)
	}
	if resp.Judgment != "Low risk" || len(resp.EvidenceQuotes) != 1 {
		t.Errorf("unexpected parse: %+v", resp)
	}

	if _, err := ParseCriterionResponse("p", "m", `{"reason":"no judgment field"}`); KindOf(err) != KindInvalidResponse {
		t.Error("missing judgment must be an invalid_response error")
	}
}

func TestDecisionOf(t *testing.T) {
	if got := decisionOf("```json\n{\"decision\":\"include\"}\n```"); got != "INCLUDE" {
		t.Errorf("decisionOf = %q", got)
	}
	if got := decisionOf(`{"judgment":"High risk"}`); got != "High risk" {
		t.Errorf("decisionOf judgment = %q", got)
	}
	if got := decisionOf("not json"); got != "" {
		t.Errorf("decisionOf non-json = %q", got)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	server := &CallError{Kind: KindServer, Provider: "p", Model: "m", Message: "boom"}
	if !Retryable(server) || !CountsAsBreakerFailure(server) {
		t.Error("server errors retry and trip the breaker")
	}
	auth := &CallError{Kind: KindAuth}
	if Retryable(auth) || CountsAsBreakerFailure(auth) {
		t.Error("auth errors neither retry nor trip the breaker")
	}
	rl := &CallError{Kind: KindRateLimit}
	if !Retryable(rl) || CountsAsBreakerFailure(rl) {
		t.Error("rate limits retry but do not trip the breaker")
	}
	open := &CallError{Kind: KindCircuitOpen}
	if !errors.Is(open, ErrCircuitOpen) {
		t.Error("circuit-open errors must match ErrCircuitOpen")
	}
	if !strings.Contains(server.Error(), "p/m") {
		t.Error("error text names the route")
	}
}
