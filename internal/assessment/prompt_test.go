package assessment

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRenderCriterionPromptContent(t *testing.T) {
	tool, ok := ToolFor("RCT")
	if !ok {
		t.Fatal("RCT tool missing")
	}
	criterion := tool.Criteria[0]

	system, user := RenderCriterionPrompt(tool, criterion, "We randomized 120 patients.")
	if system == "" {
		t.Error("empty system prompt")
	}
	for _, want := range []string{
		tool.Name,
		"(" + criterion.ID + ")",
		criterion.Text,
		"We randomized 120 patients.",
		`"judgment"`,
	} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	for _, j := range criterion.Judgments {
		if !strings.Contains(user, j) {
			t.Errorf("prompt missing judgment %q", j)
		}
	}
}

func TestRenderCriterionPromptTruncatesOnRuneBoundary(t *testing.T) {
	tool, _ := ToolFor("RCT")
	criterion := tool.Criteria[0]

	// Place a multi-byte rune straddling the truncation point: its second
	// byte sits exactly at the cut index.
	doc := strings.Repeat("a", maxDocumentChars-1) + "é" + strings.Repeat("b", 50)
	_, user := RenderCriterionPrompt(tool, criterion, doc)

	if !utf8.ValidString(user) {
		t.Fatal("truncated prompt is not valid UTF-8")
	}
	if strings.Contains(user, "b") {
		t.Error("text past the limit survived truncation")
	}
	if strings.Contains(user, "é") {
		t.Error("rune straddling the cut survived partially or fully")
	}
	if !strings.Contains(user, strings.Repeat("a", maxDocumentChars-1)) {
		t.Error("text before the cut was lost")
	}
}

func TestRenderCriterionPromptShortTextUntouched(t *testing.T) {
	tool, _ := ToolFor("COHORT")
	criterion := tool.Criteria[0]
	doc := "Exposure was ascertained from registry data. Étude de cohorte."
	_, user := RenderCriterionPrompt(tool, criterion, doc)
	if !strings.Contains(user, doc) {
		t.Error("short document was altered")
	}
}
