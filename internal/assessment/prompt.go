package assessment

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const assessorSystemPrompt = `You are an expert methodologist performing critical appraisal of a research article. You answer one appraisal question at a time, strictly from the provided article text, and you respond only with the requested JSON object.`

// maxDocumentChars bounds how much article text a single criterion prompt
// carries. Longer documents are truncated from the end; appraisal-relevant
// methods sections sit early in most articles.
const maxDocumentChars = 120000

// RenderCriterionPrompt builds the prompt for one appraisal question.
func RenderCriterionPrompt(tool Tool, criterion Criterion, docText string) (system, user string) {
	if len(docText) > maxDocumentChars {
		// Back off to a rune boundary so the cut never produces invalid
		// UTF-8 mid-sequence.
		cut := maxDocumentChars
		for cut > 0 && !utf8.RuneStart(docText[cut]) {
			cut--
		}
		docText = docText[:cut]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Appraise the article below using the %s instrument.\n\n", tool.Name)
	fmt.Fprintf(&b, "Question (%s): %s\n", criterion.ID, criterion.Text)
	fmt.Fprintf(&b, "Allowed judgments: %s\n\n", strings.Join(criterion.Judgments, " | "))
	b.WriteString("## Article text\n\n")
	b.WriteString(docText)
	b.WriteString("\n\n## Instructions\n\n")
	b.WriteString("Respond with exactly one JSON object, no prose and no code fences:\n")
	fmt.Fprintf(&b, `{"judgment": "<one of: %s>", "reason": "<one paragraph>", "evidence_quotes": ["<verbatim quote>", ...]}`,
		strings.Join(criterion.Judgments, ", "))
	b.WriteString("\nQuote only text that appears verbatim in the article. If the article gives no information, pick the judgment that reflects that and say so in the reason.\n")

	return assessorSystemPrompt, b.String()
}
