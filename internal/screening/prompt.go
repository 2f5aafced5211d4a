package screening

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"medscreen/internal/domain"
)

const screeningSystemPrompt = `You are an expert systematic-review screener. You judge whether a literature record meets the stated eligibility criteria, strictly from its title and abstract, and you answer only with the requested JSON object.`

// RenderScreeningPrompt builds the deterministic screening prompt for one
// (criteria, record) pair and returns it with its SHA-256 hash. The same
// inputs always render byte-identical prompts; the hash is what audit
// entries carry.
func RenderScreeningPrompt(criteria domain.Criteria, record domain.Record) (system, user, hash string) {
	var b strings.Builder

	fmt.Fprintf(&b, "Screen the following record against %s eligibility criteria (criteria set %s, version %s).\n\n",
		criteria.Framework, criteria.CriteriaID, criteria.CriteriaVersion)

	b.WriteString("## Eligibility criteria\n\n")
	for _, element := range criteria.OrderedElements() {
		terms := criteria.Elements[element]
		fmt.Fprintf(&b, "### %s\n", element)
		writeTermList(&b, "Include", terms.Include)
		writeTermList(&b, "Exclude", terms.Exclude)
		writeTermList(&b, "Acceptable if unclear", terms.Maybe)
		b.WriteString("\n")
	}
	if len(criteria.LanguageRestriction) > 0 {
		fmt.Fprintf(&b, "Languages accepted: %s\n", strings.Join(criteria.LanguageRestriction, ", "))
	}
	if criteria.DateWindow.FromYear != 0 || criteria.DateWindow.ToYear != 0 {
		fmt.Fprintf(&b, "Publication window: %s\n", formatDateWindow(criteria.DateWindow))
	}

	b.WriteString("\n## Record\n\n")
	fmt.Fprintf(&b, "Title: %s\n", record.Title)
	if record.Abstract != "" {
		fmt.Fprintf(&b, "Abstract: %s\n", record.Abstract)
	} else {
		b.WriteString("Abstract: (not available)\n")
	}
	if record.Year != 0 {
		fmt.Fprintf(&b, "Year: %d\n", record.Year)
	}
	if record.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", record.Language)
	}
	if record.StudyType != "" && record.StudyType != domain.StudyUnknown {
		fmt.Fprintf(&b, "Study type: %s\n", record.StudyType)
	}

	b.WriteString("\n## Instructions\n\n")
	b.WriteString("Respond with exactly one JSON object, no prose and no code fences:\n")
	b.WriteString(`{"decision": "INCLUDE" | "EXCLUDE" | "HUMAN_REVIEW", "score": <0.0-1.0>, "confidence": <0.0-1.0>, "rationale": "<one paragraph>", "element_assessment": {`)
	elements := criteria.OrderedElements()
	for i, element := range elements {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `"%s": {"match": true | false | null, "evidence": "<quote or empty>"}`, element)
	}
	b.WriteString("}}\n")
	b.WriteString("When the record is ambiguous or the abstract is missing, default to INCLUDE: a wrong exclusion loses the record forever, a wrong inclusion only costs a full-text read.\n")

	user = b.String()
	sum := sha256.Sum256([]byte(screeningSystemPrompt + "\n" + user))
	return screeningSystemPrompt, user, hex.EncodeToString(sum[:])
}

func writeTermList(b *strings.Builder, label string, terms []string) {
	if len(terms) == 0 {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, strings.Join(terms, "; "))
}

func formatDateWindow(w domain.DateWindow) string {
	switch {
	case w.FromYear != 0 && w.ToYear != 0:
		return fmt.Sprintf("%d-%d", w.FromYear, w.ToYear)
	case w.FromYear != 0:
		return fmt.Sprintf("%d onward", w.FromYear)
	default:
		return fmt.Sprintf("up to %d", w.ToYear)
	}
}
