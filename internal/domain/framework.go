package domain

import "strings"

// Framework names a criteria schema. Each framework fixes the list of
// elements a review evaluates.
type Framework string

const (
	FrameworkPICO     Framework = "PICO"
	FrameworkPICOT    Framework = "PICOT"
	FrameworkPICOS    Framework = "PICOS"
	FrameworkPECO     Framework = "PECO"
	FrameworkPICOC    Framework = "PICOC"
	FrameworkSPIDER   Framework = "SPIDER"
	FrameworkECLIPSE  Framework = "ECLIPSE"
	FrameworkCLIP     Framework = "CLIP"
	FrameworkBEHEMOTH Framework = "BEHEMOTH"
	FrameworkPCC      Framework = "PCC"
	FrameworkCustom   Framework = "CUSTOM"
)

// CanonicalSlot is the framework-agnostic role of an element. The rule
// engine reasons over slots so it never needs framework-specific names.
type CanonicalSlot string

const (
	SlotPopulation   CanonicalSlot = "population"
	SlotIntervention CanonicalSlot = "intervention"
	SlotComparison   CanonicalSlot = "comparison"
	SlotOutcome      CanonicalSlot = "outcome"
	SlotOther        CanonicalSlot = "other"
)

// frameworkElements fixes the element list per framework, in prompt order.
var frameworkElements = map[Framework][]string{
	FrameworkPICO:     {"population", "intervention", "comparison", "outcome"},
	FrameworkPICOT:    {"population", "intervention", "comparison", "outcome", "timeframe"},
	FrameworkPICOS:    {"population", "intervention", "comparison", "outcome", "study_design"},
	FrameworkPECO:     {"population", "exposure", "comparison", "outcome"},
	FrameworkPICOC:    {"population", "intervention", "comparison", "outcome", "context"},
	FrameworkSPIDER:   {"sample", "phenomenon_of_interest", "design", "evaluation", "research_type"},
	FrameworkECLIPSE:  {"expectation", "client_group", "location", "impact", "professionals", "service"},
	FrameworkCLIP:     {"client_group", "location", "improvement", "professionals"},
	FrameworkBEHEMOTH: {"behaviour", "health_context", "exclusions", "models_or_theories"},
	FrameworkPCC:      {"population", "concept", "context"},
}

// slotByElement maps every known element name to its canonical slot.
var slotByElement = map[string]CanonicalSlot{
	"population":             SlotPopulation,
	"sample":                 SlotPopulation,
	"client_group":           SlotPopulation,
	"intervention":           SlotIntervention,
	"exposure":               SlotIntervention,
	"concept":                SlotIntervention,
	"phenomenon_of_interest": SlotIntervention,
	"improvement":            SlotIntervention,
	"behaviour":              SlotIntervention,
	"comparison":             SlotComparison,
	"outcome":                SlotOutcome,
	"evaluation":             SlotOutcome,
	"impact":                 SlotOutcome,
	"expectation":            SlotOutcome,
}

// ParseFramework normalizes a framework name; unknown names map to CUSTOM.
func ParseFramework(s string) Framework {
	f := Framework(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := frameworkElements[f]; ok || f == FrameworkCustom {
		return f
	}
	return FrameworkCustom
}

// Elements returns the fixed element list of a framework. CUSTOM has no
// fixed list; callers supply their own via Criteria.Elements.
func (f Framework) Elements() []string {
	els := frameworkElements[f]
	out := make([]string, len(els))
	copy(out, els)
	return out
}

// SlotOf resolves an element name to its canonical slot. Names not in the
// mapping land in SlotOther.
func SlotOf(element string) CanonicalSlot {
	if s, ok := slotByElement[strings.ToLower(strings.TrimSpace(element))]; ok {
		return s
	}
	return SlotOther
}
