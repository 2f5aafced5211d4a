package domain

import (
	"fmt"
	"strings"
)

// ElementTerms holds the include/exclude/maybe term lists for one element.
type ElementTerms struct {
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Maybe   []string `json:"maybe,omitempty" yaml:"maybe,omitempty"`
}

// DateWindow restricts publication years. Zero bounds are open.
type DateWindow struct {
	FromYear int `json:"from_year,omitempty" yaml:"from_year,omitempty"`
	ToYear   int `json:"to_year,omitempty" yaml:"to_year,omitempty"`
}

// Criteria is a framework-tagged inclusion/exclusion spec. Immutable during
// a run; the rendered prompt's hash is carried into every audit entry.
type Criteria struct {
	CriteriaID      string                  `json:"criteria_id" yaml:"criteria_id"`
	CriteriaVersion string                  `json:"criteria_version" yaml:"criteria_version"`
	Framework       Framework               `json:"framework" yaml:"framework"`
	Elements        map[string]ElementTerms `json:"elements" yaml:"elements"`
	// ElementOrder preserves prompt ordering for CUSTOM frameworks; for the
	// named frameworks the fixed element list wins.
	ElementOrder        []string   `json:"element_order,omitempty" yaml:"element_order,omitempty"`
	LanguageRestriction []string   `json:"language_restriction,omitempty" yaml:"language_restriction,omitempty"`
	DateWindow          DateWindow `json:"date_window,omitempty" yaml:"date_window,omitempty"`
	StudyDesignExclude  []string   `json:"study_design_exclude,omitempty" yaml:"study_design_exclude,omitempty"`
	PromptHash          string     `json:"prompt_hash,omitempty" yaml:"-"`
}

// OrderedElements returns the element names in prompt order.
func (c Criteria) OrderedElements() []string {
	if c.Framework != FrameworkCustom {
		return c.Framework.Elements()
	}
	if len(c.ElementOrder) > 0 {
		out := make([]string, len(c.ElementOrder))
		copy(out, c.ElementOrder)
		return out
	}
	out := make([]string, 0, len(c.Elements))
	for name := range c.Elements {
		out = append(out, name)
	}
	return out
}

// AllowsLanguage reports whether a record language passes the restriction.
// An empty restriction or an unset record language always passes.
func (c Criteria) AllowsLanguage(lang string) bool {
	if len(c.LanguageRestriction) == 0 || lang == "" {
		return true
	}
	for _, allowed := range c.LanguageRestriction {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(lang)) {
			return true
		}
	}
	return false
}

// Validate checks structural invariants before a run starts.
func (c Criteria) Validate() error {
	if c.CriteriaID == "" {
		return fmt.Errorf("criteria_id is required")
	}
	if c.CriteriaVersion == "" {
		return fmt.Errorf("criteria_version is required")
	}
	if c.Framework == FrameworkCustom && len(c.Elements) == 0 {
		return fmt.Errorf("CUSTOM framework requires at least one element")
	}
	if c.Framework != FrameworkCustom {
		known := map[string]bool{}
		for _, el := range c.Framework.Elements() {
			known[el] = true
		}
		for name := range c.Elements {
			if !known[strings.ToLower(name)] {
				return fmt.Errorf("element %q is not part of framework %s", name, c.Framework)
			}
		}
	}
	if c.DateWindow.FromYear != 0 && c.DateWindow.ToYear != 0 && c.DateWindow.FromYear > c.DateWindow.ToYear {
		return fmt.Errorf("date window from_year %d is after to_year %d", c.DateWindow.FromYear, c.DateWindow.ToYear)
	}
	return nil
}
