// Package screening implements the consensus pipeline for one literature
// record: prompt rendering, the rule engine, ensemble aggregation and the
// append-only audit log.
package screening

import (
	"fmt"
	"regexp"
	"strings"

	"medscreen/internal/domain"
	"medscreen/internal/logging"
)

// Penalties of the standard soft rules.
const (
	penaltyPopulationPartial     = 0.15
	penaltyOutcomePartial        = 0.10
	penaltyAmbiguousIntervention = 0.05
)

var nonPrimaryTitleRE = regexp.MustCompile(`(?i)systematic review|meta-analysis|letter to the editor`)

// EvaluateRules runs the hard and soft rule set over one record and the
// ensemble's per-element assessments. Stateless and deterministic.
func EvaluateRules(record domain.Record, criteria domain.Criteria, outputs []domain.ModelOutput) domain.RuleResult {
	var result domain.RuleResult

	if v, ok := publicationTypeRule(record); ok {
		result.HardViolations = append(result.HardViolations, v)
	}
	if v, ok := languageRule(record, criteria); ok {
		result.HardViolations = append(result.HardViolations, v)
	}
	if v, ok := studyDesignRule(record, criteria); ok {
		result.HardViolations = append(result.HardViolations, v)
	}

	votes := slotVotes(outputs)
	if v, ok := partialMatchRule("PopulationPartialMatch", votes[domain.SlotPopulation], penaltyPopulationPartial); ok {
		result.SoftViolations = append(result.SoftViolations, v)
	}
	if v, ok := partialMatchRule("OutcomePartialMatch", votes[domain.SlotOutcome], penaltyOutcomePartial); ok {
		result.SoftViolations = append(result.SoftViolations, v)
	}
	if v, ok := ambiguousRule("AmbiguousIntervention", votes[domain.SlotIntervention], penaltyAmbiguousIntervention); ok {
		result.SoftViolations = append(result.SoftViolations, v)
	}

	for _, v := range result.SoftViolations {
		result.TotalPenalty += v.Penalty
	}
	if result.TotalPenalty > 1 {
		result.TotalPenalty = 1
	}

	if len(result.HardViolations) > 0 || len(result.SoftViolations) > 0 {
		logging.Get(logging.CategoryRules).Debug("record %s: %d hard, %d soft violations (penalty %.2f)",
			record.RecordID, len(result.HardViolations), len(result.SoftViolations), result.TotalPenalty)
	}
	return result
}

// publicationTypeRule excludes editorials, errata and records whose title
// marks them as non-primary literature. UNKNOWN study types never trigger.
func publicationTypeRule(record domain.Record) (domain.RuleViolation, bool) {
	switch {
	case record.StudyType == domain.StudyEditorial || record.StudyType == domain.StudyErratum:
		return domain.RuleViolation{
			RuleName:    "PublicationType",
			Description: fmt.Sprintf("study type %s is not primary literature", record.StudyType),
		}, true
	case nonPrimaryTitleRE.MatchString(record.Title):
		return domain.RuleViolation{
			RuleName:    "PublicationType",
			Description: "title indicates a non-primary publication type",
		}, true
	}
	return domain.RuleViolation{}, false
}

// languageRule fires when the criteria restrict languages and the record
// declares one outside the allowed set. Records without a language pass.
func languageRule(record domain.Record, criteria domain.Criteria) (domain.RuleViolation, bool) {
	if criteria.AllowsLanguage(record.Language) {
		return domain.RuleViolation{}, false
	}
	return domain.RuleViolation{
		RuleName:    "Language",
		Description: fmt.Sprintf("language %q is outside the restriction %v", record.Language, criteria.LanguageRestriction),
	}, true
}

// studyDesignRule matches the record's study type against the criteria's
// excluded designs, case-insensitively. UNKNOWN never triggers.
func studyDesignRule(record domain.Record, criteria domain.Criteria) (domain.RuleViolation, bool) {
	if record.StudyType == domain.StudyUnknown {
		return domain.RuleViolation{}, false
	}
	for _, term := range criteria.StudyDesignExclude {
		if domain.ParseStudyType(term) == record.StudyType ||
			strings.EqualFold(strings.TrimSpace(term), string(record.StudyType)) {
			return domain.RuleViolation{
				RuleName:    "StudyDesign",
				Description: fmt.Sprintf("study design %s is excluded by the criteria", record.StudyType),
			}, true
		}
	}
	return domain.RuleViolation{}, false
}

// slotVote is one model's non-null match verdict for a canonical slot.
type slotVote struct {
	match bool
}

// slotVotes folds every non-errored model's element assessments into
// per-slot vote lists, mapping framework-specific element names (sample,
// evaluation, exposure, ...) onto canonical slots. Null matches are skipped.
func slotVotes(outputs []domain.ModelOutput) map[domain.CanonicalSlot][]slotVote {
	votes := make(map[domain.CanonicalSlot][]slotVote)
	for _, out := range outputs {
		if out.Errored() {
			continue
		}
		for element, assessment := range out.ElementAssessment {
			if assessment.Match == nil {
				continue
			}
			slot := domain.SlotOf(element)
			votes[slot] = append(votes[slot], slotVote{match: *assessment.Match})
		}
	}
	return votes
}

// partialMatchRule fires when at least half of the non-null votes for a
// slot report no match.
func partialMatchRule(name string, votes []slotVote, penalty float64) (domain.RuleViolation, bool) {
	if len(votes) == 0 {
		return domain.RuleViolation{}, false
	}
	noMatch := 0
	for _, v := range votes {
		if !v.match {
			noMatch++
		}
	}
	if noMatch*2 < len(votes) {
		return domain.RuleViolation{}, false
	}
	return domain.RuleViolation{
		RuleName:    name,
		Description: fmt.Sprintf("%d of %d models found no match", noMatch, len(votes)),
		Penalty:     penalty,
	}, true
}

// ambiguousRule fires when the models disagree on a slot: some report a
// match and some do not.
func ambiguousRule(name string, votes []slotVote, penalty float64) (domain.RuleViolation, bool) {
	var sawMatch, sawNoMatch bool
	for _, v := range votes {
		if v.match {
			sawMatch = true
		} else {
			sawNoMatch = true
		}
	}
	if !sawMatch || !sawNoMatch {
		return domain.RuleViolation{}, false
	}
	return domain.RuleViolation{
		RuleName:    name,
		Description: "models disagree on this element",
		Penalty:     penalty,
	}, true
}
