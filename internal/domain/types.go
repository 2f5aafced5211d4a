// Package domain holds the shared data model of the screening and quality
// assessment engine: literature records, criteria frameworks, per-model
// outputs, ensemble decisions and job records. Types here are plain data;
// all behavior lives in the packages that operate on them.
package domain

import (
	"strings"
	"time"
)

// Decision is the three-way screening outcome. HUMAN_REVIEW is a first-class
// value through the whole pipeline; collapse to binary only at evaluation
// boundaries (see CollapseBinary).
type Decision string

const (
	DecisionInclude     Decision = "INCLUDE"
	DecisionExclude     Decision = "EXCLUDE"
	DecisionHumanReview Decision = "HUMAN_REVIEW"
)

// Valid reports whether d is one of the three known decision labels.
func (d Decision) Valid() bool {
	switch d {
	case DecisionInclude, DecisionExclude, DecisionHumanReview:
		return true
	}
	return false
}

// CollapseBinary maps HUMAN_REVIEW to INCLUDE for recall-oriented metric
// code. Nothing inside the engine calls this.
func (d Decision) CollapseBinary() Decision {
	if d == DecisionHumanReview {
		return DecisionInclude
	}
	return d
}

// Tier is the routing bucket of a screening decision.
type Tier int

const (
	TierRuleOverride Tier = 0 // hard rule fired, auto-exclude
	TierHighConf     Tier = 1 // all models agree, confidence above tau_high
	TierMajority     Tier = 2 // majority auto
	TierHumanReview  Tier = 3 // needs a human
)

// StudyType classifies the study design of a record.
type StudyType string

const (
	StudyRCT              StudyType = "RCT"
	StudySystematicReview StudyType = "SYSTEMATIC_REVIEW"
	StudyCohort           StudyType = "COHORT"
	StudyCaseControl      StudyType = "CASE_CONTROL"
	StudyCrossSectional   StudyType = "CROSS_SECTIONAL"
	StudyDiagnostic       StudyType = "DIAGNOSTIC"
	StudyQualitative      StudyType = "QUALITATIVE"
	StudyEditorial        StudyType = "EDITORIAL"
	StudyErratum          StudyType = "ERRATUM"
	StudyReview           StudyType = "REVIEW"
	StudyUnknown          StudyType = "UNKNOWN"
)

// ParseStudyType normalizes free-text study design labels into a StudyType.
// Unrecognized input maps to UNKNOWN, which never triggers a hard rule.
func ParseStudyType(s string) StudyType {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "RCT", "RANDOMIZED_CONTROLLED_TRIAL", "RANDOMISED_CONTROLLED_TRIAL":
		return StudyRCT
	case "SYSTEMATIC_REVIEW", "META-ANALYSIS", "META_ANALYSIS":
		return StudySystematicReview
	case "COHORT", "COHORT_STUDY", "PROSPECTIVE_COHORT", "RETROSPECTIVE_COHORT":
		return StudyCohort
	case "CASE_CONTROL", "CASE-CONTROL":
		return StudyCaseControl
	case "CROSS_SECTIONAL", "CROSS-SECTIONAL":
		return StudyCrossSectional
	case "DIAGNOSTIC", "DIAGNOSTIC_ACCURACY":
		return StudyDiagnostic
	case "QUALITATIVE":
		return StudyQualitative
	case "EDITORIAL", "LETTER", "COMMENT":
		return StudyEditorial
	case "ERRATUM", "CORRECTION", "RETRACTION":
		return StudyErratum
	case "REVIEW", "NARRATIVE_REVIEW":
		return StudyReview
	default:
		return StudyUnknown
	}
}

// Record is one piece of literature. Immutable after ingest.
type Record struct {
	RecordID  string            `json:"record_id"`
	Title     string            `json:"title"`
	Abstract  string            `json:"abstract,omitempty"`
	Authors   []string          `json:"authors,omitempty"`
	Year      int               `json:"year,omitempty"`
	DOI       string            `json:"doi,omitempty"`
	PMID      string            `json:"pmid,omitempty"`
	Language  string            `json:"language,omitempty"`
	StudyType StudyType         `json:"study_type"`
	Raw       map[string]string `json:"raw,omitempty"`
}

// ElementAssessment is one model's per-element judgement. Match is nil when
// the model could not tell.
type ElementAssessment struct {
	Match    *bool  `json:"match"`
	Evidence string `json:"evidence,omitempty"`
}

// ModelOutput is the normalized result of one LLM call.
type ModelOutput struct {
	ModelID           string                       `json:"model_id"`
	Decision          Decision                     `json:"decision,omitempty"`
	Score             float64                      `json:"score"`
	Confidence        float64                      `json:"confidence"`
	Rationale         string                       `json:"rationale,omitempty"`
	ElementAssessment map[string]ElementAssessment `json:"element_assessment,omitempty"`
	RawResponse       string                       `json:"raw_response,omitempty"`
	PromptHash        string                       `json:"prompt_hash,omitempty"`
	LatencyMS         int64                        `json:"latency_ms"`
	Error             string                       `json:"error,omitempty"`
}

// Errored reports whether this output is a non-vote (call or parse failure).
func (m ModelOutput) Errored() bool { return m.Error != "" }

// RuleViolation is one triggered hard or soft rule.
type RuleViolation struct {
	RuleName    string  `json:"rule_name"`
	Description string  `json:"description"`
	Penalty     float64 `json:"penalty,omitempty"`
}

// RuleResult is the output of the rule engine for one record.
type RuleResult struct {
	HardViolations []RuleViolation `json:"hard_violations,omitempty"`
	SoftViolations []RuleViolation `json:"soft_violations,omitempty"`
	TotalPenalty   float64         `json:"total_penalty"`
}

// HasHardViolation reports whether any hard rule fired.
func (r RuleResult) HasHardViolation() bool { return len(r.HardViolations) > 0 }

// ScreeningDecision is the per-record ensemble output.
type ScreeningDecision struct {
	RecordID           string        `json:"record_id"`
	Decision           Decision      `json:"decision"`
	Tier               Tier          `json:"tier"`
	FinalScore         float64       `json:"final_score"`
	EnsembleConfidence float64       `json:"ensemble_confidence"`
	ModelOutputs       []ModelOutput `json:"model_outputs"`
	RuleResult         RuleResult    `json:"rule_result"`
	HumanDecision      *Decision     `json:"human_decision,omitempty"`
	Message            string        `json:"message,omitempty"`
	DecidedAt          time.Time     `json:"decided_at"`
}

// AuditEntry is the append-only reproducibility bundle per decision.
type AuditEntry struct {
	RecordID        string            `json:"record_id"`
	CriteriaID      string            `json:"criteria_id"`
	CriteriaVersion string            `json:"criteria_version"`
	ModelVersions   map[string]string `json:"model_versions"`
	PromptHashes    map[string]string `json:"prompt_hashes"`
	ModelOutputs    []ModelOutput     `json:"model_outputs"`
	RuleResult      RuleResult        `json:"rule_result"`
	FinalDecision   Decision          `json:"final_decision"`
	Tier            Tier              `json:"tier"`
	Seed            int64             `json:"seed"`
	CreatedAt       time.Time         `json:"created_at"`
}
