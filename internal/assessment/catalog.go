// Package assessment runs quality assessment over extracted document text:
// a fixed catalog of appraisal tools keyed by study design, per-criterion
// prompt fan-out and judgment aggregation.
package assessment

import (
	"strings"

	"medscreen/internal/domain"
)

// Criterion is one appraisal question of a tool.
type Criterion struct {
	ID        string
	Text      string
	Judgments []string
}

// Tool is one critical-appraisal instrument.
type Tool struct {
	Name         string
	DocumentType string
	Criteria     []Criterion
}

// ToolFor resolves the appraisal tool for a document type. The mapping is
// fixed: unsupported types report ok=false and the assessment completes
// empty with an explanatory message.
func ToolFor(documentType string) (Tool, bool) {
	key := normalizeDocType(documentType)
	tool, ok := catalog[key]
	return tool, ok
}

// SupportedTypes lists the catalog keys, for CLI help and error messages.
func SupportedTypes() []string {
	return []string{
		"RCT", "SYSTEMATIC_REVIEW", "COHORT", "CASE_CONTROL",
		"CROSS_SECTIONAL", "DIAGNOSTIC", "QUALITATIVE", "ECONOMIC", "ANIMAL",
	}
}

func normalizeDocType(s string) string {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
	switch key {
	case "ECONOMIC", "ECONOMIC_EVALUATION", "COST_EFFECTIVENESS":
		return "ECONOMIC"
	case "ANIMAL", "ANIMAL_STUDY", "PRECLINICAL":
		return "ANIMAL"
	}
	if st := domain.ParseStudyType(key); st != domain.StudyUnknown {
		return string(st)
	}
	return key
}

var (
	rob2Judgments   = []string{"Low risk", "Some concerns", "High risk"}
	amstarJudgments = []string{"Yes", "Partial yes", "No"}
	nosJudgments    = []string{"Star awarded", "No star"}
	axisJudgments   = []string{"Yes", "No", "Don't know"}
	quadasJudgments = []string{"Low", "High", "Unclear"}
	caspJudgments   = []string{"Yes", "No", "Can't tell"}
	cheersJudgments = []string{"Yes", "Partially", "No"}
	arriveJudgments = []string{"Reported", "Not reported"}
)

var catalog = map[string]Tool{
	"RCT": {
		Name:         "Cochrane RoB 2",
		DocumentType: "RCT",
		Criteria: []Criterion{
			{ID: "rob2-1", Text: "Risk of bias arising from the randomization process", Judgments: rob2Judgments},
			{ID: "rob2-2", Text: "Risk of bias due to deviations from the intended interventions", Judgments: rob2Judgments},
			{ID: "rob2-3", Text: "Risk of bias due to missing outcome data", Judgments: rob2Judgments},
			{ID: "rob2-4", Text: "Risk of bias in measurement of the outcome", Judgments: rob2Judgments},
			{ID: "rob2-5", Text: "Risk of bias in selection of the reported result", Judgments: rob2Judgments},
			{ID: "rob2-6", Text: "Overall risk of bias", Judgments: rob2Judgments},
		},
	},
	"SYSTEMATIC_REVIEW": {
		Name:         "AMSTAR-2",
		DocumentType: "SYSTEMATIC_REVIEW",
		Criteria: []Criterion{
			{ID: "amstar-1", Text: "Did the research questions and inclusion criteria include the components of PICO?", Judgments: amstarJudgments},
			{ID: "amstar-2", Text: "Did the report contain an explicit statement that the review methods were established prior to conduct?", Judgments: amstarJudgments},
			{ID: "amstar-3", Text: "Did the review authors explain their selection of the study designs for inclusion?", Judgments: amstarJudgments},
			{ID: "amstar-4", Text: "Did the review authors use a comprehensive literature search strategy?", Judgments: amstarJudgments},
			{ID: "amstar-5", Text: "Did the review authors perform study selection in duplicate?", Judgments: amstarJudgments},
			{ID: "amstar-6", Text: "Did the review authors perform data extraction in duplicate?", Judgments: amstarJudgments},
			{ID: "amstar-7", Text: "Did the review authors provide a list of excluded studies and justify the exclusions?", Judgments: amstarJudgments},
			{ID: "amstar-8", Text: "Did the review authors use a satisfactory technique for assessing risk of bias in included studies?", Judgments: amstarJudgments},
		},
	},
	"COHORT": {
		Name:         "Newcastle-Ottawa Scale (cohort)",
		DocumentType: "COHORT",
		Criteria: []Criterion{
			{ID: "nos-c1", Text: "Representativeness of the exposed cohort", Judgments: nosJudgments},
			{ID: "nos-c2", Text: "Selection of the non-exposed cohort", Judgments: nosJudgments},
			{ID: "nos-c3", Text: "Ascertainment of exposure", Judgments: nosJudgments},
			{ID: "nos-c4", Text: "Demonstration that the outcome of interest was not present at start of study", Judgments: nosJudgments},
			{ID: "nos-c5", Text: "Comparability of cohorts on the basis of design or analysis", Judgments: nosJudgments},
			{ID: "nos-c6", Text: "Assessment of outcome", Judgments: nosJudgments},
			{ID: "nos-c7", Text: "Was follow-up long enough for outcomes to occur?", Judgments: nosJudgments},
			{ID: "nos-c8", Text: "Adequacy of follow-up of cohorts", Judgments: nosJudgments},
		},
	},
	"CASE_CONTROL": {
		Name:         "Newcastle-Ottawa Scale (case-control)",
		DocumentType: "CASE_CONTROL",
		Criteria: []Criterion{
			{ID: "nos-cc1", Text: "Is the case definition adequate?", Judgments: nosJudgments},
			{ID: "nos-cc2", Text: "Representativeness of the cases", Judgments: nosJudgments},
			{ID: "nos-cc3", Text: "Selection of controls", Judgments: nosJudgments},
			{ID: "nos-cc4", Text: "Definition of controls", Judgments: nosJudgments},
			{ID: "nos-cc5", Text: "Comparability of cases and controls on the basis of design or analysis", Judgments: nosJudgments},
			{ID: "nos-cc6", Text: "Ascertainment of exposure", Judgments: nosJudgments},
			{ID: "nos-cc7", Text: "Same method of ascertainment for cases and controls", Judgments: nosJudgments},
			{ID: "nos-cc8", Text: "Non-response rate", Judgments: nosJudgments},
		},
	},
	"CROSS_SECTIONAL": {
		Name:         "AXIS",
		DocumentType: "CROSS_SECTIONAL",
		Criteria: []Criterion{
			{ID: "axis-1", Text: "Were the aims/objectives of the study clear?", Judgments: axisJudgments},
			{ID: "axis-2", Text: "Was the study design appropriate for the stated aims?", Judgments: axisJudgments},
			{ID: "axis-3", Text: "Was the sample size justified?", Judgments: axisJudgments},
			{ID: "axis-4", Text: "Was the target/reference population clearly defined?", Judgments: axisJudgments},
			{ID: "axis-5", Text: "Was the sample frame taken from an appropriate population base?", Judgments: axisJudgments},
			{ID: "axis-6", Text: "Were the risk factor and outcome variables measured correctly?", Judgments: axisJudgments},
			{ID: "axis-7", Text: "Were the methods sufficiently described to enable them to be repeated?", Judgments: axisJudgments},
			{ID: "axis-8", Text: "Were the results internally consistent?", Judgments: axisJudgments},
		},
	},
	"DIAGNOSTIC": {
		Name:         "QUADAS-2",
		DocumentType: "DIAGNOSTIC",
		Criteria: []Criterion{
			{ID: "quadas-1", Text: "Risk of bias: patient selection", Judgments: quadasJudgments},
			{ID: "quadas-2", Text: "Risk of bias: index test", Judgments: quadasJudgments},
			{ID: "quadas-3", Text: "Risk of bias: reference standard", Judgments: quadasJudgments},
			{ID: "quadas-4", Text: "Risk of bias: flow and timing", Judgments: quadasJudgments},
			{ID: "quadas-5", Text: "Applicability concerns: patient selection", Judgments: quadasJudgments},
			{ID: "quadas-6", Text: "Applicability concerns: index test", Judgments: quadasJudgments},
			{ID: "quadas-7", Text: "Applicability concerns: reference standard", Judgments: quadasJudgments},
		},
	},
	"QUALITATIVE": {
		Name:         "CASP Qualitative Checklist",
		DocumentType: "QUALITATIVE",
		Criteria: []Criterion{
			{ID: "casp-1", Text: "Was there a clear statement of the aims of the research?", Judgments: caspJudgments},
			{ID: "casp-2", Text: "Is a qualitative methodology appropriate?", Judgments: caspJudgments},
			{ID: "casp-3", Text: "Was the research design appropriate to address the aims of the research?", Judgments: caspJudgments},
			{ID: "casp-4", Text: "Was the recruitment strategy appropriate to the aims of the research?", Judgments: caspJudgments},
			{ID: "casp-5", Text: "Was the data collected in a way that addressed the research issue?", Judgments: caspJudgments},
			{ID: "casp-6", Text: "Has the relationship between researcher and participants been adequately considered?", Judgments: caspJudgments},
			{ID: "casp-7", Text: "Have ethical issues been taken into consideration?", Judgments: caspJudgments},
			{ID: "casp-8", Text: "Was the data analysis sufficiently rigorous?", Judgments: caspJudgments},
			{ID: "casp-9", Text: "Is there a clear statement of findings?", Judgments: caspJudgments},
		},
	},
	"ECONOMIC": {
		Name:         "CHEERS",
		DocumentType: "ECONOMIC",
		Criteria: []Criterion{
			{ID: "cheers-1", Text: "Does the title identify the study as an economic evaluation?", Judgments: cheersJudgments},
			{ID: "cheers-2", Text: "Are the setting and perspective of the evaluation stated?", Judgments: cheersJudgments},
			{ID: "cheers-3", Text: "Are the compared interventions described?", Judgments: cheersJudgments},
			{ID: "cheers-4", Text: "Is the time horizon stated and justified?", Judgments: cheersJudgments},
			{ID: "cheers-5", Text: "Are the discount rates reported?", Judgments: cheersJudgments},
			{ID: "cheers-6", Text: "Are the outcome measures and their valuation described?", Judgments: cheersJudgments},
			{ID: "cheers-7", Text: "Are resource quantities and unit costs reported?", Judgments: cheersJudgments},
			{ID: "cheers-8", Text: "Is uncertainty characterized?", Judgments: cheersJudgments},
		},
	},
	"ANIMAL": {
		Name:         "ARRIVE",
		DocumentType: "ANIMAL",
		Criteria: []Criterion{
			{ID: "arrive-1", Text: "Study design, including groups and experimental unit", Judgments: arriveJudgments},
			{ID: "arrive-2", Text: "Sample size and how it was decided", Judgments: arriveJudgments},
			{ID: "arrive-3", Text: "Inclusion and exclusion criteria", Judgments: arriveJudgments},
			{ID: "arrive-4", Text: "Randomisation of experimental units", Judgments: arriveJudgments},
			{ID: "arrive-5", Text: "Blinding of outcome assessors", Judgments: arriveJudgments},
			{ID: "arrive-6", Text: "Outcome measures assessed", Judgments: arriveJudgments},
			{ID: "arrive-7", Text: "Statistical methods used", Judgments: arriveJudgments},
			{ID: "arrive-8", Text: "Species, strain, sex and age of experimental animals", Judgments: arriveJudgments},
		},
	},
}
