package assessment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"medscreen/internal/config"
	"medscreen/internal/domain"
	"medscreen/internal/llm"
	"medscreen/internal/logging"
)

// judgmentParseFailure is the degraded judgment for unparseable responses.
// It still counts as a negative finding.
const judgmentParseFailure = "Error: Parse Failure"

// negativeMarkers flag a normalized judgment as a negative finding.
var negativeMarkers = []string{"no", "high risk", "poor", "not met"}

// Result is the outcome of assessing one document.
type Result struct {
	ToolName string
	Details  []domain.CriterionResult
	Total    int
	Negative int
	// Message is set when the document type is unsupported.
	Message string
}

// ProgressFunc observes fan-out progress. done is monotonic per assessment;
// observers must ignore values lower than already seen.
type ProgressFunc func(done, total int)

// Assessor fans out one LLM call per appraisal criterion.
type Assessor struct {
	caller llm.Caller
	model  config.ModelRef
}

// NewAssessor wires the criterion fan-out against a dispatcher and the
// configured assessor model.
func NewAssessor(caller llm.Caller, model config.ModelRef) *Assessor {
	return &Assessor{caller: caller, model: model}
}

// Assess runs the full appraisal for one document. Individual criterion
// failures degrade into parse-failure results; Assess errors only when the
// context dies before any work can complete.
func (a *Assessor) Assess(ctx context.Context, documentType, docText string, progress ProgressFunc) (Result, error) {
	tool, ok := ToolFor(documentType)
	if !ok {
		logging.Assessment("document type %q unsupported, completing empty", documentType)
		return Result{
			Message: fmt.Sprintf("document type %q is not supported; supported types: %s",
				documentType, strings.Join(SupportedTypes(), ", ")),
		}, nil
	}

	total := len(tool.Criteria)
	details := make([]domain.CriterionResult, total)
	var (
		mu   sync.Mutex
		done int
	)

	var g errgroup.Group
	for i, criterion := range tool.Criteria {
		i, criterion := i, criterion
		g.Go(func() error {
			details[i] = a.assessCriterion(ctx, tool, criterion, docText)
			mu.Lock()
			done++
			completed := done
			mu.Unlock()
			if progress != nil {
				progress(completed, total)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil && done == 0 {
		return Result{}, fmt.Errorf("assessment cancelled before any criterion completed: %w", err)
	}

	result := Result{ToolName: tool.Name, Details: details, Total: total}
	for _, d := range details {
		if IsNegativeFinding(d.Judgment) {
			result.Negative++
		}
	}
	logging.Assessment("%s: %d criteria evaluated, %d negative findings", tool.Name, result.Total, result.Negative)
	return result, nil
}

// assessCriterion runs one appraisal question. All failures degrade.
func (a *Assessor) assessCriterion(ctx context.Context, tool Tool, criterion Criterion, docText string) domain.CriterionResult {
	result := domain.CriterionResult{
		CriterionID:   criterion.ID,
		CriterionText: criterion.Text,
	}

	system, user := RenderCriterionPrompt(tool, criterion, docText)
	resp, err := a.caller.Call(ctx, llm.CallSpec{
		Provider:       a.model.Provider,
		Model:          a.model.Model,
		SystemPrompt:   system,
		Prompt:         user,
		ValidDecisions: criterion.Judgments,
	})
	if err != nil {
		logging.AssessmentWarn("criterion %s call failed: %v", criterion.ID, err)
		result.Judgment = judgmentParseFailure
		result.Reason = "model call failed: " + err.Error()
		return result
	}

	parsed, err := llm.ParseCriterionResponse(a.model.Provider, a.model.Model, resp.Text)
	if err != nil {
		logging.AssessmentWarn("criterion %s unparseable: %v", criterion.ID, err)
		result.Judgment = judgmentParseFailure
		result.Reason = "unparseable response: " + resp.Text
		return result
	}
	result.Judgment = parsed.Judgment
	result.Reason = parsed.Reason
	result.EvidenceQuotes = parsed.EvidenceQuotes
	return result
}

// IsNegativeFinding reports whether a judgment counts against the study in
// the summary: it contains a negative marker or is an error judgment.
func IsNegativeFinding(judgment string) bool {
	normalized := strings.ToLower(strings.TrimSpace(judgment))
	if strings.HasPrefix(normalized, "error") {
		return true
	}
	for _, marker := range negativeMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}
