package screening

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"medscreen/internal/config"
	"medscreen/internal/domain"
	"medscreen/internal/llm"
	"medscreen/internal/logging"
)

// validScreeningLabels is the cacheable decision set for screening calls.
var validScreeningLabels = []string{
	string(domain.DecisionInclude),
	string(domain.DecisionExclude),
	string(domain.DecisionHumanReview),
}

// PipelineConfig shapes one screening run.
type PipelineConfig struct {
	// Models is the ensemble roster fanned out per record.
	Models   []config.ModelRef
	Ensemble config.EnsembleConfig
	// Seed is passed to every model that honors it and recorded in the
	// audit entry.
	Seed int64
	// Temperature applies to models that support it; nil sends none.
	Temperature *float64
}

// Pipeline screens one record at a time: render prompt, fan out to the
// ensemble, run the rule engine, aggregate, persist the audit entry.
type Pipeline struct {
	caller llm.Caller
	audit  *AuditLog
	cfg    PipelineConfig

	now func() time.Time // test hook
}

// NewPipeline wires a screening pipeline. audit may be nil in tests.
func NewPipeline(caller llm.Caller, audit *AuditLog, cfg PipelineConfig) *Pipeline {
	return &Pipeline{caller: caller, audit: audit, cfg: cfg, now: time.Now}
}

// Screen produces the ensemble decision for one (record, criteria) pair.
// Individual model failures degrade to non-votes; Screen returns an error
// only for invalid input or a failed audit write.
func (p *Pipeline) Screen(ctx context.Context, record domain.Record, criteria domain.Criteria) (domain.ScreeningDecision, error) {
	if record.RecordID == "" {
		return domain.ScreeningDecision{}, fmt.Errorf("record has no record_id")
	}
	if err := criteria.Validate(); err != nil {
		return domain.ScreeningDecision{}, fmt.Errorf("invalid criteria: %w", err)
	}
	if len(p.cfg.Models) == 0 {
		return domain.ScreeningDecision{}, fmt.Errorf("no ensemble models configured")
	}

	system, user, promptHash := RenderScreeningPrompt(criteria, record)
	logging.Screening("record %s: fanning out to %d models (prompt %s)",
		record.RecordID, len(p.cfg.Models), promptHash[:12])

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Ensemble.PerRecordDeadline())
	defer cancel()

	// Outputs arrive in completion order; the aggregator does not care.
	results := make(chan domain.ModelOutput, len(p.cfg.Models))
	var g errgroup.Group
	for _, ref := range p.cfg.Models {
		ref := ref
		g.Go(func() error {
			results <- p.callModel(ctx, ref, system, user, promptHash)
			return nil
		})
	}
	g.Wait()
	close(results)

	outputs := make([]domain.ModelOutput, 0, len(p.cfg.Models))
	for out := range results {
		outputs = append(outputs, out)
	}

	rules := EvaluateRules(record, criteria, outputs)
	decision, tier, finalScore, confidence := Aggregate(outputs, rules, p.cfg.Ensemble)

	sd := domain.ScreeningDecision{
		RecordID:           record.RecordID,
		Decision:           decision,
		Tier:               tier,
		FinalScore:         finalScore,
		EnsembleConfidence: confidence,
		ModelOutputs:       outputs,
		RuleResult:         rules,
		DecidedAt:          p.now().UTC(),
	}
	if tier == domain.TierHumanReview && allErrored(outputs) {
		sd.Message = "all models failed: " + joinErrors(outputs)
	}

	logging.Screening("record %s: %s tier %d (score %.2f, confidence %.2f)",
		record.RecordID, sd.Decision, sd.Tier, sd.FinalScore, sd.EnsembleConfidence)

	if p.audit != nil {
		if err := p.audit.Append(ctx, p.auditEntry(record, criteria, sd, promptHash)); err != nil {
			return sd, fmt.Errorf("decision reached but audit append failed: %w", err)
		}
	}
	return sd, nil
}

// callModel runs one ensemble member and normalizes its result. Failures
// never propagate; they become errored outputs.
func (p *Pipeline) callModel(ctx context.Context, ref config.ModelRef, system, user, promptHash string) domain.ModelOutput {
	seed := p.cfg.Seed
	spec := llm.CallSpec{
		Provider:       ref.Provider,
		Model:          ref.Model,
		SystemPrompt:   system,
		Prompt:         user,
		Params:         llm.Params{Temperature: p.cfg.Temperature, Seed: &seed},
		ValidDecisions: validScreeningLabels,
	}

	out := domain.ModelOutput{
		ModelID:    ref.Provider + "/" + ref.Model,
		PromptHash: promptHash,
	}
	resp, err := p.caller.Call(ctx, spec)
	if err != nil {
		out.Error = err.Error()
		out.RawResponse = llm.RawBodyOf(err)
		logging.ScreeningWarn("model %s errored: %v", out.ModelID, err)
		return out
	}
	// After a fallback the serving route differs from the requested one;
	// the output names who actually answered.
	if resp.Provider != "" {
		out.ModelID = resp.Provider + "/" + resp.Model
	}
	out.RawResponse = resp.Text
	out.LatencyMS = resp.Latency.Milliseconds()

	parsed, err := llm.ParseScreeningResponse(ref.Provider, ref.Model, resp.Text)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Decision = parsed.Decision
	out.Score = parsed.Score
	out.Confidence = parsed.Confidence
	out.Rationale = parsed.Rationale
	out.ElementAssessment = parsed.ElementAssessment
	return out
}

func (p *Pipeline) auditEntry(record domain.Record, criteria domain.Criteria, sd domain.ScreeningDecision, promptHash string) domain.AuditEntry {
	versions := make(map[string]string, len(sd.ModelOutputs))
	hashes := make(map[string]string, len(sd.ModelOutputs))
	for _, out := range sd.ModelOutputs {
		versions[out.ModelID] = out.ModelID
		hashes[out.ModelID] = promptHash
	}
	return domain.AuditEntry{
		RecordID:        record.RecordID,
		CriteriaID:      criteria.CriteriaID,
		CriteriaVersion: criteria.CriteriaVersion,
		ModelVersions:   versions,
		PromptHashes:    hashes,
		ModelOutputs:    sd.ModelOutputs,
		RuleResult:      sd.RuleResult,
		FinalDecision:   sd.Decision,
		Tier:            sd.Tier,
		Seed:            p.cfg.Seed,
		CreatedAt:       sd.DecidedAt,
	}
}

func allErrored(outputs []domain.ModelOutput) bool {
	for _, out := range outputs {
		if !out.Errored() {
			return false
		}
	}
	return len(outputs) > 0
}

func joinErrors(outputs []domain.ModelOutput) string {
	msgs := make([]string, 0, len(outputs))
	for _, out := range outputs {
		if out.Errored() {
			msgs = append(msgs, out.ModelID+": "+out.Error)
		}
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}
