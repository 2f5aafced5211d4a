package screening

import (
	"medscreen/internal/config"
	"medscreen/internal/domain"
	"medscreen/internal/logging"
)

// Aggregate reduces the per-model outputs and the rule result into the
// final (decision, tier, score, confidence). Deterministic and
// order-independent: shuffling the outputs never changes the result.
func Aggregate(outputs []domain.ModelOutput, rules domain.RuleResult, cfg config.EnsembleConfig) (domain.Decision, domain.Tier, float64, float64) {
	successful := make([]domain.ModelOutput, 0, len(outputs))
	for _, out := range outputs {
		if !out.Errored() && out.Decision.Valid() {
			successful = append(successful, out)
		}
	}

	confidence := meanConfidence(successful)

	// A hard violation overrides whatever the models said.
	if rules.HasHardViolation() {
		return domain.DecisionExclude, domain.TierRuleOverride, 0, confidence
	}

	// Errored outputs are non-votes; with no votes at all the record goes
	// to a human.
	if len(successful) == 0 {
		return domain.DecisionHumanReview, domain.TierHumanReview, 0, 0
	}

	var scoreSum float64
	includes, excludes := 0, 0
	for _, out := range successful {
		scoreSum += out.Score
		switch out.Decision {
		case domain.DecisionInclude:
			includes++
		case domain.DecisionExclude:
			excludes++
		}
	}
	finalScore := scoreSum/float64(len(successful)) - rules.TotalPenalty
	if finalScore < 0 {
		finalScore = 0
	}

	allInclude := includes == len(successful)
	switch {
	// Tier 1 requires a clean rule result: any soft penalty demotes a
	// unanimous confident vote to the majority tier.
	case allInclude && rules.TotalPenalty == 0 && confidence >= cfg.TauHigh && finalScore >= cfg.TauMid:
		return domain.DecisionInclude, domain.TierHighConf, finalScore, confidence
	case includes > excludes && finalScore >= cfg.TauMid:
		return domain.DecisionInclude, domain.TierMajority, finalScore, confidence
	case excludes > includes && finalScore < cfg.TauLow:
		return domain.DecisionExclude, domain.TierMajority, finalScore, confidence
	default:
		// Even splits and everything in the uncertain band land here.
		logging.Get(logging.CategoryEnsemble).Debug("unresolved vote (%d include, %d exclude, score %.2f): human review",
			includes, excludes, finalScore)
		return domain.DecisionHumanReview, domain.TierHumanReview, finalScore, confidence
	}
}

func meanConfidence(outputs []domain.ModelOutput) float64 {
	if len(outputs) == 0 {
		return 0
	}
	var sum float64
	for _, out := range outputs {
		sum += out.Confidence
	}
	return sum / float64(len(outputs))
}
