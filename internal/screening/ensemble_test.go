package screening

import (
	"math"
	"math/rand"
	"testing"

	"medscreen/internal/config"
	"medscreen/internal/domain"
)

func vote(decision domain.Decision, score, confidence float64) domain.ModelOutput {
	return domain.ModelOutput{ModelID: "p/m", Decision: decision, Score: score, Confidence: confidence}
}

func TestAggregateUnanimousInclude(t *testing.T) {
	outputs := []domain.ModelOutput{
		vote(domain.DecisionInclude, 0.90, 0.95),
		vote(domain.DecisionInclude, 0.90, 0.95),
		vote(domain.DecisionInclude, 0.90, 0.95),
	}
	decision, tier, score, conf := Aggregate(outputs, domain.RuleResult{}, config.DefaultEnsembleConfig())
	if decision != domain.DecisionInclude || tier != domain.TierHighConf {
		t.Errorf("decision/tier = %s/%d, want INCLUDE/1", decision, tier)
	}
	if math.Abs(score-0.90) > 1e-9 {
		t.Errorf("final score = %v, want 0.90", score)
	}
	if math.Abs(conf-0.95) > 1e-9 {
		t.Errorf("confidence = %v, want 0.95", conf)
	}
}

func TestAggregateSoftPenaltyDemotesToMajority(t *testing.T) {
	outputs := []domain.ModelOutput{
		vote(domain.DecisionInclude, 0.72, 0.95),
		vote(domain.DecisionInclude, 0.72, 0.95),
		vote(domain.DecisionInclude, 0.72, 0.95),
	}
	rules := domain.RuleResult{
		SoftViolations: []domain.RuleViolation{{RuleName: "OutcomePartialMatch", Penalty: 0.10}},
		TotalPenalty:   0.10,
	}
	decision, tier, score, _ := Aggregate(outputs, rules, config.DefaultEnsembleConfig())
	if decision != domain.DecisionInclude || tier != domain.TierMajority {
		t.Errorf("decision/tier = %s/%d, want INCLUDE/2", decision, tier)
	}
	if math.Abs(score-0.62) > 1e-9 {
		t.Errorf("final score = %v, want 0.62", score)
	}
}

func TestAggregateEvenSplitGoesToHuman(t *testing.T) {
	outputs := []domain.ModelOutput{
		vote(domain.DecisionInclude, 0.8, 0.8),
		vote(domain.DecisionInclude, 0.8, 0.8),
		vote(domain.DecisionExclude, 0.2, 0.8),
		vote(domain.DecisionExclude, 0.2, 0.8),
	}
	decision, tier, _, _ := Aggregate(outputs, domain.RuleResult{}, config.DefaultEnsembleConfig())
	if decision != domain.DecisionHumanReview || tier != domain.TierHumanReview {
		t.Errorf("decision/tier = %s/%d, want HUMAN_REVIEW/3", decision, tier)
	}
}

func TestAggregateHardViolationOverrides(t *testing.T) {
	outputs := []domain.ModelOutput{
		vote(domain.DecisionInclude, 0.9, 0.9),
		vote(domain.DecisionInclude, 0.9, 0.9),
	}
	rules := domain.RuleResult{
		HardViolations: []domain.RuleViolation{{RuleName: "PublicationType"}},
	}
	decision, tier, score, conf := Aggregate(outputs, rules, config.DefaultEnsembleConfig())
	if decision != domain.DecisionExclude || tier != domain.TierRuleOverride {
		t.Errorf("decision/tier = %s/%d, want EXCLUDE/0", decision, tier)
	}
	if score != 0 {
		t.Errorf("final score = %v, want 0", score)
	}
	if math.Abs(conf-0.9) > 1e-9 {
		t.Errorf("confidence = %v, want mean of model confidences", conf)
	}
}

func TestAggregateMajorityExcludeNeedsLowScore(t *testing.T) {
	low := []domain.ModelOutput{
		vote(domain.DecisionExclude, 0.1, 0.9),
		vote(domain.DecisionExclude, 0.2, 0.9),
		vote(domain.DecisionInclude, 0.4, 0.9),
	}
	decision, tier, _, _ := Aggregate(low, domain.RuleResult{}, config.DefaultEnsembleConfig())
	if decision != domain.DecisionExclude || tier != domain.TierMajority {
		t.Errorf("low-score exclude majority = %s/%d, want EXCLUDE/2", decision, tier)
	}

	// Exclude majority with a score in the uncertain band goes to a human.
	mid := []domain.ModelOutput{
		vote(domain.DecisionExclude, 0.45, 0.9),
		vote(domain.DecisionExclude, 0.45, 0.9),
		vote(domain.DecisionInclude, 0.45, 0.9),
	}
	decision, tier, _, _ = Aggregate(mid, domain.RuleResult{}, config.DefaultEnsembleConfig())
	if decision != domain.DecisionHumanReview || tier != domain.TierHumanReview {
		t.Errorf("mid-score exclude majority = %s/%d, want HUMAN_REVIEW/3", decision, tier)
	}
}

func TestAggregateErroredOutputsAreNonVotes(t *testing.T) {
	outputs := []domain.ModelOutput{
		vote(domain.DecisionInclude, 0.9, 0.95),
		vote(domain.DecisionInclude, 0.9, 0.95),
		{ModelID: "p/m3", Error: "timeout"},
	}
	decision, tier, score, _ := Aggregate(outputs, domain.RuleResult{}, config.DefaultEnsembleConfig())
	// Two clean unanimous includes: the errored model neither blocks tier 1
	// nor drags the mean score down.
	if decision != domain.DecisionInclude || tier != domain.TierHighConf {
		t.Errorf("decision/tier = %s/%d, want INCLUDE/1", decision, tier)
	}
	if math.Abs(score-0.9) > 1e-9 {
		t.Errorf("errored output contributed to the mean: score = %v", score)
	}
}

func TestAggregateAllErrored(t *testing.T) {
	outputs := []domain.ModelOutput{
		{ModelID: "p/m1", Error: "timeout"},
		{ModelID: "p/m2", Error: "circuit open"},
	}
	decision, tier, score, conf := Aggregate(outputs, domain.RuleResult{}, config.DefaultEnsembleConfig())
	if decision != domain.DecisionHumanReview || tier != domain.TierHumanReview {
		t.Errorf("decision/tier = %s/%d, want HUMAN_REVIEW/3", decision, tier)
	}
	if score != 0 || conf != 0 {
		t.Errorf("score/conf = %v/%v, want zeros", score, conf)
	}
}

func TestAggregateInvariants(t *testing.T) {
	cfg := config.DefaultEnsembleConfig()
	rng := rand.New(rand.NewSource(7))
	decisions := []domain.Decision{domain.DecisionInclude, domain.DecisionExclude, domain.DecisionHumanReview}

	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(5)
		outputs := make([]domain.ModelOutput, n)
		for j := range outputs {
			outputs[j] = vote(decisions[rng.Intn(3)], rng.Float64(), rng.Float64())
			if rng.Intn(4) == 0 {
				outputs[j].Error = "fault"
			}
		}
		rules := domain.RuleResult{TotalPenalty: float64(rng.Intn(3)) * 0.15}
		if rng.Intn(5) == 0 {
			rules.HardViolations = []domain.RuleViolation{{RuleName: "StudyDesign"}}
		}

		decision, tier, score, conf := Aggregate(outputs, rules, cfg)
		if (tier == domain.TierRuleOverride) != rules.HasHardViolation() {
			t.Fatalf("case %d: tier 0 iff hard violation broken (tier %d, hard %v)", i, tier, rules.HasHardViolation())
		}
		if decision == domain.DecisionInclude && tier != domain.TierHighConf && tier != domain.TierMajority {
			t.Fatalf("case %d: INCLUDE with tier %d", i, tier)
		}
		if score < 0 || score > 1 || conf < 0 || conf > 1 {
			t.Fatalf("case %d: score %v conf %v out of range", i, score, conf)
		}
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	outputs := []domain.ModelOutput{
		vote(domain.DecisionInclude, 0.9, 0.9),
		vote(domain.DecisionExclude, 0.2, 0.7),
		vote(domain.DecisionInclude, 0.6, 0.8),
	}
	d1, t1, s1, c1 := Aggregate(outputs, domain.RuleResult{}, config.DefaultEnsembleConfig())
	reversed := []domain.ModelOutput{outputs[2], outputs[1], outputs[0]}
	d2, t2, s2, c2 := Aggregate(reversed, domain.RuleResult{}, config.DefaultEnsembleConfig())
	if d1 != d2 || t1 != t2 || math.Abs(s1-s2) > 1e-12 || math.Abs(c1-c2) > 1e-12 {
		t.Errorf("aggregation depends on output order: (%s,%d,%v,%v) vs (%s,%d,%v,%v)",
			d1, t1, s1, c1, d2, t2, s2, c2)
	}
}
