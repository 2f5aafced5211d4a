package assessment

import "testing"

func TestToolForMappings(t *testing.T) {
	tests := []struct {
		docType string
		tool    string
	}{
		{"RCT", "Cochrane RoB 2"},
		{"randomized controlled trial", "Cochrane RoB 2"},
		{"Systematic Review", "AMSTAR-2"},
		{"meta-analysis", "AMSTAR-2"},
		{"cohort study", "Newcastle-Ottawa Scale (cohort)"},
		{"case-control", "Newcastle-Ottawa Scale (case-control)"},
		{"cross-sectional", "AXIS"},
		{"diagnostic accuracy", "QUADAS-2"},
		{"qualitative", "CASP Qualitative Checklist"},
		{"economic evaluation", "CHEERS"},
		{"animal study", "ARRIVE"},
	}
	for _, tt := range tests {
		t.Run(tt.docType, func(t *testing.T) {
			tool, ok := ToolFor(tt.docType)
			if !ok {
				t.Fatalf("ToolFor(%q) unsupported", tt.docType)
			}
			if tool.Name != tt.tool {
				t.Errorf("tool = %s, want %s", tool.Name, tt.tool)
			}
			if len(tool.Criteria) == 0 {
				t.Error("tool has no criteria")
			}
		})
	}
}

func TestToolForUnsupported(t *testing.T) {
	for _, docType := range []string{"", "poem", "editorial", "UNKNOWN"} {
		if _, ok := ToolFor(docType); ok {
			t.Errorf("ToolFor(%q) claimed support", docType)
		}
	}
}

func TestCatalogWellFormed(t *testing.T) {
	for _, docType := range SupportedTypes() {
		tool, ok := ToolFor(docType)
		if !ok {
			t.Fatalf("SupportedTypes lists %q but ToolFor rejects it", docType)
		}
		seen := map[string]bool{}
		for _, c := range tool.Criteria {
			if c.ID == "" || c.Text == "" || len(c.Judgments) < 2 {
				t.Errorf("%s criterion %+v malformed", tool.Name, c)
			}
			if seen[c.ID] {
				t.Errorf("%s has duplicate criterion id %s", tool.Name, c.ID)
			}
			seen[c.ID] = true
		}
	}
}

func TestIsNegativeFinding(t *testing.T) {
	negatives := []string{"No", "no star", "High risk", "Poor", "Not met", "Not reported", "Error: Parse Failure", "error: timeout"}
	for _, j := range negatives {
		if !IsNegativeFinding(j) {
			t.Errorf("IsNegativeFinding(%q) = false", j)
		}
	}
	positives := []string{"Yes", "Low risk", "Some concerns", "Star awarded", "Reported", "Low", "Partial yes"}
	for _, j := range positives {
		if IsNegativeFinding(j) {
			t.Errorf("IsNegativeFinding(%q) = true", j)
		}
	}
}
