package job

import (
	"strings"
	"testing"

	"github.com/dealsense/dealsense/internal/intel"
)

func TestDetect_NilWithoutPrevious(t *testing.T) {
	cur := &intel.Intelligence{HealthScore: 5}
	if c := Detect(cur, nil); c != nil {
		t.Errorf("Detect = %+v, want nil", c)
	}
	if c := Detect(nil, cur); c != nil {
		t.Errorf("Detect = %+v, want nil", c)
	}
}

func TestDetect_NoChange(t *testing.T) {
	a := &intel.Intelligence{
		HealthScore: 6,
		Insights:    []string{"steady engagement"},
		RiskFactors: []string{"single-threaded"},
	}
	b := &intel.Intelligence{
		HealthScore: 6,
		Insights:    []string{"Steady Engagement"}, // case must not matter
		RiskFactors: []string{"single-threaded"},
	}
	c := Detect(a, b)
	if c == nil {
		t.Fatal("Detect = nil")
	}
	if c.Changed {
		t.Errorf("Changed = true, want false: %+v", c)
	}
	if !strings.Contains(c.Summary, "No material change") {
		t.Errorf("Summary = %q", c.Summary)
	}
}

func TestDetect_ScoreAndRiskMovement(t *testing.T) {
	prev := &intel.Intelligence{
		HealthScore: 4,
		Insights:    []string{"pilot in progress"},
		RiskFactors: []string{"budget freeze", "no champion"},
	}
	cur := &intel.Intelligence{
		HealthScore: 6.5,
		Insights:    []string{"pilot in progress", "security review passed"},
		RiskFactors: []string{"budget freeze"},
	}

	c := Detect(cur, prev)
	if !c.Changed {
		t.Fatal("Changed = false, want true")
	}
	if c.ScoreDelta != 2.5 {
		t.Errorf("ScoreDelta = %v, want 2.5", c.ScoreDelta)
	}
	if len(c.NewInsights) != 1 || c.NewInsights[0] != "security review passed" {
		t.Errorf("NewInsights = %v", c.NewInsights)
	}
	if len(c.ResolvedRisks) != 1 || c.ResolvedRisks[0] != "no champion" {
		t.Errorf("ResolvedRisks = %v", c.ResolvedRisks)
	}
	if len(c.NewRisks) != 0 {
		t.Errorf("NewRisks = %v", c.NewRisks)
	}
	if !strings.Contains(c.Summary, "+2.5") {
		t.Errorf("Summary = %q, want score movement mentioned", c.Summary)
	}
}

func TestDetect_NewRiskOnly(t *testing.T) {
	prev := &intel.Intelligence{HealthScore: 7}
	cur := &intel.Intelligence{HealthScore: 7, RiskFactors: []string{"competitor evaluation started"}}

	c := Detect(cur, prev)
	if !c.Changed {
		t.Fatal("Changed = false, want true")
	}
	if c.ScoreDelta != 0 {
		t.Errorf("ScoreDelta = %v, want 0", c.ScoreDelta)
	}
	if !strings.Contains(c.Summary, "1 new risk") {
		t.Errorf("Summary = %q", c.Summary)
	}
}
