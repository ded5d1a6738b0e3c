package actions

import (
	"errors"
	"testing"

	"github.com/marketpilot/marketpilot/internal/config"
	"github.com/marketpilot/marketpilot/internal/core"
)

func testPolicy() config.PolicyConfig {
	return config.Default().Policy
}

func autonomousProfile() *core.AutonomyProfile {
	return &core.AutonomyProfile{
		ClientID:        "client-1",
		PreferenceLevel: core.PrefFullyAutonomous,
		RiskTolerance:   0.5,
		LearningRate:    0.2,
	}
}

func candidate(risk, confidence float64, impact core.ImpactLevel) core.ActionCandidate {
	return core.ActionCandidate{
		ClientID:    "client-1",
		ActionType:  "budget_optimization",
		Confidence:  confidence,
		RiskLevel:   risk,
		Priority:    5,
		ImpactLevel: impact,
	}
}

func TestClassifyScenarios(t *testing.T) {
	c := NewClassifier(testPolicy())

	tests := []struct {
		name       string
		profile    *core.AutonomyProfile
		cand       core.ActionCandidate
		wantHuman  bool
		wantExpert bool
		wantStatus core.ActionStatus
	}{
		{
			name:       "autonomous low risk auto-executes",
			profile:    autonomousProfile(),
			cand:       candidate(0.3, 0.9, core.ImpactMedium),
			wantHuman:  false,
			wantExpert: false,
			wantStatus: core.StatusProposed,
		},
		{
			name:       "transformational low confidence needs expert",
			profile:    autonomousProfile(),
			cand:       candidate(0.9, 0.4, core.ImpactTransformational),
			wantHuman:  true,
			wantExpert: true,
			wantStatus: core.StatusExpertRequired,
		},
		{
			name: "guided automation always needs a human",
			profile: &core.AutonomyProfile{
				ClientID:        "client-1",
				PreferenceLevel: core.PrefGuidedAutomation,
				RiskTolerance:   0.9,
			},
			cand:       candidate(0.1, 0.95, core.ImpactLow),
			wantHuman:  true,
			wantExpert: false,
			wantStatus: core.StatusPendingApproval,
		},
		{
			name:       "risk above tolerance needs a human",
			profile:    autonomousProfile(),
			cand:       candidate(0.6, 0.9, core.ImpactMedium),
			wantHuman:  true,
			wantExpert: false,
			wantStatus: core.StatusPendingApproval,
		},
		{
			name:       "risk at expert threshold goes to expert",
			profile:    autonomousProfile(),
			cand:       candidate(0.8, 0.95, core.ImpactLow),
			wantHuman:  true,
			wantExpert: true,
			wantStatus: core.StatusExpertRequired,
		},
		{
			name:       "critical impact with high confidence skips expert",
			profile:    autonomousProfile(),
			cand:       candidate(0.3, 0.9, core.ImpactCritical),
			wantHuman:  false,
			wantExpert: false,
			wantStatus: core.StatusProposed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := c.Classify(tt.cand, tt.profile)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if a.RequiresHumanApproval != tt.wantHuman {
				t.Errorf("RequiresHumanApproval = %v, want %v", a.RequiresHumanApproval, tt.wantHuman)
			}
			if a.RequiresExpert != tt.wantExpert {
				t.Errorf("RequiresExpert = %v, want %v", a.RequiresExpert, tt.wantExpert)
			}
			if a.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", a.Status, tt.wantStatus)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier(testPolicy())
	profile := autonomousProfile()
	cand := candidate(0.7, 0.5, core.ImpactHigh)

	first, err := c.Classify(cand, profile)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	for i := 0; i < 10; i++ {
		a, err := c.Classify(cand, profile)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if a.RequiresHumanApproval != first.RequiresHumanApproval ||
			a.RequiresExpert != first.RequiresExpert ||
			a.Status != first.Status {
			t.Fatalf("classification not deterministic: run %d got (%v, %v, %s), want (%v, %v, %s)",
				i, a.RequiresHumanApproval, a.RequiresExpert, a.Status,
				first.RequiresHumanApproval, first.RequiresExpert, first.Status)
		}
	}
}

func TestClassifyExpertImpliesHuman(t *testing.T) {
	c := NewClassifier(testPolicy())

	// Fully autonomous with a sky-high tolerance would normally clear the
	// human flag, but expert review always drags a human in.
	profile := &core.AutonomyProfile{
		ClientID:        "client-1",
		PreferenceLevel: core.PrefFullyAutonomous,
		RiskTolerance:   1.0,
	}

	a, err := c.Classify(candidate(0.95, 0.9, core.ImpactLow), profile)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !a.RequiresExpert {
		t.Fatal("expected RequiresExpert")
	}
	if !a.RequiresHumanApproval {
		t.Fatal("expert review must imply human approval")
	}
}

func TestClassifyValidation(t *testing.T) {
	c := NewClassifier(testPolicy())
	profile := autonomousProfile()

	tests := []struct {
		name   string
		mutate func(*core.ActionCandidate)
	}{
		{"missing client", func(c *core.ActionCandidate) { c.ClientID = "" }},
		{"missing type", func(c *core.ActionCandidate) { c.ActionType = "" }},
		{"confidence above 1", func(c *core.ActionCandidate) { c.Confidence = 1.1 }},
		{"negative confidence", func(c *core.ActionCandidate) { c.Confidence = -0.1 }},
		{"risk above 1", func(c *core.ActionCandidate) { c.RiskLevel = 2 }},
		{"priority zero", func(c *core.ActionCandidate) { c.Priority = 0 }},
		{"priority eleven", func(c *core.ActionCandidate) { c.Priority = 11 }},
		{"bad impact", func(c *core.ActionCandidate) { c.ImpactLevel = "galactic" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := candidate(0.3, 0.9, core.ImpactMedium)
			tt.mutate(&cand)
			if _, err := c.Classify(cand, profile); !errors.Is(err, core.ErrInvalidAction) {
				t.Fatalf("got %v, want ErrInvalidAction", err)
			}
		})
	}
}

func TestApplyPatch(t *testing.T) {
	newRisk := 0.2
	newReason := "expert adjusted"

	a := &core.Action{Confidence: 0.5, RiskLevel: 0.9, Priority: 5, Reasoning: "original"}
	err := ApplyPatch(a, &core.ActionPatch{RiskLevel: &newRisk, Reasoning: &newReason})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if a.RiskLevel != 0.2 {
		t.Errorf("RiskLevel = %v, want 0.2", a.RiskLevel)
	}
	if a.Reasoning != "expert adjusted" {
		t.Errorf("Reasoning = %q", a.Reasoning)
	}
	if a.Confidence != 0.5 || a.Priority != 5 {
		t.Error("untouched fields changed")
	}
}

func TestApplyPatchInvalidLeavesActionUnchanged(t *testing.T) {
	badRisk := 1.5
	a := &core.Action{Confidence: 0.5, RiskLevel: 0.9, Priority: 5}

	if err := ApplyPatch(a, &core.ActionPatch{RiskLevel: &badRisk}); !errors.Is(err, core.ErrInvalidAction) {
		t.Fatalf("got %v, want ErrInvalidAction", err)
	}
	if a.RiskLevel != 0.9 {
		t.Errorf("RiskLevel mutated to %v on failed patch", a.RiskLevel)
	}
}
