package learn

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/marketpilot/marketpilot/internal/config"
	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/storage"
)

func newTestUpdater(t *testing.T) (*Updater, *storage.ProfileStore) {
	t.Helper()

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	profiles := storage.NewProfileStore(db)
	return NewUpdater(profiles, cfg.Policy, cfg.Learning), profiles
}

func riskyAction(risk float64) *core.Action {
	return &core.Action{
		ID:        "act-1",
		ClientID:  "client-1",
		RiskLevel: risk,
	}
}

func outcome(success bool) *core.OutcomeRecord {
	return &core.OutcomeRecord{
		ActionID:   "act-1",
		ClientID:   "client-1",
		ExecutedAt: time.Now().UTC(),
		Success:    success,
	}
}

func TestEnsureProfileCreatesDefault(t *testing.T) {
	u, _ := newTestUpdater(t)

	p, err := u.EnsureProfile("client-1")
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if p.Seq != 1 {
		t.Errorf("Seq = %d, want 1", p.Seq)
	}
	if p.PreferenceLevel != core.PrefGuidedAutomation {
		t.Errorf("PreferenceLevel = %s", p.PreferenceLevel)
	}
	if p.RiskTolerance != 0.5 || p.LearningRate != 0.2 {
		t.Errorf("defaults = tolerance %v rate %v", p.RiskTolerance, p.LearningRate)
	}

	// Second call returns the existing snapshot, no new append.
	again, err := u.EnsureProfile("client-1")
	if err != nil {
		t.Fatalf("EnsureProfile again: %v", err)
	}
	if again.Seq != 1 {
		t.Errorf("Seq = %d after second EnsureProfile, want 1", again.Seq)
	}
}

func TestSuccessfulRiskyOutcomeRaisesTolerance(t *testing.T) {
	u, _ := newTestUpdater(t)

	p, err := u.ApplyOutcome(riskyAction(0.9), outcome(true))
	if err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}

	// tolerance 0.5 + 0.2*(0.9-0.5) = 0.58
	if math.Abs(p.RiskTolerance-0.58) > 1e-9 {
		t.Errorf("RiskTolerance = %v, want 0.58", p.RiskTolerance)
	}
	if p.OutcomeCount != 1 {
		t.Errorf("OutcomeCount = %d, want 1", p.OutcomeCount)
	}
}

func TestFailedRiskyOutcomeLowersTolerance(t *testing.T) {
	u, _ := newTestUpdater(t)

	p, err := u.ApplyOutcome(riskyAction(0.9), outcome(false))
	if err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}
	if math.Abs(p.RiskTolerance-0.42) > 1e-9 {
		t.Errorf("RiskTolerance = %v, want 0.42", p.RiskTolerance)
	}
}

func TestOutcomeInsideToleranceOnlyCounts(t *testing.T) {
	u, _ := newTestUpdater(t)

	p, err := u.ApplyOutcome(riskyAction(0.3), outcome(true))
	if err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}
	if p.RiskTolerance != 0.5 {
		t.Errorf("RiskTolerance = %v, want unchanged 0.5", p.RiskTolerance)
	}
	if p.OutcomeCount != 1 {
		t.Errorf("OutcomeCount = %d, want 1", p.OutcomeCount)
	}
}

func TestExpertRejectionLowersTolerance(t *testing.T) {
	u, _ := newTestUpdater(t)

	p, err := u.ApplyExpertDecision(riskyAction(0.9), &core.ExpertDecision{Verdict: core.VerdictRejected})
	if err != nil {
		t.Fatalf("ApplyExpertDecision: %v", err)
	}
	if math.Abs(p.RiskTolerance-0.42) > 1e-9 {
		t.Errorf("RiskTolerance = %v, want 0.42", p.RiskTolerance)
	}

	// Approvals adjust nothing.
	p, err = u.ApplyExpertDecision(riskyAction(0.9), &core.ExpertDecision{Verdict: core.VerdictApproved})
	if err != nil {
		t.Fatalf("ApplyExpertDecision approved: %v", err)
	}
	if math.Abs(p.RiskTolerance-0.42) > 1e-9 {
		t.Errorf("RiskTolerance = %v after approval, want unchanged", p.RiskTolerance)
	}
}

func TestToleranceStaysBounded(t *testing.T) {
	u, _ := newTestUpdater(t)

	var p *core.AutonomyProfile
	var err error
	for i := 0; i < 100; i++ {
		p, err = u.ApplyOutcome(riskyAction(1.0), outcome(true))
		if err != nil {
			t.Fatalf("ApplyOutcome %d: %v", i, err)
		}
		if p.RiskTolerance < 0 || p.RiskTolerance > 1 {
			t.Fatalf("RiskTolerance %v out of bounds at iteration %d", p.RiskTolerance, i)
		}
	}
}

func TestLearningRateDecaysToFloor(t *testing.T) {
	u, _ := newTestUpdater(t)

	var prev float64 = 1.1
	var p *core.AutonomyProfile
	var err error
	for i := 0; i < 200; i++ {
		p, err = u.ApplyOutcome(riskyAction(0.9), outcome(true))
		if err != nil {
			t.Fatalf("ApplyOutcome %d: %v", i, err)
		}
		if p.LearningRate > prev {
			t.Fatalf("learning rate rose: %v -> %v", prev, p.LearningRate)
		}
		prev = p.LearningRate
	}

	if p.LearningRate != 0.05 {
		t.Errorf("LearningRate = %v after 200 outcomes, want floor 0.05", p.LearningRate)
	}
}

func TestUpdatesAppendSnapshots(t *testing.T) {
	u, profiles := newTestUpdater(t)

	if _, err := u.ApplyOutcome(riskyAction(0.9), outcome(true)); err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}
	if _, err := u.ApplyOutcome(riskyAction(0.9), outcome(false)); err != nil {
		t.Fatalf("ApplyOutcome: %v", err)
	}

	history, err := profiles.History("client-1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	// Default snapshot plus two updates.
	if len(history) != 3 {
		t.Fatalf("history = %d snapshots, want 3", len(history))
	}
	if history[0].Seq != 3 || history[2].Seq != 1 {
		t.Errorf("seqs = %d..%d, want 3..1", history[0].Seq, history[2].Seq)
	}
	if history[2].RiskTolerance != 0.5 {
		t.Errorf("original snapshot mutated: %v", history[2].RiskTolerance)
	}
}
