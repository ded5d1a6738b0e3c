package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/marketpilot/marketpilot/internal/actions"
	"github.com/marketpilot/marketpilot/internal/config"
	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/decisions"
	"github.com/marketpilot/marketpilot/internal/execution"
	"github.com/marketpilot/marketpilot/internal/learn"
	"github.com/marketpilot/marketpilot/internal/ledger"
	"github.com/marketpilot/marketpilot/internal/recommend"
	"github.com/marketpilot/marketpilot/internal/storage"
)

type testEnv struct {
	svc      *Service
	actions  *storage.ActionStore
	profiles *storage.ProfileStore
	outcomes *storage.OutcomeStore
	ledger   *ledger.Store
	events   []Event
}

func newTestEnv(t *testing.T) *testEnv {
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

	actionStore := storage.NewActionStore(db)
	profileStore := storage.NewProfileStore(db)
	outcomeStore := storage.NewOutcomeStore(db)
	decisionStore := storage.NewDecisionStore(db)
	ledgerStore := ledger.NewStore(db.Conn())

	classifier := actions.NewClassifier(cfg.Policy)
	env := &testEnv{
		actions:  actionStore,
		profiles: profileStore,
		outcomes: outcomeStore,
		ledger:   ledgerStore,
	}

	env.svc = New(Deps{
		Classifier:  classifier,
		Gate:        actions.NewGate(actionStore, classifier),
		Queues:      actions.NewQueues(actionStore),
		Machine:     decisions.NewMachine(decisionStore),
		Evaluator:   recommend.NewEvaluator(),
		Executor:    execution.NewEngine(actionStore, outcomeStore, execution.Simulated(), time.Second),
		Learner:     learn.NewUpdater(profileStore, cfg.Policy, cfg.Learning),
		ActionStore: actionStore,
		Ledger:      ledgerStore,
		Events:      PublisherFunc(func(e Event) { env.events = append(env.events, e) }),
	})
	return env
}

func (env *testEnv) grantAutonomy(t *testing.T, clientID core.ClientID, tolerance float64) {
	t.Helper()
	err := env.profiles.Append(&core.AutonomyProfile{
		ClientID:        clientID,
		PreferenceLevel: core.PrefFullyAutonomous,
		RiskTolerance:   tolerance,
		LearningRate:    0.2,
	})
	if err != nil {
		t.Fatalf("append profile: %v", err)
	}
}

func cand(clientID core.ClientID, risk float64) core.ActionCandidate {
	return core.ActionCandidate{
		ClientID:    clientID,
		ActionType:  "budget_optimization",
		Confidence:  0.9,
		RiskLevel:   risk,
		Priority:    5,
		ImpactLevel: core.ImpactMedium,
	}
}

func TestSubmitCandidateAutoExecutes(t *testing.T) {
	env := newTestEnv(t)
	env.grantAutonomy(t, "client-1", 0.8)

	a, err := env.svc.SubmitCandidate(context.Background(), cand("client-1", 0.3))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}
	if a.Status != core.StatusExecuted {
		t.Errorf("status = %s, want executed (auto path)", a.Status)
	}

	if _, err := env.outcomes.GetByAction(a.ID); err != nil {
		t.Errorf("no outcome recorded: %v", err)
	}

	// Classification and execution both hit the ledger.
	history, err := env.ledger.EntityHistory(ledger.EntityAction, string(a.ID))
	if err != nil {
		t.Fatalf("EntityHistory: %v", err)
	}
	if len(history) < 2 {
		t.Errorf("ledger entries = %d, want >= 2", len(history))
	}
	if err := env.ledger.VerifyChain(); err != nil {
		t.Errorf("VerifyChain: %v", err)
	}
}

func TestSubmitCandidateNewClientGetsDefaultProfile(t *testing.T) {
	env := newTestEnv(t)

	a, err := env.svc.SubmitCandidate(context.Background(), cand("fresh-client", 0.3))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}

	// Default profile is guided_automation: everything waits on a human.
	if a.Status != core.StatusPendingApproval {
		t.Errorf("status = %s, want pending_approval", a.Status)
	}

	p, err := env.profiles.Latest("fresh-client")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if p.PreferenceLevel != core.PrefGuidedAutomation {
		t.Errorf("profile = %+v", p)
	}
}

func TestApproveExecutesAndLearns(t *testing.T) {
	env := newTestEnv(t)
	env.grantAutonomy(t, "client-1", 0.4)

	// Risk above tolerance: waits for approval even under full autonomy.
	a, err := env.svc.SubmitCandidate(context.Background(), cand("client-1", 0.7))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}
	if a.Status != core.StatusPendingApproval {
		t.Fatalf("status = %s, want pending_approval", a.Status)
	}

	done, err := env.svc.Approve(context.Background(), a.ID, "seasonal push, acceptable")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if done.Status != core.StatusExecuted {
		t.Errorf("status = %s, want executed", done.Status)
	}

	// Successful outcome above tolerance nudges tolerance upward.
	p, err := env.profiles.Latest("client-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if p.RiskTolerance <= 0.4 {
		t.Errorf("RiskTolerance = %v, want > 0.4 after risky success", p.RiskTolerance)
	}
}

func TestExpertRejectionFlow(t *testing.T) {
	env := newTestEnv(t)
	env.grantAutonomy(t, "client-1", 0.5)

	a, err := env.svc.SubmitCandidate(context.Background(), cand("client-1", 0.9))
	if err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}
	if a.Status != core.StatusExpertRequired {
		t.Fatalf("status = %s, want expert_required", a.Status)
	}

	got, err := env.svc.SubmitExpertDecision(context.Background(), a.ID, core.ExpertDecision{
		ExpertID:  "expert-1",
		Verdict:   core.VerdictRejected,
		Reasoning: "account cannot absorb this",
	})
	if err != nil {
		t.Fatalf("SubmitExpertDecision: %v", err)
	}
	if got.Status != core.StatusRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}

	// Rejection pulls tolerance down.
	p, _ := env.profiles.Latest("client-1")
	if p.RiskTolerance >= 0.5 {
		t.Errorf("RiskTolerance = %v, want < 0.5 after expert rejection", p.RiskTolerance)
	}

	// Rejected is terminal.
	if _, err := env.svc.Approve(context.Background(), a.ID, ""); !errors.Is(err, core.ErrActionImmutable) {
		t.Errorf("approve after reject: got %v", err)
	}
}

func TestDecisionFlowAttachesOptionsOnOptionsStage(t *testing.T) {
	env := newTestEnv(t)

	d, err := env.svc.CreateDecision(core.DecisionTrigger{
		ClientID:     "client-1",
		Title:        "Shift budget to retargeting",
		DecisionType: "budget_reallocation",
		ImpactLevel:  core.ImpactLow,
		RiskLevel:    0.3,
	})
	if err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}
	if len(d.Recommendations) != 0 {
		t.Fatalf("new decision already has options")
	}

	// Complete analysis; stage advances into options and the evaluator
	// attaches a ranked set.
	var analysisStep core.StepID
	for _, s := range d.Steps {
		if s.Stage == core.StageAnalysis {
			analysisStep = s.ID
		}
	}
	updated, err := env.svc.CompleteStep(d.ID, analysisStep)
	if err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	if updated.CurrentStage != core.StageOptions {
		t.Errorf("stage = %s, want options", updated.CurrentStage)
	}
	if len(updated.Recommendations) == 0 {
		t.Error("no options attached on entering options stage")
	}

	for i := 1; i < len(updated.Recommendations); i++ {
		a, b := updated.Recommendations[i-1], updated.Recommendations[i]
		if b.SuccessProbability*b.ConfidenceScore > a.SuccessProbability*a.ConfidenceScore {
			t.Error("attached options not ranked")
		}
	}
}

func TestEventsPublished(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.SubmitCandidate(context.Background(), cand("client-1", 0.3)); err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}

	if len(env.events) == 0 {
		t.Fatal("no events published")
	}
	found := false
	for _, e := range env.events {
		if e.Type == ledger.EventActionClassified {
			found = true
		}
	}
	if !found {
		t.Errorf("no classification event in %d events", len(env.events))
	}
}
