package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/marketpilot/marketpilot/internal/core"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testAction(id core.ActionID, status core.ActionStatus) *core.Action {
	return &core.Action{
		ID:          id,
		ClientID:    "client-1",
		ActionType:  "bid_adjustment",
		Confidence:  0.8,
		RiskLevel:   0.4,
		Priority:    4,
		ImpactLevel: core.ImpactMedium,
		Status:      status,
		DataEvidence: map[string]interface{}{
			"cpa_trend": "rising",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestActionRoundTrip(t *testing.T) {
	store := NewActionStore(newTestDB(t))

	a := testAction("act-1", core.StatusPendingApproval)
	a.HeldFrom = ""
	if err := store.Create(a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.GetByID("act-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ClientID != a.ClientID || got.ActionType != a.ActionType || got.Status != a.Status {
		t.Errorf("got %+v", got)
	}
	if got.DataEvidence["cpa_trend"] != "rising" {
		t.Errorf("evidence lost: %v", got.DataEvidence)
	}

	if _, err := store.GetByID("missing"); !errors.Is(err, core.ErrActionNotFound) {
		t.Fatalf("missing action: got %v", err)
	}
}

func TestUpdateGuarded(t *testing.T) {
	store := NewActionStore(newTestDB(t))

	a := testAction("act-1", core.StatusPendingApproval)
	if err := store.Create(a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	a.Status = core.StatusApproved
	if err := store.UpdateGuarded(a, core.StatusPendingApproval); err != nil {
		t.Fatalf("UpdateGuarded: %v", err)
	}

	// The guard expectation is now stale; a second writer must lose.
	a.Status = core.StatusRejected
	err := store.UpdateGuarded(a, core.StatusPendingApproval)
	if !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("stale guard: got %v, want ErrInvalidTransition", err)
	}

	stored, _ := store.GetByID("act-1")
	if stored.Status != core.StatusApproved {
		t.Errorf("status = %s, want approved", stored.Status)
	}
}

func TestTryMarkExecuting(t *testing.T) {
	store := NewActionStore(newTestDB(t))

	a := testAction("act-1", core.StatusApproved)
	if err := store.Create(a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	prev, err := store.TryMarkExecuting("act-1")
	if err != nil {
		t.Fatalf("TryMarkExecuting: %v", err)
	}
	if prev != core.StatusApproved {
		t.Errorf("prev = %s, want approved", prev)
	}

	if _, err := store.TryMarkExecuting("act-1"); !errors.Is(err, core.ErrAlreadyExecuting) {
		t.Fatalf("second mark: got %v, want ErrAlreadyExecuting", err)
	}

	// Restore releases the lock.
	if err := store.RestoreStatus("act-1", prev); err != nil {
		t.Fatalf("RestoreStatus: %v", err)
	}
	stored, _ := store.GetByID("act-1")
	if stored.Status != core.StatusApproved {
		t.Errorf("status = %s after restore", stored.Status)
	}
}

func TestTryMarkExecutingRejectsUnclearedStatuses(t *testing.T) {
	store := NewActionStore(newTestDB(t))

	tests := []struct {
		status core.ActionStatus
		want   error
	}{
		{core.StatusPendingApproval, core.ErrInvalidTransition},
		{core.StatusExpertRequired, core.ErrInvalidTransition},
		{core.StatusHeld, core.ErrInvalidTransition},
		{core.StatusRejected, core.ErrActionImmutable},
		{core.StatusExecuted, core.ErrActionImmutable},
	}

	for _, tt := range tests {
		a := testAction(core.ActionID("act-"+string(tt.status)), tt.status)
		if err := store.Create(a); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := store.TryMarkExecuting(a.ID); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.status, err, tt.want)
		}
	}

	if _, err := store.TryMarkExecuting("missing"); !errors.Is(err, core.ErrActionNotFound) {
		t.Errorf("missing: got %v", err)
	}
}

func TestFinishExecution(t *testing.T) {
	store := NewActionStore(newTestDB(t))

	a := testAction("act-1", core.StatusApproved)
	if err := store.Create(a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.TryMarkExecuting("act-1"); err != nil {
		t.Fatalf("TryMarkExecuting: %v", err)
	}

	when := time.Now().UTC()
	if err := store.FinishExecution("act-1", when); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}

	stored, _ := store.GetByID("act-1")
	if stored.Status != core.StatusExecuted {
		t.Errorf("status = %s", stored.Status)
	}
	if stored.ExecutedAt == nil {
		t.Error("ExecutedAt nil")
	}

	// Finishing again has no executing row to move.
	if err := store.FinishExecution("act-1", when); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("double finish: got %v", err)
	}
}

func TestApplyExpertVerdictOnce(t *testing.T) {
	store := NewActionStore(newTestDB(t))

	a := testAction("act-1", core.StatusExpertRequired)
	if err := store.Create(a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	a.Status = core.StatusApproved
	ed := &core.ExpertDecision{
		ActionID:  "act-1",
		ExpertID:  "expert-2",
		Verdict:   core.VerdictApproved,
		DecidedAt: time.Now().UTC(),
	}
	if err := store.ApplyExpertVerdict(a, core.StatusExpertRequired, ed); err != nil {
		t.Fatalf("ApplyExpertVerdict: %v", err)
	}

	stored, _ := store.GetByID("act-1")
	if stored.Status != core.StatusApproved {
		t.Errorf("status = %s, want approved", stored.Status)
	}
	if _, err := store.GetExpertDecision("act-1"); err != nil {
		t.Fatalf("GetExpertDecision: %v", err)
	}

	// A second verdict rolls back entirely: the action stays as stored.
	a.Status = core.StatusRejected
	err := store.ApplyExpertVerdict(a, core.StatusApproved, ed)
	if !errors.Is(err, core.ErrExpertDecisionExists) {
		t.Fatalf("second verdict: got %v, want ErrExpertDecisionExists", err)
	}
	stored, _ = store.GetByID("act-1")
	if stored.Status != core.StatusApproved {
		t.Errorf("status = %s after duplicate verdict, want approved", stored.Status)
	}
}

func TestProfileStoreAppendAssignsSeq(t *testing.T) {
	store := NewProfileStore(newTestDB(t))

	p := &core.AutonomyProfile{
		ClientID:        "client-1",
		PreferenceLevel: core.PrefGuidedAutomation,
		RiskTolerance:   0.5,
		LearningRate:    0.2,
	}
	if err := store.Append(p); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if p.Seq != 1 {
		t.Errorf("first Seq = %d", p.Seq)
	}

	next := *p
	next.RiskTolerance = 0.6
	if err := store.Append(&next); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if next.Seq != 2 {
		t.Errorf("second Seq = %d", next.Seq)
	}

	latest, err := store.Latest("client-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Seq != 2 || latest.RiskTolerance != 0.6 {
		t.Errorf("latest = %+v", latest)
	}

	if _, err := store.Latest("unknown"); !errors.Is(err, core.ErrProfileNotFound) {
		t.Fatalf("unknown client: got %v", err)
	}
}
