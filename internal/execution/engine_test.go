package execution

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/storage"
)

func newTestStores(t *testing.T) (*storage.ActionStore, *storage.OutcomeStore) {
	t.Helper()

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return storage.NewActionStore(db), storage.NewOutcomeStore(db)
}

func seedApproved(t *testing.T, store *storage.ActionStore) *core.Action {
	t.Helper()

	a := &core.Action{
		ID:          "act-1",
		ClientID:    "client-1",
		ActionType:  "budget_optimization",
		Confidence:  0.9,
		RiskLevel:   0.3,
		Priority:    5,
		ImpactLevel: core.ImpactMedium,
		Status:      core.StatusApproved,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.Create(a); err != nil {
		t.Fatalf("create: %v", err)
	}
	return a
}

func TestExecuteSuccess(t *testing.T) {
	actions, outcomes := newTestStores(t)
	a := seedApproved(t, actions)

	e := NewEngine(actions, outcomes, PerformerFunc(func(ctx context.Context, a *core.Action) (string, error) {
		return "budget shifted", nil
	}), time.Second)

	outcome, err := e.Execute(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Success || outcome.ResultSummary != "budget shifted" {
		t.Errorf("outcome = %+v", outcome)
	}

	stored, _ := actions.GetByID(a.ID)
	if stored.Status != core.StatusExecuted {
		t.Errorf("status = %s, want executed", stored.Status)
	}
	if stored.ExecutedAt == nil {
		t.Error("ExecutedAt not stamped")
	}

	rec, err := outcomes.GetByAction(a.ID)
	if err != nil {
		t.Fatalf("GetByAction: %v", err)
	}
	if !rec.Success {
		t.Error("outcome record not marked successful")
	}
}

func TestExecuteFailureRestoresStatus(t *testing.T) {
	actions, outcomes := newTestStores(t)
	a := seedApproved(t, actions)

	e := NewEngine(actions, outcomes, PerformerFunc(func(ctx context.Context, a *core.Action) (string, error) {
		return "", fmt.Errorf("platform API 500")
	}), time.Second)

	outcome, err := e.Execute(context.Background(), a.ID)
	if !errors.Is(err, core.ErrExecutionFailed) {
		t.Fatalf("got %v, want ErrExecutionFailed", err)
	}
	if outcome == nil || outcome.Success {
		t.Errorf("failure outcome = %+v", outcome)
	}

	// The action is back where it was, retryable.
	stored, _ := actions.GetByID(a.ID)
	if stored.Status != core.StatusApproved {
		t.Errorf("status = %s after failure, want approved", stored.Status)
	}
}

func TestExecuteRetryAfterFailure(t *testing.T) {
	actions, outcomes := newTestStores(t)
	a := seedApproved(t, actions)

	var calls int
	e := NewEngine(actions, outcomes, PerformerFunc(func(ctx context.Context, a *core.Action) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("platform API 500")
		}
		return "budget shifted", nil
	}), time.Second)

	if _, err := e.Execute(context.Background(), a.ID); !errors.Is(err, core.ErrExecutionFailed) {
		t.Fatalf("first attempt: got %v, want ErrExecutionFailed", err)
	}

	outcome, err := e.Execute(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !outcome.Success {
		t.Errorf("retry outcome = %+v", outcome)
	}

	stored, _ := actions.GetByID(a.ID)
	if stored.Status != core.StatusExecuted {
		t.Errorf("status = %s after retry, want executed", stored.Status)
	}

	// The persisted record reflects the final attempt, not the failure.
	rec, err := outcomes.GetByAction(a.ID)
	if err != nil {
		t.Fatalf("GetByAction: %v", err)
	}
	if !rec.Success || rec.ResultSummary != "budget shifted" {
		t.Errorf("stored outcome = %+v, want the retry's result", rec)
	}
}

func TestExecuteTerminalActionFails(t *testing.T) {
	actions, outcomes := newTestStores(t)
	a := seedApproved(t, actions)

	e := NewEngine(actions, outcomes, Simulated(), time.Second)

	if _, err := e.Execute(context.Background(), a.ID); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	_, err := e.Execute(context.Background(), a.ID)
	if !errors.Is(err, core.ErrActionImmutable) {
		t.Fatalf("re-execute: got %v, want ErrActionImmutable", err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	actions, outcomes := newTestStores(t)
	a := seedApproved(t, actions)

	e := NewEngine(actions, outcomes, PerformerFunc(func(ctx context.Context, a *core.Action) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	}), 50*time.Millisecond)

	_, err := e.Execute(context.Background(), a.ID)
	if !errors.Is(err, core.ErrExecutionFailed) {
		t.Fatalf("got %v, want ErrExecutionFailed", err)
	}

	stored, _ := actions.GetByID(a.ID)
	if stored.Status != core.StatusApproved {
		t.Errorf("status = %s after timeout, want approved", stored.Status)
	}
}

// Concurrent execution attempts on the same action: exactly one performs,
// the rest fail fast with ErrAlreadyExecuting or see the terminal state.
func TestExecuteAtMostOnce(t *testing.T) {
	actions, outcomes := newTestStores(t)
	a := seedApproved(t, actions)

	var performs int64
	e := NewEngine(actions, outcomes, PerformerFunc(func(ctx context.Context, a *core.Action) (string, error) {
		atomic.AddInt64(&performs, 1)
		time.Sleep(20 * time.Millisecond)
		return "done", nil
	}), time.Second)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Execute(context.Background(), a.ID)
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt64(&performs); n != 1 {
		t.Fatalf("performer ran %d times, want 1", n)
	}

	var succeeded, contended int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, core.ErrAlreadyExecuting) || errors.Is(err, core.ErrActionImmutable):
			contended++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d attempts succeeded, want 1", succeeded)
	}
	if contended != attempts-1 {
		t.Errorf("%d attempts contended, want %d", contended, attempts-1)
	}

	stored, _ := actions.GetByID(a.ID)
	if stored.Status != core.StatusExecuted {
		t.Errorf("final status = %s, want executed", stored.Status)
	}
}
