// Package execution runs approved and auto-cleared actions against the ad
// platforms. Each action executes at most once: the store's compare-and-set
// hands out the execution lock, and a failure releases it by restoring the
// pre-execution status.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/logging"
	"github.com/marketpilot/marketpilot/internal/storage"
)

// Performer carries out the platform-side effect of one action. It must be
// safe to call with a context that is already near its deadline, and must
// respect cancellation.
type Performer interface {
	Perform(ctx context.Context, a *core.Action) (summary string, err error)
}

// PerformerFunc adapts a function to the Performer interface.
type PerformerFunc func(ctx context.Context, a *core.Action) (string, error)

// Perform calls f.
func (f PerformerFunc) Perform(ctx context.Context, a *core.Action) (string, error) {
	return f(ctx, a)
}

// Engine executes actions and records their outcomes.
type Engine struct {
	store     *storage.ActionStore
	outcomes  *storage.OutcomeStore
	performer Performer
	timeout   time.Duration
	log       *logging.Logger
}

// NewEngine creates an execution engine. timeout bounds each individual
// execution attempt.
func NewEngine(store *storage.ActionStore, outcomes *storage.OutcomeStore, performer Performer, timeout time.Duration) *Engine {
	return &Engine{
		store:     store,
		outcomes:  outcomes,
		performer: performer,
		timeout:   timeout,
		log:       logging.ForComponent("execution"),
	}
}

// Execute acquires the action's execution lock, performs it once, and
// settles the final state. A second concurrent Execute for the same action
// fails to acquire the lock and reports ErrAlreadyExecuting; after a
// successful run the action is terminal and further attempts report
// ErrActionImmutable.
//
// On failure the action returns to its pre-execution status so it can be
// retried or escalated, and the failure is recorded as an outcome either way.
func (e *Engine) Execute(ctx context.Context, id core.ActionID) (*core.OutcomeRecord, error) {
	prev, err := e.store.TryMarkExecuting(id)
	if err != nil {
		return nil, err
	}

	a, err := e.store.GetByID(id)
	if err != nil {
		// Lock is held but the row vanished; nothing to restore onto.
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now().UTC()
	summary, performErr := e.performer.Perform(runCtx, a)

	if performErr != nil {
		if restoreErr := e.store.RestoreStatus(id, prev); restoreErr != nil {
			e.log.WithField("action", id).Error("restore after failed execution: %v", restoreErr)
		}

		outcome := &core.OutcomeRecord{
			ActionID:      a.ID,
			ClientID:      a.ClientID,
			ExecutedAt:    start,
			Success:       false,
			ResultSummary: performErr.Error(),
		}
		if recErr := e.outcomes.Record(outcome); recErr != nil {
			e.log.WithField("action", id).Error("record failed outcome: %v", recErr)
		}

		e.log.WithField("action", id).Warn("execution failed, restored to %s: %v", prev, performErr)
		return outcome, fmt.Errorf("%w: %v", core.ErrExecutionFailed, performErr)
	}

	executedAt := time.Now().UTC()
	if err := e.store.FinishExecution(id, executedAt); err != nil {
		return nil, err
	}

	outcome := &core.OutcomeRecord{
		ActionID:      a.ID,
		ClientID:      a.ClientID,
		ExecutedAt:    executedAt,
		Success:       true,
		ResultSummary: summary,
	}
	if err := e.outcomes.Record(outcome); err != nil {
		return nil, err
	}

	e.log.WithFields(map[string]interface{}{
		"action": a.ID,
		"client": a.ClientID,
	}).Info("action executed (%s)", a.ActionType)
	return outcome, nil
}
