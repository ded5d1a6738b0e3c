// Package actions implements classification and gating of candidate actions.
package actions

import (
	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/storage"
)

// Queues is the three-lane view over actions in flight: auto-executable,
// waiting on a human, waiting on an expert. Lanes are derived from status,
// not stored separately, so they can never disagree with the gate.
type Queues struct {
	store *storage.ActionStore
}

// NewQueues creates the queue view over the action store.
func NewQueues(store *storage.ActionStore) *Queues {
	return &Queues{store: store}
}

// Auto returns actions cleared for automatic execution.
func (q *Queues) Auto(limit int) ([]core.Action, error) {
	return q.store.ListByStatus(core.StatusProposed, limit)
}

// Approval returns actions waiting on human approval.
func (q *Queues) Approval(limit int) ([]core.Action, error) {
	return q.store.ListByStatus(core.StatusPendingApproval, limit)
}

// Expert returns actions waiting on expert review.
func (q *Queues) Expert(limit int) ([]core.Action, error) {
	return q.store.ListByStatus(core.StatusExpertRequired, limit)
}

// Held returns parked actions.
func (q *Queues) Held(limit int) ([]core.Action, error) {
	return q.store.ListByStatus(core.StatusHeld, limit)
}

// Stats summarizes queue depth per status.
func (q *Queues) Stats() (map[core.ActionStatus]int, error) {
	return q.store.CountByStatus()
}
