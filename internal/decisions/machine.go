// Package decisions implements the staged guidance workflow for long-lived,
// high-impact decisions. A decision walks a fixed stage order; a stage is
// left only when every one of its steps is complete, and never re-entered.
package decisions

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/logging"
	"github.com/marketpilot/marketpilot/internal/storage"
)

// Machine drives decisions through the stage workflow. Step completion for
// one decision is serialized by a per-decision lock: progress and stage are
// derived fields, so there is exactly one writer at a time.
type Machine struct {
	store *storage.DecisionStore
	log   *logging.Logger

	mu    sync.Mutex
	locks map[core.DecisionID]*sync.Mutex
}

// NewMachine creates a stage machine over the decision store.
func NewMachine(store *storage.DecisionStore) *Machine {
	return &Machine{
		store: store,
		log:   logging.ForComponent("decisions"),
		locks: make(map[core.DecisionID]*sync.Mutex),
	}
}

// Create builds a decision from a trigger: guidance level is derived from
// impact, and the full stage-tagged step list is generated up front and
// fixed for the decision's lifetime.
func (m *Machine) Create(trigger core.DecisionTrigger) (*core.Decision, error) {
	if trigger.ClientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", core.ErrInvalidAction)
	}
	if !trigger.ImpactLevel.Valid() {
		return nil, fmt.Errorf("%w: unknown impact_level %q", core.ErrInvalidAction, trigger.ImpactLevel)
	}

	guidance := GuidanceFor(trigger.ImpactLevel)

	d := &core.Decision{
		ID:            core.DecisionID(uuid.New().String()),
		ClientID:      trigger.ClientID,
		Title:         trigger.Title,
		DecisionType:  trigger.DecisionType,
		ImpactLevel:   trigger.ImpactLevel,
		GuidanceLevel: guidance,
		CurrentStage:  core.StageAnalysis,
		RiskLevel:     trigger.RiskLevel,
		BudgetImpact:  trigger.BudgetImpact,
		Timeline:      trigger.Timeline,
		Steps:         BuildSteps(trigger, guidance),
		CreatedAt:     time.Now().UTC(),
	}
	d.RecomputeProgress()
	d.NextSteps = pendingTitles(d)

	if err := m.store.Create(d); err != nil {
		return nil, err
	}

	m.log.WithFields(map[string]interface{}{
		"decision": d.ID,
		"client":   d.ClientID,
	}).Info("decision created (%s, %d steps)", guidance, len(d.Steps))
	return d, nil
}

// Get returns a decision by ID.
func (m *Machine) Get(id core.DecisionID) (*core.Decision, error) {
	return m.store.GetByID(id)
}

// ListByClient returns a client's decisions, newest first.
func (m *Machine) ListByClient(clientID core.ClientID, limit int) ([]core.Decision, error) {
	return m.store.ListByClient(clientID, limit)
}

// ListActive returns unarchived decisions, newest first.
func (m *Machine) ListActive(limit int) ([]core.Decision, error) {
	return m.store.ListActive(limit)
}

// CompleteStep marks a step complete, recomputes progress, and advances the
// stage when every step of the current stage is done. Re-completing an
// already-completed step is an idempotent no-op, not an error: duplicate
// dashboard clicks should not fail. Returns the updated decision and
// whether the stage advanced.
func (m *Machine) CompleteStep(id core.DecisionID, stepID core.StepID) (*core.Decision, bool, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	d, err := m.store.GetByID(id)
	if err != nil {
		return nil, false, err
	}

	idx := -1
	for i := range d.Steps {
		if d.Steps[i].ID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false, fmt.Errorf("%w: step %s in decision %s", core.ErrStepNotFound, stepID, id)
	}

	if d.Steps[idx].Completed {
		return d, false, nil
	}

	now := time.Now().UTC()
	d.Steps[idx].Completed = true
	d.Steps[idx].CompletedAt = &now
	d.RecomputeProgress()

	advanced := m.advance(d)
	d.NextSteps = pendingTitles(d)

	if err := m.store.Update(d); err != nil {
		return nil, false, err
	}

	if advanced {
		m.log.WithField("decision", d.ID).Info("stage advanced to %s (%.1f%%)",
			d.CurrentStage, d.Progress.Percentage)
	}
	return d, advanced, nil
}

// AttachOptions stores an evaluated, ranked option list on a decision at
// the options or evaluation stage. Ranking is advisory: it never gates
// stage advancement.
func (m *Machine) AttachOptions(id core.DecisionID, options []core.Option) (*core.Decision, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	d, err := m.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	if d.Archived {
		return nil, fmt.Errorf("%w: decision %s", core.ErrDecisionArchived, d.ID)
	}
	if d.CurrentStage != core.StageOptions && d.CurrentStage != core.StageEvaluation {
		return nil, fmt.Errorf("%w: options attach in stage %s", core.ErrInvalidTransition, d.CurrentStage)
	}

	d.Recommendations = options
	if err := m.store.Update(d); err != nil {
		return nil, err
	}

	return d, nil
}

// advance walks the stage forward while the completion rule allows it.
// Stages without steps pass through; reaching monitoring archives the
// decision (archived, never deleted).
func (m *Machine) advance(d *core.Decision) bool {
	advanced := false
	for d.StageComplete(d.CurrentStage) {
		next, ok := d.CurrentStage.Next()
		if !ok {
			break
		}
		d.CurrentStage = next
		advanced = true
		if next == core.StageMonitoring {
			d.Archived = true
		}
	}
	return advanced
}

func (m *Machine) lockFor(id core.DecisionID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks[id] = l
	return l
}

func pendingTitles(d *core.Decision) []string {
	var titles []string
	for _, s := range d.Steps {
		if s.Stage == d.CurrentStage && !s.Completed {
			titles = append(titles, s.Title)
		}
	}
	return titles
}
