// Package actions implements classification and gating of candidate actions.
package actions

import (
	"fmt"
	"time"

	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/logging"
	"github.com/marketpilot/marketpilot/internal/storage"
)

// transitions is the fixed table of legal status changes. Anything not
// listed here fails with ErrInvalidTransition and leaves the action as it
// was. Execution transitions (executing -> executed / restore) are enforced
// by the store's compare-and-set and listed here for completeness.
var transitions = map[core.ActionStatus][]core.ActionStatus{
	core.StatusProposed:        {core.StatusExecuting, core.StatusHeld},
	core.StatusPendingApproval: {core.StatusApproved, core.StatusRejected, core.StatusHeld},
	core.StatusExpertRequired:  {core.StatusApproved, core.StatusRejected, core.StatusHeld},
	core.StatusApproved:        {core.StatusExecuting, core.StatusHeld},
	core.StatusExecuting:       {core.StatusExecuted, core.StatusApproved, core.StatusProposed},
	core.StatusHeld:            {core.StatusProposed, core.StatusPendingApproval, core.StatusExpertRequired},
	core.StatusRejected:        {},
	core.StatusExecuted:        {},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to core.ActionStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Gate is the single mutator of action status outside execution. Every
// transition is checked against the table; a losing concurrent writer is
// rejected by the store's status guard, never half-applied.
type Gate struct {
	store      *storage.ActionStore
	classifier *Classifier
	log        *logging.Logger
}

// NewGate creates a gate over the action store.
func NewGate(store *storage.ActionStore, classifier *Classifier) *Gate {
	return &Gate{
		store:      store,
		classifier: classifier,
		log:        logging.ForComponent("gate"),
	}
}

// Approve moves a pending_approval action to approved.
func (g *Gate) Approve(id core.ActionID, reasoning string) (*core.Action, error) {
	a, err := g.checked(id, core.StatusPendingApproval, core.StatusApproved)
	if err != nil {
		return nil, err
	}

	a.Status = core.StatusApproved
	if err := g.store.UpdateGuarded(a, core.StatusPendingApproval); err != nil {
		return nil, err
	}

	g.log.WithField("action", a.ID).Info("action approved: %s", reasoning)
	return a, nil
}

// Reject moves a pending_approval or expert_required action to rejected.
// Rejected is terminal.
func (g *Gate) Reject(id core.ActionID, reasoning string) (*core.Action, error) {
	a, err := g.get(id)
	if err != nil {
		return nil, err
	}

	if a.Status != core.StatusPendingApproval && a.Status != core.StatusExpertRequired {
		return nil, g.transitionErr(a, core.StatusRejected)
	}

	prev := a.Status
	a.Status = core.StatusRejected
	if err := g.store.UpdateGuarded(a, prev); err != nil {
		return nil, err
	}

	g.log.WithField("action", a.ID).Info("action rejected: %s", reasoning)
	return a, nil
}

// SubmitExpertDecision applies an expert's verdict to an expert_required
// action. "modified" overlays the expert's patch and re-validates it under
// the same range checks as classification before approving.
func (g *Gate) SubmitExpertDecision(id core.ActionID, ed core.ExpertDecision) (*core.Action, error) {
	if !ed.Verdict.Valid() {
		return nil, fmt.Errorf("%w: unknown expert verdict %q", core.ErrInvalidTransition, ed.Verdict)
	}

	a, err := g.get(id)
	if err != nil {
		return nil, err
	}
	if a.Status != core.StatusExpertRequired {
		return nil, g.transitionErr(a, core.StatusApproved)
	}

	switch ed.Verdict {
	case core.VerdictApproved:
		a.Status = core.StatusApproved
	case core.VerdictModified:
		if err := ApplyPatch(a, ed.Modifications); err != nil {
			return nil, err
		}
		a.Status = core.StatusApproved
	case core.VerdictRejected:
		a.Status = core.StatusRejected
	}

	ed.ActionID = a.ID
	if ed.DecidedAt.IsZero() {
		ed.DecidedAt = time.Now().UTC()
	}

	// Update and decision commit together: a duplicate submission rolls both
	// back and the action keeps its stored state.
	if err := g.store.ApplyExpertVerdict(a, core.StatusExpertRequired, &ed); err != nil {
		return nil, err
	}

	g.log.WithFields(map[string]interface{}{
		"action": a.ID,
		"expert": ed.ExpertID,
	}).Info("expert decision: %s", ed.Verdict)
	return a, nil
}

// Hold parks any non-terminal, non-executing action. The prior status is
// remembered so the action can be resumed.
func (g *Gate) Hold(id core.ActionID) (*core.Action, error) {
	a, err := g.get(id)
	if err != nil {
		return nil, err
	}

	if a.Status.Terminal() {
		return nil, fmt.Errorf("%w: action %s", core.ErrActionImmutable, a.ID)
	}
	if a.Status == core.StatusExecuting {
		return nil, fmt.Errorf("%w: cannot hold an action mid-execution", core.ErrInvalidTransition)
	}
	if a.Status == core.StatusHeld {
		return nil, fmt.Errorf("%w: action %s is already held", core.ErrInvalidTransition, a.ID)
	}

	prev := a.Status
	a.HeldFrom = prev
	a.Status = core.StatusHeld
	if err := g.store.UpdateGuarded(a, prev); err != nil {
		return nil, err
	}

	g.log.WithField("action", a.ID).Info("action held (was %s)", prev)
	return a, nil
}

// Resume takes a held action back into the flow. The action is
// re-classified against the client's current profile rather than restored
// blindly: the profile may have drifted while the action sat on hold.
func (g *Gate) Resume(id core.ActionID, profile *core.AutonomyProfile) (*core.Action, error) {
	a, err := g.get(id)
	if err != nil {
		return nil, err
	}

	if a.Status != core.StatusHeld {
		return nil, fmt.Errorf("%w: action %s is not held", core.ErrInvalidTransition, a.ID)
	}

	if err := g.classifier.Reclassify(a, profile); err != nil {
		return nil, err
	}
	if err := g.store.UpdateGuarded(a, core.StatusHeld); err != nil {
		return nil, err
	}

	g.log.WithField("action", a.ID).Info("action resumed into %s", a.Status)
	return a, nil
}

// --- helpers ---

func (g *Gate) get(id core.ActionID) (*core.Action, error) {
	return g.store.GetByID(id)
}

func (g *Gate) checked(id core.ActionID, from, to core.ActionStatus) (*core.Action, error) {
	a, err := g.get(id)
	if err != nil {
		return nil, err
	}
	if a.Status != from || !CanTransition(from, to) {
		return nil, g.transitionErr(a, to)
	}
	return a, nil
}

func (g *Gate) transitionErr(a *core.Action, to core.ActionStatus) error {
	if a.Status.Terminal() {
		return fmt.Errorf("%w: action %s is %s", core.ErrActionImmutable, a.ID, a.Status)
	}
	return fmt.Errorf("%w: %s -> %s on action %s", core.ErrInvalidTransition, a.Status, to, a.ID)
}
