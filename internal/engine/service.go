// Package engine wires the classifier, gate, stage machine, evaluator,
// execution engine, and learning updater into the one service the API layer
// talks to. The service owns cross-component sequencing: what executes when,
// what the learner sees, and what lands in the audit ledger.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/marketpilot/marketpilot/internal/actions"
	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/decisions"
	"github.com/marketpilot/marketpilot/internal/execution"
	"github.com/marketpilot/marketpilot/internal/learn"
	"github.com/marketpilot/marketpilot/internal/ledger"
	"github.com/marketpilot/marketpilot/internal/logging"
	"github.com/marketpilot/marketpilot/internal/recommend"
	"github.com/marketpilot/marketpilot/internal/storage"
)

// Service is the orchestration engine's public face.
type Service struct {
	classifier *actions.Classifier
	gate       *actions.Gate
	queues     *actions.Queues
	machine    *decisions.Machine
	evaluator  *recommend.Evaluator
	executor   *execution.Engine
	learner    *learn.Updater

	actionStore *storage.ActionStore
	ledger      *ledger.Store
	events      Publisher
	log         *logging.Logger
}

// Deps carries everything a Service needs. All fields are required except
// Events, which defaults to a no-op publisher.
type Deps struct {
	Classifier  *actions.Classifier
	Gate        *actions.Gate
	Queues      *actions.Queues
	Machine     *decisions.Machine
	Evaluator   *recommend.Evaluator
	Executor    *execution.Engine
	Learner     *learn.Updater
	ActionStore *storage.ActionStore
	Ledger      *ledger.Store
	Events      Publisher
}

// New creates the orchestration service.
func New(d Deps) *Service {
	if d.Events == nil {
		d.Events = nopPublisher{}
	}
	return &Service{
		classifier:  d.Classifier,
		gate:        d.Gate,
		queues:      d.Queues,
		machine:     d.Machine,
		evaluator:   d.Evaluator,
		executor:    d.Executor,
		learner:     d.Learner,
		actionStore: d.ActionStore,
		ledger:      d.Ledger,
		events:      d.Events,
		log:         logging.ForComponent("engine"),
	}
}

// SetEvents replaces the event publisher. Used at startup to wire in the
// API server's hub, which does not exist until the server is built.
func (s *Service) SetEvents(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.events = p
}

// -----------------------------------------------------------------------------
// Actions
// -----------------------------------------------------------------------------

// SubmitCandidate classifies a signal-producer candidate against the
// client's autonomy profile and persists the resulting action. Actions
// cleared for autonomy (proposed) execute immediately; everything else waits
// in its queue. An auto-execution failure is returned to the caller with the
// action left retryable, per the no-automatic-retry rule.
func (s *Service) SubmitCandidate(ctx context.Context, cand core.ActionCandidate) (*core.Action, error) {
	profile, err := s.learner.EnsureProfile(cand.ClientID)
	if err != nil {
		return nil, err
	}

	a, err := s.classifier.Classify(cand, profile)
	if err != nil {
		return nil, err
	}
	if err := s.actionStore.Create(a); err != nil {
		return nil, err
	}

	s.audit(ledger.EventActionClassified, ledger.ActorSystem, ledger.EntityAction, string(a.ID), map[string]interface{}{
		"status":                  a.Status,
		"requires_human_approval": a.RequiresHumanApproval,
		"requires_expert":         a.RequiresExpert,
	})
	s.publish(ledger.EventActionClassified, ledger.EntityAction, string(a.ID), a.ClientID, a)

	if a.Status == core.StatusProposed {
		if execErr := s.execute(ctx, a.ID); execErr != nil {
			return a, execErr
		}
		return s.actionStore.GetByID(a.ID)
	}

	return a, nil
}

// GetAction returns an action by ID.
func (s *Service) GetAction(id core.ActionID) (*core.Action, error) {
	return s.actionStore.GetByID(id)
}

// GetExpertDecision returns the recorded expert decision for an action.
func (s *Service) GetExpertDecision(id core.ActionID) (*core.ExpertDecision, error) {
	return s.actionStore.GetExpertDecision(id)
}

// ListActions returns a client's actions, newest first.
func (s *Service) ListActions(clientID core.ClientID, limit int) ([]core.Action, error) {
	return s.actionStore.ListByClient(clientID, limit)
}

// Queues exposes the status-derived queue view.
func (s *Service) Queues() *actions.Queues {
	return s.queues
}

// Approve clears a pending_approval action and executes it.
func (s *Service) Approve(ctx context.Context, id core.ActionID, reasoning string) (*core.Action, error) {
	a, err := s.gate.Approve(id, reasoning)
	if err != nil {
		return nil, err
	}

	s.audit(ledger.EventActionApproved, ledger.ActorHuman, ledger.EntityAction, string(a.ID), map[string]interface{}{
		"reasoning": reasoning,
	})
	s.publish(ledger.EventActionApproved, ledger.EntityAction, string(a.ID), a.ClientID, a)

	if execErr := s.execute(ctx, a.ID); execErr != nil {
		return a, execErr
	}
	return s.actionStore.GetByID(a.ID)
}

// Reject moves an action to the terminal rejected status.
func (s *Service) Reject(id core.ActionID, reasoning string) (*core.Action, error) {
	a, err := s.gate.Reject(id, reasoning)
	if err != nil {
		return nil, err
	}

	s.audit(ledger.EventActionRejected, ledger.ActorHuman, ledger.EntityAction, string(a.ID), map[string]interface{}{
		"reasoning": reasoning,
	})
	s.publish(ledger.EventActionRejected, ledger.EntityAction, string(a.ID), a.ClientID, a)
	return a, nil
}

// SubmitExpertDecision applies an expert verdict, feeds it to the learner,
// and executes the action if the expert cleared it.
func (s *Service) SubmitExpertDecision(ctx context.Context, id core.ActionID, ed core.ExpertDecision) (*core.Action, error) {
	a, err := s.gate.SubmitExpertDecision(id, ed)
	if err != nil {
		return nil, err
	}

	s.audit(ledger.EventExpertDecision, ledger.ActorExpert, ledger.EntityAction, string(a.ID), map[string]interface{}{
		"expert_id": ed.ExpertID,
		"verdict":   ed.Verdict,
		"reasoning": ed.Reasoning,
	})
	s.publish(ledger.EventExpertDecision, ledger.EntityAction, string(a.ID), a.ClientID, a)

	if profile, learnErr := s.learner.ApplyExpertDecision(a, &ed); learnErr != nil {
		s.log.WithField("action", a.ID).Error("learning from expert decision: %v", learnErr)
	} else {
		s.auditProfile(profile)
	}

	if a.Status == core.StatusApproved {
		if execErr := s.execute(ctx, a.ID); execErr != nil {
			return a, execErr
		}
		return s.actionStore.GetByID(a.ID)
	}

	return a, nil
}

// Hold parks an action; Resume re-classifies it against the client's
// current profile, which may have drifted while it sat on hold.
func (s *Service) Hold(id core.ActionID) (*core.Action, error) {
	a, err := s.gate.Hold(id)
	if err != nil {
		return nil, err
	}

	s.audit(ledger.EventActionHeld, ledger.ActorHuman, ledger.EntityAction, string(a.ID), map[string]interface{}{
		"held_from": a.HeldFrom,
	})
	s.publish(ledger.EventActionHeld, ledger.EntityAction, string(a.ID), a.ClientID, a)
	return a, nil
}

// Resume takes a held action back into the flow.
func (s *Service) Resume(ctx context.Context, id core.ActionID) (*core.Action, error) {
	a, err := s.actionStore.GetByID(id)
	if err != nil {
		return nil, err
	}

	profile, err := s.learner.EnsureProfile(a.ClientID)
	if err != nil {
		return nil, err
	}

	a, err = s.gate.Resume(id, profile)
	if err != nil {
		return nil, err
	}

	s.audit(ledger.EventActionResumed, ledger.ActorHuman, ledger.EntityAction, string(a.ID), map[string]interface{}{
		"status": a.Status,
	})
	s.publish(ledger.EventActionResumed, ledger.EntityAction, string(a.ID), a.ClientID, a)

	if a.Status == core.StatusProposed {
		if execErr := s.execute(ctx, a.ID); execErr != nil {
			return a, execErr
		}
		return s.actionStore.GetByID(a.ID)
	}
	return a, nil
}

// execute runs one action through the execution engine and folds the
// outcome into the client's profile. ErrAlreadyExecuting from a concurrent
// attempt passes through untouched so the caller sees the contention.
func (s *Service) execute(ctx context.Context, id core.ActionID) error {
	outcome, err := s.executor.Execute(ctx, id)

	if outcome != nil {
		if a, getErr := s.actionStore.GetByID(id); getErr != nil {
			s.log.WithField("action", id).Error("load action for learning: %v", getErr)
		} else if profile, learnErr := s.learner.ApplyOutcome(a, outcome); learnErr != nil {
			s.log.WithField("action", id).Error("learning from outcome: %v", learnErr)
		} else {
			s.auditProfile(profile)
		}
	}

	switch {
	case err == nil:
		s.audit(ledger.EventActionExecuted, ledger.ActorSystem, ledger.EntityAction, string(id), map[string]interface{}{
			"result": outcome.ResultSummary,
		})
		s.publish(ledger.EventActionExecuted, ledger.EntityAction, string(id), outcome.ClientID, outcome)
		return nil
	case errors.Is(err, core.ErrExecutionFailed):
		s.audit(ledger.EventActionExecFailed, ledger.ActorSystem, ledger.EntityAction, string(id), map[string]interface{}{
			"error": err.Error(),
		})
		s.publish(ledger.EventActionExecFailed, ledger.EntityAction, string(id), "", nil)
		return err
	default:
		return err
	}
}

// -----------------------------------------------------------------------------
// Decisions
// -----------------------------------------------------------------------------

// CreateDecision spawns a guided decision workflow from a trigger.
func (s *Service) CreateDecision(trigger core.DecisionTrigger) (*core.Decision, error) {
	d, err := s.machine.Create(trigger)
	if err != nil {
		return nil, err
	}

	s.audit(ledger.EventDecisionCreated, ledger.ActorSystem, ledger.EntityDecision, string(d.ID), map[string]interface{}{
		"guidance_level": d.GuidanceLevel,
		"impact_level":   d.ImpactLevel,
	})
	s.publish(ledger.EventDecisionCreated, ledger.EntityDecision, string(d.ID), d.ClientID, d)
	return d, nil
}

// GetDecision returns a decision by ID.
func (s *Service) GetDecision(id core.DecisionID) (*core.Decision, error) {
	return s.machine.Get(id)
}

// ListDecisions returns a client's decisions, newest first.
func (s *Service) ListDecisions(clientID core.ClientID, limit int) ([]core.Decision, error) {
	return s.machine.ListByClient(clientID, limit)
}

// ActiveDecisions returns unarchived decisions across all clients.
func (s *Service) ActiveDecisions(limit int) ([]core.Decision, error) {
	return s.machine.ListActive(limit)
}

// CompleteStep marks a decision step done. When the stage advances into
// options or evaluation, the evaluator generates and attaches a ranked
// option set; reaching monitoring archives the decision.
func (s *Service) CompleteStep(id core.DecisionID, stepID core.StepID) (*core.Decision, error) {
	d, advanced, err := s.machine.CompleteStep(id, stepID)
	if err != nil {
		return nil, err
	}

	s.audit(ledger.EventStepCompleted, ledger.ActorHuman, ledger.EntityDecision, string(d.ID), map[string]interface{}{
		"step_id":  stepID,
		"progress": d.Progress.Percentage,
	})

	if advanced {
		s.audit(ledger.EventStageAdvanced, ledger.ActorSystem, ledger.EntityDecision, string(d.ID), map[string]interface{}{
			"stage": d.CurrentStage,
		})
		s.publish(ledger.EventStageAdvanced, ledger.EntityDecision, string(d.ID), d.ClientID, d)

		if (d.CurrentStage == core.StageOptions || d.CurrentStage == core.StageEvaluation) && len(d.Recommendations) == 0 {
			opts := s.evaluator.Generate(d)
			if d, err = s.machine.AttachOptions(d.ID, opts); err != nil {
				return nil, err
			}
			s.audit(ledger.EventOptionsAttached, ledger.ActorSystem, ledger.EntityDecision, string(d.ID), map[string]interface{}{
				"options": len(opts),
			})
		}

		if d.Archived {
			s.audit(ledger.EventDecisionArchived, ledger.ActorSystem, ledger.EntityDecision, string(d.ID), nil)
		}
	}

	s.publish(ledger.EventStepCompleted, ledger.EntityDecision, string(d.ID), d.ClientID, d)
	return d, nil
}

// AttachOptions lets the account team replace the generated option set with
// an edited, re-ranked one.
func (s *Service) AttachOptions(id core.DecisionID, options []core.Option) (*core.Decision, error) {
	ranked := s.evaluator.Rank(options)
	d, err := s.machine.AttachOptions(id, ranked)
	if err != nil {
		return nil, err
	}

	s.audit(ledger.EventOptionsAttached, ledger.ActorHuman, ledger.EntityDecision, string(d.ID), map[string]interface{}{
		"options": len(ranked),
	})
	s.publish(ledger.EventOptionsAttached, ledger.EntityDecision, string(d.ID), d.ClientID, d)
	return d, nil
}

// -----------------------------------------------------------------------------
// Profiles
// -----------------------------------------------------------------------------

// Profile returns a client's current autonomy profile, creating the default
// if the client is new.
func (s *Service) Profile(clientID core.ClientID) (*core.AutonomyProfile, error) {
	return s.learner.EnsureProfile(clientID)
}

// ProfileHistory returns a client's snapshot history, newest first.
func (s *Service) ProfileHistory(clientID core.ClientID, limit int) ([]core.AutonomyProfile, error) {
	return s.learner.History(clientID, limit)
}

// Ledger exposes the audit trail for the API layer.
func (s *Service) Ledger() *ledger.Store {
	return s.ledger
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func (s *Service) audit(event, actor, entityType, entityID string, details interface{}) {
	if _, err := s.ledger.Append(event, actor, entityType, entityID, details); err != nil {
		s.log.Error("ledger append %s: %v", event, err)
	}
}

func (s *Service) auditProfile(p *core.AutonomyProfile) {
	event := ledger.EventProfileUpdated
	if p.Seq == 1 {
		event = ledger.EventProfileCreated
	}
	s.audit(event, ledger.ActorSystem, ledger.EntityProfile, string(p.ClientID), map[string]interface{}{
		"seq":            p.Seq,
		"risk_tolerance": p.RiskTolerance,
		"learning_rate":  p.LearningRate,
	})
	s.publish(event, ledger.EntityProfile, string(p.ClientID), p.ClientID, p)
}

func (s *Service) publish(eventType, entity, entityID string, clientID core.ClientID, payload interface{}) {
	s.events.Publish(Event{
		Type:      eventType,
		Entity:    entity,
		EntityID:  entityID,
		ClientID:  clientID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}
