// Package actions implements classification and gating of candidate actions.
// The classifier decides how much autonomy an action gets; the gate owns every
// status transition after that.
package actions

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marketpilot/marketpilot/internal/config"
	"github.com/marketpilot/marketpilot/internal/core"
)

// Classifier turns raw signal-producer candidates into gated actions.
// Classification is deterministic: the same (profile, candidate) pair always
// yields the same flags and initial status.
type Classifier struct {
	policy config.PolicyConfig
}

// NewClassifier creates a classifier with the given gating policy.
func NewClassifier(policy config.PolicyConfig) *Classifier {
	return &Classifier{policy: policy}
}

// Classify validates the candidate's ranges, applies the gating policy
// against the client's autonomy profile, and returns a new Action ready to
// persist. Nothing is persisted here.
func (c *Classifier) Classify(cand core.ActionCandidate, profile *core.AutonomyProfile) (*core.Action, error) {
	if err := ValidateCandidate(cand); err != nil {
		return nil, err
	}

	a := &core.Action{
		ID:             core.ActionID(uuid.New().String()),
		ClientID:       cand.ClientID,
		CampaignID:     cand.CampaignID,
		ActionType:     cand.ActionType,
		Confidence:     cand.Confidence,
		RiskLevel:      cand.RiskLevel,
		Priority:       cand.Priority,
		ExpectedImpact: cand.ExpectedImpact,
		ImpactLevel:    cand.ImpactLevel,
		Reasoning:      cand.Reasoning,
		DataEvidence:   cand.DataEvidence,
		CreatedAt:      time.Now().UTC(),
	}

	c.applyPolicy(a, profile)
	return a, nil
}

// Reclassify re-runs the gating policy on an existing action, e.g. after a
// hold is resumed or an expert modified its scores. The action keeps its
// identity and history; only the flags and status are recomputed.
func (c *Classifier) Reclassify(a *core.Action, profile *core.AutonomyProfile) error {
	if err := validateScores(a.Confidence, a.RiskLevel, a.Priority); err != nil {
		return err
	}
	c.applyPolicy(a, profile)
	return nil
}

func (c *Classifier) applyPolicy(a *core.Action, profile *core.AutonomyProfile) {
	a.RequiresHumanApproval = profile.PreferenceLevel != core.PrefFullyAutonomous ||
		a.RiskLevel > profile.RiskTolerance

	a.RequiresExpert = a.RiskLevel >= c.policy.ExpertRiskThreshold ||
		(a.ImpactLevel.CriticalOrAbove() && a.Confidence < c.policy.ExpertConfidenceFloor)

	// Expert review always implies a human in the loop.
	if a.RequiresExpert {
		a.RequiresHumanApproval = true
	}

	switch {
	case a.RequiresExpert:
		a.Status = core.StatusExpertRequired
	case a.RequiresHumanApproval:
		a.Status = core.StatusPendingApproval
	default:
		a.Status = core.StatusProposed
	}
	a.HeldFrom = ""
}

// ValidateCandidate rejects candidates whose scores are out of range. The
// same ranges guard expert modifications, so patched actions cannot sneak
// past validation either.
func ValidateCandidate(cand core.ActionCandidate) error {
	if cand.ClientID == "" {
		return fmt.Errorf("%w: missing client_id", core.ErrInvalidAction)
	}
	if cand.ActionType == "" {
		return fmt.Errorf("%w: missing action_type", core.ErrInvalidAction)
	}
	if !cand.ImpactLevel.Valid() {
		return fmt.Errorf("%w: unknown impact_level %q", core.ErrInvalidAction, cand.ImpactLevel)
	}
	return validateScores(cand.Confidence, cand.RiskLevel, cand.Priority)
}

func validateScores(confidence, risk float64, priority int) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence %v not in [0,1]", core.ErrInvalidAction, confidence)
	}
	if risk < 0 || risk > 1 {
		return fmt.Errorf("%w: risk_level %v not in [0,1]", core.ErrInvalidAction, risk)
	}
	if priority < 1 || priority > 10 {
		return fmt.Errorf("%w: priority %d not in [1,10]", core.ErrInvalidAction, priority)
	}
	return nil
}

// ApplyPatch overlays an expert's modifications onto the action and
// re-validates the result. On a validation failure the action is unchanged.
func ApplyPatch(a *core.Action, patch *core.ActionPatch) error {
	if patch == nil {
		return nil
	}

	patched := *a
	if patch.Confidence != nil {
		patched.Confidence = *patch.Confidence
	}
	if patch.RiskLevel != nil {
		patched.RiskLevel = *patch.RiskLevel
	}
	if patch.Priority != nil {
		patched.Priority = *patch.Priority
	}
	if patch.ExpectedImpact != nil {
		patched.ExpectedImpact = *patch.ExpectedImpact
	}
	if patch.Reasoning != nil {
		patched.Reasoning = *patch.Reasoning
	}

	if err := validateScores(patched.Confidence, patched.RiskLevel, patched.Priority); err != nil {
		return err
	}

	*a = patched
	return nil
}
