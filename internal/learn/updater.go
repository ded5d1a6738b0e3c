// Package learn adjusts client autonomy profiles from observed outcomes and
// expert decisions. Every adjustment appends a new profile snapshot; the
// history is never rewritten, so drift is auditable end to end.
package learn

import (
	"time"

	"github.com/marketpilot/marketpilot/internal/config"
	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/logging"
	"github.com/marketpilot/marketpilot/internal/storage"
)

// Updater consumes (outcome, action) pairs and expert decisions and nudges
// risk tolerance toward what the evidence supports. Updates are bounded
// (tolerance clamped to [0,1]) and desensitizing (the learning rate decays
// toward a floor as outcomes accumulate).
type Updater struct {
	profiles *storage.ProfileStore
	policy   config.PolicyConfig
	learning config.LearningConfig
	log      *logging.Logger
}

// NewUpdater creates a profile learning updater.
func NewUpdater(profiles *storage.ProfileStore, policy config.PolicyConfig, learning config.LearningConfig) *Updater {
	return &Updater{
		profiles: profiles,
		policy:   policy,
		learning: learning,
		log:      logging.ForComponent("learn"),
	}
}

// EnsureProfile returns the client's current profile, creating the default
// first snapshot on first contact with a client.
func (u *Updater) EnsureProfile(clientID core.ClientID) (*core.AutonomyProfile, error) {
	p, err := u.profiles.Latest(clientID)
	if err == nil {
		return p, nil
	}
	if err != core.ErrProfileNotFound {
		return nil, err
	}

	p = &core.AutonomyProfile{
		ClientID:        clientID,
		PreferenceLevel: core.PreferenceLevel(u.policy.DefaultPreference),
		RiskTolerance:   u.policy.DefaultRiskTolerance,
		LearningRate:    u.policy.DefaultLearningRate,
		LastUpdated:     time.Now().UTC(),
	}
	if err := u.profiles.Append(p); err != nil {
		return nil, err
	}

	u.log.WithField("client", clientID).Info("default autonomy profile created")
	return p, nil
}

// History returns a client's snapshot history, newest first.
func (u *Updater) History(clientID core.ClientID, limit int) ([]core.AutonomyProfile, error) {
	return u.profiles.History(clientID, limit)
}

// ApplyOutcome folds one execution outcome into the client's profile. A
// successful outcome on an action riskier than the client's tolerance means
// the tolerance was too conservative: it moves up by learning_rate times
// the gap. A failure on such an action moves it down by the same amount.
// Outcomes inside the tolerance band only bump the outcome count.
func (u *Updater) ApplyOutcome(a *core.Action, outcome *core.OutcomeRecord) (*core.AutonomyProfile, error) {
	p, err := u.EnsureProfile(a.ClientID)
	if err != nil {
		return nil, err
	}

	delta := 0.0
	if a.RiskLevel > p.RiskTolerance {
		gap := a.RiskLevel - p.RiskTolerance
		if outcome.Success {
			delta = p.LearningRate * gap
		} else {
			delta = -p.LearningRate * gap
		}
	}

	return u.append(p, delta, "outcome")
}

// ApplyExpertDecision folds an expert verdict into the profile. A rejection
// is a strong signal the gate let something too risky through: tolerance
// moves down by learning_rate times the gap. Approvals and modifications
// carry no adjustment; their effect arrives later through the outcome.
func (u *Updater) ApplyExpertDecision(a *core.Action, ed *core.ExpertDecision) (*core.AutonomyProfile, error) {
	p, err := u.EnsureProfile(a.ClientID)
	if err != nil {
		return nil, err
	}

	delta := 0.0
	if ed.Verdict == core.VerdictRejected && a.RiskLevel > p.RiskTolerance {
		delta = -p.LearningRate * (a.RiskLevel - p.RiskTolerance)
	}

	return u.append(p, delta, "expert_"+string(ed.Verdict))
}

// append builds the next snapshot: adjusted tolerance, decayed learning
// rate, incremented outcome count. The store assigns the next seq.
func (u *Updater) append(p *core.AutonomyProfile, delta float64, reason string) (*core.AutonomyProfile, error) {
	next := *p
	next.RiskTolerance = clamp01(p.RiskTolerance + delta)
	next.OutcomeCount = p.OutcomeCount + 1
	next.LearningRate = u.decayedRate(next.OutcomeCount)
	next.LastUpdated = time.Now().UTC()

	if err := u.profiles.Append(&next); err != nil {
		return nil, err
	}

	u.log.WithFields(map[string]interface{}{
		"client": next.ClientID,
		"seq":    next.Seq,
	}).Debug("profile updated (%s): tolerance %.3f -> %.3f, rate %.3f",
		reason, p.RiskTolerance, next.RiskTolerance, next.LearningRate)
	return &next, nil
}

// decayedRate shrinks the configured base rate as outcomes accumulate, never
// below the floor: rate = max(floor, base / (1 + decay*n)).
func (u *Updater) decayedRate(outcomeCount int) float64 {
	rate := u.policy.DefaultLearningRate / (1 + u.learning.RateDecay*float64(outcomeCount))
	if rate < u.learning.RateFloor {
		return u.learning.RateFloor
	}
	return rate
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
