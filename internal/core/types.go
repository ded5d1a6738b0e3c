// Package core defines the fundamental types for MarketPilot.
// Every other package speaks in these types.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// Identifiers
// -----------------------------------------------------------------------------

// ClientID identifies a managed client account.
type ClientID string

// ActionID identifies a single orchestrated action.
type ActionID string

// DecisionID identifies a long-lived guided decision.
type DecisionID string

// StepID identifies a step within a decision.
type StepID string

// -----------------------------------------------------------------------------
// Autonomy profile - per-client policy parameters
// -----------------------------------------------------------------------------

// PreferenceLevel is how much autonomy a client grants the engine.
type PreferenceLevel string

const (
	PrefFullyAutonomous  PreferenceLevel = "fully_autonomous"
	PrefGuidedAutomation PreferenceLevel = "guided_automation"
	PrefHumanLed         PreferenceLevel = "human_led"
	PrefExpertRequired   PreferenceLevel = "expert_required"
)

// Valid reports whether the preference level is one of the known values.
func (p PreferenceLevel) Valid() bool {
	switch p {
	case PrefFullyAutonomous, PrefGuidedAutomation, PrefHumanLed, PrefExpertRequired:
		return true
	}
	return false
}

// AutonomyProfile is one immutable snapshot of a client's policy parameters.
// Profiles are never mutated in place; the learning updater appends a new
// snapshot with Seq+1 and the latest snapshot is the current profile.
type AutonomyProfile struct {
	ClientID        ClientID        `json:"client_id"`
	Seq             int64           `json:"seq"`
	PreferenceLevel PreferenceLevel `json:"preference_level"`
	RiskTolerance   float64         `json:"risk_tolerance"` // 0.0 to 1.0
	LearningRate    float64         `json:"learning_rate"`  // 0.0 to 1.0
	OutcomeCount    int             `json:"outcome_count"`  // observed outcomes so far
	LastUpdated     time.Time       `json:"last_updated"`
}

// -----------------------------------------------------------------------------
// Actions - gated, possibly human-reviewed operations
// -----------------------------------------------------------------------------

// ActionStatus is the lifecycle status of an action.
type ActionStatus string

const (
	StatusProposed        ActionStatus = "proposed"         // cleared for auto-execution
	StatusPendingApproval ActionStatus = "pending_approval" // waiting on a human
	StatusExpertRequired  ActionStatus = "expert_required"  // waiting on an expert
	StatusApproved        ActionStatus = "approved"         // cleared by human or expert
	StatusRejected        ActionStatus = "rejected"         // terminal
	StatusExecuting       ActionStatus = "executing"        // execution lock held
	StatusExecuted        ActionStatus = "executed"         // terminal
	StatusHeld            ActionStatus = "held"             // parked, resumable
)

// Valid reports whether the status is one of the known values.
func (s ActionStatus) Valid() bool {
	switch s {
	case StatusProposed, StatusPendingApproval, StatusExpertRequired,
		StatusApproved, StatusRejected, StatusExecuting, StatusExecuted, StatusHeld:
		return true
	}
	return false
}

// Terminal reports whether an action in this status is immutable.
func (s ActionStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusRejected
}

// ImpactLevel grades the blast radius of an action or decision.
type ImpactLevel string

const (
	ImpactLow              ImpactLevel = "low"
	ImpactMedium           ImpactLevel = "medium"
	ImpactHigh             ImpactLevel = "high"
	ImpactCritical         ImpactLevel = "critical"
	ImpactTransformational ImpactLevel = "transformational"
)

// Valid reports whether the impact level is one of the known values.
func (l ImpactLevel) Valid() bool {
	switch l {
	case ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical, ImpactTransformational:
		return true
	}
	return false
}

// CriticalOrAbove reports whether this impact level demands expert scrutiny
// when confidence is low.
func (l ImpactLevel) CriticalOrAbove() bool {
	return l == ImpactCritical || l == ImpactTransformational
}

// ActionCandidate is a raw candidate supplied by the signal producer.
// The classifier validates ranges and turns it into an Action; semantic
// correctness of the scores is the producer's problem, not ours.
type ActionCandidate struct {
	ClientID       ClientID               `json:"client_id"`
	CampaignID     string                 `json:"campaign_id,omitempty"`
	ActionType     string                 `json:"action_type"` // open taxonomy: budget_optimization, churn_prevention, ...
	Confidence     float64                `json:"confidence"`  // 0.0 to 1.0
	RiskLevel      float64                `json:"risk_level"`  // 0.0 to 1.0
	Priority       int                    `json:"priority"`    // 1 to 10
	ExpectedImpact float64                `json:"expected_impact"` // signed percentage
	ImpactLevel    ImpactLevel            `json:"impact_level"`
	Reasoning      string                 `json:"reasoning"`
	DataEvidence   map[string]interface{} `json:"data_evidence,omitempty"`
}

// Action is a classified, gated operation in flight.
// Once Status is executed or rejected the action is immutable.
type Action struct {
	ID             ActionID               `json:"id"`
	ClientID       ClientID               `json:"client_id"`
	CampaignID     string                 `json:"campaign_id,omitempty"`
	ActionType     string                 `json:"action_type"`
	Confidence     float64                `json:"confidence"`
	RiskLevel      float64                `json:"risk_level"`
	Priority       int                    `json:"priority"`
	ExpectedImpact float64                `json:"expected_impact"`
	ImpactLevel    ImpactLevel            `json:"impact_level"`
	Reasoning      string                 `json:"reasoning"`
	DataEvidence   map[string]interface{} `json:"data_evidence,omitempty"`

	RequiresHumanApproval bool `json:"requires_human_approval"`
	RequiresExpert        bool `json:"requires_expert"`

	Status   ActionStatus `json:"status"`
	HeldFrom ActionStatus `json:"held_from,omitempty"` // status before hold, empty otherwise

	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// -----------------------------------------------------------------------------
// Expert review
// -----------------------------------------------------------------------------

// ExpertVerdict is the outcome of an expert review.
type ExpertVerdict string

const (
	VerdictApproved ExpertVerdict = "approved"
	VerdictModified ExpertVerdict = "modified"
	VerdictRejected ExpertVerdict = "rejected"
)

// Valid reports whether the verdict is one of the known values.
func (v ExpertVerdict) Valid() bool {
	switch v {
	case VerdictApproved, VerdictModified, VerdictRejected:
		return true
	}
	return false
}

// ActionPatch is a partial override an expert can apply with a "modified"
// verdict. Nil fields are left untouched. The patched action goes back
// through the same range validation as initial classification.
type ActionPatch struct {
	Confidence     *float64 `json:"confidence,omitempty"`
	RiskLevel      *float64 `json:"risk_level,omitempty"`
	Priority       *int     `json:"priority,omitempty"`
	ExpectedImpact *float64 `json:"expected_impact,omitempty"`
	Reasoning      *string  `json:"reasoning,omitempty"`
}

// ExpertDecision records an expert's review of an expert_required action.
// Applied exactly once per action.
type ExpertDecision struct {
	ActionID      ActionID      `json:"action_id"`
	ExpertID      string        `json:"expert_id"`
	Verdict       ExpertVerdict `json:"verdict"`
	Reasoning     string        `json:"reasoning"`
	Modifications *ActionPatch  `json:"modifications,omitempty"`
	DecidedAt     time.Time     `json:"decided_at"`
}

// -----------------------------------------------------------------------------
// Outcomes
// -----------------------------------------------------------------------------

// OutcomeRecord is the durable record of one action execution.
type OutcomeRecord struct {
	ActionID      ActionID  `json:"action_id"`
	ClientID      ClientID  `json:"client_id"`
	ExecutedAt    time.Time `json:"executed_at"`
	Success       bool      `json:"success"`
	ResultSummary string    `json:"result_summary"`
}

// -----------------------------------------------------------------------------
// Decisions - long-lived guided workflows
// -----------------------------------------------------------------------------

// GuidanceLevel is how much hand-holding a decision's workflow provides.
type GuidanceLevel string

const (
	GuidanceBasic       GuidanceLevel = "basic"
	GuidanceDetailed    GuidanceLevel = "detailed"
	GuidanceInteractive GuidanceLevel = "interactive"
	GuidanceExpertLed   GuidanceLevel = "expert_led"
	GuidanceHandHolding GuidanceLevel = "hand_holding"
)

// Valid reports whether the guidance level is one of the known values.
func (g GuidanceLevel) Valid() bool {
	switch g {
	case GuidanceBasic, GuidanceDetailed, GuidanceInteractive, GuidanceExpertLed, GuidanceHandHolding:
		return true
	}
	return false
}

// Stage is one phase of the decision workflow. Stages are ordered and
// monotonic: a decision only ever moves forward, one stage at a time.
type Stage string

const (
	StageAnalysis       Stage = "analysis"
	StageOptions        Stage = "options"
	StageEvaluation     Stage = "evaluation"
	StageDecision       Stage = "decision"
	StageImplementation Stage = "implementation"
	StageMonitoring     Stage = "monitoring"
)

// Stages returns the fixed stage order.
func Stages() []Stage {
	return []Stage{StageAnalysis, StageOptions, StageEvaluation, StageDecision, StageImplementation, StageMonitoring}
}

// Valid reports whether the stage is one of the known values.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Index returns the position of the stage in the fixed order, or -1.
func (s Stage) Index() int {
	for i, st := range Stages() {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the following stage. ok is false at the terminal stage.
func (s Stage) Next() (next Stage, ok bool) {
	order := Stages()
	i := s.Index()
	if i < 0 || i >= len(order)-1 {
		return s, false
	}
	return order[i+1], true
}

// Step is one unit of work inside a decision, tagged with the stage it
// belongs to. The step list is fixed when the decision is created.
type Step struct {
	ID           StepID     `json:"id"`
	Stage        Stage      `json:"stage"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Instructions []string   `json:"instructions,omitempty"`
	Questions    []string   `json:"questions,omitempty"`
	Checklist    []string   `json:"checklist,omitempty"`
	Completed    bool       `json:"is_completed"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Option is one ranked recommendation attached to a decision at the
// options/evaluation stage. Ranking is advisory only.
type Option struct {
	Name                string   `json:"option_name"`
	Description         string   `json:"description"`
	Pros                []string `json:"pros,omitempty"`
	Cons                []string `json:"cons,omitempty"`
	SuccessProbability  float64  `json:"success_probability"` // 0.0 to 1.0
	ConfidenceScore     float64  `json:"confidence_score"`    // 0.0 to 1.0
	ExpectedOutcome     string   `json:"expected_outcome"`
	ImplementationSteps []string `json:"implementation_steps,omitempty"`
	TimelineEstimate    string   `json:"timeline_estimate,omitempty"`
	CostEstimate        *float64 `json:"cost_estimate,omitempty"`
}

// Progress is derived from step completion, never set directly.
type Progress struct {
	CompletedSteps int     `json:"completed_steps"`
	TotalSteps     int     `json:"total_steps"`
	Percentage     float64 `json:"percentage"` // 0 to 100
}

// Decision is a long-lived, deliberative workflow walked through the fixed
// stage machine. Archived on reaching monitoring, never deleted.
type Decision struct {
	ID            DecisionID    `json:"id"`
	ClientID      ClientID      `json:"client_id"`
	Title         string        `json:"title"`
	DecisionType  string        `json:"decision_type"`
	ImpactLevel   ImpactLevel   `json:"impact_level"`
	GuidanceLevel GuidanceLevel `json:"guidance_level"`
	CurrentStage  Stage         `json:"current_stage"`
	RiskLevel     float64       `json:"risk_level"`
	BudgetImpact  float64       `json:"budget_impact,omitempty"`
	Timeline      string        `json:"timeline,omitempty"`

	Steps           []Step   `json:"steps"`
	Recommendations []Option `json:"recommendations,omitempty"`
	NextSteps       []string `json:"next_steps,omitempty"`
	Progress        Progress `json:"progress"`

	// Version is the optimistic concurrency counter; every persisted update
	// increments it.
	Version  int64 `json:"version"`
	Archived bool  `json:"archived"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecomputeProgress rederives Progress from the step list.
func (d *Decision) RecomputeProgress() {
	total := len(d.Steps)
	completed := 0
	for _, s := range d.Steps {
		if s.Completed {
			completed++
		}
	}
	d.Progress = Progress{CompletedSteps: completed, TotalSteps: total}
	if total > 0 {
		d.Progress.Percentage = float64(completed) / float64(total) * 100
	}
}

// StageComplete reports whether every step tagged with the given stage is
// completed. A stage with no steps counts as complete.
func (d *Decision) StageComplete(stage Stage) bool {
	for _, s := range d.Steps {
		if s.Stage == stage && !s.Completed {
			return false
		}
	}
	return true
}

// DecisionTrigger is the signal-producer payload that spawns a Decision
// once a signal crosses the critical-decision threshold.
type DecisionTrigger struct {
	ClientID     ClientID    `json:"client_id"`
	Title        string      `json:"title"`
	DecisionType string      `json:"decision_type"`
	ImpactLevel  ImpactLevel `json:"impact_level"`
	RiskLevel    float64     `json:"risk_level"`
	BudgetImpact float64     `json:"budget_impact,omitempty"`
	Timeline     string      `json:"timeline,omitempty"`
}
