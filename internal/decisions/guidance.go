package decisions

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/marketpilot/marketpilot/internal/core"
)

// GuidanceFor maps decision impact to the guidance level its workflow gets.
// Higher impact means more scaffolding: extra steps, fuller checklists, and
// framing questions an account manager can put straight in front of a client.
func GuidanceFor(impact core.ImpactLevel) core.GuidanceLevel {
	switch impact {
	case core.ImpactLow:
		return core.GuidanceBasic
	case core.ImpactMedium:
		return core.GuidanceDetailed
	case core.ImpactHigh:
		return core.GuidanceInteractive
	case core.ImpactCritical:
		return core.GuidanceExpertLed
	case core.ImpactTransformational:
		return core.GuidanceHandHolding
	}
	return core.GuidanceBasic
}

// stepTemplate is one step blueprint; the detailed fields only materialize
// at or above minDetail.
type stepTemplate struct {
	stage        core.Stage
	title        string
	description  string
	instructions []string
	questions    []string
	checklist    []string

	// minLevel gates the whole step: hand-holding workflows get steps that
	// basic ones skip entirely.
	minLevel core.GuidanceLevel
	// minDetail gates instructions/questions/checklist on steps all levels share.
	minDetail core.GuidanceLevel
}

var guidanceRank = map[core.GuidanceLevel]int{
	core.GuidanceBasic:       0,
	core.GuidanceDetailed:    1,
	core.GuidanceInteractive: 2,
	core.GuidanceExpertLed:   3,
	core.GuidanceHandHolding: 4,
}

func atLeast(level, floor core.GuidanceLevel) bool {
	return guidanceRank[level] >= guidanceRank[floor]
}

// templates is the fixed step blueprint in stage order. Every decision gets
// at least one step per stage so the workflow always has six phases of real
// work; richer guidance levels unlock additional steps.
var templates = []stepTemplate{
	{
		stage:       core.StageAnalysis,
		title:       "Review current performance",
		description: "Pull the relevant campaign and account data and establish the baseline this decision is judged against.",
		instructions: []string{
			"Export the last 90 days of performance for the affected campaigns",
			"Note any anomalies or seasonality that could skew the baseline",
		},
		questions: []string{"What changed recently that makes this decision necessary now?"},
		checklist: []string{"Baseline metrics captured", "Data gaps identified"},
		minDetail: core.GuidanceDetailed,
	},
	{
		stage:       core.StageAnalysis,
		title:       "Frame the decision with stakeholders",
		description: "Align on what a good outcome looks like before options are on the table.",
		questions: []string{
			"Who is accountable for this decision on the client side?",
			"What is the hard deadline, if any?",
		},
		checklist: []string{"Success criteria written down", "Stakeholders identified"},
		minLevel:  core.GuidanceInteractive,
		minDetail: core.GuidanceInteractive,
	},
	{
		stage:       core.StageOptions,
		title:       "Identify viable options",
		description: "List the realistic courses of action, including doing nothing.",
		instructions: []string{
			"Include the status-quo option with its projected trajectory",
			"Cap the list at options the team could actually staff",
		},
		checklist: []string{"At least two options listed", "Status quo included"},
		minDetail: core.GuidanceDetailed,
	},
	{
		stage:       core.StageEvaluation,
		title:       "Score options against criteria",
		description: "Weigh each option's expected return, cost, and risk against the success criteria from analysis.",
		questions: []string{
			"Which option fails worst if the assumptions are wrong?",
			"Is any option reversible cheaply if it underperforms?",
		},
		checklist: []string{"Every option scored", "Key assumptions noted per option"},
		minDetail: core.GuidanceDetailed,
	},
	{
		stage:       core.StageEvaluation,
		title:       "Walk through expert review",
		description: "Put the scored options in front of a channel expert before anything is committed.",
		instructions: []string{
			"Book a review session with the relevant channel specialist",
			"Capture the expert's objections verbatim, not paraphrased",
		},
		minLevel:  core.GuidanceExpertLed,
		minDetail: core.GuidanceExpertLed,
	},
	{
		stage:       core.StageDecision,
		title:       "Commit to an option",
		description: "Record which option was chosen, by whom, and why the alternatives lost.",
		checklist:   []string{"Choice and rationale recorded", "Rejected options noted"},
		minDetail:   core.GuidanceDetailed,
	},
	{
		stage:       core.StageImplementation,
		title:       "Execute the chosen option",
		description: "Carry out the committed changes and confirm they landed as specified.",
		instructions: []string{
			"Stage changes in the platform before publishing",
			"Verify the published state matches the decision record",
		},
		checklist: []string{"Changes live", "Rollback path confirmed"},
		minDetail: core.GuidanceDetailed,
	},
	{
		stage:       core.StageImplementation,
		title:       "Brief the client on the change",
		description: "Tell the client what changed, when effects should show, and what would trigger a rollback.",
		minLevel:    core.GuidanceHandHolding,
		minDetail:   core.GuidanceHandHolding,
	},
	{
		stage:       core.StageMonitoring,
		title:       "Track outcome against baseline",
		description: "Watch the metrics from analysis and compare against the projected outcome.",
		questions:   []string{"Is performance tracking the chosen option's projection?"},
		checklist:   []string{"Monitoring cadence set", "Alert thresholds in place"},
		minDetail:   core.GuidanceDetailed,
	},
}

// BuildSteps materializes the step list for a new decision: the blueprint
// filtered and detailed by guidance level, each step titled for this
// decision where it helps.
func BuildSteps(trigger core.DecisionTrigger, level core.GuidanceLevel) []core.Step {
	var steps []core.Step
	for _, t := range templates {
		if t.minLevel != "" && !atLeast(level, t.minLevel) {
			continue
		}
		s := core.Step{
			ID:          core.StepID(uuid.New().String()),
			Stage:       t.stage,
			Title:       t.title,
			Description: t.description,
		}
		if t.minDetail == "" || atLeast(level, t.minDetail) {
			s.Instructions = t.instructions
			s.Questions = t.questions
			s.Checklist = t.checklist
		}
		if t.stage == core.StageDecision && trigger.Title != "" {
			s.Description = fmt.Sprintf("%s Decision under review: %s.", s.Description, trigger.Title)
		}
		steps = append(steps, s)
	}
	return steps
}
