// Package recommend produces and ranks the option lists attached to
// decisions. Ranking is advisory: it orders what the client sees, it never
// decides anything on its own.
package recommend

import (
	"fmt"
	"sort"

	"github.com/marketpilot/marketpilot/internal/core"
	"github.com/marketpilot/marketpilot/internal/logging"
)

// Evaluator scores and orders decision options.
type Evaluator struct {
	log *logging.Logger
}

// NewEvaluator creates an option evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{log: logging.ForComponent("recommend")}
}

// Score is the composite an option is ranked by: how likely it is to work,
// discounted by how sure we are of that estimate.
func Score(o core.Option) float64 {
	return o.SuccessProbability * o.ConfidenceScore
}

// Rank orders options best-first: descending composite score, then cheaper
// options first on ties, with options lacking a cost estimate after any
// priced ones. The input slice is not modified.
func (e *Evaluator) Rank(options []core.Option) []core.Option {
	ranked := make([]core.Option, len(options))
	copy(ranked, options)

	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := Score(ranked[i]), Score(ranked[j])
		if si != sj {
			return si > sj
		}
		ci, cj := ranked[i].CostEstimate, ranked[j].CostEstimate
		switch {
		case ci == nil && cj == nil:
			return false
		case ci == nil:
			return false
		case cj == nil:
			return true
		default:
			return *ci < *cj
		}
	})

	return ranked
}

// Generate proposes a baseline option set for a decision from its type.
// These are starting points for the options stage, not final answers; the
// account team edits and extends them before evaluation.
func (e *Evaluator) Generate(d *core.Decision) []core.Option {
	opts := optionTemplates(d)
	e.log.WithField("decision", d.ID).Debug("generated %d candidate options for %s", len(opts), d.DecisionType)
	return e.Rank(opts)
}

func optionTemplates(d *core.Decision) []core.Option {
	conservative := core.Option{
		Name:               "Incremental adjustment",
		Description:        "Apply the change gradually with checkpoints, keeping rollback cheap at every step.",
		Pros:               []string{"Low blast radius", "Reversible at each checkpoint"},
		Cons:               []string{"Slower to show results"},
		SuccessProbability: 0.7,
		ConfidenceScore:    0.8,
		ExpectedOutcome:    "Modest improvement with minimal downside exposure",
		ImplementationSteps: []string{
			"Roll out to a limited scope first",
			"Review at each checkpoint before widening",
		},
		TimelineEstimate: "4-6 weeks",
	}

	aggressive := core.Option{
		Name:               "Full commitment",
		Description:        "Make the complete change at once to capture the upside as fast as possible.",
		Pros:               []string{"Fastest path to the projected outcome"},
		Cons:               []string{"Hard to unwind", "Concentrated risk"},
		SuccessProbability: 0.55,
		ConfidenceScore:    0.6,
		ExpectedOutcome:    "Large improvement if the underlying read is right",
		ImplementationSteps: []string{
			"Prepare the rollback plan before publishing",
			"Publish the full change in one window",
		},
		TimelineEstimate: "1-2 weeks",
	}

	statusQuo := core.Option{
		Name:               "Hold current course",
		Description:        "Change nothing and keep monitoring; revisit if the trend worsens.",
		Pros:               []string{"Zero execution risk"},
		Cons:               []string{"Forfeits the projected upside", "Trend may continue"},
		SuccessProbability: 0.4,
		ConfidenceScore:    0.9,
		ExpectedOutcome:    "Current trajectory continues",
		TimelineEstimate:   "ongoing",
	}

	// Riskier decisions bias the generated set toward caution.
	if d.RiskLevel >= 0.6 {
		aggressive.SuccessProbability = 0.45
		conservative.Pros = append(conservative.Pros,
			fmt.Sprintf("Suits the elevated risk profile (%.2f)", d.RiskLevel))
	}

	return []core.Option{conservative, aggressive, statusQuo}
}
