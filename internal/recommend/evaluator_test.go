package recommend

import (
	"testing"

	"github.com/marketpilot/marketpilot/internal/core"
)

func opt(name string, prob, conf float64, cost *float64) core.Option {
	return core.Option{
		Name:               name,
		SuccessProbability: prob,
		ConfidenceScore:    conf,
		CostEstimate:       cost,
	}
}

func f(v float64) *float64 { return &v }

func names(opts []core.Option) []string {
	var out []string
	for _, o := range opts {
		out = append(out, o.Name)
	}
	return out
}

func TestRankOrdering(t *testing.T) {
	e := NewEvaluator()

	tests := []struct {
		name  string
		input []core.Option
		want  []string
	}{
		{
			name: "descending composite score",
			input: []core.Option{
				opt("weak", 0.5, 0.5, nil),
				opt("strong", 0.9, 0.9, nil),
				opt("middle", 0.7, 0.7, nil),
			},
			want: []string{"strong", "middle", "weak"},
		},
		{
			name: "ties broken by ascending cost",
			input: []core.Option{
				opt("pricey", 0.8, 0.5, f(5000)),
				opt("cheap", 0.5, 0.8, f(1000)),
			},
			want: []string{"cheap", "pricey"},
		},
		{
			name: "missing cost sorts last on ties",
			input: []core.Option{
				opt("unpriced", 0.8, 0.5, nil),
				opt("priced", 0.5, 0.8, f(9000)),
			},
			want: []string{"priced", "unpriced"},
		},
		{
			name: "score beats cost",
			input: []core.Option{
				opt("cheap-weak", 0.4, 0.4, f(100)),
				opt("dear-strong", 0.9, 0.9, f(99999)),
			},
			want: []string{"dear-strong", "cheap-weak"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := names(e.Rank(tt.input))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	e := NewEvaluator()

	input := []core.Option{
		opt("b", 0.1, 0.1, nil),
		opt("a", 0.9, 0.9, nil),
	}
	e.Rank(input)

	if input[0].Name != "b" {
		t.Error("Rank reordered the caller's slice")
	}
}

func TestGenerateRanked(t *testing.T) {
	e := NewEvaluator()

	d := &core.Decision{
		ID:           "d-1",
		DecisionType: "budget_reallocation",
		RiskLevel:    0.3,
		CurrentStage: core.StageOptions,
	}

	opts := e.Generate(d)
	if len(opts) < 2 {
		t.Fatalf("generated %d options, want at least 2", len(opts))
	}
	for i := 1; i < len(opts); i++ {
		if Score(opts[i]) > Score(opts[i-1]) {
			t.Errorf("options not ranked: %s (%.3f) after %s (%.3f)",
				opts[i].Name, Score(opts[i]), opts[i-1].Name, Score(opts[i-1]))
		}
	}
}
