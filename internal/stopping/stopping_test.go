// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stopping

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

var defaultPolicy = Policy{MaxRounds: 4, SourceCeiling: 50, GapScoreThreshold: 0.85}

func round(n, newSources int, status types.RoundStatus) types.Round {
	return types.Round{Number: n, NewSourceCount: newSources, Status: status}
}

func reflection(q types.EvidenceQuality, d types.ReflectionDecision, gap float64, notCovered ...string) *types.Reflection {
	return &types.Reflection{EvidenceQuality: q, Decision: d, GapScore: gap, NotCovered: notCovered}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		stop bool
		want []types.StopCondition
	}{
		{
			name: "gaps remain",
			in: Input{
				RoundNumber: 1, Current: round(1, 12, types.RoundComplete), CumulativeSources: 12,
				Reflection: reflection(types.EvidenceModerate, types.DecisionContinue, 0.4, "dosage"),
			},
			stop: false,
			want: []types.StopCondition{},
		},
		{
			name: "high quality and fully covered",
			in: Input{
				RoundNumber: 1, Current: round(1, 12, types.RoundComplete), CumulativeSources: 12,
				Reflection: reflection(types.EvidenceHigh, types.DecisionContinue, 0.5),
			},
			stop: true,
			want: []types.StopCondition{types.StopQualitySufficient},
		},
		{
			name: "high quality with gaps continues",
			in: Input{
				RoundNumber: 1, Current: round(1, 12, types.RoundComplete), CumulativeSources: 12,
				Reflection: reflection(types.EvidenceHigh, types.DecisionContinue, 0.5, "safety"),
			},
			stop: false,
			want: []types.StopCondition{},
		},
		{
			name: "final round without reflection",
			in:   Input{RoundNumber: 4, Current: round(4, 3, types.RoundComplete), CumulativeSources: 30},
			stop: true,
			want: []types.StopCondition{types.StopMaxRounds},
		},
		{
			name: "duplicates only",
			in: Input{
				RoundNumber: 2, Current: round(2, 0, types.RoundComplete), CumulativeSources: 20,
				Reflection: reflection(types.EvidenceLimited, types.DecisionContinue, 0.3, "a"),
			},
			stop: true,
			want: []types.StopCondition{types.StopDiminishingReturns},
		},
		{
			name: "all providers failed",
			in: Input{
				RoundNumber: 2, Current: round(2, 0, types.RoundFailed), CumulativeSources: 20,
				Reflection: reflection(types.EvidenceLimited, types.DecisionContinue, 0.3, "a"),
			},
			stop: true,
			want: []types.StopCondition{types.StopDiminishingReturns, types.StopAllProvidersFailed},
		},
		{
			name: "reflection recommends stop",
			in: Input{
				RoundNumber: 1, Current: round(1, 5, types.RoundPartial), CumulativeSources: 5,
				Reflection: reflection(types.EvidenceLimited, types.DecisionStop, 0.2, "a"),
			},
			stop: true,
			want: []types.StopCondition{types.StopReflection},
		},
		{
			name: "gap score threshold",
			in: Input{
				RoundNumber: 1, Current: round(1, 5, types.RoundComplete), CumulativeSources: 5,
				Reflection: reflection(types.EvidenceModerate, types.DecisionContinue, 0.9, "a"),
			},
			stop: true,
			want: []types.StopCondition{types.StopGapScore},
		},
		{
			name: "gap score at the threshold continues",
			in: Input{
				RoundNumber: 1, Current: round(1, 5, types.RoundComplete), CumulativeSources: 5,
				Reflection: reflection(types.EvidenceModerate, types.DecisionContinue, 0.85, "a"),
			},
			stop: false,
			want: []types.StopCondition{},
		},
		{
			name: "every condition reported in order",
			in: Input{
				RoundNumber: 4, Current: round(4, 0, types.RoundFailed), CumulativeSources: 80,
				Reflection: reflection(types.EvidenceHigh, types.DecisionStop, 1.0),
			},
			stop: true,
			want: []types.StopCondition{
				types.StopQualitySufficient, types.StopMaxRounds, types.StopDiminishingReturns,
				types.StopAllProvidersFailed, types.StopReflection, types.StopCoverageCeiling, types.StopGapScore,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.in, defaultPolicy)
			assert.Equal(t, tt.stop, got.ShouldStop)
			assert.Equal(t, tt.want, got.TriggeredConditions)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

// Scenario: 60 sources by round 2 exceed the ceiling of 50 even though the
// reflection wants another round.
func TestEvaluate_CoverageCeilingOverridesReflection(t *testing.T) {
	got := Evaluate(Input{
		RoundNumber:       2,
		Current:           round(2, 25, types.RoundComplete),
		CumulativeSources: 60,
		Reflection:        reflection(types.EvidenceModerate, types.DecisionContinue, 0.5, "long-term safety"),
	}, defaultPolicy)

	assert.True(t, got.ShouldStop)
	assert.True(t, got.Triggered(types.StopCoverageCeiling))
	assert.Contains(t, got.Reason, "60 sources")
}

func TestEvaluate_CeilingIsExclusive(t *testing.T) {
	got := Evaluate(Input{
		RoundNumber: 1, Current: round(1, 50, types.RoundComplete), CumulativeSources: 50,
		Reflection: reflection(types.EvidenceModerate, types.DecisionContinue, 0.5, "a"),
	}, defaultPolicy)
	assert.False(t, got.ShouldStop)
}

func TestEvaluate_MaxRoundsAlwaysStops(t *testing.T) {
	reflections := []*types.Reflection{
		nil,
		reflection(types.EvidenceInsufficient, types.DecisionContinue, 0, "a", "b"),
		reflection(types.EvidenceHigh, types.DecisionContinue, 0.1, "a"),
	}
	for _, r := range reflections {
		for n := 3; n <= 5; n++ {
			got := Evaluate(Input{
				RoundNumber: n, MaxRounds: 3, Current: round(n, 10, types.RoundComplete),
				CumulativeSources: 10, Reflection: r,
			}, defaultPolicy)
			assert.True(t, got.ShouldStop, "round %d", n)
			assert.True(t, got.Triggered(types.StopMaxRounds), "round %d", n)
		}
	}
}

func TestEvaluate_DisabledThresholds(t *testing.T) {
	got := Evaluate(Input{
		RoundNumber: 1, Current: round(1, 5, types.RoundComplete), CumulativeSources: 500,
		Reflection: reflection(types.EvidenceModerate, types.DecisionContinue, 1.0, "a"),
	}, Policy{MaxRounds: 4})
	assert.False(t, got.ShouldStop)
}

func TestPolicyFrom(t *testing.T) {
	p := PolicyFrom(types.DefaultEngineConfig().Stopping)
	assert.Equal(t, defaultPolicy, p)
}
