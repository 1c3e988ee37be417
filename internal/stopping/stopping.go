// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stopping decides whether the research loop ends after a round.
// Evaluate is pure: no I/O, no model calls, no clock.
package stopping

import (
	"fmt"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Policy holds the tunable limits. Zero SourceCeiling or GapScoreThreshold
// disables that condition.
type Policy struct {
	MaxRounds         int
	SourceCeiling     int
	GapScoreThreshold float64
}

// PolicyFrom converts the configuration section.
func PolicyFrom(cfg types.StoppingConfig) Policy {
	return Policy{
		MaxRounds:         cfg.MaxRounds,
		SourceCeiling:     cfg.SourceCeiling,
		GapScoreThreshold: cfg.GapScoreThreshold,
	}
}

// Input is the state after a round's join barrier.
type Input struct {
	RoundNumber int

	// MaxRounds overrides Policy.MaxRounds when positive.
	MaxRounds int

	Current types.Round
	All     []types.Round

	// Reflection is nil on the final allowed round, where reflection is skipped.
	Reflection *types.Reflection

	CumulativeSources int
}

// Evaluate returns a decision listing every triggered condition in a fixed
// order: quality_sufficient, max_rounds, diminishing_returns,
// all_providers_failed, reflection_stop, coverage_ceiling, gap_score_threshold.
func Evaluate(in Input, p Policy) types.StoppingDecision {
	maxRounds := in.MaxRounds
	if maxRounds <= 0 {
		maxRounds = p.MaxRounds
	}

	var triggered []types.StopCondition
	var reasons []string
	add := func(c types.StopCondition, reason string) {
		triggered = append(triggered, c)
		reasons = append(reasons, reason)
	}

	r := in.Reflection
	if r != nil && r.EvidenceQuality == types.EvidenceHigh && len(r.NotCovered) == 0 {
		add(types.StopQualitySufficient, "evidence quality is high and every focus area is covered")
	}
	if maxRounds > 0 && in.RoundNumber >= maxRounds {
		add(types.StopMaxRounds, fmt.Sprintf("round %d reached the limit of %d", in.RoundNumber, maxRounds))
	}
	if in.Current.NewSourceCount == 0 {
		add(types.StopDiminishingReturns, fmt.Sprintf("round %d added no new sources", in.RoundNumber))
	}
	if in.Current.Status == types.RoundFailed {
		add(types.StopAllProvidersFailed, fmt.Sprintf("every provider failed in round %d", in.RoundNumber))
	}
	if r != nil && r.Decision != types.DecisionContinue {
		add(types.StopReflection, "gap analysis recommended stopping")
	}
	if p.SourceCeiling > 0 && in.CumulativeSources > p.SourceCeiling {
		add(types.StopCoverageCeiling, fmt.Sprintf("%d sources exceed the ceiling of %d", in.CumulativeSources, p.SourceCeiling))
	}
	if r != nil && p.GapScoreThreshold > 0 && r.GapScore > p.GapScoreThreshold {
		add(types.StopGapScore, fmt.Sprintf("gap score %.2f exceeds %.2f", r.GapScore, p.GapScoreThreshold))
	}

	if len(triggered) == 0 {
		return types.StoppingDecision{
			ShouldStop:          false,
			Reason:              "gaps remain; continuing",
			TriggeredConditions: []types.StopCondition{},
		}
	}
	return types.StoppingDecision{
		ShouldStop:          true,
		Reason:              strings.Join(reasons, "; "),
		TriggeredConditions: triggered,
	}
}
