// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "fmt"

// Tier is the cost/effort level assigned to a query by the router.
type Tier int

const (
	// TierRecall answers from the conversation history alone.
	TierRecall Tier = 0
	// TierModelOnly answers from the model's own knowledge.
	TierModelOnly Tier = 1
	// TierHybrid runs a single round against one knowledge source.
	TierHybrid Tier = 2
	// TierDeep runs the multi-round research loop.
	TierDeep Tier = 3
)

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	return t >= TierRecall && t <= TierDeep
}

func (t Tier) String() string {
	switch t {
	case TierRecall:
		return "recall"
	case TierModelOnly:
		return "model_only"
	case TierHybrid:
		return "hybrid"
	case TierDeep:
		return "deep"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// RouterDecision is the immutable output of the query router.
type RouterDecision struct {
	// Tier selected for the journey.
	Tier Tier `json:"tier" yaml:"tier"`

	// Reasoning is the model's free-text justification.
	Reasoning string `json:"reasoning" yaml:"reasoning"`

	// Confidence is the model's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// ExplicitDeepResearch is set when the user asked for deep research.
	ExplicitDeepResearch bool `json:"explicitDeepResearch" yaml:"explicit_deep_research"`

	// RecallRequest is set when the user asks about something already discussed.
	RecallRequest bool `json:"recallRequest" yaml:"recall_request"`

	// Downgraded is set when low confidence lowered the tier.
	Downgraded bool `json:"downgraded,omitempty" yaml:"downgraded,omitempty"`

	// OriginalTier is the tier proposed before any downgrade.
	OriginalTier Tier `json:"originalTier,omitempty" yaml:"original_tier"`

	// Metrics of the routing call itself.
	Metrics CallMetrics `json:"metrics" yaml:"metrics"`
}
