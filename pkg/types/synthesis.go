// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Criterion names one dimension of the source ranking.
type Criterion string

const (
	CriterionRelevance Criterion = "relevance"
	CriterionRecency   Criterion = "recency"
	CriterionVenue     Criterion = "venue_quality"
	CriterionCitations Criterion = "citations"
)

// RankingWeights holds the per-criterion weights of the weighted sum.
type RankingWeights struct {
	Relevance float64 `json:"relevance" yaml:"relevance" mapstructure:"relevance"`
	Recency   float64 `json:"recency" yaml:"recency" mapstructure:"recency"`
	Venue     float64 `json:"venue_quality" yaml:"venue_quality" mapstructure:"venue_quality"`
	Citations float64 `json:"citations" yaml:"citations" mapstructure:"citations"`
}

// Total returns the sum of all weights.
func (w RankingWeights) Total() float64 {
	return w.Relevance + w.Recency + w.Venue + w.Citations
}

// DefaultRankingWeights favours relevance, then venue quality.
func DefaultRankingWeights() RankingWeights {
	return RankingWeights{Relevance: 0.4, Recency: 0.2, Venue: 0.25, Citations: 0.15}
}

// ExclusionReason groups sources left out of the final selection.
type ExclusionReason struct {
	Reason string `json:"reason" yaml:"reason"`
	Count  int    `json:"count" yaml:"count"`
}

// RankedSource is a selected source with its explainable score.
type RankedSource struct {
	Source    SourceItem            `json:"source" yaml:"source"`
	Score     float64               `json:"score" yaml:"score"`
	Breakdown map[Criterion]float64 `json:"breakdown" yaml:"breakdown"`
}

// SourceRanking is computed once after the round loop terminates.
type SourceRanking struct {
	Weights        RankingWeights    `json:"weights" yaml:"weights"`
	TotalEvaluated int               `json:"totalEvaluated" yaml:"total_evaluated"`
	Selected       int               `json:"selected" yaml:"selected"`
	Exclusions     []ExclusionReason `json:"exclusions" yaml:"exclusions"`
	TopSources     []RankedSource    `json:"topSources" yaml:"top_sources"`
}

// Sources returns the selected source items in rank order.
func (r SourceRanking) Sources() []SourceItem {
	out := make([]SourceItem, len(r.TopSources))
	for i, rs := range r.TopSources {
		out[i] = rs.Source
	}
	return out
}

// Finish reasons reported by the synthesis streamer.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishCancelled = "cancelled"
	FinishTimeout   = "timeout"
	FinishError     = "error"
)

// ResponseSynthesis accumulates the streamed answer and its usage.
type ResponseSynthesis struct {
	Model           string        `json:"model" yaml:"model"`
	Temperature     float64       `json:"temperature" yaml:"temperature"`
	SourcesProvided int           `json:"sourcesProvided" yaml:"sources_provided"`
	Streaming       bool          `json:"streaming" yaml:"streaming"`
	InputTokens     int           `json:"inputTokens" yaml:"input_tokens"`
	OutputTokens    int           `json:"outputTokens" yaml:"output_tokens"`
	CostUSD         float64       `json:"costUsd" yaml:"cost_usd"`
	Latency         time.Duration `json:"latency" yaml:"latency"`
	Text            string        `json:"text" yaml:"text"`
	FinishReason    string        `json:"finishReason" yaml:"finish_reason"`

	// Partial is set when the stream ended early (cancel, timeout, provider error).
	Partial bool `json:"partial" yaml:"partial"`

	// TokensEmitted counts the chunks forwarded to the caller.
	TokensEmitted int `json:"tokensEmitted" yaml:"tokens_emitted"`
}

// Accuracy is the verdict for one cited sentence.
type Accuracy string

const (
	AccuracyAccurate   Accuracy = "accurate"
	AccuracyNuanceLost Accuracy = "nuance_lost"
	AccuracyInaccurate Accuracy = "inaccurate"
)

// CitationCheck is the verification of one (sentence, cited source) pair.
type CitationCheck struct {
	Sentence    string   `json:"sentence" yaml:"sentence"`
	SourceIndex int      `json:"sourceIndex" yaml:"source_index"`
	SourceID    string   `json:"sourceId,omitempty" yaml:"source_id,omitempty"`
	Similarity  float64  `json:"similarity" yaml:"similarity"`
	Accuracy    Accuracy `json:"accuracy" yaml:"accuracy"`
}

// CitationVerification is computed once, after synthesis is final.
type CitationVerification struct {
	// Available is false when verification could not run.
	Available bool            `json:"available" yaml:"available"`
	Checks    []CitationCheck `json:"checks" yaml:"checks"`
	Score     float64         `json:"score" yaml:"score"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`
}
