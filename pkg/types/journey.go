// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// JourneyStatus is the terminal state of a request.
type JourneyStatus string

const (
	JourneyCompleted JourneyStatus = "completed"
	JourneyPartial   JourneyStatus = "partial"
	JourneyFailed    JourneyStatus = "failed"
	JourneyCancelled JourneyStatus = "cancelled"
	JourneyTimedOut  JourneyStatus = "timed_out"
)

// Journey aggregates every artefact produced while answering one request.
// It is owned by the request that created it and handed to the persistence
// hook only after the terminal event.
type Journey struct {
	RequestID string `json:"requestId" yaml:"request_id"`
	Query     Query  `json:"query" yaml:"query"`

	Routing      *RouterDecision       `json:"routing,omitempty" yaml:"routing,omitempty"`
	Plan         *ResearchPlan         `json:"plan,omitempty" yaml:"plan,omitempty"`
	Rounds       []Round               `json:"rounds" yaml:"rounds"`
	Reflections  []Reflection          `json:"reflections" yaml:"reflections"`
	Stops        []StoppingDecision    `json:"stoppingDecisions" yaml:"stopping_decisions"`
	Sources      []SourceItem          `json:"sources" yaml:"sources"`
	Ranking      *SourceRanking        `json:"ranking,omitempty" yaml:"ranking,omitempty"`
	Synthesis    *ResponseSynthesis    `json:"synthesis,omitempty" yaml:"synthesis,omitempty"`
	Verification *CitationVerification `json:"verification,omitempty" yaml:"verification,omitempty"`

	// Degradations records non-fatal stage failures, e.g. "planning: default plan".
	Degradations []string `json:"degradations,omitempty" yaml:"degradations,omitempty"`

	// StageDurations maps a stage name to its wall-clock time.
	StageDurations map[string]time.Duration `json:"stageDurations" yaml:"stage_durations"`

	Status    JourneyStatus `json:"status" yaml:"status"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt time.Time     `json:"startedAt" yaml:"started_at"`
	EndedAt   time.Time     `json:"endedAt" yaml:"ended_at"`
}

// Tier returns the routed tier, or -1 when routing never completed.
func (j *Journey) Tier() Tier {
	if j.Routing == nil {
		return -1
	}
	return j.Routing.Tier
}

// Bottleneck is a detected slow or failing part of the journey.
type Bottleneck struct {
	Stage  string `json:"stage" yaml:"stage"`
	Detail string `json:"detail" yaml:"detail"`
}

// JourneySummary is a derived view over a whole journey; never stored on its own.
type JourneySummary struct {
	RequestID       string        `json:"requestId" yaml:"request_id"`
	Tier            Tier          `json:"tier" yaml:"tier"`
	Status          JourneyStatus `json:"status" yaml:"status"`
	TotalDuration   time.Duration `json:"totalDuration" yaml:"total_duration"`
	TotalCostUSD    float64       `json:"totalCostUsd" yaml:"total_cost_usd"`
	TotalTokens     int           `json:"totalTokens" yaml:"total_tokens"`
	Rounds          int           `json:"rounds" yaml:"rounds"`
	APICalls        int           `json:"apiCalls" yaml:"api_calls"`
	FailedAPICalls  int           `json:"failedApiCalls" yaml:"failed_api_calls"`
	Sources         int           `json:"sources" yaml:"sources"`
	SelectedSources int           `json:"selectedSources" yaml:"selected_sources"`

	// FinalEvidenceQuality is the last reflection's rating, if any.
	FinalEvidenceQuality EvidenceQuality `json:"finalEvidenceQuality,omitempty" yaml:"final_evidence_quality,omitempty"`

	// CitationScore is the verifier's aggregate score; negative when unavailable.
	CitationScore float64 `json:"citationScore" yaml:"citation_score"`

	Bottlenecks     []Bottleneck `json:"bottlenecks,omitempty" yaml:"bottlenecks,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	Degradations    []string     `json:"degradations,omitempty" yaml:"degradations,omitempty"`
}
