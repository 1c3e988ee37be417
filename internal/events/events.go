// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package events defines the closed set of events a journey emits and the
// envelope that carries them over a transport. The engine never depends on
// a transport; servers and the CLI consume Envelopes from a channel.
package events

import (
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Type is the discriminator carried on the wire.
type Type string

const (
	TypeRouting                 Type = "routing"
	TypeTierSelected            Type = "tier_selected"
	TypePlanningStarted         Type = "planning_started"
	TypePlanningComplete        Type = "planning_complete"
	TypeRoundStarted            Type = "round_started"
	TypeAPIStarted              Type = "api_started"
	TypeAPICompleted            Type = "api_completed"
	TypeRoundComplete           Type = "round_complete"
	TypeReflectionStarted       Type = "reflection_started"
	TypeReflectionComplete      Type = "reflection_complete"
	TypeStoppingEvaluated       Type = "stopping_evaluated"
	TypeSourceSelectionStarted  Type = "source_selection_started"
	TypeSourceSelectionComplete Type = "source_selection_complete"
	TypeSynthesisPreparation    Type = "synthesis_preparation"
	TypeSynthesisStarted        Type = "synthesis_started"
	TypeToken                   Type = "token"
	TypeVerificationComplete    Type = "verification_complete"
	TypeComplete                Type = "complete"
	TypeError                   Type = "error"
)

// Event is implemented only by the structs in this package.
type Event interface {
	Type() Type
	isEvent()
}

// Terminal reports whether e ends a journey's stream.
func Terminal(e Event) bool {
	switch e.(type) {
	case Complete, Error:
		return true
	}
	return false
}

// Routing is emitted when classification begins.
type Routing struct {
	Query string `json:"query"`
}

// TierSelected carries the router's decision.
type TierSelected struct {
	Tier                 types.Tier `json:"tier"`
	TierName             string     `json:"tierName"`
	Reasoning            string     `json:"reasoning"`
	Confidence           float64    `json:"confidence"`
	Downgraded           bool       `json:"downgraded,omitempty"`
	ExplicitDeepResearch bool       `json:"explicitDeepResearch,omitempty"`
	RecallRequest        bool       `json:"recallRequest,omitempty"`
}

type PlanningStarted struct{}

type PlanningComplete struct {
	Plan types.ResearchPlan `json:"plan"`
}

// RoundStarted opens round Round. EstimatedSources is the sum of the
// per-provider result budgets.
type RoundStarted struct {
	Round            int                `json:"round"`
	Purpose          types.RoundPurpose `json:"purpose"`
	Query            string             `json:"query"`
	Providers        []string           `json:"providers"`
	EstimatedSources int                `json:"estimatedSources"`
}

type APIStarted struct {
	Round    int    `json:"round"`
	Provider string `json:"provider"`
	Query    string `json:"query"`
}

type APICompleted struct {
	Round      int    `json:"round"`
	Provider   string `json:"provider"`
	Count      int    `json:"count"`
	Found      int    `json:"found"`
	DurationMS int64  `json:"duration"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// RoundComplete closes a round. SourceCount is the number of new sources
// the round contributed.
type RoundComplete struct {
	Round             int               `json:"round"`
	SourceCount       int               `json:"sourceCount"`
	DuplicateCount    int               `json:"duplicateCount"`
	CumulativeSources int               `json:"cumulativeSources"`
	DurationMS        int64             `json:"duration"`
	Status            types.RoundStatus `json:"status"`
}

type ReflectionStarted struct {
	Round int `json:"round"`
}

type ReflectionComplete struct {
	Reflection types.Reflection `json:"reflection"`
}

type StoppingEvaluated struct {
	Round    int                    `json:"round"`
	Decision types.StoppingDecision `json:"decision"`
}

type SourceSelectionStarted struct {
	TotalSources int `json:"totalSources"`
}

type SourceSelectionComplete struct {
	TotalEvaluated int                     `json:"totalEvaluated"`
	Selected       int                     `json:"selected"`
	Exclusions     []types.ExclusionReason `json:"exclusions"`
}

type SynthesisPreparation struct {
	SourceCount int `json:"sourceCount"`
}

type SynthesisStarted struct {
	TotalRounds  int `json:"totalRounds"`
	TotalSources int `json:"totalSources"`
}

// Token is one streamed fragment of the answer.
type Token struct {
	Content string `json:"content"`
}

type VerificationComplete struct {
	Verification types.CitationVerification `json:"verification"`
}

// SourceRef is the client-facing view of a cited source; Index matches the
// [n] markers in the answer.
type SourceRef struct {
	Index   int              `json:"index"`
	ID      string           `json:"id"`
	Title   string           `json:"title"`
	Authors []string         `json:"authors,omitempty"`
	Venue   string           `json:"venue,omitempty"`
	Year    int              `json:"year,omitempty"`
	URL     string           `json:"url,omitempty"`
	Type    types.SourceType `json:"type"`
	Score   float64          `json:"score"`
}

// Metadata describes how the answer was produced.
type Metadata struct {
	RequestID    string                      `json:"requestId"`
	Model        string                      `json:"model,omitempty"`
	FinishReason string                      `json:"finishReason,omitempty"`
	InputTokens  int                         `json:"inputTokens"`
	OutputTokens int                         `json:"outputTokens"`
	CostUSD      float64                     `json:"costUsd"`
	LatencyMS    int64                       `json:"latency"`
	Verification *types.CitationVerification `json:"verification,omitempty"`
	Summary      *types.JourneySummary       `json:"summary,omitempty"`
}

// ResearchSummary labels the answer with the coverage it actually had.
type ResearchSummary struct {
	Rounds          int                   `json:"rounds"`
	TotalSources    int                   `json:"totalSources"`
	SelectedSources int                   `json:"selectedSources"`
	EvidenceQuality types.EvidenceQuality `json:"evidenceQuality,omitempty"`
	StopReason      string                `json:"stopReason,omitempty"`
	Degradations    []string              `json:"degradations,omitempty"`
}

// Complete is the successful terminal event.
type Complete struct {
	Content         string           `json:"content"`
	Sources         []SourceRef      `json:"sources"`
	Metadata        Metadata         `json:"metadata"`
	ResearchSummary *ResearchSummary `json:"researchSummary,omitempty"`
	ProcessingTier  types.Tier       `json:"processingTier"`
	ThinkingSummary string           `json:"thinkingSummary,omitempty"`
}

// Error is the failing terminal event. Message is always safe to display.
// A partial answer carries the sources its [n] markers refer to and, for
// researched tiers, the coverage it actually had.
type Error struct {
	Message         string           `json:"message"`
	Stage           types.Stage      `json:"stage,omitempty"`
	Partial         bool             `json:"partial,omitempty"`
	PartialContent  string           `json:"partialContent,omitempty"`
	Sources         []SourceRef      `json:"sources,omitempty"`
	ResearchSummary *ResearchSummary `json:"researchSummary,omitempty"`
}

func (Routing) Type() Type                 { return TypeRouting }
func (TierSelected) Type() Type            { return TypeTierSelected }
func (PlanningStarted) Type() Type         { return TypePlanningStarted }
func (PlanningComplete) Type() Type        { return TypePlanningComplete }
func (RoundStarted) Type() Type            { return TypeRoundStarted }
func (APIStarted) Type() Type              { return TypeAPIStarted }
func (APICompleted) Type() Type            { return TypeAPICompleted }
func (RoundComplete) Type() Type           { return TypeRoundComplete }
func (ReflectionStarted) Type() Type       { return TypeReflectionStarted }
func (ReflectionComplete) Type() Type      { return TypeReflectionComplete }
func (StoppingEvaluated) Type() Type       { return TypeStoppingEvaluated }
func (SourceSelectionStarted) Type() Type  { return TypeSourceSelectionStarted }
func (SourceSelectionComplete) Type() Type { return TypeSourceSelectionComplete }
func (SynthesisPreparation) Type() Type    { return TypeSynthesisPreparation }
func (SynthesisStarted) Type() Type        { return TypeSynthesisStarted }
func (Token) Type() Type                   { return TypeToken }
func (VerificationComplete) Type() Type    { return TypeVerificationComplete }
func (Complete) Type() Type                { return TypeComplete }
func (Error) Type() Type                   { return TypeError }

func (Routing) isEvent()                 {}
func (TierSelected) isEvent()            {}
func (PlanningStarted) isEvent()         {}
func (PlanningComplete) isEvent()        {}
func (RoundStarted) isEvent()            {}
func (APIStarted) isEvent()              {}
func (APICompleted) isEvent()            {}
func (RoundComplete) isEvent()           {}
func (ReflectionStarted) isEvent()       {}
func (ReflectionComplete) isEvent()      {}
func (StoppingEvaluated) isEvent()       {}
func (SourceSelectionStarted) isEvent()  {}
func (SourceSelectionComplete) isEvent() {}
func (SynthesisPreparation) isEvent()    {}
func (SynthesisStarted) isEvent()        {}
func (Token) isEvent()                   {}
func (VerificationComplete) isEvent()    {}
func (Complete) isEvent()                {}
func (Error) isEvent()                   {}
