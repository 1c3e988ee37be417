// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// ResearchPlan is the strategy proposed before round 1 of a deep journey.
type ResearchPlan struct {
	// EstimatedRounds is the planner's guess at the rounds needed (>= 1).
	EstimatedRounds int `json:"estimatedRounds" yaml:"estimated_rounds"`

	// Strategy is a short label such as "systematic" or "default".
	Strategy string `json:"strategy" yaml:"strategy"`

	// FocusAreas lists the sub-topics the evidence must cover, in priority order.
	FocusAreas []string `json:"focusAreas" yaml:"focus_areas"`

	// Reasoning explains the plan.
	Reasoning string `json:"reasoning" yaml:"reasoning"`

	// Degraded is set when planning failed and the default plan was used.
	Degraded bool `json:"degraded,omitempty" yaml:"degraded,omitempty"`

	Metrics CallMetrics `json:"metrics" yaml:"metrics"`
}

// DefaultPlan is the plan used when the planner call fails.
func DefaultPlan() ResearchPlan {
	return ResearchPlan{
		EstimatedRounds: 2,
		Strategy:        "default",
		FocusAreas:      []string{},
		Reasoning:       "planning unavailable; using default plan",
		Degraded:        true,
	}
}

// RoundPurpose distinguishes the first round from gap-filling rounds.
type RoundPurpose string

const (
	PurposeInitial RoundPurpose = "initial"
	PurposeGapFill RoundPurpose = "gap_fill"
)

// RoundStatus summarizes how the providers of a round fared.
type RoundStatus string

const (
	RoundComplete RoundStatus = "complete"
	RoundPartial  RoundStatus = "partial"
	RoundFailed   RoundStatus = "failed"
)

// CallStatus is the outcome of a single provider call.
type CallStatus string

const (
	CallSuccess CallStatus = "success"
	CallFailure CallStatus = "failure"
)

// APICall records one provider invocation within a round.
type APICall struct {
	Provider   string            `json:"provider" yaml:"provider"`
	Query      string            `json:"query" yaml:"query"`
	Filters    map[string]string `json:"filters,omitempty" yaml:"filters,omitempty"`
	MaxResults int               `json:"maxResults" yaml:"max_results"`

	// Found is the provider-reported total hit count.
	Found int `json:"found" yaml:"found"`

	// Retrieved is the number of records actually fetched.
	Retrieved int `json:"retrieved" yaml:"retrieved"`

	Status    CallStatus    `json:"status" yaml:"status"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Latency   time.Duration `json:"latency" yaml:"latency"`
	StartedAt time.Time     `json:"startedAt" yaml:"started_at"`
	EndedAt   time.Time     `json:"endedAt" yaml:"ended_at"`

	Results []SourceItem `json:"results,omitempty" yaml:"results,omitempty"`
}

// Succeeded reports whether the call returned without error.
func (c APICall) Succeeded() bool {
	return c.Status == CallSuccess
}

// Round is one iteration of concurrent provider calls.
type Round struct {
	// Number is 1-based and strictly increasing within a journey.
	Number int `json:"round" yaml:"round"`

	Purpose RoundPurpose `json:"purpose" yaml:"purpose"`

	// Query is the query variant sent to the providers this round.
	Query string `json:"query" yaml:"query"`

	Calls []APICall `json:"calls" yaml:"calls"`

	// Sources holds the records this round added to the collection.
	Sources []SourceItem `json:"sources,omitempty" yaml:"sources,omitempty"`

	// NewSourceCount is the number of sources not seen in earlier rounds.
	NewSourceCount int `json:"newSourceCount" yaml:"new_source_count"`

	// DuplicateCount is the number of returned records that matched a known key.
	DuplicateCount int `json:"duplicateCount" yaml:"duplicate_count"`

	// CumulativeSources is the collection size after this round merged.
	CumulativeSources int `json:"cumulativeSources" yaml:"cumulative_sources"`

	Duration time.Duration `json:"duration" yaml:"duration"`
	Status   RoundStatus   `json:"status" yaml:"status"`
}

// SucceededCalls counts the provider calls that returned without error.
func (r Round) SucceededCalls() int {
	n := 0
	for _, c := range r.Calls {
		if c.Succeeded() {
			n++
		}
	}
	return n
}

// SourceType classifies the knowledge source a record came from.
type SourceType string

const (
	SourceArticle  SourceType = "article"
	SourcePreprint SourceType = "preprint"
	SourceTrial    SourceType = "trial"
	SourceWeb      SourceType = "web"
)

// QualityRating is the computed evidence quality of a single source.
type QualityRating string

const (
	QualityUnrated  QualityRating = "unrated"
	QualityLow      QualityRating = "low"
	QualityModerate QualityRating = "moderate"
	QualityHigh     QualityRating = "high"
)

// Rank orders ratings from unrated (0) to high (3).
func (q QualityRating) Rank() int {
	switch q {
	case QualityLow:
		return 1
	case QualityModerate:
		return 2
	case QualityHigh:
		return 3
	default:
		return 0
	}
}

// SourceItem is a single piece of retrieved evidence.
type SourceItem struct {
	// ID is unique within the accumulated collection.
	ID string `json:"id" yaml:"id"`

	// Key is the stable dedup key (doi:, pmid:, nct:, arxiv:, url:, title:).
	Key string `json:"key" yaml:"key"`

	Title   string   `json:"title" yaml:"title"`
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Venue is the journal, registry, or site name.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`

	Year          int `json:"year,omitempty" yaml:"year,omitempty"`
	CitationCount int `json:"citationCount" yaml:"citation_count"`

	// ImpactMetric is a venue-level signal in [0,1] when the provider supplies one.
	ImpactMetric float64 `json:"impactMetric" yaml:"impact_metric"`

	// Relevance is the provider-assigned relevance score in [0,1].
	Relevance float64 `json:"relevance" yaml:"relevance"`

	Quality QualityRating `json:"quality" yaml:"quality"`
	URL     string        `json:"url,omitempty" yaml:"url,omitempty"`
	Snippet string        `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	Type    SourceType    `json:"type" yaml:"type"`

	// DOI, PMID, NCTID and ArxivID are the identifiers used for dedup.
	DOI     string `json:"doi,omitempty" yaml:"doi,omitempty"`
	PMID    string `json:"pmid,omitempty" yaml:"pmid,omitempty"`
	NCTID   string `json:"nctId,omitempty" yaml:"nct_id,omitempty"`
	ArxivID string `json:"arxivId,omitempty" yaml:"arxiv_id,omitempty"`

	// Providers lists every provider that returned this record.
	Providers []string `json:"providers" yaml:"providers"`

	// FirstSeenRound is the round that first contributed the record.
	FirstSeenRound int `json:"firstSeenRound" yaml:"first_seen_round"`
}

// EvidenceQuality is the ordered four-level rating a reflection assigns.
type EvidenceQuality string

const (
	EvidenceInsufficient EvidenceQuality = "insufficient"
	EvidenceLimited      EvidenceQuality = "limited"
	EvidenceModerate     EvidenceQuality = "moderate"
	EvidenceHigh         EvidenceQuality = "high"
)

// Rank orders evidence quality levels; unknown values rank lowest.
func (q EvidenceQuality) Rank() int {
	switch q {
	case EvidenceLimited:
		return 1
	case EvidenceModerate:
		return 2
	case EvidenceHigh:
		return 3
	default:
		return 0
	}
}

// ParseEvidenceQuality maps free text to a quality level, defaulting to insufficient.
func ParseEvidenceQuality(s string) EvidenceQuality {
	switch EvidenceQuality(s) {
	case EvidenceLimited, EvidenceModerate, EvidenceHigh:
		return EvidenceQuality(s)
	default:
		return EvidenceInsufficient
	}
}

// ReflectionDecision is the reflection's continue/stop recommendation.
type ReflectionDecision string

const (
	DecisionContinue ReflectionDecision = "continue"
	DecisionStop     ReflectionDecision = "stop"
)

// Reflection is the gap analysis of one completed round.
type Reflection struct {
	Round            int                `json:"round" yaml:"round"`
	WellCovered      []string           `json:"wellCovered" yaml:"well_covered"`
	PartiallyCovered []string           `json:"partiallyCovered" yaml:"partially_covered"`
	NotCovered       []string           `json:"notCovered" yaml:"not_covered"`
	GapScore         float64            `json:"gapScore" yaml:"gap_score"`
	EvidenceQuality  EvidenceQuality    `json:"evidenceQuality" yaml:"evidence_quality"`
	Decision         ReflectionDecision `json:"decision" yaml:"decision"`
	Reasoning        string             `json:"reasoning" yaml:"reasoning"`

	// Degraded is set when the reflection call failed and the fallback was used.
	Degraded bool `json:"degraded,omitempty" yaml:"degraded,omitempty"`

	Metrics CallMetrics `json:"metrics" yaml:"metrics"`
}

// FallbackReflection is the conservative reflection used when the model call
// fails. It recommends stopping so a broken reflection cannot loop forever.
func FallbackReflection(round int, reason string) Reflection {
	return Reflection{
		Round:           round,
		EvidenceQuality: EvidenceLimited,
		Decision:        DecisionStop,
		Reasoning:       reason,
		Degraded:        true,
	}
}

// StopCondition names one rule of the stopping evaluator.
type StopCondition string

const (
	StopQualitySufficient  StopCondition = "quality_sufficient"
	StopMaxRounds          StopCondition = "max_rounds"
	StopDiminishingReturns StopCondition = "diminishing_returns"
	StopReflection         StopCondition = "reflection_stop"
	StopCoverageCeiling    StopCondition = "coverage_ceiling"
	StopAllProvidersFailed StopCondition = "all_providers_failed"
	StopGapScore           StopCondition = "gap_score_threshold"
)

// StoppingDecision is derived after each round; never persisted on its own.
type StoppingDecision struct {
	ShouldStop          bool            `json:"shouldStop" yaml:"should_stop"`
	Reason              string          `json:"reason" yaml:"reason"`
	TriggeredConditions []StopCondition `json:"triggeredConditions" yaml:"triggered_conditions"`
}

// Triggered reports whether c is among the triggered conditions.
func (d StoppingDecision) Triggered(c StopCondition) bool {
	for _, t := range d.TriggeredConditions {
		if t == c {
			return true
		}
	}
	return false
}
