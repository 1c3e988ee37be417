// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Journey metrics
	JourneysStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evidence_engine_journeys_started_total",
			Help: "Total number of journeys started",
		},
	)

	JourneysCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_engine_journeys_completed_total",
			Help: "Total number of journeys finished, by tier and status",
		},
		[]string{"tier", "status"},
	)

	JourneyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evidence_engine_journey_duration_seconds",
			Help:    "Journey duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"tier"},
	)

	// Routing metrics
	RouterDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_engine_router_decisions_total",
			Help: "Router decisions by tier and whether low confidence downgraded them",
		},
		[]string{"tier", "downgraded"},
	)

	// Provider metrics
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_engine_provider_calls_total",
			Help: "Provider calls by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evidence_engine_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ProviderCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_engine_provider_cache_total",
			Help: "Provider cache lookups by provider and result",
		},
		[]string{"provider", "result"},
	)

	// Research loop metrics
	RoundsPerJourney = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evidence_engine_rounds_per_journey",
			Help:    "Number of research rounds run per deep journey",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8},
		},
	)

	StopConditions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_engine_stop_conditions_total",
			Help: "Stopping conditions triggered, by condition",
		},
		[]string{"condition"},
	)

	Degradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_engine_degradations_total",
			Help: "Non-fatal stage failures, by stage",
		},
		[]string{"stage"},
	)

	// Synthesis metrics
	TokensStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evidence_engine_tokens_streamed_total",
			Help: "Total number of synthesis tokens forwarded to callers",
		},
	)

	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_engine_model_tokens_total",
			Help: "Model tokens consumed, by stage and direction",
		},
		[]string{"stage", "direction"},
	)

	CitationAccuracy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_engine_citation_checks_total",
			Help: "Citation checks by verdict",
		},
		[]string{"accuracy"},
	)
)

// ObserveTokens records the usage of one model call.
func ObserveTokens(stage string, input, output int) {
	ModelTokens.WithLabelValues(stage, "input").Add(float64(input))
	ModelTokens.WithLabelValues(stage, "output").Add(float64(output))
}
