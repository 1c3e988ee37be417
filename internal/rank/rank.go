// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rank scores the accumulated sources and selects the subset passed
// to synthesis. Ranking is deterministic: a weighted sum over normalized
// criteria, with every exclusion recorded by reason.
package rank

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Exclusion reasons.
const (
	ExcludedMissingContent = "missing_content"
	ExcludedBelowMinScore  = "below_min_score"
	ExcludedBeyondTopN     = "beyond_top_n"
)

// Options configures one ranking.
type Options struct {
	Weights  types.RankingWeights
	TopN     int // 0 keeps every eligible source
	MinScore float64

	// Now anchors recency; zero means time.Now.
	Now                time.Time
	RecencyWindowYears int
}

// OptionsFrom converts the configuration section.
func OptionsFrom(cfg types.RankingConfig) Options {
	return Options{
		Weights:            cfg.Weights,
		TopN:               cfg.TopN,
		MinScore:           cfg.MinScore,
		RecencyWindowYears: cfg.RecencyWindowYears,
	}
}

// Rank scores sources and selects the top ones.
func Rank(sources []types.SourceItem, opts Options) types.SourceRanking {
	weights := opts.Weights
	if weights.Total() <= 0 {
		weights = types.DefaultRankingWeights()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	window := opts.RecencyWindowYears
	if window <= 0 {
		window = 10
	}

	maxCitations := 0
	for _, s := range sources {
		if s.CitationCount > maxCitations {
			maxCitations = s.CitationCount
		}
	}

	excluded := map[string]int{}
	var scored []types.RankedSource
	for _, s := range sources {
		if missingContent(s) {
			excluded[ExcludedMissingContent]++
			continue
		}
		breakdown := map[types.Criterion]float64{
			types.CriterionRelevance: clamp01(s.Relevance),
			types.CriterionRecency:   recencyScore(s.Year, now.Year(), window),
			types.CriterionVenue:     venueScore(s),
			types.CriterionCitations: citationScore(s.CitationCount, maxCitations),
		}
		score := (weights.Relevance*breakdown[types.CriterionRelevance] +
			weights.Recency*breakdown[types.CriterionRecency] +
			weights.Venue*breakdown[types.CriterionVenue] +
			weights.Citations*breakdown[types.CriterionCitations]) / weights.Total()
		score = math.Round(score*1e6) / 1e6

		if score < opts.MinScore {
			excluded[ExcludedBelowMinScore]++
			continue
		}
		scored = append(scored, types.RankedSource{Source: s, Score: score, Breakdown: breakdown})
	}

	sort.SliceStable(scored, func(i, j int) bool { return less(scored[i], scored[j]) })

	if opts.TopN > 0 && len(scored) > opts.TopN {
		excluded[ExcludedBeyondTopN] += len(scored) - opts.TopN
		scored = scored[:opts.TopN]
	}
	if scored == nil {
		scored = []types.RankedSource{}
	}

	return types.SourceRanking{
		Weights:        weights,
		TotalEvaluated: len(sources),
		Selected:       len(scored),
		Exclusions:     exclusions(excluded),
		TopSources:     scored,
	}
}

// less orders by score, then relevance, then year (newer first), then key.
func less(a, b types.RankedSource) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Source.Relevance != b.Source.Relevance {
		return a.Source.Relevance > b.Source.Relevance
	}
	if a.Source.Year != b.Source.Year {
		return a.Source.Year > b.Source.Year
	}
	return a.Source.Key < b.Source.Key
}

func exclusions(m map[string]int) []types.ExclusionReason {
	out := []types.ExclusionReason{}
	for _, reason := range []string{ExcludedMissingContent, ExcludedBelowMinScore, ExcludedBeyondTopN} {
		if n := m[reason]; n > 0 {
			out = append(out, types.ExclusionReason{Reason: reason, Count: n})
		}
	}
	return out
}

// missingContent: nothing for the model to read or the user to open.
func missingContent(s types.SourceItem) bool {
	return strings.TrimSpace(s.Title) == "" || (strings.TrimSpace(s.Snippet) == "" && s.URL == "")
}

// recencyScore decays linearly from 1 (this year) to 0 at window years old.
// Undated sources score 0.3.
func recencyScore(year, thisYear, window int) float64 {
	if year <= 0 {
		return 0.3
	}
	age := thisYear - year
	if age <= 0 {
		return 1
	}
	return math.Max(0, 1-float64(age)/float64(window))
}

var qualityScore = map[types.QualityRating]float64{
	types.QualityUnrated:  0.4,
	types.QualityLow:      0.2,
	types.QualityModerate: 0.65,
	types.QualityHigh:     1.0,
}

var typePrior = map[types.SourceType]float64{
	types.SourceArticle:  1.0,
	types.SourceTrial:    0.9,
	types.SourcePreprint: 0.6,
	types.SourceWeb:      0.4,
}

// venueScore blends the quality rating, a source-type prior, and the
// provider's impact metric.
func venueScore(s types.SourceItem) float64 {
	q, ok := qualityScore[s.Quality]
	if !ok {
		q = qualityScore[types.QualityUnrated]
	}
	prior, ok := typePrior[s.Type]
	if !ok {
		prior = 0.5
	}
	return clamp01(0.5*q + 0.3*prior + 0.2*clamp01(s.ImpactMetric))
}

// citationScore log-scales against the most cited source in the collection.
func citationScore(n, max int) float64 {
	if n <= 0 || max <= 0 {
		return 0
	}
	return clamp01(math.Log1p(float64(n)) / math.Log1p(float64(max)))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// LoadWeights reads ranking weights from a YAML file with keys relevance,
// recency, venue_quality, and citations.
func LoadWeights(path string) (types.RankingWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.RankingWeights{}, fmt.Errorf("reading weights file: %w", err)
	}
	var w types.RankingWeights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return types.RankingWeights{}, fmt.Errorf("parsing weights file: %w", err)
	}
	if w.Relevance < 0 || w.Recency < 0 || w.Venue < 0 || w.Citations < 0 {
		return types.RankingWeights{}, fmt.Errorf("weights must be non-negative")
	}
	if w.Total() <= 0 {
		return types.RankingWeights{}, fmt.Errorf("weights must not all be zero")
	}
	return w, nil
}
