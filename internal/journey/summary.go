// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package journey derives summaries of finished journeys, persists them in
// SQLite, and exports them as YAML, JSON, or CSL-YAML.
package journey

import (
	"fmt"
	"sort"
	"time"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Bottleneck thresholds.
const (
	SlowStageShare      = 0.40
	ProviderFailureRate = 0.50
)

// Summarize builds the derived view of j. It is pure and safe on partial
// journeys.
func Summarize(j *types.Journey) types.JourneySummary {
	s := types.JourneySummary{
		RequestID:     j.RequestID,
		Tier:          j.Tier(),
		Status:        j.Status,
		Rounds:        len(j.Rounds),
		Sources:       len(j.Sources),
		CitationScore: -1,
		Degradations:  j.Degradations,
	}
	if !j.EndedAt.IsZero() && j.EndedAt.After(j.StartedAt) {
		s.TotalDuration = j.EndedAt.Sub(j.StartedAt)
	}

	addCall := func(m types.CallMetrics) {
		s.TotalCostUSD += m.CostUSD
		s.TotalTokens += m.TotalTokens()
	}
	if j.Routing != nil {
		addCall(j.Routing.Metrics)
	}
	if j.Plan != nil {
		addCall(j.Plan.Metrics)
	}
	for _, r := range j.Reflections {
		addCall(r.Metrics)
	}
	if j.Synthesis != nil {
		s.TotalCostUSD += j.Synthesis.CostUSD
		s.TotalTokens += j.Synthesis.InputTokens + j.Synthesis.OutputTokens
	}
	for _, r := range j.Rounds {
		s.APICalls += len(r.Calls)
		s.FailedAPICalls += len(r.Calls) - r.SucceededCalls()
	}
	if j.Ranking != nil {
		s.SelectedSources = j.Ranking.Selected
	}
	if n := len(j.Reflections); n > 0 {
		s.FinalEvidenceQuality = j.Reflections[n-1].EvidenceQuality
	}
	if j.Verification != nil && j.Verification.Available {
		s.CitationScore = j.Verification.Score
	}

	s.Bottlenecks, s.Recommendations = analyze(j, s)
	return s
}

func analyze(j *types.Journey, s types.JourneySummary) ([]types.Bottleneck, []string) {
	var bottlenecks []types.Bottleneck
	var recs []string

	if stage, d, share := slowestStage(j.StageDurations); share > SlowStageShare {
		bottlenecks = append(bottlenecks, types.Bottleneck{
			Stage:  stage,
			Detail: fmt.Sprintf("%s took %.0f%% of the journey (%s)", stage, share*100, d.Round(time.Millisecond)),
		})
		recs = append(recs, stageAdvice(stage))
	}

	for _, f := range failingProviders(j.Rounds) {
		bottlenecks = append(bottlenecks, types.Bottleneck{
			Stage:  string(types.StageProvider),
			Detail: fmt.Sprintf("%s failed %d of %d calls", f.name, f.failed, f.total),
		})
		recs = append(recs, fmt.Sprintf("check %s availability or raise research.provider_timeout", f.name))
	}

	var empty []int
	for _, r := range j.Rounds {
		if r.Number > 1 && r.NewSourceCount == 0 {
			empty = append(empty, r.Number)
		}
	}
	for _, n := range empty {
		bottlenecks = append(bottlenecks, types.Bottleneck{
			Stage:  "research",
			Detail: fmt.Sprintf("round %d added no new sources", n),
		})
	}
	if len(empty) > 0 {
		recs = append(recs, "gap-fill queries found nothing new; consider lowering stopping.max_rounds")
	}

	if s.CitationScore >= 0 && s.CitationScore < 0.5 {
		recs = append(recs, "citation accuracy is low; review the synthesis prompt or raise ranking.min_score")
	}
	if len(j.Degradations) > 0 {
		recs = append(recs, "some stages degraded; check model backend health")
	}
	return bottlenecks, recs
}

// slowestStage returns the stage with the largest share of the summed
// stage time. A single recorded stage is never a bottleneck.
func slowestStage(durations map[string]time.Duration) (string, time.Duration, float64) {
	if len(durations) < 2 {
		return "", 0, 0
	}
	names := make([]string, 0, len(durations))
	var total time.Duration
	for name, d := range durations {
		names = append(names, name)
		total += d
	}
	if total <= 0 {
		return "", 0, 0
	}
	sort.Strings(names)
	best := names[0]
	for _, name := range names[1:] {
		if durations[name] > durations[best] {
			best = name
		}
	}
	return best, durations[best], float64(durations[best]) / float64(total)
}

func stageAdvice(stage string) string {
	switch stage {
	case "research":
		return "provider rounds dominate; consider fewer providers or a lower research.provider_timeout"
	case string(types.StageSynthesis):
		return "synthesis dominates; consider a faster synthesis model or lower synthesis.max_tokens"
	default:
		return fmt.Sprintf("%s is slow; consider a faster model for this stage", stage)
	}
}

type providerFailures struct {
	name          string
	failed, total int
}

func failingProviders(rounds []types.Round) []providerFailures {
	byName := map[string]*providerFailures{}
	for _, r := range rounds {
		for _, c := range r.Calls {
			f, ok := byName[c.Provider]
			if !ok {
				f = &providerFailures{name: c.Provider}
				byName[c.Provider] = f
			}
			f.total++
			if !c.Succeeded() {
				f.failed++
			}
		}
	}
	var out []providerFailures
	for _, f := range byName {
		if float64(f.failed)/float64(f.total) >= ProviderFailureRate {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].name < out[k].name })
	return out
}
