// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/events"
	"github.com/pdiddy/evidence-engine/internal/journey"
	"github.com/pdiddy/evidence-engine/internal/metrics"
	"github.com/pdiddy/evidence-engine/internal/provider"
	"github.com/pdiddy/evidence-engine/internal/rank"
	"github.com/pdiddy/evidence-engine/internal/reflect"
	"github.com/pdiddy/evidence-engine/internal/research"
	"github.com/pdiddy/evidence-engine/internal/stopping"
	"github.com/pdiddy/evidence-engine/internal/synth"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const (
	defaultMaxRounds      = 4
	defaultHybridProvider = "pubmed"
	defaultVerifyTimeout  = 5 * time.Second
)

// hybrid runs a single round against one provider, without reflection.
func (r *run) hybrid(ctx context.Context) ([]types.RankedSource, error) {
	r.collection = research.NewCollection()
	name := r.e.cfg.Research.HybridProvider
	if name == "" {
		name = defaultHybridProvider
	}
	round := r.round(ctx, 1, types.PurposeInitial, r.j.Query.Text, nil, []string{name})
	if err := types.ContextError(ctx); err != nil {
		return nil, err
	}
	if round.Status == types.RoundFailed {
		r.degrade(types.StageProvider, name+" unavailable; answering without sources")
	}
	return r.rank(ctx), nil
}

// deep plans, then runs rounds until the stopping evaluator says stop.
// Rounds are strictly sequential; reflection is skipped on the final
// allowed round.
func (r *run) deep(ctx context.Context, d types.RouterDecision) ([]types.RankedSource, error) {
	r.emit(events.PlanningStarted{})
	var plan types.ResearchPlan
	r.stage(ctx, "planning", func(ctx context.Context) error {
		plan = r.e.deps.Planner.Plan(ctx, r.j.Query, d)
		return nil
	})
	if err := types.ContextError(ctx); err != nil {
		return nil, err
	}
	r.j.Plan = &plan
	if plan.Degraded {
		r.degrade(types.StagePlanning, "default plan")
	}
	r.emit(events.PlanningComplete{Plan: plan})

	r.collection = research.NewCollection()
	maxRounds := r.e.policy.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	var prev *types.Reflection
	for n := 1; n <= maxRounds; n++ {
		purpose, query, keywords := types.PurposeInitial, r.j.Query.Text, plan.FocusAreas
		if n > 1 {
			purpose, query, keywords = types.PurposeGapFill, research.GapFillQuery(r.j.Query.Text, prev), nil
		}
		round := r.round(ctx, n, purpose, query, keywords, r.e.cfg.Research.Providers)
		if err := types.ContextError(ctx); err != nil {
			return nil, err
		}

		var refl *types.Reflection
		if n < maxRounds {
			rf := r.analyze(ctx, plan, round)
			if err := types.ContextError(ctx); err != nil {
				return nil, err
			}
			refl, prev = &rf, &rf
		}

		decision := stopping.Evaluate(stopping.Input{
			RoundNumber:       n,
			MaxRounds:         maxRounds,
			Current:           round,
			All:               r.j.Rounds,
			Reflection:        refl,
			CumulativeSources: r.collection.Len(),
		}, r.e.policy)
		r.j.Stops = append(r.j.Stops, decision)
		r.lastStop = &decision
		for _, c := range decision.TriggeredConditions {
			metrics.StopConditions.WithLabelValues(string(c)).Inc()
		}
		r.emit(events.StoppingEvaluated{Round: n, Decision: decision})
		r.logger.Info("stopping evaluated",
			zap.Int("round", n),
			zap.Bool("stop", decision.ShouldStop),
			zap.String("reason", decision.Reason))
		if decision.ShouldStop {
			break
		}
	}
	return r.rank(ctx), nil
}

// round runs one round and emits its lifecycle events.
func (r *run) round(ctx context.Context, n int, purpose types.RoundPurpose, query string, keywords, names []string) types.Round {
	var ids []string
	for _, p := range r.e.deps.Executor.Eligible(names) {
		ids = append(ids, p.Name())
	}
	r.emit(events.RoundStarted{
		Round:            n,
		Purpose:          purpose,
		Query:            provider.Request{Query: query, Keywords: keywords}.Text(),
		Providers:        ids,
		EstimatedSources: r.e.deps.Executor.EstimatedSources(names),
	})

	var round types.Round
	r.stage(ctx, "research", func(ctx context.Context) error {
		round = r.e.deps.Executor.Execute(ctx, research.RoundInput{
			Number:     n,
			Purpose:    purpose,
			Query:      query,
			Keywords:   keywords,
			Providers:  names,
			Collection: r.collection,
			Hooks: research.Hooks{
				OnCallStarted: func(rn int, name, q string) {
					r.emit(events.APIStarted{Round: rn, Provider: name, Query: q})
				},
				OnCallCompleted: func(rn int, c types.APICall) {
					r.emit(events.APICompleted{
						Round:      rn,
						Provider:   c.Provider,
						Count:      c.Retrieved,
						Found:      c.Found,
						DurationMS: c.Latency.Milliseconds(),
						Success:    c.Succeeded(),
						Error:      callError(c),
					})
				},
			},
		})
		return nil
	})
	r.j.Rounds = append(r.j.Rounds, round)
	r.emit(events.RoundComplete{
		Round:             round.Number,
		SourceCount:       round.NewSourceCount,
		DuplicateCount:    round.DuplicateCount,
		CumulativeSources: round.CumulativeSources,
		DurationMS:        round.Duration.Milliseconds(),
		Status:            round.Status,
	})
	return round
}

// callError is the client-safe form of a failed call's error. Provider
// error text can carry request URLs and is kept out of events.
func callError(c types.APICall) string {
	switch {
	case c.Succeeded():
		return ""
	case strings.HasPrefix(c.Error, "timed out"):
		return c.Error
	case strings.Contains(c.Error, context.Canceled.Error()):
		return "cancelled"
	default:
		return "provider request failed"
	}
}

func (r *run) analyze(ctx context.Context, plan types.ResearchPlan, round types.Round) types.Reflection {
	r.emit(events.ReflectionStarted{Round: round.Number})
	var rf types.Reflection
	r.stage(ctx, "reflection", func(ctx context.Context) error {
		rf = r.e.deps.Analyzer.Reflect(ctx, reflect.Input{
			Query:   r.j.Query,
			Plan:    plan,
			Round:   round,
			Sources: r.collection.Items(),
		})
		return nil
	})
	r.j.Reflections = append(r.j.Reflections, rf)
	if rf.Degraded {
		r.degrade(types.StageReflection, fmt.Sprintf("round %d fallback", round.Number))
	}
	r.emit(events.ReflectionComplete{Reflection: rf})
	return rf
}

func (r *run) rank(ctx context.Context) []types.RankedSource {
	items := r.collection.Items()
	r.emit(events.SourceSelectionStarted{TotalSources: len(items)})

	opts := r.e.rankOpts
	opts.Now = r.e.deps.Now()
	var ranking types.SourceRanking
	r.stage(ctx, "ranking", func(context.Context) error {
		ranking = rank.Rank(items, opts)
		return nil
	})
	r.j.Ranking = &ranking
	r.emit(events.SourceSelectionComplete{
		TotalEvaluated: ranking.TotalEvaluated,
		Selected:       ranking.Selected,
		Exclusions:     ranking.Exclusions,
	})
	return ranking.TopSources
}

// synthesize streams the answer and ends the journey.
func (r *run) synthesize(ctx context.Context, tier types.Tier, ranked []types.RankedSource) {
	r.ranked = ranked
	r.emit(events.SynthesisPreparation{SourceCount: len(ranked)})
	total := 0
	if r.collection != nil {
		total = r.collection.Len()
	}
	r.emit(events.SynthesisStarted{TotalRounds: len(r.j.Rounds), TotalSources: total})

	var syn types.ResponseSynthesis
	err := r.stage(ctx, "synthesis", func(ctx context.Context) error {
		var err error
		syn, err = r.e.deps.Streamer.Stream(ctx, synth.Input{Query: r.j.Query, Sources: ranked, Tier: tier}, func(tok string) error {
			if !r.emit(events.Token{Content: tok}) {
				return types.ErrCancelled
			}
			return nil
		})
		return err
	})
	r.j.Synthesis = &syn
	if err != nil {
		r.fail(err, syn.Text, "")
		return
	}

	sources := types.SourceRanking{TopSources: ranked}.Sources()
	verifying := r.e.deps.Verifier != nil && r.e.cfg.Verification.Enabled && len(ranked) > 0
	inline := verifying && r.e.cfg.Verification.Inline
	if inline {
		v := r.verify(ctx, syn.Text, sources)
		r.emit(events.VerificationComplete{Verification: v})
	}

	r.j.Status = types.JourneyCompleted
	r.finalize()
	r.emitTerminal(r.complete(tier, syn, ranked))
	r.logger.Info("journey complete",
		zap.String("tier", tier.String()),
		zap.Int("rounds", len(r.j.Rounds)),
		zap.Int("sources", len(r.j.Sources)),
		zap.Int("tokens", syn.TokensEmitted))

	if verifying && !inline {
		// The caller may stop listening after complete; verification still
		// runs for the recorded journey.
		v := r.verify(context.WithoutCancel(ctx), syn.Text, sources)
		r.emit(events.VerificationComplete{Verification: v})
	}
	r.record()
}

// verify runs the verifier bounded by the verification timeout. Failures
// and timeouts yield an unavailable result.
func (r *run) verify(ctx context.Context, text string, sources []types.SourceItem) types.CitationVerification {
	timeout := r.e.cfg.Verification.Timeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	var v types.CitationVerification
	r.stage(ctx, "verification", func(ctx context.Context) error {
		vctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ch := make(chan types.CitationVerification, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					ch <- types.CitationVerification{Checks: []types.CitationCheck{}, Error: fmt.Sprintf("verification panicked: %v", p)}
				}
			}()
			ch <- r.e.deps.Verifier.Verify(vctx, text, sources)
		}()
		select {
		case v = <-ch:
		case <-vctx.Done():
			v = types.CitationVerification{Checks: []types.CitationCheck{}, Error: "verification timed out"}
		}
		return nil
	})
	if !v.Available {
		r.degrade(types.StageVerification, "unavailable")
	}
	r.j.Verification = &v
	return v
}

func (r *run) complete(tier types.Tier, syn types.ResponseSynthesis, ranked []types.RankedSource) events.Complete {
	sum := journey.Summarize(r.j)
	c := events.Complete{
		Content:        syn.Text,
		Sources:        sourceRefs(ranked),
		ProcessingTier: tier,
		Metadata: events.Metadata{
			RequestID:    r.j.RequestID,
			Model:        syn.Model,
			FinishReason: syn.FinishReason,
			InputTokens:  syn.InputTokens,
			OutputTokens: syn.OutputTokens,
			CostUSD:      sum.TotalCostUSD,
			LatencyMS:    sum.TotalDuration.Milliseconds(),
			Verification: r.j.Verification,
			Summary:      &sum,
		},
	}
	if tier >= types.TierHybrid {
		rs := r.researchSummary(sum)
		c.ResearchSummary = rs
		c.ThinkingSummary = fmt.Sprintf("Searched %d round(s), collected %d unique sources, and cited the top %d.",
			rs.Rounds, rs.TotalSources, rs.SelectedSources)
		if rs.StopReason != "" {
			c.ThinkingSummary += " Stopped because: " + rs.StopReason + "."
		}
	}
	return c
}

// researchSummary labels an answer, complete or partial, with the research
// coverage behind it. It reads the finalized journey.
func (r *run) researchSummary(sum types.JourneySummary) *events.ResearchSummary {
	rs := &events.ResearchSummary{
		Rounds:          len(r.j.Rounds),
		TotalSources:    len(r.j.Sources),
		SelectedSources: len(r.ranked),
		EvidenceQuality: sum.FinalEvidenceQuality,
		Degradations:    r.j.Degradations,
	}
	if r.lastStop != nil {
		rs.StopReason = r.lastStop.Reason
	}
	return rs
}

func sourceRefs(ranked []types.RankedSource) []events.SourceRef {
	refs := make([]events.SourceRef, len(ranked))
	for i, rs := range ranked {
		s := rs.Source
		refs[i] = events.SourceRef{
			Index:   i + 1,
			ID:      s.ID,
			Title:   s.Title,
			Authors: s.Authors,
			Venue:   s.Venue,
			Year:    s.Year,
			URL:     s.URL,
			Type:    s.Type,
			Score:   rs.Score,
		}
	}
	return refs
}
