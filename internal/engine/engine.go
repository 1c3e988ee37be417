// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package engine orchestrates a journey: routing, the tiered flows, the
// research loop, ranking, streaming synthesis, and citation verification.
// Callers consume a single ordered stream of sequenced events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/events"
	"github.com/pdiddy/evidence-engine/internal/journey"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/metrics"
	"github.com/pdiddy/evidence-engine/internal/provider"
	"github.com/pdiddy/evidence-engine/internal/rank"
	"github.com/pdiddy/evidence-engine/internal/reflect"
	"github.com/pdiddy/evidence-engine/internal/research"
	"github.com/pdiddy/evidence-engine/internal/stopping"
	"github.com/pdiddy/evidence-engine/internal/synth"
	"github.com/pdiddy/evidence-engine/internal/tracing"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Stage collaborators. The concrete types live in their own packages.
type (
	Router interface {
		Route(ctx context.Context, q types.Query) (types.RouterDecision, error)
	}
	Planner interface {
		Plan(ctx context.Context, q types.Query, d types.RouterDecision) types.ResearchPlan
	}
	Executor interface {
		Execute(ctx context.Context, in research.RoundInput) types.Round
		Eligible(names []string) []provider.Provider
		EstimatedSources(names []string) int
	}
	Analyzer interface {
		Reflect(ctx context.Context, in reflect.Input) types.Reflection
	}
	Streamer interface {
		Stream(ctx context.Context, in synth.Input, emit func(token string) error) (types.ResponseSynthesis, error)
	}
	Verifier interface {
		Verify(ctx context.Context, text string, sources []types.SourceItem) types.CitationVerification
	}
)

// Deps are the collaborators injected into New. Recorder may be nil.
type Deps struct {
	Router   Router
	Planner  Planner
	Executor Executor
	Analyzer Analyzer
	Streamer Streamer
	Verifier Verifier
	Recorder journey.Recorder
	Logger   *zap.Logger

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

const (
	eventBuffer    = 64
	recordTimeout  = 30 * time.Second
	maxQueryLength = 4000
)

// terminalGrace bounds how long the terminal event waits for a consumer
// that has already cancelled.
var terminalGrace = 5 * time.Second

// Engine runs journeys and is safe for concurrent use.
type Engine struct {
	deps     Deps
	cfg      types.EngineConfig
	policy   stopping.Policy
	rankOpts rank.Options
	logger   *zap.Logger

	// pending counts journeys still being recorded.
	pending sync.WaitGroup
}

// New validates deps and returns an Engine. A ranking weights file named in
// cfg overrides the configured weights.
func New(deps Deps, cfg types.EngineConfig) (*Engine, error) {
	switch {
	case deps.Router == nil:
		return nil, fmt.Errorf("engine: router is required")
	case deps.Streamer == nil:
		return nil, fmt.Errorf("engine: streamer is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("engine: executor is required")
	case deps.Planner == nil || deps.Analyzer == nil:
		return nil, fmt.Errorf("engine: planner and analyzer are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	opts := rank.OptionsFrom(cfg.Ranking)
	if cfg.Ranking.WeightsFile != "" {
		w, err := rank.LoadWeights(cfg.Ranking.WeightsFile)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		opts.Weights = w
	}

	return &Engine{
		deps:     deps,
		cfg:      cfg,
		policy:   stopping.PolicyFrom(cfg.Stopping),
		rankOpts: opts,
		logger:   logging.OrNop(deps.Logger),
	}, nil
}

// Run starts a journey for req and returns its event stream. The stream
// ends with exactly one terminal event (complete or error), optionally
// followed by a trailing verification_complete, and is then closed.
// Cancelling ctx cancels the journey; Research.RequestTimeout bounds it.
func (e *Engine) Run(ctx context.Context, req types.Request) <-chan events.Envelope {
	out := make(chan events.Envelope, eventBuffer)
	id := e.deps.NewID()
	r := &run{
		e:      e,
		caller: ctx,
		out:    out,
		seq:    events.NewSequencer(id, e.deps.Now),
		logger: e.logger.With(zap.String("request_id", id)),
		j: &types.Journey{
			RequestID:      id,
			Rounds:         []types.Round{},
			Reflections:    []types.Reflection{},
			Stops:          []types.StoppingDecision{},
			Sources:        []types.SourceItem{},
			StageDurations: map[string]time.Duration{},
			StartedAt:      e.deps.Now(),
		},
	}
	r.j.Query = types.Query{
		ID:         id,
		Text:       strings.TrimSpace(req.Query),
		Language:   req.Language,
		UserID:     req.UserID,
		Profile:    req.Profile,
		History:    req.ConversationHistory,
		ReceivedAt: r.j.StartedAt,
	}
	go r.execute()
	return out
}

// Wait blocks until every finished journey has been handed to the
// Recorder, or until ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the state of one journey. It is confined to the journey goroutine.
type run struct {
	e      *Engine
	caller context.Context
	out    chan events.Envelope
	seq    *events.Sequencer
	logger *zap.Logger
	j      *types.Journey

	collection *research.Collection
	ranked     []types.RankedSource
	lastStop   *types.StoppingDecision
	terminated bool
}

func (r *run) execute() {
	defer close(r.out)
	metrics.JourneysStarted.Inc()

	ctx := r.caller
	if d := r.e.cfg.Research.RequestTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	ctx, span := tracing.StartSpan(ctx, "engine.run", attribute.String("request_id", r.j.RequestID))
	defer span.End()

	if r.j.Query.Text == "" || len(r.j.Query.Text) > maxQueryLength {
		err := fmt.Errorf("query must be between 1 and %d characters", maxQueryLength)
		r.fail(err, "", err.Error())
		return
	}

	r.logger.Info("journey started", zap.String("user_id", r.j.Query.UserID))
	r.emit(events.Routing{Query: r.j.Query.Text})

	var decision types.RouterDecision
	err := r.stage(ctx, "routing", func(ctx context.Context) error {
		var err error
		decision, err = r.e.deps.Router.Route(ctx, r.j.Query)
		return err
	})
	if err != nil {
		r.abort(ctx, err)
		return
	}
	r.j.Routing = &decision
	span.SetAttributes(attribute.String("tier", decision.Tier.String()))
	r.emit(events.TierSelected{
		Tier:                 decision.Tier,
		TierName:             decision.Tier.String(),
		Reasoning:            decision.Reasoning,
		Confidence:           decision.Confidence,
		Downgraded:           decision.Downgraded,
		ExplicitDeepResearch: decision.ExplicitDeepResearch,
		RecallRequest:        decision.RecallRequest,
	})

	var ranked []types.RankedSource
	switch decision.Tier {
	case types.TierRecall, types.TierModelOnly:
	case types.TierHybrid:
		ranked, err = r.hybrid(ctx)
	default:
		ranked, err = r.deep(ctx, decision)
	}
	if err != nil {
		r.abort(ctx, err)
		return
	}
	r.synthesize(ctx, decision.Tier, ranked)
}

// stage runs fn under a span and records its duration.
func (r *run) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := r.e.deps.Now()
	ctx, span := tracing.StartSpan(ctx, "engine."+name)
	err := fn(ctx)
	tracing.End(span, err)
	r.j.StageDurations[name] += r.e.deps.Now().Sub(start)
	return err
}

// emit sends ev unless the caller has gone away. It reports whether the
// event was delivered.
func (r *run) emit(ev events.Event) bool {
	env := r.seq.Wrap(ev)
	select {
	case r.out <- env:
		return true
	default:
	}
	select {
	case r.out <- env:
		return true
	case <-r.caller.Done():
		return false
	}
}

// emitTerminal sends the single terminal event. A live consumer is waited
// for indefinitely; once the caller is done the wait is bounded by
// terminalGrace so an abandoned stream cannot pin the goroutine.
func (r *run) emitTerminal(ev events.Event) {
	if r.terminated {
		r.logger.Error("second terminal event suppressed", zap.String("type", string(ev.Type())))
		return
	}
	r.terminated = true
	env := r.seq.Wrap(ev)
	select {
	case r.out <- env:
		return
	case <-r.caller.Done():
	}
	timer := time.NewTimer(terminalGrace)
	defer timer.Stop()
	select {
	case r.out <- env:
	case <-timer.C:
		r.logger.Warn("terminal event not consumed", zap.String("type", string(ev.Type())))
	}
}

// abort ends the journey with an error event and no synthesized content.
func (r *run) abort(ctx context.Context, err error) {
	if cerr := types.ContextError(ctx); cerr != nil {
		err = cerr
	}
	r.fail(err, "", "")
}

// fail emits the error terminal event and finalizes the journey. message
// overrides the safe message derived from err.
func (r *run) fail(err error, partial string, message string) {
	if message == "" {
		message = types.SafeMessage(err)
	}
	r.j.Error = err.Error()
	switch {
	case errors.Is(err, types.ErrDeadlineExceeded):
		r.j.Status = types.JourneyTimedOut
	case errors.Is(err, types.ErrCancelled):
		r.j.Status = types.JourneyCancelled
	case partial != "":
		r.j.Status = types.JourneyPartial
	default:
		r.j.Status = types.JourneyFailed
	}
	r.logger.Warn("journey failed", zap.String("status", string(r.j.Status)), zap.Error(err))
	r.finalize()

	ev := events.Error{Message: message, Partial: partial != "", PartialContent: partial}
	var se *types.StageError
	if errors.As(err, &se) {
		ev.Stage = se.Stage
	}
	if partial != "" {
		// The partial text cites [n] markers; label it with what backed it.
		ev.Sources = sourceRefs(r.ranked)
		if r.j.Tier() >= types.TierHybrid {
			ev.ResearchSummary = r.researchSummary(journey.Summarize(r.j))
		}
	}
	r.emitTerminal(ev)
	r.record()
}

// finalize freezes the journey and records journey metrics.
func (r *run) finalize() {
	r.j.EndedAt = r.e.deps.Now()
	if r.collection != nil {
		r.j.Sources = r.collection.Items()
	}
	tier := "none"
	if r.j.Routing != nil {
		tier = r.j.Routing.Tier.String()
	}
	metrics.JourneysCompleted.WithLabelValues(tier, string(r.j.Status)).Inc()
	metrics.JourneyDuration.WithLabelValues(tier).Observe(r.j.EndedAt.Sub(r.j.StartedAt).Seconds())
	if r.j.Tier() == types.TierDeep {
		metrics.RoundsPerJourney.Observe(float64(len(r.j.Rounds)))
	}
}

// record hands the finished journey to the persistence hook without
// blocking the stream.
func (r *run) record() {
	rec := r.e.deps.Recorder
	if rec == nil {
		return
	}
	j := r.j
	logger := r.logger
	r.e.pending.Add(1)
	go func() {
		defer r.e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := rec.Record(ctx, j); err != nil {
			logger.Warn("recording journey failed", zap.Error(err))
		}
	}()
}

func (r *run) degrade(stage types.Stage, detail string) {
	r.j.Degradations = append(r.j.Degradations, fmt.Sprintf("%s: %s", stage, detail))
}
