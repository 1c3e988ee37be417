// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package research runs evidence-gathering rounds: one concurrent call per
// eligible provider, a join barrier, and a merge into the request's
// deduplicated Collection.
package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/metrics"
	"github.com/pdiddy/evidence-engine/internal/provider"
	"github.com/pdiddy/evidence-engine/internal/tracing"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Executor fans a round out to its providers. It holds no per-request
// state and is safe to share.
type Executor struct {
	Providers       []provider.Provider
	ProviderTimeout time.Duration
	MaxResults      int
	Logger          *zap.Logger

	now func() time.Time
}

// NewExecutor returns an Executor over providers.
func NewExecutor(providers []provider.Provider, cfg types.ResearchConfig, logger *zap.Logger) *Executor {
	return &Executor{
		Providers:       providers,
		ProviderTimeout: cfg.ProviderTimeout,
		MaxResults:      cfg.MaxResultsPerProvider,
		Logger:          logging.OrNop(logger),
		now:             time.Now,
	}
}

// Hooks observe call progress. They run on the goroutine that called
// Execute, never after it returns.
type Hooks struct {
	OnCallStarted   func(round int, provider, query string)
	OnCallCompleted func(round int, call types.APICall)
}

// RoundInput describes one round.
type RoundInput struct {
	Number   int
	Purpose  types.RoundPurpose
	Query    string
	Keywords []string
	Filters  map[string]string

	// Providers restricts the round to these names; empty means all.
	Providers []string

	Collection *Collection
	Hooks      Hooks
}

// Eligible returns the executor's providers allowed by names, in executor order.
func (e *Executor) Eligible(names []string) []provider.Provider {
	if len(names) == 0 {
		return e.Providers
	}
	var out []provider.Provider
	for _, p := range e.Providers {
		if contains(names, p.Name()) {
			out = append(out, p)
		}
	}
	return out
}

// EstimatedSources is the total result budget of a round over names.
func (e *Executor) EstimatedSources(names []string) int {
	return len(e.Eligible(names)) * e.maxResults()
}

// Execute runs one round. A failing, slow, or panicking provider never
// aborts its siblings. If ctx is cancelled Execute stops waiting, records
// the unfinished calls as failed, and returns at once.
func (e *Executor) Execute(ctx context.Context, in RoundInput) types.Round {
	start := e.clock()
	ctx, span := tracing.StartSpan(ctx, "research.round",
		attribute.Int("round", in.Number),
		attribute.String("purpose", string(in.Purpose)))
	defer span.End()

	logger := logging.OrNop(e.Logger)
	eligible := e.Eligible(in.Providers)
	req := provider.Request{
		Query:      in.Query,
		Keywords:   in.Keywords,
		Filters:    in.Filters,
		MaxResults: e.maxResults(),
	}
	text := req.Text()

	type result struct {
		index int
		call  types.APICall
	}
	// Buffered so abandoned goroutines never block after a cancelled round.
	ch := make(chan result, len(eligible))
	var wg sync.WaitGroup

	calls := make([]*types.APICall, len(eligible))
	for i, p := range eligible {
		if in.Hooks.OnCallStarted != nil {
			in.Hooks.OnCallStarted(in.Number, p.Name(), text)
		}
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			ch <- result{index: i, call: e.call(ctx, p, req, text)}
		}(i, p)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	// Calls are recorded in completion order.
	var completed []types.APICall
	pending := len(eligible)
	cancelled := false
	for pending > 0 && !cancelled {
		select {
		case r, ok := <-ch:
			if !ok {
				pending = 0
				break
			}
			pending--
			calls[r.index] = &r.call
			completed = append(completed, r.call)
			if in.Hooks.OnCallCompleted != nil {
				in.Hooks.OnCallCompleted(in.Number, r.call)
			}
		case <-ctx.Done():
			cancelled = true
		}
	}
	if cancelled {
		now := e.clock()
		for i, c := range calls {
			if c != nil {
				continue
			}
			abandoned := types.APICall{
				Provider:   eligible[i].Name(),
				Query:      text,
				Filters:    req.Filters,
				MaxResults: req.MaxResults,
				Status:     types.CallFailure,
				Error:      ctx.Err().Error(),
				StartedAt:  start,
				EndedAt:    now,
				Latency:    now.Sub(start),
			}
			completed = append(completed, abandoned)
			if in.Hooks.OnCallCompleted != nil {
				in.Hooks.OnCallCompleted(in.Number, abandoned)
			}
		}
		logger.Info("round cancelled", zap.Int("round", in.Number), zap.Int("abandoned", pending))
	}

	round := types.Round{
		Number:  in.Number,
		Purpose: in.Purpose,
		Query:   text,
		Calls:   completed,
		Status:  roundStatus(completed),
	}
	if in.Collection != nil {
		for _, c := range completed {
			if !c.Succeeded() {
				continue
			}
			added, dups := in.Collection.Merge(in.Number, c.Results)
			round.Sources = append(round.Sources, added...)
			round.DuplicateCount += dups
		}
		round.NewSourceCount = len(round.Sources)
		round.CumulativeSources = in.Collection.Len()
	}
	round.Duration = e.clock().Sub(start)

	span.SetAttributes(
		attribute.String("status", string(round.Status)),
		attribute.Int("new_sources", round.NewSourceCount))
	logger.Info("round complete",
		zap.Int("round", round.Number),
		zap.String("status", string(round.Status)),
		zap.Int("calls", len(round.Calls)),
		zap.Int("new_sources", round.NewSourceCount),
		zap.Int("duplicates", round.DuplicateCount),
		zap.Duration("duration", round.Duration))
	return round
}

// call runs one provider under its own timeout and converts the outcome
// into an APICall. Panics are reported as failures.
func (e *Executor) call(ctx context.Context, p provider.Provider, req provider.Request, text string) (call types.APICall) {
	call = types.APICall{
		Provider:   p.Name(),
		Query:      text,
		Filters:    req.Filters,
		MaxResults: req.MaxResults,
		StartedAt:  e.clock(),
	}
	defer func() {
		if r := recover(); r != nil {
			call.Status = types.CallFailure
			call.Error = fmt.Sprintf("provider panic: %v", r)
			call.Results = nil
		}
		call.EndedAt = e.clock()
		call.Latency = call.EndedAt.Sub(call.StartedAt)
		metrics.ProviderCalls.WithLabelValues(call.Provider, string(call.Status)).Inc()
		metrics.ProviderLatency.WithLabelValues(call.Provider).Observe(call.Latency.Seconds())
	}()

	if e.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.ProviderTimeout)
		defer cancel()
	}
	ctx, span := tracing.StartSpan(ctx, "provider.search", attribute.String("provider", p.Name()))

	resp, err := p.Search(ctx, req)
	tracing.End(span, err)
	if err != nil {
		call.Status = types.CallFailure
		call.Error = err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			call.Error = fmt.Sprintf("timed out after %s", e.ProviderTimeout)
		}
		return call
	}
	call.Status = types.CallSuccess
	call.Found = resp.Found
	call.Results = resp.Results
	call.Retrieved = len(resp.Results)
	if call.Found < call.Retrieved {
		call.Found = call.Retrieved
	}
	return call
}

// roundStatus: all succeeded -> complete; at least one -> partial; none -> failed.
func roundStatus(calls []types.APICall) types.RoundStatus {
	ok := 0
	for _, c := range calls {
		if c.Succeeded() {
			ok++
		}
	}
	switch {
	case len(calls) > 0 && ok == len(calls):
		return types.RoundComplete
	case ok > 0:
		return types.RoundPartial
	default:
		return types.RoundFailed
	}
}

func (e *Executor) maxResults() int {
	if e.MaxResults > 0 {
		return e.MaxResults
	}
	return 10
}

func (e *Executor) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// GapFillQuery derives the query for a round after the first: the original
// query narrowed by the uncovered focus areas, else the partially covered
// ones, else the original query.
func GapFillQuery(query string, r *types.Reflection) string {
	if r == nil {
		return query
	}
	areas := r.NotCovered
	if len(areas) == 0 {
		areas = r.PartiallyCovered
	}
	if len(areas) == 0 {
		return query
	}
	return strings.TrimSpace(query + " " + strings.Join(areas, " "))
}
