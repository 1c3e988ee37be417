// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reflect runs the gap analysis after a research round: which focus
// areas the evidence covers, how strong it is, and whether another round is
// worth running.
package reflect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/metrics"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// promptSources caps how many sources the prompt lists.
const promptSources = 15

var reflectPromptTmpl = template.Must(template.New("reflect").Parse(`Assess the evidence gathered so far for this health or nutrition question.

Question: {{.Query}}
Round: {{.Round}} ({{.NewSources}} new sources, {{.TotalSources}} total)
{{if .FocusAreas}}Focus areas:
{{range .FocusAreas}}- {{.}}
{{end}}{{end}}
Sources (strongest first):
{{range $i, $s := .Sources}}[{{$i}}] {{$s.Title}} ({{$s.Type}}{{if $s.Year}}, {{$s.Year}}{{end}}{{if $s.Venue}}, {{$s.Venue}}{{end}}; quality {{$s.Quality}})
{{else}}(none)
{{end}}
Label every focus area as well, partially, or not covered. Give a gap_score from 0 (nothing covered) to 1 (fully covered), an evidence_quality of insufficient, limited, moderate, or high, and a decision of continue or stop.

Respond with one JSON object: {"well_covered": [], "partially_covered": [], "not_covered": [], "gap_score": 0.0, "evidence_quality": "", "decision": "", "reasoning": ""}. No other text.
`))

// Analyzer is safe for concurrent use.
type Analyzer struct {
	Model      llm.Model
	ModelID    string
	Pricing    llm.Pricing
	MaxRetries int
	Logger     *zap.Logger
}

// New returns an Analyzer using the reflection model of models.
func New(model llm.Model, models types.ModelsConfig, cfg types.ReflectionConfig, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		Model:      model,
		ModelID:    models.Reflection,
		Pricing:    llm.Pricing(models.Prices),
		MaxRetries: cfg.MaxRetries,
		Logger:     logging.OrNop(logger),
	}
}

// Input is the state a reflection sees: the plan, the round just finished,
// and a snapshot of the cumulative collection.
type Input struct {
	Query   types.Query
	Plan    types.ResearchPlan
	Round   types.Round
	Sources []types.SourceItem
}

type modelReflection struct {
	WellCovered      []string `json:"well_covered"`
	PartiallyCovered []string `json:"partially_covered"`
	NotCovered       []string `json:"not_covered"`
	GapScore         float64  `json:"gap_score"`
	EvidenceQuality  string   `json:"evidence_quality"`
	Decision         string   `json:"decision"`
	Reasoning        string   `json:"reasoning"`
}

// Reflect analyzes in. It never fails: after its retries are spent it returns
// types.FallbackReflection, which recommends stopping.
func (a *Analyzer) Reflect(ctx context.Context, in Input) types.Reflection {
	logger := logging.OrNop(a.Logger)
	prompt, err := renderPrompt(in)
	if err != nil {
		return a.fallback(logger, in.Round.Number, err)
	}

	type attempt struct {
		mr   modelReflection
		comp llm.Completion
	}
	start := time.Now()
	res, err := llm.Retry(ctx, a.MaxRetries, func(ctx context.Context) (attempt, error) {
		comp, err := a.Model.Complete(ctx, llm.CompletionRequest{
			Model:       a.ModelID,
			Messages:    llm.UserMessage(prompt),
			Temperature: 0,
			MaxTokens:   600,
			JSON:        true,
			Stage:       types.StageReflection,
		})
		if err != nil {
			return attempt{}, err
		}
		metrics.ObserveTokens(string(types.StageReflection), comp.Usage.InputTokens, comp.Usage.OutputTokens)
		mr, err := parseReflection(comp.Text)
		if err != nil {
			return attempt{}, err
		}
		return attempt{mr: mr, comp: comp}, nil
	})
	if err != nil {
		return a.fallback(logger, in.Round.Number, err)
	}

	r := build(in, res.mr)
	r.Metrics = a.Pricing.Metrics(a.ModelID, res.comp.Usage, time.Since(start))
	logger.Info("round reflected",
		zap.Int("round", r.Round),
		zap.Float64("gap_score", r.GapScore),
		zap.String("evidence_quality", string(r.EvidenceQuality)),
		zap.String("decision", string(r.Decision)),
		zap.Int("not_covered", len(r.NotCovered)))
	return r
}

func (a *Analyzer) fallback(logger *zap.Logger, round int, err error) types.Reflection {
	metrics.Degradations.WithLabelValues(string(types.StageReflection)).Inc()
	logger.Warn("reflection failed; recommending stop", zap.Int("round", round), zap.Error(err))
	return types.FallbackReflection(round, "gap analysis unavailable; stopping conservatively")
}

// build normalizes the model's answer against the plan. Every plan focus
// area lands in exactly one list; areas the model did not label are not
// covered. Without plan focus areas the model's labels are used as given.
func build(in Input, mr modelReflection) types.Reflection {
	r := types.Reflection{
		Round:           in.Round.Number,
		GapScore:        clamp01(mr.GapScore),
		EvidenceQuality: types.ParseEvidenceQuality(strings.ToLower(strings.TrimSpace(mr.EvidenceQuality))),
		Decision:        types.DecisionStop,
		Reasoning:       strings.TrimSpace(mr.Reasoning),
	}
	if strings.EqualFold(strings.TrimSpace(mr.Decision), string(types.DecisionContinue)) {
		r.Decision = types.DecisionContinue
	}

	if len(in.Plan.FocusAreas) == 0 {
		r.WellCovered = nonNil(mr.WellCovered)
		r.PartiallyCovered = nonNil(mr.PartiallyCovered)
		r.NotCovered = nonNil(mr.NotCovered)
		return r
	}

	well, partial := labelSet(mr.WellCovered), labelSet(mr.PartiallyCovered)
	r.WellCovered, r.PartiallyCovered, r.NotCovered = []string{}, []string{}, []string{}
	for _, area := range in.Plan.FocusAreas {
		k := labelKey(area)
		switch {
		case well[k]:
			r.WellCovered = append(r.WellCovered, area)
		case partial[k]:
			r.PartiallyCovered = append(r.PartiallyCovered, area)
		default:
			r.NotCovered = append(r.NotCovered, area)
		}
	}
	return r
}

func parseReflection(text string) (modelReflection, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return modelReflection{}, fmt.Errorf("parsing reflection: %w", err)
	}
	var mr modelReflection
	if err := json.Unmarshal([]byte(raw), &mr); err != nil {
		return modelReflection{}, fmt.Errorf("parsing reflection: %w", err)
	}
	return mr, nil
}

func renderPrompt(in Input) (string, error) {
	sources := append([]types.SourceItem(nil), in.Sources...)
	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].Quality.Rank() != sources[j].Quality.Rank() {
			return sources[i].Quality.Rank() > sources[j].Quality.Rank()
		}
		return sources[i].Relevance > sources[j].Relevance
	})
	if len(sources) > promptSources {
		sources = sources[:promptSources]
	}
	data := struct {
		Query        string
		Round        int
		NewSources   int
		TotalSources int
		FocusAreas   []string
		Sources      []types.SourceItem
	}{
		Query:        in.Query.Text,
		Round:        in.Round.Number,
		NewSources:   in.Round.NewSourceCount,
		TotalSources: len(in.Sources),
		FocusAreas:   in.Plan.FocusAreas,
		Sources:      sources,
	}
	var buf bytes.Buffer
	if err := reflectPromptTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering reflection prompt: %w", err)
	}
	return buf.String(), nil
}

func labelKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func labelSet(labels []string) map[string]bool {
	m := make(map[string]bool, len(labels))
	for _, l := range labels {
		m[labelKey(l)] = true
	}
	return m
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
