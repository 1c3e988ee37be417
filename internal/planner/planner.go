// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package planner proposes the strategy for a deep research journey.
// Planning never fails the journey: after its retries are spent the
// planner returns the degraded default plan.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/metrics"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// maxFocusAreas caps the focus areas kept from the model's answer.
const maxFocusAreas = 6

var planPromptTmpl = template.Must(template.New("plan").Parse(`Plan an evidence search for this health or nutrition question.

Question: {{.Query}}
{{if .Conditions}}User conditions: {{.Conditions}}
{{end}}{{if .Medications}}User medications: {{.Medications}}
{{end}}Router reasoning: {{.Reasoning}}

List the focus areas the answer must cover (most important first), a one-word strategy label, and how many search rounds you expect to need.

Respond with one JSON object: {"estimated_rounds": <int>, "strategy": "<label>", "focus_areas": ["..."], "reasoning": "..."}. No other text.
`))

// Planner is safe for concurrent use.
type Planner struct {
	Model      llm.Model
	ModelID    string
	Pricing    llm.Pricing
	MaxRetries int
	Logger     *zap.Logger
}

// New returns a Planner using the planning model of models.
func New(model llm.Model, models types.ModelsConfig, cfg types.PlannerConfig, logger *zap.Logger) *Planner {
	return &Planner{
		Model:      model,
		ModelID:    models.Planner,
		Pricing:    llm.Pricing(models.Prices),
		MaxRetries: cfg.MaxRetries,
		Logger:     logging.OrNop(logger),
	}
}

type modelPlan struct {
	EstimatedRounds int      `json:"estimated_rounds"`
	Strategy        string   `json:"strategy"`
	FocusAreas      []string `json:"focus_areas"`
	Reasoning       string   `json:"reasoning"`
}

// Plan returns the research plan for q. Model or parse failures are retried
// up to MaxRetries times before falling back to types.DefaultPlan.
func (p *Planner) Plan(ctx context.Context, q types.Query, d types.RouterDecision) types.ResearchPlan {
	logger := logging.OrNop(p.Logger)
	prompt, err := renderPrompt(q, d)
	if err != nil {
		return p.degrade(logger, err)
	}

	type attempt struct {
		plan modelPlan
		comp llm.Completion
	}
	start := time.Now()
	res, err := llm.Retry(ctx, p.MaxRetries, func(ctx context.Context) (attempt, error) {
		comp, err := p.Model.Complete(ctx, llm.CompletionRequest{
			Model:       p.ModelID,
			Messages:    llm.UserMessage(prompt),
			Temperature: 0.2,
			MaxTokens:   500,
			JSON:        true,
			Stage:       types.StagePlanning,
		})
		if err != nil {
			return attempt{}, err
		}
		metrics.ObserveTokens(string(types.StagePlanning), comp.Usage.InputTokens, comp.Usage.OutputTokens)
		mp, err := parsePlan(comp.Text)
		if err != nil {
			return attempt{}, err
		}
		return attempt{plan: mp, comp: comp}, nil
	})
	if err != nil {
		return p.degrade(logger, err)
	}

	plan := types.ResearchPlan{
		EstimatedRounds: res.plan.EstimatedRounds,
		Strategy:        strings.TrimSpace(res.plan.Strategy),
		FocusAreas:      cleanAreas(res.plan.FocusAreas),
		Reasoning:       strings.TrimSpace(res.plan.Reasoning),
		Metrics:         p.Pricing.Metrics(p.ModelID, res.comp.Usage, time.Since(start)),
	}
	if plan.EstimatedRounds < 1 {
		plan.EstimatedRounds = 1
	}
	if plan.Strategy == "" {
		plan.Strategy = "default"
	}
	logger.Info("research planned",
		zap.Int("estimated_rounds", plan.EstimatedRounds),
		zap.String("strategy", plan.Strategy),
		zap.Strings("focus_areas", plan.FocusAreas))
	return plan
}

func (p *Planner) degrade(logger *zap.Logger, err error) types.ResearchPlan {
	metrics.Degradations.WithLabelValues(string(types.StagePlanning)).Inc()
	logger.Warn("planning failed; using default plan", zap.Error(err))
	return types.DefaultPlan()
}

func parsePlan(text string) (modelPlan, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return modelPlan{}, fmt.Errorf("parsing plan: %w", err)
	}
	var mp modelPlan
	if err := json.Unmarshal([]byte(raw), &mp); err != nil {
		return modelPlan{}, fmt.Errorf("parsing plan: %w", err)
	}
	return mp, nil
}

// cleanAreas trims, drops blanks and case-insensitive duplicates, and caps
// the list. The result is never nil.
func cleanAreas(areas []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, a := range areas {
		a = strings.TrimSpace(a)
		k := strings.ToLower(a)
		if a == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
		if len(out) == maxFocusAreas {
			break
		}
	}
	return out
}

func renderPrompt(q types.Query, d types.RouterDecision) (string, error) {
	data := struct {
		Query, Reasoning        string
		Conditions, Medications string
	}{Query: q.Text, Reasoning: d.Reasoning}
	if q.Profile != nil {
		data.Conditions = strings.Join(q.Profile.Conditions, ", ")
		data.Medications = strings.Join(q.Profile.Medications, ", ")
	}
	var buf bytes.Buffer
	if err := planPromptTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering plan prompt: %w", err)
	}
	return buf.String(), nil
}
