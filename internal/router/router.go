// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package router classifies a query into one of four processing tiers.
// A fast model call proposes the tier; deterministic phrase detection
// overrides it for explicit deep-research and recall requests, and low
// confidence lowers the tier rather than escalating it.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/metrics"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// historyTurns is how many prior turns the routing prompt shows.
const historyTurns = 4

var routingPromptTmpl = template.Must(template.New("routing").Parse(`Classify how much research this health or nutrition question needs.

Tiers:
0 = recall: the user asks about something already discussed in this conversation.
1 = model_only: a definition or general-knowledge question.
2 = hybrid: a focused question that one literature search can settle.
3 = deep: a complex or contested question needing several rounds of evidence.

Examples:
"A1C nedir?" -> {"tier": 1, "confidence": 0.92, "reasoning": "definition", "explicit_deep_research": false, "recall_request": false}
"Does metformin lower vitamin B12?" -> {"tier": 2, "confidence": 0.8, "reasoning": "single well-studied interaction", "explicit_deep_research": false, "recall_request": false}
"Deep research: intermittent fasting vs calorie restriction for insulin resistance" -> {"tier": 3, "confidence": 0.95, "reasoning": "explicit request, contested topic", "explicit_deep_research": true, "recall_request": false}
"What was that supplement you mentioned?" -> {"tier": 0, "confidence": 0.9, "reasoning": "refers to earlier turn", "explicit_deep_research": false, "recall_request": true}
{{if .History}}
Conversation so far:
{{range .History}}{{.Role}}: {{.Content}}
{{end}}{{end}}{{if .HasProfile}}
The user has a health profile on file.
{{end}}
Question: {{.Query}}

Respond with one JSON object with keys tier, confidence, reasoning, explicit_deep_research, recall_request. No other text.
`))

// Router is safe for concurrent use.
type Router struct {
	Model               llm.Model
	ModelID             string
	Pricing             llm.Pricing
	ConfidenceThreshold float64
	Logger              *zap.Logger
}

// New returns a Router using the routing model of models.
func New(model llm.Model, models types.ModelsConfig, cfg types.RouterConfig, logger *zap.Logger) *Router {
	return &Router{
		Model:               model,
		ModelID:             models.Router,
		Pricing:             llm.Pricing(models.Prices),
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Logger:              logging.OrNop(logger),
	}
}

// modelDecision is the JSON the routing prompt asks for.
type modelDecision struct {
	Tier                 *int    `json:"tier"`
	Confidence           float64 `json:"confidence"`
	Reasoning            string  `json:"reasoning"`
	ExplicitDeepResearch bool    `json:"explicit_deep_research"`
	RecallRequest        bool    `json:"recall_request"`
}

// Route produces exactly one decision or a routing StageError. It is not
// retried and never falls back to a default tier.
func (r *Router) Route(ctx context.Context, q types.Query) (types.RouterDecision, error) {
	prompt, err := renderPrompt(q)
	if err != nil {
		return types.RouterDecision{}, types.NewStageError(types.StageRouting, err)
	}

	start := time.Now()
	comp, err := r.Model.Complete(ctx, llm.CompletionRequest{
		Model:       r.ModelID,
		Messages:    llm.UserMessage(prompt),
		Temperature: 0,
		MaxTokens:   300,
		JSON:        true,
		Stage:       types.StageRouting,
	})
	if err != nil {
		return types.RouterDecision{}, types.NewStageError(types.StageRouting, fmt.Errorf("routing call: %w", err))
	}
	latency := comp.Latency
	if latency == 0 {
		latency = time.Since(start)
	}
	metrics.ObserveTokens(string(types.StageRouting), comp.Usage.InputTokens, comp.Usage.OutputTokens)

	md, err := parseDecision(comp.Text)
	if err != nil {
		return types.RouterDecision{}, types.NewStageError(types.StageRouting, err)
	}

	d := r.decide(q, md)
	d.Metrics = r.Pricing.Metrics(r.ModelID, comp.Usage, latency)

	metrics.RouterDecisions.WithLabelValues(d.Tier.String(), strconv.FormatBool(d.Downgraded)).Inc()
	r.logger().Info("query routed",
		zap.String("tier", d.Tier.String()),
		zap.Float64("confidence", d.Confidence),
		zap.Bool("downgraded", d.Downgraded),
		zap.Bool("explicit_deep_research", d.ExplicitDeepResearch),
		zap.Bool("recall", d.RecallRequest))
	return d, nil
}

// decide combines the model's proposal with deterministic signals.
func (r *Router) decide(q types.Query, md modelDecision) types.RouterDecision {
	d := types.RouterDecision{
		Tier:       types.Tier(*md.Tier),
		Reasoning:  strings.TrimSpace(md.Reasoning),
		Confidence: math.Max(0, math.Min(1, md.Confidence)),
	}

	explicit := IsExplicitDeepResearch(q.Text) || md.ExplicitDeepResearch
	recall := q.HasHistory() && (IsRecallRequest(q.Text) || md.RecallRequest)

	switch {
	case explicit:
		d.Tier = types.TierDeep
		d.ExplicitDeepResearch = true
		if d.Reasoning == "" {
			d.Reasoning = "user explicitly asked for deep research"
		}
		return d
	case recall:
		d.Tier = types.TierRecall
		d.RecallRequest = true
		return d
	case d.Tier == types.TierRecall:
		// Nothing to recall without history.
		d.Tier = types.TierModelOnly
		d.Reasoning = strings.TrimSpace(d.Reasoning + " (no history to recall; answering directly)")
		return d
	}

	if d.Confidence < r.ConfidenceThreshold && d.Tier > types.TierModelOnly {
		d.OriginalTier = d.Tier
		d.Tier--
		d.Downgraded = true
	}
	return d
}

func (r *Router) logger() *zap.Logger {
	return logging.OrNop(r.Logger)
}

func parseDecision(text string) (modelDecision, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return modelDecision{}, fmt.Errorf("parsing routing response: %w", err)
	}
	var md modelDecision
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return modelDecision{}, fmt.Errorf("parsing routing response: %w", err)
	}
	if md.Tier == nil {
		return modelDecision{}, fmt.Errorf("routing response has no tier")
	}
	if !types.Tier(*md.Tier).Valid() {
		return modelDecision{}, fmt.Errorf("routing response has invalid tier %d", *md.Tier)
	}
	return md, nil
}

func renderPrompt(q types.Query) (string, error) {
	history := q.History
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	data := struct {
		Query      string
		History    []types.Message
		HasProfile bool
	}{
		Query:      q.Text,
		History:    history,
		HasProfile: q.Profile != nil && !q.Profile.IsEmpty(),
	}
	var buf bytes.Buffer
	if err := routingPromptTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering routing prompt: %w", err)
	}
	return buf.String(), nil
}
