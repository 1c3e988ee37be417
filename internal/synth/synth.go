// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package synth streams the final cited answer. Every token is forwarded
// the moment it arrives; an interrupted stream keeps what was already sent
// and is marked partial.
package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/metrics"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const systemPrompt = `You are a careful medical and nutrition assistant. Answer in the user's language. ` +
	`When sources are provided, support each factual sentence with their numbers in brackets, e.g. [1] or [2, 3], ` +
	`and never cite a number that is not listed. Say plainly when the evidence is limited. ` +
	`Do not diagnose; suggest consulting a clinician for personal medical decisions.`

var userPromptTmpl = template.Must(template.New("synthesis").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`{{if .Sources}}Sources:
{{range $i, $s := .Sources}}[{{inc $i}}] {{$s.Source.Title}}{{if $s.Source.Year}} ({{$s.Source.Year}}){{end}}{{if $s.Source.Venue}}, {{$s.Source.Venue}}{{end}}
{{if $s.Source.Snippet}}{{$s.Source.Snippet}}
{{end}}{{end}}
{{else if .Recall}}Answer from the conversation above only.
{{end}}{{if .Profile}}User health profile: {{.Profile}}
{{end}}Question: {{.Query}}
`))

// Streamer drives the synthesis model. It is safe for concurrent use.
type Streamer struct {
	Model       llm.Model
	ModelID     string
	Pricing     llm.Pricing
	Temperature float64
	MaxTokens   int
	Logger      *zap.Logger
}

// New returns a Streamer using the synthesis model of models.
func New(model llm.Model, models types.ModelsConfig, cfg types.SynthesisConfig, logger *zap.Logger) *Streamer {
	return &Streamer{
		Model:       model,
		ModelID:     models.Synthesis,
		Pricing:     llm.Pricing(models.Prices),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Logger:      logging.OrNop(logger),
	}
}

// Input is what the answer is synthesized from. Sources are numbered [1]..[N]
// in the given order; tier 0 and 1 pass none.
type Input struct {
	Query   types.Query
	Sources []types.RankedSource
	Tier    types.Tier
}

// Stream runs the model and calls emit for every token in order. On
// cancellation or deadline it stops at once and returns the partial
// synthesis with types.ErrCancelled or types.ErrDeadlineExceeded. A
// provider failure returns the partial synthesis with a synthesis
// StageError. An emit error is treated as the caller going away.
func (s *Streamer) Stream(ctx context.Context, in Input, emit func(token string) error) (types.ResponseSynthesis, error) {
	logger := logging.OrNop(s.Logger)
	syn := types.ResponseSynthesis{
		Model:           s.ModelID,
		Temperature:     s.Temperature,
		SourcesProvided: len(in.Sources),
		Streaming:       true,
	}
	start := time.Now()
	var text strings.Builder
	finish := func(reason string, u llm.Usage) {
		syn.Text = text.String()
		syn.FinishReason = reason
		syn.Latency = time.Since(start)
		if u.OutputTokens == 0 {
			u.OutputTokens = syn.TokensEmitted
		}
		syn.InputTokens = u.InputTokens
		syn.OutputTokens = u.OutputTokens
		syn.CostUSD = s.Pricing[s.ModelID].Cost(u.InputTokens, u.OutputTokens)
		metrics.ObserveTokens(string(types.StageSynthesis), u.InputTokens, u.OutputTokens)
	}
	interrupted := func(u llm.Usage) (types.ResponseSynthesis, error) {
		cerr := types.ContextError(ctx)
		if cerr == nil {
			cerr = types.ErrCancelled
		}
		reason := types.FinishCancelled
		if errors.Is(cerr, types.ErrDeadlineExceeded) {
			reason = types.FinishTimeout
		}
		syn.Partial = true
		finish(reason, u)
		logger.Info("synthesis interrupted", zap.String("reason", reason), zap.Int("tokens", syn.TokensEmitted))
		return syn, cerr
	}

	messages, err := buildMessages(in)
	if err != nil {
		finish(types.FinishError, llm.Usage{})
		return syn, types.NewStageError(types.StageSynthesis, err)
	}

	stream, err := s.Model.Stream(ctx, llm.CompletionRequest{
		Model:       s.ModelID,
		System:      systemPrompt,
		Messages:    messages,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		Stage:       types.StageSynthesis,
	})
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(llm.Usage{})
		}
		finish(types.FinishError, llm.Usage{})
		return syn, types.NewStageError(types.StageSynthesis, fmt.Errorf("starting stream: %w", err))
	}
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			return interrupted(stream.Usage())
		}
		tok, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(stream.Usage())
			}
			syn.Partial = true
			finish(types.FinishError, stream.Usage())
			logger.Warn("synthesis stream failed", zap.Int("tokens", syn.TokensEmitted), zap.Error(err))
			return syn, types.NewStageError(types.StageSynthesis, err)
		}
		if tok == "" {
			continue
		}
		if err := emit(tok); err != nil {
			return interrupted(stream.Usage())
		}
		text.WriteString(tok)
		syn.TokensEmitted++
		metrics.TokensStreamed.Inc()
	}

	reason := stream.FinishReason()
	if reason == "" {
		reason = types.FinishStop
	}
	finish(reason, stream.Usage())
	logger.Info("synthesis complete",
		zap.Int("tokens", syn.TokensEmitted),
		zap.Int("sources", syn.SourcesProvided),
		zap.String("finish_reason", reason),
		zap.Duration("latency", syn.Latency))
	return syn, nil
}

// buildMessages returns the conversation history followed by the prompt.
func buildMessages(in Input) ([]types.Message, error) {
	data := struct {
		Query   string
		Sources []types.RankedSource
		Recall  bool
		Profile string
	}{
		Query:   in.Query.Text,
		Sources: in.Sources,
		Recall:  in.Tier == types.TierRecall,
	}
	if p := in.Query.Profile; p != nil && !p.IsEmpty() {
		data.Profile = profileLine(p)
	}
	var buf bytes.Buffer
	if err := userPromptTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering synthesis prompt: %w", err)
	}

	msgs := make([]types.Message, 0, len(in.Query.History)+1)
	for _, m := range in.Query.History {
		if m.Role == types.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	return append(msgs, types.Message{Role: types.RoleUser, Content: buf.String()}), nil
}

func profileLine(p *types.HealthProfile) string {
	var parts []string
	if len(p.Conditions) > 0 {
		parts = append(parts, "conditions: "+strings.Join(p.Conditions, ", "))
	}
	if len(p.Medications) > 0 {
		parts = append(parts, "medications: "+strings.Join(p.Medications, ", "))
	}
	if p.Age > 0 {
		parts = append(parts, fmt.Sprintf("age: %d", p.Age))
	}
	if p.Sex != "" {
		parts = append(parts, "sex: "+p.Sex)
	}
	return strings.Join(parts, "; ")
}
