// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm is the generative-model capability consumed by the router,
// planner, gap analyzer, and synthesis streamer. Backends: OpenAI
// (go-openai), Claude (Messages API over net/http), and a scripted Fake.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// CompletionRequest is one model call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []types.Message
	Temperature float64
	MaxTokens   int

	// JSON asks the backend for a JSON object response when it supports it.
	JSON bool

	// Stage labels the call for fakes and metrics (e.g. "routing").
	Stage types.Stage
}

// Completion is the result of a non-streaming call.
type Completion struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
	Latency      time.Duration
}

// Usage holds provider-reported token counts.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Model is a generative model backend.
type Model interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	Stream(ctx context.Context, req CompletionRequest) (TokenStream, error)
}

// TokenStream yields response tokens in order. Next returns io.EOF once the
// stream has ended normally; Usage and FinishReason are valid after that.
type TokenStream interface {
	Next() (string, error)
	Usage() Usage
	FinishReason() string
	Close() error
}

// Pricing converts token usage into cost for the configured models.
type Pricing map[string]types.ModelPrice

// Metrics builds the CallMetrics for a completed call.
func (p Pricing) Metrics(model string, u Usage, latency time.Duration) types.CallMetrics {
	return types.CallMetrics{
		Model:        model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      p[model].Cost(u.InputTokens, u.OutputTokens),
		Latency:      latency,
	}
}

// ExtractJSON returns the outermost JSON object in text, stripping Markdown
// code fences and any prose the model put around it.
func ExtractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in model output")
	}
	return s[start : end+1], nil
}

// UserMessage is shorthand for a single-turn user prompt.
func UserMessage(content string) []types.Message {
	return []types.Message{{Role: types.RoleUser, Content: content}}
}
