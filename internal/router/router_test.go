// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

func newRouter(replies ...llm.FakeReply) (*Router, *llm.Fake) {
	fake := llm.NewFake().On(types.StageRouting, replies...)
	models := types.ModelsConfig{
		Router: "router-model",
		Prices: map[string]types.ModelPrice{"router-model": {Input: 1, Output: 2}},
	}
	return New(fake, models, types.RouterConfig{ConfidenceThreshold: 0.6}, nil), fake
}

func reply(json string) llm.FakeReply {
	return llm.FakeReply{Text: json, Usage: llm.Usage{InputTokens: 1000, OutputTokens: 500}}
}

var history = []types.Message{
	{Role: types.RoleUser, Content: "Is magnesium good for sleep?"},
	{Role: types.RoleAssistant, Content: "Some evidence supports magnesium glycinate..."},
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name           string
		query          types.Query
		model          string
		wantTier       types.Tier
		wantDowngraded bool
		wantExplicit   bool
		wantRecall     bool
	}{
		{
			name:     "definition question stays model only",
			query:    types.Query{Text: "A1C nedir?"},
			model:    `{"tier": 1, "confidence": 0.93, "reasoning": "definition"}`,
			wantTier: types.TierModelOnly,
		},
		{
			name:         "english deep research phrase forces tier 3",
			query:        types.Query{Text: "Please do deep research on creatine and kidney function"},
			model:        `{"tier": 2, "confidence": 0.4, "reasoning": "focused"}`,
			wantTier:     types.TierDeep,
			wantExplicit: true,
		},
		{
			name:         "turkish deep research phrase forces tier 3",
			query:        types.Query{Text: "Aralıklı oruç hakkında DERİNLEMESİNE ARAŞTIR"},
			model:        `{"tier": 1, "confidence": 0.9, "reasoning": "general"}`,
			wantTier:     types.TierDeep,
			wantExplicit: true,
		},
		{
			name:       "recall phrase with history",
			query:      types.Query{Text: "What was the dose you mentioned?", History: history},
			model:      `{"tier": 2, "confidence": 0.7, "reasoning": "dose question"}`,
			wantTier:   types.TierRecall,
			wantRecall: true,
		},
		{
			name:     "recall phrase without history is not recall",
			query:    types.Query{Text: "What was the dose you mentioned?"},
			model:    `{"tier": 1, "confidence": 0.8, "reasoning": "no context"}`,
			wantTier: types.TierModelOnly,
		},
		{
			name:     "model tier 0 without history falls back to tier 1",
			query:    types.Query{Text: "that thing from before"},
			model:    `{"tier": 0, "confidence": 0.9, "recall_request": true}`,
			wantTier: types.TierModelOnly,
		},
		{
			name:           "low confidence lowers the tier",
			query:          types.Query{Text: "Is a keto diet safe with type 1 diabetes?"},
			model:          `{"tier": 3, "confidence": 0.45, "reasoning": "complex"}`,
			wantTier:       types.TierHybrid,
			wantDowngraded: true,
		},
		{
			name:     "low confidence never goes below tier 1",
			query:    types.Query{Text: "what is fiber"},
			model:    `{"tier": 1, "confidence": 0.1}`,
			wantTier: types.TierModelOnly,
		},
		{
			name:     "confident tier 2 is kept",
			query:    types.Query{Text: "Does metformin lower B12?"},
			model:    "```json\n{\"tier\": 2, \"confidence\": 0.8}\n```",
			wantTier: types.TierHybrid,
		},
		{
			name:         "model-flagged explicit research is honoured",
			query:        types.Query{Text: "Bana omega-3 konusunda bir rapor hazırla"},
			model:        `{"tier": 2, "confidence": 0.5, "explicit_deep_research": true}`,
			wantTier:     types.TierDeep,
			wantExplicit: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRouter(reply(tt.model))
			d, err := r.Route(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, d.Tier)
			assert.True(t, d.Tier.Valid())
			assert.Equal(t, tt.wantDowngraded, d.Downgraded)
			assert.Equal(t, tt.wantExplicit, d.ExplicitDeepResearch)
			assert.Equal(t, tt.wantRecall, d.RecallRequest)
		})
	}
}

func TestRoute_DowngradeRecordsOriginalTier(t *testing.T) {
	r, _ := newRouter(reply(`{"tier": 2, "confidence": 0.3}`))
	d, err := r.Route(context.Background(), types.Query{Text: "zinc for colds?"})
	require.NoError(t, err)
	assert.Equal(t, types.TierModelOnly, d.Tier)
	assert.Equal(t, types.TierHybrid, d.OriginalTier)
}

func TestRoute_Metrics(t *testing.T) {
	r, _ := newRouter(reply(`{"tier": 1, "confidence": 0.9}`))
	d, err := r.Route(context.Background(), types.Query{Text: "what is HbA1c"})
	require.NoError(t, err)
	assert.Equal(t, "router-model", d.Metrics.Model)
	assert.Equal(t, 1000, d.Metrics.InputTokens)
	assert.Equal(t, 500, d.Metrics.OutputTokens)
	assert.InDelta(t, 0.002, d.Metrics.CostUSD, 1e-9)
}

func TestRoute_Failures(t *testing.T) {
	tests := []struct {
		name  string
		reply llm.FakeReply
	}{
		{"model error", llm.FakeReply{Err: errors.New("HTTP 529")}},
		{"not json", reply("tier one please")},
		{"missing tier", reply(`{"confidence": 0.9}`)},
		{"tier out of range", reply(`{"tier": 7, "confidence": 0.9}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, fake := newRouter(tt.reply)
			_, err := r.Route(context.Background(), types.Query{Text: "anything"})
			require.Error(t, err)
			assert.True(t, types.IsStage(err, types.StageRouting))
			assert.Equal(t, 1, fake.Calls(types.StageRouting), "routing must not retry")
		})
	}
}

func TestRenderPrompt(t *testing.T) {
	long := append(append([]types.Message{}, history...), history...)
	long = append(long, types.Message{Role: types.RoleUser, Content: "latest turn"})
	p, err := renderPrompt(types.Query{
		Text:    "What about with food?",
		History: long,
		Profile: &types.HealthProfile{Conditions: []string{"type 2 diabetes"}},
	})
	require.NoError(t, err)
	assert.Contains(t, p, "Question: What about with food?")
	assert.Contains(t, p, "user: latest turn")
	assert.Contains(t, p, "health profile on file")
	assert.Equal(t, historyTurns, strings.Count(p, "user: ")+strings.Count(p, "assistant: "))
}

func TestSignals(t *testing.T) {
	assert.True(t, IsExplicitDeepResearch("Can you do a literature review on vitamin K2?"))
	assert.True(t, IsExplicitDeepResearch("Magnezyum için araştırma yap"))
	assert.True(t, IsExplicitDeepResearch("BU KONUYU KAPSAMLI ARAŞTIR"))
	assert.False(t, IsExplicitDeepResearch("A1C nedir?"))
	assert.False(t, IsExplicitDeepResearch("What is research-grade whey?"))

	assert.True(t, IsRecallRequest("Daha önce konuştuğumuz diyet neydi?"))
	assert.True(t, IsRecallRequest("As we   discussed, is it safe?"))
	assert.False(t, IsRecallRequest("Is turmeric anti-inflammatory?"))
}
