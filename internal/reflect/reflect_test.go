// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reflect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

func init() {
	llm.BackoffBase = time.Millisecond
}

func newAnalyzer(retries int, replies ...llm.FakeReply) (*Analyzer, *llm.Fake) {
	fake := llm.NewFake().On(types.StageReflection, replies...)
	return New(fake, types.ModelsConfig{Reflection: "reflect-model"}, types.ReflectionConfig{MaxRetries: retries}, nil), fake
}

func input(areas ...string) Input {
	return Input{
		Query: types.Query{Text: "omega-3 and heart disease"},
		Plan:  types.ResearchPlan{EstimatedRounds: 2, FocusAreas: areas},
		Round: types.Round{Number: 1, NewSourceCount: 2},
		Sources: []types.SourceItem{
			{Title: "Fish oil RCT", Type: types.SourceArticle, Year: 2019, Quality: types.QualityHigh, Relevance: 0.9},
			{Title: "Blog post", Type: types.SourceWeb, Quality: types.QualityLow, Relevance: 0.95},
		},
	}
}

func TestReflect_LabelsAgainstPlan(t *testing.T) {
	a, _ := newAnalyzer(0, llm.FakeReply{Text: `{"well_covered": ["Mortality"], "partially_covered": ["arrhythmia "],
		"not_covered": [], "gap_score": 0.6, "evidence_quality": "Moderate", "decision": "continue", "reasoning": "dose unclear"}`})

	r := a.Reflect(context.Background(), input("mortality", "Arrhythmia", "dose"))
	assert.False(t, r.Degraded)
	assert.Equal(t, 1, r.Round)
	assert.Equal(t, []string{"mortality"}, r.WellCovered)
	assert.Equal(t, []string{"Arrhythmia"}, r.PartiallyCovered)
	assert.Equal(t, []string{"dose"}, r.NotCovered, "unlabelled focus areas are not covered")
	assert.Equal(t, types.EvidenceModerate, r.EvidenceQuality)
	assert.Equal(t, types.DecisionContinue, r.Decision)
	assert.Equal(t, 0.6, r.GapScore)
	assert.Equal(t, "reflect-model", r.Metrics.Model)
}

func TestReflect_Normalization(t *testing.T) {
	tests := []struct {
		name        string
		json        string
		wantGap     float64
		wantQuality types.EvidenceQuality
		wantDec     types.ReflectionDecision
	}{
		{"gap above one", `{"gap_score": 1.7, "evidence_quality": "high", "decision": "stop"}`, 1, types.EvidenceHigh, types.DecisionStop},
		{"negative gap", `{"gap_score": -0.2, "evidence_quality": "limited", "decision": "CONTINUE"}`, 0, types.EvidenceLimited, types.DecisionContinue},
		{"unknown quality", `{"gap_score": 0.3, "evidence_quality": "excellent", "decision": "continue"}`, 0.3, types.EvidenceInsufficient, types.DecisionContinue},
		{"unknown decision stops", `{"gap_score": 0.3, "evidence_quality": "moderate", "decision": "maybe"}`, 0.3, types.EvidenceModerate, types.DecisionStop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newAnalyzer(0, llm.FakeReply{Text: tt.json})
			r := a.Reflect(context.Background(), input("a"))
			assert.Equal(t, tt.wantGap, r.GapScore)
			assert.Equal(t, tt.wantQuality, r.EvidenceQuality)
			assert.Equal(t, tt.wantDec, r.Decision)
		})
	}
}

func TestReflect_NoPlanAreasUsesModelLabels(t *testing.T) {
	a, _ := newAnalyzer(0, llm.FakeReply{Text: `{"well_covered": ["efficacy"], "not_covered": ["safety"], "gap_score": 0.5, "evidence_quality": "limited", "decision": "continue"}`})
	r := a.Reflect(context.Background(), input())
	assert.Equal(t, []string{"efficacy"}, r.WellCovered)
	assert.Equal(t, []string{}, r.PartiallyCovered)
	assert.Equal(t, []string{"safety"}, r.NotCovered)
}

func TestReflect_FallbackOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		reply llm.FakeReply
	}{
		{"model error", llm.FakeReply{Err: errors.New("HTTP 500")}},
		{"garbage", llm.FakeReply{Text: "I think we should continue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, fake := newAnalyzer(1, tt.reply)
			r := a.Reflect(context.Background(), input("a"))
			assert.True(t, r.Degraded)
			assert.Equal(t, types.DecisionStop, r.Decision)
			assert.Equal(t, types.EvidenceLimited, r.EvidenceQuality)
			assert.Equal(t, 1, r.Round)
			assert.Equal(t, 2, fake.Calls(types.StageReflection))
		})
	}
}

func TestRenderPrompt_OrdersAndCapsSources(t *testing.T) {
	in := input("mortality")
	for i := 0; i < 20; i++ {
		in.Sources = append(in.Sources, types.SourceItem{Title: fmt.Sprintf("filler %d", i), Type: types.SourceWeb, Quality: types.QualityUnrated})
	}
	out, err := renderPrompt(in)
	require.NoError(t, err)
	assert.Contains(t, out, "[0] Fish oil RCT (article, 2019; quality high)")
	assert.Contains(t, out, "[1] Blog post")
	assert.NotContains(t, out, "filler 13")
	assert.Contains(t, out, "22 total")
	assert.Contains(t, out, "- mortality")
}
