// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package planner

import (
	"context"
	"errors"
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

func newPlanner(retries int, replies ...llm.FakeReply) (*Planner, *llm.Fake) {
	fake := llm.NewFake().On(types.StagePlanning, replies...)
	return New(fake, types.ModelsConfig{Planner: "planner-model"}, types.PlannerConfig{MaxRetries: retries}, nil), fake
}

var deep = types.RouterDecision{Tier: types.TierDeep, Reasoning: "contested"}

func TestPlan(t *testing.T) {
	p, _ := newPlanner(0, llm.FakeReply{Text: `{"estimated_rounds": 3, "strategy": "systematic",
		"focus_areas": ["glycemic control", " Weight loss ", "weight loss", "", "adverse events"], "reasoning": "three areas"}`})

	plan := p.Plan(context.Background(), types.Query{Text: "keto for type 2 diabetes"}, deep)
	assert.False(t, plan.Degraded)
	assert.Equal(t, 3, plan.EstimatedRounds)
	assert.Equal(t, "systematic", plan.Strategy)
	assert.Equal(t, []string{"glycemic control", "Weight loss", "adverse events"}, plan.FocusAreas)
	assert.Equal(t, "planner-model", plan.Metrics.Model)
}

func TestPlan_ClampsRounds(t *testing.T) {
	p, _ := newPlanner(0, llm.FakeReply{Text: `{"estimated_rounds": 0, "focus_areas": []}`})
	plan := p.Plan(context.Background(), types.Query{Text: "q"}, deep)
	assert.Equal(t, 1, plan.EstimatedRounds)
	assert.Equal(t, "default", plan.Strategy)
	assert.NotNil(t, plan.FocusAreas)
	assert.False(t, plan.Degraded)
}

func TestPlan_RetriesThenSucceeds(t *testing.T) {
	p, fake := newPlanner(2,
		llm.FakeReply{Err: errors.New("HTTP 500")},
		llm.FakeReply{Text: "not json"},
		llm.FakeReply{Text: `{"estimated_rounds": 2, "strategy": "focused", "focus_areas": ["dose"]}`},
	)
	plan := p.Plan(context.Background(), types.Query{Text: "q"}, deep)
	assert.False(t, plan.Degraded)
	assert.Equal(t, []string{"dose"}, plan.FocusAreas)
	assert.Equal(t, 3, fake.Calls(types.StagePlanning))
}

func TestPlan_DegradesAfterRetries(t *testing.T) {
	p, fake := newPlanner(1, llm.FakeReply{Err: errors.New("HTTP 503")})
	plan := p.Plan(context.Background(), types.Query{Text: "q"}, deep)

	assert.Equal(t, types.DefaultPlan(), plan)
	assert.Equal(t, 2, plan.EstimatedRounds)
	assert.Empty(t, plan.FocusAreas)
	assert.True(t, plan.Degraded)
	assert.Equal(t, 2, fake.Calls(types.StagePlanning))
}

func TestPlan_CancelledContextDegrades(t *testing.T) {
	p, _ := newPlanner(3, llm.FakeReply{Text: `{"estimated_rounds": 2}`})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	plan := p.Plan(ctx, types.Query{Text: "q"}, deep)
	assert.True(t, plan.Degraded)
}

func TestRenderPrompt_Profile(t *testing.T) {
	out, err := renderPrompt(types.Query{
		Text:    "is grapefruit ok",
		Profile: &types.HealthProfile{Conditions: []string{"hypertension"}, Medications: []string{"amlodipine", "statin"}},
	}, deep)
	require.NoError(t, err)
	assert.Contains(t, out, "User conditions: hypertension")
	assert.Contains(t, out, "User medications: amlodipine, statin")
	assert.Contains(t, out, "Router reasoning: contested")
}
