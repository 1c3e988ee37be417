// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package journey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// --- test helpers ---

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func call(provider string, ok bool) types.APICall {
	c := types.APICall{Provider: provider, Status: types.CallSuccess, Found: 5, Retrieved: 3, Latency: 200 * time.Millisecond}
	if !ok {
		c.Status = types.CallFailure
		c.Error = "timed out after 15s"
	}
	return c
}

func deepJourney() *types.Journey {
	src1 := types.SourceItem{ID: "S001", Key: "doi:10.1/a", Title: "Omega-3 and mortality", Authors: []string{"Jane Q Smith", "Lee"},
		Venue: "BMJ", Year: 2021, Type: types.SourceArticle, Quality: types.QualityHigh, DOI: "10.1/a", PMID: "111"}
	src2 := types.SourceItem{ID: "S002", Key: "nct:NCT01", Title: "Fish oil trial", Year: 2019, Type: types.SourceTrial}
	return &types.Journey{
		RequestID: "req-1",
		Query:     types.Query{Text: "omega-3 heart", UserID: "u1"},
		Routing:   &types.RouterDecision{Tier: types.TierDeep, Metrics: types.CallMetrics{InputTokens: 100, OutputTokens: 20, CostUSD: 0.001}},
		Plan:      &types.ResearchPlan{EstimatedRounds: 2, Metrics: types.CallMetrics{InputTokens: 200, OutputTokens: 50, CostUSD: 0.002}},
		Rounds: []types.Round{
			{Number: 1, Purpose: types.PurposeInitial, NewSourceCount: 2, Status: types.RoundPartial,
				Calls: []types.APICall{call("pubmed", true), call("openalex", false)}},
			{Number: 2, Purpose: types.PurposeGapFill, NewSourceCount: 0, Status: types.RoundPartial,
				Calls: []types.APICall{call("pubmed", true), call("openalex", false)}},
		},
		Reflections: []types.Reflection{
			{Round: 1, EvidenceQuality: types.EvidenceModerate, Metrics: types.CallMetrics{InputTokens: 300, OutputTokens: 30, CostUSD: 0.003}},
		},
		Sources: []types.SourceItem{src1, src2},
		Ranking: &types.SourceRanking{Selected: 1, TopSources: []types.RankedSource{{Source: src1, Score: 0.8}}},
		Synthesis: &types.ResponseSynthesis{InputTokens: 1000, OutputTokens: 400, CostUSD: 0.01},
		Verification: &types.CitationVerification{Available: true, Score: 0.4},
		StageDurations: map[string]time.Duration{
			"routing":   500 * time.Millisecond,
			"research":  6 * time.Second,
			"synthesis": 3 * time.Second,
		},
		Degradations: []string{"planning: default plan"},
		Status:       types.JourneyCompleted,
		StartedAt:    start,
		EndedAt:      start.Add(10 * time.Second),
	}
}

// --- Summarize ---

func TestSummarize_Totals(t *testing.T) {
	s := Summarize(deepJourney())
	assert.Equal(t, "req-1", s.RequestID)
	assert.Equal(t, types.TierDeep, s.Tier)
	assert.Equal(t, 10*time.Second, s.TotalDuration)
	assert.InDelta(t, 0.016, s.TotalCostUSD, 1e-12)
	assert.Equal(t, 120+250+330+1400, s.TotalTokens)
	assert.Equal(t, 2, s.Rounds)
	assert.Equal(t, 4, s.APICalls)
	assert.Equal(t, 2, s.FailedAPICalls)
	assert.Equal(t, 2, s.Sources)
	assert.Equal(t, 1, s.SelectedSources)
	assert.Equal(t, types.EvidenceModerate, s.FinalEvidenceQuality)
	assert.Equal(t, 0.4, s.CitationScore)
}

func TestSummarize_Bottlenecks(t *testing.T) {
	s := Summarize(deepJourney())
	require.Len(t, s.Bottlenecks, 3)
	assert.Equal(t, "research", s.Bottlenecks[0].Stage)
	assert.Contains(t, s.Bottlenecks[0].Detail, "63%")
	assert.Equal(t, types.Bottleneck{Stage: "provider", Detail: "openalex failed 2 of 2 calls"}, s.Bottlenecks[1])
	assert.Equal(t, types.Bottleneck{Stage: "research", Detail: "round 2 added no new sources"}, s.Bottlenecks[2])

	joined := strings.Join(s.Recommendations, "\n")
	assert.Contains(t, joined, "openalex")
	assert.Contains(t, joined, "max_rounds")
	assert.Contains(t, joined, "citation accuracy")
	assert.Contains(t, joined, "degraded")
}

func TestSummarize_Minimal(t *testing.T) {
	j := &types.Journey{
		RequestID:      "r",
		Routing:        &types.RouterDecision{Tier: types.TierModelOnly},
		StageDurations: map[string]time.Duration{"synthesis": time.Second},
		Status:         types.JourneyCompleted,
	}
	s := Summarize(j)
	assert.Equal(t, types.TierModelOnly, s.Tier)
	assert.Equal(t, -1.0, s.CitationScore)
	assert.Empty(t, s.Bottlenecks, "a single stage is never a bottleneck")
	assert.Empty(t, s.Recommendations)
	assert.Zero(t, s.TotalDuration)

	assert.Equal(t, types.Tier(-1), Summarize(&types.Journey{}).Tier)
}

// --- Store ---

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(types.StoreConfig{Path: filepath.Join(t.TempDir(), "db", "journeys.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordGetList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	j := deepJourney()
	require.NoError(t, s.Record(ctx, j))

	other := &types.Journey{RequestID: "req-2", Query: types.Query{Text: "A1C?", UserID: "u2"},
		Routing: &types.RouterDecision{Tier: types.TierModelOnly}, Status: types.JourneyCancelled,
		StartedAt: start.Add(time.Hour), EndedAt: start.Add(time.Hour + time.Second)}
	require.NoError(t, s.Record(ctx, other))

	got, err := s.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, j.Query.Text, got.Query.Text)
	assert.Len(t, got.Rounds, 2)
	assert.Equal(t, j.Sources[0].Authors, got.Sources[0].Authors)

	all, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "req-2", all[0].RequestID, "newest first")
	assert.Equal(t, types.TierDeep, all[1].Tier)
	assert.Equal(t, 10*time.Second, all[1].Duration)
	assert.Equal(t, 2, all[1].Rounds)
	assert.True(t, all[1].StartedAt.Equal(start))

	byUser, err := s.List(ctx, ListOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)

	byStatus, err := s.List(ctx, ListOptions{Status: types.JourneyCancelled})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "req-2", byStatus[0].RequestID)
}

func TestStore_RecordReplaces(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	j := deepJourney()
	require.NoError(t, s.Record(ctx, j))
	j.Status = types.JourneyPartial
	require.NoError(t, s.Record(ctx, j))

	all, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.JourneyPartial, all[0].Status)

	stats, err := s.ProviderStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, ProviderStats{Provider: "openalex", Calls: 2, Failures: 2, AvgLatencyMS: 200}, stats[0])
	assert.Equal(t, ProviderStats{Provider: "pubmed", Calls: 2, Failures: 0, AvgLatencyMS: 200}, stats[1])
}

func TestStore_GetMissing(t *testing.T) {
	_, err := newStore(t).Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNewStore_EmptyPath(t *testing.T) {
	_, err := NewStore(types.StoreConfig{})
	assert.Error(t, err)
}

// --- Export ---

func TestWrite_Formats(t *testing.T) {
	j := deepJourney()

	var y bytes.Buffer
	require.NoError(t, Write(&y, j, FormatYAML))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(y.Bytes(), &fromYAML))
	assert.Contains(t, fromYAML, "summary")
	assert.Contains(t, fromYAML, "journey")

	var js bytes.Buffer
	require.NoError(t, Write(&js, j, FormatJSON))
	var fromJSON Export
	require.NoError(t, json.Unmarshal(js.Bytes(), &fromJSON))
	assert.Equal(t, "req-1", fromJSON.Summary.RequestID)

	assert.Error(t, Write(&js, j, "xml"))
}

func TestWriteCSL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, deepJourney(), FormatCSL))

	var items []CSLItem
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &items))
	require.Len(t, items, 1, "only selected sources are exported")
	item := items[0]
	assert.Equal(t, "S001", item.ID)
	assert.Equal(t, "article-journal", item.Type)
	assert.Equal(t, "BMJ", item.ContainerTitle)
	assert.Equal(t, "10.1/a", item.DOI)
	assert.Equal(t, [][]int{{2021}}, item.Issued.DateParts)
	assert.Equal(t, []CSLName{{Given: "Jane Q", Family: "Smith"}, {Literal: "Lee"}}, item.Author)
}

func TestToCSLItem_Types(t *testing.T) {
	assert.Equal(t, "dataset", toCSLItem(types.SourceItem{Type: types.SourceTrial}).Type)
	assert.Equal(t, "webpage", toCSLItem(types.SourceItem{Type: types.SourceWeb}).Type)
	assert.Equal(t, "article", toCSLItem(types.SourceItem{}).Type)
	assert.Nil(t, toCSLItem(types.SourceItem{}).Issued)
}
