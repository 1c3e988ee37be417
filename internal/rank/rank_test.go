// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package rank

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func src(key string, rel float64, year int, q types.QualityRating) types.SourceItem {
	return types.SourceItem{
		Key: key, Title: "Title " + key, Snippet: "abstract", Relevance: rel, Year: year,
		Quality: q, Type: types.SourceArticle,
	}
}

func opts() Options {
	return Options{Weights: types.DefaultRankingWeights(), Now: now, RecencyWindowYears: 10}
}

func TestRank_OrdersByScore(t *testing.T) {
	sources := []types.SourceItem{
		src("old-low", 0.2, 1990, types.QualityLow),
		src("new-high", 0.9, 2025, types.QualityHigh),
		src("mid", 0.6, 2018, types.QualityModerate),
	}
	r := Rank(sources, opts())

	require.Len(t, r.TopSources, 3)
	assert.Equal(t, "new-high", r.TopSources[0].Source.Key)
	assert.Equal(t, "mid", r.TopSources[1].Source.Key)
	assert.Equal(t, "old-low", r.TopSources[2].Source.Key)
	assert.Equal(t, 3, r.TotalEvaluated)
	assert.Equal(t, 3, r.Selected)
	assert.Empty(t, r.Exclusions)

	for _, rs := range r.TopSources {
		assert.Len(t, rs.Breakdown, 4)
		assert.GreaterOrEqual(t, rs.Score, 0.0)
		assert.LessOrEqual(t, rs.Score, 1.0)
	}
}

func TestRank_TieBreaks(t *testing.T) {
	// Identical on every criterion except the tie-breakers.
	a := src("b-key", 0.5, 2020, types.QualityModerate)
	b := src("a-key", 0.5, 2020, types.QualityModerate)
	w := types.RankingWeights{Venue: 1} // only venue counts, so scores tie
	o := Options{Weights: w, Now: now}

	r := Rank([]types.SourceItem{a, b}, o)
	assert.Equal(t, "a-key", r.TopSources[0].Source.Key, "key breaks the final tie")

	c := src("z", 0.9, 2020, types.QualityModerate)
	r = Rank([]types.SourceItem{a, c}, o)
	assert.Equal(t, "z", r.TopSources[0].Source.Key, "relevance breaks score ties")

	d := src("y", 0.5, 2024, types.QualityModerate)
	r = Rank([]types.SourceItem{a, d}, o)
	assert.Equal(t, "y", r.TopSources[0].Source.Key, "newer breaks relevance ties")
}

func TestRank_Exclusions(t *testing.T) {
	sources := []types.SourceItem{
		{Key: "empty"},
		{Key: "no-body", Title: "Has title only"},
		src("weak", 0.0, 1970, types.QualityLow),
		src("a", 0.9, 2025, types.QualityHigh),
		src("b", 0.8, 2024, types.QualityHigh),
		src("c", 0.7, 2023, types.QualityHigh),
	}
	o := opts()
	o.TopN = 2
	o.MinScore = 0.3

	r := Rank(sources, o)
	assert.Equal(t, 6, r.TotalEvaluated)
	assert.Equal(t, 2, r.Selected)
	assert.Equal(t, []types.ExclusionReason{
		{Reason: ExcludedMissingContent, Count: 2},
		{Reason: ExcludedBelowMinScore, Count: 1},
		{Reason: ExcludedBeyondTopN, Count: 1},
	}, r.Exclusions)
	assert.Equal(t, []string{"a", "b"}, []string{r.TopSources[0].Source.Key, r.TopSources[1].Source.Key})
	assert.Equal(t, r.TotalEvaluated, r.Selected+2+1+1)
}

func TestRank_Deterministic(t *testing.T) {
	sources := []types.SourceItem{
		src("a", 0.5, 2020, types.QualityModerate),
		src("b", 0.5, 2020, types.QualityModerate),
		src("c", 0.7, 2015, types.QualityHigh),
	}
	first := Rank(sources, opts())
	reversed := []types.SourceItem{sources[2], sources[1], sources[0]}
	second := Rank(reversed, opts())
	assert.Equal(t, first.TopSources, second.TopSources)
}

func TestRank_EmptyInput(t *testing.T) {
	r := Rank(nil, opts())
	assert.NotNil(t, r.TopSources)
	assert.Zero(t, r.Selected)
	assert.Equal(t, []types.SourceItem{}, r.Sources())
}

func TestRank_ZeroWeightsUseDefaults(t *testing.T) {
	r := Rank([]types.SourceItem{src("a", 0.5, 2020, types.QualityHigh)}, Options{Now: now})
	assert.Equal(t, types.DefaultRankingWeights(), r.Weights)
}

func TestCriteria(t *testing.T) {
	assert.Equal(t, 1.0, recencyScore(2026, 2026, 10))
	assert.Equal(t, 1.0, recencyScore(2027, 2026, 10))
	assert.InDelta(t, 0.5, recencyScore(2021, 2026, 10), 1e-9)
	assert.Equal(t, 0.0, recencyScore(1990, 2026, 10))
	assert.Equal(t, 0.3, recencyScore(0, 2026, 10))

	assert.Equal(t, 0.0, citationScore(0, 100))
	assert.Equal(t, 1.0, citationScore(100, 100))
	assert.Less(t, citationScore(10, 100), 1.0)

	high := venueScore(types.SourceItem{Quality: types.QualityHigh, Type: types.SourceArticle, ImpactMetric: 1})
	web := venueScore(types.SourceItem{Quality: types.QualityLow, Type: types.SourceWeb})
	assert.Equal(t, 1.0, high)
	assert.Less(t, web, 0.3)
}

// --- LoadWeights ---

func TestLoadWeights(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	w, err := LoadWeights(write("ok.yaml", "relevance: 0.5\nrecency: 0.1\nvenue_quality: 0.3\ncitations: 0.1\n"))
	require.NoError(t, err)
	assert.Equal(t, types.RankingWeights{Relevance: 0.5, Recency: 0.1, Venue: 0.3, Citations: 0.1}, w)

	_, err = LoadWeights(write("neg.yaml", "relevance: -1\nrecency: 2\n"))
	assert.Error(t, err)

	_, err = LoadWeights(write("zero.yaml", "relevance: 0\n"))
	assert.Error(t, err)

	_, err = LoadWeights(write("bad.yaml", "relevance: [\n"))
	assert.Error(t, err)

	_, err = LoadWeights(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
