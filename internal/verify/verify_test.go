// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

var sources = []types.SourceItem{
	{ID: "S001", Title: "Metformin lowers vitamin B12 levels"},
	{ID: "S002", Title: "Magnesium and sleep"},
	{ID: "S003", Title: "Metformin and kidney function outcomes in elderly patients"},
}

func newVerifier() *Verifier {
	return New(types.VerificationConfig{AccurateThreshold: 0.35, NuanceLostThreshold: 0.15}, nil)
}

func TestVerify(t *testing.T) {
	text := "Metformin lowers vitamin B12 levels [1]. " +
		"Metformin use reduces appetite in adults [3]. " +
		"This sentence has no citation. " +
		"Fish oil cures everything [7]."

	got := newVerifier().Verify(context.Background(), text, sources)
	require.True(t, got.Available)
	require.Len(t, got.Checks, 3)

	assert.Equal(t, 1, got.Checks[0].SourceIndex)
	assert.Equal(t, "S001", got.Checks[0].SourceID)
	assert.Equal(t, types.AccuracyAccurate, got.Checks[0].Accuracy)
	assert.InDelta(t, 1.0, got.Checks[0].Similarity, 1e-4)

	assert.Equal(t, types.AccuracyNuanceLost, got.Checks[1].Accuracy)
	assert.InDelta(t, 0.1826, got.Checks[1].Similarity, 1e-4)

	assert.Equal(t, 7, got.Checks[2].SourceIndex)
	assert.Equal(t, types.AccuracyInaccurate, got.Checks[2].Accuracy)
	assert.Zero(t, got.Checks[2].Similarity)
	assert.Empty(t, got.Checks[2].SourceID)

	assert.InDelta(t, 0.5, got.Score, 1e-9)
}

func TestVerify_MultipleMarkers(t *testing.T) {
	got := newVerifier().Verify(context.Background(), "Metformin lowers vitamin B12 levels [1, 2].", sources)
	require.Len(t, got.Checks, 2)
	assert.Equal(t, types.AccuracyAccurate, got.Checks[0].Accuracy)
	assert.Equal(t, types.AccuracyInaccurate, got.Checks[1].Accuracy)
	assert.InDelta(t, 0.5, got.Score, 1e-9)
}

func TestVerify_NoCitations(t *testing.T) {
	for _, text := range []string{"", "HbA1c reflects average glucose over three months."} {
		got := newVerifier().Verify(context.Background(), text, nil)
		assert.True(t, got.Available)
		assert.Empty(t, got.Checks)
		assert.NotNil(t, got.Checks)
		assert.Zero(t, got.Score)
	}
}

func TestVerify_CancelledIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := newVerifier().Verify(ctx, "Metformin lowers vitamin B12 levels [1].", sources)
	assert.False(t, got.Available)
	assert.Contains(t, got.Error, "context canceled")
}

func TestNew_Defaults(t *testing.T) {
	v := New(types.VerificationConfig{}, nil)
	assert.Equal(t, 0.35, v.AccurateThreshold)
	assert.Equal(t, 0.15, v.NuanceLostThreshold)
}

// --- helpers ---

func TestMarkers(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"no markers", nil},
		{"one [2].", []int{2}},
		{"list [1, 3] and [3,4]", []int{1, 3, 4}},
		{"not a marker [a]", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Markers(tt.in), tt.in)
	}
}

func TestCosine(t *testing.T) {
	a := termVector("vitamin D deficiency in winter")
	assert.InDelta(t, 1.0, cosine(a, a), 1e-9)
	assert.Zero(t, cosine(a, termVector("the and of")))
	assert.Zero(t, cosine(nil, a))
}
