// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package synth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

var answer = []string{"Metformin ", "can ", "lower ", "B12 ", "levels ", "[1]", "."}

func newStreamer(reply llm.FakeReply) (*Streamer, *llm.Fake) {
	fake := llm.NewFake().On(types.StageSynthesis, reply)
	models := types.ModelsConfig{Synthesis: "synth-model", Prices: map[string]types.ModelPrice{"synth-model": {Input: 2, Output: 8}}}
	return New(fake, models, types.SynthesisConfig{Temperature: 0.3, MaxTokens: 800}, nil), fake
}

func ranked(titles ...string) []types.RankedSource {
	out := make([]types.RankedSource, len(titles))
	for i, t := range titles {
		out[i] = types.RankedSource{Source: types.SourceItem{Title: t, Year: 2020, Snippet: "abstract of " + t}}
	}
	return out
}

func collect(tokens *[]string) func(string) error {
	return func(tok string) error {
		*tokens = append(*tokens, tok)
		return nil
	}
}

func TestStream_Complete(t *testing.T) {
	s, _ := newStreamer(llm.FakeReply{Tokens: answer, Usage: llm.Usage{InputTokens: 1000, OutputTokens: 7}})

	var got []string
	syn, err := s.Stream(context.Background(), Input{Query: types.Query{Text: "metformin b12"}, Sources: ranked("A"), Tier: types.TierHybrid}, collect(&got))
	require.NoError(t, err)

	assert.Equal(t, answer, got)
	assert.Equal(t, strings.Join(answer, ""), syn.Text)
	assert.Equal(t, types.FinishStop, syn.FinishReason)
	assert.False(t, syn.Partial)
	assert.True(t, syn.Streaming)
	assert.Equal(t, 7, syn.TokensEmitted)
	assert.Equal(t, 1, syn.SourcesProvided)
	assert.Equal(t, "synth-model", syn.Model)
	assert.Equal(t, 0.3, syn.Temperature)
	assert.InDelta(t, (1000*2+7*8)/1e6, syn.CostUSD, 1e-12)
}

// Cancelling after N tokens yields a prefix of the full answer, marked partial.
func TestStream_CancelKeepsPrefix(t *testing.T) {
	s, _ := newStreamer(llm.FakeReply{Tokens: answer, Delay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	syn, err := s.Stream(ctx, Input{Query: types.Query{Text: "q"}}, func(tok string) error {
		got = append(got, tok)
		if len(got) == 3 {
			cancel()
		}
		return nil
	})

	require.ErrorIs(t, err, types.ErrCancelled)
	assert.True(t, syn.Partial)
	assert.Equal(t, types.FinishCancelled, syn.FinishReason)
	assert.Equal(t, 3, syn.TokensEmitted)
	assert.Equal(t, strings.Join(got, ""), syn.Text)
	assert.True(t, strings.HasPrefix(strings.Join(answer, ""), syn.Text))
}

func TestStream_DeadlineIsTimeout(t *testing.T) {
	s, _ := newStreamer(llm.FakeReply{Tokens: answer, Delay: 50 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	var got []string
	syn, err := s.Stream(ctx, Input{Query: types.Query{Text: "q"}}, collect(&got))
	require.ErrorIs(t, err, types.ErrDeadlineExceeded)
	assert.Equal(t, types.FinishTimeout, syn.FinishReason)
	assert.True(t, syn.Partial)
	assert.Equal(t, len(got), syn.TokensEmitted)
	assert.Less(t, syn.TokensEmitted, len(answer))
}

func TestStream_ProviderErrorMidStream(t *testing.T) {
	s, _ := newStreamer(llm.FakeReply{Tokens: answer, Err: errors.New("overloaded"), StreamErrAfter: 4})

	var got []string
	syn, err := s.Stream(context.Background(), Input{Query: types.Query{Text: "q"}}, collect(&got))
	require.Error(t, err)
	assert.True(t, types.IsStage(err, types.StageSynthesis))
	assert.True(t, syn.Partial)
	assert.Equal(t, types.FinishError, syn.FinishReason)
	assert.Equal(t, "Metformin can lower B12 ", syn.Text)
	assert.Len(t, got, 4)
}

func TestStream_ProviderErrorBeforeTokens(t *testing.T) {
	s, _ := newStreamer(llm.FakeReply{Err: errors.New("HTTP 500")})

	emitted := 0
	syn, err := s.Stream(context.Background(), Input{Query: types.Query{Text: "q"}}, func(string) error {
		emitted++
		return nil
	})
	require.Error(t, err)
	assert.True(t, types.IsStage(err, types.StageSynthesis))
	assert.False(t, syn.Partial)
	assert.Empty(t, syn.Text)
	assert.Zero(t, emitted)
}

func TestStream_EmitErrorStops(t *testing.T) {
	s, _ := newStreamer(llm.FakeReply{Tokens: answer})
	n := 0
	syn, err := s.Stream(context.Background(), Input{Query: types.Query{Text: "q"}}, func(string) error {
		n++
		if n == 2 {
			return errors.New("client gone")
		}
		return nil
	})
	require.ErrorIs(t, err, types.ErrCancelled)
	assert.True(t, syn.Partial)
	assert.Equal(t, 1, syn.TokensEmitted)
	assert.Equal(t, "Metformin ", syn.Text)
}

func TestStream_Prompt(t *testing.T) {
	s, fake := newStreamer(llm.FakeReply{Tokens: []string{"ok"}})
	q := types.Query{
		Text:    "Is it safe?",
		History: []types.Message{{Role: types.RoleSystem, Content: "ignored"}, {Role: types.RoleUser, Content: "earlier"}},
		Profile: &types.HealthProfile{Conditions: []string{"CKD"}, Age: 60},
	}
	_, err := s.Stream(context.Background(), Input{Query: q, Sources: ranked("First", "Second"), Tier: types.TierDeep}, collect(new([]string)))
	require.NoError(t, err)

	require.Len(t, fake.Requests, 1)
	req := fake.Requests[0]
	assert.Equal(t, systemPrompt, req.System)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "earlier", req.Messages[0].Content)
	prompt := req.Messages[1].Content
	assert.Contains(t, prompt, "[1] First (2020)")
	assert.Contains(t, prompt, "[2] Second (2020)")
	assert.Contains(t, prompt, "abstract of Second")
	assert.Contains(t, prompt, "User health profile: conditions: CKD; age: 60")
	assert.Contains(t, prompt, "Question: Is it safe?")
}

func TestStream_ModelOnlyHasNoSources(t *testing.T) {
	s, fake := newStreamer(llm.FakeReply{Tokens: []string{"HbA1c ", "is..."}})
	syn, err := s.Stream(context.Background(), Input{Query: types.Query{Text: "A1C nedir?"}, Tier: types.TierModelOnly}, collect(new([]string)))
	require.NoError(t, err)
	assert.Zero(t, syn.SourcesProvided)
	assert.NotContains(t, fake.Requests[0].Messages[0].Content, "Sources:")

	s, fake = newStreamer(llm.FakeReply{Tokens: []string{"You asked about magnesium."}})
	_, err = s.Stream(context.Background(), Input{Query: types.Query{Text: "what did we discuss?"}, Tier: types.TierRecall}, collect(new([]string)))
	require.NoError(t, err)
	assert.Contains(t, fake.Requests[0].Messages[0].Content, "conversation above only")
}
