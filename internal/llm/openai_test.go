// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

func TestOpenAIComplete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])
		assert.NotNil(t, body["response_format"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"tier\":2}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":20,"completion_tokens":6,"total_tokens":26}}`)
	}))
	defer ts.Close()

	o := NewOpenAI("sk-test", ts.URL+"/v1", nil)
	got, err := o.Complete(context.Background(), CompletionRequest{
		Model:    "gpt-test",
		System:   "classify",
		Messages: UserMessage("is coffee healthy?"),
		JSON:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"tier":2}`, got.Text)
	assert.Equal(t, Usage{InputTokens: 20, OutputTokens: 6}, got.Usage)
}

func TestOpenAIStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Omega-3 "}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lowers TG [2]."}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":40,"completion_tokens":7,"total_tokens":47}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer ts.Close()

	o := NewOpenAI("sk-test", ts.URL+"/v1", nil)
	s, err := o.Stream(context.Background(), CompletionRequest{Model: "gpt-test", Messages: UserMessage("q")})
	require.NoError(t, err)
	defer s.Close()

	var text string
	for {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		text += tok
	}
	assert.Equal(t, "Omega-3 lowers TG [2].", text)
	assert.Equal(t, Usage{InputTokens: 40, OutputTokens: 7}, s.Usage())
	assert.Equal(t, types.FinishStop, s.FinishReason())
}
