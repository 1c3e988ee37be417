// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// OpenAI is a Model backed by the Chat Completions API. BaseURL may point
// at any OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAI builds an OpenAI backend. An empty baseURL keeps the default.
func NewOpenAI(apiKey, baseURL string, logger *zap.Logger) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), logger: logging.OrNop(logger)}
}

func (o *OpenAI) chatRequest(req CompletionRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case types.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case types.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	cr := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		cr.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return cr
}

// Complete runs a single chat completion.
func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(req))
	if err != nil {
		return Completion{}, fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("chat completion returned no choices")
	}

	o.logger.Debug("model completion",
		zap.String("model", resp.Model),
		zap.String("stage", string(req.Stage)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        req.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage:        Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
		Latency:      time.Since(start),
	}, nil
}

// Stream opens a streaming chat completion with usage reporting enabled.
func (o *OpenAI) Stream(ctx context.Context, req CompletionRequest) (TokenStream, error) {
	cr := o.chatRequest(req)
	cr.Stream = true
	cr.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := o.client.CreateChatCompletionStream(ctx, cr)
	if err != nil {
		return nil, fmt.Errorf("opening chat completion stream: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	usage  Usage
	finish string
}

func (s *openAIStream) Next() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			if s.finish == "" {
				s.finish = types.FinishStop
			}
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if resp.Usage != nil {
			s.usage = Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			s.finish = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			return choice.Delta.Content, nil
		}
	}
}

func (s *openAIStream) Usage() Usage         { return s.usage }
func (s *openAIStream) FinishReason() string { return s.finish }

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
