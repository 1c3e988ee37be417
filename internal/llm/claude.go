// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

const claudeDefaultMaxTokens = 4096

// Claude is a Model backed by the Claude Messages API.
type Claude struct {
	APIKey string
	Client *http.Client
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream,omitempty"`
}

// claudeMessage is a single message in the Claude API conversation.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      claudeUsage     `json:"usage"`
}

// claudeContent is a content block in the Claude API response.
type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// claudeEvent is one server-sent event of a streaming response.
type claudeEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage claudeUsage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage claudeUsage `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Claude) post(ctx context.Context, req CompletionRequest, stream bool) (*http.Response, error) {
	body := claudeRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = claudeDefaultMaxTokens
	}
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem {
			body.System = strings.TrimSpace(body.System + "\n" + m.Content)
			continue
		}
		body.Messages = append(body.Messages, claudeMessage{Role: string(m.Role), Content: m.Content})
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(b))
	}
	return resp, nil
}

// Complete sends one Messages API request and joins the text blocks.
func (c *Claude) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	start := time.Now()
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return Completion{}, fmt.Errorf("decoding Claude response: %w", err)
	}

	var text strings.Builder
	for _, block := range cResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Completion{}, fmt.Errorf("no text content in Claude API response")
	}

	return Completion{
		Text:         text.String(),
		Model:        req.Model,
		FinishReason: claudeFinish(cResp.StopReason),
		Usage:        Usage{InputTokens: cResp.Usage.InputTokens, OutputTokens: cResp.Usage.OutputTokens},
		Latency:      time.Since(start),
	}, nil
}

// Stream opens a streaming Messages API request.
func (c *Claude) Stream(ctx context.Context, req CompletionRequest) (TokenStream, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &claudeStream{body: resp.Body, scanner: sc}, nil
}

type claudeStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	usage   Usage
	finish  string
	done    bool
}

func (s *claudeStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev claudeEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			return "", fmt.Errorf("decoding stream event: %w", err)
		}

		switch ev.Type {
		case "message_start":
			s.usage.InputTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				return ev.Delta.Text, nil
			}
		case "message_delta":
			if ev.Delta.StopReason != "" {
				s.finish = claudeFinish(ev.Delta.StopReason)
			}
			if ev.Usage.OutputTokens > 0 {
				s.usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			s.done = true
			if s.finish == "" {
				s.finish = types.FinishStop
			}
			return "", io.EOF
		case "error":
			return "", fmt.Errorf("Claude stream error %s: %s", ev.Error.Type, ev.Error.Message)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("reading Claude stream: %w", err)
	}
	return "", fmt.Errorf("Claude stream ended without message_stop")
}

func (s *claudeStream) Usage() Usage         { return s.usage }
func (s *claudeStream) FinishReason() string { return s.finish }
func (s *claudeStream) Close() error         { return s.body.Close() }

func claudeFinish(stopReason string) string {
	switch stopReason {
	case "max_tokens":
		return types.FinishLength
	case "", "end_turn", "stop_sequence":
		return types.FinishStop
	default:
		return stopReason
	}
}
