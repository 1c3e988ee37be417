// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// FakeReply scripts one response of the Fake model.
type FakeReply struct {
	Text string
	Err  error

	// Tokens, when set, is streamed instead of Text.
	Tokens []string

	// StreamErrAfter fails the stream with Err after that many tokens.
	// Zero fails before the first token when Err is set.
	StreamErrAfter int

	// Delay is slept before each streamed token, honouring ctx.
	Delay time.Duration

	Usage Usage
}

// Fake is a scripted Model for tests and dry runs. Replies are consumed per
// stage in order; the last reply for a stage repeats once the script runs out.
type Fake struct {
	mu      sync.Mutex
	replies map[types.Stage][]FakeReply
	calls   map[types.Stage]int

	// Requests records every request received, in order.
	Requests []CompletionRequest
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{replies: make(map[types.Stage][]FakeReply), calls: make(map[types.Stage]int)}
}

// On appends replies for stage and returns f for chaining.
func (f *Fake) On(stage types.Stage, replies ...FakeReply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[stage] = append(f.replies[stage], replies...)
	return f
}

// Calls returns how many requests stage has received.
func (f *Fake) Calls(stage types.Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

func (f *Fake) next(req CompletionRequest) (FakeReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	script := f.replies[req.Stage]
	n := f.calls[req.Stage]
	f.calls[req.Stage] = n + 1
	if len(script) == 0 {
		return FakeReply{}, fmt.Errorf("fake model: no reply scripted for stage %q", req.Stage)
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n], nil
}

// Complete returns the next scripted reply for req.Stage.
func (f *Fake) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	r, err := f.next(req)
	if err != nil {
		return Completion{}, err
	}
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	if r.Err != nil {
		return Completion{}, r.Err
	}
	text := r.Text
	if text == "" {
		for _, t := range r.Tokens {
			text += t
		}
	}
	return Completion{Text: text, Model: req.Model, FinishReason: types.FinishStop, Usage: r.Usage}, nil
}

// Stream streams the next scripted reply for req.Stage token by token.
func (f *Fake) Stream(ctx context.Context, req CompletionRequest) (TokenStream, error) {
	r, err := f.next(req)
	if err != nil {
		return nil, err
	}
	if r.Err != nil && r.StreamErrAfter == 0 && len(r.Tokens) == 0 {
		return nil, r.Err
	}
	tokens := r.Tokens
	if len(tokens) == 0 && r.Text != "" {
		tokens = []string{r.Text}
	}
	return &fakeStream{ctx: ctx, reply: r, tokens: tokens}, nil
}

type fakeStream struct {
	ctx    context.Context
	reply  FakeReply
	tokens []string
	pos    int
	finish string
}

func (s *fakeStream) Next() (string, error) {
	if s.reply.Err != nil && s.pos == s.reply.StreamErrAfter {
		return "", s.reply.Err
	}
	if s.pos >= len(s.tokens) {
		s.finish = types.FinishStop
		return "", io.EOF
	}
	if s.reply.Delay > 0 {
		timer := time.NewTimer(s.reply.Delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return "", s.ctx.Err()
		case <-timer.C:
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}
	tok := s.tokens[s.pos]
	s.pos++
	return tok, nil
}

func (s *fakeStream) Usage() Usage {
	if s.reply.Usage != (Usage{}) {
		return s.reply.Usage
	}
	return Usage{OutputTokens: s.pos}
}

func (s *fakeStream) FinishReason() string { return s.finish }
func (s *fakeStream) Close() error         { return nil }
