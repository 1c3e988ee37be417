// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the evidence-engine journey:
// the incoming query, routing decision, research plan, rounds, sources,
// reflections, ranking, synthesis, citation verification, and the journey
// summary that aggregates them.
//
// See docs/ARCHITECTURE.md § Data Model.
package types

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one prior turn of the conversation.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// HealthProfile is the optional structured user-health context sent with a query.
type HealthProfile struct {
	Conditions  []string `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Medications []string `json:"medications,omitempty" yaml:"medications,omitempty"`
	Age         int      `json:"age,omitempty" yaml:"age,omitempty"`
	Sex         string   `json:"sex,omitempty" yaml:"sex,omitempty"`
}

// IsEmpty reports whether the profile carries no information.
func (p *HealthProfile) IsEmpty() bool {
	return p == nil || (len(p.Conditions) == 0 && len(p.Medications) == 0 && p.Age == 0 && p.Sex == "")
}

// Request is the external input of the streaming contract.
type Request struct {
	Query               string         `json:"query" yaml:"query"`
	UserID              string         `json:"userId" yaml:"user_id"`
	ConversationHistory []Message      `json:"conversationHistory,omitempty" yaml:"conversation_history,omitempty"`
	Profile             *HealthProfile `json:"profile,omitempty" yaml:"profile,omitempty"`
	Language            string         `json:"language,omitempty" yaml:"language,omitempty"`
}

// Query is the immutable per-request input handed to every stage.
type Query struct {
	// ID is the request identifier assigned when the journey starts.
	ID string `json:"id" yaml:"id"`

	// Text is the original user question.
	Text string `json:"text" yaml:"text"`

	// Language is the detected (or client-declared) language code, e.g. "en", "tr".
	Language string `json:"language" yaml:"language"`

	// UserID identifies the caller for persistence and analytics.
	UserID string `json:"user_id" yaml:"user_id"`

	// Profile is the optional structured health profile.
	Profile *HealthProfile `json:"profile,omitempty" yaml:"profile,omitempty"`

	// History holds prior turns in conversation order.
	History []Message `json:"history,omitempty" yaml:"history,omitempty"`

	// ReceivedAt is when the request entered the engine.
	ReceivedAt time.Time `json:"received_at" yaml:"received_at"`
}

// HasHistory reports whether prior turns exist.
func (q Query) HasHistory() bool {
	return len(q.History) > 0
}

// CallMetrics records the cost of one generative-model call.
type CallMetrics struct {
	Model        string        `json:"model" yaml:"model"`
	InputTokens  int           `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int           `json:"output_tokens" yaml:"output_tokens"`
	CostUSD      float64       `json:"cost_usd" yaml:"cost_usd"`
	Latency      time.Duration `json:"latency" yaml:"latency"`
}

// TotalTokens returns input plus output tokens.
func (m CallMetrics) TotalTokens() int {
	return m.InputTokens + m.OutputTokens
}
