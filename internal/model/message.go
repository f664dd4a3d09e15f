// Package model defines the data types shared by the agent core: messages,
// tool calls and results, engine/agent events, sessions, and verification
// outcomes. Types here carry no behavior beyond small invariant helpers;
// the components in sibling packages own the logic.
package model

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is an entry in a session's conversation context. Messages are
// never mutated in place; they are appended by the loop or by steering
// injection and removed only by compaction.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HasToolCalls reports whether this assistant message carries pending tool
// calls that must be matched by following tool-role messages.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolCall is an engine's request to invoke a named tool with structured
// arguments. IDs are unique within a session run.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID    string         `json:"tool_call_id"`
	Success       bool           `json:"success"`
	Output        string         `json:"output"`
	Error         string         `json:"error,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	StateSnapshot *StateSnapshot `json:"state_snapshot,omitempty"`
}

// StateSnapshot is an optional key/value capture a tool produces before or
// after a mutating call, used only by verification. A failure to produce
// one is never fatal.
type StateSnapshot struct {
	Timestamp   time.Time      `json:"timestamp"`
	State       map[string]any `json:"state"`
	Description string         `json:"description,omitempty"`
}

// VerificationOutcome is the result category of a task-level verification pass.
type VerificationOutcome string

const (
	VerificationSuccess VerificationOutcome = "success"
	VerificationPartial VerificationOutcome = "partial"
	VerificationFailure VerificationOutcome = "failure"
)

// VerificationResult is produced by an optional verifier after a run reaches
// a final answer.
type VerificationResult struct {
	Outcome     VerificationOutcome `json:"outcome"`
	Confidence  float64             `json:"confidence"`
	Reasoning   string              `json:"reasoning,omitempty"`
	Issues      []string            `json:"issues,omitempty"`
	Suggestions []string            `json:"suggestions,omitempty"`
}

// Usage carries token accounting returned by an engine on completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
