package model

import "time"

// AutonomyLevel declares how permissive a session's tool execution is.
type AutonomyLevel string

const (
	AutonomyReadonly   AutonomyLevel = "readonly"
	AutonomySupervised AutonomyLevel = "supervised"
	AutonomyFull       AutonomyLevel = "full"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionIdle   SessionStatus = "idle"
	SessionEnded  SessionStatus = "ended"
)

// SessionConfig carries the per-session settings supplied at creation.
type SessionConfig struct {
	EngineID     string
	Model        string
	Provider     string
	Autonomy     AutonomyLevel
	Cwd          string
	SystemPrompt string
	ChannelID    string
	UserID       string
}

// SessionMetadata accumulates run-level counters for a session.
type SessionMetadata struct {
	Iterations      int `json:"iterations"`
	ToolInvocations int `json:"tool_invocations"`
	LLMCalls        int `json:"llm_calls"`
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	Errors          int `json:"errors"`
}

// Session is a single conversational thread owning exactly one context
// manager and one steering queue.
type Session struct {
	ID           string          `json:"session_id"`
	Config       SessionConfig   `json:"-"`
	Status       SessionStatus   `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActiveAt time.Time       `json:"last_active_at"`
	Metadata     SessionMetadata `json:"metadata"`
}

// ChannelID returns the session's associated channel identifier, if any.
func (s Session) ChannelID() string { return s.Config.ChannelID }

// UserID returns the session's associated external user identifier, if any.
func (s Session) UserID() string { return s.Config.UserID }
