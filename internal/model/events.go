package model

// EngineEventType discriminates EngineEvent variants.
type EngineEventType string

const (
	EngineStarted       EngineEventType = "started"
	EngineTextDelta     EngineEventType = "text_delta"
	EngineThinkingDelta EngineEventType = "thinking_delta"
	EngineToolStart     EngineEventType = "tool_start"
	EngineToolProgress  EngineEventType = "tool_progress"
	EngineToolEnd       EngineEventType = "tool_end"
	EngineError         EngineEventType = "error"
	EngineCompleted     EngineEventType = "completed"
)

// EngineEvent is emitted by an Engine while streaming a run. At most one
// EngineCompleted event occurs per run; a tool_start for a given id always
// precedes any later reference to that id.
type EngineEvent struct {
	Type EngineEventType

	TextDelta     string
	ThinkingDelta string

	ToolCallID string
	ToolName   string
	ToolArgs   []byte
	ToolUpdate string
	ToolResult *ToolResult

	Err       error
	Retryable bool

	Answer string
	Usage  Usage
}

// AgentEventType discriminates AgentEvent variants.
type AgentEventType string

const (
	AgentThinking           AgentEventType = "thinking"
	AgentText               AgentEventType = "text"
	AgentToolStart          AgentEventType = "tool_start"
	AgentToolProgress       AgentEventType = "tool_progress"
	AgentToolEnd            AgentEventType = "tool_end"
	AgentToolValidationErr  AgentEventType = "tool_validation_error"
	AgentVerification       AgentEventType = "verification"
	AgentComplete           AgentEventType = "complete"
	AgentError              AgentEventType = "error"
	AgentAborted            AgentEventType = "aborted"
)

// AgentEvent is emitted by the Agent Loop to its consumer. complete, error,
// and aborted are terminal: exactly one of them ends the stream for a run.
type AgentEvent struct {
	Type AgentEventType

	Thinking string

	TextDelta string
	Partial   string

	ToolCallID       string
	ToolName         string
	ToolArgs         []byte
	ToolUpdate       string
	ToolResult       *ToolResult
	ValidationErrors []string

	Verification *VerificationResult

	Answer string
	Usage  Usage

	Err error

	AbortReason string
}

// IsTerminal reports whether this event ends the run's AgentEvent stream.
func (e AgentEvent) IsTerminal() bool {
	switch e.Type {
	case AgentComplete, AgentError, AgentAborted:
		return true
	default:
		return false
	}
}
