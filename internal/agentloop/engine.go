package agentloop

import (
	"context"

	"github.com/kestrelai/agentcore/internal/model"
)

// Job is what the loop hands an engine to start one run.
type Job struct {
	SessionID    string
	Messages     []model.Message
	Tools        []ToolDef
	SystemPrompt string
	Model        string
}

// RunHandle is a single in-flight engine run. Cancel is idempotent. SendRaw
// forwards a raw string to the engine's stdin, for subprocess engines that
// prompt interactively; engines that don't support it return an error.
type RunHandle interface {
	Events() <-chan model.EngineEvent
	Cancel()
	SendRaw(raw string) error
}

// Engine is the external LLM-provider collaborator. The loop only ever
// calls StartRun; wire protocol, retries at the transport level, and model
// selection are the engine's concern.
type Engine interface {
	StartRun(ctx context.Context, job Job) (RunHandle, error)
}

// RetryableError is an optional interface an engine-returned error may
// implement to tell the loop whether a retry is worthwhile.
type RetryableError interface {
	error
	Retryable() bool
}
