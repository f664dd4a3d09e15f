package agentloop

import (
	"context"

	"github.com/kestrelai/agentcore/internal/model"
)

// VerificationInput is what a Verifier receives after a run produces a
// final answer.
type VerificationInput struct {
	TaskDescription string
	FinalAnswer     string
	Messages        []model.Message
	ToolResults     []model.ToolResult
	StateSnapshots  []model.StateSnapshot
}

// Verifier is an optional task-level verification collaborator. A Verifier
// crash is reported to the Observer but never changes a run's terminal
// outcome.
type Verifier interface {
	Verify(ctx context.Context, in VerificationInput) (model.VerificationResult, error)
}

// Observer receives lifecycle and security telemetry from the loop. All
// methods are optional; embed NoopObserver to satisfy the interface with
// no-ops.
type Observer interface {
	SessionStart(sessionID string)
	SessionEnd(sessionID string, iterations, toolInvocations, llmCalls int)
	SecretRedacted(sessionID, toolName string, patterns []string)
	Error(sessionID string, err error)
}

// NoopObserver implements Observer with no-ops; embed it in a custom
// observer to only override the methods that matter.
type NoopObserver struct{}

func (NoopObserver) SessionStart(string)                    {}
func (NoopObserver) SessionEnd(string, int, int, int)        {}
func (NoopObserver) SecretRedacted(string, string, []string) {}
func (NoopObserver) Error(string, error)                     {}
