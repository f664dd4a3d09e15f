// Package agentloop implements the Agent Loop: the per-session driver that
// composes an engine, a tool registry, the context manager, the steering
// queue, the security policy, and an optional verifier into a single
// run(initialMessage) -> stream of AgentEvents.
package agentloop

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kestrelai/agentcore/internal/model"
	"github.com/kestrelai/agentcore/internal/security"
)

// MaxToolNameLength and MaxToolParamsSize guard against resource exhaustion
// from a malformed or adversarial tool call.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// ToolContext is passed to every tool invocation.
type ToolContext struct {
	SessionID  string
	Cwd        string
	Security   *security.Policy
	Cancel     <-chan struct{}
	OnProgress func(string)
}

// Tool is the interface every registered tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() any
	Execute(ctx context.Context, tc ToolContext, args json.RawMessage) (model.ToolResult, error)
}

// Validator is an optional interface a Tool may implement to validate its
// arguments before execution.
type Validator interface {
	Validate(args json.RawMessage) error
}

// Snapshotter is an optional interface a Tool may implement to produce a
// StateSnapshot before and after execution. A snapshot failure is always
// non-fatal.
type Snapshotter interface {
	StateSnapshot() (*model.StateSnapshot, error)
}

// Heavyweight is an optional interface a Tool may implement to declare it
// should run through the Tool Worker Pool rather than inline.
type Heavyweight interface {
	Heavyweight() bool
}

// JobRecorder tracks the lifecycle of tasks dispatched to the Tool Worker
// Pool, independent of the pool's own in-memory Stats counters. Defined
// here rather than imported from a bookkeeping package so the Loop has no
// dependency on any particular storage backend; a caller wires a concrete
// implementation in through Config.Jobs.
type JobRecorder interface {
	RecordQueued(id, tool string, args json.RawMessage)
	RecordStarted(id string)
	RecordFinished(id string, result *model.ToolResult, err error)
}

// ToolDef is the wire shape describing a tool to an engine.
type ToolDef struct {
	Name        string
	Description string
	Schema      any
}

// Registry is a thread-safe tool lookup table.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by its name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns ToolDef entries for every registered tool, for handing to an
// engine's startRun call.
func (r *Registry) Defs() []ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToolDef{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return defs
}
