package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kestrelai/agentcore/internal/backoff"
	"github.com/kestrelai/agentcore/internal/contextmgr"
	"github.com/kestrelai/agentcore/internal/coreerr"
	"github.com/kestrelai/agentcore/internal/model"
	"github.com/kestrelai/agentcore/internal/security"
	"github.com/kestrelai/agentcore/internal/steering"
	"github.com/kestrelai/agentcore/internal/workerpool"
)

// Config configures a Loop's behaviour and its defaults, all stated in the
// component's spec.
type Config struct {
	// MaxIterations caps loop iterations before it gives up and emits an error.
	MaxIterations int
	// MaxRetries caps engine-start/stream retries per iteration.
	MaxRetries int
	// BackoffPolicy governs the delay between retries.
	BackoffPolicy backoff.BackoffPolicy

	Verifier Verifier
	Observer Observer
	Pool     *workerpool.Pool
	// Jobs records the lifecycle of each task dispatched to Pool, for a
	// caller that wants job-level introspection beyond Pool.Stats()'s bare
	// counters. Optional; nil disables bookkeeping without affecting
	// dispatch.
	Jobs JobRecorder

	// OnBeforeFirstRun runs once before the first engine call; its error is
	// swallowed (memory recall must never kill a run).
	OnBeforeFirstRun func(ctx context.Context) error
	// OnAfterComplete runs once after the run terminates; its error is
	// swallowed.
	OnAfterComplete func(ctx context.Context, finalAnswer string) error

	// TreatCompletedWithPendingToolCallsAsFinal resolves the ordering of a
	// completed event that still carries pending tool_calls: when true, the
	// completed answer is treated as final and pending tool calls are
	// discarded; when false (default), pending tool_calls are authoritative
	// and the loop executes them before looping again.
	TreatCompletedWithPendingToolCallsAsFinal bool
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 50,
		MaxRetries:    3,
		BackoffPolicy: backoff.DefaultPolicy(),
		Observer:      NoopObserver{},
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.BackoffPolicy == (backoff.BackoffPolicy{}) {
		cfg.BackoffPolicy = defaults.BackoffPolicy
	}
	if cfg.Observer == nil {
		cfg.Observer = defaults.Observer
	}
	return cfg
}

// Loop drives exactly one session's run(initialMessage) to completion. A
// Loop is not safe for concurrent Run calls; a session runs one job at a
// time by contract.
type Loop struct {
	sessionID string
	engine    Engine
	registry  *Registry
	ctxmgr    *contextmgr.Manager
	steering  *steering.Queue
	policy    *security.Policy
	cfg       Config

	model string
	cwd   string

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	running    bool
}

// New constructs a Loop for one session.
func New(sessionID string, engine Engine, registry *Registry, ctxmgr *contextmgr.Manager, policy *security.Policy, model, cwd string, cfg Config) *Loop {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Loop{
		sessionID: sessionID,
		engine:    engine,
		registry:  registry,
		ctxmgr:    ctxmgr,
		steering:  steering.New(),
		policy:    policy,
		cfg:       sanitizeConfig(cfg),
		model:     model,
		cwd:       cwd,
	}
}

// Steer enqueues a steering message for the run in progress (or the next
// one, if none is in progress).
func (l *Loop) Steer(m steering.Message) { l.steering.Push(m) }

// Abort pushes an abort steering message and fires the run's cancel signal.
func (l *Loop) Abort(reason string) {
	l.steering.Abort(reason)
	l.mu.Lock()
	cancel := l.cancelFunc
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SteerEngine forwards a raw string to the engine's stdin via the current
// run handle, for subprocess engines that prompt interactively. It is a
// no-op error if no run is in progress or the engine doesn't support it.
func (l *Loop) SteerEngine(raw string, handle RunHandle) error {
	if handle == nil {
		return fmt.Errorf("no run in progress")
	}
	return handle.SendRaw(raw)
}

// sanitizeWorkspacePath replaces a leading home-directory prefix with "./"
// so prompts and tool contexts never leak the operator's home path.
func sanitizeWorkspacePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "."
	}
	if strings.HasPrefix(path, home+string(os.PathSeparator)) {
		return "." + strings.TrimPrefix(path, home)
	}
	return path
}

// Run drives the loop to completion, emitting AgentEvents on the returned
// channel. The channel is closed after exactly one terminal event
// (complete, error, or aborted).
func (l *Loop) Run(parent context.Context, initialMessage string) (<-chan model.AgentEvent, error) {
	if l.engine == nil {
		return nil, coreerr.ErrNoEngine
	}

	runCtx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	l.cancelFunc = cancel
	l.running = true
	l.mu.Unlock()

	out := make(chan model.AgentEvent, 16)
	go l.run(runCtx, cancel, initialMessage, out)
	return out, nil
}

type runState struct {
	iteration         int
	llmCalls          int
	toolInvocations   int
	consecutiveErrors int
	accumulatedText   string
	toolResults       []model.ToolResult
	stateSnapshots    []model.StateSnapshot
	finalAnswer       string
	haveFinalAnswer   bool
	usage             model.Usage
}

func (l *Loop) run(ctx context.Context, cancel context.CancelFunc, initialMessage string, out chan<- model.AgentEvent) {
	defer close(out)
	defer cancel()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	st := &runState{}
	l.cfg.Observer.SessionStart(l.sessionID)

	if l.cfg.OnBeforeFirstRun != nil {
		_ = l.cfg.OnBeforeFirstRun(ctx)
	}

	l.ctxmgr.AddMessage(model.Message{Role: model.RoleUser, Content: initialMessage, CreatedAt: time.Now()})

	terminal := l.iterate(ctx, st, out)

	if terminal == model.AgentComplete && st.haveFinalAnswer {
		l.verify(ctx, initialMessage, st, out)
	}

	if l.cfg.OnAfterComplete != nil {
		_ = l.cfg.OnAfterComplete(ctx, st.finalAnswer)
	}
	l.cfg.Observer.SessionEnd(l.sessionID, st.iteration, st.toolInvocations, st.llmCalls)
}

// iterate runs the per-iteration loop and returns the terminal AgentEventType
// that was emitted (complete, error, or aborted).
func (l *Loop) iterate(ctx context.Context, st *runState, out chan<- model.AgentEvent) model.AgentEventType {
	for st.iteration = 0; st.iteration < l.cfg.MaxIterations; st.iteration++ {
		// Yield point A — loop boundary.
		if abort, ok := l.drainForAbort(out); ok {
			return abort
		}
		if ctx.Err() != nil {
			emit(out, model.AgentEvent{Err: ctx.Err(), AbortReason: "context cancelled"})
			return model.AgentAborted
		}

		handle, terminal, ok := l.startRunWithRetry(ctx, st, out)
		if !ok {
			return terminal
		}

		streamTerminal, done := l.consumeStream(ctx, handle, st, out)
		if done {
			return streamTerminal
		}
		// Otherwise pending tool calls were executed; continue outer loop.
	}

	emit(out, model.AgentEvent{Err: coreerr.ErrMaxIterations})
	return model.AgentError
}

func (l *Loop) drainForAbort(out chan<- model.AgentEvent) (model.AgentEventType, bool) {
	msgs := l.steering.Drain()
	for _, m := range msgs {
		switch m.Kind {
		case steering.KindAbort:
			emit(out, model.AgentEvent{AbortReason: m.Reason})
			return model.AgentAborted, true
		case steering.KindInject:
			l.ctxmgr.AddMessage(model.Message{Role: model.RoleUser, Content: m.Content})
		case steering.KindPriority:
			l.ctxmgr.AddMessage(model.Message{Role: model.RoleUser, Content: "[PRIORITY] " + m.Content})
		case steering.KindContextUpdate:
			l.ctxmgr.SetSystemPrompt(m.Content)
		}
	}
	return "", false
}

func (l *Loop) startRunWithRetry(ctx context.Context, st *runState, out chan<- model.AgentEvent) (RunHandle, model.AgentEventType, bool) {
	for {
		prompt, _ := l.ctxmgr.SystemPrompt()
		job := Job{
			SessionID:    l.sessionID,
			Messages:     l.ctxmgr.GetMessages(),
			Tools:        l.registry.Defs(),
			SystemPrompt: prompt,
			Model:        l.model,
		}
		handle, err := l.engine.StartRun(ctx, job)
		st.llmCalls++
		if err == nil {
			st.consecutiveErrors = 0
			return handle, "", true
		}

		st.consecutiveErrors++
		l.cfg.Observer.Error(l.sessionID, err)

		retryable := true
		if re, ok := err.(RetryableError); ok {
			retryable = re.Retryable()
		}
		if !retryable || st.consecutiveErrors >= l.cfg.MaxRetries {
			emit(out, model.AgentEvent{Err: err})
			return nil, model.AgentError, false
		}

		if sleepErr := backoff.SleepWithBackoff(ctx, l.cfg.BackoffPolicy, st.consecutiveErrors); sleepErr != nil {
			emit(out, model.AgentEvent{AbortReason: "context cancelled during backoff"})
			return nil, model.AgentAborted, false
		}
	}
}

// consumeStream drains one engine run's event stream, translating each
// EngineEvent into AgentEvents. It returns (terminalType, true) if the run
// loop should stop entirely, or ("", false) if pending tool calls were
// executed and the outer loop should iterate again.
func (l *Loop) consumeStream(ctx context.Context, handle RunHandle, st *runState, out chan<- model.AgentEvent) (model.AgentEventType, bool) {
	var pendingToolCalls []model.ToolCall
	var completedAnswer string
	var completedUsage model.Usage
	sawCompleted := false

	for ev := range handle.Events() {
		if ctx.Err() != nil {
			handle.Cancel()
			emit(out, model.AgentEvent{AbortReason: "context cancelled"})
			return model.AgentAborted, true
		}
		// Yield point B — between stream chunks.
		if l.steering.HasAbort() {
			handle.Cancel()
			msgs := l.steering.Drain()
			reason := "aborted"
			for _, m := range msgs {
				if m.Kind == steering.KindAbort {
					reason = m.Reason
				}
			}
			emit(out, model.AgentEvent{AbortReason: reason})
			return model.AgentAborted, true
		}

		switch ev.Type {
		case model.EngineTextDelta:
			st.accumulatedText += ev.TextDelta
			emit(out, model.AgentEvent{TextDelta: ev.TextDelta, Partial: st.accumulatedText})
		case model.EngineThinkingDelta:
			emit(out, model.AgentEvent{Thinking: ev.ThinkingDelta})
		case model.EngineToolStart:
			pendingToolCalls = append(pendingToolCalls, model.ToolCall{ID: ev.ToolCallID, Name: ev.ToolName, Args: ev.ToolArgs})
		case model.EngineToolProgress:
			emit(out, model.AgentEvent{ToolCallID: ev.ToolCallID, ToolUpdate: ev.ToolUpdate})
		case model.EngineToolEnd:
			emit(out, model.AgentEvent{ToolCallID: ev.ToolCallID, ToolResult: ev.ToolResult})
		case model.EngineError:
			l.cfg.Observer.Error(l.sessionID, ev.Err)
			emit(out, model.AgentEvent{Err: ev.Err})
			return model.AgentError, true
		case model.EngineCompleted:
			completedAnswer = ev.Answer
			completedUsage = ev.Usage
			sawCompleted = true
		}
	}

	if sawCompleted && (len(pendingToolCalls) == 0 || l.cfg.TreatCompletedWithPendingToolCallsAsFinal) {
		answer := completedAnswer
		if answer == "" {
			answer = st.accumulatedText
		}
		l.ctxmgr.AddMessage(model.Message{Role: model.RoleAssistant, Content: answer})
		st.finalAnswer = answer
		st.haveFinalAnswer = true
		st.usage = completedUsage
		emit(out, model.AgentEvent{Answer: answer, Usage: completedUsage})
		return model.AgentComplete, true
	}

	if len(pendingToolCalls) == 0 {
		// Accumulated text without explicit completion and no tool calls:
		// treat the accumulated text as the answer.
		if st.accumulatedText != "" {
			l.ctxmgr.AddMessage(model.Message{Role: model.RoleAssistant, Content: st.accumulatedText})
			st.finalAnswer = st.accumulatedText
			st.haveFinalAnswer = true
			emit(out, model.AgentEvent{Answer: st.accumulatedText})
			return model.AgentComplete, true
		}
		// Nothing produced at all; treat as an error rather than spin.
		emit(out, model.AgentEvent{Err: fmt.Errorf("engine run produced neither tool calls nor an answer")})
		return model.AgentError, true
	}

	if terminal, stop := l.executeToolCalls(ctx, pendingToolCalls, st.accumulatedText, st, out); stop {
		return terminal, true
	}
	st.accumulatedText = ""
	return "", false
}

// executeToolCalls runs calls in order. It returns (terminalType, true) if
// an abort at yield point C stopped the run, or ("", false) otherwise.
func (l *Loop) executeToolCalls(ctx context.Context, calls []model.ToolCall, accumulatedText string, st *runState, out chan<- model.AgentEvent) (model.AgentEventType, bool) {
	l.ctxmgr.AddMessage(model.Message{Role: model.RoleAssistant, Content: accumulatedText, ToolCalls: calls})

	for _, c := range calls {
		// Yield point C — before each tool.
		if abort, ok := l.drainForAbort(out); ok {
			return abort, true
		}
		if ctx.Err() != nil {
			emit(out, model.AgentEvent{AbortReason: "context cancelled"})
			return model.AgentAborted, true
		}

		result := l.executeOne(ctx, c, st, out)
		st.toolResults = append(st.toolResults, result)
		st.toolInvocations++
	}
	return "", false
}

func (l *Loop) executeOne(ctx context.Context, c model.ToolCall, st *runState, out chan<- model.AgentEvent) model.ToolResult {
	emit(out, model.AgentEvent{Type: model.AgentToolStart, ToolCallID: c.ID, ToolName: c.Name, ToolArgs: c.Args})

	tool, found := l.registry.Get(c.Name)
	if !found {
		msg := "[VALIDATION ERROR] Tool not found"
		emit(out, model.AgentEvent{Type: model.AgentToolValidationErr, ToolCallID: c.ID, ToolName: c.Name, ValidationErrors: []string{msg}})
		l.appendToolMessage(c.ID, msg, nil)
		return model.ToolResult{ToolCallID: c.ID, Success: false, Error: msg}
	}

	if err := validateArgs(tool, c.Args); err != nil {
		msg := fmt.Sprintf("[VALIDATION ERROR] Invalid arguments for tool %s: %s", c.Name, err)
		emit(out, model.AgentEvent{Type: model.AgentToolValidationErr, ToolCallID: c.ID, ToolName: c.Name, ValidationErrors: []string{err.Error()}})
		l.appendToolMessage(c.ID, msg, nil)
		return model.ToolResult{ToolCallID: c.ID, Success: false, Error: msg}
	}

	var pre *model.StateSnapshot
	if snap, ok := tool.(Snapshotter); ok {
		if s, err := snap.StateSnapshot(); err == nil {
			pre = s
		}
	}

	tc := ToolContext{
		SessionID: l.sessionID,
		Cwd:       sanitizeWorkspacePath(l.cwd),
		Security:  l.policy,
		Cancel:    ctx.Done(),
	}

	result, execErr := l.dispatch(ctx, tool, c, tc)
	if execErr != nil {
		result = model.ToolResult{ToolCallID: c.ID, Success: false, Error: execErr.Error()}
	}
	result.ToolCallID = c.ID

	if pre != nil {
		st.stateSnapshots = append(st.stateSnapshots, *pre)
	}
	if snap, ok := tool.(Snapshotter); ok {
		if s, err := snap.StateSnapshot(); err == nil && s != nil {
			st.stateSnapshots = append(st.stateSnapshots, *s)
			result.StateSnapshot = s
		}
	}

	combined := result.Output
	if result.Error != "" {
		combined = result.Error
	}
	sanitized := security.SanitizeOutput(combined)
	if sanitized.Redacted {
		l.cfg.Observer.SecretRedacted(l.sessionID, c.Name, sanitized.RedactedPatterns)
	}

	l.appendToolMessage(c.ID, sanitized.Clean, &result)
	return result
}

func (l *Loop) dispatch(ctx context.Context, tool Tool, c model.ToolCall, tc ToolContext) (model.ToolResult, error) {
	if hw, ok := tool.(Heavyweight); ok && hw.Heavyweight() && l.cfg.Pool != nil {
		jobID := uuid.NewString()
		if l.cfg.Jobs != nil {
			l.cfg.Jobs.RecordQueued(jobID, c.Name, c.Args)
		}
		out, err := l.cfg.Pool.Execute(ctx, workerpool.Task{
			Tool: c.Name,
			Args: c.Args,
			Run: func(ctx context.Context, onProgress func(string)) (string, error) {
				if l.cfg.Jobs != nil {
					l.cfg.Jobs.RecordStarted(jobID)
				}
				tc.OnProgress = onProgress
				r, err := tool.Execute(ctx, tc, c.Args)
				if err != nil {
					return "", err
				}
				b, _ := json.Marshal(r)
				return string(b), nil
			},
		}, nil)
		if err != nil {
			if l.cfg.Jobs != nil {
				l.cfg.Jobs.RecordFinished(jobID, nil, err)
			}
			return model.ToolResult{}, err
		}
		var r model.ToolResult
		if jerr := json.Unmarshal([]byte(out), &r); jerr == nil {
			if l.cfg.Jobs != nil {
				l.cfg.Jobs.RecordFinished(jobID, &r, nil)
			}
			return r, nil
		}
		r = model.ToolResult{Success: true, Output: out}
		if l.cfg.Jobs != nil {
			l.cfg.Jobs.RecordFinished(jobID, &r, nil)
		}
		return r, nil
	}
	return tool.Execute(ctx, tc, c.Args)
}

func validateArgs(tool Tool, args json.RawMessage) error {
	if v, ok := tool.(Validator); ok {
		return v.Validate(args)
	}
	if len(args) == 0 {
		return nil
	}
	trimmed := strings.TrimSpace(string(args))
	if trimmed == "null" {
		return nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return fmt.Errorf("arguments must be a JSON object")
	}
	if schema, ok := tool.Schema().(map[string]interface{}); ok && len(schema) > 0 {
		return validateAgainstSchema(schema, args)
	}
	return nil
}

var schemaCache sync.Map

// validateAgainstSchema compiles a tool's parameter schema (cached by
// content) and validates the raw arguments against it. Tools that need
// bespoke checks beyond what JSON Schema expresses implement Validator
// instead and skip this path entirely.
func validateAgainstSchema(schema map[string]interface{}, args json.RawMessage) error {
	encoded, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode tool schema: %w", err)
	}

	key := string(encoded)
	compiled, ok := schemaCache.Load(key)
	if !ok {
		c, err := jsonschema.CompileString("tool.schema.json", key)
		if err != nil {
			return fmt.Errorf("compile tool schema: %w", err)
		}
		schemaCache.Store(key, c)
		compiled = c
	}

	var decoded interface{}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}

	if err := compiled.(*jsonschema.Schema).Validate(decoded); err != nil {
		return fmt.Errorf("tool arguments invalid: %w", err)
	}
	return nil
}

func (l *Loop) appendToolMessage(toolCallID, content string, _ *model.ToolResult) {
	l.ctxmgr.AddMessage(model.Message{Role: model.RoleTool, Content: content, ToolCallID: toolCallID})
}

func (l *Loop) verify(ctx context.Context, taskDescription string, st *runState, out chan<- model.AgentEvent) {
	if l.cfg.Verifier == nil {
		return
	}
	result, err := l.cfg.Verifier.Verify(ctx, VerificationInput{
		TaskDescription: taskDescription,
		FinalAnswer:     st.finalAnswer,
		Messages:        l.ctxmgr.GetMessages(),
		ToolResults:     st.toolResults,
		StateSnapshots:  st.stateSnapshots,
	})
	if err != nil {
		l.cfg.Observer.Error(l.sessionID, err)
		return
	}
	emit(out, model.AgentEvent{Verification: &result})

	if result.Outcome == model.VerificationPartial || result.Outcome == model.VerificationFailure {
		var b strings.Builder
		fmt.Fprintf(&b, "[VERIFICATION %s] %s", result.Outcome, result.Reasoning)
		if len(result.Suggestions) > 0 {
			b.WriteString("\nSuggestions:\n")
			for _, s := range result.Suggestions {
				b.WriteString("- " + s + "\n")
			}
		}
		l.ctxmgr.AddMessage(model.Message{Role: model.RoleSystem, Content: b.String()})
	}
}

func emit(out chan<- model.AgentEvent, ev model.AgentEvent) {
	if ev.Type != "" {
		out <- ev
		return
	}
	switch {
	case ev.Err != nil && ev.AbortReason == "":
		ev.Type = model.AgentError
	case ev.AbortReason != "":
		ev.Type = model.AgentAborted
	case ev.Answer != "" || ev.Usage != (model.Usage{}):
		ev.Type = model.AgentComplete
	case ev.Verification != nil:
		ev.Type = model.AgentVerification
	case ev.ToolResult != nil:
		ev.Type = model.AgentToolEnd
	case ev.ToolUpdate != "":
		ev.Type = model.AgentToolProgress
	case ev.TextDelta != "":
		ev.Type = model.AgentText
	case ev.Thinking != "":
		ev.Type = model.AgentThinking
	}
	out <- ev
}
