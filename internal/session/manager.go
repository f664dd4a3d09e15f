// Package session implements the Session Manager: per-session lifecycle
// (create/get/list/touch/end/evict), each session owning exactly one Agent
// Loop, Context Manager, and security policy view.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/agentcore/internal/agentloop"
	"github.com/kestrelai/agentcore/internal/contextmgr"
	"github.com/kestrelai/agentcore/internal/model"
	"github.com/kestrelai/agentcore/internal/security"
)

// DefaultMaxIdle is the idle threshold evictIdle uses when the caller
// passes zero.
const DefaultMaxIdle = 30 * time.Minute

// EngineFactory builds the Engine a new session's Agent Loop should drive.
// Kept as a factory (rather than a single shared Engine) because different
// sessions may target different providers or models.
type EngineFactory func(cfg model.SessionConfig) agentloop.Engine

// entry is the Manager's internal bookkeeping for one session; the exported
// model.Session is always handed out as a value copy.
type entry struct {
	session *model.Session
	loop    *agentloop.Loop
	ctxmgr  *contextmgr.Manager
}

// Manager owns every live session's state and its composed Agent Loop.
// Safe for concurrent use by a gateway's request handlers.
type Manager struct {
	mu            sync.RWMutex
	sessions      map[string]*entry
	engineFactory EngineFactory
	registry      *agentloop.Registry
	policyFor     func(cfg model.SessionConfig) *security.Policy
	loopCfg       agentloop.Config
	maxTokens     int
}

// Options configures a new Manager.
type Options struct {
	EngineFactory EngineFactory
	Registry      *agentloop.Registry
	// PolicyFor builds the Security Policy a session's tools run under. If
	// nil, a read-only policy scoped to cfg.Cwd is used.
	PolicyFor func(cfg model.SessionConfig) *security.Policy
	LoopConfig agentloop.Config
	// MaxContextTokens is the token budget handed to each session's Context
	// Manager; zero uses compaction's own default.
	MaxContextTokens int
}

// New creates a Manager. If EngineFactory is nil, sessions are created
// without an Agent Loop and GetLoop reports false for them; every other
// field falls back to a sensible default.
func New(opts Options) *Manager {
	registry := opts.Registry
	if registry == nil {
		registry = agentloop.NewRegistry()
	}
	policyFor := opts.PolicyFor
	if policyFor == nil {
		policyFor = func(cfg model.SessionConfig) *security.Policy {
			return security.NewPolicy(cfg.Cwd, model.AutonomyReadonly, nil)
		}
	}
	return &Manager{
		sessions:      make(map[string]*entry),
		engineFactory: opts.EngineFactory,
		registry:      registry,
		policyFor:     policyFor,
		loopCfg:       opts.LoopConfig,
		maxTokens:     opts.MaxContextTokens,
	}
}

// CreateSession starts a new session from cfg and returns its initial
// state.
func (m *Manager) CreateSession(cfg model.SessionConfig) (*model.Session, error) {
	now := time.Now()
	sess := &model.Session{
		ID:           uuid.NewString(),
		Config:       cfg,
		Status:       model.SessionActive,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	ctxmgr := contextmgr.New(m.maxTokens)
	if cfg.SystemPrompt != "" {
		ctxmgr.SetSystemPrompt(cfg.SystemPrompt)
	}

	var loop *agentloop.Loop
	if m.engineFactory != nil {
		engine := m.engineFactory(cfg)
		policy := m.policyFor(cfg)
		loop = agentloop.New(sess.ID, engine, m.registry, ctxmgr, policy, cfg.Model, cfg.Cwd, m.loopCfg)
	}

	m.mu.Lock()
	m.sessions[sess.ID] = &entry{session: sess, loop: loop, ctxmgr: ctxmgr}
	m.mu.Unlock()

	return cloneSession(sess), nil
}

// GetSession returns a session's current state, or false if it doesn't
// exist (including if it has already ended).
func (m *Manager) GetSession(id string) (*model.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return cloneSession(e.session), true
}

// GetLoop returns the Agent Loop driving a session, for a gateway to run or
// steer. Returns false if the session doesn't exist or has no engine
// attached.
func (m *Manager) GetLoop(id string) (*agentloop.Loop, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok || e.loop == nil {
		return nil, false
	}
	return e.loop, true
}

// ListSessions returns every known session, active and idle alike (ended
// sessions are removed, never listed).
func (m *Manager) ListSessions() []*model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, cloneSession(e.session))
	}
	return out
}

// TouchSession marks a session active and refreshes its last-active
// timestamp. Returns false if the session doesn't exist.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return false
	}
	e.session.LastActiveAt = time.Now()
	e.session.Status = model.SessionActive
	return true
}

// EndSession terminates a session and removes it. Returns false if the
// session doesn't exist.
func (m *Manager) EndSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return false
	}
	if e.loop != nil {
		e.loop.Abort("session ended")
	}
	delete(m.sessions, id)
	return true
}

// EvictIdle marks sessions idle past maxIdle and removes sessions that were
// already idle, returning the count removed. A maxIdle of zero or less
// uses DefaultMaxIdle.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	evicted := 0
	for id, e := range m.sessions {
		idleFor := now.Sub(e.session.LastActiveAt)
		if idleFor < maxIdle {
			continue
		}
		if e.session.Status == model.SessionIdle {
			if e.loop != nil {
				e.loop.Abort("idle eviction")
			}
			delete(m.sessions, id)
			evicted++
			continue
		}
		e.session.Status = model.SessionIdle
	}
	return evicted
}

func cloneSession(s *model.Session) *model.Session {
	clone := *s
	return &clone
}
