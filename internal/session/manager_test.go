package session

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelai/agentcore/internal/agentloop"
	"github.com/kestrelai/agentcore/internal/model"
)

type fakeHandle struct{ events chan model.EngineEvent }

func (h *fakeHandle) Events() <-chan model.EngineEvent { return h.events }
func (h *fakeHandle) Cancel()                          {}
func (h *fakeHandle) SendRaw(string) error             { return nil }

type fakeEngine struct{}

func (fakeEngine) StartRun(ctx context.Context, job agentloop.Job) (agentloop.RunHandle, error) {
	events := make(chan model.EngineEvent, 1)
	events <- model.EngineEvent{Type: model.EngineCompleted, Answer: "ok"}
	close(events)
	return &fakeHandle{events: events}, nil
}

func newTestManager() *Manager {
	return New(Options{EngineFactory: func(model.SessionConfig) agentloop.Engine { return fakeEngine{} }})
}

func TestCreateSessionThenGetSession(t *testing.T) {
	m := newTestManager()
	sess, err := m.CreateSession(model.SessionConfig{Model: "test-model", Cwd: "/workspace"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.Status != model.SessionActive {
		t.Fatalf("expected a new session to be active, got %s", sess.Status)
	}

	got, ok := m.GetSession(sess.ID)
	if !ok {
		t.Fatalf("expected to find the created session")
	}
	if got.ID != sess.ID {
		t.Fatalf("expected session id %q, got %q", sess.ID, got.ID)
	}
}

func TestGetLoopDrivesARun(t *testing.T) {
	m := newTestManager()
	sess, _ := m.CreateSession(model.SessionConfig{Model: "test-model"})

	loop, ok := m.GetLoop(sess.ID)
	if !ok {
		t.Fatalf("expected a loop for the created session")
	}

	events, err := loop.Run(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var last model.AgentEvent
	for ev := range events {
		last = ev
	}
	if last.Type != model.AgentComplete {
		t.Fatalf("expected the run to complete, got %s", last.Type)
	}
}

func TestListSessionsReturnsAllActive(t *testing.T) {
	m := newTestManager()
	m.CreateSession(model.SessionConfig{Model: "m1"})
	m.CreateSession(model.SessionConfig{Model: "m2"})

	list := m.ListSessions()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
}

func TestTouchSessionRefreshesLastActive(t *testing.T) {
	m := newTestManager()
	sess, _ := m.CreateSession(model.SessionConfig{Model: "m1"})

	before, _ := m.GetSession(sess.ID)
	time.Sleep(time.Millisecond)

	if !m.TouchSession(sess.ID) {
		t.Fatalf("expected TouchSession to find the session")
	}
	after, _ := m.GetSession(sess.ID)
	if !after.LastActiveAt.After(before.LastActiveAt) {
		t.Fatalf("expected LastActiveAt to advance")
	}
}

func TestEndSessionRemovesIt(t *testing.T) {
	m := newTestManager()
	sess, _ := m.CreateSession(model.SessionConfig{Model: "m1"})

	if !m.EndSession(sess.ID) {
		t.Fatalf("expected EndSession to find the session")
	}
	if _, ok := m.GetSession(sess.ID); ok {
		t.Fatalf("expected the session to be gone after ending")
	}
	if m.EndSession(sess.ID) {
		t.Fatalf("expected a second EndSession to report false")
	}
}

func TestEvictIdleMarksThenRemoves(t *testing.T) {
	m := newTestManager()
	sess, _ := m.CreateSession(model.SessionConfig{Model: "m1"})

	m.mu.Lock()
	m.sessions[sess.ID].session.LastActiveAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	if n := m.EvictIdle(time.Minute); n != 0 {
		t.Fatalf("expected the first pass to only mark idle, evicted %d", n)
	}
	got, ok := m.GetSession(sess.ID)
	if !ok || got.Status != model.SessionIdle {
		t.Fatalf("expected session to be marked idle, got %+v ok=%v", got, ok)
	}

	m.mu.Lock()
	m.sessions[sess.ID].session.LastActiveAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	if n := m.EvictIdle(time.Minute); n != 1 {
		t.Fatalf("expected the second pass to evict 1 session, got %d", n)
	}
	if _, ok := m.GetSession(sess.ID); ok {
		t.Fatalf("expected the evicted session to be gone")
	}
}
