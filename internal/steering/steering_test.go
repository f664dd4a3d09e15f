package steering

import "testing"

func TestDrainAbortFirst(t *testing.T) {
	q := New()
	q.Inject("hello")
	q.Abort("user cancel")
	q.Priority("urgent")

	drained := q.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(drained))
	}
	if drained[0].Kind != KindAbort {
		t.Fatalf("expected abort first, got %s", drained[0].Kind)
	}
}

func TestHasAbortPeeksWithoutDraining(t *testing.T) {
	q := New()
	q.Abort("stop")
	if !q.HasAbort() {
		t.Fatalf("expected HasAbort true")
	}
	if len(q.Drain()) != 1 {
		t.Fatalf("peek should not have drained the queue")
	}
}

func TestDrainEmptyReturnsNil(t *testing.T) {
	q := New()
	if q.Drain() != nil {
		t.Fatalf("expected nil drain on empty queue")
	}
}

func TestClearDiscardsPending(t *testing.T) {
	q := New()
	q.Inject("x")
	q.Clear()
	if q.Drain() != nil {
		t.Fatalf("expected no pending messages after clear")
	}
}
