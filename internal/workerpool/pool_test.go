package workerpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestrelai/agentcore/internal/coreerr"
)

func TestExecuteRunsTask(t *testing.T) {
	p := New(Config{MaxWorkers: 2, TaskTimeout: time.Second})
	defer p.Shutdown()

	out, err := p.Execute(context.Background(), Task{
		Tool: "echo",
		Run: func(ctx context.Context, onProgress func(string)) (string, error) {
			return "ok", nil
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("expected ok, got %q", out)
	}
}

func TestExecuteTimesOut(t *testing.T) {
	p := New(Config{MaxWorkers: 1, TaskTimeout: 20 * time.Millisecond})
	defer p.Shutdown()

	_, err := p.Execute(context.Background(), Task{
		Tool: "slow",
		Run: func(ctx context.Context, onProgress func(string)) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}, nil)
	if !errors.Is(err, coreerr.ErrToolTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestExecuteTimesOutWithoutDisturbingOtherWorkers(t *testing.T) {
	p := New(Config{MaxWorkers: 2, TaskTimeout: 200 * time.Millisecond})
	defer p.Shutdown()

	// The wedged task starts first and the healthy one half a timeout
	// later, so the wedged task's deadline passes while the healthy task
	// is still well inside its own.
	wedgedStarted := make(chan struct{})
	wedgedErr := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), Task{
			Tool: "wedged",
			Run: func(ctx context.Context, onProgress func(string)) (string, error) {
				close(wedgedStarted)
				<-ctx.Done()
				return "", ctx.Err()
			},
		}, nil)
		wedgedErr <- err
	}()
	<-wedgedStarted
	time.Sleep(100 * time.Millisecond)

	healthyRelease := make(chan struct{})
	healthyDone := make(chan string, 1)
	healthyStarted := make(chan struct{})
	go func() {
		out, _ := p.Execute(context.Background(), Task{
			Tool: "healthy",
			Run: func(ctx context.Context, onProgress func(string)) (string, error) {
				close(healthyStarted)
				<-healthyRelease
				return "healthy-done", nil
			},
		}, nil)
		healthyDone <- out
	}()
	<-healthyStarted

	if err := <-wedgedErr; !errors.Is(err, coreerr.ErrToolTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}

	// The healthy worker must still be running its own task untouched: it
	// was never idle and shares no job with the wedged one, so retiring
	// the wedged worker must not have picked it instead.
	close(healthyRelease)
	if out := <-healthyDone; out != "healthy-done" {
		t.Fatalf("expected healthy worker to finish its own task, got %q", out)
	}
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	p := New(Config{MaxWorkers: 1, TaskTimeout: time.Second})
	defer p.Shutdown()

	_, err := p.Execute(context.Background(), Task{
		Tool: "boom",
		Run: func(ctx context.Context, onProgress func(string)) (string, error) {
			panic("kaboom")
		},
	}, nil)
	if !errors.Is(err, coreerr.ErrToolPanic) {
		t.Fatalf("expected panic error, got %v", err)
	}

	// pool must stay usable after a worker panics
	out, err := p.Execute(context.Background(), Task{
		Tool: "echo",
		Run: func(ctx context.Context, onProgress func(string)) (string, error) {
			return "still alive", nil
		},
	}, nil)
	if err != nil || out != "still alive" {
		t.Fatalf("expected pool to recover, got out=%q err=%v", out, err)
	}
}

func TestExecuteQueuesBeyondMaxWorkers(t *testing.T) {
	p := New(Config{MaxWorkers: 1, TaskTimeout: time.Second})
	defer p.Shutdown()

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Execute(context.Background(), Task{
			Tool: "hold",
			Run: func(ctx context.Context, onProgress func(string)) (string, error) {
				<-release
				return "first", nil
			},
		}, nil)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	stats := p.Stats()
	if stats.ActiveWorkers != 1 {
		t.Fatalf("expected 1 active worker, got %d", stats.ActiveWorkers)
	}

	second := make(chan string, 1)
	go func() {
		out, _ := p.Execute(context.Background(), Task{
			Tool: "second",
			Run: func(ctx context.Context, onProgress func(string)) (string, error) {
				return "second", nil
			},
		}, nil)
		second <- out
	}()

	time.Sleep(10 * time.Millisecond)
	if q := p.Stats().Queued; q != 1 {
		t.Fatalf("expected second task queued, got %d", q)
	}

	close(release)
	<-done
	if out := <-second; out != "second" {
		t.Fatalf("expected queued task to run after first completes, got %q", out)
	}
}

func TestShutdownRejectsQueuedTasks(t *testing.T) {
	p := New(Config{MaxWorkers: 1, TaskTimeout: time.Second})

	release := make(chan struct{})
	go p.Execute(context.Background(), Task{
		Tool: "hold",
		Run: func(ctx context.Context, onProgress func(string)) (string, error) {
			<-release
			return "", nil
		},
	}, nil)
	time.Sleep(10 * time.Millisecond)

	queuedErr := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), Task{
			Tool: "queued",
			Run: func(ctx context.Context, onProgress func(string)) (string, error) {
				return "", nil
			},
		}, nil)
		queuedErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	p.Shutdown()
	close(release)

	if err := <-queuedErr; err == nil {
		t.Fatalf("expected queued task to be rejected on shutdown")
	}

	if _, err := p.Execute(context.Background(), Task{Tool: "late", Run: func(ctx context.Context, onProgress func(string)) (string, error) {
		return "", nil
	}}, nil); !errors.Is(err, coreerr.ErrPoolShuttingDown) {
		t.Fatalf("expected ErrPoolShuttingDown after shutdown, got %v", err)
	}
}
