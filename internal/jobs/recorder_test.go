package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelai/agentcore/internal/model"
)

func TestRecorderTracksJobLifecycle(t *testing.T) {
	rec := NewRecorder(NewMemoryStore())

	rec.RecordQueued("job-1", "read_file", nil)
	rec.RecordStarted("job-1")
	rec.RecordFinished("job-1", &model.ToolResult{Success: true, Output: "done"}, nil)

	jobs, err := rec.Jobs(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	got := jobs[0]
	if got.Status != StatusSucceeded {
		t.Fatalf("expected status %q, got %q", StatusSucceeded, got.Status)
	}
	if got.Result == nil || got.Result.Output != "done" {
		t.Fatalf("expected result output %q, got %+v", "done", got.Result)
	}
}

func TestRecorderMarksFailedJobs(t *testing.T) {
	rec := NewRecorder(NewMemoryStore())

	rec.RecordQueued("job-2", "write_file", nil)
	rec.RecordStarted("job-2")
	rec.RecordFinished("job-2", nil, errors.New("disk full"))

	jobs, err := rec.Jobs(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != StatusFailed {
		t.Fatalf("expected a single failed job, got %+v", jobs)
	}
	if jobs[0].Error != "disk full" {
		t.Fatalf("expected error %q, got %q", "disk full", jobs[0].Error)
	}
}

func TestRecorderRecordStartedIgnoresUnknownJob(t *testing.T) {
	rec := NewRecorder(NewMemoryStore())
	rec.RecordStarted("does-not-exist")

	jobs, err := rec.Jobs(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %+v", jobs)
	}
}
