package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kestrelai/agentcore/internal/model"
)

// Recorder implements the Tool Worker Pool's job bookkeeping against a
// Store. It satisfies agentloop.JobRecorder (that interface is defined in
// agentloop, not imported here, so the Loop has no dependency on any
// particular storage backend).
type Recorder struct {
	store Store
}

// NewRecorder wraps store as a job recorder.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RecordQueued creates a Job row in the queued state. args is accepted to
// satisfy agentloop.JobRecorder but not persisted; tool arguments may carry
// sensitive data and job records are for lifecycle/stats visibility, not
// auditing.
func (r *Recorder) RecordQueued(id, tool string, args json.RawMessage) {
	_ = r.store.Create(context.Background(), &Job{
		ID:        id,
		ToolName:  tool,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	})
}

// RecordStarted transitions a Job to running.
func (r *Recorder) RecordStarted(id string) {
	ctx := context.Background()
	job, err := r.store.Get(ctx, id)
	if err != nil || job == nil {
		return
	}
	job.Status = StatusRunning
	job.StartedAt = time.Now()
	_ = r.store.Update(ctx, job)
}

// RecordFinished transitions a Job to succeeded or failed.
func (r *Recorder) RecordFinished(id string, result *model.ToolResult, taskErr error) {
	ctx := context.Background()
	job, err := r.store.Get(ctx, id)
	if err != nil || job == nil {
		return
	}
	job.FinishedAt = time.Now()
	if taskErr != nil {
		job.Status = StatusFailed
		job.Error = taskErr.Error()
	} else {
		job.Status = StatusSucceeded
		job.Result = result
	}
	_ = r.store.Update(ctx, job)
}

// Jobs lists recorded jobs, most recently created last.
func (r *Recorder) Jobs(ctx context.Context, limit, offset int) ([]*Job, error) {
	return r.store.List(ctx, limit, offset)
}
