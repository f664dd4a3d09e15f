// Package workerpool implements the Tool Worker Pool: bounded, isolated
// execution for heavyweight tools so that blocking I/O or a tool panic
// never halts the Agent Loop, and timeouts/crashes are always recoverable.
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelai/agentcore/internal/coreerr"
)

// DefaultMaxWorkers and DefaultTaskTimeout match the spec's stated defaults.
const (
	DefaultMaxWorkers  = 4
	DefaultTaskTimeout = 60 * time.Second
	MaxTaskTimeout     = 600 * time.Second
)

// Task describes one unit of work dispatched to the pool.
type Task struct {
	Tool string
	Args []byte
	// Run performs the work. It must respect ctx cancellation.
	Run func(ctx context.Context, onProgress func(string)) (string, error)
}

// Stats is a snapshot of pool activity, safe to read concurrently.
type Stats struct {
	TotalTasks    int64
	Completed     int64
	Failed        int64
	ActiveWorkers int32
	Queued        int32
	AvgDurationMs int64
}

type job struct {
	task       Task
	onProgress func(string)
	resultCh   chan result
	cancel     context.CancelFunc
	ctx        context.Context
}

type result struct {
	output string
	err    error
}

// worker is a persistent goroutine pulling jobs off the pool's dispatch
// channel until told to stop.
type worker struct {
	id     int
	jobCh  chan *job
	stopCh chan struct{}

	// current is the job this worker is presently executing, or nil when
	// idle. Only read/written with p.mu held, so removeWorkerRunning can
	// find the exact worker running a given job instead of guessing.
	current *job
}

// Pool is the Tool Worker Pool. Zero value is not usable; use New.
type Pool struct {
	mu          sync.Mutex
	maxWorkers  int
	taskTimeout time.Duration

	workers map[int]*worker
	nextID  int
	idle    []*worker
	queue   []*job

	shuttingDown bool

	totalTasks    int64
	completed     int64
	failed        int64
	totalDuration int64 // nanoseconds, accumulated for average
}

// Config configures a new Pool.
type Config struct {
	MaxWorkers  int
	TaskTimeout time.Duration
}

// New constructs a Pool. Invalid or zero config values fall back to spec
// defaults; TaskTimeout is capped at MaxTaskTimeout.
func New(cfg Config) *Pool {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	if timeout > MaxTaskTimeout {
		timeout = MaxTaskTimeout
	}
	return &Pool{
		maxWorkers:  maxWorkers,
		taskTimeout: timeout,
		workers:     make(map[int]*worker),
	}
}

// Execute runs task to completion or returns a timeout/cancel/crash error.
// If cancel is already done, it rejects immediately without dispatching.
func (p *Pool) Execute(ctx context.Context, t Task, onProgress func(string)) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", coreerr.ErrContextCancelled, ctx.Err())
	default:
	}

	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return "", coreerr.ErrPoolShuttingDown
	}
	atomic.AddInt64(&p.totalTasks, 1)

	jobCtx, jobCancel := context.WithCancel(ctx)
	j := &job{task: t, onProgress: onProgress, resultCh: make(chan result, 1), cancel: jobCancel, ctx: jobCtx}

	w := p.dispatchLocked(j)
	p.mu.Unlock()

	if w == nil {
		// queued; a worker will be spawned or freed to pick it up
	}

	start := time.Now()
	defer func() { atomic.AddInt64(&p.totalDuration, int64(time.Since(start))) }()

	timer := time.NewTimer(p.taskTimeout)
	defer timer.Stop()

	select {
	case r := <-j.resultCh:
		p.recordCompletion(r.err)
		return r.output, r.err
	case <-timer.C:
		jobCancel()
		p.onTimeout(j)
		p.recordCompletion(coreerr.ErrToolTimeout)
		return "", coreerr.ErrToolTimeout
	case <-ctx.Done():
		jobCancel()
		p.onCancel(j)
		p.recordCompletion(ctx.Err())
		return "", fmt.Errorf("%w: %v", coreerr.ErrContextCancelled, ctx.Err())
	}
}

// dispatchLocked assigns j to an idle worker, spawns a new one if under
// maxWorkers, or queues it. Must be called with p.mu held.
func (p *Pool) dispatchLocked(j *job) *worker {
	if len(p.idle) > 0 {
		w := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		w.current = j
		w.jobCh <- j
		return w
	}
	if len(p.workers) < p.maxWorkers {
		w := p.spawnLocked()
		w.current = j
		w.jobCh <- j
		return w
	}
	p.queue = append(p.queue, j)
	return nil
}

func (p *Pool) spawnLocked() *worker {
	p.nextID++
	w := &worker{id: p.nextID, jobCh: make(chan *job, 1), stopCh: make(chan struct{})}
	p.workers[w.id] = w
	go p.run(w)
	return w
}

func (p *Pool) run(w *worker) {
	for {
		select {
		case <-w.stopCh:
			return
		case j, ok := <-w.jobCh:
			if !ok {
				return
			}
			p.execute(w, j)
			p.afterJob(w)
		}
	}
}

func (p *Pool) execute(w *worker, j *job) {
	defer func() {
		if r := recover(); r != nil {
			select {
			case j.resultCh <- result{err: fmt.Errorf("%w: %v\n%s", coreerr.ErrToolPanic, r, debug.Stack())}:
			default:
			}
		}
	}()
	out, err := j.task.Run(j.ctx, j.onProgress)
	select {
	case j.resultCh <- result{output: out, err: err}:
	default:
	}
}

// afterJob returns w to the idle pool and pulls the next queued job, if
// any. If w was already retired by removeWorkerRunning while its previous
// job was finishing (it ran past its timeout, then returned just as the
// pool gave up on it), w is no longer in p.workers; any queued job it
// would have picked up is left queued rather than handed to a worker
// whose goroutine is about to exit.
func (p *Pool) afterJob(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, stillRegistered := p.workers[w.id]; !stillRegistered {
		return
	}
	if len(p.queue) > 0 {
		next := p.queue[0]
		p.queue = p.queue[1:]
		w.current = next
		w.jobCh <- next
		return
	}
	w.current = nil
	p.idle = append(p.idle, w)
}

// onTimeout kills the worker running j's task (it is no longer trusted to
// return promptly) and removes it; a fresh one is spawned on demand.
func (p *Pool) onTimeout(j *job) {
	p.removeWorkerRunning(j)
}

func (p *Pool) onCancel(j *job) {
	p.removeWorkerRunning(j)
}

// removeWorkerRunning kills and discards exactly the worker whose current
// job is j, since that goroutine may be wedged in j.Run. The worker
// goroutine itself detects ctx cancellation inside Run and will return on
// its own; we do not forcibly kill OS threads here, but we stop trusting
// this worker for new dispatch by retiring it and never returning it to
// the idle pool.
func (p *Pool) removeWorkerRunning(j *job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, w := range p.workers {
		if w.current == j {
			close(w.stopCh)
			delete(p.workers, id)
			return
		}
	}
}

func (p *Pool) recordCompletion(err error) {
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
	} else {
		atomic.AddInt64(&p.completed, 1)
	}
}

// Stats returns a point-in-time snapshot of pool activity.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	var avg int64
	if done := completed + failed; done > 0 {
		avg = atomic.LoadInt64(&p.totalDuration) / done / int64(time.Millisecond)
	}
	return Stats{
		TotalTasks:    atomic.LoadInt64(&p.totalTasks),
		Completed:     completed,
		Failed:        failed,
		ActiveWorkers: int32(len(p.workers) - len(p.idle)),
		Queued:        int32(len(p.queue)),
		AvgDurationMs: avg,
	}
}

// Shutdown rejects all queued tasks and signals every worker to stop. It
// returns without waiting for the workers to exit; a worker in the middle
// of a task exits once that task's Run returns.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shuttingDown = true
	for _, j := range p.queue {
		select {
		case j.resultCh <- result{err: fmt.Errorf("shutting down")}:
		default:
		}
	}
	p.queue = nil
	workers := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.workers = make(map[int]*worker)
	p.idle = nil
	p.mu.Unlock()

	for _, w := range workers {
		close(w.stopCh)
	}
}
