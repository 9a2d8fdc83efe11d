// Package workerpool implements the bounded concurrency primitive of
// §4.5: a fixed-size pool of workers accepting unit-of-work submissions,
// each tracked by a stable task id through pending/running/terminal
// states. No third-party worker-pool library appears anywhere in the
// example pack (see DESIGN.md); the pool is built directly on
// sync/channels in the teacher's own concurrency idiom (bounded
// goroutines guarded by a semaphore channel, state guarded by a mutex,
// shutdown via context cancellation), the same shape as the teacher's
// health monitor ticking loop generalized to per-task tracking.
package workerpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sedimark/catalogue-coordinator/internal/cluster"
	"github.com/sedimark/catalogue-coordinator/internal/logging"
	"github.com/sedimark/catalogue-coordinator/internal/metrics"
)

// DefaultWorkers is the default pool size, per §4.5.
const DefaultWorkers = 10

// WarnWorkersAbove is the threshold past which constructing a pool logs a
// warning, per §4.5 ("warn if > 100").
const WarnWorkersAbove = 100

// DefaultMaxRetained is a suggested retention bound for AutoCleanup;
// AutoCleanup itself trims to the maxRetained value passed to it.
const DefaultMaxRetained = 1000

type taskState int

const (
	stateQueued taskState = iota
	stateRunning
	stateCompleted
	stateFailed
	stateCancelled
)

// TaskFunc is a unit of work submitted to the pool.
type TaskFunc func(ctx context.Context) (any, error)

type taskRecord struct {
	id          string
	state       taskState
	value       any
	err         error
	done        chan struct{}
	submittedAt time.Time
	finishedAt  time.Time
}

// TaskOutcome is one task's terminal result, as returned by WaitAll.
type TaskOutcome struct {
	Value any
	Err   error
}

// Stats is a snapshot of pool occupancy, per §4.5's stats()/memory_stats().
type Stats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Retained  int
}

// Pool is a bounded worker pool.
type Pool struct {
	sem chan struct{}

	mu      sync.Mutex
	records map[string]*taskRecord

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	maxRetained int
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// New constructs a Pool with the given worker count.
func New(workers int, logger *logging.Logger, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > WarnWorkersAbove && logger != nil {
		logger.Warnf("worker pool size %d exceeds recommended maximum %d", workers, WarnWorkersAbove)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:         make(chan struct{}, workers),
		records:     make(map[string]*taskRecord),
		ctx:         ctx,
		cancel:      cancel,
		maxRetained: DefaultMaxRetained,
		logger:      logger,
		metrics:     m,
	}
}

// Submit enqueues fn and returns a stable task id immediately.
func (p *Pool) Submit(fn TaskFunc) string {
	id := uuid.New().String()
	rec := &taskRecord{id: id, state: stateQueued, done: make(chan struct{}), submittedAt: time.Now()}

	p.mu.Lock()
	p.records[id] = rec
	p.mu.Unlock()
	p.bumpQueued(1)

	p.wg.Add(1)
	go p.run(rec, fn)
	return id
}

// SubmitBatch submits fns in order, returning their ids in the same order.
func (p *Pool) SubmitBatch(fns []TaskFunc) []string {
	ids := make([]string, len(fns))
	for i, fn := range fns {
		ids[i] = p.Submit(fn)
	}
	return ids
}

func (p *Pool) run(rec *taskRecord, fn TaskFunc) {
	defer p.wg.Done()

	select {
	case p.sem <- struct{}{}:
	case <-p.ctx.Done():
		p.finish(rec, stateCancelled, nil, p.ctx.Err())
		p.bumpQueued(-1)
		p.bumpTask("cancelled")
		return
	}
	defer func() { <-p.sem }()

	p.mu.Lock()
	if rec.state == stateCancelled {
		p.mu.Unlock()
		return // Cancel() already finalised and closed this record
	}
	rec.state = stateRunning
	p.mu.Unlock()
	p.bumpQueued(-1)
	p.bumpInFlight(1)
	defer p.bumpInFlight(-1)

	value, err := p.invoke(fn)
	if err != nil {
		p.finish(rec, stateFailed, value, err)
		p.bumpTask("failed")
		return
	}
	p.finish(rec, stateCompleted, value, nil)
	p.bumpTask("completed")
}

// invoke runs fn, converting a panic into an error so a single bad task
// function cannot take down the pool's goroutine.
func (p *Pool) invoke(fn TaskFunc) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return fn(p.ctx)
}

func (p *Pool) finish(rec *taskRecord, state taskState, value any, err error) {
	p.mu.Lock()
	rec.state = state
	rec.value = value
	rec.err = err
	rec.finishedAt = time.Now()
	p.mu.Unlock()
	close(rec.done)
}

// Status reports a task's current state: pending, running, completed,
// failed, cancelled, or not_found.
func (p *Pool) Status(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[id]
	if !ok {
		return "not_found"
	}
	switch rec.state {
	case stateQueued:
		return "pending"
	case stateRunning:
		return "running"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	case stateCancelled:
		return "cancelled"
	default:
		return "not_found"
	}
}

// Result blocks up to timeout for id's terminal outcome.
func (p *Pool) Result(ctx context.Context, id string, timeout time.Duration) (any, error) {
	p.mu.Lock()
	rec, ok := p.records[id]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-rec.done:
		return resultOf(rec)
	case <-timer.C:
		return nil, fmt.Errorf("task %s: result timed out after %s", id, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func resultOf(rec *taskRecord) (any, error) {
	if rec.state == stateCancelled {
		return nil, fmt.Errorf("task %s was cancelled", rec.id)
	}
	return rec.value, rec.err
}

// Cancel succeeds only while the task is still pending (not yet started),
// per §4.5: "cancellation of a started task is not supported".
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	rec, ok := p.records[id]
	if !ok || rec.state != stateQueued {
		p.mu.Unlock()
		return false
	}
	rec.state = stateCancelled
	rec.finishedAt = time.Now()
	p.mu.Unlock()

	close(rec.done)
	p.bumpQueued(-1)
	p.bumpTask("cancelled")
	return true
}

// WaitAll waits, up to timeout total, for every task currently tracked by
// the pool (pending, running, or already terminal) and returns each
// one's outcome.
func (p *Pool) WaitAll(ctx context.Context, timeout time.Duration) map[string]TaskOutcome {
	p.mu.Lock()
	ids := make([]string, 0, len(p.records))
	for id := range p.records {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	out := make(map[string]TaskOutcome, len(ids))
	deadline := time.Now().Add(timeout)
	for _, id := range ids {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		v, err := p.Result(ctx, id, remaining)
		out[id] = TaskOutcome{Value: v, Err: err}
	}
	return out
}

// AutoCleanup drops the oldest terminal task records once their count
// exceeds maxRetained, per §4.5.
func (p *Pool) AutoCleanup(maxRetained int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	terminal := make([]*taskRecord, 0, len(p.records))
	for _, rec := range p.records {
		if rec.state == stateCompleted || rec.state == stateFailed || rec.state == stateCancelled {
			terminal = append(terminal, rec)
		}
	}
	if len(terminal) <= maxRetained {
		return
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].finishedAt.Before(terminal[j].finishedAt) })

	drop := len(terminal) - maxRetained
	for i := 0; i < drop; i++ {
		delete(p.records, terminal[i].id)
	}
}

// Stats summarizes current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s Stats
	for _, rec := range p.records {
		switch rec.state {
		case stateQueued:
			s.Pending++
		case stateRunning:
			s.Running++
		case stateCompleted:
			s.Completed++
		case stateFailed:
			s.Failed++
		case stateCancelled:
			s.Cancelled++
		}
	}
	s.Retained = len(p.records)
	return s
}

// MemoryStats is Stats in the map shape used by the HTTP surface.
func (p *Pool) MemoryStats() map[string]int {
	s := p.Stats()
	return map[string]int{
		"pending":   s.Pending,
		"running":   s.Running,
		"completed": s.Completed,
		"failed":    s.Failed,
		"cancelled": s.Cancelled,
		"retained":  s.Retained,
	}
}

// Stop cancels any not-yet-started tasks' context and, if wait is true,
// blocks until all in-flight tasks finish.
func (p *Pool) Stop(wait bool) {
	p.cancel()
	if wait {
		p.wg.Wait()
	}
}

// Placer is the Placement Driver's entry point, kept as an interface so
// this package never imports internal/placement.
type Placer interface {
	Process(ctx context.Context, id string, meta *cluster.OfferingMeta) (bool, error)
}

// OfferingItem pairs an offering id with its ledger metadata for bulk
// submission.
type OfferingItem struct {
	ID   string
	Meta *cluster.OfferingMeta
}

// SubmitOfferingProcessing wraps placer.Process as a pool task, per
// §4.5's domain adapters.
func (p *Pool) SubmitOfferingProcessing(placer Placer, id string, meta *cluster.OfferingMeta) string {
	return p.Submit(func(ctx context.Context) (any, error) {
		return placer.Process(ctx, id, meta)
	})
}

// SubmitBulkOfferingProcessing submits one task per item.
func (p *Pool) SubmitBulkOfferingProcessing(placer Placer, items []OfferingItem) []string {
	fns := make([]TaskFunc, len(items))
	for i, item := range items {
		item := item
		fns[i] = func(ctx context.Context) (any, error) {
			return placer.Process(ctx, item.ID, item.Meta)
		}
	}
	return p.SubmitBatch(fns)
}

func (p *Pool) bumpQueued(delta int) {
	if p.metrics == nil {
		return
	}
	p.metrics.WorkerPoolQueued.Add(float64(delta))
}

func (p *Pool) bumpInFlight(delta int) {
	if p.metrics == nil {
		return
	}
	p.metrics.WorkerPoolInFlight.Add(float64(delta))
}

func (p *Pool) bumpTask(status string) {
	if p.metrics == nil {
		return
	}
	p.metrics.TasksTotal.WithLabelValues(status).Inc()
}
