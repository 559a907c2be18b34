package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/foreman/config"
	"github.com/teranos/foreman/errors"
	"github.com/teranos/foreman/metrics"
)

const (
	// dispatchInterval is the pairing loop cadence
	dispatchInterval = 500 * time.Millisecond

	// stopGrace bounds how long Stop waits for in-flight executors
	stopGrace = 30 * time.Second

	// defaultPriority is forced onto every job while priority
	// scheduling is disabled
	defaultPriority = 5

	// updateBuffer sizes the lifecycle event channel. A lagging
	// consumer loses events rather than stalling the scheduler.
	updateBuffer = 64
)

// Engine pairs queued jobs with idle workers and owns every job's
// lifecycle from admission to its terminal journal row. One engine per
// process; all collaborators are handed in at construction, nothing is
// global.
//
// The engine's own mutex guards the running set and the pairing commit.
// Queue and pool carry their own locks; the engine may take theirs while
// holding its own, never the other way around.
type Engine struct {
	queue   *Queue
	pool    *Pool
	waiters *waiterRegistry
	client  ParseClient
	config  *config.Manager
	store   *Store
	metrics *metrics.Collector
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	running map[string]*Job

	updates chan *Job

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	// lastActive drives the tick log's change detection; dispatcher
	// goroutine only.
	lastActive int
}

// NewEngine wires a dispatch engine. All collaborators are required;
// the metrics collector carries its own registry, so tests can pass a
// fresh one.
func NewEngine(pool *Pool, client ParseClient, cfg *config.Manager, store *Store, collector *metrics.Collector, log *zap.SugaredLogger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		queue:   NewQueue(),
		pool:    pool,
		waiters: newWaiterRegistry(),
		client:  client,
		config:  cfg,
		store:   store,
		metrics: collector,
		logger:  log,
		running: make(map[string]*Job),
		updates: make(chan *Job, updateBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the dispatcher loop. Calling Start twice is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run()
	e.logger.Infow("Dispatch engine started", "interval", dispatchInterval)
}

// Stop cancels the loop and waits for in-flight executors, bounded by a
// grace window so a hung worker cannot block shutdown indefinitely.
func (e *Engine) Stop() {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Infow("Dispatch engine stopped")
	case <-time.After(stopGrace):
		e.logger.Warnw("Dispatch engine stop timed out; executors may still be draining",
			"timeout", stopGrace)
	}
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick runs one scheduling pass. A panic is contained to the pass; the
// loop resumes after a short pause.
func (e *Engine) tick() {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("Dispatch tick panic", "panic", r)
			time.Sleep(time.Second)
		}
	}()

	cfg := e.config.Snapshot()
	e.drainPairings(cfg)
	e.sweepQueueTimeouts(cfg)
	e.observe()
}

// drainPairings pops queued jobs onto idle workers until either side
// runs out. A popped job already past its queue deadline is expired
// here instead of handed to the worker, so an opening in the pool never
// resurrects a job the sweep would have killed.
func (e *Engine) drainPairings(cfg config.DispatchConfig) {
	for {
		idle := e.pool.SelectIdle()
		if idle == nil {
			return
		}
		job := e.queue.Dequeue()
		if job == nil {
			return
		}

		if time.Since(job.CreatedAt) > cfg.QueueTimeoutDuration() {
			e.expireQueued(job)
			continue
		}

		e.mu.Lock()
		worker, err := e.pool.Bind(idle.ID, job.ID)
		if err != nil {
			e.mu.Unlock()
			// Worker vanished between selection and binding. The job
			// keeps its created_at, so it returns to the head.
			if _, qerr := e.queue.Enqueue(job); qerr != nil {
				e.logger.Errorw("Failed to requeue job after lost worker",
					"job_id", job.ID, "error", qerr)
			}
			continue
		}
		job.Start(worker.ID, worker.Name)
		e.running[job.ID] = job
		snap := job.Clone()
		e.mu.Unlock()

		e.metrics.RecordDispatched()
		if serr := e.store.SaveWorker(worker); serr != nil {
			e.logger.Warnw("Failed to flush worker counters",
				"worker_id", worker.ID, "error", serr)
		}
		e.persist(snap)
		e.notifyUpdate(snap)
		e.logger.Infow("Job dispatched",
			"job_id", job.ID,
			"worker", worker.Name,
			"priority", snap.Priority,
			"retry", snap.RetryCount)

		e.wg.Add(1)
		go e.runExecutor(job, worker, cfg)
	}
}

// sweepQueueTimeouts expires every queued job older than queue_timeout
func (e *Engine) sweepQueueTimeouts(cfg config.DispatchConfig) {
	deadline := cfg.QueueTimeoutDuration()
	for _, snap := range e.queue.List() {
		if time.Since(snap.CreatedAt) <= deadline {
			continue
		}
		job, ok := e.queue.Remove(snap.ID)
		if !ok {
			continue
		}
		e.expireQueued(job)
	}
}

// expireQueued finalizes a job that aged out before any worker took it.
// Queue expiry is terminal; it never consumes a retry.
func (e *Engine) expireQueued(job *Job) {
	waited := time.Since(job.CreatedAt)
	job.Timeout(queueTimeoutMessage)
	e.metrics.RecordTimeout()
	e.waiters.Signal(job.ID, job)
	e.persist(job)
	e.notifyUpdate(job.Clone())
	e.logger.Warnw("Job expired in queue",
		"job_id", job.ID,
		"queued_for", waited.Round(time.Second))
}

// observe refreshes the gauges and, when the live job count moved, logs
// one heartbeat line with queue depth and memory pressure.
func (e *Engine) observe() {
	pending := e.queue.Size()
	e.mu.Lock()
	running := len(e.running)
	e.mu.Unlock()

	workers := e.pool.List()
	e.metrics.SetQueueDepth(pending)
	e.metrics.SetJobsRunning(running)
	e.metrics.SetWorkerCounts(statusCounts(workers))

	active := pending + running
	if active == e.lastActive {
		return
	}
	e.lastActive = active

	msg := fmt.Sprintf("Dispatch - %d queued, %d running", pending, running)
	if used, total, pct := memorySnapshot(); total > 0 {
		msg += fmt.Sprintf(" │ Mem: %.1f/%.1fGB (%.0f%%)", used, total, pct)
	}
	e.logger.Infow(msg)
}

// Submit admits a job and returns its admission-time snapshot plus its
// 1-based queue position. preferredID re-admits a job under its original
// identifier; pass "" for a fresh one. ErrQueueFull when the queue is at
// max_queue_size.
func (e *Engine) Submit(payload map[string]interface{}, priority int, preferredID string) (*Job, int, error) {
	cfg := e.config.Snapshot()
	if !cfg.EnablePriority {
		priority = defaultPriority
	}

	var job *Job
	if preferredID != "" {
		job = NewJobWithID(preferredID, payload, priority)
	} else {
		job = NewJob(payload, priority)
	}
	snap := job.Clone()

	e.mu.Lock()
	if e.queue.Size() >= cfg.MaxQueueSize {
		e.mu.Unlock()
		return nil, 0, errors.Wrapf(errors.ErrQueueFull, "queue at %d", cfg.MaxQueueSize)
	}
	pos, err := e.queue.Enqueue(job)
	e.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}

	e.metrics.RecordSubmitted()
	e.persist(snap)
	e.notifyUpdate(snap)
	e.logger.Infow("Job submitted",
		"job_id", snap.ID,
		"priority", snap.Priority,
		"position", pos,
		"file", snap.FileName)
	return snap, pos, nil
}

// SubmitAndWait admits a job and blocks until it reaches a terminal
// state or ctx is done. The waiter is registered before the enqueue so a
// job that finishes faster than the submitter can wait still lands in
// the channel buffer.
func (e *Engine) SubmitAndWait(ctx context.Context, payload map[string]interface{}, priority int) (*Job, error) {
	cfg := e.config.Snapshot()
	if !cfg.EnablePriority {
		priority = defaultPriority
	}

	job := NewJob(payload, priority)
	snap := job.Clone()
	ch := e.waiters.Register(job.ID)

	e.mu.Lock()
	if e.queue.Size() >= cfg.MaxQueueSize {
		e.mu.Unlock()
		e.waiters.Drop(job.ID)
		return nil, errors.Wrapf(errors.ErrQueueFull, "queue at %d", cfg.MaxQueueSize)
	}
	_, err := e.queue.Enqueue(job)
	e.mu.Unlock()
	if err != nil {
		e.waiters.Drop(job.ID)
		return nil, err
	}

	e.metrics.RecordSubmitted()
	e.persist(snap)
	e.notifyUpdate(snap)
	e.logger.Infow("Job submitted",
		"job_id", snap.ID,
		"priority", snap.Priority,
		"sync", true,
		"file", snap.FileName)

	select {
	case done := <-ch:
		return done, nil
	case <-ctx.Done():
		e.waiters.Drop(job.ID)
		return nil, ctx.Err()
	}
}

// Lookup reports a job wherever it lives: the queue (with its 1-based
// position), the running set, or the journal. ErrNotFound otherwise.
func (e *Engine) Lookup(id string) (*Job, int, error) {
	if job, ok := e.queue.Get(id); ok {
		return job, e.queue.Position(id), nil
	}

	e.mu.Lock()
	if job, ok := e.running[id]; ok {
		snap := job.Clone()
		e.mu.Unlock()
		return snap, 0, nil
	}
	e.mu.Unlock()

	job, err := e.store.GetJob(id)
	if err != nil {
		return nil, 0, err
	}
	return job, 0, nil
}

// Cancel terminates a queued or running job and returns its terminal
// record. A running job's outbound call is left to finish; the
// running-set guard drops its eventual outcome. Terminal and unknown
// ids return ErrNotFound.
func (e *Engine) Cancel(id string) (*Job, error) {
	if job, ok := e.queue.Remove(id); ok {
		job.Cancel()
		e.metrics.RecordCancelled()
		e.waiters.Signal(id, job)
		e.persist(job)
		e.notifyUpdate(job.Clone())
		e.logger.Infow("Job cancelled", "job_id", id, "was", JobStatusPending)
		return job.Clone(), nil
	}

	e.mu.Lock()
	job, ok := e.running[id]
	if !ok {
		e.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	job.Cancel()
	delete(e.running, id)
	snap := job.Clone()
	e.mu.Unlock()

	e.metrics.RecordCancelled()
	e.waiters.Signal(id, snap)
	e.persist(snap)
	e.notifyUpdate(snap)
	e.logger.Infow("Job cancelled", "job_id", id, "was", JobStatusRunning)
	return snap, nil
}

// Retry re-admits a failed or timed-out journal row as a fresh pending
// job under its original id, payload, and priority. The retry counter
// starts over; queue-full rules apply.
func (e *Engine) Retry(id string) (*Job, int, error) {
	if _, ok := e.queue.Get(id); ok {
		return nil, 0, errors.Mark(errors.Newf("job %s is already queued", id), errors.ErrNotRetryable)
	}
	e.mu.Lock()
	_, live := e.running[id]
	e.mu.Unlock()
	if live {
		return nil, 0, errors.Mark(errors.Newf("job %s is running", id), errors.ErrNotRetryable)
	}

	row, err := e.store.GetJob(id)
	if err != nil {
		return nil, 0, err
	}
	if row.Status != JobStatusFailed && row.Status != JobStatusTimeout {
		return nil, 0, errors.Mark(errors.Newf("job %s is %s; only failed or timed out jobs can be retried", id, row.Status), errors.ErrNotRetryable)
	}

	return e.Submit(row.Payload, row.Priority, id)
}

// RetryAll re-admits every failed or timed-out journal row, oldest
// first, skipping ids that are live again. Returns how many were
// requeued; stops early when the queue fills.
func (e *Engine) RetryAll() (int, error) {
	rows, err := e.store.ListRetryable()
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, row := range rows {
		if _, ok := e.queue.Get(row.ID); ok {
			continue
		}
		e.mu.Lock()
		_, live := e.running[row.ID]
		e.mu.Unlock()
		if live {
			continue
		}

		if _, _, err := e.Submit(row.Payload, row.Priority, row.ID); err != nil {
			if errors.Is(err, errors.ErrQueueFull) {
				e.logger.Warnw("Queue filled during retry-all",
					"requeued", requeued,
					"remaining", len(rows)-requeued)
				return requeued, nil
			}
			e.logger.Warnw("Failed to re-admit job", "job_id", row.ID, "error", err)
			continue
		}
		requeued++
	}
	return requeued, nil
}

// QueuedJobs snapshots the queue in pop order
func (e *Engine) QueuedJobs() []*Job {
	return e.queue.List()
}

// RunningJobs snapshots in-flight jobs, earliest start first
func (e *Engine) RunningJobs() []*Job {
	e.mu.Lock()
	out := make([]*Job, 0, len(e.running))
	for _, j := range e.running {
		out = append(out, j.Clone())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		a, b := out[i].StartedAt, out[k].StartedAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		case a.Equal(*b):
			return out[i].ID < out[k].ID
		default:
			return a.Before(*b)
		}
	})
	return out
}

// Stats aggregates live queue, running, and worker state
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	running := len(e.running)
	e.mu.Unlock()
	return BuildStats(e.queue.Size(), running, e.pool.List())
}

// Updates exposes job lifecycle snapshots for the stats WebSocket.
// Events are dropped when the consumer lags; the periodic stats frame
// carries the authoritative picture.
func (e *Engine) Updates() <-chan *Job {
	return e.updates
}

func (e *Engine) notifyUpdate(snapshot *Job) {
	select {
	case e.updates <- snapshot:
	default:
	}
}

func (e *Engine) persist(job *Job) {
	if err := e.store.SaveJob(job); err != nil {
		e.logger.Errorw("Failed to persist job",
			"job_id", job.ID,
			"status", job.Status,
			"error", err)
	}
}
