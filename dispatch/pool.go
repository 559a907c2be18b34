package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/foreman/config"
	"github.com/teranos/foreman/errors"
)

// Probe launches are paced so a large fleet does not burst-connect on
// every sweep.
const (
	probeLaunchesPerSecond = 20
	probeLaunchBurst       = 10
)

// recommendedWorkerVersion is the constraint checked against versions
// reported through /openapi.json. Older workers still serve jobs; the
// skew is only logged.
const recommendedWorkerVersion = ">= 2.0.0"

// Pool is the registry of parse workers. Selection walks workers in
// registration order, so the pool keeps an explicit order slice next to
// the lookup map.
type Pool struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	order   []string

	probeLimiter *rate.Limiter
	logger       *zap.SugaredLogger
}

// NewPool creates an empty worker pool
func NewPool(logger *zap.SugaredLogger) *Pool {
	return &Pool{
		workers:      make(map[string]*Worker),
		probeLimiter: rate.NewLimiter(rate.Limit(probeLaunchesPerSecond), probeLaunchBurst),
		logger:       logger,
	}
}

// Add registers a new worker in the offline state and returns a copy of it
func (p *Pool) Add(name, url, backend string) *Worker {
	worker := NewWorker(name, url, backend)

	p.mu.Lock()
	p.workers[worker.ID] = worker
	p.order = append(p.order, worker.ID)
	p.mu.Unlock()

	p.logger.Infow("Worker registered",
		"worker_id", worker.ID,
		"name", worker.Name,
		"url", worker.URL,
		"backend", worker.Backend)
	return worker.Clone()
}

// Hydrate loads persisted workers at boot. Persisted identity, counters
// and the enabled flag are kept; runtime state starts fresh: enabled
// workers come up idle and get corrected by the first health sweep,
// disabled ones stay disabled.
func (p *Pool) Hydrate(workers []*Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range workers {
		if _, exists := p.workers[w.ID]; exists {
			continue
		}
		loaded := w.Clone()
		loaded.CurrentJobID = ""
		if loaded.Enabled {
			loaded.Status = WorkerStatusIdle
		} else {
			loaded.Status = WorkerStatusDisabled
		}
		p.workers[loaded.ID] = loaded
		p.order = append(p.order, loaded.ID)
	}
}

// Remove deregisters a worker. Workers with a job in flight cannot be
// removed; drain them first by disabling.
func (p *Pool) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, ok := p.workers[id]
	if !ok {
		return errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", id)
	}
	if worker.CurrentJobID != "" {
		return errors.Wrapf(errors.ErrWorkerBusy, "worker %s is running job %s", id, worker.CurrentJobID)
	}

	delete(p.workers, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

// WorkerPatch carries the mutable registration fields; nil means keep
type WorkerPatch struct {
	Name    *string
	URL     *string
	Backend *string
}

// Update applies a patch to a worker's registration. Changing the URL
// while a job is in flight is rejected, since the running executor is
// already talking to the old endpoint.
func (p *Pool) Update(id string, patch WorkerPatch) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, ok := p.workers[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", id)
	}
	if patch.URL != nil && worker.CurrentJobID != "" {
		return nil, errors.Wrapf(errors.ErrWorkerBusy, "cannot change URL of worker %s while job %s runs", id, worker.CurrentJobID)
	}

	if patch.Name != nil {
		worker.Name = *patch.Name
	}
	if patch.URL != nil {
		worker.URL = strings.TrimRight(*patch.URL, "/")
	}
	if patch.Backend != nil {
		backend := *patch.Backend
		if backend == "" {
			backend = DefaultBackend
		}
		worker.Backend = backend
	}
	return worker.Clone(), nil
}

// Enable marks a worker eligible for selection again. Status goes
// straight to idle; the next health sweep corrects it if the worker is
// actually down.
func (p *Pool) Enable(id string) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, ok := p.workers[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", id)
	}
	worker.Enabled = true
	worker.Status = WorkerStatusIdle
	return worker.Clone(), nil
}

// Disable takes a worker out of rotation immediately. A job already in
// flight drains to completion; release then leaves the worker disabled.
func (p *Pool) Disable(id string) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, ok := p.workers[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", id)
	}
	worker.Enabled = false
	worker.Status = WorkerStatusDisabled
	return worker.Clone(), nil
}

// Get returns a copy of a worker by ID
func (p *Pool) Get(id string) (*Worker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	worker, ok := p.workers[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", id)
	}
	return worker.Clone(), nil
}

// List returns copies of all workers in registration order
func (p *Pool) List() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Worker, 0, len(p.order))
	for _, id := range p.order {
		if worker, ok := p.workers[id]; ok {
			out = append(out, worker.Clone())
		}
	}
	return out
}

// Len returns the number of registered workers
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// SelectIdle returns a copy of the first enabled idle worker in
// registration order, or nil when every worker is occupied or out.
func (p *Pool) SelectIdle() *Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, id := range p.order {
		worker, ok := p.workers[id]
		if !ok {
			continue
		}
		if worker.Enabled && worker.Status == WorkerStatusIdle {
			return worker.Clone()
		}
	}
	return nil
}

// Bind assigns a job to a worker: busy status, current job set, total
// counter advanced. Fails only when the worker vanished between
// selection and binding; the dispatcher re-queues the job in that case.
func (p *Pool) Bind(workerID, jobID string) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, ok := p.workers[workerID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", workerID)
	}
	worker.Status = WorkerStatusBusy
	worker.CurrentJobID = jobID
	worker.TotalJobs++
	return worker.Clone(), nil
}

// Release clears a worker's job assignment after an attempt finishes.
// The worker returns to idle only when still enabled; a worker disabled
// mid-flight stays disabled.
func (p *Pool) Release(workerID string) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, ok := p.workers[workerID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", workerID)
	}
	worker.CurrentJobID = ""
	if worker.Enabled {
		worker.Status = WorkerStatusIdle
	}
	return worker.Clone(), nil
}

// IncFailed advances a worker's failure counter
func (p *Pool) IncFailed(workerID string) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, ok := p.workers[workerID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", workerID)
	}
	worker.FailedJobs++
	return worker.Clone(), nil
}

// SetStatus overwrites a worker's status
func (p *Pool) SetStatus(id string, status WorkerStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, ok := p.workers[id]
	if !ok {
		return errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", id)
	}
	worker.Status = status
	return nil
}

// UpdateHeartbeat stamps a worker's last successful probe time
func (p *Pool) UpdateHeartbeat(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, ok := p.workers[id]
	if !ok {
		return errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", id)
	}
	now := time.Now()
	worker.LastHeartbeat = &now
	return nil
}

// HealthSweep probes every enabled worker concurrently, pacing launches
// through the pool's rate limiter, and applies each outcome under the
// pool lock. Returns once all probes finish or ctx is cancelled.
func (p *Pool) HealthSweep(ctx context.Context, client ParseClient, probeTimeout time.Duration) {
	var wg sync.WaitGroup
	for _, worker := range p.List() {
		if !worker.Enabled {
			continue
		}
		if err := p.probeLimiter.Wait(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			result, err := client.Probe(probeCtx, w)
			p.applyProbe(w.ID, result, err)
		}(worker)
	}
	wg.Wait()
}

// RunHealthLoop sweeps the pool until ctx is cancelled. The interval and
// probe timeout are re-read from the config manager every cycle so
// config PATCHes take effect without a restart.
func (p *Pool) RunHealthLoop(ctx context.Context, client ParseClient, cfg *config.Manager) {
	p.logger.Infow("Health loop started",
		"interval_seconds", cfg.Snapshot().HealthCheckInterval)

	for {
		snapshot := cfg.Snapshot()
		select {
		case <-ctx.Done():
			p.logger.Info("Health loop stopped")
			return
		case <-time.After(snapshot.HealthCheckIntervalDuration()):
			p.HealthSweep(ctx, client, snapshot.InstanceTimeoutDuration())
		}
	}
}

// applyProbe folds one probe outcome into the pool. A worker with a job
// in flight keeps its status no matter what the probe saw; the dispatch
// path owns busy workers.
func (p *Pool) applyProbe(id string, result *ProbeResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker, ok := p.workers[id]
	if !ok {
		return
	}

	if err == nil && result.Healthy {
		now := time.Now()
		worker.LastHeartbeat = &now
		if result.Version != "" && result.Version != worker.Version {
			worker.Version = result.Version
			p.warnVersionSkew(worker)
		}
		if worker.Status == WorkerStatusOffline {
			worker.Status = WorkerStatusIdle
			p.logger.Infow("Worker back online", "worker_id", id, "name", worker.Name)
		}
		return
	}

	if worker.CurrentJobID != "" {
		return
	}
	if err != nil {
		if worker.Status != WorkerStatusOffline {
			p.logger.Warnw("Worker unreachable", "worker_id", id, "name", worker.Name, "error", err)
		}
		worker.Status = WorkerStatusOffline
	} else {
		if worker.Status != WorkerStatusError {
			p.logger.Warnw("Worker health check failed", "worker_id", id, "name", worker.Name)
		}
		worker.Status = WorkerStatusError
	}
}

// warnVersionSkew logs when a worker reports a version older than the
// recommended constraint. Called with the pool lock held, on version
// change only.
func (p *Pool) warnVersionSkew(worker *Worker) {
	version, err := semver.NewVersion(worker.Version)
	if err != nil {
		return
	}
	constraint, err := semver.NewConstraint(recommendedWorkerVersion)
	if err != nil {
		return
	}
	if !constraint.Check(version) {
		p.logger.Warnw("Worker version below recommended",
			"worker_id", worker.ID,
			"name", worker.Name,
			"version", worker.Version,
			"recommended", recommendedWorkerVersion)
	}
}
