package dispatch

import (
	"context"
	"time"

	"github.com/teranos/foreman/config"
	"github.com/teranos/foreman/errors"
)

// Job error strings surfaced to API callers. Both are part of the
// external contract; status pollers match on them.
const (
	execTimeoutMessage  = "Task execution timeout"
	queueTimeoutMessage = "Queue timeout"
)

// runExecutor drives one dispatched job against its bound worker. By the
// time it starts, the job is in the running set and the worker is busy
// with this job. Exactly one executor goroutine exists per running job.
//
// The worker release is deferred past the failure handling on purpose: a
// retry's delay keeps the worker out of rotation until the attempt is
// fully resolved, so a flapping worker cannot churn through the queue.
func (e *Engine) runExecutor(job *Job, worker *Worker, cfg config.DispatchConfig) {
	defer e.wg.Done()
	defer e.releaseWorker(worker.ID)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("Executor panic",
				"job_id", job.ID,
				"worker", worker.Name,
				"panic", r)
			e.finishFailure(job, worker, errors.Newf("executor panic: %v", r).Error(), false)
		}
	}()

	execCtx, cancel := context.WithTimeout(e.ctx, cfg.TaskTimeoutDuration())
	result, err := e.client.Execute(execCtx, worker, job.Payload)
	cancel()

	switch {
	case err == nil:
		e.finishSuccess(job, result)
	case e.ctx.Err() != nil:
		// Shutdown aborted the call mid-flight. Drop the attempt; the
		// journal row stays running, the same face a crash leaves.
		e.mu.Lock()
		delete(e.running, job.ID)
		e.mu.Unlock()
		e.logger.Warnw("Attempt abandoned at shutdown",
			"job_id", job.ID,
			"worker", worker.Name)
	case errors.Is(err, context.DeadlineExceeded):
		e.finishFailure(job, worker, execTimeoutMessage, true)
	default:
		e.finishFailure(job, worker, err.Error(), false)
	}
}

// finishSuccess commits a completed result. A job cancelled while the
// call was in flight has already left the running set; its late result
// is dropped without touching any state.
func (e *Engine) finishSuccess(job *Job, result map[string]interface{}) {
	e.mu.Lock()
	if _, live := e.running[job.ID]; !live {
		e.mu.Unlock()
		e.logger.Debugw("Dropping result for job no longer running", "job_id", job.ID)
		return
	}
	job.Complete(result)
	delete(e.running, job.ID)
	e.mu.Unlock()

	if d := job.DurationSeconds(); d != nil {
		e.metrics.RecordCompleted(*d)
	}
	e.waiters.Signal(job.ID, job)
	e.persist(job)
	e.notifyUpdate(job.Clone())
	e.logger.Infow("Job completed",
		"job_id", job.ID,
		"worker", job.WorkerName,
		"retries", job.RetryCount)
}

// finishFailure resolves a failed attempt: requeue while retries remain,
// terminal failed/timeout otherwise. Retry policy is read live so a
// config change applies to failures resolved after it, matching how the
// rest of the loop consumes tunables.
//
// The retry delay is slept here, before the caller's deferred release
// runs, so the worker sits out the backoff window.
func (e *Engine) finishFailure(job *Job, worker *Worker, message string, isTimeout bool) {
	cfg := e.config.Snapshot()

	e.mu.Lock()
	if _, live := e.running[job.ID]; !live {
		e.mu.Unlock()
		e.logger.Debugw("Dropping failure for job no longer running", "job_id", job.ID)
		return
	}

	if job.RetryCount < cfg.MaxRetries {
		job.Error = message
		job.PrepareRetry()
		delete(e.running, job.ID)
		e.mu.Unlock()

		e.bumpWorkerFailure(worker.ID)
		e.metrics.RecordRetried()
		e.persist(job)
		e.notifyUpdate(job.Clone())
		e.logger.Warnw("Job requeued for retry",
			"job_id", job.ID,
			"retry", job.RetryCount,
			"max_retries", cfg.MaxRetries,
			"worker", worker.Name,
			"error", message)

		select {
		case <-time.After(cfg.RetryDelayDuration()):
		case <-e.ctx.Done():
			return
		}
		// Original created_at, so the job keeps its age within its
		// priority band.
		if _, err := e.queue.Enqueue(job); err != nil {
			e.logger.Errorw("Failed to requeue job", "job_id", job.ID, "error", err)
		}
		return
	}

	if isTimeout {
		job.Timeout(message)
		e.metrics.RecordTimeout()
	} else {
		job.Fail(message)
		e.metrics.RecordFailed()
	}
	delete(e.running, job.ID)
	e.mu.Unlock()

	e.bumpWorkerFailure(worker.ID)
	e.waiters.Signal(job.ID, job)
	e.persist(job)
	e.notifyUpdate(job.Clone())
	e.logger.Errorw("Job failed",
		"job_id", job.ID,
		"worker", worker.Name,
		"status", job.Status,
		"retries", job.RetryCount,
		"error", message)
}

// releaseWorker returns a worker to rotation after an attempt concludes.
// A worker removed mid-flight is gone; that is not an error here.
func (e *Engine) releaseWorker(workerID string) {
	if _, err := e.pool.Release(workerID); err != nil && !errors.Is(err, errors.ErrWorkerNotFound) {
		e.logger.Warnw("Failed to release worker", "worker_id", workerID, "error", err)
	}
}

// bumpWorkerFailure advances the worker's failure counter and flushes
// the row so the counter survives restarts.
func (e *Engine) bumpWorkerFailure(workerID string) {
	w, err := e.pool.IncFailed(workerID)
	if err != nil {
		return
	}
	if err := e.store.SaveWorker(w); err != nil {
		e.logger.Warnw("Failed to flush worker counters", "worker_id", workerID, "error", err)
	}
}
