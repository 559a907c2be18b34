// Package dispatch provides priority-queued job dispatch to a pool of
// remote parse workers.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValidJobStatus returns true if the status string is a valid JobStatus
func IsValidJobStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusTimeout, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true once a job can no longer change state
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimeout, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job represents one parse request moving through the queue, a worker,
// and finally the journal. The payload is opaque to the dispatch core;
// it is forwarded to the worker verbatim apart from backend substitution.
type Job struct {
	ID          string                 `json:"id"`
	Status      JobStatus              `json:"status"`
	Priority    int                    `json:"priority"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	FileName    string                 `json:"file_name,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	WorkerID    string                 `json:"worker_id,omitempty"`
	WorkerName  string                 `json:"worker_name,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	RetryCount  int                    `json:"retry_count"`

	// seq is the admission sequence assigned by the queue, the final
	// ordering tie-break among equal (priority, created_at) pairs.
	seq uint64
}

// NewJob creates a pending job with a generated UUID. The file name is
// lifted out of the payload when present so the journal can index it
// without re-parsing JSON.
func NewJob(payload map[string]interface{}, priority int) *Job {
	return NewJobWithID(uuid.NewString(), payload, priority)
}

// NewJobWithID creates a pending job under a caller-supplied ID.
// Used by the retry endpoints, which re-admit jobs under their
// original identifier.
func NewJobWithID(id string, payload map[string]interface{}, priority int) *Job {
	job := &Job{
		ID:        id,
		Status:    JobStatusPending,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if name, ok := payload["file_name"].(string); ok {
		job.FileName = name
	}
	return job
}

// Start marks the job as running on the given worker
func (j *Job) Start(workerID, workerName string) {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.WorkerID = workerID
	j.WorkerName = workerName
}

// Complete marks the job as completed with the worker's result
func (j *Job) Complete(result map[string]interface{}) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Result = result
	j.Error = ""
	j.CompletedAt = &now
}

// Fail marks the job as terminally failed with an error message
func (j *Job) Fail(message string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = message
	j.CompletedAt = &now
}

// Timeout marks the job as terminally timed out with an error message
func (j *Job) Timeout(message string) {
	now := time.Now()
	j.Status = JobStatusTimeout
	j.Error = message
	j.CompletedAt = &now
}

// Cancel marks the job as cancelled
func (j *Job) Cancel() {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
}

// PrepareRetry resets the job for another queue pass after a failed
// attempt. The retry counter advances; CreatedAt and ID are kept so the
// job retains its original queue position. The error from the failed
// attempt stays on the job until the next attempt overwrites it.
func (j *Job) PrepareRetry() {
	j.RetryCount++
	j.Status = JobStatusPending
	j.StartedAt = nil
	j.WorkerID = ""
	j.WorkerName = ""
}

// DurationSeconds returns the execution duration in seconds, or nil when
// the job never ran to a terminal state.
func (j *Job) DurationSeconds() *float64 {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return nil
	}
	d := j.CompletedAt.Sub(*j.StartedAt).Seconds()
	return &d
}

// Clone returns a copy safe to hand outside the dispatch core while the
// original keeps mutating. Payload and result maps are copied one level
// deep; nested values are never mutated in place.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Payload != nil {
		c.Payload = make(map[string]interface{}, len(j.Payload))
		for k, v := range j.Payload {
			c.Payload[k] = v
		}
	}
	if j.Result != nil {
		c.Result = make(map[string]interface{}, len(j.Result))
		for k, v := range j.Result {
			c.Result[k] = v
		}
	}
	return &c
}
