package dispatch

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkerStatus represents the current state of a parse worker
type WorkerStatus string

const (
	WorkerStatusIdle     WorkerStatus = "idle"
	WorkerStatusBusy     WorkerStatus = "busy"
	WorkerStatusOffline  WorkerStatus = "offline"
	WorkerStatusError    WorkerStatus = "error"
	WorkerStatusDisabled WorkerStatus = "disabled"
)

// DefaultBackend is assigned to workers registered without an explicit
// backend and substituted into payloads that ask for "auto".
const DefaultBackend = "pipeline"

// Worker represents one remote parse service instance
type Worker struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	URL           string       `json:"url"`
	Status        WorkerStatus `json:"status"`
	CurrentJobID  string       `json:"current_job_id,omitempty"`
	TotalJobs     int          `json:"total_jobs"`
	FailedJobs    int          `json:"failed_jobs"`
	LastHeartbeat *time.Time   `json:"last_heartbeat,omitempty"`
	Enabled       bool         `json:"enabled"`
	Backend       string       `json:"backend"`
	CreatedAt     time.Time    `json:"created_at"`

	// Version is reported by the worker's /openapi.json info block when a
	// probe falls through to it. Logged for fleet skew warnings only.
	Version string `json:"-"`
}

// NewWorker registers a worker in the offline state. The URL keeps no
// trailing slash so request paths can be appended directly.
func NewWorker(name, url, backend string) *Worker {
	if backend == "" {
		backend = DefaultBackend
	}
	return &Worker{
		ID:        uuid.NewString(),
		Name:      name,
		URL:       strings.TrimRight(url, "/"),
		Status:    WorkerStatusOffline,
		Enabled:   true,
		Backend:   backend,
		CreatedAt: time.Now(),
	}
}

// Clone returns a copy safe to hand outside the pool lock
func (w *Worker) Clone() *Worker {
	c := *w
	if w.LastHeartbeat != nil {
		t := *w.LastHeartbeat
		c.LastHeartbeat = &t
	}
	return &c
}
