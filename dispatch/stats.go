package dispatch

// Stats is the aggregate snapshot behind GET /api/stats and the stats
// WebSocket. Task totals are derived from the worker counters rather
// than the job journal, so they track what the fleet actually executed
// and survive restarts with the worker rows.
type Stats struct {
	Queue     QueueStats    `json:"queue"`
	Tasks     TaskStats     `json:"tasks"`
	Instances InstanceStats `json:"instances"`
}

// QueueStats counts live jobs: queued and in flight
type QueueStats struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
}

// TaskStats aggregates per-worker execution counters. Completed is
// total minus failed.
type TaskStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// InstanceStats buckets workers by operational state. Idle counts only
// enabled workers; offline includes workers in error state. Disabled
// workers appear in the total but in no bucket.
type InstanceStats struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	Busy    int `json:"busy"`
	Offline int `json:"offline"`
}

// BuildStats aggregates queue depths and worker counters into the
// stats wire shape. Job totals come from worker lifetime counters, so
// completed is derived as total minus failed.
func BuildStats(pending, running int, workers []*Worker) Stats {
	var s Stats
	s.Queue.Pending = pending
	s.Queue.Running = running
	s.Instances.Total = len(workers)

	for _, w := range workers {
		s.Tasks.Total += w.TotalJobs
		s.Tasks.Failed += w.FailedJobs

		switch {
		case w.Status == WorkerStatusBusy:
			s.Instances.Busy++
		case w.Status == WorkerStatusIdle && w.Enabled:
			s.Instances.Idle++
		case w.Status == WorkerStatusOffline || w.Status == WorkerStatusError:
			s.Instances.Offline++
		}
	}

	s.Tasks.Completed = s.Tasks.Total - s.Tasks.Failed
	return s
}

// statusCounts feeds the worker gauge, keyed by status string
func statusCounts(workers []*Worker) map[string]int {
	counts := map[string]int{
		string(WorkerStatusIdle):     0,
		string(WorkerStatusBusy):     0,
		string(WorkerStatusOffline):  0,
		string(WorkerStatusError):    0,
		string(WorkerStatusDisabled): 0,
	}
	for _, w := range workers {
		counts[string(w.Status)]++
	}
	return counts
}
