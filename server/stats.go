package server

import (
	"net/http"
	"time"

	"github.com/teranos/foreman/dispatch"
)

// wsQueuedLimit caps how many queued jobs a stats frame carries
const wsQueuedLimit = 20

type wsInstance struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	CurrentTaskID *string `json:"current_task_id"`
	Enabled       bool    `json:"enabled"`
}

type wsQueuedTask struct {
	ID        string    `json:"id"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
}

type wsRunningTask struct {
	ID         string     `json:"id"`
	Priority   int        `json:"priority"`
	StartedAt  *time.Time `json:"started_at"`
	InstanceID string     `json:"instance_id"`
	Status     string     `json:"status"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// statsMessage builds one WebSocket stats frame from a single snapshot
// of the queue, the running set, and the worker fleet
func (s *Server) statsMessage() map[string]interface{} {
	queued := s.engine.QueuedJobs()
	running := s.engine.RunningJobs()
	workers := s.pool.List()

	stats := dispatch.BuildStats(len(queued), len(running), workers)

	instances := make([]wsInstance, 0, len(workers))
	for _, worker := range workers {
		inst := wsInstance{
			ID:      worker.ID,
			Name:    worker.Name,
			Status:  string(worker.Status),
			Enabled: worker.Enabled,
		}
		if worker.CurrentJobID != "" {
			id := worker.CurrentJobID
			inst.CurrentTaskID = &id
		}
		instances = append(instances, inst)
	}

	if len(queued) > wsQueuedLimit {
		queued = queued[:wsQueuedLimit]
	}
	queuedTasks := make([]wsQueuedTask, 0, len(queued))
	for _, job := range queued {
		queuedTasks = append(queuedTasks, wsQueuedTask{
			ID:        job.ID,
			Priority:  job.Priority,
			CreatedAt: job.CreatedAt,
			Status:    string(job.Status),
		})
	}

	runningTasks := make([]wsRunningTask, 0, len(running))
	for _, job := range running {
		runningTasks = append(runningTasks, wsRunningTask{
			ID:         job.ID,
			Priority:   job.Priority,
			StartedAt:  job.StartedAt,
			InstanceID: job.WorkerID,
			Status:     string(job.Status),
		})
	}

	return map[string]interface{}{
		"type": "stats",
		"data": map[string]interface{}{
			"queue":         stats.Queue,
			"tasks":         stats.Tasks,
			"instances":     instances,
			"queued_tasks":  queuedTasks,
			"running_tasks": runningTasks,
		},
	}
}

// handleStatsWS upgrades the connection and subscribes it to the stats
// stream. The first frame goes out before the pumps start so a new
// client renders immediately instead of waiting out the ticker.
func (s *Server) handleStatsWS(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("WebSocket upgrade failed", "error", err.Error())
		return
	}

	client := newClient(s, conn, r.RemoteAddr)

	// Single synchronous write; writePump is not running yet.
	if err := conn.WriteJSON(s.statsMessage()); err != nil {
		s.logger.Debugw("Failed to send initial stats frame",
			"client_id", client.id,
			"error", err.Error())
		conn.Close()
		return
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
