package server

import (
	"net/http"
	"time"

	"github.com/teranos/foreman/dispatch"
	"github.com/teranos/foreman/errors"
)

// instanceResponse is the wire shape of a worker endpoint. Nullable
// members keep their key with a JSON null, matching the original API.
type instanceResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Status        string     `json:"status"`
	CurrentTaskID *string    `json:"current_task_id"`
	TotalTasks    int        `json:"total_tasks"`
	FailedTasks   int        `json:"failed_tasks"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	Enabled       bool       `json:"enabled"`
	Backend       string     `json:"backend"`
}

type instanceCreateRequest struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Backend string `json:"backend"`
}

type instanceUpdateRequest struct {
	Name    *string `json:"name"`
	URL     *string `json:"url"`
	Backend *string `json:"backend"`
}

func instanceResponseFor(w *dispatch.Worker) instanceResponse {
	resp := instanceResponse{
		ID:            w.ID,
		Name:          w.Name,
		URL:           w.URL,
		Status:        string(w.Status),
		TotalTasks:    w.TotalJobs,
		FailedTasks:   w.FailedJobs,
		LastHeartbeat: w.LastHeartbeat,
		Enabled:       w.Enabled,
		Backend:       w.Backend,
	}
	if w.CurrentJobID != "" {
		id := w.CurrentJobID
		resp.CurrentTaskID = &id
	}
	return resp
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		workers := s.pool.List()
		out := make([]instanceResponse, 0, len(workers))
		for _, worker := range workers {
			out = append(out, instanceResponseFor(worker))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		s.addInstance(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) addInstance(w http.ResponseWriter, r *http.Request) {
	var req instanceCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}

	worker := s.pool.Add(req.Name, req.URL, req.Backend)
	if err := s.store.SaveWorker(worker); err != nil {
		s.logger.Errorw("Failed to persist instance",
			"instance_id", worker.ID,
			"error", err)
	}
	writeJSON(w, http.StatusOK, instanceResponseFor(worker))
}

func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodPatch:
		s.updateInstance(w, r, id)
	case http.MethodDelete:
		s.removeInstance(w, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) updateInstance(w http.ResponseWriter, r *http.Request, id string) {
	var req instanceUpdateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	worker, err := s.pool.Update(id, dispatch.WorkerPatch{
		Name:    req.Name,
		URL:     req.URL,
		Backend: req.Backend,
	})
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrWorkerNotFound):
			writeError(w, http.StatusNotFound, "Instance not found")
		case errors.IsWorkerBusy(err):
			writeError(w, http.StatusBadRequest, "Cannot change URL of instance with running task")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if err := s.store.SaveWorker(worker); err != nil {
		s.logger.Errorw("Failed to persist instance",
			"instance_id", worker.ID,
			"error", err)
	}
	writeJSON(w, http.StatusOK, instanceResponseFor(worker))
}

func (s *Server) removeInstance(w http.ResponseWriter, id string) {
	if err := s.pool.Remove(id); err != nil {
		switch {
		case errors.IsWorkerBusy(err):
			writeError(w, http.StatusBadRequest, "Cannot remove instance with running task")
		case errors.Is(err, errors.ErrWorkerNotFound):
			writeError(w, http.StatusNotFound, "Instance not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if err := s.store.DeleteWorker(id); err != nil {
		s.logger.Errorw("Failed to delete persisted instance",
			"instance_id", id,
			"error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":     "Instance removed",
		"instance_id": id,
	})
}

func (s *Server) handleInstanceEnable(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodPost) {
		return
	}
	s.setInstanceEnabled(w, r.PathValue("id"), true)
}

func (s *Server) handleInstanceDisable(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodPost) {
		return
	}
	s.setInstanceEnabled(w, r.PathValue("id"), false)
}

func (s *Server) setInstanceEnabled(w http.ResponseWriter, id string, enabled bool) {
	var (
		worker *dispatch.Worker
		err    error
	)
	if enabled {
		worker, err = s.pool.Enable(id)
	} else {
		worker, err = s.pool.Disable(id)
	}
	if err != nil {
		if errors.Is(err, errors.ErrWorkerNotFound) {
			writeError(w, http.StatusNotFound, "Instance not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.store.SaveWorker(worker); err != nil {
		s.logger.Errorw("Failed to persist instance",
			"instance_id", worker.ID,
			"error", err)
	}

	message := "Instance disabled"
	if enabled {
		message = "Instance enabled"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":     message,
		"instance_id": id,
	})
}
