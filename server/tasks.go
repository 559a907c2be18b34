package server

import (
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/foreman/dispatch"
	"github.com/teranos/foreman/errors"
)

const (
	defaultTaskPriority = 5
	defaultPageSize     = 50
	maxPageSize         = 200
)

// taskCreateRequest is the JSON body of POST /api/tasks. The async flag
// is accepted under both its wire name and its long-form alias.
type taskCreateRequest struct {
	Async     bool                   `json:"async"`
	AsyncMode *bool                  `json:"async_mode"`
	Priority  *int                   `json:"priority"`
	Payload   map[string]interface{} `json:"payload"`
}

// taskResponse is the wire shape for single-job endpoints
type taskResponse struct {
	TaskID   string                 `json:"task_id"`
	Status   string                 `json:"status"`
	Position int                    `json:"position,omitempty"`
	Result   map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// taskSummary is one row of GET /api/tasks
type taskSummary struct {
	TaskID      string     `json:"task_id"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	Position    int        `json:"position,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	InstanceID  string     `json:"instance_id,omitempty"`
	FileName    string     `json:"file_name,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTask(w, r)
	case http.MethodGet:
		s.listTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		s.createTaskMultipart(w, r)
		return
	}

	var req taskCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	priority := defaultTaskPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < 1 || priority > 10 {
		writeError(w, http.StatusBadRequest, "priority must be between 1 and 10")
		return
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	async := req.Async || (req.AsyncMode != nil && *req.AsyncMode)
	s.admitTask(w, r, payload, priority, async)
}

func (s *Server) createTaskMultipart(w http.ResponseWriter, r *http.Request) {
	payload, err := fileParsePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	priority := defaultTaskPriority
	if v := r.FormValue("priority"); v != "" {
		p, convErr := strconv.Atoi(v)
		if convErr != nil || p < 1 || p > 10 {
			writeError(w, http.StatusBadRequest, "priority must be between 1 and 10")
			return
		}
		priority = p
	}

	async := strings.EqualFold(formValue(r, "async", "false"), "true")
	s.admitTask(w, r, payload, priority, async)
}

// admitTask runs the shared submission tail of both POST bodies: async
// admissions answer immediately with the queue position, sync admissions
// hold the response until the job reaches a terminal state.
func (s *Server) admitTask(w http.ResponseWriter, r *http.Request, payload map[string]interface{}, priority int, async bool) {
	if async {
		job, pos, err := s.engine.Submit(payload, priority, "")
		if err != nil {
			if errors.IsQueueFull(err) {
				writeError(w, http.StatusTooManyRequests, "Queue is full")
				return
			}
			writeError(w, httpStatusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, taskResponse{
			TaskID:   job.ID,
			Status:   string(job.Status),
			Position: pos,
		})
		return
	}

	job, err := s.engine.SubmitAndWait(r.Context(), payload, priority)
	if err != nil {
		if errors.IsQueueFull(err) {
			writeError(w, http.StatusTooManyRequests, "Queue is full")
			return
		}
		writeError(w, http.StatusInternalServerError, "Task execution failed")
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{
		TaskID: job.ID,
		Status: string(job.Status),
		Result: job.Result,
		Error:  job.Error,
	})
}

// listTasks reports pending and running jobs from live state and
// finished jobs from the journal, newest first, paginated.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := positiveIntParam(q.Get("page"), 1)
	pageSize := positiveIntParam(q.Get("page_size"), defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := (page - 1) * pageSize

	var (
		entries []taskSummary
		total   int
	)
	switch status := q.Get("status"); status {
	case "":
		entries = append(s.queuedSummaries(), s.runningSummaries()...)
		live := len(entries)
		rows, finished, err := s.store.ListTerminal(pageSize, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, row := range rows {
			entries = append(entries, journalSummary(row))
		}
		total = live + finished
	case string(dispatch.JobStatusPending):
		entries = s.queuedSummaries()
		total = len(entries)
	case string(dispatch.JobStatusRunning):
		entries = s.runningSummaries()
		total = len(entries)
	default:
		st := dispatch.JobStatus(status)
		rows, count, err := s.store.ListJobs(&st, pageSize, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, row := range rows {
			entries = append(entries, journalSummary(row))
		}
		total = count
	}

	if entries == nil {
		entries = []taskSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":     entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) queuedSummaries() []taskSummary {
	jobs := s.engine.QueuedJobs()
	out := make([]taskSummary, 0, len(jobs))
	for i, job := range jobs {
		out = append(out, taskSummary{
			TaskID:     job.ID,
			Status:     string(job.Status),
			Priority:   job.Priority,
			CreatedAt:  job.CreatedAt,
			Position:   i + 1,
			FileName:   job.FileName,
			Error:      job.Error,
			RetryCount: job.RetryCount,
		})
	}
	return out
}

func (s *Server) runningSummaries() []taskSummary {
	jobs := s.engine.RunningJobs()
	out := make([]taskSummary, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, taskSummary{
			TaskID:     job.ID,
			Status:     string(job.Status),
			Priority:   job.Priority,
			CreatedAt:  job.CreatedAt,
			StartedAt:  job.StartedAt,
			InstanceID: job.WorkerID,
			FileName:   job.FileName,
			RetryCount: job.RetryCount,
		})
	}
	return out
}

func journalSummary(job *dispatch.Job) taskSummary {
	return taskSummary{
		TaskID:      job.ID,
		Status:      string(job.Status),
		Priority:    job.Priority,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		InstanceID:  job.WorkerID,
		FileName:    job.FileName,
		Error:       job.Error,
		RetryCount:  job.RetryCount,
	}
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		s.getTask(w, id)
	case http.MethodDelete:
		s.cancelTask(w, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) getTask(w http.ResponseWriter, id string) {
	job, pos, err := s.engine.Lookup(id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := taskResponse{
		TaskID: job.ID,
		Status: string(job.Status),
		Error:  job.Error,
	}
	if job.Status == dispatch.JobStatusPending {
		resp.Position = pos
	} else {
		resp.Result = job.Result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cancelTask(w http.ResponseWriter, id string) {
	if _, err := s.engine.Cancel(id); err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "Task not found or already completed")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Task cancelled",
		"task_id": id,
	})
}

func (s *Server) handleTaskRetry(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodPost) {
		return
	}

	job, pos, err := s.engine.Retry(r.PathValue("id"))
	if err != nil {
		switch {
		case errors.IsNotFoundError(err):
			writeError(w, http.StatusNotFound, "Task not found")
		case errors.IsQueueFull(err):
			writeError(w, http.StatusTooManyRequests, "Queue is full")
		case errors.IsNotRetryable(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{
		TaskID:   job.ID,
		Status:   string(job.Status),
		Position: pos,
	})
}

func (s *Server) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodPost) {
		return
	}

	requeued, err := s.engine.RetryAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": requeued})
}

// positiveIntParam parses a positive integer query parameter, falling
// back when absent or malformed
func positiveIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
