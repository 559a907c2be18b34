package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/foreman/config"
	"github.com/teranos/foreman/dispatch"
)

// seedTerminalRow plants a finished journal row, as if the job ran and
// ended before the server came up
func seedTerminalRow(t *testing.T, store *dispatch.Store, status dispatch.JobStatus, age time.Duration) *dispatch.Job {
	t.Helper()
	job := dispatch.NewJob(map[string]interface{}{"file_name": "seed.pdf"}, 5)
	job.CreatedAt = time.Now().Add(-age)
	job.Start("w-gone", "gone")
	switch status {
	case dispatch.JobStatusCompleted:
		job.Complete(map[string]interface{}{"md": "# old"})
	case dispatch.JobStatusFailed:
		job.Fail("HTTP 500 from worker")
	case dispatch.JobStatusTimeout:
		job.Timeout("Task execution timeout")
	case dispatch.JobStatusCancelled:
		job.Cancel()
	default:
		t.Fatalf("seedTerminalRow: %s is not terminal", status)
	}
	require.NoError(t, store.SaveJob(job))
	return job
}

func TestCreateTaskAsync(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())

	resp, body := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{
		"async":    true,
		"priority": 7,
		"payload":  map[string]interface{}{"file_name": "a.pdf"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["task_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(1), body["position"])

	row, err := f.store.GetJob(body["task_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, dispatch.JobStatusPending, row.Status)
	assert.Equal(t, 7, row.Priority)
}

func TestCreateTaskSyncWaitsForResult(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())
	f.addWorker(t, "w1", parseOK())

	resp, body := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{
		"payload": map[string]interface{}{"file_name": "b.pdf"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok, "sync response must carry the worker result")
	assert.Equal(t, "# parsed", result["md"])
}

func TestCreateTaskQueueFull(t *testing.T) {
	cfg := config.DefaultDispatch()
	cfg.MaxQueueSize = 1
	f := newFixture(t, cfg)

	resp, _ := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{"async": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{"async": true})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Queue is full", body["error"])
}

func TestCreateTaskRejectsBadPriority(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())

	for _, p := range []int{0, 11, -3} {
		resp, body := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{
			"async":    true,
			"priority": p,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "priority %d", p)
		assert.Equal(t, "priority must be between 1 and 10", body["error"])
	}
}

func TestCreateTaskAsyncModeAlias(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())
	f.addWorker(t, "w1", parseOK())

	resp, body := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{
		"async_mode": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"], "alias must select the async path")
	assert.Equal(t, float64(1), body["position"])
}

func TestCreateTaskMultipart(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())

	var (
		mu       sync.Mutex
		captured map[string]interface{}
	)
	f.addWorker(t, "w1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]interface{}
		json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		captured = p
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"md": "# parsed"})
	}))

	content := []byte("%PDF-1.4 fake")
	buf, contentType := multipartBody(t, "report.pdf", content, map[string]string{
		"async":    "true",
		"priority": "9",
	})
	req, err := http.NewRequest(http.MethodPost, f.api.URL+"/api/tasks", buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	resp, err := f.api.Client().Do(req)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := body["task_id"].(string)

	pollUntil(t, 5*time.Second, func() bool {
		row, err := f.store.GetJob(id)
		return err == nil && row.Status == dispatch.JobStatusCompleted
	}, "multipart job should complete")

	row, err := f.store.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, 9, row.Priority)
	assert.Equal(t, "report.pdf", row.FileName)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, captured, "worker should have received the payload")
	assert.Equal(t, "report.pdf", captured["file_name"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(content), captured["file_base64"])
	assert.Equal(t, "auto", captured["parse_method"])
	assert.Equal(t, "true", captured["return_md"])
}

func TestListTasksLiveState(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())

	var ids []string
	for _, p := range []int{3, 9, 5} {
		_, body := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{
			"async":    true,
			"priority": p,
		})
		ids = append(ids, body["task_id"].(string))
	}

	resp, body := f.get(t, "/api/tasks")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["total"])

	tasks := body["tasks"].([]interface{})
	require.Len(t, tasks, 3)
	head := tasks[0].(map[string]interface{})
	assert.Equal(t, ids[1], head["task_id"], "priority 9 job should be first in line")
	assert.Equal(t, float64(1), head["position"])

	_, body = f.get(t, "/api/tasks?status=pending")
	assert.Equal(t, float64(3), body["total"])

	_, body = f.get(t, "/api/tasks?status=running")
	assert.Equal(t, float64(0), body["total"])
	assert.Empty(t, body["tasks"])
}

func TestListTasksJournalPagination(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())

	var newest string
	for i := 5; i >= 1; i-- {
		job := seedTerminalRow(t, f.store, dispatch.JobStatusFailed, time.Duration(i)*time.Minute)
		if i == 1 {
			newest = job.ID
		}
	}

	resp, body := f.get(t, "/api/tasks?status=failed&page=1&page_size=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), body["total"])
	assert.Equal(t, float64(1), body["page"])
	assert.Equal(t, float64(2), body["page_size"])

	tasks := body["tasks"].([]interface{})
	require.Len(t, tasks, 2)
	assert.Equal(t, newest, tasks[0].(map[string]interface{})["task_id"], "newest row first")

	_, body = f.get(t, "/api/tasks?status=failed&page=3&page_size=2")
	tasks = body["tasks"].([]interface{})
	assert.Len(t, tasks, 1)
}

func TestGetTaskAcrossLifecycle(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())

	release := make(chan struct{})
	f.addWorker(t, "w1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
			json.NewEncoder(w).Encode(map[string]interface{}{"md": "done"})
		case <-r.Context().Done():
		}
	}))

	_, body := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{"async": true})
	id := body["task_id"].(string)

	pollUntil(t, 5*time.Second, func() bool {
		_, got := f.get(t, "/api/tasks/"+id)
		return got["status"] == "running"
	}, "job should reach the running state")

	_, body = f.get(t, "/api/tasks/"+id)
	assert.Nil(t, body["position"], "running jobs carry no queue position")

	close(release)
	pollUntil(t, 5*time.Second, func() bool {
		_, got := f.get(t, "/api/tasks/"+id)
		return got["status"] == "completed"
	}, "job should complete after release")

	resp, body := f.get(t, "/api/tasks/does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Task not found", body["error"])
}

func TestGetTaskQueuedHasPosition(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())

	_, first := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{"async": true, "priority": 9})
	_, second := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{"async": true, "priority": 1})

	_, body := f.get(t, "/api/tasks/"+second["task_id"].(string))
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(2), body["position"])

	_, body = f.get(t, "/api/tasks/"+first["task_id"].(string))
	assert.Equal(t, float64(1), body["position"])
}

func TestCancelTaskIdempotent(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())

	_, body := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{"async": true})
	id := body["task_id"].(string)

	resp, body := f.do(t, http.MethodDelete, "/api/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Task cancelled", body["message"])
	assert.Equal(t, id, body["task_id"])

	resp, body = f.do(t, http.MethodDelete, "/api/tasks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Task not found or already completed", body["error"])

	_, body = f.get(t, "/api/tasks/"+id)
	assert.Equal(t, "cancelled", body["status"])
}

func TestRetryEndpoint(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())
	job := seedTerminalRow(t, f.store, dispatch.JobStatusFailed, time.Minute)

	resp, body := f.do(t, http.MethodPost, "/api/tasks/"+job.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, job.ID, body["task_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(1), body["position"])

	resp, body = f.do(t, http.MethodPost, "/api/tasks/"+job.ID+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "already queued")

	resp, body = f.do(t, http.MethodPost, "/api/tasks/missing/retry", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Task not found", body["error"])
}

func TestRetryAllEndpoint(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())
	seedTerminalRow(t, f.store, dispatch.JobStatusFailed, 3*time.Minute)
	seedTerminalRow(t, f.store, dispatch.JobStatusTimeout, 2*time.Minute)
	seedTerminalRow(t, f.store, dispatch.JobStatusCompleted, time.Minute)

	resp, body := f.do(t, http.MethodPost, "/api/tasks/retry-all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["requeued"])

	_, body = f.get(t, "/api/tasks?status=pending")
	assert.Equal(t, float64(2), body["total"])
}
