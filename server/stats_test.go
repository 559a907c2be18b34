package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/foreman/config"
)

// dialStatsWS opens the stats stream and returns the first frame, which
// the handler writes before the pumps start.
func dialStatsWS(t *testing.T, f *fixture) (*websocket.Conn, map[string]interface{}) {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(f.api.URL, "http") + "/api/stats/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	var frame map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	return conn, frame
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())

	resp, body := f.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	queue := body["queue"].(map[string]interface{})
	assert.Equal(t, float64(0), queue["pending"])
	assert.Equal(t, float64(0), queue["running"])
	tasks := body["tasks"].(map[string]interface{})
	assert.Equal(t, float64(0), tasks["total"])
	instances := body["instances"].(map[string]interface{})
	assert.Equal(t, float64(0), instances["total"])

	f.addWorker(t, "alpha", parseOK())

	resp, _ = f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{
		"payload": map[string]interface{}{"file_name": "a.pdf"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Worker counters tick over as the engine releases the worker, which
	// can land just after the sync response.
	pollUntil(t, 2*time.Second, func() bool {
		_, body = f.get(t, "/api/stats")
		tasks := body["tasks"].(map[string]interface{})
		instances := body["instances"].(map[string]interface{})
		return tasks["total"] == float64(1) && instances["idle"] == float64(1)
	}, "stats should report one executed task and an idle instance")

	tasks = body["tasks"].(map[string]interface{})
	assert.Equal(t, float64(1), tasks["completed"])
	assert.Equal(t, float64(0), tasks["failed"])
	instances = body["instances"].(map[string]interface{})
	assert.Equal(t, float64(1), instances["total"])
}

func TestStatsWSInitialFrame(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())

	// No workers, so the job stays queued and shows up in the frame.
	resp, body := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{
		"async":    true,
		"priority": 8,
		"payload":  map[string]interface{}{"file_name": "queued.pdf"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	taskID := body["task_id"].(string)

	_, frame := dialStatsWS(t, f)
	require.Equal(t, "stats", frame["type"])

	data := frame["data"].(map[string]interface{})
	for _, key := range []string{"queue", "tasks", "instances", "queued_tasks", "running_tasks"} {
		assert.Contains(t, data, key)
	}

	queue := data["queue"].(map[string]interface{})
	assert.Equal(t, float64(1), queue["pending"])
	assert.Equal(t, float64(0), queue["running"])

	queued := data["queued_tasks"].([]interface{})
	require.Len(t, queued, 1)
	entry := queued[0].(map[string]interface{})
	assert.Equal(t, taskID, entry["id"])
	assert.Equal(t, float64(8), entry["priority"])
	assert.Equal(t, "pending", entry["status"])

	assert.Empty(t, data["instances"])
	assert.Empty(t, data["running_tasks"])
}

func TestStatsWSJobUpdates(t *testing.T) {
	f := newFixture(t, config.DefaultDispatch())
	f.addWorker(t, "alpha", parseOK())

	conn, frame := dialStatsWS(t, f)
	require.Equal(t, "stats", frame["type"])

	resp, body := f.do(t, http.MethodPost, "/api/tasks", map[string]interface{}{
		"async":   true,
		"payload": map[string]interface{}{"file_name": "live.pdf"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	taskID := body["task_id"].(string)

	// The engine emits an update per transition; wait for the terminal one.
	sawCompleted := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !sawCompleted {
		var update map[string]interface{}
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		require.NoError(t, conn.ReadJSON(&update))
		if update["type"] != "job_update" {
			continue
		}
		job := update["data"].(map[string]interface{})
		if job["id"] == taskID && job["status"] == "completed" {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted, "expected a job_update frame with the completed job")
}
