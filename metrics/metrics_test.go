package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordSubmitted()
	c.RecordSubmitted()
	c.RecordDispatched()
	c.RecordCompleted(1.5)
	c.RecordFailed()
	c.RecordRetried()
	c.RecordTimeout()
	c.RecordCancelled()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsDispatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsRetried))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsTimeout))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsCancelled))
}

func TestCollectorGauges(t *testing.T) {
	c := NewCollector()

	c.SetQueueDepth(7)
	c.SetJobsRunning(3)
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.jobsRunning))

	c.SetWorkerCounts(map[string]int{"idle": 2, "busy": 1})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.workers.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workers.WithLabelValues("busy")))

	// A later snapshot without busy workers must clear the stale series.
	c.SetWorkerCounts(map[string]int{"idle": 3})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.workers.WithLabelValues("busy")))
}

func TestCollectorsAreIsolated(t *testing.T) {
	// Two collectors in one process must not collide on registration.
	first := NewCollector()
	require.NotPanics(t, func() { NewCollector() })

	first.RecordSubmitted()
	second := NewCollector()
	assert.Equal(t, 0.0, testutil.ToFloat64(second.jobsSubmitted))
}

func TestHandlerExposition(t *testing.T) {
	c := NewCollector()
	c.RecordSubmitted()
	c.RecordCompleted(0.25)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "foreman_jobs_submitted_total 1"))
	assert.True(t, strings.Contains(body, "foreman_job_duration_seconds_bucket"))
	assert.True(t, strings.Contains(body, "foreman_queue_depth"))
}
