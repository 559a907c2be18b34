// Package metrics exposes dispatch counters, gauges and timings in
// Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// durationBuckets covers document parses from sub-second up to the
// 10-minute neighborhood of the default task timeout.
var durationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// Collector owns every foreman metric and the registry they live in.
// Each collector registers against its own registry, so multiple engine
// instances (tests, embedded use) never fight over metric names.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted  prometheus.Counter
	jobsDispatched prometheus.Counter
	jobsCompleted  prometheus.Counter
	jobsFailed     prometheus.Counter
	jobsRetried    prometheus.Counter
	jobsTimeout    prometheus.Counter
	jobsCancelled  prometheus.Counter

	jobDuration prometheus.Histogram

	queueDepth  prometheus.Gauge
	jobsRunning prometheus.Gauge
	workers     *prometheus.GaugeVec
}

// NewCollector creates and registers the foreman metric set
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_jobs_submitted_total",
			Help: "Total number of jobs admitted to the queue",
		}),
		jobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_jobs_dispatched_total",
			Help: "Total number of job attempts handed to workers",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_jobs_failed_total",
			Help: "Total number of jobs that ended terminally failed",
		}),
		jobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_jobs_retried_total",
			Help: "Total number of retry re-admissions",
		}),
		jobsTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_jobs_timeout_total",
			Help: "Total number of jobs that ended in execution or queue timeout",
		}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_jobs_cancelled_total",
			Help: "Total number of jobs cancelled by operators",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "foreman_job_duration_seconds",
			Help:    "Execution time of completed job attempts in seconds",
			Buckets: durationBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foreman_queue_depth",
			Help: "Jobs currently waiting in the priority queue",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foreman_jobs_running",
			Help: "Jobs currently executing on workers",
		}),
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "foreman_workers",
			Help: "Registered workers by status",
		}, []string{"status"}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted,
		c.jobsDispatched,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsRetried,
		c.jobsTimeout,
		c.jobsCancelled,
		c.jobDuration,
		c.queueDepth,
		c.jobsRunning,
		c.workers,
	)
	return c
}

// Handler returns the /metrics exposition handler for this collector
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordSubmitted counts a queue admission
func (c *Collector) RecordSubmitted() {
	c.jobsSubmitted.Inc()
}

// RecordDispatched counts one attempt handed to a worker
func (c *Collector) RecordDispatched() {
	c.jobsDispatched.Inc()
}

// RecordCompleted counts a successful terminal and observes its duration
func (c *Collector) RecordCompleted(durationSeconds float64) {
	c.jobsCompleted.Inc()
	c.jobDuration.Observe(durationSeconds)
}

// RecordFailed counts a terminal failure
func (c *Collector) RecordFailed() {
	c.jobsFailed.Inc()
}

// RecordRetried counts a retry re-admission
func (c *Collector) RecordRetried() {
	c.jobsRetried.Inc()
}

// RecordTimeout counts a terminal timeout, execution or queue aging
func (c *Collector) RecordTimeout() {
	c.jobsTimeout.Inc()
}

// RecordCancelled counts an operator cancellation
func (c *Collector) RecordCancelled() {
	c.jobsCancelled.Inc()
}

// SetQueueDepth updates the queued-jobs gauge
func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// SetJobsRunning updates the in-flight gauge
func (c *Collector) SetJobsRunning(n int) {
	c.jobsRunning.Set(float64(n))
}

// SetWorkerCounts replaces the per-status worker gauge. Statuses absent
// from the snapshot are zeroed so removed workers do not linger.
func (c *Collector) SetWorkerCounts(byStatus map[string]int) {
	c.workers.Reset()
	for status, count := range byStatus {
		c.workers.WithLabelValues(status).Set(float64(count))
	}
}
