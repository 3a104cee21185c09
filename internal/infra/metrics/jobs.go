package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobRunsTotal, jobDuration, jobItemsTotal) }

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Scheduled and CLI job runs, labeled by job and outcome.",
		},
		[]string{"job", "result"}, // result: ok|error|skipped
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job run duration in seconds.",
			Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"job"},
	)

	// Items a job touched. kind: detected|notified|purged|reverified|...
	jobItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_items_total",
			Help: "Items processed by jobs, labeled by job and kind.",
		},
		[]string{"job", "kind"},
	)
)

func ObserveJobRun(job, result string, elapsed time.Duration) {
	jobRunsTotal.WithLabelValues(norm(job), norm(result)).Inc()
	jobDuration.WithLabelValues(norm(job)).Observe(elapsed.Seconds())
}

func AddJobItems(job, kind string, n int) {
	if n <= 0 {
		return
	}
	jobItemsTotal.WithLabelValues(norm(job), norm(kind)).Add(float64(n))
}
