// Package metrics provides Prometheus metrics for go-exec-worker.
//
// All metrics are aggregate and cheap to update from the event loop.
// The metric objects exist unconditionally so the worker can update
// them without caring whether an exporter is running; Register attaches
// them to a registry when the metrics server is enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execworker_jobs_started_total",
			Help: "Total jobs accepted and scheduled",
		},
	)

	jobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "execworker_jobs_running",
			Help: "Jobs currently in flight (equals the timeout scheduler size)",
		},
	)

	jobsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execworker_jobs_reaped_total",
			Help: "Total children reaped and destroyed",
		},
	)

	jobTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execworker_job_timeouts_total",
			Help: "Total jobs finalized with the timeout error code",
		},
	)

	spawnFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execworker_spawn_failures_total",
			Help: "Total jobs that could not be started",
		},
	)

	staleJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "execworker_stale_jobs",
			Help: "Finalized jobs whose child has not yet been reaped",
		},
	)

	responsesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execworker_responses_sent_total",
			Help: "Total result frames written to the master",
		},
	)

	outputBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execworker_output_bytes_total",
			Help: "Captured child output bytes by stream",
		},
		[]string{"stream"},
	)

	jobRuntimeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "execworker_job_runtime_seconds",
			Help:    "Wall-clock runtime of finalized jobs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		},
	)
)

// Register attaches every worker metric to the given registry.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		jobsStartedTotal,
		jobsRunning,
		jobsReapedTotal,
		jobTimeoutsTotal,
		spawnFailuresTotal,
		staleJobs,
		responsesSentTotal,
		outputBytesTotal,
		jobRuntimeSeconds,
	)
}

// JobStarted records an accepted job.
func JobStarted() {
	jobsStartedTotal.Inc()
}

// SetJobsRunning tracks the in-flight job count.
func SetJobsRunning(n uint64) {
	jobsRunning.Set(float64(n))
}

// JobReaped records a destroyed job.
func JobReaped() {
	jobsReapedTotal.Inc()
}

// JobTimedOut records a job finalized with the timeout error code.
func JobTimedOut() {
	jobTimeoutsTotal.Inc()
}

// SpawnFailed records a job whose child never started.
func SpawnFailed() {
	spawnFailuresTotal.Inc()
}

// SetStaleJobs tracks children that survived SIGKILL.
func SetStaleJobs(n uint64) {
	staleJobs.Set(float64(n))
}

// ResponseSent records one result frame written to the master.
func ResponseSent() {
	responsesSentTotal.Inc()
}

// AddOutputBytes records captured output sizes at finalization.
func AddOutputBytes(stdout, stderr int) {
	outputBytesTotal.WithLabelValues("stdout").Add(float64(stdout))
	outputBytesTotal.WithLabelValues("stderr").Add(float64(stderr))
}

// ObserveJobRuntime records a finalized job's wall-clock runtime.
func ObserveJobRuntime(seconds float64) {
	jobRuntimeSeconds.Observe(seconds)
}
