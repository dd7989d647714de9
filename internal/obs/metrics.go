// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/insightqueue/insightqueue/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_submitted_total",
		Help: "Total number of jobs submitted",
	})
	JobsReserved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_reserved_total",
		Help: "Total number of jobs reserved by a worker",
	})
	JobsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_succeeded_total",
		Help: "Total number of jobs that reached SUCCEEDED",
	})
	JobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of jobs that reached FAILED",
	})
	JobsCanceled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_canceled_total",
		Help: "Total number of jobs that reached CANCELED",
	})
	JobsRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_requeued_total",
		Help: "Total number of jobs returned to PENDING after lease expiry or transport fault",
	})
	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Histogram of job wall-clock durations from reserve to terminal write",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	OrchestratorRounds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_rounds",
		Help:    "Number of generate/execute rounds consumed per job",
		Buckets: prometheus.LinearBuckets(1, 1, 12),
	})
	ExecutionsRun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executions_run_total",
		Help: "Total number of generated code blocks executed",
	})
	ExecutionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "execution_failures_total",
		Help: "Total number of executions that raised an exception (observation, not a job failure)",
	})
	ExecutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "execution_duration_seconds",
		Help:    "Histogram of individual code-execution durations",
		Buckets: prometheus.DefBuckets,
	})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Current number of pending jobs as last sampled from the broker",
	}, []string{"backend"})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "model_circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open. Guards Orchestrator.Model.Complete calls.",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "model_circuit_breaker_trips_total",
		Help: "Count of times the model-server circuit breaker transitioned to Open",
	})
	BrokerCircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open. Guards Worker.backend.Reserve calls.",
	})
	BrokerCircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_circuit_breaker_trips_total",
		Help: "Count of times the broker-reservation circuit breaker transitioned to Open",
	})
	ReaperRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reaper_recovered_total",
		Help: "Total number of jobs recovered by the reaper from an expired worker's lease",
	})
	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active",
		Help: "Number of worker goroutines currently holding a job",
	})
	InflationRefreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inflation_refresh_failures_total",
		Help: "Total number of inflation cache refresh attempts that fell back to the stale cache",
	})
)

func init() {
	prometheus.MustRegister(
		JobsSubmitted, JobsReserved, JobsSucceeded, JobsFailed, JobsCanceled, JobsRequeued,
		JobDuration, OrchestratorRounds, ExecutionsRun, ExecutionFailures, ExecutionDuration,
		QueueDepth, CircuitBreakerState, CircuitBreakerTrips, BrokerCircuitBreakerState, BrokerCircuitBreakerTrips,
		ReaperRecovered, WorkerActive, InflationRefreshFailures,
	)
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
