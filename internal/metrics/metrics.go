// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hera_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hera_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Deployment metrics
	DeploymentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hera_deployments_created_total",
			Help: "Total number of deployments accepted for provisioning",
		},
	)

	DeploymentsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hera_deployments_finished_total",
			Help: "Deployments reaching a terminal or parked state",
		},
		[]string{"outcome"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hera_step_duration_seconds",
			Help:    "Provisioning step duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"step", "result"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hera_queue_depth",
			Help: "Provisioning jobs waiting for a worker",
		},
	)

	// Domain metrics
	DomainVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hera_domain_verifications_total",
			Help: "Domain verification attempts by result",
		},
		[]string{"result"},
	)

	CertificateOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hera_certificate_operations_total",
			Help: "Certificate provider calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hera_sweep_runs_total",
			Help: "Claim sweeper runs by result",
		},
		[]string{"result"},
	)

	// Config store metrics
	ArtifactLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hera_artifact_loads_total",
			Help: "Artifact loads by the layer that served them",
		},
		[]string{"layer"},
	)
)

// Result labels
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultPending = "pending"
	ResultSkipped = "skipped"
)
