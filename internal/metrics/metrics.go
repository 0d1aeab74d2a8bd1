// Package metrics exposes Prometheus instrumentation for the certificate
// orchestrator: operation counts and latencies, toolkit subprocess outcomes,
// and time spent waiting on the store gate.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace prefixes every metric exported by this process.
	Namespace = "vpnforge"

	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelSubcommand = "subcommand"
	LabelOutcome    = "outcome"

	StatusSuccess = "success"
	StatusError   = "error"

	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeError  = "error"

	OpBootstrap  = "bootstrap"
	OpIssue      = "issue_client"
	OpRevoke     = "revoke_client"
	OpRefreshCRL = "refresh_crl"
	OpTLSAuth    = "tlsauth"
)

var (
	// OperationsTotal counts orchestrator operations by name and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total orchestrator operations by operation and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// OperationDuration observes end-to-end operation latency. Buckets run
	// from sub-second issuance up to multi-minute DH generation.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of orchestrator operations in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{LabelOperation},
	)

	// ToolkitRunsTotal counts external toolkit invocations by subcommand.
	ToolkitRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "toolkit_runs_total",
			Help:      "Total easy-rsa invocations by subcommand and outcome",
		},
		[]string{LabelSubcommand, LabelOutcome},
	)

	// GateWaitSeconds observes how long operations waited to enter the
	// store gate before being admitted or rejected.
	GateWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "gate_wait_seconds",
			Help:      "Time spent waiting for the PKI store gate",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
	)

	// GateRejectedTotal counts operations rejected because the gate could
	// not be acquired within the bounded wait.
	GateRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "gate_rejected_total",
			Help:      "Operations rejected by the store gate",
		},
	)
)

// RecordOperation increments the operation counter and observes its duration.
func RecordOperation(operation string, start time.Time, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordToolkitRun counts one toolkit invocation. outcome is OutcomeOK for a
// zero exit, OutcomeFailed for a non-zero exit, OutcomeError when the
// process could not run.
func RecordToolkitRun(subcommand, outcome string) {
	ToolkitRunsTotal.WithLabelValues(subcommand, outcome).Inc()
}

// RecordGateWait observes time spent waiting for the gate.
func RecordGateWait(d time.Duration) {
	GateWaitSeconds.Observe(d.Seconds())
}
