// Package metrics exposes comradarrd's Prometheus collectors: sweep
// throughput, connector call volume, throttle admission decisions,
// and pending-command/reconnect gauges, all scraped from the shared
// metrics HTTP server in server.go.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SweepsProcessedTotal counts completed sweep runs, across every
	// connector and schedule.
	SweepsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeps_processed_total",
		Help: "Total number of sweep runs completed.",
	})

	// SweepDuration observes the wall-clock time of a sweep run, from
	// discovery through dispatch.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of sweep runs in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// ConnectorAPICallsTotal counts upstream client calls by connector
	// and operation (ping, systemStatus, enumerate, command, queue).
	ConnectorAPICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_api_calls_total",
		Help: "Total number of upstream connector API calls.",
	}, []string{"connector", "operation"})

	// ConnectorAPIErrorsTotal counts failed upstream client calls by
	// connector, operation, and the closed transport-error taxonomy.
	ConnectorAPIErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_api_errors_total",
		Help: "Total number of failed upstream connector API calls.",
	}, []string{"connector", "operation", "error_type"})

	// SearchesDispatchedTotal counts search commands submitted to a
	// connector.
	SearchesDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searches_dispatched_total",
		Help: "Total number of search commands dispatched to connectors.",
	}, []string{"connector"})

	// SearchesSkippedTotal counts registry rows a sweep considered but
	// did not dispatch, by the reason they were skipped.
	SearchesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searches_skipped_total",
		Help: "Total number of eligible registry rows skipped during a sweep.",
	}, []string{"reason"})

	// ThrottleAdmissionsTotal counts the throttle governor's admit/
	// reject decisions, by connector and decision.
	ThrottleAdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "throttle_admissions_total",
		Help: "Total number of throttle admission decisions.",
	}, []string{"connector", "decision"})

	// ReconnectAttemptsTotal counts auto-reconnect supervisor probes,
	// by connector.
	ReconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconnect_attempts_total",
		Help: "Total number of auto-reconnect health probes.",
	}, []string{"connector"})

	// PendingCommandsInFlight tracks the number of dispatched commands
	// awaiting resolution by the pending command tracker.
	PendingCommandsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pending_commands_in_flight",
		Help: "Current number of pending commands awaiting resolution.",
	})

	// ConnectorsUnhealthyTotal tracks the number of connectors
	// currently marked unhealthy or offline.
	ConnectorsUnhealthyTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connectors_unhealthy_total",
		Help: "Current number of connectors in an unhealthy or offline state.",
	})

	// NotifyRequestsTotal counts outbound completion-notification
	// callback attempts, by outcome (success/error).
	NotifyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_requests_total",
		Help: "Total number of outbound notification callback attempts.",
	}, []string{"outcome"})
)

// RecordSweep records a completed sweep of the given duration.
func RecordSweep(d time.Duration) {
	SweepsProcessedTotal.Inc()
	SweepDuration.Observe(d.Seconds())
}

// RecordConnectorCall records a successful upstream client call.
func RecordConnectorCall(connector, operation string) {
	ConnectorAPICallsTotal.WithLabelValues(connector, operation).Inc()
}

// RecordConnectorError records a failed upstream client call.
func RecordConnectorError(connector, operation, errorType string) {
	ConnectorAPIErrorsTotal.WithLabelValues(connector, operation, errorType).Inc()
}

// RecordSearchDispatched records a search command sent to connector.
func RecordSearchDispatched(connector string) {
	SearchesDispatchedTotal.WithLabelValues(connector).Inc()
}

// RecordSearchSkipped records an eligible registry row skipped for reason.
func RecordSearchSkipped(reason string) {
	SearchesSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordThrottleAdmission records the throttle governor's decision
// (admit/reject) for connector.
func RecordThrottleAdmission(connector, decision string) {
	ThrottleAdmissionsTotal.WithLabelValues(connector, decision).Inc()
}

// RecordReconnectAttempt records a reconnect probe against connector.
func RecordReconnectAttempt(connector string) {
	ReconnectAttemptsTotal.WithLabelValues(connector).Inc()
}

// SetPendingCommandsInFlight sets the current in-flight pending
// command count.
func SetPendingCommandsInFlight(n float64) {
	PendingCommandsInFlight.Set(n)
}

// SetConnectorsUnhealthy sets the current unhealthy/offline connector count.
func SetConnectorsUnhealthy(n float64) {
	ConnectorsUnhealthyTotal.Set(n)
}

// RecordNotifyRequest records an outbound notification attempt outcome.
func RecordNotifyRequest(outcome string) {
	NotifyRequestsTotal.WithLabelValues(outcome).Inc()
}

// Timer measures elapsed time for a single operation, recording it
// against one or more metrics when the caller is done.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the Timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordSweep records the Timer's elapsed time as a completed sweep.
func (t *Timer) RecordSweep() {
	RecordSweep(t.Elapsed())
}
