package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func TestRecordSweep(t *testing.T) {
	initial := testutil.ToFloat64(SweepsProcessedTotal)

	RecordSweep(500 * time.Millisecond)

	after := testutil.ToFloat64(SweepsProcessedTotal)
	assert.Equal(t, initial+1.0, after)

	RecordSweep(300 * time.Millisecond)

	final := testutil.ToFloat64(SweepsProcessedTotal)
	assert.Equal(t, initial+2.0, final)

	metric := &dto.Metric{}
	SweepDuration.Write(metric)
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0, "Histogram should have recorded samples")
}

func TestRecordConnectorCall(t *testing.T) {
	connector := "test_sonarr"
	operation := "ping"

	initial := testutil.ToFloat64(ConnectorAPICallsTotal.WithLabelValues(connector, operation))

	RecordConnectorCall(connector, operation)

	final := testutil.ToFloat64(ConnectorAPICallsTotal.WithLabelValues(connector, operation))
	assert.Equal(t, initial+1.0, final)
}

func TestRecordConnectorError(t *testing.T) {
	connector := "test_radarr"
	operation := "command"
	errorType := "timeout"

	initial := testutil.ToFloat64(ConnectorAPIErrorsTotal.WithLabelValues(connector, operation, errorType))

	RecordConnectorError(connector, operation, errorType)

	final := testutil.ToFloat64(ConnectorAPIErrorsTotal.WithLabelValues(connector, operation, errorType))
	assert.Equal(t, initial+1.0, final)
}

func TestRecordSearchDispatched(t *testing.T) {
	connector := "test_whisparr"

	initial := testutil.ToFloat64(SearchesDispatchedTotal.WithLabelValues(connector))

	RecordSearchDispatched(connector)

	final := testutil.ToFloat64(SearchesDispatchedTotal.WithLabelValues(connector))
	assert.Equal(t, initial+1.0, final)
}

func TestRecordSearchSkipped(t *testing.T) {
	reason := "test_unhealthy_connector"

	initial := testutil.ToFloat64(SearchesSkippedTotal.WithLabelValues(reason))

	RecordSearchSkipped(reason)

	final := testutil.ToFloat64(SearchesSkippedTotal.WithLabelValues(reason))
	assert.Equal(t, initial+1.0, final)
}

func TestRecordThrottleAdmission(t *testing.T) {
	connector := "test_sonarr"
	decision := "reject"

	initial := testutil.ToFloat64(ThrottleAdmissionsTotal.WithLabelValues(connector, decision))

	RecordThrottleAdmission(connector, decision)

	final := testutil.ToFloat64(ThrottleAdmissionsTotal.WithLabelValues(connector, decision))
	assert.Equal(t, initial+1.0, final)
}

func TestRecordReconnectAttempt(t *testing.T) {
	connector := "test_radarr"

	initial := testutil.ToFloat64(ReconnectAttemptsTotal.WithLabelValues(connector))

	RecordReconnectAttempt(connector)

	final := testutil.ToFloat64(ReconnectAttemptsTotal.WithLabelValues(connector))
	assert.Equal(t, initial+1.0, final)
}

func TestSetPendingCommandsInFlight(t *testing.T) {
	SetPendingCommandsInFlight(5.0)

	value := testutil.ToFloat64(PendingCommandsInFlight)
	assert.Equal(t, 5.0, value)

	SetPendingCommandsInFlight(3.0)

	value = testutil.ToFloat64(PendingCommandsInFlight)
	assert.Equal(t, 3.0, value)
}

func TestSetConnectorsUnhealthy(t *testing.T) {
	SetConnectorsUnhealthy(2.0)

	value := testutil.ToFloat64(ConnectorsUnhealthyTotal)
	assert.Equal(t, 2.0, value)

	SetConnectorsUnhealthy(0.0)

	value = testutil.ToFloat64(ConnectorsUnhealthyTotal)
	assert.Equal(t, 0.0, value)
}

func TestRecordNotifyRequest(t *testing.T) {
	initialSuccess := testutil.ToFloat64(NotifyRequestsTotal.WithLabelValues("success"))
	initialError := testutil.ToFloat64(NotifyRequestsTotal.WithLabelValues("error"))

	RecordNotifyRequest("success")

	finalSuccess := testutil.ToFloat64(NotifyRequestsTotal.WithLabelValues("success"))
	assert.Equal(t, initialSuccess+1.0, finalSuccess)

	RecordNotifyRequest("error")

	finalError := testutil.ToFloat64(NotifyRequestsTotal.WithLabelValues("error"))
	assert.Equal(t, initialError+1.0, finalError)
}

func TestTimer(t *testing.T) {
	timer := NewTimer()

	assert.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())

	time.Sleep(10 * time.Millisecond)

	elapsed := timer.Elapsed()
	assert.True(t, elapsed >= 10*time.Millisecond, "Elapsed time should be at least 10ms")
	assert.True(t, elapsed < 100*time.Millisecond, "Elapsed time should be less than 100ms")
}

func TestTimerRecordSweep(t *testing.T) {
	timer := NewTimer()

	initialCounter := testutil.ToFloat64(SweepsProcessedTotal)

	time.Sleep(10 * time.Millisecond)

	timer.RecordSweep()

	finalCounter := testutil.ToFloat64(SweepsProcessedTotal)
	assert.Equal(t, initialCounter+1.0, finalCounter)
}

func TestMultipleConnectorCalls(t *testing.T) {
	connectors := []string{"test_sonarr_a", "test_radarr_b", "test_whisparr_c"}

	initialValues := make(map[string]float64)
	for _, c := range connectors {
		initialValues[c] = testutil.ToFloat64(ConnectorAPICallsTotal.WithLabelValues(c, "ping"))
	}

	for _, c := range connectors {
		RecordConnectorCall(c, "ping")
	}

	for _, c := range connectors {
		finalValue := testutil.ToFloat64(ConnectorAPICallsTotal.WithLabelValues(c, "ping"))
		assert.Equal(t, initialValues[c]+1.0, finalValue, "Connector %s should have increased by 1", c)
	}
}

func TestMetricsIntegration(t *testing.T) {
	connector := "test_integration_sonarr"

	initialSweeps := testutil.ToFloat64(SweepsProcessedTotal)
	initialDispatched := testutil.ToFloat64(SearchesDispatchedTotal.WithLabelValues(connector))
	initialCalls := testutil.ToFloat64(ConnectorAPICallsTotal.WithLabelValues(connector, "command"))
	initialNotify := testutil.ToFloat64(NotifyRequestsTotal.WithLabelValues("success"))
	initialPending := testutil.ToFloat64(PendingCommandsInFlight)

	RecordNotifyRequest("success")

	numSearches := 3
	for i := 0; i < numSearches; i++ {
		RecordConnectorCall(connector, "command")
		RecordSearchDispatched(connector)
		SetPendingCommandsInFlight(initialPending + float64(i+1))
	}
	RecordSweep(250 * time.Millisecond)

	finalSweeps := testutil.ToFloat64(SweepsProcessedTotal)
	assert.Equal(t, initialSweeps+1.0, finalSweeps)

	finalDispatched := testutil.ToFloat64(SearchesDispatchedTotal.WithLabelValues(connector))
	assert.Equal(t, initialDispatched+float64(numSearches), finalDispatched)

	finalCalls := testutil.ToFloat64(ConnectorAPICallsTotal.WithLabelValues(connector, "command"))
	assert.Equal(t, initialCalls+float64(numSearches), finalCalls)

	finalNotify := testutil.ToFloat64(NotifyRequestsTotal.WithLabelValues("success"))
	assert.Equal(t, initialNotify+1.0, finalNotify)

	finalPending := testutil.ToFloat64(PendingCommandsInFlight)
	assert.Equal(t, initialPending+float64(numSearches), finalPending)
}

func TestMetricsNaming(t *testing.T) {
	metricNames := []string{
		"sweeps_processed_total",
		"sweep_duration_seconds",
		"connector_api_calls_total",
		"connector_api_errors_total",
		"searches_dispatched_total",
		"searches_skipped_total",
		"throttle_admissions_total",
		"reconnect_attempts_total",
		"pending_commands_in_flight",
		"connectors_unhealthy_total",
		"notify_requests_total",
	}

	for _, name := range metricNames {
		assert.False(t, strings.Contains(name, "-"), "Metric name %s should not contain hyphens", name)
		assert.False(t, strings.Contains(name, " "), "Metric name %s should not contain spaces", name)

		if strings.Contains(name, "duration") {
			assert.True(t, strings.HasSuffix(name, "_seconds"), "Duration metric %s should end with _seconds", name)
		}

		if strings.Contains(name, "processed") || strings.Contains(name, "dispatched") ||
			strings.Contains(name, "skipped") || strings.Contains(name, "errors") ||
			strings.Contains(name, "calls") || strings.Contains(name, "requests") ||
			strings.Contains(name, "admissions") || strings.Contains(name, "attempts") {
			assert.True(t, strings.HasSuffix(name, "_total"), "Counter metric %s should end with _total", name)
		}
	}
}
