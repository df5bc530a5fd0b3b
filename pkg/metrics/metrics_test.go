package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchUnitAccounting(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())

	m.UnitStarted()
	m.UnitStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.batchInflight))

	m.UnitFinished(true, 7, time.Second)
	m.UnitFinished(false, 3, time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.batchInflight))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.batchRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchUnits.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchUnits.WithLabelValues("failure")))
}

func TestSessionAndScriptCounters(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())
	m.ObserveSession("COMPLETED")
	m.ObserveSession("COMPLETED")
	m.ObserveSession("NEEDS_HUMAN_REVIEW")
	m.ObserveScriptTest(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessions.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("NEEDS_HUMAN_REVIEW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptTests.WithLabelValues("failure")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSession("FAILED")
		m.UnitStarted()
		m.UnitFinished(true, 1, time.Second)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := NewRegistry()
	m := MustNewMetrics(reg)
	m.ObserveSession("FAILED")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `gridscout_sessions_total{status="FAILED"} 1`)
	assert.Contains(t, rec.Body.String(), "gridscout_batch_inflight 0")
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustNewMetrics(reg)
	assert.Panics(t, func() { MustNewMetrics(reg) })
}
