// Package metrics exposes Prometheus collectors for sessions, script tests
// and batch runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gridscout"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessions      *prometheus.CounterVec
	scriptTests   *prometheus.CounterVec
	batchUnits    *prometheus.CounterVec
	batchRows     prometheus.Counter
	batchInflight prometheus.Gauge
	unitDuration  prometheus.Histogram
}

// MustNewMetrics registers the collectors with reg and panics on
// registration errors, like the promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Exploration sessions by terminal status.",
			},
			[]string{"status"},
		),
		scriptTests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_tests_total",
				Help:      "Artifact test executions by result.",
			},
			[]string{"result"},
		),
		batchUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_units_total",
				Help:      "Batch units completed by result.",
			},
			[]string{"result"},
		),
		batchRows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_rows_total",
				Help:      "Rows extracted by successful batch units.",
			},
		),
		batchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_inflight",
				Help:      "Batch units currently running.",
			},
		),
		unitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "unit_duration_seconds",
				Help:      "Wall time of one batch unit.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 300},
			},
		),
	}
	reg.MustRegister(m.sessions, m.scriptTests, m.batchUnits, m.batchRows, m.batchInflight, m.unitDuration)
	return m
}

// NewRegistry returns a private registry with Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ObserveSession counts a session that ended with status.
func (m *Metrics) ObserveSession(status string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(status).Inc()
}

// ObserveScriptTest counts one artifact test.
func (m *Metrics) ObserveScriptTest(success bool) {
	if m == nil {
		return
	}
	m.scriptTests.WithLabelValues(result(success)).Inc()
}

// UnitStarted marks a batch unit as running.
func (m *Metrics) UnitStarted() {
	if m == nil {
		return
	}
	m.batchInflight.Inc()
}

// UnitFinished records a completed batch unit.
func (m *Metrics) UnitFinished(success bool, rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.batchInflight.Dec()
	m.batchUnits.WithLabelValues(result(success)).Inc()
	if success {
		m.batchRows.Add(float64(rows))
	}
	m.unitDuration.Observe(d.Seconds())
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
