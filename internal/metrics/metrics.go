// Package metrics exposes engine counters on a private Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slatrack/internal/sla"
)

const namespace = "slatrack"

type Metrics struct {
	registry *prometheus.Registry

	windowsComputed  *prometheus.CounterVec
	violations       prometheus.Counter
	incidentsCreated prometheus.Counter
	alertWindows     *prometheus.GaugeVec
	taskFailures     *prometheus.CounterVec
	taskDuration     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		windowsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_computed_total",
			Help:      "SLA windows computed, by resulting status.",
		}, []string{"status"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_recorded_total",
			Help:      "Violations newly recorded.",
		}),
		incidentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_created_total",
			Help:      "Incidents created from status samples.",
		}),
		alertWindows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_windows",
			Help:      "Windows in an alerting status at the last alert cycle.",
		}, []string{"level"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Recompute tasks that failed, by error code.",
		}, []string{"code"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of per-service recompute tasks.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.windowsComputed,
		m.violations,
		m.incidentsCreated,
		m.alertWindows,
		m.taskFailures,
		m.taskDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) WindowComputed(status sla.Status) {
	if m == nil {
		return
	}
	m.windowsComputed.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ViolationRecorded() {
	if m == nil {
		return
	}
	m.violations.Inc()
}

func (m *Metrics) IncidentsCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.incidentsCreated.Add(float64(n))
}

func (m *Metrics) AlertWindows(level sla.Status, count int) {
	if m == nil {
		return
	}
	m.alertWindows.WithLabelValues(string(level)).Set(float64(count))
}

func (m *Metrics) TaskFailed(err error) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(sla.Code(err)).Inc()
}

func (m *Metrics) ObserveTask(seconds float64) {
	if m == nil {
		return
	}
	m.taskDuration.Observe(seconds)
}
