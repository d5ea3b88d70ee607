package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"slatrack/internal/sla"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.WindowComputed(sla.StatusOK)
	m.ViolationRecorded()
	m.IncidentsCreated(3)
	m.AlertWindows(sla.StatusBreached, 1)
	m.TaskFailed(errors.New("boom"))
	m.ObserveTask(0.1)
}

func TestCounters(t *testing.T) {
	m := New()
	m.WindowComputed(sla.StatusBreached)
	m.WindowComputed(sla.StatusBreached)
	m.ViolationRecorded()
	m.AlertWindows(sla.StatusAtRisk, 4)

	if got := testutil.ToFloat64(m.windowsComputed.WithLabelValues("BREACHED")); got != 2 {
		t.Fatalf("windows computed: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.violations); got != 1 {
		t.Fatalf("violations: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.alertWindows.WithLabelValues("AT_RISK")); got != 4 {
		t.Fatalf("alert windows: got %v, want 4", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ViolationRecorded()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "slatrack_violations_recorded_total 1") {
		t.Fatalf("metric missing from exposition")
	}
}
