package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"slatrack/internal/metrics"
	"slatrack/internal/scheduler"
	"slatrack/internal/sla"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

type fakeRegistry struct {
	triggered []string
	err       error
}

func (f *fakeRegistry) ListJobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{ServiceID: "svc", Runs: 2}}
}

func (f *fakeRegistry) Trigger(serviceID string) error {
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, serviceID)
	return nil
}

func TestAdminHealthz(t *testing.T) {
	h := adminHandler(fakeDB{}, &fakeRegistry{}, metrics.New())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	h = adminHandler(fakeDB{err: errors.New("down")}, &fakeRegistry{}, metrics.New())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAdminJobs(t *testing.T) {
	reg := &fakeRegistry{}
	h := adminHandler(fakeDB{}, reg, metrics.New())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	var jobs []scheduler.JobInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ServiceID != "svc" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/trigger/svc", nil))
	if rec.Code != http.StatusAccepted || len(reg.triggered) != 1 || reg.triggered[0] != "svc" {
		t.Fatalf("trigger failed: %d %v", rec.Code, reg.triggered)
	}

	reg.err = scheduler.ErrQueueFull
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/trigger/svc", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on full queue, got %d", rec.Code)
	}

	reg.err = sla.NewValidationError("serviceId", "serviceId is required")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/trigger/svc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdminMetrics(t *testing.T) {
	m := metrics.New()
	m.ViolationRecorded()
	h := adminHandler(fakeDB{}, &fakeRegistry{}, m)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "violations") {
		t.Fatalf("unexpected metrics response %d: %s", rec.Code, rec.Body.String())
	}
}
