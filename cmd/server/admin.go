package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"slatrack/internal/metrics"
	"slatrack/internal/scheduler"
	"slatrack/internal/sla"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type jobRegistry interface {
	ListJobs() []scheduler.JobInfo
	Trigger(serviceID string) error
}

func adminHandler(db pinger, reg jobRegistry, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.HandleFunc("GET /jobs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, reg.ListJobs())
	})
	mux.HandleFunc("POST /jobs/trigger/{serviceId}", func(w http.ResponseWriter, r *http.Request) {
		err := reg.Trigger(r.PathValue("serviceId"))
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
		case errors.Is(err, scheduler.ErrQueueFull):
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		case sla.Code(err) == sla.CodeValidation:
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		}
	})
	mux.Handle("GET /metrics", m.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
