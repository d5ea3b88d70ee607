package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"slatrack/internal/metrics"
	"slatrack/internal/sla"
	"slatrack/internal/window"
)

type PolicyService interface {
	Create(ctx context.Context, p sla.Policy) (sla.Policy, error)
	List(ctx context.Context, serviceID string) ([]sla.Policy, error)
}

type IncidentCatalog interface {
	CreateIncident(ctx context.Context, inc sla.Incident) (sla.Incident, error)
	ListIncidents(ctx context.Context, serviceID string, from, to *time.Time) ([]sla.Incident, error)
	CreateMaintenance(ctx context.Context, mw sla.MaintenanceWindow) (sla.MaintenanceWindow, error)
	ListMaintenance(ctx context.Context, serviceID string, from, to *time.Time) ([]sla.MaintenanceWindow, error)
}

type IncidentBuilder interface {
	Build(ctx context.Context, serviceID string, samples []sla.StatusSample) (int, error)
}

type WindowService interface {
	EvaluateMonth(ctx context.Context, serviceID, period string) (window.Evaluation, error)
	ListWindows(ctx context.Context, serviceID string, from, to *time.Time) ([]sla.Window, error)
}

type ViolationService interface {
	List(ctx context.Context, policyID string, from, to *time.Time) ([]sla.Violation, error)
}

type Handler struct {
	Policies   PolicyService
	Incidents  IncidentCatalog
	Builder    IncidentBuilder
	Windows    WindowService
	Violations ViolationService
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Timeout    time.Duration
}

type errorResponse struct {
	Ok      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type policyRequest struct {
	ServiceID  string     `json:"serviceId"`
	SystemID   string     `json:"systemId"`
	TargetPct  float64    `json:"targetPct"`
	Period     string     `json:"period"`
	Timezone   string     `json:"timezone"`
	ActiveFrom *time.Time `json:"activeFrom"`
	ActiveTo   *time.Time `json:"activeTo"`
}

type incidentRequest struct {
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	IsPlanned bool      `json:"isPlanned"`
}

type maintenanceRequest struct {
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
	Reason   string    `json:"reason"`
}

type samplesRequest struct {
	Samples []sla.StatusSample `json:"samples"`
}

// statusResponse is a computed window plus the figures behind its status.
// Durations are in milliseconds.
type statusResponse struct {
	sla.Window
	PolicyID          string  `json:"policyId"`
	TargetPct         float64 `json:"targetPct"`
	ProjectedPct      float64 `json:"projectedPct"`
	DowntimeMs        int64   `json:"downtimeMs"`
	ExcusedDowntimeMs int64   `json:"excusedDowntimeMs"`
	AllowedDowntimeMs int64   `json:"allowedDowntimeMs"`
	RemainingBudgetMs int64   `json:"remainingBudgetMs"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/policies", func(r chi.Router) {
		r.Post("/", h.handlePolicyCreate)
		r.Get("/", h.handlePolicyList)
		r.Get("/{id}/violations", h.handleViolations)
	})
	r.Route("/services/{id}", func(r chi.Router) {
		r.Post("/incidents", h.handleIncidentCreate)
		r.Get("/incidents", h.handleIncidentList)
		r.Post("/maintenance", h.handleMaintenanceCreate)
		r.Get("/maintenance", h.handleMaintenanceList)
		r.Post("/samples", h.handleSamples)
		r.Get("/status", h.handleStatus)
		r.Get("/windows", h.handleWindows)
	})
}

func (h *Handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (h *Handler) handlePolicyCreate(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, sla.NewValidationError("body", "invalid request body: "+err.Error()))
		return
	}
	p := sla.Policy{
		ServiceID: req.ServiceID,
		SystemID:  req.SystemID,
		TargetPct: req.TargetPct,
		Period:    sla.Period(req.Period),
		Timezone:  req.Timezone,
		ActiveTo:  req.ActiveTo,
	}
	if req.ActiveFrom != nil {
		p.ActiveFrom = *req.ActiveFrom
	}
	ctx, cancel := h.context(r)
	defer cancel()
	created, err := h.Policies.Create(ctx, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handlePolicyList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()
	policies, err := h.Policies.List(ctx, r.URL.Query().Get("serviceId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (h *Handler) handleViolations(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	violations, err := h.Violations.List(ctx, chi.URLParam(r, "id"), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, violations)
}

func (h *Handler) handleIncidentCreate(w http.ResponseWriter, r *http.Request) {
	var req incidentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, sla.NewValidationError("body", "invalid request body: "+err.Error()))
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	inc, err := h.Incidents.CreateIncident(ctx, sla.Incident{
		ServiceID: chi.URLParam(r, "id"),
		StartedAt: req.StartedAt,
		EndedAt:   req.EndedAt,
		IsPlanned: req.IsPlanned,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (h *Handler) handleIncidentList(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	items, err := h.Incidents.ListIncidents(ctx, chi.URLParam(r, "id"), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleMaintenanceCreate(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, sla.NewValidationError("body", "invalid request body: "+err.Error()))
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	mw, err := h.Incidents.CreateMaintenance(ctx, sla.MaintenanceWindow{
		ServiceID: chi.URLParam(r, "id"),
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mw)
}

func (h *Handler) handleMaintenanceList(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	items, err := h.Incidents.ListMaintenance(ctx, chi.URLParam(r, "id"), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleSamples(w http.ResponseWriter, r *http.Request) {
	var req samplesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, sla.NewValidationError("body", "invalid request body: "+err.Error()))
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	created, err := h.Builder.Build(ctx, chi.URLParam(r, "id"), req.Samples)
	h.Metrics.IncidentsCreated(created)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()
	ev, err := h.Windows.EvaluateMonth(ctx, chi.URLParam(r, "id"), r.URL.Query().Get("period"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Window:            ev.Window,
		PolicyID:          ev.Policy.ID,
		TargetPct:         ev.Policy.TargetPct,
		ProjectedPct:      ev.Result.ProjectedPct,
		DowntimeMs:        ev.Result.Downtime.Milliseconds(),
		ExcusedDowntimeMs: ev.Result.ExcusedDowntime.Milliseconds(),
		AllowedDowntimeMs: ev.Result.AllowedDowntime.Milliseconds(),
		RemainingBudgetMs: ev.Result.RemainingBudget.Milliseconds(),
	})
}

func (h *Handler) handleWindows(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	windows, err := h.Windows.ListWindows(ctx, chi.URLParam(r, "id"), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

// parseRange reads the optional from/to query params. Presence is checked by
// the service that consumes them.
func parseRange(r *http.Request) (*time.Time, *time.Time, error) {
	q := r.URL.Query()
	var from, to *time.Time
	if v := q.Get("from"); v != "" {
		t, err := sla.ParseTimestamp("from", v)
		if err != nil {
			return nil, nil, err
		}
		from = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := sla.ParseTimestamp("to", v)
		if err != nil {
			return nil, nil, err
		}
		to = &t
	}
	return from, to, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := sla.Code(err)
	resp := errorResponse{Ok: false, Code: code}
	status := http.StatusInternalServerError
	switch code {
	case sla.CodeValidation:
		var verr *sla.ValidationError
		errors.As(err, &verr)
		status = http.StatusBadRequest
		resp.Message = verr.Message
		resp.Field = verr.Field
	case sla.CodeNotFound:
		status = http.StatusNotFound
		resp.Message = sla.NotFoundMessage(err)
	case sla.CodeTransient:
		status = http.StatusServiceUnavailable
		resp.Message = "storage temporarily unavailable"
	default:
		resp.Message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		logger := h.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
