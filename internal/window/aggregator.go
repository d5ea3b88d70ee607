package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"slatrack/internal/metrics"
	"slatrack/internal/sla"
)

const FuturePeriodMessage = "Query param 'period' must not be in the future"

type Store interface {
	ListIncidentsOverlapping(ctx context.Context, serviceID string, from, to time.Time) ([]sla.Incident, error)
	ListMaintenanceOverlapping(ctx context.Context, serviceID string, from, to time.Time) ([]sla.MaintenanceWindow, error)
	// UpsertWindow inserts or overwrites the row identified by
	// (service_id, period_start, period_end) and returns the stored row.
	UpsertWindow(ctx context.Context, w sla.Window) (sla.Window, error)
	ListWindows(ctx context.Context, serviceID string, from, to time.Time) ([]sla.Window, error)
}

type PolicyResolver interface {
	ActivePolicyFor(ctx context.Context, serviceID string, at time.Time) (sla.Policy, error)
}

type ViolationRecorder interface {
	RecordIfAbsent(ctx context.Context, policyID, windowID string, expectedPct, observedPct float64, reason string) (sla.Violation, bool, error)
}

// Evaluation is a persisted window together with the policy that governed it
// and the figures behind its status.
type Evaluation struct {
	Window sla.Window
	Policy sla.Policy
	Result Result
}

type Aggregator struct {
	store      Store
	policies   PolicyResolver
	violations ViolationRecorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	locks      *keyedMutex
	now        func() time.Time
}

func NewAggregator(store Store, policies PolicyResolver, violations ViolationRecorder, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:      store,
		policies:   policies,
		violations: violations,
		metrics:    m,
		logger:     logger,
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
}

func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

func (a *Aggregator) ComputeWindow(ctx context.Context, serviceID string, periodStart, periodEnd time.Time) (sla.Window, error) {
	ev, err := a.Evaluate(ctx, serviceID, periodStart, periodEnd)
	if err != nil {
		return sla.Window{}, err
	}
	return ev.Window, nil
}

// Evaluate computes and stores the window for serviceID over
// [periodStart, periodEnd) using the policy active at periodStart. A breached
// window additionally gets a violation record.
func (a *Aggregator) Evaluate(ctx context.Context, serviceID string, periodStart, periodEnd time.Time) (Evaluation, error) {
	if serviceID == "" {
		return Evaluation{}, sla.NewValidationError("serviceId", "serviceId is required")
	}
	periodStart, periodEnd = periodStart.UTC(), periodEnd.UTC()
	unlock := a.locks.Lock(fmt.Sprintf("%s|%d|%d", serviceID, periodStart.UnixNano(), periodEnd.UnixNano()))
	defer unlock()

	evaluatedAt := a.now().UTC()
	policy, err := a.governingPolicy(ctx, serviceID, periodStart, periodEnd, evaluatedAt)
	if err != nil {
		return Evaluation{}, err
	}
	incidents, err := a.store.ListIncidentsOverlapping(ctx, serviceID, periodStart, periodEnd)
	if err != nil {
		return Evaluation{}, fmt.Errorf("load incidents: %w", err)
	}
	maintenance, err := a.store.ListMaintenanceOverlapping(ctx, serviceID, periodStart, periodEnd)
	if err != nil {
		return Evaluation{}, fmt.Errorf("load maintenance: %w", err)
	}

	res, err := Compute(Input{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		EvaluatedAt: evaluatedAt,
		TargetPct:   policy.TargetPct,
		Incidents:   incidents,
		Maintenance: maintenance,
	})
	if err != nil {
		var invariant *sla.InvariantError
		if errors.As(err, &invariant) {
			a.logger.Error("window left unmodified",
				slog.String("service_id", serviceID),
				slog.Time("period_start", periodStart),
				slog.Time("period_end", periodEnd),
				slog.String("error", err.Error()))
		}
		return Evaluation{}, err
	}

	stored, err := a.store.UpsertWindow(ctx, sla.Window{
		ServiceID:   serviceID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		ObservedPct: res.ObservedPct,
		Status:      res.Status,
		ComputedAt:  evaluatedAt,
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("upsert window: %w", err)
	}
	a.metrics.WindowComputed(stored.Status)
	a.logger.Debug("window computed",
		slog.String("service_id", serviceID),
		slog.String("window_id", stored.ID),
		slog.Float64("observed_pct", stored.ObservedPct),
		slog.String("status", string(stored.Status)))

	if stored.Status == sla.StatusBreached && a.violations != nil {
		reason := fmt.Sprintf("observed %.4f%% below target %.4f%%", res.ObservedPct, policy.TargetPct)
		_, created, err := a.violations.RecordIfAbsent(ctx, policy.ID, stored.ID, policy.TargetPct, res.ObservedPct, reason)
		if err != nil {
			return Evaluation{}, fmt.Errorf("record violation for window %s: %w", stored.ID, err)
		}
		if created {
			a.metrics.ViolationRecorded()
		}
	}
	return Evaluation{Window: stored, Policy: policy, Result: res}, nil
}

// governingPolicy pins the policy active at periodStart. A period that opened
// before the service had any policy falls back to the policy active at the
// latest instant of the period evaluated so far.
func (a *Aggregator) governingPolicy(ctx context.Context, serviceID string, periodStart, periodEnd, evaluatedAt time.Time) (sla.Policy, error) {
	policy, err := a.policies.ActivePolicyFor(ctx, serviceID, periodStart)
	if err == nil || !errors.Is(err, sla.ErrNotFound) {
		return policy, err
	}
	at := periodEnd.Add(-time.Nanosecond)
	if evaluatedAt.Before(at) {
		at = evaluatedAt
	}
	if !at.After(periodStart) {
		return sla.Policy{}, err
	}
	return a.policies.ActivePolicyFor(ctx, serviceID, at)
}

// EvaluateMonth evaluates the calendar month named by period ("YYYY-MM") in
// the timezone of the service's currently active policy. A month that has not
// started yet is rejected and nothing is stored.
func (a *Aggregator) EvaluateMonth(ctx context.Context, serviceID, period string) (Evaluation, error) {
	year, month, err := sla.ParseMonth(period)
	if err != nil {
		return Evaluation{}, err
	}
	now := a.now()
	current, err := a.policies.ActivePolicyFor(ctx, serviceID, now)
	if err != nil {
		return Evaluation{}, err
	}
	loc, err := current.Location()
	if err != nil {
		return Evaluation{}, err
	}
	start, end := sla.MonthBounds(year, month, loc)
	if start.After(now) {
		return Evaluation{}, sla.NewValidationError("period", FuturePeriodMessage)
	}
	return a.Evaluate(ctx, serviceID, start, end)
}

// EvaluateCurrent evaluates the policy period containing now and the one
// before it, so a period that just closed is finalised.
func (a *Aggregator) EvaluateCurrent(ctx context.Context, serviceID string) ([]Evaluation, error) {
	now := a.now()
	policy, err := a.policies.ActivePolicyFor(ctx, serviceID, now)
	if err != nil {
		return nil, err
	}
	loc, err := policy.Location()
	if err != nil {
		return nil, err
	}
	start, end, err := sla.PeriodBounds(policy.Period, loc, now)
	if err != nil {
		return nil, err
	}
	prevStart, prevEnd, err := sla.PreviousPeriod(policy.Period, loc, start)
	if err != nil {
		return nil, err
	}
	out := make([]Evaluation, 0, 2)
	prev, err := a.Evaluate(ctx, serviceID, prevStart, prevEnd)
	switch {
	case err == nil:
		out = append(out, prev)
	case errors.Is(err, sla.ErrNotFound):
		// no policy covered the previous period
	default:
		return out, err
	}
	cur, err := a.Evaluate(ctx, serviceID, start, end)
	if err != nil {
		return out, err
	}
	return append(out, cur), nil
}

func (a *Aggregator) ListWindows(ctx context.Context, serviceID string, from, to *time.Time) ([]sla.Window, error) {
	if verr := sla.ValidateRange(from, to); verr != nil {
		return nil, verr
	}
	return a.store.ListWindows(ctx, serviceID, *from, *to)
}
