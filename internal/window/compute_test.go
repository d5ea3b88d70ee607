package window

import (
	"errors"
	"math"
	"testing"
	"time"

	"slatrack/internal/sla"
)

func ts(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestComputeMaintenanceFullyCoversIncident(t *testing.T) {
	res, err := Compute(Input{
		PeriodStart: ts("2025-08-01T00:00:00Z"),
		PeriodEnd:   ts("2025-09-01T00:00:00Z"),
		EvaluatedAt: ts("2025-09-02T00:00:00Z"),
		TargetPct:   99.9,
		Incidents: []sla.Incident{{
			ID: "i1", StartedAt: ts("2025-08-14T10:00:00Z"), EndedAt: ts("2025-08-14T12:00:00Z"),
		}},
		Maintenance: []sla.MaintenanceWindow{{
			StartsAt: ts("2025-08-14T09:00:00Z"), EndsAt: ts("2025-08-14T13:00:00Z"),
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ObservedPct != 100 || res.Status != sla.StatusOK {
		t.Fatalf("expected 100%% OK, got %v %s", res.ObservedPct, res.Status)
	}
	if res.ExcusedDowntime != 2*time.Hour {
		t.Fatalf("unexpected excused downtime %v", res.ExcusedDowntime)
	}
}

func TestComputeBreachJustOverBudget(t *testing.T) {
	start := ts("2025-09-01T00:00:00Z")
	end := ts("2025-10-01T00:00:00Z")
	in := Input{
		PeriodStart: start,
		PeriodEnd:   end,
		EvaluatedAt: end.Add(time.Hour),
		TargetPct:   99.9,
		Incidents: []sla.Incident{{
			ID: "i1", StartedAt: ts("2025-09-10T00:00:00Z"), EndedAt: ts("2025-09-10T00:44:00Z"),
		}},
	}
	res, err := Compute(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	allowed := res.AllowedDowntime.Minutes()
	if math.Abs(allowed-43.2) > 0.001 {
		t.Fatalf("allowed downtime: got %v minutes, want 43.2", allowed)
	}
	if res.Status != sla.StatusBreached {
		t.Fatalf("44 minutes over a 30-day 99.9%% target must breach, got %s (%.5f%%)", res.Status, res.ObservedPct)
	}
	if res.RemainingBudget != 0 {
		t.Fatalf("remaining budget must floor at zero, got %v", res.RemainingBudget)
	}

	in.Incidents[0].EndedAt = ts("2025-09-10T00:43:00Z")
	res, err = Compute(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != sla.StatusOK {
		t.Fatalf("43 minutes is within budget, got %s", res.Status)
	}
}

func TestComputeClipsToPeriod(t *testing.T) {
	res, err := Compute(Input{
		PeriodStart: ts("2025-08-01T00:00:00Z"),
		PeriodEnd:   ts("2025-08-02T00:00:00Z"),
		EvaluatedAt: ts("2025-08-03T00:00:00Z"),
		TargetPct:   50,
		Incidents: []sla.Incident{
			{ID: "before", StartedAt: ts("2025-07-31T23:00:00Z"), EndedAt: ts("2025-08-01T01:00:00Z")},
			{ID: "after", StartedAt: ts("2025-08-01T23:00:00Z"), EndedAt: ts("2025-08-02T05:00:00Z")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Downtime != 2*time.Hour {
		t.Fatalf("expected 2h clipped downtime, got %v", res.Downtime)
	}
}

func TestComputeMaintenanceBounds(t *testing.T) {
	incident := sla.Incident{ID: "i1", StartedAt: ts("2025-08-14T10:00:00Z"), EndedAt: ts("2025-08-14T11:00:00Z")}
	cases := []struct {
		name        string
		maintenance []sla.MaintenanceWindow
		excused     time.Duration
	}{
		{"no maintenance", nil, 0},
		{"partial overlap", []sla.MaintenanceWindow{{StartsAt: ts("2025-08-14T10:45:00Z"), EndsAt: ts("2025-08-14T12:00:00Z")}}, 15 * time.Minute},
		{"larger than incident", []sla.MaintenanceWindow{{StartsAt: ts("2025-08-14T00:00:00Z"), EndsAt: ts("2025-08-15T00:00:00Z")}}, time.Hour},
		{"overlapping windows", []sla.MaintenanceWindow{
			{StartsAt: ts("2025-08-14T10:00:00Z"), EndsAt: ts("2025-08-14T10:30:00Z")},
			{StartsAt: ts("2025-08-14T10:15:00Z"), EndsAt: ts("2025-08-14T10:40:00Z")},
		}, 40 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Compute(Input{
				PeriodStart: ts("2025-08-01T00:00:00Z"),
				PeriodEnd:   ts("2025-09-01T00:00:00Z"),
				EvaluatedAt: ts("2025-09-02T00:00:00Z"),
				TargetPct:   99,
				Incidents:   []sla.Incident{incident},
				Maintenance: tc.maintenance,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.ExcusedDowntime != tc.excused {
				t.Fatalf("excused: got %v, want %v", res.ExcusedDowntime, tc.excused)
			}
			if res.Downtime != time.Hour-tc.excused {
				t.Fatalf("downtime: got %v, want %v", res.Downtime, time.Hour-tc.excused)
			}
		})
	}
}

func TestComputePlannedIncidentIsExcused(t *testing.T) {
	res, err := Compute(Input{
		PeriodStart: ts("2025-08-01T00:00:00Z"),
		PeriodEnd:   ts("2025-08-02T00:00:00Z"),
		EvaluatedAt: ts("2025-08-03T00:00:00Z"),
		TargetPct:   99.9,
		Incidents:   []sla.Incident{{ID: "p", IsPlanned: true, StartedAt: ts("2025-08-01T01:00:00Z"), EndedAt: ts("2025-08-01T05:00:00Z")}},
	})
	if err != nil || res.ObservedPct != 100 {
		t.Fatalf("planned downtime must not count: %v %v", res.ObservedPct, err)
	}
}

func TestComputeInvariantViolation(t *testing.T) {
	_, err := Compute(Input{
		PeriodStart: ts("2025-08-01T00:00:00Z"),
		PeriodEnd:   ts("2025-09-01T00:00:00Z"),
		TargetPct:   99,
		Incidents:   []sla.Incident{{ID: "bad", StartedAt: ts("2025-08-02T00:00:00Z"), EndedAt: ts("2025-08-02T00:00:00Z")}},
	})
	var invariant *sla.InvariantError
	if !errors.As(err, &invariant) || invariant.ID != "bad" {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestComputeAtRiskOnlyWhileInProgress(t *testing.T) {
	start := ts("2025-09-01T00:00:00Z")
	end := ts("2025-10-01T00:00:00Z")
	in := Input{
		PeriodStart: start,
		PeriodEnd:   end,
		// one day elapsed
		EvaluatedAt: start.Add(24 * time.Hour),
		TargetPct:   99.9,
		// 30 minutes down in one day projects to 15 hours over the month
		Incidents: []sla.Incident{{ID: "i", StartedAt: start.Add(time.Hour), EndedAt: start.Add(90 * time.Minute)}},
	}
	res, err := Compute(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != sla.StatusAtRisk {
		t.Fatalf("expected AT_RISK, got %s (observed %.4f projected %.4f)", res.Status, res.ObservedPct, res.ProjectedPct)
	}

	in.EvaluatedAt = end.Add(time.Minute)
	res, err = Compute(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != sla.StatusOK {
		t.Fatalf("a completed period is OK or BREACHED, got %s", res.Status)
	}
}

func TestClassify(t *testing.T) {
	end := ts("2025-10-01T00:00:00Z")
	future := end.Add(-time.Hour)
	past := end.Add(time.Hour)
	cases := []struct {
		observed, projected, target float64
		evaluatedAt                 time.Time
		want                        sla.Status
	}{
		{99.95, 99.95, 99.9, future, sla.StatusOK},
		{99.95, 99.5, 99.9, future, sla.StatusAtRisk},
		{99.89, 99.5, 99.9, future, sla.StatusBreached},
		{99.9, 99.5, 99.9, past, sla.StatusOK},
		{99.8999999, 99.8999999, 99.9, past, sla.StatusBreached},
	}
	for _, tc := range cases {
		if got := Classify(tc.observed, tc.projected, tc.target, end, tc.evaluatedAt); got != tc.want {
			t.Fatalf("Classify(%v, %v, %v): got %s, want %s", tc.observed, tc.projected, tc.target, got, tc.want)
		}
	}
}
