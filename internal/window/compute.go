package window

import (
	"fmt"
	"time"

	"slatrack/internal/sla"
)

type Input struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	EvaluatedAt time.Time
	TargetPct   float64
	Incidents   []sla.Incident
	Maintenance []sla.MaintenanceWindow
}

type Result struct {
	ObservedPct     float64
	ProjectedPct    float64
	Status          sla.Status
	Downtime        time.Duration
	ExcusedDowntime time.Duration
	AllowedDowntime time.Duration
	RemainingBudget time.Duration
}

// Compute measures unexcused downtime inside [PeriodStart, PeriodEnd) and
// classifies the window. Planned incidents and any time covered by a
// maintenance window are excused.
func Compute(in Input) (Result, error) {
	period := sla.Interval{Start: in.PeriodStart, End: in.PeriodEnd}
	if !period.Valid() {
		return Result{}, &sla.InvariantError{Entity: "window", Message: fmt.Sprintf("period end %s is not after start %s", in.PeriodEnd, in.PeriodStart)}
	}
	down := make([]sla.Interval, 0, len(in.Incidents))
	for _, inc := range in.Incidents {
		if !inc.EndedAt.After(inc.StartedAt) {
			return Result{}, &sla.InvariantError{Entity: "incident", ID: inc.ID, Message: "endedAt is not after startedAt"}
		}
		if inc.IsPlanned {
			continue
		}
		if clipped, ok := inc.Interval().Intersect(period); ok {
			down = append(down, clipped)
		}
	}
	excused := make([]sla.Interval, 0, len(in.Maintenance))
	for _, mw := range in.Maintenance {
		if clipped, ok := mw.Interval().Intersect(period); ok {
			excused = append(excused, clipped)
		}
	}

	total := sla.TotalDuration(sla.Union(down))
	downtime := sla.TotalDuration(sla.Subtract(down, excused))
	periodDuration := period.Duration()

	res := Result{
		Downtime:        downtime,
		ExcusedDowntime: total - downtime,
		AllowedDowntime: AllowedDowntime(in.TargetPct, periodDuration),
	}
	res.RemainingBudget = res.AllowedDowntime - downtime
	if res.RemainingBudget < 0 {
		res.RemainingBudget = 0
	}
	res.ObservedPct = availability(downtime, periodDuration)
	res.ProjectedPct = projectedPct(downtime, in.PeriodStart, in.PeriodEnd, in.EvaluatedAt)
	res.Status = Classify(res.ObservedPct, res.ProjectedPct, in.TargetPct, in.PeriodEnd, in.EvaluatedAt)
	return res, nil
}

// Classify applies the strict target comparison and, for windows still in
// progress at evaluatedAt, the projected end-of-period check.
func Classify(observedPct, projectedPct, targetPct float64, periodEnd, evaluatedAt time.Time) sla.Status {
	if observedPct < targetPct {
		return sla.StatusBreached
	}
	if !periodEnd.After(evaluatedAt) {
		return sla.StatusOK
	}
	if projectedPct < targetPct {
		return sla.StatusAtRisk
	}
	return sla.StatusOK
}

// AllowedDowntime is the error budget for a period at the given target.
func AllowedDowntime(targetPct float64, period time.Duration) time.Duration {
	return time.Duration(float64(period) * (1 - targetPct/100))
}

func availability(downtime, period time.Duration) float64 {
	pct := 100 * (1 - float64(downtime)/float64(period))
	return clampPct(pct)
}

// projectedPct extrapolates the burn rate observed so far linearly to the end
// of the period. Closed or not-yet-started windows project to their observed
// value.
func projectedPct(downtime time.Duration, start, end, evaluatedAt time.Time) float64 {
	period := end.Sub(start)
	if !end.After(evaluatedAt) {
		return availability(downtime, period)
	}
	elapsed := evaluatedAt.Sub(start)
	if elapsed <= 0 {
		return 100
	}
	projected := float64(downtime) * float64(period) / float64(elapsed)
	return clampPct(100 * (1 - projected/float64(period)))
}

func clampPct(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
