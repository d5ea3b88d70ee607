package sla

import "time"

type Status string

const (
	StatusOK       Status = "OK"
	StatusAtRisk   Status = "AT_RISK"
	StatusBreached Status = "BREACHED"
)

type Period string

const (
	PeriodDay   Period = "DAY"
	PeriodWeek  Period = "WEEK"
	PeriodMonth Period = "MONTH"
)

type IncidentSource string

const (
	SourceSamples IncidentSource = "samples"
	SourceManual  IncidentSource = "manual"
)

type StatusSample struct {
	Time time.Time `json:"time"`
	Up   bool      `json:"up"`
}

type Incident struct {
	ID        string         `json:"id"`
	ServiceID string         `json:"serviceId"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
	IsPlanned bool           `json:"isPlanned"`
	Source    IncidentSource `json:"source"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (i Incident) Interval() Interval {
	return Interval{Start: i.StartedAt, End: i.EndedAt}
}

type MaintenanceWindow struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"serviceId"`
	StartsAt  time.Time `json:"startsAt"`
	EndsAt    time.Time `json:"endsAt"`
	Reason    string    `json:"reason,omitempty"`
}

func (m MaintenanceWindow) Interval() Interval {
	return Interval{Start: m.StartsAt, End: m.EndsAt}
}

// Policy is an availability target for either a single service or a whole
// system. ActiveTo is nil while the policy is the open one for its subject.
type Policy struct {
	ID         string     `json:"id"`
	ServiceID  string     `json:"serviceId,omitempty"`
	SystemID   string     `json:"systemId,omitempty"`
	TargetPct  float64    `json:"targetPct"`
	Period     Period     `json:"period"`
	Timezone   string     `json:"timezone"`
	ActiveFrom time.Time  `json:"activeFrom"`
	ActiveTo   *time.Time `json:"activeTo"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ActiveAt reports whether the policy governs the instant at.
func (p Policy) ActiveAt(at time.Time) bool {
	if p.ActiveFrom.After(at) {
		return false
	}
	return p.ActiveTo == nil || p.ActiveTo.After(at)
}

func (p Policy) Location() (*time.Location, error) {
	return LoadLocation(p.Timezone)
}

type Window struct {
	ID          string    `json:"id"`
	ServiceID   string    `json:"serviceId"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	ObservedPct float64   `json:"observedPct"`
	Status      Status    `json:"status"`
	ComputedAt  time.Time `json:"computedAt"`
}

type Violation struct {
	ID          string    `json:"id"`
	PolicyID    string    `json:"policyId"`
	WindowID    string    `json:"windowId"`
	ExpectedPct float64   `json:"expectedPct"`
	ObservedPct float64   `json:"observedPct"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type AlertEvent struct {
	Level Status    `json:"level"`
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}
