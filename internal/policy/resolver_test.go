package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"slatrack/internal/sla"
)

type fakeStore struct {
	policies []sla.Policy
	err      error
}

func (f *fakeStore) ListPoliciesForService(ctx context.Context, serviceID string) ([]sla.Policy, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []sla.Policy{}
	for _, p := range f.policies {
		if p.ServiceID == serviceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPolicies(ctx context.Context, serviceID string) ([]sla.Policy, error) {
	if serviceID == "" {
		return f.policies, nil
	}
	return f.ListPoliciesForService(ctx, serviceID)
}

func (f *fakeStore) CreatePolicy(ctx context.Context, p sla.Policy) error {
	for i := range f.policies {
		open := f.policies[i]
		if open.ServiceID == p.ServiceID && open.SystemID == p.SystemID && open.ActiveTo == nil {
			closedAt := p.ActiveFrom
			f.policies[i].ActiveTo = &closedAt
		}
	}
	f.policies = append(f.policies, p)
	return nil
}

var t0 = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestActivePolicyForSelectsWindow(t *testing.T) {
	store := &fakeStore{policies: []sla.Policy{
		{ID: "old", ServiceID: "svc", ActiveFrom: t0.AddDate(0, -2, 0), ActiveTo: ptr(t0), CreatedAt: t0.AddDate(0, -2, 0)},
		{ID: "current", ServiceID: "svc", ActiveFrom: t0, CreatedAt: t0},
		{ID: "other", ServiceID: "svc-2", ActiveFrom: t0, CreatedAt: t0},
	}}
	r := NewResolver(store)

	p, err := r.ActivePolicyFor(context.Background(), "svc", t0.Add(time.Hour))
	if err != nil || p.ID != "current" {
		t.Fatalf("unexpected policy %q err=%v", p.ID, err)
	}
	p, err = r.ActivePolicyFor(context.Background(), "svc", t0.Add(-time.Hour))
	if err != nil || p.ID != "old" {
		t.Fatalf("unexpected policy %q err=%v", p.ID, err)
	}
}

func TestActivePolicyForNotFound(t *testing.T) {
	r := NewResolver(&fakeStore{policies: []sla.Policy{
		{ID: "future", ServiceID: "svc", ActiveFrom: t0.AddDate(0, 1, 0), CreatedAt: t0},
	}})
	_, err := r.ActivePolicyFor(context.Background(), "svc", t0)
	if !errors.Is(err, sla.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if sla.NotFoundMessage(err) != "No active SLA policy for service" {
		t.Fatalf("unexpected message: %q", sla.NotFoundMessage(err))
	}
}

func TestActivePolicyForPropagatesStorageErrors(t *testing.T) {
	r := NewResolver(&fakeStore{err: sla.ErrTransientStorage})
	_, err := r.ActivePolicyFor(context.Background(), "svc", t0)
	if !errors.Is(err, sla.ErrTransientStorage) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if errors.Is(err, sla.ErrNotFound) {
		t.Fatalf("storage failure must not look like a missing policy")
	}
}

func TestSelectActiveTieBreaksOnCreatedAt(t *testing.T) {
	policies := []sla.Policy{
		{ID: "a", ActiveFrom: t0, CreatedAt: t0},
		{ID: "b", ActiveFrom: t0, CreatedAt: t0.Add(time.Minute)},
	}
	p, ok := SelectActive(policies, t0.Add(time.Hour))
	if !ok || p.ID != "b" {
		t.Fatalf("expected most recently created policy, got %q", p.ID)
	}
}

func TestSelectActiveExcludesClosedAtInstant(t *testing.T) {
	policies := []sla.Policy{{ID: "a", ActiveFrom: t0, ActiveTo: ptr(t0.Add(time.Hour)), CreatedAt: t0}}
	if _, ok := SelectActive(policies, t0.Add(time.Hour)); ok {
		t.Fatalf("activeTo is exclusive")
	}
}

func TestServiceCreateClosesPrevious(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, nil)
	first, err := svc.Create(context.Background(), sla.Policy{ServiceID: "svc", TargetPct: 99.9, Period: "month", Timezone: "UTC", ActiveFrom: t0})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if first.Period != sla.PeriodMonth || first.ID == "" {
		t.Fatalf("unexpected policy: %+v", first)
	}
	second, err := svc.Create(context.Background(), sla.Policy{ServiceID: "svc", TargetPct: 99.5, Period: sla.PeriodMonth, Timezone: "UTC", ActiveFrom: t0.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	p, ok := SelectActive(store.policies, t0.AddDate(0, 1, 1))
	if !ok || p.ID != second.ID {
		t.Fatalf("expected second policy active")
	}
	open := 0
	for _, p := range store.policies {
		if p.ActiveTo == nil {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one open policy, got %d", open)
	}
}

func TestServiceCreateValidates(t *testing.T) {
	svc := NewService(&fakeStore{}, nil)
	_, err := svc.Create(context.Background(), sla.Policy{ServiceID: "svc", Period: sla.PeriodMonth, Timezone: "UTC"})
	var verr *sla.ValidationError
	if !errors.As(err, &verr) || verr.Field != "targetPct" {
		t.Fatalf("expected targetPct validation error, got %v", err)
	}
}
