package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"slatrack/internal/sla"
)

type Store interface {
	ListPoliciesForService(ctx context.Context, serviceID string) ([]sla.Policy, error)
	ListPolicies(ctx context.Context, serviceID string) ([]sla.Policy, error)
	// CreatePolicy inserts p and closes any open policy for the same subject
	// at p.ActiveFrom, atomically.
	CreatePolicy(ctx context.Context, p sla.Policy) error
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// ActivePolicyFor returns the policy governing serviceID at the given instant.
// It always reads through to the store.
func (r *Resolver) ActivePolicyFor(ctx context.Context, serviceID string, at time.Time) (sla.Policy, error) {
	policies, err := r.store.ListPoliciesForService(ctx, serviceID)
	if err != nil {
		return sla.Policy{}, fmt.Errorf("load policies for %s: %w", serviceID, err)
	}
	p, ok := SelectActive(policies, at)
	if !ok {
		return sla.Policy{}, sla.ErrNoActivePolicy
	}
	return p, nil
}

// SelectActive picks the policy active at the instant, preferring the most
// recently created one when several overlap.
func SelectActive(policies []sla.Policy, at time.Time) (sla.Policy, bool) {
	var best sla.Policy
	found := false
	for _, p := range policies {
		if !p.ActiveAt(at) {
			continue
		}
		if !found || p.CreatedAt.After(best.CreatedAt) {
			best = p
			found = true
		}
	}
	return best, found
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

func (s *Service) Create(ctx context.Context, p sla.Policy) (sla.Policy, error) {
	now := s.now().UTC()
	if p.ActiveFrom.IsZero() {
		p.ActiveFrom = now
	}
	p.ServiceID = strings.TrimSpace(p.ServiceID)
	p.SystemID = strings.TrimSpace(p.SystemID)
	if verr := sla.ValidatePolicy(p); verr != nil {
		return sla.Policy{}, verr
	}
	period, _ := sla.ParsePeriod(string(p.Period))
	p.Period = period
	p.ID = uuid.NewString()
	p.CreatedAt = now
	if err := s.store.CreatePolicy(ctx, p); err != nil {
		return sla.Policy{}, fmt.Errorf("create policy: %w", err)
	}
	s.logger.Info("policy created",
		slog.String("policy_id", p.ID),
		slog.String("service_id", p.ServiceID),
		slog.String("system_id", p.SystemID),
		slog.Float64("target_pct", p.TargetPct),
		slog.String("period", string(p.Period)))
	return p, nil
}

func (s *Service) List(ctx context.Context, serviceID string) ([]sla.Policy, error) {
	return s.store.ListPolicies(ctx, strings.TrimSpace(serviceID))
}
