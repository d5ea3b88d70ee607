package violation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"slatrack/internal/sla"
)

type Store interface {
	GetViolation(ctx context.Context, policyID, windowID string) (sla.Violation, error)
	// InsertViolationIfAbsent must be backed by a unique constraint on
	// (policy_id, window_id); it reports false when a row already existed.
	InsertViolationIfAbsent(ctx context.Context, v sla.Violation) (bool, error)
	ListViolations(ctx context.Context, policyID string, from, to time.Time) ([]sla.Violation, error)
}

type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// RecordIfAbsent stores a violation for the (policy, window) pair unless one
// already exists, in which case the stored row is returned untouched. The
// returned bool is true only for the call that created the row.
func (r *Recorder) RecordIfAbsent(ctx context.Context, policyID, windowID string, expectedPct, observedPct float64, reason string) (sla.Violation, bool, error) {
	if policyID == "" || windowID == "" {
		return sla.Violation{}, false, sla.NewValidationError("policyId", "policyId and windowId are required")
	}
	existing, err := r.store.GetViolation(ctx, policyID, windowID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sla.ErrNotFound) {
		return sla.Violation{}, false, fmt.Errorf("lookup violation: %w", err)
	}

	v := sla.Violation{
		ID:          uuid.NewString(),
		PolicyID:    policyID,
		WindowID:    windowID,
		ExpectedPct: expectedPct,
		ObservedPct: observedPct,
		Reason:      reason,
		CreatedAt:   r.now().UTC(),
	}
	created, err := r.store.InsertViolationIfAbsent(ctx, v)
	if err != nil {
		return sla.Violation{}, false, fmt.Errorf("insert violation: %w", err)
	}
	if !created {
		// lost the race; the winner's row is authoritative
		stored, err := r.store.GetViolation(ctx, policyID, windowID)
		if err != nil {
			return sla.Violation{}, false, fmt.Errorf("reload violation: %w", err)
		}
		return stored, false, nil
	}
	r.logger.Warn("sla violation recorded",
		slog.String("policy_id", policyID),
		slog.String("window_id", windowID),
		slog.Float64("expected_pct", expectedPct),
		slog.Float64("observed_pct", observedPct))
	return v, true, nil
}

func (r *Recorder) List(ctx context.Context, policyID string, from, to *time.Time) ([]sla.Violation, error) {
	if policyID == "" {
		return nil, sla.NewValidationError("policyId", "policyId is required")
	}
	if verr := sla.ValidateRange(from, to); verr != nil {
		return nil, verr
	}
	return r.store.ListViolations(ctx, policyID, *from, *to)
}
