package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"slatrack/internal/sla"
)

const violationColumns = `id, policy_id, window_id, expected_pct, observed_pct, reason, created_at`

func scanViolation(row pgx.Row) (sla.Violation, error) {
	var v sla.Violation
	if err := row.Scan(&v.ID, &v.PolicyID, &v.WindowID, &v.ExpectedPct, &v.ObservedPct, &v.Reason, &v.CreatedAt); err != nil {
		return sla.Violation{}, err
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

func (r *Repository) GetViolation(ctx context.Context, policyID, windowID string) (sla.Violation, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT `+violationColumns+`
		FROM sla_violations WHERE policy_id=$1 AND window_id=$2`, policyID, windowID)
	v, err := scanViolation(row)
	if err != nil {
		return sla.Violation{}, wrap("get violation", err)
	}
	return v, nil
}

// InsertViolationIfAbsent depends on UNIQUE (policy_id, window_id); the
// losing writer of a race sees zero rows affected.
func (r *Repository) InsertViolationIfAbsent(ctx context.Context, v sla.Violation) (bool, error) {
	tag, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO sla_violations (`+violationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (policy_id, window_id) DO NOTHING`,
		v.ID, v.PolicyID, v.WindowID, v.ExpectedPct, v.ObservedPct, v.Reason, v.CreatedAt,
	)
	if err != nil {
		return false, wrap("insert violation", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ListViolations(ctx context.Context, policyID string, from, to time.Time) ([]sla.Violation, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT `+violationColumns+`
		FROM sla_violations
		WHERE policy_id=$1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC`, policyID, from, to)
	if err != nil {
		return nil, wrap("list violations", err)
	}
	defer rows.Close()
	results := []sla.Violation{}
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, wrap("list violations", err)
		}
		results = append(results, v)
	}
	return results, wrap("list violations", rows.Err())
}
