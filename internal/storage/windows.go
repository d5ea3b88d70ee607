package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"slatrack/internal/sla"
)

const windowColumns = `id, service_id, period_start, period_end, observed_pct, status, computed_at`

func scanWindow(row pgx.Row) (sla.Window, error) {
	var w sla.Window
	var status string
	if err := row.Scan(&w.ID, &w.ServiceID, &w.PeriodStart, &w.PeriodEnd, &w.ObservedPct, &status, &w.ComputedAt); err != nil {
		return sla.Window{}, err
	}
	w.Status = sla.Status(status)
	w.PeriodStart, w.PeriodEnd, w.ComputedAt = w.PeriodStart.UTC(), w.PeriodEnd.UTC(), w.ComputedAt.UTC()
	return w, nil
}

// UpsertWindow relies on UNIQUE (service_id, period_start, period_end): a
// recomputation overwrites the figures of the existing row and keeps its id.
func (r *Repository) UpsertWindow(ctx context.Context, w sla.Window) (sla.Window, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		INSERT INTO sla_windows (`+windowColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (service_id, period_start, period_end)
		DO UPDATE SET observed_pct=EXCLUDED.observed_pct, status=EXCLUDED.status, computed_at=EXCLUDED.computed_at
		RETURNING `+windowColumns,
		uuid.NewString(), w.ServiceID, w.PeriodStart, w.PeriodEnd, w.ObservedPct, string(w.Status), w.ComputedAt,
	)
	stored, err := scanWindow(row)
	if err != nil {
		return sla.Window{}, wrap("upsert window", err)
	}
	return stored, nil
}

func (r *Repository) ListWindows(ctx context.Context, serviceID string, from, to time.Time) ([]sla.Window, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT `+windowColumns+`
		FROM sla_windows
		WHERE service_id=$1 AND period_start < $3 AND period_end > $2
		ORDER BY period_start`, serviceID, from, to)
	if err != nil {
		return nil, wrap("list windows", err)
	}
	defer rows.Close()
	results := []sla.Window{}
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, wrap("list windows", err)
		}
		results = append(results, w)
	}
	return results, wrap("list windows", rows.Err())
}

// CountWindowsByStatus counts every stored window in each of the given
// statuses. Statuses with no rows are reported as zero.
func (r *Repository) CountWindowsByStatus(ctx context.Context, statuses ...sla.Status) (map[sla.Status]int, error) {
	names := make([]string, 0, len(statuses))
	counts := make(map[sla.Status]int, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
		counts[s] = 0
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT status, count(*) FROM sla_windows
		WHERE status = ANY($1)
		GROUP BY status`, names)
	if err != nil {
		return nil, wrap("count windows", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrap("count windows", err)
		}
		counts[sla.Status(status)] = n
	}
	return counts, wrap("count windows", rows.Err())
}
