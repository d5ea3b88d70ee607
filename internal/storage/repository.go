package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"slatrack/internal/sla"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

const policyColumns = `id, COALESCE(service_id, ''), COALESCE(system_id, ''), target_pct, period, timezone, active_from, active_to, created_at`

func scanPolicy(row pgx.Row) (sla.Policy, error) {
	var p sla.Policy
	var period string
	if err := row.Scan(&p.ID, &p.ServiceID, &p.SystemID, &p.TargetPct, &period, &p.Timezone, &p.ActiveFrom, &p.ActiveTo, &p.CreatedAt); err != nil {
		return sla.Policy{}, err
	}
	p.Period = sla.Period(period)
	p.ActiveFrom = p.ActiveFrom.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	if p.ActiveTo != nil {
		to := p.ActiveTo.UTC()
		p.ActiveTo = &to
	}
	return p, nil
}

func (r *Repository) queryPolicies(ctx context.Context, op, query string, args ...any) ([]sla.Policy, error) {
	rows, err := r.Store.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()
	results := []sla.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		results = append(results, p)
	}
	return results, wrap(op, rows.Err())
}

func (r *Repository) ListPoliciesForService(ctx context.Context, serviceID string) ([]sla.Policy, error) {
	return r.queryPolicies(ctx, "list policies for service", `
		SELECT `+policyColumns+`
		FROM sla_policies WHERE service_id=$1 ORDER BY created_at DESC`, serviceID)
}

func (r *Repository) ListPolicies(ctx context.Context, serviceID string) ([]sla.Policy, error) {
	if serviceID == "" {
		return r.queryPolicies(ctx, "list policies", `
			SELECT `+policyColumns+`
			FROM sla_policies ORDER BY created_at DESC`)
	}
	return r.ListPoliciesForService(ctx, serviceID)
}

// CreatePolicy inserts p and closes the subject's open policy at
// p.ActiveFrom in the same transaction.
func (r *Repository) CreatePolicy(ctx context.Context, p sla.Policy) error {
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return wrap("begin create policy", err)
	}
	defer tx.Rollback(ctx)

	closeQuery := `
		UPDATE sla_policies SET active_to = GREATEST($2, active_from + interval '1 microsecond')
		WHERE service_id=$1 AND active_to IS NULL`
	subject := p.ServiceID
	if p.SystemID != "" {
		closeQuery = `
			UPDATE sla_policies SET active_to = GREATEST($2, active_from + interval '1 microsecond')
			WHERE system_id=$1 AND active_to IS NULL`
		subject = p.SystemID
	}
	if _, err := tx.Exec(ctx, closeQuery, subject, p.ActiveFrom); err != nil {
		return wrap("close open policy", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO sla_policies (id, service_id, system_id, target_pct, period, timezone, active_from, active_to, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`,
		p.ID, p.ServiceID, p.SystemID, p.TargetPct, string(p.Period), p.Timezone, p.ActiveFrom, p.ActiveTo, p.CreatedAt,
	)
	if err != nil {
		return wrap("insert policy", err)
	}
	return wrap("commit create policy", tx.Commit(ctx))
}

// ListActiveServices returns the services that have a policy active at the
// given instant.
func (r *Repository) ListActiveServices(ctx context.Context, at time.Time) ([]string, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT DISTINCT service_id FROM sla_policies
		WHERE service_id IS NOT NULL AND active_from <= $1 AND (active_to IS NULL OR active_to > $1)
		ORDER BY service_id`, at)
	if err != nil {
		return nil, wrap("list active services", err)
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("list active services", err)
		}
		results = append(results, id)
	}
	return results, wrap("list active services", rows.Err())
}

// CreateIncident stores inc unless it is already covered. Sample-built
// incidents that overlap or touch existing sample-built incidents of the same
// service are collapsed with them into one row, which keeps a growing trailing
// downtime as one row across builds. It reports true only when a new row was inserted.
func (r *Repository) CreateIncident(ctx context.Context, inc sla.Incident) (bool, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return false, wrap("begin create incident", err)
	}
	defer tx.Rollback(ctx)

	// serialises concurrent builders of one service
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, inc.ServiceID); err != nil {
		return false, wrap("lock service incidents", err)
	}
	if inc.Source == sla.SourceSamples {
		folded, err := r.foldSampleIncidents(ctx, tx, inc)
		if err != nil || folded {
			return false, err
		}
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO incidents (id, service_id, started_at, ended_at, is_planned, source, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (service_id, started_at, ended_at) DO NOTHING`,
		inc.ID, inc.ServiceID, inc.StartedAt, inc.EndedAt, inc.IsPlanned, string(inc.Source), inc.CreatedAt,
	)
	if err != nil {
		return false, wrap("insert incident", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, wrap("commit incident", err)
	}
	return tag.RowsAffected() == 1, nil
}

type storedInterval struct {
	id       string
	interval sla.Interval
}

// foldSampleIncidents collapses inc and every sample-built incident it
// overlaps or touches into a single row. It reports false when nothing
// overlapped and inc still has to be inserted.
func (r *Repository) foldSampleIncidents(ctx context.Context, tx pgx.Tx, inc sla.Incident) (bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, started_at, ended_at FROM incidents
		WHERE service_id=$1 AND source='samples' AND started_at <= $3 AND ended_at >= $2
		ORDER BY started_at, id
		FOR UPDATE`, inc.ServiceID, inc.StartedAt, inc.EndedAt)
	if err != nil {
		return false, wrap("find overlapping incidents", err)
	}
	var existing []storedInterval
	for rows.Next() {
		var item storedInterval
		if err := rows.Scan(&item.id, &item.interval.Start, &item.interval.End); err != nil {
			rows.Close()
			return false, wrap("scan overlapping incident", err)
		}
		existing = append(existing, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, wrap("find overlapping incidents", err)
	}
	if len(existing) == 0 {
		return false, nil
	}

	merged, changed := mergeStored(existing, inc.Interval())
	if !changed {
		return true, nil
	}
	keep := existing[0].id
	var stale []string
	for _, item := range existing[1:] {
		stale = append(stale, item.id)
	}
	if len(stale) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM incidents WHERE id = ANY($1)`, stale); err != nil {
			return false, wrap("delete folded incidents", err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE incidents SET started_at=$2, ended_at=$3 WHERE id=$1`, keep, merged.Start, merged.End); err != nil {
		return false, wrap("extend incident", err)
	}
	return true, wrap("commit fold incidents", tx.Commit(ctx))
}

// mergeStored returns the hull of existing and next. changed is false when a
// single stored row already covers next.
func mergeStored(existing []storedInterval, next sla.Interval) (sla.Interval, bool) {
	merged := next
	for _, item := range existing {
		if item.interval.Start.Before(merged.Start) {
			merged.Start = item.interval.Start
		}
		if item.interval.End.After(merged.End) {
			merged.End = item.interval.End
		}
	}
	if len(existing) == 1 && merged.Start.Equal(existing[0].interval.Start) && merged.End.Equal(existing[0].interval.End) {
		return merged, false
	}
	return merged, true
}

func (r *Repository) ListIncidentsOverlapping(ctx context.Context, serviceID string, from, to time.Time) ([]sla.Incident, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, service_id, started_at, ended_at, is_planned, source, created_at
		FROM incidents
		WHERE service_id=$1 AND started_at < $3 AND ended_at > $2
		ORDER BY started_at`, serviceID, from, to)
	if err != nil {
		return nil, wrap("list incidents", err)
	}
	defer rows.Close()
	results := []sla.Incident{}
	for rows.Next() {
		var inc sla.Incident
		var source string
		if err := rows.Scan(&inc.ID, &inc.ServiceID, &inc.StartedAt, &inc.EndedAt, &inc.IsPlanned, &source, &inc.CreatedAt); err != nil {
			return nil, wrap("list incidents", err)
		}
		inc.Source = sla.IncidentSource(source)
		inc.StartedAt, inc.EndedAt, inc.CreatedAt = inc.StartedAt.UTC(), inc.EndedAt.UTC(), inc.CreatedAt.UTC()
		results = append(results, inc)
	}
	return results, wrap("list incidents", rows.Err())
}

func (r *Repository) CreateMaintenance(ctx context.Context, mw sla.MaintenanceWindow) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO maintenance_windows (id, service_id, starts_at, ends_at, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,now())`,
		mw.ID, mw.ServiceID, mw.StartsAt, mw.EndsAt, mw.Reason,
	)
	return wrap("insert maintenance window", err)
}

func (r *Repository) ListMaintenanceOverlapping(ctx context.Context, serviceID string, from, to time.Time) ([]sla.MaintenanceWindow, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, service_id, starts_at, ends_at, reason
		FROM maintenance_windows
		WHERE service_id=$1 AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at`, serviceID, from, to)
	if err != nil {
		return nil, wrap("list maintenance windows", err)
	}
	defer rows.Close()
	results := []sla.MaintenanceWindow{}
	for rows.Next() {
		var mw sla.MaintenanceWindow
		if err := rows.Scan(&mw.ID, &mw.ServiceID, &mw.StartsAt, &mw.EndsAt, &mw.Reason); err != nil {
			return nil, wrap("list maintenance windows", err)
		}
		mw.StartsAt, mw.EndsAt = mw.StartsAt.UTC(), mw.EndsAt.UTC()
		results = append(results, mw)
	}
	return results, wrap("list maintenance windows", rows.Err())
}
