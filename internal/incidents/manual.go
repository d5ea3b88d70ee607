package incidents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"slatrack/internal/sla"
)

// Store is the persistence the manual entry surface needs.
type Store interface {
	IncidentWriter
	ListIncidentsOverlapping(ctx context.Context, serviceID string, from, to time.Time) ([]sla.Incident, error)
	CreateMaintenance(ctx context.Context, mw sla.MaintenanceWindow) error
	ListMaintenanceOverlapping(ctx context.Context, serviceID string, from, to time.Time) ([]sla.MaintenanceWindow, error)
}

// Catalog records operator-entered incidents and maintenance windows.
type Catalog struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewCatalog(store Store, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{store: store, logger: logger, now: time.Now}
}

func (c *Catalog) CreateIncident(ctx context.Context, inc sla.Incident) (sla.Incident, error) {
	inc.ServiceID = strings.TrimSpace(inc.ServiceID)
	if inc.ServiceID == "" {
		return sla.Incident{}, sla.NewValidationError("serviceId", "serviceId is required")
	}
	if inc.StartedAt.IsZero() || inc.EndedAt.IsZero() {
		return sla.Incident{}, sla.NewValidationError("startedAt", "startedAt and endedAt are required")
	}
	if !inc.EndedAt.After(inc.StartedAt) {
		return sla.Incident{}, sla.NewValidationError("endedAt", "endedAt must be after startedAt")
	}
	inc.ID = uuid.NewString()
	inc.StartedAt, inc.EndedAt = inc.StartedAt.UTC(), inc.EndedAt.UTC()
	inc.Source = sla.SourceManual
	inc.CreatedAt = c.now().UTC()
	created, err := c.store.CreateIncident(ctx, inc)
	if err != nil {
		return sla.Incident{}, fmt.Errorf("create incident: %w", err)
	}
	if !created {
		return sla.Incident{}, sla.NewValidationError("startedAt", "an incident with this interval already exists")
	}
	c.logger.Info("manual incident recorded",
		slog.String("incident_id", inc.ID),
		slog.String("service_id", inc.ServiceID),
		slog.Bool("planned", inc.IsPlanned))
	return inc, nil
}

func (c *Catalog) ListIncidents(ctx context.Context, serviceID string, from, to *time.Time) ([]sla.Incident, error) {
	if verr := sla.ValidateRange(from, to); verr != nil {
		return nil, verr
	}
	return c.store.ListIncidentsOverlapping(ctx, serviceID, *from, *to)
}

func (c *Catalog) CreateMaintenance(ctx context.Context, mw sla.MaintenanceWindow) (sla.MaintenanceWindow, error) {
	mw.ServiceID = strings.TrimSpace(mw.ServiceID)
	if mw.ServiceID == "" {
		return sla.MaintenanceWindow{}, sla.NewValidationError("serviceId", "serviceId is required")
	}
	if mw.StartsAt.IsZero() || mw.EndsAt.IsZero() {
		return sla.MaintenanceWindow{}, sla.NewValidationError("startsAt", "startsAt and endsAt are required")
	}
	if !mw.EndsAt.After(mw.StartsAt) {
		return sla.MaintenanceWindow{}, sla.NewValidationError("endsAt", "endsAt must be after startsAt")
	}
	mw.ID = uuid.NewString()
	mw.StartsAt, mw.EndsAt = mw.StartsAt.UTC(), mw.EndsAt.UTC()
	if err := c.store.CreateMaintenance(ctx, mw); err != nil {
		return sla.MaintenanceWindow{}, fmt.Errorf("create maintenance window: %w", err)
	}
	c.logger.Info("maintenance window recorded",
		slog.String("maintenance_id", mw.ID),
		slog.String("service_id", mw.ServiceID),
		slog.Time("starts_at", mw.StartsAt),
		slog.Time("ends_at", mw.EndsAt))
	return mw, nil
}

func (c *Catalog) ListMaintenance(ctx context.Context, serviceID string, from, to *time.Time) ([]sla.MaintenanceWindow, error) {
	if verr := sla.ValidateRange(from, to); verr != nil {
		return nil, verr
	}
	return c.store.ListMaintenanceOverlapping(ctx, serviceID, *from, *to)
}
