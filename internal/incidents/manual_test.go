package incidents

import (
	"context"
	"testing"
	"time"

	"slatrack/internal/sla"
)

type memoryStore struct {
	memoryWriter
	maintenance []sla.MaintenanceWindow
}

func (m *memoryStore) ListIncidentsOverlapping(_ context.Context, serviceID string, from, to time.Time) ([]sla.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sla.Incident
	for _, inc := range m.rows {
		if inc.ServiceID == serviceID && inc.StartedAt.Before(to) && inc.EndedAt.After(from) {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateMaintenance(_ context.Context, mw sla.MaintenanceWindow) error {
	m.maintenance = append(m.maintenance, mw)
	return nil
}

func (m *memoryStore) ListMaintenanceOverlapping(_ context.Context, serviceID string, from, to time.Time) ([]sla.MaintenanceWindow, error) {
	var out []sla.MaintenanceWindow
	for _, mw := range m.maintenance {
		if mw.ServiceID == serviceID && mw.StartsAt.Before(to) && mw.EndsAt.After(from) {
			out = append(out, mw)
		}
	}
	return out, nil
}

func TestCatalogCreateIncident(t *testing.T) {
	store := &memoryStore{}
	catalog := NewCatalog(store, nil)
	inc, err := catalog.CreateIncident(context.Background(), sla.Incident{
		ServiceID: " svc ", StartedAt: base, EndedAt: base.Add(time.Hour), IsPlanned: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inc.ID == "" || inc.Source != sla.SourceManual || inc.ServiceID != "svc" {
		t.Fatalf("unexpected incident %+v", inc)
	}

	_, err = catalog.CreateIncident(context.Background(), sla.Incident{ServiceID: "svc", StartedAt: base, EndedAt: base.Add(time.Hour)})
	if sla.Code(err) != sla.CodeValidation {
		t.Fatalf("duplicate interval should be rejected, got %v", err)
	}

	from, to := base.Add(-time.Hour), base.Add(2*time.Hour)
	got, err := catalog.ListIncidents(context.Background(), "svc", &from, &to)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one incident, got %d (%v)", len(got), err)
	}
}

func TestCatalogValidation(t *testing.T) {
	catalog := NewCatalog(&memoryStore{}, nil)
	cases := []struct {
		name string
		run  func() error
	}{
		{"incident without service", func() error {
			_, err := catalog.CreateIncident(context.Background(), sla.Incident{StartedAt: base, EndedAt: base.Add(time.Minute)})
			return err
		}},
		{"reversed incident", func() error {
			_, err := catalog.CreateIncident(context.Background(), sla.Incident{ServiceID: "svc", StartedAt: base, EndedAt: base})
			return err
		}},
		{"maintenance without bounds", func() error {
			_, err := catalog.CreateMaintenance(context.Background(), sla.MaintenanceWindow{ServiceID: "svc"})
			return err
		}},
		{"reversed maintenance", func() error {
			_, err := catalog.CreateMaintenance(context.Background(), sla.MaintenanceWindow{ServiceID: "svc", StartsAt: base.Add(time.Hour), EndsAt: base})
			return err
		}},
		{"maintenance list without range", func() error {
			_, err := catalog.ListMaintenance(context.Background(), "svc", nil, nil)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); sla.Code(err) != sla.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCatalogMaintenanceRoundTrip(t *testing.T) {
	store := &memoryStore{}
	catalog := NewCatalog(store, nil)
	mw, err := catalog.CreateMaintenance(context.Background(), sla.MaintenanceWindow{
		ServiceID: "svc", StartsAt: base, EndsAt: base.Add(2 * time.Hour), Reason: "db upgrade",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	from, to := base.Add(time.Hour), base.Add(3*time.Hour)
	got, err := catalog.ListMaintenance(context.Background(), "svc", &from, &to)
	if err != nil || len(got) != 1 || got[0].ID != mw.ID {
		t.Fatalf("expected the stored window back, got %+v (%v)", got, err)
	}
}
