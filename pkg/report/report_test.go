package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"tramitex/pkg/domain"
	"tramitex/pkg/store"
	"tramitex/pkg/workflow"
)

func seedReportData(t *testing.T) *store.MemoryStore {
	t.Helper()
	m := store.NewMemoryStore()
	ctx := context.Background()

	ana := domain.Profile{ID: "p1", Username: "ana", Role: domain.RoleUnidad, Unit: "Tesorería"}
	if err := m.SaveProfile(ctx, ana, "hash"); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	docs := []domain.Document{
		{
			ExpedienteID: "EXP-1",
			Type:         domain.TypeSolicitud,
			Sender:       "Juan Pérez",
			Subject:      "Constancia",
			Status:       domain.StatusRecibido,
			IngestedAt:   time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC),
			Responsible:  domain.RefTo(ana),
		},
		{
			ExpedienteID: "EXP-2",
			Type:         domain.TypeOficio,
			Sender:       "Municipalidad",
			Subject:      "Convenio",
			Status:       domain.StatusAtendido,
			IngestedAt:   time.Date(2026, 8, 12, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, doc := range docs {
		first := domain.Movement{Destination: doc.Responsible, Type: domain.MovementCreacion}
		if _, err := m.CreateDocument(ctx, doc, first); err != nil {
			t.Fatalf("seed %s: %v", doc.ExpedienteID, err)
		}
	}
	// EXP-2 seeded as already resolved
	if _, _, err := m.Transition(ctx, "EXP-2", func(d *domain.Document) error {
		d.Status = domain.StatusAtendido
		return nil
	}, domain.Movement{Type: domain.MovementAtencion}); err != nil {
		t.Fatalf("resolve seed: %v", err)
	}
	return m
}

func TestSnapshotRequiresReportingCapability(t *testing.T) {
	svc := NewService(seedReportData(t))
	unidad := domain.Profile{ID: "u", Role: domain.RoleUnidad}

	if _, err := svc.Snapshot(context.Background(), unidad); !errors.Is(err, workflow.ErrForbidden) {
		t.Fatalf("snapshot: got %v, want ErrForbidden", err)
	}
	if _, err := svc.Dashboard(context.Background(), unidad, time.Now()); !errors.Is(err, workflow.ErrForbidden) {
		t.Fatalf("dashboard: got %v, want ErrForbidden", err)
	}
}

func TestSnapshotRows(t *testing.T) {
	svc := NewService(seedReportData(t))
	mesa := domain.Profile{ID: "m", Role: domain.RoleMesaDePartes}

	rows, err := svc.Snapshot(context.Background(), mesa)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// newest ingestion first
	if rows[0].ExpedienteID != "EXP-2" || rows[1].ExpedienteID != "EXP-1" {
		t.Fatalf("row order: %q then %q", rows[0].ExpedienteID, rows[1].ExpedienteID)
	}

	assigned := rows[1]
	if assigned.TypeLabel != "Solicitud" || assigned.StatusLabel != "Recibido" {
		t.Fatalf("labels = %q / %q", assigned.TypeLabel, assigned.StatusLabel)
	}
	if assigned.ResponsibleUser != "ana" || assigned.ResponsibleUnit != "Tesorería" {
		t.Fatalf("responsible = %q / %q", assigned.ResponsibleUser, assigned.ResponsibleUnit)
	}

	resolved := rows[0]
	if resolved.ResponsibleUser != "" || resolved.ResponsibleUnit != "" {
		t.Fatalf("unassigned document should have empty responsible columns: %+v", resolved)
	}
}

func TestDashboardStats(t *testing.T) {
	svc := NewService(seedReportData(t))
	dg := domain.Profile{ID: "d", Role: domain.RoleDireccionGeneral}

	stats, err := svc.Dashboard(context.Background(), dg, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 || stats.Finalized != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.FinalizedThisMonth != 1 {
		t.Fatalf("finalized this month = %d", stats.FinalizedThisMonth)
	}
}
