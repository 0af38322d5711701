package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"tramitex/pkg/domain"
)

func seedDoc(t *testing.T, m *MemoryStore, id string, status domain.DocumentStatus, responsibleID string, ingested time.Time) {
	t.Helper()
	doc := domain.Document{
		ExpedienteID: id,
		Type:         domain.TypeSolicitud,
		Sender:       "Remitente " + id,
		Subject:      "Asunto " + id,
		Status:       status,
		IngestedAt:   ingested,
	}
	if responsibleID != "" {
		doc.Responsible = domain.ProfileRef{ID: responsibleID, Valid: true}
	}
	first := domain.Movement{
		Origin:      domain.ProfileRef{ID: "creator", Valid: true},
		Destination: doc.Responsible,
		Type:        domain.MovementCreacion,
	}
	if _, err := m.CreateDocument(context.Background(), doc, first); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	// seedDoc leaves the status as given even though CreateDocument callers
	// always start at recibido; the store does not police states.
	if status != domain.StatusRecibido {
		m.mu.Lock()
		d := m.docs[id]
		d.Status = status
		m.docs[id] = d
		m.mu.Unlock()
	}
}

func TestCreateDocumentStampsFirstMovement(t *testing.T) {
	m := NewMemoryStore()
	seedDoc(t, m, "EXP-1", domain.StatusRecibido, "p1", time.Now().UTC())

	history, err := m.ListMovements(context.Background(), "EXP-1")
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("movements = %d, want 1", len(history))
	}
	mv := history[0]
	if mv.Seq == 0 {
		t.Fatalf("seq not assigned")
	}
	if mv.RecordedAt.IsZero() {
		t.Fatalf("recorded_at not assigned")
	}
	if mv.ExpedienteID != "EXP-1" {
		t.Fatalf("expediente id = %q", mv.ExpedienteID)
	}
}

func TestTransitionApplyErrorLeavesNoTrace(t *testing.T) {
	m := NewMemoryStore()
	seedDoc(t, m, "EXP-1", domain.StatusRecibido, "p1", time.Now().UTC())
	boom := errors.New("denied")

	_, _, err := m.Transition(context.Background(), "EXP-1", func(d *domain.Document) error {
		d.Status = domain.StatusAtendido
		return boom
	}, domain.Movement{Type: domain.MovementAtencion})
	if !errors.Is(err, boom) {
		t.Fatalf("expected apply error, got: %v", err)
	}

	doc, _, _ := m.GetDocument(context.Background(), "EXP-1")
	if doc.Status != domain.StatusRecibido {
		t.Fatalf("document mutated despite apply error: %s", doc.Status)
	}
	history, _ := m.ListMovements(context.Background(), "EXP-1")
	if len(history) != 1 {
		t.Fatalf("movement appended despite apply error: %d", len(history))
	}
}

func TestTransitionUnknownDocument(t *testing.T) {
	m := NewMemoryStore()
	_, _, err := m.Transition(context.Background(), "EXP-404", func(d *domain.Document) error {
		return nil
	}, domain.Movement{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestListMovementsNewestFirstWithSeqTieBreak(t *testing.T) {
	m := NewMemoryStore()
	seedDoc(t, m, "EXP-1", domain.StatusRecibido, "p1", time.Now().UTC())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := m.Transition(ctx, "EXP-1", func(d *domain.Document) error {
			d.Status = domain.StatusDerivado
			return nil
		}, domain.Movement{Type: domain.MovementDerivacion})
		if err != nil {
			t.Fatalf("transition %d: %v", i, err)
		}
	}

	history, err := m.ListMovements(ctx, "EXP-1")
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("movements = %d, want 4", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i-1].Seq <= history[i].Seq {
			t.Fatalf("not newest-first at %d: %d then %d", i, history[i-1].Seq, history[i].Seq)
		}
	}
}

func TestListDocumentsScope(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	seedDoc(t, m, "EXP-1", domain.StatusRecibido, "p1", now)
	seedDoc(t, m, "EXP-2", domain.StatusRecibido, "p2", now)
	seedDoc(t, m, "EXP-3", domain.StatusAtendido, "", now)

	all, err := m.ListDocuments(ctx, Scope{All: true}, DocumentFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all scope = %d, want 3", len(all))
	}

	own, err := m.ListDocuments(ctx, Scope{ResponsibleID: "p1"}, DocumentFilter{})
	if err != nil {
		t.Fatalf("list own: %v", err)
	}
	if len(own) != 1 || own[0].ExpedienteID != "EXP-1" {
		t.Fatalf("own scope = %+v, want only EXP-1", own)
	}

	// unassigned documents are invisible to a narrow scope even when the
	// scope id is empty
	none, err := m.ListDocuments(ctx, Scope{ResponsibleID: ""}, DocumentFilter{})
	if err != nil {
		t.Fatalf("list none: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("empty scope matched %d documents", len(none))
	}
}

func TestListDocumentsOrderAndFilters(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedDoc(t, m, "EXP-OLD", domain.StatusRecibido, "p1", base)
	seedDoc(t, m, "EXP-NEW", domain.StatusDerivado, "p1", base.Add(time.Hour))

	docs, err := m.ListDocuments(ctx, Scope{All: true}, DocumentFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 || docs[0].ExpedienteID != "EXP-NEW" {
		t.Fatalf("expected newest ingestion first, got %+v", docs)
	}

	derived, err := m.ListDocuments(ctx, Scope{All: true}, DocumentFilter{Status: domain.StatusDerivado})
	if err != nil {
		t.Fatalf("list derived: %v", err)
	}
	if len(derived) != 1 || derived[0].ExpedienteID != "EXP-NEW" {
		t.Fatalf("status filter = %+v", derived)
	}

	matched, err := m.ListDocuments(ctx, Scope{All: true}, DocumentFilter{Query: "exp-old"})
	if err != nil {
		t.Fatalf("list query: %v", err)
	}
	if len(matched) != 1 || matched[0].ExpedienteID != "EXP-OLD" {
		t.Fatalf("query filter = %+v", matched)
	}
}

func TestFindByExpedienteIgnoresCase(t *testing.T) {
	m := NewMemoryStore()
	seedDoc(t, m, "EXP-2026-044", domain.StatusRecibido, "p1", time.Now().UTC())

	doc, ok, err := m.FindByExpediente(context.Background(), "exp-2026-044")
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	if doc.ExpedienteID != "EXP-2026-044" {
		t.Fatalf("found %q", doc.ExpedienteID)
	}

	if _, ok, _ := m.FindByExpediente(context.Background(), "EXP-2026"); ok {
		t.Fatalf("prefix must not match")
	}
}

func TestDeleteDocumentDropsLedger(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedDoc(t, m, "EXP-1", domain.StatusRecibido, "p1", time.Now().UTC())

	if err := m.DeleteDocument(ctx, "EXP-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := m.GetDocument(ctx, "EXP-1"); ok {
		t.Fatalf("document still present")
	}
	history, _ := m.ListMovements(ctx, "EXP-1")
	if len(history) != 0 {
		t.Fatalf("ledger survived delete")
	}
	if err := m.DeleteDocument(ctx, "EXP-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestStatsCounts(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	seedDoc(t, m, "EXP-1", domain.StatusRecibido, "p1", now.Add(-2*time.Hour))
	seedDoc(t, m, "EXP-2", domain.StatusDerivado, "p2", now.Add(-time.Hour))
	seedDoc(t, m, "EXP-3", domain.StatusAtendido, "", now.Add(-30*time.Minute))
	// finalized, but ingested before the current month
	seedDoc(t, m, "EXP-4", domain.StatusArchivado, "", now.AddDate(0, -2, 0))

	stats, err := m.Stats(context.Background(), now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 {
		t.Fatalf("total = %d", stats.Total)
	}
	if stats.Pending != 2 || stats.Finalized != 2 {
		t.Fatalf("pending/finalized = %d/%d", stats.Pending, stats.Finalized)
	}
	if stats.FinalizedThisMonth != 1 {
		t.Fatalf("finalized this month = %d, want 1", stats.FinalizedThisMonth)
	}
	if stats.ByStatus[domain.StatusRecibido] != 1 || stats.ByStatus[domain.StatusDerivado] != 1 {
		t.Fatalf("by status = %+v", stats.ByStatus)
	}
}

func TestProfileLifecycle(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	profile := domain.Profile{ID: "p1", Username: "ana", Role: domain.RoleUnidad, Unit: "Tesorería"}

	if err := m.SaveProfile(ctx, profile, "hash"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := m.GetProfileByUsername(ctx, "ana")
	if err != nil || !ok {
		t.Fatalf("get by username: ok=%v err=%v", ok, err)
	}
	if got.ID != "p1" {
		t.Fatalf("got %+v", got)
	}

	// rename releases the old username
	profile.Username = "ana.maria"
	if err := m.SaveProfile(ctx, profile, "hash"); err != nil {
		t.Fatalf("resave: %v", err)
	}
	if _, ok, _ := m.GetProfileByUsername(ctx, "ana"); ok {
		t.Fatalf("stale username still resolves")
	}

	if err := m.DeleteProfile(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := m.GetProfileByID(ctx, "p1"); ok {
		t.Fatalf("profile still present")
	}
}
