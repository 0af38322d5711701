package report

import (
	"context"
	"fmt"
	"time"

	"tramitex/pkg/domain"
	"tramitex/pkg/store"
	"tramitex/pkg/workflow"
)

// Row is one line of the tabular export: a pure projection of a document
// with display labels and the responsible resolved to username/unit.
type Row struct {
	ExpedienteID    string    `json:"expedienteId"`
	TypeLabel       string    `json:"type"`
	Subject         string    `json:"subject"`
	Sender          string    `json:"sender"`
	IngestedAt      time.Time `json:"ingestedAt"`
	StatusLabel     string    `json:"status"`
	ResponsibleUser string    `json:"responsibleUser"`
	ResponsibleUnit string    `json:"responsibleUnit"`
}

// Service produces the export snapshot and the aggregate dashboard feed.
// Both are restricted to elevated-access profiles.
type Service struct {
	store store.Store
}

// NewService builds the reporting service.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Snapshot projects every document into export rows, newest first.
func (s *Service) Snapshot(ctx context.Context, actor domain.Profile) ([]Row, error) {
	if !actor.Role.Has(domain.CapReporting) {
		return nil, workflow.ErrForbidden
	}
	docs, err := s.store.ListDocuments(ctx, store.Scope{All: true}, store.DocumentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	rows := make([]Row, 0, len(docs))
	for _, doc := range docs {
		row := Row{
			ExpedienteID: doc.ExpedienteID,
			TypeLabel:    doc.Type.Label(),
			Subject:      doc.Subject,
			Sender:       doc.Sender,
			IngestedAt:   doc.IngestedAt,
			StatusLabel:  doc.Status.Label(),
		}
		if doc.Responsible.Valid {
			profile, ok, err := s.store.GetProfileByID(ctx, doc.Responsible.ID)
			if err != nil {
				return nil, fmt.Errorf("resolve responsible: %w", err)
			}
			if ok {
				row.ResponsibleUser = profile.Username
				row.ResponsibleUnit = profile.Unit
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Dashboard returns per-status counts and the pending/finalized totals.
func (s *Service) Dashboard(ctx context.Context, actor domain.Profile, now time.Time) (store.Stats, error) {
	if !actor.Role.Has(domain.CapReporting) {
		return store.Stats{}, workflow.ErrForbidden
	}
	stats, err := s.store.Stats(ctx, now)
	if err != nil {
		return store.Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	return stats, nil
}
