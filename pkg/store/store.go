package store

import (
	"context"
	"errors"
	"time"

	"tramitex/pkg/domain"
)

// ErrNotFound is returned by operations that require an existing record.
var ErrNotFound = errors.New("record not found")

// Scope restricts document visibility for listing. All overrides
// ResponsibleID; otherwise only documents assigned to ResponsibleID match.
type Scope struct {
	All           bool
	ResponsibleID string
}

// DocumentFilter narrows a listing. Zero values mean "no constraint".
// Query matches expediente id, subject or sender as a case-insensitive
// substring; Type and Status match exactly. All present filters are ANDed.
type DocumentFilter struct {
	Type   domain.DocumentType
	Status domain.DocumentStatus
	Query  string
}

// Stats is the aggregate dashboard feed: counts per status plus totals.
type Stats struct {
	ByStatus           map[domain.DocumentStatus]int
	Total              int
	Pending            int
	Finalized          int
	FinalizedThisMonth int
}

// Store defines persistence for profiles, roles, documents and the
// movement ledger.
//
// CreateDocument and Transition are the atomic units of the workflow: the
// document write and the movement append succeed or fail together, and
// Transition serializes concurrent calls on the same document. The store
// assigns RecordedAt and Seq to every movement at insertion.
type Store interface {
	// roles
	SaveRole(ctx context.Context, role domain.Role) error
	ListRoles(ctx context.Context) ([]domain.Role, error)

	// profiles
	SaveProfile(ctx context.Context, profile domain.Profile, passwordHash string) error
	GetProfileByID(ctx context.Context, id string) (domain.Profile, bool, error)
	GetProfileByUsername(ctx context.Context, username string) (domain.Profile, bool, error)
	DeleteProfile(ctx context.Context, id string) error

	// documents + ledger
	CreateDocument(ctx context.Context, doc domain.Document, first domain.Movement) (domain.Movement, error)
	Transition(ctx context.Context, expedienteID string, apply func(*domain.Document) error, mv domain.Movement) (domain.Document, domain.Movement, error)
	GetDocument(ctx context.Context, expedienteID string) (domain.Document, bool, error)
	FindByExpediente(ctx context.Context, query string) (domain.Document, bool, error)
	UpdateDocument(ctx context.Context, doc domain.Document) error
	DeleteDocument(ctx context.Context, expedienteID string) error
	ListDocuments(ctx context.Context, scope Scope, filter DocumentFilter) ([]domain.Document, error)
	ListMovements(ctx context.Context, expedienteID string) ([]domain.Movement, error)

	// aggregates
	Stats(ctx context.Context, now time.Time) (Stats, error)
}
