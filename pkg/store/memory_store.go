package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tramitex/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local runs
// without Postgres; the single mutex serializes transitions the way row
// locks do in GormStore.
type MemoryStore struct {
	mu        sync.RWMutex
	roles     map[domain.RoleName]domain.Role
	profiles  map[string]domain.Profile // key: profile ID
	passwords map[string]string         // profile ID -> password hash
	usernames map[string]string         // username -> profile ID
	docs      map[string]domain.Document
	ledger    map[string][]domain.Movement // expediente ID -> movements
	seq       uint64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:     make(map[domain.RoleName]domain.Role),
		profiles:  make(map[string]domain.Profile),
		passwords: make(map[string]string),
		usernames: make(map[string]string),
		docs:      make(map[string]domain.Document),
		ledger:    make(map[string][]domain.Movement),
	}
}

// SaveRole stores or replaces a role record.
func (m *MemoryStore) SaveRole(_ context.Context, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role.Name] = role
	return nil
}

// ListRoles returns roles ordered by name.
func (m *MemoryStore) ListRoles(_ context.Context) ([]domain.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Role, 0, len(m.roles))
	for _, role := range m.roles {
		res = append(res, role)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// SaveProfile registers or updates a profile.
func (m *MemoryStore) SaveProfile(_ context.Context, profile domain.Profile, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.profiles[profile.ID]; ok {
		delete(m.usernames, prev.Username)
	}
	m.profiles[profile.ID] = profile
	m.passwords[profile.ID] = passwordHash
	m.usernames[profile.Username] = profile.ID
	return nil
}

// GetProfileByID returns a profile by ID.
func (m *MemoryStore) GetProfileByID(_ context.Context, id string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

// GetProfileByUsername looks up a profile by username.
func (m *MemoryStore) GetProfileByUsername(_ context.Context, username string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[username]
	if !ok {
		return domain.Profile{}, false, nil
	}
	p, ok := m.profiles[id]
	return p, ok, nil
}

// DeleteProfile removes a profile.
func (m *MemoryStore) DeleteProfile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[id]; ok {
		delete(m.usernames, p.Username)
	}
	delete(m.profiles, id)
	delete(m.passwords, id)
	return nil
}

// CreateDocument inserts the document and its creation movement together.
func (m *MemoryStore) CreateDocument(_ context.Context, doc domain.Document, first domain.Movement) (domain.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[doc.ExpedienteID]; exists {
		return domain.Movement{}, fmt.Errorf("document %s already exists", doc.ExpedienteID)
	}
	m.docs[doc.ExpedienteID] = doc
	mv := m.stamp(first)
	mv.ExpedienteID = doc.ExpedienteID
	m.ledger[doc.ExpedienteID] = append(m.ledger[doc.ExpedienteID], mv)
	return mv, nil
}

// Transition mutates a document and appends a movement as one unit. An
// error from apply leaves both untouched.
func (m *MemoryStore) Transition(_ context.Context, expedienteID string, apply func(*domain.Document) error, mv domain.Movement) (domain.Document, domain.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[expedienteID]
	if !ok {
		return domain.Document{}, domain.Movement{}, ErrNotFound
	}
	if err := apply(&doc); err != nil {
		return domain.Document{}, domain.Movement{}, err
	}
	m.docs[expedienteID] = doc
	stamped := m.stamp(mv)
	stamped.ExpedienteID = expedienteID
	m.ledger[expedienteID] = append(m.ledger[expedienteID], stamped)
	return doc, stamped, nil
}

// GetDocument retrieves a document by its exact expediente id.
func (m *MemoryStore) GetDocument(_ context.Context, expedienteID string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[expedienteID]
	return doc, ok, nil
}

// FindByExpediente matches the expediente id case-insensitively.
func (m *MemoryStore) FindByExpediente(_ context.Context, query string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, doc := range m.docs {
		if strings.EqualFold(id, query) {
			return doc, true, nil
		}
	}
	return domain.Document{}, false, nil
}

// UpdateDocument rewrites the editable fields without touching the ledger.
func (m *MemoryStore) UpdateDocument(_ context.Context, doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.docs[doc.ExpedienteID]
	if !ok {
		return ErrNotFound
	}
	current.Type = doc.Type
	current.Sender = doc.Sender
	current.Subject = doc.Subject
	current.AttachmentKey = doc.AttachmentKey
	m.docs[doc.ExpedienteID] = current
	return nil
}

// DeleteDocument removes a document and its movements.
func (m *MemoryStore) DeleteDocument(_ context.Context, expedienteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[expedienteID]; !ok {
		return ErrNotFound
	}
	delete(m.docs, expedienteID)
	delete(m.ledger, expedienteID)
	return nil
}

// ListDocuments returns scoped, filtered documents newest ingestion first.
func (m *MemoryStore) ListDocuments(_ context.Context, scope Scope, filter DocumentFilter) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	res := make([]domain.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		if !scope.All && !(doc.Responsible.Valid && doc.Responsible.ID == scope.ResponsibleID) {
			continue
		}
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if query != "" && !matchesQuery(doc, query) {
			continue
		}
		res = append(res, doc)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].IngestedAt.Equal(res[j].IngestedAt) {
			return res[i].IngestedAt.After(res[j].IngestedAt)
		}
		return res[i].ExpedienteID > res[j].ExpedienteID
	})
	return res, nil
}

func matchesQuery(doc domain.Document, loweredQuery string) bool {
	return strings.Contains(strings.ToLower(doc.ExpedienteID), loweredQuery) ||
		strings.Contains(strings.ToLower(doc.Subject), loweredQuery) ||
		strings.Contains(strings.ToLower(doc.Sender), loweredQuery)
}

// ListMovements returns a document's ledger newest-first.
func (m *MemoryStore) ListMovements(_ context.Context, expedienteID string) ([]domain.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.ledger[expedienteID]
	res := make([]domain.Movement, len(entries))
	copy(res, entries)
	sort.Slice(res, func(i, j int) bool {
		if !res[i].RecordedAt.Equal(res[j].RecordedAt) {
			return res[i].RecordedAt.After(res[j].RecordedAt)
		}
		return res[i].Seq > res[j].Seq
	})
	return res, nil
}

// Stats aggregates the dashboard feed counts.
func (m *MemoryStore) Stats(_ context.Context, now time.Time) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	stats := Stats{ByStatus: make(map[domain.DocumentStatus]int)}
	for _, doc := range m.docs {
		stats.ByStatus[doc.Status]++
		stats.Total++
		if doc.Status.Finalized() {
			stats.Finalized++
			if !doc.IngestedAt.Before(monthStart) {
				stats.FinalizedThisMonth++
			}
		} else {
			stats.Pending++
		}
	}
	return stats, nil
}

func (m *MemoryStore) stamp(mv domain.Movement) domain.Movement {
	m.seq++
	mv.Seq = m.seq
	mv.RecordedAt = time.Now().UTC()
	return mv
}
