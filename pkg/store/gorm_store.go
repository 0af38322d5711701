package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"tramitex/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&RoleModel{}, &ProfileModel{}, &DocumentModel{}, &MovementModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveRole creates or updates a role record.
func (s *GormStore) SaveRole(ctx context.Context, role domain.Role) error {
	model := roleToModel(role)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description"}),
	}).Create(&model).Error
}

// ListRoles returns all roles ordered by name.
func (s *GormStore) ListRoles(ctx context.Context) ([]domain.Role, error) {
	var models []RoleModel
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Role, 0, len(models))
	for _, m := range models {
		res = append(res, roleFromModel(m))
	}
	return res, nil
}

// SaveProfile registers or updates a user profile.
func (s *GormStore) SaveProfile(ctx context.Context, profile domain.Profile, passwordHash string) error {
	model := profileToModel(profile, passwordHash)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "password_hash", "role", "unit"}),
	}).Create(&model).Error
}

// GetProfileByID returns a profile by ID.
func (s *GormStore) GetProfileByID(ctx context.Context, id string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// GetProfileByUsername looks up a profile by username.
func (s *GormStore) GetProfileByUsername(ctx context.Context, username string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// DeleteProfile removes a profile; documents keep a dangling responsible
// cleared by the caller when the identity is deprovisioned.
func (s *GormStore) DeleteProfile(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&ProfileModel{}, "id = ?", id).Error
}

// CreateDocument inserts the document and its creation movement in one
// transaction. The returned movement carries the assigned Seq and
// RecordedAt.
func (s *GormStore) CreateDocument(ctx context.Context, doc domain.Document, first domain.Movement) (domain.Movement, error) {
	mvModel := movementToModel(first)
	mvModel.Seq = 0
	mvModel.RecordedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docModel := documentToModel(doc)
		if err := tx.Create(&docModel).Error; err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if err := tx.Omit("Document").Create(&mvModel).Error; err != nil {
			return fmt.Errorf("append movement: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Movement{}, err
	}
	return movementFromModel(mvModel), nil
}

// Transition applies a workflow transition atomically: it locks the
// document row, runs apply, persists the mutated document and appends the
// movement. An error from apply aborts with no writes.
func (s *GormStore) Transition(ctx context.Context, expedienteID string, apply func(*domain.Document) error, mv domain.Movement) (domain.Document, domain.Movement, error) {
	var (
		doc     domain.Document
		mvModel = movementToModel(mv)
	)
	mvModel.Seq = 0
	mvModel.RecordedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model DocumentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "expediente_id = ?", expedienteID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		doc = documentFromModel(model)
		if err := apply(&doc); err != nil {
			return err
		}
		updated := documentToModel(doc)
		if err := tx.Model(&DocumentModel{}).
			Where("expediente_id = ?", expedienteID).
			Updates(map[string]any{
				"type":           updated.Type,
				"sender":         updated.Sender,
				"subject":        updated.Subject,
				"status":         updated.Status,
				"responsible_id": updated.ResponsibleID,
				"attachment_key": updated.AttachmentKey,
			}).Error; err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		mvModel.ExpedienteID = expedienteID
		if err := tx.Omit("Document").Create(&mvModel).Error; err != nil {
			return fmt.Errorf("append movement: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Document{}, domain.Movement{}, err
	}
	return doc, movementFromModel(mvModel), nil
}

// GetDocument retrieves a document by its exact expediente id.
func (s *GormStore) GetDocument(ctx context.Context, expedienteID string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "expediente_id = ?", expedienteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// FindByExpediente matches the expediente id case-insensitively.
func (s *GormStore) FindByExpediente(ctx context.Context, query string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).
		Where("LOWER(expediente_id) = LOWER(?)", query).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// UpdateDocument rewrites the editable fields without touching the ledger.
// Status, responsible and ingestion timestamp stay workflow-owned.
func (s *GormStore) UpdateDocument(ctx context.Context, doc domain.Document) error {
	model := documentToModel(doc)
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("expediente_id = ?", doc.ExpedienteID).
		Updates(map[string]any{
			"type":           model.Type,
			"sender":         model.Sender,
			"subject":        model.Subject,
			"attachment_key": model.AttachmentKey,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument hard-deletes a document; movements go with it via the FK
// cascade.
func (s *GormStore) DeleteDocument(ctx context.Context, expedienteID string) error {
	res := s.db.WithContext(ctx).Delete(&DocumentModel{}, "expediente_id = ?", expedienteID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDocuments returns documents in the given scope, newest ingestion
// first, with all present filters ANDed.
func (s *GormStore) ListDocuments(ctx context.Context, scope Scope, filter DocumentFilter) ([]domain.Document, error) {
	tx := s.db.WithContext(ctx).Model(&DocumentModel{}).Order("ingested_at DESC, expediente_id DESC")
	if !scope.All {
		tx = tx.Where("responsible_id = ?", scope.ResponsibleID)
	}
	if filter.Type != "" {
		tx = tx.Where("type = ?", string(filter.Type))
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + q + "%"
		tx = tx.Where("expediente_id ILIKE ? OR subject ILIKE ? OR sender ILIKE ?", pattern, pattern, pattern)
	}
	var models []DocumentModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// ListMovements returns the ledger for a document newest-first. Seq breaks
// timestamp ties so repeated reads see the same order.
func (s *GormStore) ListMovements(ctx context.Context, expedienteID string) ([]domain.Movement, error) {
	var models []MovementModel
	if err := s.db.WithContext(ctx).
		Where("expediente_id = ?", expedienteID).
		Order("recorded_at DESC, seq DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Movement, 0, len(models))
	for _, m := range models {
		res = append(res, movementFromModel(m))
	}
	return res, nil
}

// Stats aggregates the dashboard feed counts.
func (s *GormStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	type statusCount struct {
		Status string
		Count  int
	}
	var rows []statusCount
	if err := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return Stats{}, err
	}
	stats := Stats{ByStatus: make(map[domain.DocumentStatus]int, len(rows))}
	for _, row := range rows {
		status := domain.DocumentStatus(row.Status)
		stats.ByStatus[status] = row.Count
		stats.Total += row.Count
		if status.Finalized() {
			stats.Finalized += row.Count
		} else {
			stats.Pending += row.Count
		}
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	var finalizedThisMonth int64
	if err := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("status IN ? AND ingested_at >= ?", []string{string(domain.StatusAtendido), string(domain.StatusArchivado)}, monthStart).
		Count(&finalizedThisMonth).Error; err != nil {
		return Stats{}, err
	}
	stats.FinalizedThisMonth = int(finalizedThisMonth)
	return stats, nil
}
