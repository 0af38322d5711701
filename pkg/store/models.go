package store

import (
	"time"

	"tramitex/pkg/domain"
)

// GORM models used for persistence.
type RoleModel struct {
	Name        string `gorm:"primaryKey"`
	Description string
}

func (RoleModel) TableName() string { return "roles" }

type ProfileModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	Unit         string
	CreatedAt    time.Time `gorm:"not null"`
}

func (ProfileModel) TableName() string { return "profiles" }

type DocumentModel struct {
	ExpedienteID  string    `gorm:"primaryKey"`
	Type          string    `gorm:"not null"`
	Sender        string    `gorm:"not null"`
	Subject       string    `gorm:"type:text;not null"`
	Status        string    `gorm:"not null;index"`
	IngestedAt    time.Time `gorm:"not null;index"`
	ResponsibleID *string   `gorm:"index"`
	AttachmentKey string
}

func (DocumentModel) TableName() string { return "documents" }

type MovementModel struct {
	Seq           uint64    `gorm:"primaryKey;autoIncrement"`
	ExpedienteID  string    `gorm:"not null;index"`
	RecordedAt    time.Time `gorm:"not null;index"`
	OriginID      *string
	DestinationID *string
	Observations  string        `gorm:"type:text"`
	Type          string        `gorm:"not null"`
	Document      DocumentModel `gorm:"foreignKey:ExpedienteID;references:ExpedienteID;constraint:OnDelete:CASCADE"`
}

func (MovementModel) TableName() string { return "movements" }

func roleToModel(r domain.Role) RoleModel {
	return RoleModel{Name: string(r.Name), Description: r.Description}
}

func roleFromModel(m RoleModel) domain.Role {
	name, _ := domain.ParseRoleName(m.Name)
	if name == "" {
		name = domain.RoleName(m.Name)
	}
	return domain.Role{Name: name, Description: m.Description}
}

func profileToModel(p domain.Profile, passwordHash string) ProfileModel {
	return ProfileModel{
		ID:           p.ID,
		Username:     p.Username,
		PasswordHash: passwordHash,
		Role:         string(p.Role),
		Unit:         p.Unit,
		CreatedAt:    p.CreatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	role, _ := domain.ParseRoleName(m.Role)
	if role == "" {
		role = domain.RoleUnidad
	}
	return domain.Profile{
		ID:        m.ID,
		Username:  m.Username,
		Role:      role,
		Unit:      m.Unit,
		CreatedAt: m.CreatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ExpedienteID:  d.ExpedienteID,
		Type:          string(d.Type),
		Sender:        d.Sender,
		Subject:       d.Subject,
		Status:        string(d.Status),
		IngestedAt:    d.IngestedAt,
		ResponsibleID: refToColumn(d.Responsible),
		AttachmentKey: d.AttachmentKey,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ExpedienteID:  m.ExpedienteID,
		Type:          domain.DocumentType(m.Type),
		Sender:        m.Sender,
		Subject:       m.Subject,
		Status:        domain.DocumentStatus(m.Status),
		IngestedAt:    m.IngestedAt,
		Responsible:   refFromColumn(m.ResponsibleID),
		AttachmentKey: m.AttachmentKey,
	}
}

func movementToModel(mv domain.Movement) MovementModel {
	return MovementModel{
		Seq:           mv.Seq,
		ExpedienteID:  mv.ExpedienteID,
		RecordedAt:    mv.RecordedAt,
		OriginID:      refToColumn(mv.Origin),
		DestinationID: refToColumn(mv.Destination),
		Observations:  mv.Observations,
		Type:          string(mv.Type),
	}
}

func movementFromModel(m MovementModel) domain.Movement {
	return domain.Movement{
		Seq:          m.Seq,
		ExpedienteID: m.ExpedienteID,
		RecordedAt:   m.RecordedAt,
		Origin:       refFromColumn(m.OriginID),
		Destination:  refFromColumn(m.DestinationID),
		Observations: m.Observations,
		Type:         domain.MovementType(m.Type),
	}
}

func refToColumn(ref domain.ProfileRef) *string {
	if !ref.Valid {
		return nil
	}
	id := ref.ID
	return &id
}

func refFromColumn(id *string) domain.ProfileRef {
	if id == nil {
		return domain.NoProfile()
	}
	return domain.ProfileRef{ID: *id, Valid: true}
}
