package domain

import "time"

// RoleName identifies an organizational role. The set is closed: permission
// checks go through the capability table instead of comparing role strings
// at call sites.
type RoleName string

const (
	RoleMesaDePartes     RoleName = "mesa_de_partes"
	RoleDireccionGeneral RoleName = "direccion_general"
	RoleUnidad           RoleName = "unidad"
)

// Capability is a named permission derived from a role.
type Capability string

const (
	// CapViewAll widens document visibility from "assigned to me" to every
	// document in the system.
	CapViewAll Capability = "view_all"
	// CapReporting grants access to the export snapshot and dashboard feed.
	CapReporting Capability = "reporting"
)

var roleCapabilities = map[RoleName]map[Capability]bool{
	RoleMesaDePartes:     {CapViewAll: true, CapReporting: true},
	RoleDireccionGeneral: {CapViewAll: true, CapReporting: true},
	RoleUnidad:           {},
}

var roleLabels = map[RoleName]string{
	RoleMesaDePartes:     "Mesa de Partes",
	RoleDireccionGeneral: "Dirección General",
	RoleUnidad:           "Unidad",
}

// Label returns the display name for the role.
func (r RoleName) Label() string {
	if label, ok := roleLabels[r]; ok {
		return label
	}
	return string(r)
}

// Has reports whether the role grants the capability.
func (r RoleName) Has(c Capability) bool {
	return roleCapabilities[r][c]
}

// ParseRoleName maps a stored role value to a known role.
func ParseRoleName(value string) (RoleName, bool) {
	switch RoleName(value) {
	case RoleMesaDePartes, RoleDireccionGeneral, RoleUnidad:
		return RoleName(value), true
	}
	return "", false
}

// Role is static reference data maintained by administrators.
type Role struct {
	Name        RoleName `json:"name"`
	Description string   `json:"description,omitempty"`
}

// Profile binds an authentication identity to exactly one role and an
// organizational unit. Every actor performing workflow actions has one.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      RoleName  `json:"role"`
	Unit      string    `json:"unit"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasElevatedAccess reports whether the profile may see every document
// rather than only its assigned ones. This is the single predicate all
// visibility and reporting checks go through.
func (p Profile) HasElevatedAccess() bool {
	return p.Role.Has(CapViewAll)
}

// ProfileRef is an optional reference to a Profile. An invalid ref carries
// meaning per field: system-initiated origin, terminal destination, or an
// unassigned responsible.
type ProfileRef struct {
	ID    string `json:"id,omitempty"`
	Valid bool   `json:"valid"`
}

// RefTo builds a valid reference to the given profile.
func RefTo(p Profile) ProfileRef {
	return ProfileRef{ID: p.ID, Valid: true}
}

// NoProfile is the absent reference.
func NoProfile() ProfileRef {
	return ProfileRef{}
}

// Is reports whether the reference points at the given profile.
func (r ProfileRef) Is(p Profile) bool {
	return r.Valid && r.ID == p.ID
}

// DocumentType classifies an expediente.
type DocumentType string

const (
	TypeSolicitud  DocumentType = "solicitud"
	TypeOficio     DocumentType = "oficio"
	TypeInforme    DocumentType = "informe"
	TypeConstancia DocumentType = "constancia"
)

var documentTypeLabels = map[DocumentType]string{
	TypeSolicitud:  "Solicitud",
	TypeOficio:     "Oficio",
	TypeInforme:    "Informe",
	TypeConstancia: "Constancia",
}

// Label returns the display name for the document type.
func (t DocumentType) Label() string {
	if label, ok := documentTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

// ParseDocumentType validates a raw type value.
func ParseDocumentType(value string) (DocumentType, bool) {
	switch DocumentType(value) {
	case TypeSolicitud, TypeOficio, TypeInforme, TypeConstancia:
		return DocumentType(value), true
	}
	return "", false
}

// DocumentStatus is the lifecycle state of an expediente. EnRevision,
// EnProceso and Archivado are valid states with no producing transition in
// this core; a future transition may populate them.
type DocumentStatus string

const (
	StatusRecibido   DocumentStatus = "recibido"
	StatusEnRevision DocumentStatus = "en_revision"
	StatusDerivado   DocumentStatus = "derivado"
	StatusEnProceso  DocumentStatus = "en_proceso"
	StatusAtendido   DocumentStatus = "atendido"
	StatusArchivado  DocumentStatus = "archivado"
)

var documentStatusLabels = map[DocumentStatus]string{
	StatusRecibido:   "Recibido",
	StatusEnRevision: "En revisión",
	StatusDerivado:   "Derivado",
	StatusEnProceso:  "En proceso",
	StatusAtendido:   "Atendido",
	StatusArchivado:  "Archivado",
}

// Label returns the display name for the status.
func (s DocumentStatus) Label() string {
	if label, ok := documentStatusLabels[s]; ok {
		return label
	}
	return string(s)
}

// Finalized reports whether the status counts as closed for dashboard
// totals. Everything else is pending.
func (s DocumentStatus) Finalized() bool {
	return s == StatusAtendido || s == StatusArchivado
}

// ParseDocumentStatus validates a raw status value.
func ParseDocumentStatus(value string) (DocumentStatus, bool) {
	switch DocumentStatus(value) {
	case StatusRecibido, StatusEnRevision, StatusDerivado, StatusEnProceso, StatusAtendido, StatusArchivado:
		return DocumentStatus(value), true
	}
	return "", false
}

// MovementType classifies one step in a document's routing history.
type MovementType string

const (
	MovementCreacion   MovementType = "creacion"
	MovementDerivacion MovementType = "derivacion"
	MovementAtencion   MovementType = "atencion"
	MovementArchivo    MovementType = "archivo"
)

// Document is the mutable record of an expediente's current state. It is
// mutated only through workflow transitions.
type Document struct {
	ExpedienteID  string         `json:"expedienteId"`
	Type          DocumentType   `json:"type"`
	Sender        string         `json:"sender"`
	Subject       string         `json:"subject"`
	Status        DocumentStatus `json:"status"`
	IngestedAt    time.Time      `json:"ingestedAt"`
	Responsible   ProfileRef     `json:"responsible"`
	AttachmentKey string         `json:"attachmentKey,omitempty"`
}

// Movement is one immutable entry of a document's ledger. Seq is a
// monotonic secondary key that keeps newest-first ordering stable when
// timestamps collide.
type Movement struct {
	Seq          uint64       `json:"seq"`
	ExpedienteID string       `json:"expedienteId"`
	RecordedAt   time.Time    `json:"recordedAt"`
	Origin       ProfileRef   `json:"origin"`
	Destination  ProfileRef   `json:"destination"`
	Observations string       `json:"observations,omitempty"`
	Type         MovementType `json:"type"`
}
