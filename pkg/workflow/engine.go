package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tramitex/pkg/auth"
	"tramitex/pkg/domain"
	"tramitex/pkg/notify"
	"tramitex/pkg/storage"
	"tramitex/pkg/store"
)

// CreationObservation is recorded on every creation movement.
const CreationObservation = "Expediente creado en el sistema."

// Engine is the workflow core: it validates and applies document
// transitions, appending one ledger movement per transition atomically
// with the document mutation. Every call takes the acting profile
// explicitly; there is no ambient actor.
type Engine struct {
	store         store.Store
	objects       storage.ObjectStore
	notifier      notify.Notifier
	presignExpiry time.Duration
}

// Config wires the engine's collaborators. Objects and Notifier are
// optional: without them attachments are rejected and routing skips
// notification.
type Config struct {
	Store    store.Store
	Objects  storage.ObjectStore
	Notifier notify.Notifier
}

// New constructs the engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	return &Engine{
		store:         cfg.Store,
		objects:       cfg.Objects,
		notifier:      cfg.Notifier,
		presignExpiry: 15 * time.Minute,
	}, nil
}

// Attachment is an optional uploaded file accompanying Create, Update or
// Resolve.
type Attachment struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// CreateInput carries the fields of a new expediente.
type CreateInput struct {
	ExpedienteID  string
	Type          domain.DocumentType
	Sender        string
	Subject       string
	ResponsibleID string
	Attachment    *Attachment
}

// UpdateInput carries the administratively editable fields.
type UpdateInput struct {
	Type       domain.DocumentType
	Sender     string
	Subject    string
	Attachment *Attachment
}

// ProvisionInput creates a user profile bound to a role and unit.
type ProvisionInput struct {
	Username string
	Password string
	Role     domain.RoleName
	Unit     string
}

// DefineRole stores or replaces a role reference record. The role set
// itself is closed; this only maintains the descriptions.
func (e *Engine) DefineRole(ctx context.Context, role domain.Role) error {
	if _, ok := domain.ParseRoleName(string(role.Name)); !ok {
		return fmt.Errorf("unknown role %q", role.Name)
	}
	if err := e.store.SaveRole(ctx, role); err != nil {
		return fmt.Errorf("save role: %w", err)
	}
	return nil
}

// Roles lists the role reference records.
func (e *Engine) Roles(ctx context.Context) ([]domain.Role, error) {
	roles, err := e.store.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// ProfileFor resolves an actor identity to its profile. A missing profile
// is a precondition violation, fatal to the request.
func (e *Engine) ProfileFor(ctx context.Context, username string) (domain.Profile, error) {
	profile, ok, err := e.store.GetProfileByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return domain.Profile{}, fmt.Errorf("resolve profile: %w", err)
	}
	if !ok {
		return domain.Profile{}, ErrProfileMissing
	}
	return profile, nil
}

// Provision registers a user profile. Authentication itself lives outside
// this core; only the bcrypt hash is stored for the identity provider.
func (e *Engine) Provision(ctx context.Context, in ProvisionInput) (domain.Profile, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return domain.Profile{}, errors.New("username required")
	}
	if _, ok := domain.ParseRoleName(string(in.Role)); !ok {
		return domain.Profile{}, fmt.Errorf("unknown role %q", in.Role)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("hash password: %w", err)
	}
	profile := domain.Profile{
		ID:        uuid.NewString(),
		Username:  username,
		Role:      in.Role,
		Unit:      strings.TrimSpace(in.Unit),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.SaveProfile(ctx, profile, hash); err != nil {
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	return profile, nil
}

// Create registers a new expediente in state "recibido" and appends the
// creation movement from the actor to the initial responsible.
func (e *Engine) Create(ctx context.Context, actor domain.Profile, in CreateInput) (domain.Document, error) {
	expedienteID := strings.TrimSpace(in.ExpedienteID)
	if expedienteID == "" {
		return domain.Document{}, ErrExpedienteIDRequired
	}
	if _, ok := domain.ParseDocumentType(string(in.Type)); !ok {
		return domain.Document{}, ErrInvalidDocumentType
	}
	if strings.TrimSpace(in.Sender) == "" {
		return domain.Document{}, ErrSenderRequired
	}
	if strings.TrimSpace(in.Subject) == "" {
		return domain.Document{}, ErrSubjectRequired
	}
	if strings.TrimSpace(in.ResponsibleID) == "" {
		return domain.Document{}, ErrResponsibleRequired
	}
	responsible, err := e.profileByID(ctx, in.ResponsibleID)
	if err != nil {
		return domain.Document{}, err
	}
	if _, exists, err := e.store.GetDocument(ctx, expedienteID); err != nil {
		return domain.Document{}, fmt.Errorf("check expediente: %w", err)
	} else if exists {
		return domain.Document{}, ErrDuplicateExpediente
	}

	attachmentKey, err := e.storeAttachment(ctx, expedienteID, in.Attachment)
	if err != nil {
		return domain.Document{}, err
	}
	doc := domain.Document{
		ExpedienteID:  expedienteID,
		Type:          in.Type,
		Sender:        strings.TrimSpace(in.Sender),
		Subject:       strings.TrimSpace(in.Subject),
		Status:        domain.StatusRecibido,
		IngestedAt:    time.Now().UTC(),
		Responsible:   domain.RefTo(responsible),
		AttachmentKey: attachmentKey,
	}
	first := domain.Movement{
		ExpedienteID: expedienteID,
		Origin:       domain.RefTo(actor),
		Destination:  domain.RefTo(responsible),
		Observations: CreationObservation,
		Type:         domain.MovementCreacion,
	}
	if _, err := e.store.CreateDocument(ctx, doc, first); err != nil {
		if attachmentKey != "" && e.objects != nil {
			_ = e.objects.Delete(ctx, attachmentKey)
		}
		return domain.Document{}, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// Route ("derivar") reassigns the document to a new responsible and marks
// it "derivado". Any actor with a profile may route any document; only
// Resolve checks ownership. After the transition is committed, the new
// responsible is notified once, best-effort.
func (e *Engine) Route(ctx context.Context, actor domain.Profile, expedienteID, newResponsibleID, observations string) (domain.Document, error) {
	if strings.TrimSpace(newResponsibleID) == "" {
		return domain.Document{}, ErrResponsibleRequired
	}
	responsible, err := e.profileByID(ctx, newResponsibleID)
	if err != nil {
		return domain.Document{}, err
	}
	mv := domain.Movement{
		Origin:       domain.RefTo(actor),
		Destination:  domain.RefTo(responsible),
		Observations: observations,
		Type:         domain.MovementDerivacion,
	}
	doc, _, err := e.store.Transition(ctx, expedienteID, func(d *domain.Document) error {
		d.Status = domain.StatusDerivado
		d.Responsible = domain.RefTo(responsible)
		return nil
	}, mv)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Document{}, ErrDocumentNotFound
		}
		return domain.Document{}, fmt.Errorf("route document: %w", err)
	}

	if e.notifier != nil {
		notification := notify.Notification{
			ID:           uuid.NewString(),
			Recipient:    responsible,
			Document:     doc,
			Actor:        actor,
			Observations: observations,
			SentAt:       time.Now().UTC(),
		}
		if err := e.notifier.Notify(ctx, notification); err != nil {
			slog.Error("routing notification failed",
				"expediente_id", expedienteID,
				"recipient", responsible.Username,
				"err", err)
		}
	}
	return doc, nil
}

// Resolve ("atender") closes the document's active handling. Only the
// current responsible may resolve; a denial leaves document and ledger
// untouched. The document leaves all active trays: responsible becomes
// absent and the final movement has no destination.
func (e *Engine) Resolve(ctx context.Context, actor domain.Profile, expedienteID, proveido string, attachment *Attachment) (domain.Document, error) {
	proveido = strings.TrimSpace(proveido)
	if proveido == "" {
		return domain.Document{}, ErrProveidoRequired
	}
	attachmentKey, err := e.storeAttachment(ctx, expedienteID, attachment)
	if err != nil {
		return domain.Document{}, err
	}
	mv := domain.Movement{
		Origin:       domain.RefTo(actor),
		Destination:  domain.NoProfile(),
		Observations: proveido,
		Type:         domain.MovementAtencion,
	}
	doc, _, err := e.store.Transition(ctx, expedienteID, func(d *domain.Document) error {
		if !d.Responsible.Is(actor) {
			return ErrNotResponsible
		}
		d.Status = domain.StatusAtendido
		d.Responsible = domain.NoProfile()
		if attachmentKey != "" {
			d.AttachmentKey = attachmentKey
		}
		return nil
	}, mv)
	if err != nil {
		if attachmentKey != "" && e.objects != nil {
			_ = e.objects.Delete(ctx, attachmentKey)
		}
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.Document{}, ErrDocumentNotFound
		case errors.Is(err, ErrNotResponsible):
			return domain.Document{}, ErrNotResponsible
		}
		return domain.Document{}, fmt.Errorf("resolve document: %w", err)
	}
	return doc, nil
}

// Update edits descriptive fields administratively. It is not a workflow
// transition: no movement is appended and status/responsible are untouched.
func (e *Engine) Update(ctx context.Context, actor domain.Profile, expedienteID string, in UpdateInput) (domain.Document, error) {
	doc, ok, err := e.store.GetDocument(ctx, expedienteID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	if _, valid := domain.ParseDocumentType(string(in.Type)); !valid {
		return domain.Document{}, ErrInvalidDocumentType
	}
	if strings.TrimSpace(in.Sender) == "" {
		return domain.Document{}, ErrSenderRequired
	}
	if strings.TrimSpace(in.Subject) == "" {
		return domain.Document{}, ErrSubjectRequired
	}
	doc.Type = in.Type
	doc.Sender = strings.TrimSpace(in.Sender)
	doc.Subject = strings.TrimSpace(in.Subject)
	if in.Attachment != nil {
		key, err := e.storeAttachment(ctx, expedienteID, in.Attachment)
		if err != nil {
			return domain.Document{}, err
		}
		doc.AttachmentKey = key
	}
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Document{}, ErrDocumentNotFound
		}
		return domain.Document{}, fmt.Errorf("update document: %w", err)
	}
	return doc, nil
}

// Delete hard-deletes a document and its whole ledger. Administrative
// operation, not a workflow transition; the caller is responsible for
// confirming first.
func (e *Engine) Delete(ctx context.Context, actor domain.Profile, expedienteID string) error {
	doc, ok, err := e.store.GetDocument(ctx, expedienteID)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return ErrDocumentNotFound
	}
	if err := e.store.DeleteDocument(ctx, expedienteID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("delete document: %w", err)
	}
	if doc.AttachmentKey != "" && e.objects != nil {
		if err := e.objects.Delete(ctx, doc.AttachmentKey); err != nil {
			slog.Warn("orphaned attachment after delete", "key", doc.AttachmentKey, "err", err)
		}
	}
	return nil
}

// List returns the documents visible to the actor, filtered. Elevated
// profiles see everything; everyone else sees their active tray.
func (e *Engine) List(ctx context.Context, actor domain.Profile, filter store.DocumentFilter) ([]domain.Document, error) {
	scope := store.Scope{All: actor.HasElevatedAccess(), ResponsibleID: actor.ID}
	docs, err := e.store.ListDocuments(ctx, scope, filter)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Get returns a document plus its full history newest-first.
func (e *Engine) Get(ctx context.Context, actor domain.Profile, expedienteID string) (domain.Document, []domain.Movement, error) {
	doc, ok, err := e.store.GetDocument(ctx, expedienteID)
	if err != nil {
		return domain.Document{}, nil, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return domain.Document{}, nil, ErrDocumentNotFound
	}
	history, err := e.store.ListMovements(ctx, expedienteID)
	if err != nil {
		return domain.Document{}, nil, fmt.Errorf("list movements: %w", err)
	}
	return doc, history, nil
}

// Lookup is the unauthenticated consulta: a case-insensitive exact match
// on the expediente id. A blank query is a validation error distinct from
// the not-found miss; both are user-facing, not system failures.
func (e *Engine) Lookup(ctx context.Context, rawQuery string) (domain.Document, error) {
	query := strings.TrimSpace(rawQuery)
	if query == "" {
		return domain.Document{}, ErrEmptyQuery
	}
	doc, ok, err := e.store.FindByExpediente(ctx, query)
	if err != nil {
		return domain.Document{}, fmt.Errorf("lookup expediente: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrExpedienteNotFound
	}
	return doc, nil
}

// AttachmentURL returns a pre-signed download URL for a document's
// attachment.
func (e *Engine) AttachmentURL(ctx context.Context, expedienteID string) (string, error) {
	if e.objects == nil {
		return "", errors.New("attachment storage not configured")
	}
	doc, ok, err := e.store.GetDocument(ctx, expedienteID)
	if err != nil {
		return "", fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return "", ErrDocumentNotFound
	}
	if doc.AttachmentKey == "" {
		return "", ErrDocumentNotFound
	}
	return e.objects.PresignGet(ctx, doc.AttachmentKey, e.presignExpiry)
}

func (e *Engine) profileByID(ctx context.Context, id string) (domain.Profile, error) {
	profile, ok, err := e.store.GetProfileByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if !ok {
		return domain.Profile{}, ErrUnknownResponsible
	}
	return profile, nil
}

func (e *Engine) storeAttachment(ctx context.Context, expedienteID string, attachment *Attachment) (string, error) {
	if attachment == nil {
		return "", nil
	}
	if e.objects == nil {
		return "", errors.New("attachment storage not configured")
	}
	key := storage.AttachmentKey(expedienteID, attachment.Filename)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(attachment.Filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := e.objects.Put(ctx, key, attachment.Reader, attachment.Size, contentType); err != nil {
		return "", fmt.Errorf("save attachment: %w", err)
	}
	return key, nil
}
