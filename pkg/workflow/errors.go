package workflow

import "errors"

var (
	// ErrProfileMissing signals an actor identity without a user profile.
	// This is a data-integrity problem, not a normal error path: every
	// provisioned identity carries exactly one profile.
	ErrProfileMissing = errors.New("actor has no user profile")

	// ErrNotResponsible is the authorization denial for Resolve: only the
	// document's current responsible may close it.
	ErrNotResponsible = errors.New("solo el responsable actual puede atender este expediente")

	// ErrEmptyQuery is the validation error for a blank public lookup.
	ErrEmptyQuery = errors.New("por favor, ingrese un número de expediente")

	// ErrExpedienteNotFound is the user-facing miss for the public lookup,
	// distinguishable from the blank-input validation error.
	ErrExpedienteNotFound = errors.New("no se encontró ningún expediente con ese ID; verifique el número e inténtelo de nuevo")

	// ErrDocumentNotFound covers authenticated operations on unknown ids.
	ErrDocumentNotFound = errors.New("documento no encontrado")

	// ErrDuplicateExpediente rejects reuse of the unique business key.
	ErrDuplicateExpediente = errors.New("el número de expediente ya está registrado")

	// ErrForbidden denies reporting access to non-elevated profiles.
	ErrForbidden = errors.New("acceso restringido")

	ErrExpedienteIDRequired = errors.New("el número de expediente es obligatorio")
	ErrSubjectRequired      = errors.New("el asunto es obligatorio")
	ErrSenderRequired       = errors.New("el remitente es obligatorio")
	ErrInvalidDocumentType  = errors.New("tipo de documento inválido")
	ErrResponsibleRequired  = errors.New("debe seleccionar un responsable")
	ErrUnknownResponsible   = errors.New("el responsable indicado no existe")
	ErrProveidoRequired     = errors.New("el proveído o respuesta final es obligatorio")
)
