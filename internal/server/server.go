package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"tramitex/internal/ratelimit"
	"tramitex/internal/util"
	"tramitex/pkg/domain"
	"tramitex/pkg/report"
	"tramitex/pkg/store"
	"tramitex/pkg/workflow"
)

const actorHeader = "X-Actor"

// Config wires required dependencies for the HTTP server. ConsultaLimiter
// is optional and throttles the public lookup per client IP.
type Config struct {
	Engine          *workflow.Engine
	Reports         *report.Service
	MaxUploadBytes  int64
	ConsultaLimiter *ratelimit.FixedWindowLimiter
	TrustedProxies  *util.TrustedProxies
}

// Server exposes the workflow engine over JSON endpoints. Authentication
// lives outside this core: the X-Actor header names the already
// authenticated identity and is resolved to a profile per request.
type Server struct {
	engine          *workflow.Engine
	reports         *report.Service
	mux             *http.ServeMux
	maxUploadBytes  int64
	consultaLimiter *ratelimit.FixedWindowLimiter
	trustedProxies  *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 25 * 1024 * 1024
	}
	s := &Server{
		engine:          cfg.Engine,
		reports:         cfg.Reports,
		mux:             http.NewServeMux(),
		maxUploadBytes:  maxUploadBytes,
		consultaLimiter: cfg.ConsultaLimiter,
		trustedProxies:  cfg.TrustedProxies,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithCORS(util.WithSecurityHeaders(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// public lookup, no actor required
	s.mux.HandleFunc("/consulta", s.handleConsulta)

	s.mux.Handle("/perfiles", s.withActor(s.handleProfiles))
	s.mux.Handle("/roles", s.withActor(s.handleRoles))
	s.mux.Handle("/documentos", s.withActor(s.handleDocuments))
	s.mux.Handle("/documentos/", s.withActor(s.handleDocumentByID))
	s.mux.Handle("/reportes/documentos", s.withActor(s.handleReportSnapshot))
	s.mux.Handle("/reportes/dashboard", s.withActor(s.handleReportDashboard))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type actorHandler func(http.ResponseWriter, *http.Request, domain.Profile)

func (s *Server) withActor(next actorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(actorHeader))
		if username == "" {
			writeError(w, http.StatusUnauthorized, "actor requerido")
			return
		}
		actor, err := s.engine.ProfileFor(r.Context(), username)
		if err != nil {
			// A known identity without a profile is a provisioning defect,
			// not a client mistake.
			if errors.Is(err, workflow.ErrProfileMissing) {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		next(w, r, actor)
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req provisionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	role, ok := domain.ParseRoleName(req.Role)
	if !ok {
		writeError(w, http.StatusBadRequest, "rol inválido")
		return
	}
	profile, err := s.engine.Provision(r.Context(), workflow.ProvisionInput{
		Username: req.Username,
		Password: req.Password,
		Role:     role,
		Unit:     req.Unit,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	switch r.Method {
	case http.MethodGet:
		roles, err := s.engine.Roles(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": roles,
			"count": len(roles),
		})
	case http.MethodPost:
		var role domain.Role
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&role); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.engine.DefineRole(r.Context(), role); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, actor domain.Profile) {
	switch r.Method {
	case http.MethodGet:
		s.handleListDocuments(w, r, actor)
	case http.MethodPost:
		s.handleCreateDocument(w, r, actor)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, actor domain.Profile) {
	filter := store.DocumentFilter{Query: r.URL.Query().Get("q")}
	if raw := r.URL.Query().Get("tipo"); raw != "" {
		tipo, ok := domain.ParseDocumentType(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "tipo de documento inválido")
			return
		}
		filter.Type = tipo
	}
	if raw := r.URL.Query().Get("estado"); raw != "" {
		estado, ok := domain.ParseDocumentStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "estado inválido")
			return
		}
		filter.Status = estado
	}
	docs, err := s.engine.List(r.Context(), actor, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request, actor domain.Profile) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	in := workflow.CreateInput{
		ExpedienteID:  r.FormValue("expediente_id"),
		Type:          domain.DocumentType(r.FormValue("tipo")),
		Sender:        r.FormValue("remitente"),
		Subject:       r.FormValue("asunto"),
		ResponsibleID: r.FormValue("responsable"),
	}
	if file, header, err := r.FormFile("archivo_adjunto"); err == nil {
		defer file.Close()
		in.Attachment = &workflow.Attachment{
			Filename: header.Filename,
			Size:     header.Size,
			Reader:   file,
		}
	}
	doc, err := s.engine.Create(r.Context(), actor, in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// /documentos/{id} plus the /derivar, /atender and /adjunto actions.
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, actor domain.Profile) {
	path := strings.TrimPrefix(r.URL.Path, "/documentos/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "derivar":
			s.handleRoute(w, r, actor, id)
		case "atender":
			s.handleResolve(w, r, actor, id)
		case "adjunto":
			s.handleAttachment(w, r, id)
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleDocumentDetail(w, r, actor, id)
	case http.MethodPut:
		s.handleUpdateDocument(w, r, actor, id)
	case http.MethodDelete:
		if err := s.engine.Delete(r.Context(), actor, id); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDocumentDetail(w http.ResponseWriter, r *http.Request, actor domain.Profile, id string) {
	doc, history, err := s.engine.Get(r.Context(), actor, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document": doc,
		"history":  history,
	})
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request, actor domain.Profile, id string) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	in := workflow.UpdateInput{
		Type:    domain.DocumentType(r.FormValue("tipo")),
		Sender:  r.FormValue("remitente"),
		Subject: r.FormValue("asunto"),
	}
	if file, header, err := r.FormFile("archivo_adjunto"); err == nil {
		defer file.Close()
		in.Attachment = &workflow.Attachment{
			Filename: header.Filename,
			Size:     header.Size,
			Reader:   file,
		}
	}
	doc, err := s.engine.Update(r.Context(), actor, id, in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request, actor domain.Profile, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req routeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	doc, err := s.engine.Route(r.Context(), actor, id, req.Responsible, req.Observations)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, actor domain.Profile, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	var attachment *workflow.Attachment
	if file, header, err := r.FormFile("archivo_respuesta"); err == nil {
		defer file.Close()
		attachment = &workflow.Attachment{
			Filename: header.Filename,
			Size:     header.Size,
			Reader:   file,
		}
	}
	doc, err := s.engine.Resolve(r.Context(), actor, id, r.FormValue("proveido"), attachment)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.engine.AttachmentURL(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleConsulta is the public lookup: case-insensitive exact expediente
// match, no session required.
func (s *Server) handleConsulta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.consultaLimiter != nil && !s.consultaLimiter.Allow(util.ClientIP(r, s.trustedProxies)) {
		writeError(w, http.StatusTooManyRequests, "demasiadas consultas, intente más tarde")
		return
	}
	doc, err := s.engine.Lookup(r.Context(), r.URL.Query().Get("expediente_id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReportSnapshot(w http.ResponseWriter, r *http.Request, actor domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.reports == nil {
		writeError(w, http.StatusInternalServerError, "reporting not configured")
		return
	}
	rows, err := s.reports.Snapshot(r.Context(), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": rows,
		"count": len(rows),
	})
}

func (s *Server) handleReportDashboard(w http.ResponseWriter, r *http.Request, actor domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.reports == nil {
		writeError(w, http.StatusInternalServerError, "reporting not configured")
		return
	}
	stats, err := s.reports.Dashboard(r.Context(), actor, time.Now().UTC())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type provisionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Unit     string `json:"unit"`
}

type routeRequest struct {
	Responsible  string `json:"responsable"`
	Observations string `json:"observaciones"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrDocumentNotFound),
		errors.Is(err, workflow.ErrExpedienteNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrNotResponsible),
		errors.Is(err, workflow.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, workflow.ErrDuplicateExpediente):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrEmptyQuery),
		errors.Is(err, workflow.ErrExpedienteIDRequired),
		errors.Is(err, workflow.ErrSubjectRequired),
		errors.Is(err, workflow.ErrSenderRequired),
		errors.Is(err, workflow.ErrInvalidDocumentType),
		errors.Is(err, workflow.ErrResponsibleRequired),
		errors.Is(err, workflow.ErrUnknownResponsible),
		errors.Is(err, workflow.ErrProveidoRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
