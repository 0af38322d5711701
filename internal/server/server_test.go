package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"tramitex/internal/ratelimit"
	"tramitex/pkg/domain"
	"tramitex/pkg/report"
	"tramitex/pkg/store"
	"tramitex/pkg/workflow"
)

func newTestServer(t *testing.T) (http.Handler, *workflow.Engine) {
	t.Helper()
	mem := store.NewMemoryStore()
	engine, err := workflow.New(workflow.Config{Store: mem})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	srv, err := New(Config{Engine: engine, Reports: report.NewService(mem)})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv.Router(), engine
}

func provisionActor(t *testing.T, engine *workflow.Engine, username string, role domain.RoleName) domain.Profile {
	t.Helper()
	profile, err := engine.Provision(context.Background(), workflow.ProvisionInput{
		Username: username,
		Password: "secreto123",
		Role:     role,
		Unit:     "Unidad " + username,
	})
	if err != nil {
		t.Fatalf("provision %s: %v", username, err)
	}
	return profile
}

func multipartBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func doRequest(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createDocument(t *testing.T, h http.Handler, actor, id, responsibleID string) {
	t.Helper()
	body, contentType := multipartBody(t, map[string]string{
		"expediente_id": id,
		"tipo":          "solicitud",
		"remitente":     "Juan Pérez",
		"asunto":        "Solicitud de constancia",
		"responsable":   responsibleID,
	})
	req := httptest.NewRequest(http.MethodPost, "/documentos", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Actor", actor)
	rec := doRequest(t, h, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create %s: status %d body %s", id, rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMissingActorHeader(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/documentos", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestUnknownActorIsServerError(t *testing.T) {
	h, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/documentos", nil)
	req.Header.Set("X-Actor", "fantasma")
	rec := doRequest(t, h, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestProvisionEndpoint(t *testing.T) {
	h, engine := newTestServer(t)
	provisionActor(t, engine, "admin", domain.RoleMesaDePartes)

	payload := `{"username":"ana","password":"secreto123","role":"unidad","unit":"Tesorería"}`
	req := httptest.NewRequest(http.MethodPost, "/perfiles", strings.NewReader(payload))
	req.Header.Set("X-Actor", "admin")
	rec := doRequest(t, h, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var profile domain.Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.Username != "ana" || profile.Role != domain.RoleUnidad || profile.ID == "" {
		t.Fatalf("profile = %+v", profile)
	}

	bad := httptest.NewRequest(http.MethodPost, "/perfiles", strings.NewReader(`{"username":"x","role":"gerente"}`))
	bad.Header.Set("X-Actor", "admin")
	if rec := doRequest(t, h, bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid role: status = %d", rec.Code)
	}
}

func TestRolesEndpoint(t *testing.T) {
	h, engine := newTestServer(t)
	provisionActor(t, engine, "admin", domain.RoleMesaDePartes)

	create := httptest.NewRequest(http.MethodPost, "/roles",
		strings.NewReader(`{"name":"unidad","description":"Atención de expedientes"}`))
	create.Header.Set("X-Actor", "admin")
	if rec := doRequest(t, h, create); rec.Code != http.StatusCreated {
		t.Fatalf("create role: status = %d body %s", rec.Code, rec.Body.String())
	}

	bad := httptest.NewRequest(http.MethodPost, "/roles", strings.NewReader(`{"name":"gerencia"}`))
	bad.Header.Set("X-Actor", "admin")
	if rec := doRequest(t, h, bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown role: status = %d", rec.Code)
	}

	list := httptest.NewRequest(http.MethodGet, "/roles", nil)
	list.Header.Set("X-Actor", "admin")
	rec := doRequest(t, h, list)
	if rec.Code != http.StatusOK {
		t.Fatalf("list roles: status = %d", rec.Code)
	}
	var listing struct {
		Items []domain.Role `json:"items"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listing.Count != 1 || listing.Items[0].Name != domain.RoleUnidad {
		t.Fatalf("listing = %+v", listing)
	}
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	h, engine := newTestServer(t)
	provisionActor(t, engine, "mesa", domain.RoleMesaDePartes)
	ana := provisionActor(t, engine, "ana", domain.RoleUnidad)
	luis := provisionActor(t, engine, "luis", domain.RoleUnidad)

	createDocument(t, h, "mesa", "EXP-100", ana.ID)

	// duplicate id conflicts
	body, contentType := multipartBody(t, map[string]string{
		"expediente_id": "EXP-100",
		"tipo":          "oficio",
		"remitente":     "Otro",
		"asunto":        "Otro",
		"responsable":   ana.ID,
	})
	dup := httptest.NewRequest(http.MethodPost, "/documentos", body)
	dup.Header.Set("Content-Type", contentType)
	dup.Header.Set("X-Actor", "mesa")
	if rec := doRequest(t, h, dup); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: status = %d", rec.Code)
	}

	// derivar to luis
	routeReq := httptest.NewRequest(http.MethodPost, "/documentos/EXP-100/derivar",
		strings.NewReader(`{"responsable":"`+luis.ID+`","observaciones":"urgente"}`))
	routeReq.Header.Set("X-Actor", "mesa")
	rec := doRequest(t, h, routeReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("derivar: status = %d body %s", rec.Code, rec.Body.String())
	}
	var doc domain.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != domain.StatusDerivado || doc.Responsible.ID != luis.ID {
		t.Fatalf("after derivar: %+v", doc)
	}

	// atender by the wrong actor is forbidden
	body, contentType = multipartBody(t, map[string]string{"proveido": "intento"})
	deny := httptest.NewRequest(http.MethodPost, "/documentos/EXP-100/atender", body)
	deny.Header.Set("Content-Type", contentType)
	deny.Header.Set("X-Actor", "ana")
	if rec := doRequest(t, h, deny); rec.Code != http.StatusForbidden {
		t.Fatalf("atender by non-responsible: status = %d", rec.Code)
	}

	// atender by the responsible succeeds
	body, contentType = multipartBody(t, map[string]string{"proveido": "Atendido conforme"})
	resolve := httptest.NewRequest(http.MethodPost, "/documentos/EXP-100/atender", body)
	resolve.Header.Set("Content-Type", contentType)
	resolve.Header.Set("X-Actor", "luis")
	rec = doRequest(t, h, resolve)
	if rec.Code != http.StatusOK {
		t.Fatalf("atender: status = %d body %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != domain.StatusAtendido || doc.Responsible.Valid {
		t.Fatalf("after atender: %+v", doc)
	}

	// detail carries the full history newest-first
	detail := httptest.NewRequest(http.MethodGet, "/documentos/EXP-100", nil)
	detail.Header.Set("X-Actor", "mesa")
	rec = doRequest(t, h, detail)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: status = %d", rec.Code)
	}
	var payload struct {
		Document domain.Document   `json:"document"`
		History  []domain.Movement `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(payload.History) != 3 {
		t.Fatalf("history = %d movements, want 3", len(payload.History))
	}
	if payload.History[0].Type != domain.MovementAtencion {
		t.Fatalf("newest movement = %s", payload.History[0].Type)
	}
}

func TestListFiltersAndVisibility(t *testing.T) {
	h, engine := newTestServer(t)
	provisionActor(t, engine, "mesa", domain.RoleMesaDePartes)
	ana := provisionActor(t, engine, "ana", domain.RoleUnidad)
	luis := provisionActor(t, engine, "luis", domain.RoleUnidad)

	createDocument(t, h, "mesa", "EXP-1", ana.ID)
	createDocument(t, h, "mesa", "EXP-2", luis.ID)

	var listing struct {
		Items []domain.Document `json:"items"`
		Count int               `json:"count"`
	}
	list := func(actor, query string) int {
		req := httptest.NewRequest(http.MethodGet, "/documentos"+query, nil)
		req.Header.Set("X-Actor", actor)
		rec := doRequest(t, h, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("list %s%s: status %d", actor, query, rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return listing.Count
	}

	if n := list("mesa", ""); n != 2 {
		t.Fatalf("mesa sees %d", n)
	}
	if n := list("ana", ""); n != 1 {
		t.Fatalf("ana sees %d", n)
	}
	if n := list("mesa", "?tipo=solicitud&estado=recibido"); n != 2 {
		t.Fatalf("filtered = %d", n)
	}
	if n := list("mesa", "?estado=atendido"); n != 0 {
		t.Fatalf("atendido = %d", n)
	}

	req := httptest.NewRequest(http.MethodGet, "/documentos?tipo=memo", nil)
	req.Header.Set("X-Actor", "mesa")
	if rec := doRequest(t, h, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid tipo: status = %d", rec.Code)
	}
}

func TestConsultaEndpoint(t *testing.T) {
	h, engine := newTestServer(t)
	provisionActor(t, engine, "mesa", domain.RoleMesaDePartes)
	ana := provisionActor(t, engine, "ana", domain.RoleUnidad)
	createDocument(t, h, "mesa", "EXP-2026-044", ana.ID)

	// no actor header needed, case-insensitive match
	req := httptest.NewRequest(http.MethodGet, "/consulta?expediente_id="+url.QueryEscape("exp-2026-044"), nil)
	rec := doRequest(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("consulta: status = %d body %s", rec.Code, rec.Body.String())
	}
	var doc domain.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ExpedienteID != "EXP-2026-044" {
		t.Fatalf("found %q", doc.ExpedienteID)
	}

	if rec := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/consulta?expediente_id=EXP-999", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status = %d", rec.Code)
	}
	if rec := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/consulta", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank query: status = %d", rec.Code)
	}
}

func TestConsultaRateLimit(t *testing.T) {
	mem := store.NewMemoryStore()
	engine, err := workflow.New(workflow.Config{Store: mem})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "test:consulta", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	srv, err := New(Config{Engine: engine, ConsultaLimiter: limiter})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	h := srv.Router()

	// the first two hit the lookup, the third is throttled
	for i := 0; i < 2; i++ {
		rec := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/consulta?expediente_id=EXP-1", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/consulta?expediente_id=EXP-1", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled request: status = %d, want 429", rec.Code)
	}
}

func TestReportEndpoints(t *testing.T) {
	h, engine := newTestServer(t)
	provisionActor(t, engine, "mesa", domain.RoleMesaDePartes)
	ana := provisionActor(t, engine, "ana", domain.RoleUnidad)
	createDocument(t, h, "mesa", "EXP-1", ana.ID)

	snap := httptest.NewRequest(http.MethodGet, "/reportes/documentos", nil)
	snap.Header.Set("X-Actor", "mesa")
	rec := doRequest(t, h, snap)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: status = %d", rec.Code)
	}
	var snapshot struct {
		Items []report.Row `json:"items"`
		Count int          `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snapshot.Count != 1 || snapshot.Items[0].ResponsibleUser != "ana" {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	// a unit profile may not report
	denied := httptest.NewRequest(http.MethodGet, "/reportes/dashboard", nil)
	denied.Header.Set("X-Actor", "ana")
	if rec := doRequest(t, h, denied); rec.Code != http.StatusForbidden {
		t.Fatalf("dashboard as unidad: status = %d", rec.Code)
	}

	dash := httptest.NewRequest(http.MethodGet, "/reportes/dashboard", nil)
	dash.Header.Set("X-Actor", "mesa")
	rec = doRequest(t, h, dash)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: status = %d", rec.Code)
	}
	var stats store.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDeleteDocumentOverHTTP(t *testing.T) {
	h, engine := newTestServer(t)
	provisionActor(t, engine, "mesa", domain.RoleMesaDePartes)
	ana := provisionActor(t, engine, "ana", domain.RoleUnidad)
	createDocument(t, h, "mesa", "EXP-1", ana.ID)

	del := httptest.NewRequest(http.MethodDelete, "/documentos/EXP-1", nil)
	del.Header.Set("X-Actor", "mesa")
	if rec := doRequest(t, h, del); rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}

	missing := httptest.NewRequest(http.MethodDelete, "/documentos/EXP-1", nil)
	missing.Header.Set("X-Actor", "mesa")
	if rec := doRequest(t, h, missing); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d", rec.Code)
	}
}
