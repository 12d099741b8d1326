package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"pipewise-ops/config"
	"pipewise-ops/core/conversion"
	"pipewise-ops/core/files"
	"pipewise-ops/core/prospects"
	"pipewise-ops/core/rbac"
	"pipewise-ops/core/requirements"
	"pipewise-ops/core/store"
	"pipewise-ops/core/workflow"
)

const (
	testAdminToken    = "admin-secret"
	testCallbackToken = "callback-secret"
)

type apiEnv struct {
	ctx       context.Context
	cfg       *config.AppConfig
	server    *Server
	handler   http.Handler
	customers store.CustomersStore
	prospects store.ProspectsStore
	orgs      store.OrganizationsStore
	trigger   *stubTrigger
}

type stubTrigger struct{}

func (stubTrigger) TriggerScan(context.Context, workflow.ScanPayload) error { return nil }
func (stubTrigger) TriggerRequirements(context.Context, workflow.RequirementsPayload) error {
	return nil
}

func setupAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	dir := t.TempDir()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := &config.AppConfig{
		DBPath: filepath.Join(dir, "test.db"),
		AppEnv: "test",
		Auth: config.AuthConfig{
			AdminTokenHash: string(hash),
			CallbackToken:  testCallbackToken,
		},
		Files: config.FilesConfig{
			StorageDir:  filepath.Join(dir, "uploads"),
			SignKey:     "sign-key",
			MaxUploadMB: 1,
		},
	}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, cfg, db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	orgs := store.NewOrganizationsStore(db)
	prospectsStore := store.NewProspectsStore(db)
	customers := store.NewCustomersStore(db)
	assessments := store.NewAssessmentsStore(db)
	executions := store.NewWorkflowStore(db)
	uploads := store.NewUploadsStore(db)
	audits := store.NewAuditStore(db)

	policy, err := rbac.NewPolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	trigger := &stubTrigger{}
	dispatcher := workflow.NewDispatcher(executions, assessments, trigger, nil)
	server := NewServer(ServerDeps{
		Cfg:             cfg,
		Organizations:   orgs,
		Prospects:       prospectsStore,
		Customers:       customers,
		Assessments:     assessments,
		Executions:      executions,
		Audits:          audits,
		ProspectsSvc:    prospects.NewService(orgs, prospectsStore, trigger, audits, nil),
		ConversionSvc:   conversion.NewService(orgs, prospectsStore, customers, audits, nil),
		RequirementsSvc: requirements.NewService(customers, assessments, audits, nil),
		FilesSvc:        files.NewService(cfg.Files, uploads, assessments, audits, nil),
		Dispatcher:      dispatcher,
		Callbacks:       workflow.NewCallbackHandler(executions, assessments, nil),
		Policy:          policy,
		Logger:          nil,
		ResetTestData:   func(*http.Request) error { return nil },
	})
	return &apiEnv{
		ctx:       ctx,
		cfg:       cfg,
		server:    server,
		handler:   server.Routes(),
		customers: customers,
		prospects: prospectsStore,
		orgs:      orgs,
		trigger:   trigger,
	}
}

func (env *apiEnv) do(t *testing.T, method, path string, body any, decorate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func asAdmin(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
}

func asEngine(req *http.Request) {
	req.Header.Set("X-Callback-Token", testCallbackToken)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := setupAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/prospects/", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/prospects/", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer wrong")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/prospects/", nil, asAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("good token: status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCallbackRoutesRequireSecret(t *testing.T) {
	env := setupAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/workflow/callback", map[string]any{"status": "completed"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no secret: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/workflow/callback", map[string]any{"status": "completed"}, func(r *http.Request) {
		r.Header.Set("X-Callback-Token", "wrong")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad secret: status = %d", rec.Code)
	}
	// The right secret passes auth; an unmatched callback is then a 404.
	rec = env.do(t, http.MethodPost, "/api/workflow/callback", map[string]any{"status": "completed", "assessment_id": 1}, asEngine)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("matched nothing: status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestPortalRoutesRequireCustomerToken(t *testing.T) {
	env := setupAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/portal/requirements", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	// An admin bearer token is not a portal credential.
	rec = env.do(t, http.MethodGet, "/api/portal/requirements", nil, asAdmin)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("admin token on portal: status = %d", rec.Code)
	}
}

func TestCustomerCannotReachAdminSurface(t *testing.T) {
	env := setupAPIEnv(t)
	orgID, err := env.orgs.Create(env.ctx, "Acme", "acme.com", "customer")
	if err != nil {
		t.Fatalf("org: %v", err)
	}
	pid, err := env.prospects.Create(env.ctx, &store.Prospect{
		OrganizationID: &orgID,
		CompanyName:    "Acme",
		CompanyDomain:  "acme.com",
		ContactEmail:   "a@acme.com",
		Status:         "converted_to_customer",
		Source:         "inbound",
	})
	if err != nil {
		t.Fatalf("prospect: %v", err)
	}
	batch := []store.Customer{{
		ProspectID:             pid,
		OrganizationID:         orgID,
		ConversionBatchID:      "batch-1",
		Status:                 "active",
		Phase:                  "phase1_delivered",
		PortalToken:            "portal-token-1",
		RequirementsFormStatus: "draft",
	}}
	if err := env.customers.CreateBatch(env.ctx, batch); err != nil {
		t.Fatalf("customers: %v", err)
	}

	// Portal token authenticates on portal routes.
	rec := env.do(t, http.MethodGet, "/api/portal/requirements", nil, func(r *http.Request) {
		r.Header.Set("X-Portal-Token", "portal-token-1")
	})
	// Not yet approved: authenticated but gated.
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unapproved portal fetch: status = %d body=%s", rec.Code, rec.Body.String())
	}

	// The same token is useless on the admin surface.
	rec = env.do(t, http.MethodGet, "/api/customers/", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer portal-token-1")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("portal token on admin route: status = %d", rec.Code)
	}
}

func TestSignupCreatesAndDispatches(t *testing.T) {
	env := setupAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/signup", map[string]any{
		"company_name":   "Acme",
		"company_domain": "https://www.acme.com",
		"contact_email":  "jane@acme.com",
		"contact_name":   "Jane",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Prospect store.Prospect `json:"prospect"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Prospect.CompanyDomain != "acme.com" {
		t.Fatalf("domain = %q", body.Prospect.CompanyDomain)
	}
	if body.Prospect.Status != "processing" {
		t.Fatalf("status = %q, want processing after dispatch", body.Prospect.Status)
	}

	// Duplicate signup conflicts.
	rec = env.do(t, http.MethodPost, "/api/signup", map[string]any{
		"company_name":   "Acme",
		"company_domain": "acme.com",
		"contact_email":  "jane@acme.com",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate signup: status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestResetTestDataHiddenInProduction(t *testing.T) {
	env := setupAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/admin/reset-test-data", nil, asAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset in test env: status = %d body=%s", rec.Code, rec.Body.String())
	}

	env.cfg.AppEnv = "production"
	prodHandler := env.server.Routes()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/reset-test-data", nil)
	asAdmin(req)
	prodRec := httptest.NewRecorder()
	prodHandler.ServeHTTP(prodRec, req)
	if prodRec.Code == http.StatusOK {
		t.Fatal("reset route must not exist in production")
	}
}
