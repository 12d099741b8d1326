package conversion

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"pipewise-ops/config"
	"pipewise-ops/core/apperr"
	"pipewise-ops/core/store"
)

type conversionEnv struct {
	ctx       context.Context
	db        *sql.DB
	orgs      store.OrganizationsStore
	prospects store.ProspectsStore
	customers store.CustomersStore
	svc       *Service
}

func setupConversionEnv(t *testing.T) *conversionEnv {
	t.Helper()
	cfg := &config.AppConfig{DBPath: filepath.Join(t.TempDir(), "test.db")}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), cfg, db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	orgs := store.NewOrganizationsStore(db)
	prospectsStore := store.NewProspectsStore(db)
	customers := store.NewCustomersStore(db)
	audits := store.NewAuditStore(db)
	return &conversionEnv{
		ctx:       context.Background(),
		db:        db,
		orgs:      orgs,
		prospects: prospectsStore,
		customers: customers,
		svc:       NewService(orgs, prospectsStore, customers, audits, nil),
	}
}

func (env *conversionEnv) seedProspect(t *testing.T, orgID int64, email, status string, withReport bool) int64 {
	t.Helper()
	id, err := env.prospects.Create(env.ctx, &store.Prospect{
		OrganizationID: &orgID,
		CompanyName:    "Seed",
		CompanyDomain:  "seed.test",
		ContactEmail:   email,
		Status:         status,
		Source:         "inbound",
	})
	if err != nil {
		t.Fatalf("seed prospect: %v", err)
	}
	if withReport {
		report := "<html>r</html>"
		if err := env.prospects.SetReport(env.ctx, id, &report, nil, status); err != nil {
			t.Fatalf("seed report: %v", err)
		}
	}
	return id
}

func (env *conversionEnv) seedOrg(t *testing.T, domain string) int64 {
	t.Helper()
	id, err := env.orgs.Create(env.ctx, domain, domain, "prospect")
	if err != nil {
		t.Fatalf("seed org: %v", err)
	}
	return id
}

func (env *conversionEnv) customerCount(t *testing.T) int {
	t.Helper()
	items, err := env.customers.List(env.ctx, store.CustomerFilter{Limit: 1000})
	if err != nil {
		t.Fatalf("list customers: %v", err)
	}
	return len(items)
}

func TestConvertBatch(t *testing.T) {
	env := setupConversionEnv(t)
	orgID := env.seedOrg(t, "acme.com")
	p1 := env.seedProspect(t, orgID, "a@acme.com", "completed", true)
	p2 := env.seedProspect(t, orgID, "b@acme.com", "qualified", true)

	result, err := env.svc.ConvertBatch(env.ctx, "ops", ConvertInput{
		ProspectIDs:    []int64{p1, p2, p1},
		AccountManager: "sam",
		AutoApprove:    true,
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if result.BatchID == "" {
		t.Fatal("missing batch id")
	}
	if len(result.Customers) != 2 {
		t.Fatalf("customers = %d, want 2", len(result.Customers))
	}
	seen := map[string]struct{}{}
	for _, c := range result.Customers {
		if c.ID == 0 {
			t.Fatal("customer id not assigned")
		}
		if c.ConversionBatchID != result.BatchID {
			t.Fatalf("batch id mismatch on customer %d", c.ID)
		}
		if c.PortalToken == "" {
			t.Fatal("portal token missing")
		}
		if _, dup := seen[c.PortalToken]; dup {
			t.Fatal("portal tokens must be unique")
		}
		seen[c.PortalToken] = struct{}{}
		if !c.AutoApproveRequirements {
			t.Fatal("auto approve flag lost")
		}
	}

	for _, pid := range []int64{p1, p2} {
		p, err := env.prospects.Get(env.ctx, pid)
		if err != nil {
			t.Fatalf("get prospect: %v", err)
		}
		if p.Status != "converted_to_customer" {
			t.Fatalf("prospect %d status = %q", pid, p.Status)
		}
	}
	org, err := env.orgs.Get(env.ctx, orgID)
	if err != nil {
		t.Fatalf("get org: %v", err)
	}
	if org.OrgType != "customer" {
		t.Fatalf("org type = %q, want customer", org.OrgType)
	}
}

func TestConvertBatchRejectsUnready(t *testing.T) {
	env := setupConversionEnv(t)
	orgID := env.seedOrg(t, "beta.io")
	ready := env.seedProspect(t, orgID, "ok@beta.io", "completed", true)
	processing := env.seedProspect(t, orgID, "busy@beta.io", "processing", false)

	_, err := env.svc.ConvertBatch(env.ctx, "ops", ConvertInput{ProspectIDs: []int64{ready, processing}})
	de, ok := apperr.As(err)
	if !ok || de.Code != ErrorCodeNotReady {
		t.Fatalf("expected not-ready rejection, got %v", err)
	}
	if n := env.customerCount(t); n != 0 {
		t.Fatalf("customers = %d, want 0 after rejection", n)
	}

	// Completed without a stored report is equally unconvertible.
	bare := env.seedProspect(t, orgID, "bare@beta.io", "completed", false)
	_, err = env.svc.ConvertBatch(env.ctx, "ops", ConvertInput{ProspectIDs: []int64{bare}})
	de, ok = apperr.As(err)
	if !ok || de.Code != ErrorCodeNotReady {
		t.Fatalf("expected not-ready rejection, got %v", err)
	}
}

func TestConvertBatchRejectsMixedOrganizations(t *testing.T) {
	env := setupConversionEnv(t)
	orgA := env.seedOrg(t, "a.example")
	orgB := env.seedOrg(t, "b.example")
	p1 := env.seedProspect(t, orgA, "one@a.example", "completed", true)
	p2 := env.seedProspect(t, orgB, "two@b.example", "completed", true)

	_, err := env.svc.ConvertBatch(env.ctx, "ops", ConvertInput{ProspectIDs: []int64{p1, p2}})
	de, ok := apperr.As(err)
	if !ok || de.Code != ErrorCodeMixedOrgs {
		t.Fatalf("expected mixed-org rejection, got %v", err)
	}
	if n := env.customerCount(t); n != 0 {
		t.Fatalf("customers = %d, want 0 after rejection", n)
	}
}

func TestConvertBatchRejectsMissingProspects(t *testing.T) {
	env := setupConversionEnv(t)
	orgID := env.seedOrg(t, "gamma.dev")
	p1 := env.seedProspect(t, orgID, "one@gamma.dev", "completed", true)

	_, err := env.svc.ConvertBatch(env.ctx, "ops", ConvertInput{ProspectIDs: []int64{p1, 9999}})
	de, ok := apperr.As(err)
	if !ok || de.Code != ErrorCodeMissingProspects {
		t.Fatalf("expected missing-prospects rejection, got %v", err)
	}
	if n := env.customerCount(t); n != 0 {
		t.Fatalf("customers = %d, want 0 after rejection", n)
	}
}
