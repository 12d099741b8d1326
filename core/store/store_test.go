package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"pipewise-ops/config"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.AppConfig{DBPath: filepath.Join(t.TempDir(), "test.db")}
	db, err := NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(context.Background(), cfg, db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestNormalizeDomain(t *testing.T) {
	cases := map[string]string{
		"Example.COM":                 "example.com",
		"https://www.example.com/x":   "example.com",
		"http://example.com":          "example.com",
		"  www.example.com  ":         "example.com",
		"sub.example.com":             "sub.example.com",
		"https://sub.example.com/a/b": "sub.example.com",
	}
	for in, want := range cases {
		if got := NormalizeDomain(in); got != want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCustomerApproveOnlyOnce(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	orgs := NewOrganizationsStore(db)
	prospectsStore := NewProspectsStore(db)
	customers := NewCustomersStore(db)

	orgID, err := orgs.Create(ctx, "Acme", "acme.com", "customer")
	if err != nil {
		t.Fatalf("org: %v", err)
	}
	pid, err := prospectsStore.Create(ctx, &Prospect{
		OrganizationID: &orgID,
		CompanyName:    "Acme",
		CompanyDomain:  "acme.com",
		ContactEmail:   "a@acme.com",
		Status:         "completed",
		Source:         "inbound",
	})
	if err != nil {
		t.Fatalf("prospect: %v", err)
	}
	batch := []Customer{{
		ProspectID:             pid,
		OrganizationID:         orgID,
		ConversionBatchID:      "batch-1",
		Status:                 "active",
		Phase:                  "phase1_delivered",
		PortalToken:            "tok-1",
		RequirementsFormStatus: "draft",
	}}
	if err := customers.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	id := batch[0].ID
	if id == 0 {
		t.Fatal("batch insert did not assign id")
	}

	first := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ok, err := customers.Approve(ctx, id, "ops", first)
	if err != nil || !ok {
		t.Fatalf("first approve: ok=%v err=%v", ok, err)
	}
	ok, err = customers.Approve(ctx, id, "ops2", first.Add(time.Hour))
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if ok {
		t.Fatal("second approve must be a no-op")
	}
	c, err := customers.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.RequirementsApprovedAt == nil || !c.RequirementsApprovedAt.Equal(first) {
		t.Fatalf("approved_at = %v, want %v", c.RequirementsApprovedAt, first)
	}
	if c.RequirementsApprovedBy != "ops" {
		t.Fatalf("approved_by = %q, want ops", c.RequirementsApprovedBy)
	}
}

func TestProspectSetStatusIf(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	prospectsStore := NewProspectsStore(db)

	pid, err := prospectsStore.Create(ctx, &Prospect{
		CompanyName:   "Beta",
		CompanyDomain: "beta.io",
		ContactEmail:  "b@beta.io",
		Status:        "processing",
		Source:        "outbound",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := prospectsStore.SetStatusIf(ctx, pid, "processing", "pending")
	if err != nil || !ok {
		t.Fatalf("first flip: ok=%v err=%v", ok, err)
	}
	ok, err = prospectsStore.SetStatusIf(ctx, pid, "processing", "pending")
	if err != nil {
		t.Fatalf("second flip: %v", err)
	}
	if ok {
		t.Fatal("conditional update must miss once the status moved")
	}
}

func TestCompletedReportForOrg(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	orgs := NewOrganizationsStore(db)
	prospectsStore := NewProspectsStore(db)

	orgID, err := orgs.Create(ctx, "Gamma", "gamma.dev", "prospect")
	if err != nil {
		t.Fatalf("org: %v", err)
	}
	report := "<html>report</html>"
	siblingID, err := prospectsStore.Create(ctx, &Prospect{
		OrganizationID: &orgID,
		CompanyName:    "Gamma",
		CompanyDomain:  "gamma.dev",
		ContactEmail:   "one@gamma.dev",
		Status:         "pending",
		Source:         "inbound",
	})
	if err != nil {
		t.Fatalf("sibling: %v", err)
	}
	if err := prospectsStore.SetReport(ctx, siblingID, &report, nil, "completed"); err != nil {
		t.Fatalf("set report: %v", err)
	}
	selfID, err := prospectsStore.Create(ctx, &Prospect{
		OrganizationID: &orgID,
		CompanyName:    "Gamma",
		CompanyDomain:  "gamma.dev",
		ContactEmail:   "two@gamma.dev",
		Status:         "new_inquiry",
		Source:         "inbound",
	})
	if err != nil {
		t.Fatalf("self: %v", err)
	}

	found, err := prospectsStore.CompletedReportForOrg(ctx, orgID, selfID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found == nil || found.ID != siblingID {
		t.Fatalf("expected sibling %d, got %+v", siblingID, found)
	}
	// The prospect itself is never its own donor.
	found, err = prospectsStore.CompletedReportForOrg(ctx, orgID, siblingID)
	if err != nil {
		t.Fatalf("self lookup: %v", err)
	}
	if found != nil {
		t.Fatalf("expected no donor, got %+v", found)
	}
}

func TestUpsertAnswerKeepsSingleRow(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	orgs := NewOrganizationsStore(db)
	assessments := NewAssessmentsStore(db)

	orgID, err := orgs.Create(ctx, "Delta", "delta.app", "customer")
	if err != nil {
		t.Fatalf("org: %v", err)
	}
	aid, err := assessments.Create(ctx, orgID)
	if err != nil {
		t.Fatalf("assessment: %v", err)
	}
	if err := assessments.InsertQuestions(ctx, []DiscoveryQuestion{{
		AssessmentID: aid,
		DimensionKey: "infra",
		QuestionText: "How many hosts?",
		DisplayOrder: 1,
		IsRequired:   true,
	}}); err != nil {
		t.Fatalf("questions: %v", err)
	}
	questions, err := assessments.ListQuestions(ctx, aid)
	if err != nil || len(questions) != 1 {
		t.Fatalf("list questions: %v (%d)", err, len(questions))
	}
	qid := questions[0].ID

	if err := assessments.UpsertAnswer(ctx, &DiscoveryAnswer{DiscoveryQuestionID: qid, AnswerText: "10", AnsweredBy: "customer"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := assessments.UpsertAnswer(ctx, &DiscoveryAnswer{DiscoveryQuestionID: qid, AnswerText: "25", AnsweredBy: "customer"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	answers, err := assessments.ListAnswers(ctx, aid)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(answers))
	}
	if answers[0].AnswerText != "25" {
		t.Fatalf("answer = %q, want 25", answers[0].AnswerText)
	}
}
