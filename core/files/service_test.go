package files

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pipewise-ops/config"
	"pipewise-ops/core/apperr"
	"pipewise-ops/core/store"
)

type filesEnv struct {
	ctx          context.Context
	db           *sql.DB
	svc          *Service
	uploads      store.UploadsStore
	assessmentID int64
	storageDir   string
}

func setupFilesEnv(t *testing.T) *filesEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{DBPath: filepath.Join(dir, "test.db")}
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
	assessments := store.NewAssessmentsStore(db)
	uploads := store.NewUploadsStore(db)
	audits := store.NewAuditStore(db)

	orgID, err := orgs.Create(ctx, "Acme", "acme.com", "customer")
	if err != nil {
		t.Fatalf("org: %v", err)
	}
	aid, err := assessments.Create(ctx, orgID)
	if err != nil {
		t.Fatalf("assessment: %v", err)
	}
	if err := assessments.InsertDocumentRequests(ctx, []store.DocumentRequest{{
		AssessmentID: aid,
		DimensionKey: "infra",
		SlotKey:      "network_diagram",
		Title:        "Network diagram",
		IsRequired:   true,
	}}); err != nil {
		t.Fatalf("document requests: %v", err)
	}

	storageDir := filepath.Join(dir, "uploads")
	filesCfg := config.FilesConfig{
		StorageDir:    storageDir,
		SignKey:       "test-sign-key",
		URLTTLMinutes: 60,
		MaxUploadMB:   1,
	}
	return &filesEnv{
		ctx:          ctx,
		db:           db,
		svc:          NewService(filesCfg, uploads, assessments, audits, nil),
		uploads:      uploads,
		assessmentID: aid,
		storageDir:   storageDir,
	}
}

func TestSaveOpenDelete(t *testing.T) {
	env := setupFilesEnv(t)
	upload, err := env.svc.Save(env.ctx, SaveInput{
		AssessmentID: env.assessmentID,
		SlotKey:      "network_diagram",
		FileName:     "../evil/..\\diagram v1.pdf",
		ContentType:  "application/pdf",
		UploadedBy:   "customer:1",
	}, strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if upload.ID == 0 || upload.SizeBytes != int64(len("pdf-bytes")) {
		t.Fatalf("upload row: %+v", upload)
	}
	if strings.Contains(upload.FileName, "/") || strings.Contains(upload.FileName, "\\") || strings.Contains(upload.FileName, " ") {
		t.Fatalf("filename not sanitized: %q", upload.FileName)
	}
	if _, err := os.Stat(filepath.Join(env.storageDir, upload.StoragePath)); err != nil {
		t.Fatalf("blob missing: %v", err)
	}

	got, blob, err := env.svc.Open(env.ctx, upload.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = blob.Close() }()
	if got.ID != upload.ID {
		t.Fatalf("open returned %d", got.ID)
	}

	if err := env.svc.Delete(env.ctx, upload.ID, "ops"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.storageDir, upload.StoragePath)); !os.IsNotExist(err) {
		t.Fatalf("blob still present: %v", err)
	}
	if _, _, err := env.svc.Open(env.ctx, upload.ID); err == nil {
		t.Fatal("open after delete must fail")
	}
}

func TestSaveRejectsUnknownSlot(t *testing.T) {
	env := setupFilesEnv(t)
	_, err := env.svc.Save(env.ctx, SaveInput{
		AssessmentID: env.assessmentID,
		SlotKey:      "no_such_slot",
		FileName:     "x.pdf",
	}, strings.NewReader("x"))
	de, ok := apperr.As(err)
	if !ok || de.Code != ErrorCodeNotFound {
		t.Fatalf("expected unknown-slot rejection, got %v", err)
	}
}

func TestSaveRejectsOversize(t *testing.T) {
	env := setupFilesEnv(t)
	big := strings.NewReader(strings.Repeat("a", 1024*1024+1))
	_, err := env.svc.Save(env.ctx, SaveInput{
		AssessmentID: env.assessmentID,
		SlotKey:      "network_diagram",
		FileName:     "big.bin",
	}, big)
	de, ok := apperr.As(err)
	if !ok || de.Code != ErrorCodeTooLarge {
		t.Fatalf("expected too-large rejection, got %v", err)
	}
	items, err := env.svc.ListByAssessment(env.ctx, env.assessmentID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("uploads = %d, want 0 after rejection", len(items))
	}
}

func TestReuploadKeepsBothVersions(t *testing.T) {
	env := setupFilesEnv(t)
	for i := 0; i < 2; i++ {
		if _, err := env.svc.Save(env.ctx, SaveInput{
			AssessmentID: env.assessmentID,
			SlotKey:      "network_diagram",
			FileName:     "diagram.pdf",
		}, strings.NewReader("v")); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	items, err := env.svc.ListByAssessment(env.ctx, env.assessmentID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("uploads = %d, want 2", len(items))
	}
	if items[0].StoragePath == items[1].StoragePath {
		t.Fatal("storage paths must differ per version")
	}
}

func TestDownloadTokenRoundtrip(t *testing.T) {
	env := setupFilesEnv(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	token := env.svc.SignDownloadToken(42, now)
	id, err := env.svc.VerifyDownloadToken(token, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d, want 42", id)
	}

	_, err = env.svc.VerifyDownloadToken(token, now.Add(2*time.Hour))
	de, ok := apperr.As(err)
	if !ok || de.Code != ErrorCodeExpired {
		t.Fatalf("expected expired, got %v", err)
	}

	_, err = env.svc.VerifyDownloadToken(token+"x", now)
	de, ok = apperr.As(err)
	if !ok || de.Code != ErrorCodeBadSignature {
		t.Fatalf("expected bad signature, got %v", err)
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":          "report.pdf",
		"../../etc/passwd":    "passwd",
		"my file (final).pdf": "my_file__final_.pdf",
		"..":                  "file",
		"":                    "file",
	}
	for in, want := range cases {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
