package workflow

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pipewise-ops/config"
	"pipewise-ops/core/apperr"
	"pipewise-ops/core/store"
)

type fakeTrigger struct {
	mu       sync.Mutex
	payloads []RequirementsPayload
	fail     bool
}

func (f *fakeTrigger) TriggerScan(context.Context, ScanPayload) error { return nil }

func (f *fakeTrigger) TriggerRequirements(_ context.Context, payload RequirementsPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("webhook down")
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeTrigger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type workflowEnv struct {
	ctx          context.Context
	db           *sql.DB
	execs        store.WorkflowStore
	assessments  store.AssessmentsStore
	trigger      *fakeTrigger
	dispatcher   *Dispatcher
	callbacks    *CallbackHandler
	assessmentID int64
}

func setupWorkflowEnv(t *testing.T) *workflowEnv {
	t.Helper()
	cfg := &config.AppConfig{DBPath: filepath.Join(t.TempDir(), "test.db")}
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
	execs := store.NewWorkflowStore(db)

	orgID, err := orgs.Create(ctx, "Acme", "acme.com", "customer")
	if err != nil {
		t.Fatalf("org: %v", err)
	}
	aid, err := assessments.Create(ctx, orgID)
	if err != nil {
		t.Fatalf("assessment: %v", err)
	}

	trigger := &fakeTrigger{}
	return &workflowEnv{
		ctx:          ctx,
		db:           db,
		execs:        execs,
		assessments:  assessments,
		trigger:      trigger,
		dispatcher:   NewDispatcher(execs, assessments, trigger, nil),
		callbacks:    NewCallbackHandler(execs, assessments, nil),
		assessmentID: aid,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartRequirementsGenerationDeliversOnce(t *testing.T) {
	env := setupWorkflowEnv(t)
	env.dispatcher.StartWithContext(env.ctx)
	t.Cleanup(func() { _ = env.dispatcher.StopWithContext(context.Background()) })

	exec, err := env.dispatcher.StartRequirementsGeneration(env.ctx, env.assessmentID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if exec.Status != "running" {
		t.Fatalf("status = %q", exec.Status)
	}
	waitFor(t, "outbound delivery", func() bool { return env.trigger.count() == 1 })

	// A second trigger while running is a conflict carrying the live row.
	dup, err := env.dispatcher.StartRequirementsGeneration(env.ctx, env.assessmentID)
	de, ok := apperr.As(err)
	if !ok || de.Code != ErrorCodeAlreadyRunning {
		t.Fatalf("expected already-running, got %v", err)
	}
	if dup == nil || dup.ID != exec.ID {
		t.Fatalf("conflict did not return the running execution: %+v", dup)
	}
}

func TestRetryReusesFailedRow(t *testing.T) {
	env := setupWorkflowEnv(t)
	env.dispatcher.StartWithContext(env.ctx)
	t.Cleanup(func() { _ = env.dispatcher.StopWithContext(context.Background()) })

	exec, err := env.dispatcher.StartRequirementsGeneration(env.ctx, env.assessmentID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "first delivery", func() bool { return env.trigger.count() == 1 })

	now := time.Now().UTC()
	if err := env.execs.MarkFailed(env.ctx, exec.ID, now, 1, "engine error", "", ""); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	retried, err := env.dispatcher.StartRequirementsGeneration(env.ctx, env.assessmentID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.ID != exec.ID {
		t.Fatalf("retry created a new row: %d != %d", retried.ID, exec.ID)
	}
	if retried.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", retried.RetryCount)
	}
	if retried.Status != "running" || retried.ErrorMessage != "" {
		t.Fatalf("retry row not reset: %+v", retried)
	}
	rows, err := env.execs.ListByAssessment(env.ctx, env.assessmentID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("executions = %d, want 1", len(rows))
	}
}

func TestDispatchFailureWritesBack(t *testing.T) {
	env := setupWorkflowEnv(t)
	env.trigger.fail = true
	env.dispatcher.StartWithContext(env.ctx)
	t.Cleanup(func() { _ = env.dispatcher.StopWithContext(context.Background()) })

	exec, err := env.dispatcher.StartRequirementsGeneration(env.ctx, env.assessmentID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "failure write-back", func() bool {
		row, err := env.execs.Get(env.ctx, exec.ID)
		return err == nil && row != nil && row.Status == "failed"
	})
}

func TestCallbackStoresGeneratedContent(t *testing.T) {
	env := setupWorkflowEnv(t)
	exec := &store.WorkflowExecution{
		AssessmentID: env.assessmentID,
		WorkflowType: TypePhase2Requirements,
		Status:       "running",
		StartedAt:    time.Now().UTC().Add(-time.Minute),
	}
	if _, err := env.execs.Insert(env.ctx, exec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := env.callbacks.Consume(env.ctx, CallbackPayload{
		AssessmentID:   env.assessmentID,
		Status:         "completed",
		N8NExecutionID: "n8n-123",
		Questions: []CallbackQuestion{
			{DimensionKey: "infra", QuestionText: "Hosts?", DisplayOrder: 1, IsRequired: true},
			{DimensionKey: "infra", QuestionText: "Cloud?", DisplayOrder: 2},
		},
		DocumentRequests: []CallbackDocument{
			{DimensionKey: "infra", SlotKey: "network_diagram", Title: "Network diagram", IsRequired: true},
		},
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.Status != "completed" || got.CompletedAt == nil {
		t.Fatalf("execution not completed: %+v", got)
	}
	if got.N8NExecutionID != "n8n-123" {
		t.Fatalf("engine id = %q", got.N8NExecutionID)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds < 59 {
		t.Fatalf("duration = %v", got.DurationSeconds)
	}

	questions, err := env.assessments.ListQuestions(env.ctx, env.assessmentID)
	if err != nil || len(questions) != 2 {
		t.Fatalf("questions = %d err=%v", len(questions), err)
	}
	requests, err := env.assessments.ListDocumentRequests(env.ctx, env.assessmentID)
	if err != nil || len(requests) != 1 {
		t.Fatalf("document requests = %d err=%v", len(requests), err)
	}
}

func TestCallbackMatchPriority(t *testing.T) {
	env := setupWorkflowEnv(t)
	older := &store.WorkflowExecution{
		AssessmentID: env.assessmentID,
		WorkflowType: TypePhase2Requirements,
		Status:       "running",
		StartedAt:    time.Now().UTC().Add(-2 * time.Hour),
	}
	if _, err := env.execs.Insert(env.ctx, older); err != nil {
		t.Fatalf("insert older: %v", err)
	}
	newer := &store.WorkflowExecution{
		AssessmentID: env.assessmentID,
		WorkflowType: TypePhase2Requirements,
		Status:       "running",
		StartedAt:    time.Now().UTC(),
	}
	if _, err := env.execs.Insert(env.ctx, newer); err != nil {
		t.Fatalf("insert newer: %v", err)
	}

	// An explicit execution id wins over the assessment match.
	got, err := env.callbacks.Consume(env.ctx, CallbackPayload{
		AssessmentID:        env.assessmentID,
		WorkflowExecutionID: older.ID,
		Status:              "failed",
		ErrorMessage:        "node exploded",
		ErrorNode:           "generate-questions",
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.ID != older.ID {
		t.Fatalf("matched %d, want %d", got.ID, older.ID)
	}
	if got.Status != "failed" || got.ErrorMessage != "node exploded" {
		t.Fatalf("failure not recorded: %+v", got)
	}
	if got.ErrorDetails == "" {
		t.Fatal("error node details missing")
	}

	// Without an execution id the newest running row of the assessment wins.
	got, err = env.callbacks.Consume(env.ctx, CallbackPayload{
		AssessmentID: env.assessmentID,
		Status:       "completed",
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.ID != newer.ID {
		t.Fatalf("matched %d, want %d", got.ID, newer.ID)
	}
}

func TestCallbackRejectsUnmatched(t *testing.T) {
	env := setupWorkflowEnv(t)
	_, err := env.callbacks.Consume(env.ctx, CallbackPayload{AssessmentID: 424242, Status: "completed"})
	de, ok := apperr.As(err)
	if !ok || de.Code != ErrorCodeNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}

	_, err = env.callbacks.Consume(env.ctx, CallbackPayload{AssessmentID: env.assessmentID, Status: "sideways"})
	if err == nil {
		t.Fatal("unknown status must be rejected")
	}
}

func TestReaperFailsStuckExecutions(t *testing.T) {
	env := setupWorkflowEnv(t)
	stale := &store.WorkflowExecution{
		AssessmentID: env.assessmentID,
		WorkflowType: TypePhase2Requirements,
		Status:       "running",
		StartedAt:    time.Now().UTC().Add(-48 * time.Hour),
	}
	if _, err := env.execs.Insert(env.ctx, stale); err != nil {
		t.Fatalf("insert stale: %v", err)
	}
	fresh := &store.WorkflowExecution{
		AssessmentID: env.assessmentID,
		WorkflowType: TypePhase2Requirements,
		Status:       "running",
		StartedAt:    time.Now().UTC(),
	}
	if _, err := env.execs.Insert(env.ctx, fresh); err != nil {
		t.Fatalf("insert fresh: %v", err)
	}

	reaper := NewReaper(config.ReaperConfig{Enabled: true, StuckAfterHours: 24}, env.execs, nil)
	if err := reaper.RunOnce(env.ctx, time.Now().UTC()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	row, err := env.execs.Get(env.ctx, stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if row.Status != "failed" || row.ErrorMessage != "callback timeout" {
		t.Fatalf("stale row not reaped: %+v", row)
	}
	row, err = env.execs.Get(env.ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if row.Status != "running" {
		t.Fatalf("fresh row must stay running: %+v", row)
	}
}
