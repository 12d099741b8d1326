package appbootstrap

import (
	"database/sql"
	"net/http"

	"pipewise-ops/api"
	"pipewise-ops/config"
	"pipewise-ops/core/conversion"
	"pipewise-ops/core/files"
	"pipewise-ops/core/prospects"
	"pipewise-ops/core/rbac"
	"pipewise-ops/core/requirements"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
	"pipewise-ops/core/workflow"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	workers    []api.BackgroundWorker
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	orgs := store.NewOrganizationsStore(db)
	prospectsStore := store.NewProspectsStore(db)
	customers := store.NewCustomersStore(db)
	assessments := store.NewAssessmentsStore(db)
	executions := store.NewWorkflowStore(db)
	uploads := store.NewUploadsStore(db)
	audits := store.NewAuditStore(db)

	policy, err := rbac.NewPolicy()
	if err != nil {
		return nil, err
	}

	trigger := workflow.NewClient(cfg.Workflow)
	dispatcher := workflow.NewDispatcher(executions, assessments, trigger, logger)
	callbacks := workflow.NewCallbackHandler(executions, assessments, logger)
	reaper := workflow.NewReaper(cfg.Reaper, executions, logger)

	prospectsSvc := prospects.NewService(orgs, prospectsStore, trigger, audits, logger)
	conversionSvc := conversion.NewService(orgs, prospectsStore, customers, audits, logger)
	requirementsSvc := requirements.NewService(customers, assessments, audits, logger)
	filesSvc := files.NewService(cfg.Files, uploads, assessments, audits, logger)

	workers := []api.BackgroundWorker{dispatcher}
	if cfg.Reaper.Enabled {
		workers = append(workers, reaper)
	}

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Cfg:             cfg,
			Organizations:   orgs,
			Prospects:       prospectsStore,
			Customers:       customers,
			Assessments:     assessments,
			Executions:      executions,
			Audits:          audits,
			ProspectsSvc:    prospectsSvc,
			ConversionSvc:   conversionSvc,
			RequirementsSvc: requirementsSvc,
			FilesSvc:        filesSvc,
			Dispatcher:      dispatcher,
			Callbacks:       callbacks,
			Policy:          policy,
			Logger:          logger,
			ResetTestData:   testDataReset(db),
		},
		workers: workers,
	}, nil
}

// testDataReset truncates every domain table, children before parents.
func testDataReset(db *sql.DB) func(r *http.Request) error {
	tables := []string{
		"document_uploads",
		"document_requests",
		"discovery_answers",
		"discovery_questions",
		"workflow_executions",
		"assessments",
		"customers",
		"prospects",
		"organizations",
		"audit_log",
	}
	return func(r *http.Request) error {
		for _, table := range tables {
			if _, err := db.ExecContext(r.Context(), "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	}
}
