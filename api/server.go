package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pipewise-ops/api/handlers"
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

// BackgroundWorker is anything that runs beside the HTTP server and stops on
// shutdown.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context)
	StopWithContext(ctx context.Context) error
}

type ServerDeps struct {
	Cfg *config.AppConfig

	Organizations store.OrganizationsStore
	Prospects     store.ProspectsStore
	Customers     store.CustomersStore
	Assessments   store.AssessmentsStore
	Executions    store.WorkflowStore
	Audits        store.AuditStore

	ProspectsSvc    *prospects.Service
	ConversionSvc   *conversion.Service
	RequirementsSvc *requirements.Service
	FilesSvc        *files.Service
	Dispatcher      *workflow.Dispatcher
	Callbacks       *workflow.CallbackHandler

	Policy *rbac.Policy
	Logger *utils.Logger

	// ResetTestData wipes and reseeds the database. Only mounted outside
	// production.
	ResetTestData func(r *http.Request) error
}

type Server struct {
	cfg    *config.AppConfig
	deps   ServerDeps
	policy *rbac.Policy
	logger *utils.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{cfg: deps.Cfg, deps: deps, policy: deps.Policy, logger: deps.Logger}
}

func (s *Server) Routes() http.Handler {
	d := s.deps
	prospectsH := handlers.NewProspectsHandler(d.ProspectsSvc, d.Prospects, d.Audits, s.logger)
	conversionH := handlers.NewConversionHandler(d.ConversionSvc, d.RequirementsSvc, d.Customers, s.logger)
	portalH := handlers.NewPortalHandler(d.RequirementsSvc, d.FilesSvc, d.Customers, d.Assessments, s.logger)
	workflowH := handlers.NewWorkflowHandler(d.Dispatcher, d.Callbacks, d.RequirementsSvc, d.ProspectsSvc, d.Assessments, d.Executions, d.Organizations, s.logger)
	adminH := handlers.NewAdminHandler(d.Audits, d.ResetTestData, s.cfg, s.logger)

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.loggingMiddleware)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.jsonMiddleware)

		// Public inbound lead intake.
		api.MethodFunc(http.MethodPost, "/signup", prospectsH.Signup)

		// Workflow engine callbacks, shared-secret authenticated.
		api.MethodFunc(http.MethodPost, "/workflow/callback", s.withCallbackToken(workflowH.Callback))
		api.MethodFunc(http.MethodPost, "/workflow/prospect-callback", s.withCallbackToken(workflowH.ProspectCallback))

		// Signed download links carry their own credentials.
		api.MethodFunc(http.MethodGet, "/files/download", portalH.Download)

		withAdmin := s.withAdmin
		require := s.requirePermission

		api.Route("/prospects", func(pr chi.Router) {
			pr.MethodFunc(http.MethodGet, "/", withAdmin(require(rbac.PermProspectsView)(prospectsH.List)))
			pr.MethodFunc(http.MethodPost, "/", withAdmin(require(rbac.PermProspectsManage)(prospectsH.Create)))
			pr.MethodFunc(http.MethodGet, "/{id:[0-9]+}", withAdmin(require(rbac.PermProspectsView)(prospectsH.Get)))
			pr.MethodFunc(http.MethodPost, "/{id:[0-9]+}/dispatch", withAdmin(require(rbac.PermProspectsManage)(prospectsH.Dispatch)))
			pr.MethodFunc(http.MethodPost, "/{id:[0-9]+}/qualify", withAdmin(require(rbac.PermProspectsManage)(prospectsH.Qualify)))
		})

		api.MethodFunc(http.MethodPost, "/conversions", withAdmin(require(rbac.PermConversionRun)(conversionH.ConvertBatch)))

		api.Route("/customers", func(cr chi.Router) {
			cr.MethodFunc(http.MethodGet, "/", withAdmin(require(rbac.PermCustomersView)(conversionH.ListCustomers)))
			cr.MethodFunc(http.MethodGet, "/{id:[0-9]+}", withAdmin(require(rbac.PermCustomersView)(conversionH.GetCustomer)))
			cr.MethodFunc(http.MethodPost, "/{id:[0-9]+}/approve-requirements", withAdmin(require(rbac.PermCustomersManage)(conversionH.ApproveRequirements)))
			cr.MethodFunc(http.MethodPut, "/{id:[0-9]+}/auto-approve", withAdmin(require(rbac.PermCustomersManage)(conversionH.SetAutoApprove)))
		})

		api.Route("/assessments", func(ar chi.Router) {
			ar.MethodFunc(http.MethodPost, "/", withAdmin(require(rbac.PermWorkflowManage)(workflowH.CreateAssessment)))
			ar.MethodFunc(http.MethodPost, "/{id:[0-9]+}/generate-requirements", withAdmin(require(rbac.PermWorkflowManage)(workflowH.StartRequirementsGeneration)))
			ar.MethodFunc(http.MethodGet, "/{id:[0-9]+}/executions", withAdmin(require(rbac.PermWorkflowManage)(workflowH.ListExecutions)))
			ar.MethodFunc(http.MethodGet, "/{id:[0-9]+}/uploads", withAdmin(require(rbac.PermCustomersView)(portalH.ListAssessmentUploads)))
		})

		api.MethodFunc(http.MethodGet, "/audit", withAdmin(require(rbac.PermAuditView)(adminH.ListAudit)))
		if s.cfg != nil && !s.cfg.IsProduction() {
			api.MethodFunc(http.MethodPost, "/admin/reset-test-data", withAdmin(require(rbac.PermTestDataReset)(adminH.ResetTestData)))
		}

		withCustomer := s.withCustomer
		api.Route("/portal", func(cp chi.Router) {
			cp.MethodFunc(http.MethodGet, "/requirements", withCustomer(require(rbac.PermRequirementsUse)(portalH.GetForm)))
			cp.MethodFunc(http.MethodPut, "/requirements/answers/{question_id:[0-9]+}", withCustomer(require(rbac.PermRequirementsUse)(portalH.SaveAnswer)))
			cp.MethodFunc(http.MethodPost, "/requirements/submit", withCustomer(require(rbac.PermRequirementsUse)(portalH.Submit)))
			cp.MethodFunc(http.MethodGet, "/uploads", withCustomer(require(rbac.PermUploadsUse)(portalH.ListUploads)))
			cp.MethodFunc(http.MethodPost, "/uploads/{slot_key}", withCustomer(require(rbac.PermUploadsUse)(portalH.Upload)))
			cp.MethodFunc(http.MethodDelete, "/uploads/{id:[0-9]+}", withCustomer(require(rbac.PermUploadsUse)(portalH.DeleteUpload)))
			cp.MethodFunc(http.MethodGet, "/uploads/{id:[0-9]+}/link", withCustomer(require(rbac.PermUploadsUse)(portalH.SignedLink)))
		})
	})

	return r
}
