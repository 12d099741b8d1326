package handlers

import (
	"encoding/json"
	"net/http"

	"pipewise-ops/core/apperr"
	"pipewise-ops/core/prospects"
	"pipewise-ops/core/requirements"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
	"pipewise-ops/core/workflow"
)

type WorkflowHandler struct {
	dispatcher   *workflow.Dispatcher
	callbacks    *workflow.CallbackHandler
	requirements *requirements.Service
	prospects    *prospects.Service
	assessments  store.AssessmentsStore
	executions   store.WorkflowStore
	orgs         store.OrganizationsStore
	logger       *utils.Logger
}

func NewWorkflowHandler(dispatcher *workflow.Dispatcher, callbacks *workflow.CallbackHandler, reqs *requirements.Service, prospectsSvc *prospects.Service, assessments store.AssessmentsStore, executions store.WorkflowStore, orgs store.OrganizationsStore, logger *utils.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		dispatcher:   dispatcher,
		callbacks:    callbacks,
		requirements: reqs,
		prospects:    prospectsSvc,
		assessments:  assessments,
		executions:   executions,
		orgs:         orgs,
		logger:       logger,
	}
}

type assessmentPayload struct {
	OrganizationID int64 `json:"organization_id"`
}

func (h *WorkflowHandler) CreateAssessment(w http.ResponseWriter, r *http.Request) {
	var payload assessmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.OrganizationID <= 0 {
		writeError(w, http.StatusBadRequest, workflow.ErrorCodeNotFound, "assessments.error.invalidBody")
		return
	}
	org, err := h.orgs.Get(r.Context(), payload.OrganizationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	if org == nil {
		writeError(w, http.StatusNotFound, workflow.ErrorCodeNotFound, "assessments.error.organizationNotFound")
		return
	}
	id, err := h.assessments.Create(r.Context(), payload.OrganizationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	assessment, err := h.assessments.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"assessment": assessment})
}

func (h *WorkflowHandler) StartRequirementsGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, workflow.ErrorCodeNotFound, "workflow.error.invalidId")
		return
	}
	exec, err := h.dispatcher.StartRequirementsGeneration(r.Context(), id)
	if err != nil {
		// Duplicate triggers come back with the existing execution so the
		// caller can show its state.
		if de, ok := apperr.As(err); ok && exec != nil {
			writeJSON(w, errorHTTPStatus(de.Code), map[string]any{
				"error": map[string]any{
					"code":     de.Code,
					"i18n_key": de.I18NKey,
				},
				"execution": exec,
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"execution": exec})
}

func (h *WorkflowHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, workflow.ErrorCodeNotFound, "workflow.error.invalidId")
		return
	}
	items, err := h.executions.ListByAssessment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Callback ingests the engine's terminal report for a generation job. A
// completed requirements run also opens forms for customers that opted into
// auto-approval.
func (h *WorkflowHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var payload workflow.CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, workflow.ErrorCodeNotFound, "workflow.error.invalidBody")
		return
	}
	exec, err := h.callbacks.Consume(r.Context(), payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if exec.WorkflowType == workflow.TypePhase2Requirements && exec.Status == "completed" {
		h.requirements.AutoApproveForAssessment(r.Context(), exec.AssessmentID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution": exec})
}

type prospectCallbackPayload struct {
	ProspectID       int64  `json:"prospect_id"`
	Status           string `json:"status"`
	ReportHTML       string `json:"report_html"`
	ReportHTMLPublic string `json:"report_html_public"`
	ErrorMessage     string `json:"error_message"`
}

// ProspectCallback records the outcome of a prospect scan: the report pair on
// success, a retry-ready reset on failure.
func (h *WorkflowHandler) ProspectCallback(w http.ResponseWriter, r *http.Request) {
	var payload prospectCallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ProspectID <= 0 {
		writeError(w, http.StatusBadRequest, prospects.ErrorCodeInvalidRequest, "prospects.error.invalidBody")
		return
	}
	failed := payload.Status == "failed"
	if failed && h.logger != nil {
		h.logger.Errorf("scan failed prospect=%d: %s", payload.ProspectID, payload.ErrorMessage)
	}
	p, err := h.prospects.CompleteScan(r.Context(), payload.ProspectID, payload.ReportHTML, payload.ReportHTMLPublic, failed)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prospect": p})
}
