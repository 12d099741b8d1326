package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pipewise-ops/core/files"
	"pipewise-ops/core/requirements"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

type PortalHandler struct {
	requirements *requirements.Service
	files        *files.Service
	customers    store.CustomersStore
	assessments  store.AssessmentsStore
	logger       *utils.Logger
}

func NewPortalHandler(reqs *requirements.Service, filesSvc *files.Service, customers store.CustomersStore, assessments store.AssessmentsStore, logger *utils.Logger) *PortalHandler {
	return &PortalHandler{requirements: reqs, files: filesSvc, customers: customers, assessments: assessments, logger: logger}
}

func (h *PortalHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	customer := portalCustomer(r)
	if customer == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	form, err := h.requirements.Fetch(r.Context(), customer.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

type answerPayload struct {
	AnswerText string  `json:"answer_text"`
	AnswerJSON *string `json:"answer_json,omitempty"`
}

func (h *PortalHandler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	customer := portalCustomer(r)
	if customer == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	questionID, ok := urlParamInt64(r, "question_id")
	if !ok {
		writeError(w, http.StatusBadRequest, requirements.ErrorCodeNotFound, "requirements.error.invalidQuestionId")
		return
	}
	var payload answerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, requirements.ErrorCodeNotFound, "requirements.error.invalidBody")
		return
	}
	answer, err := h.requirements.SaveAnswer(r.Context(), customer.ID, requirements.SaveAnswerInput{
		QuestionID: questionID,
		AnswerText: payload.AnswerText,
		AnswerJSON: payload.AnswerJSON,
		AnsweredBy: actorName(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answer": answer})
}

func (h *PortalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	customer := portalCustomer(r)
	if customer == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	result, err := h.requirements.Submit(r.Context(), customer.ID, actorName(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PortalHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	customer := portalCustomer(r)
	if customer == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	assessment, err := h.customerAssessment(r, customer)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items, err := h.files.ListByAssessment(r.Context(), assessment.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *PortalHandler) Upload(w http.ResponseWriter, r *http.Request) {
	customer := portalCustomer(r)
	if customer == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if customer.RequirementsApprovedAt == nil {
		writeError(w, http.StatusForbidden, requirements.ErrorCodeNotAvailable, "requirements.error.notApproved")
		return
	}
	assessment, err := h.customerAssessment(r, customer)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, files.ErrorCodeInvalidRequest, "files.error.missingFile")
		return
	}
	defer func() { _ = file.Close() }()

	upload, err := h.files.Save(r.Context(), files.SaveInput{
		AssessmentID: assessment.ID,
		SlotKey:      chi.URLParam(r, "slot_key"),
		FileName:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		UploadedBy:   actorName(r),
	}, file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"upload": upload})
}

func (h *PortalHandler) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	customer := portalCustomer(r)
	if customer == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, files.ErrorCodeInvalidRequest, "files.error.invalidId")
		return
	}
	if !h.ownsUpload(r, customer, id) {
		writeError(w, http.StatusNotFound, files.ErrorCodeNotFound, "files.error.notFound")
		return
	}
	if err := h.files.Delete(r.Context(), id, actorName(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// SignedLink mints a time-boxed download URL for one of the caller's uploads.
func (h *PortalHandler) SignedLink(w http.ResponseWriter, r *http.Request) {
	customer := portalCustomer(r)
	if customer == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, files.ErrorCodeInvalidRequest, "files.error.invalidId")
		return
	}
	if !h.ownsUpload(r, customer, id) {
		writeError(w, http.StatusNotFound, files.ErrorCodeNotFound, "files.error.notFound")
		return
	}
	token := h.files.SignDownloadToken(id, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]any{
		"url": "/api/files/download?token=" + token,
	})
}

// Download serves a blob by signed token. The token is the only credential.
func (h *PortalHandler) Download(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, files.ErrorCodeInvalidRequest, "files.error.missingToken")
		return
	}
	id, err := h.files.VerifyDownloadToken(token, time.Now().UTC())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	upload, blob, err := h.files.Open(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer func() { _ = blob.Close() }()
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+upload.FileName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, blob)
}

// ListAssessmentUploads is the staff-side listing by assessment id.
func (h *PortalHandler) ListAssessmentUploads(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, files.ErrorCodeInvalidRequest, "files.error.invalidId")
		return
	}
	items, err := h.files.ListByAssessment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *PortalHandler) customerAssessment(r *http.Request, customer *store.Customer) (*store.Assessment, error) {
	assessment, err := h.assessments.LatestByOrganization(r.Context(), customer.OrganizationID)
	if err != nil {
		return nil, err
	}
	if assessment == nil {
		return nil, requirementsAssessmentMissing(customer.OrganizationID)
	}
	return assessment, nil
}

func (h *PortalHandler) ownsUpload(r *http.Request, customer *store.Customer, uploadID int64) bool {
	assessment, err := h.assessments.LatestByOrganization(r.Context(), customer.OrganizationID)
	if err != nil || assessment == nil {
		return false
	}
	items, err := h.files.ListByAssessment(r.Context(), assessment.ID)
	if err != nil {
		return false
	}
	for _, item := range items {
		if item.ID == uploadID {
			return true
		}
	}
	return false
}

func portalCustomer(r *http.Request) *store.Customer {
	if p := currentPrincipal(r); p != nil {
		return p.Customer
	}
	return nil
}
