package handlers

import (
	"encoding/json"
	"net/http"

	"pipewise-ops/core/conversion"
	"pipewise-ops/core/requirements"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

type ConversionHandler struct {
	svc          *conversion.Service
	requirements *requirements.Service
	customers    store.CustomersStore
	logger       *utils.Logger
}

func NewConversionHandler(svc *conversion.Service, reqs *requirements.Service, customers store.CustomersStore, logger *utils.Logger) *ConversionHandler {
	return &ConversionHandler{svc: svc, requirements: reqs, customers: customers, logger: logger}
}

type convertPayload struct {
	ProspectIDs    []int64 `json:"prospect_ids"`
	AccountManager string  `json:"account_manager"`
	Notes          string  `json:"notes"`
	AutoApprove    bool    `json:"auto_approve_requirements"`
}

func (h *ConversionHandler) ConvertBatch(w http.ResponseWriter, r *http.Request) {
	var payload convertPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, conversion.ErrorCodeInvalidRequest, "conversion.error.invalidBody")
		return
	}
	result, err := h.svc.ConvertBatch(r.Context(), actorName(r), conversion.ConvertInput{
		ProspectIDs:    payload.ProspectIDs,
		AccountManager: payload.AccountManager,
		Notes:          payload.Notes,
		AutoApprove:    payload.AutoApprove,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"batch_id":             result.BatchID,
		"customers":            result.Customers,
		"prospect_sync_failed": result.ProspectSyncFailed,
	})
}

func (h *ConversionHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CustomerFilter{
		Status: q.Get("status"),
		Limit:  parseIntDefault(q.Get("limit"), 100),
		Offset: parseIntDefault(q.Get("offset"), 0),
	}
	if orgID, ok := pathInt64(q.Get("organization_id")); ok {
		filter.OrganizationID = &orgID
	}
	items, err := h.customers.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *ConversionHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, conversion.ErrorCodeInvalidRequest, "conversion.error.invalidId")
		return
	}
	c, err := h.customers.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, requirements.ErrorCodeNotFound, "customers.error.notFound")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": c})
}

func (h *ConversionHandler) ApproveRequirements(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, conversion.ErrorCodeInvalidRequest, "conversion.error.invalidId")
		return
	}
	result, err := h.requirements.Approve(r.Context(), id, actorName(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customer":         result.Customer,
		"approved_at":      result.ApprovedAt,
		"already_approved": result.AlreadyApproved,
	})
}

type autoApprovePayload struct {
	Enabled bool `json:"enabled"`
}

func (h *ConversionHandler) SetAutoApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, conversion.ErrorCodeInvalidRequest, "conversion.error.invalidId")
		return
	}
	var payload autoApprovePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, conversion.ErrorCodeInvalidRequest, "conversion.error.invalidBody")
		return
	}
	c, err := h.customers.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, requirements.ErrorCodeNotFound, "customers.error.notFound")
		return
	}
	if err := h.customers.SetAutoApprove(r.Context(), id, payload.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "auto_approve_requirements": payload.Enabled})
}
