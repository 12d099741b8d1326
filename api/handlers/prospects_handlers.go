package handlers

import (
	"encoding/json"
	"net/http"

	"pipewise-ops/core/prospects"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

const signupPayloadMaxBytes = 64 * 1024

type ProspectsHandler struct {
	svc       *prospects.Service
	prospects store.ProspectsStore
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewProspectsHandler(svc *prospects.Service, ps store.ProspectsStore, audits store.AuditStore, logger *utils.Logger) *ProspectsHandler {
	return &ProspectsHandler{svc: svc, prospects: ps, audits: audits, logger: logger}
}

type prospectPayload struct {
	CompanyName   string `json:"company_name"`
	CompanyDomain string `json:"company_domain"`
	ContactEmail  string `json:"contact_email"`
	ContactName   string `json:"contact_name"`
	Source        string `json:"source"`
}

// Signup is the public inbound lead intake. It creates the prospect and
// immediately dispatches the scan; a dispatch failure still returns the
// created prospect.
func (h *ProspectsHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var payload prospectPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, signupPayloadMaxBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, prospects.ErrorCodeInvalidRequest, "prospects.error.invalidBody")
		return
	}
	p, err := h.svc.Create(r.Context(), "signup", prospects.CreateInput{
		CompanyName:   payload.CompanyName,
		CompanyDomain: payload.CompanyDomain,
		ContactEmail:  payload.ContactEmail,
		ContactName:   payload.ContactName,
		Source:        prospects.SourceInbound,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	result, err := h.svc.ReuseOrDispatch(r.Context(), "signup", p.ID)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("signup dispatch prospect=%d: %v", p.ID, err)
		}
		writeJSON(w, http.StatusCreated, map[string]any{"prospect": p})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"prospect": result.Prospect,
		"reused":   result.Reused,
	})
}

// Create is the staff-entered outbound intake. It only records the prospect;
// dispatch is an explicit second step.
func (h *ProspectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload prospectPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, signupPayloadMaxBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, prospects.ErrorCodeInvalidRequest, "prospects.error.invalidBody")
		return
	}
	source := payload.Source
	if source == "" {
		source = prospects.SourceOutbound
	}
	p, err := h.svc.Create(r.Context(), actorName(r), prospects.CreateInput{
		CompanyName:   payload.CompanyName,
		CompanyDomain: payload.CompanyDomain,
		ContactEmail:  payload.ContactEmail,
		ContactName:   payload.ContactName,
		Source:        source,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"prospect": p})
}

func (h *ProspectsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ProspectFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Limit:  parseIntDefault(q.Get("limit"), 100),
		Offset: parseIntDefault(q.Get("offset"), 0),
	}
	if orgID, ok := pathInt64(q.Get("organization_id")); ok {
		filter.OrganizationID = &orgID
	}
	items, err := h.prospects.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *ProspectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, prospects.ErrorCodeInvalidRequest, "prospects.error.invalidId")
		return
	}
	p, err := h.prospects.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, prospects.ErrorCodeNotFound, "prospects.error.notFound")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prospect": p})
}

func (h *ProspectsHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, prospects.ErrorCodeInvalidRequest, "prospects.error.invalidId")
		return
	}
	result, err := h.svc.ReuseOrDispatch(r.Context(), actorName(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prospect": result.Prospect,
		"reused":   result.Reused,
		"skipped":  result.Skipped,
	})
}

func (h *ProspectsHandler) Qualify(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, prospects.ErrorCodeInvalidRequest, "prospects.error.invalidId")
		return
	}
	p, err := h.svc.Qualify(r.Context(), actorName(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prospect": p})
}

func actorName(r *http.Request) string {
	if p := currentPrincipal(r); p != nil {
		return p.Name
	}
	return "-"
}
