package handlers

import (
	"net/http"

	"pipewise-ops/config"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

type AdminHandler struct {
	audits store.AuditStore
	reset  func(r *http.Request) error
	cfg    *config.AppConfig
	logger *utils.Logger
}

func NewAdminHandler(audits store.AuditStore, reset func(r *http.Request) error, cfg *config.AppConfig, logger *utils.Logger) *AdminHandler {
	return &AdminHandler{audits: audits, reset: reset, cfg: cfg, logger: logger}
}

func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	items, err := h.audits.List(r.Context(), limit, parseIntDefault(q.Get("offset"), 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ResetTestData wipes the database back to a clean slate. The route is only
// mounted outside production; this check is the second lock on the door.
func (h *AdminHandler) ResetTestData(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil || h.cfg.IsProduction() || h.reset == nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := h.reset(r); err != nil {
		if h.logger != nil {
			h.logger.Errorf("test data reset: %v", err)
		}
		writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
		return
	}
	_ = h.audits.Log(r.Context(), actorName(r), "admin.reset_test_data", "")
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}
