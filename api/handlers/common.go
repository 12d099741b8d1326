package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pipewise-ops/core/apperr"
	"pipewise-ops/core/auth"
	"pipewise-ops/core/conversion"
	"pipewise-ops/core/files"
	"pipewise-ops/core/prospects"
	"pipewise-ops/core/requirements"
	"pipewise-ops/core/workflow"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, i18nKey string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":     code,
			"i18n_key": i18nKey,
		},
	})
}

// writeServiceError maps a service error onto the JSON envelope. Unknown
// errors become an opaque 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if de, ok := apperr.As(err); ok {
		body := map[string]any{
			"error": map[string]any{
				"code":     de.Code,
				"i18n_key": de.I18NKey,
			},
		}
		if len(de.Fields) > 0 {
			body["error"].(map[string]any)["fields"] = de.Fields
		}
		writeJSON(w, errorHTTPStatus(de.Code), body)
		return
	}
	writeError(w, http.StatusInternalServerError, "app.internal", "common.serverError")
}

func errorHTTPStatus(code string) int {
	switch code {
	case prospects.ErrorCodeNotFound,
		conversion.ErrorCodeMissingProspects,
		requirements.ErrorCodeNotFound,
		files.ErrorCodeNotFound,
		workflow.ErrorCodeNotFound:
		return http.StatusNotFound
	case prospects.ErrorCodeDuplicate,
		prospects.ErrorCodeIllegalStatus,
		requirements.ErrorCodeAlreadySubmitted,
		workflow.ErrorCodeAlreadyRunning,
		workflow.ErrorCodeAlreadyCompleted:
		return http.StatusConflict
	case requirements.ErrorCodeNotAvailable:
		return http.StatusForbidden
	case requirements.ErrorCodeIncomplete,
		requirements.ErrorCodeNoQuestions,
		conversion.ErrorCodeNotReady,
		conversion.ErrorCodeNoOrganization,
		conversion.ErrorCodeMixedOrgs:
		return http.StatusUnprocessableEntity
	case files.ErrorCodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case files.ErrorCodeBadSignature, files.ErrorCodeExpired:
		return http.StatusForbidden
	case prospects.ErrorCodeInvalidRequest,
		conversion.ErrorCodeInvalidRequest,
		files.ErrorCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func requirementsAssessmentMissing(orgID int64) error {
	return apperr.New(requirements.ErrorCodeNotFound, "requirements.error.assessmentNotFound").With("organization_id", orgID)
}

func currentPrincipal(r *http.Request) *auth.Principal {
	if v := r.Context().Value(auth.PrincipalContextKey); v != nil {
		return v.(*auth.Principal)
	}
	return nil
}

func pathInt64(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func urlParamInt64(r *http.Request, key string) (int64, bool) {
	return pathInt64(chi.URLParam(r, key))
}

func parseIntDefault(raw string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}
