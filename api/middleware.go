package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pipewise-ops/core/auth"
	"pipewise-ops/core/rbac"
)

const portalTokenHeader = "X-Portal-Token"

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if s.logger != nil {
					s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, string(debug.Stack()))
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.logger != nil {
			actor := "-"
			if v := r.Context().Value(auth.PrincipalContextKey); v != nil {
				actor = v.(*auth.Principal).Name
			}
			s.logger.Printf("RESP %s %s actor=%s status=%d dur=%s bytes=%d", r.Method, r.URL.Path, actor, rec.status, time.Since(start), rec.size)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// withAdmin authenticates the shared operations-staff bearer token against
// its bcrypt hash from config. No hash configured means no admin surface.
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := ""
		if s.cfg != nil {
			hash = strings.TrimSpace(s.cfg.Auth.AdminTokenHash)
		}
		token := bearerToken(r)
		if hash == "" || token == "" {
			s.authFail(r, "missing admin credentials")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			s.authFail(r, "bad admin token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), auth.PrincipalContextKey, auth.Admin())
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// withCustomer resolves the portal token to a customer record.
func (s *Server) withCustomer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(portalTokenHeader))
		if token == "" {
			token = bearerToken(r)
		}
		if token == "" {
			s.authFail(r, "missing portal token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		customer, err := s.deps.Customers.GetByPortalToken(r.Context(), token)
		if err != nil || customer == nil {
			s.authFail(r, "portal token not recognised")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), auth.PrincipalContextKey, auth.CustomerPrincipal(customer))
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// withCallbackToken authenticates the workflow engine's shared secret.
func (s *Server) withCallbackToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		want := ""
		if s.cfg != nil {
			want = strings.TrimSpace(s.cfg.Auth.CallbackToken)
		}
		got := strings.TrimSpace(r.Header.Get("X-Callback-Token"))
		if got == "" {
			got = bearerToken(r)
		}
		if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
			s.authFail(r, "bad callback token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), auth.PrincipalContextKey, auth.Engine())
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func (s *Server) requirePermission(perm rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			val := r.Context().Value(auth.PrincipalContextKey)
			if val == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			p := val.(*auth.Principal)
			if !s.policy.Allowed(p.Role, perm) {
				if s.logger != nil {
					s.logger.Printf("PERM fail %s %s actor=%s role=%s need=%s", r.Method, r.URL.Path, p.Name, p.Role, perm)
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

func (s *Server) authFail(r *http.Request, reason string) {
	if s.logger != nil {
		s.logger.Printf("AUTH fail (%s) %s %s", reason, r.Method, r.URL.Path)
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
