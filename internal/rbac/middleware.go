package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), hasAnyPermission, "rbac require any")
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), hasAllPermissions, "rbac require all")
}

func (m Middleware) require(required []string, check func(Access, []string) bool, op string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			access, err := m.Evaluator.Snapshot(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error(op, slog.Int64("user_id", userID), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if check(access, required) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, shared.ErrForbidden)
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = shared.NameKey(p)
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(access Access, required []string) bool {
	if access.Superuser || len(required) == 0 {
		return true
	}
	for _, r := range required {
		if _, ok := access.Grants[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(access Access, required []string) bool {
	if access.Superuser {
		return true
	}
	for _, r := range required {
		if _, ok := access.Grants[r]; !ok {
			return false
		}
	}
	return true
}
