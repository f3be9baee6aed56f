package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

func newMiddleware(roles map[int64][]Role) Middleware {
	return Middleware{Evaluator: NewEvaluator(&stubSource{roles: roles})}
}

func serve(mw func(http.Handler) http.Handler, userID int64) int {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID > 0 {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), userID))
	}
	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, req)
	return rr.Code
}

func TestRequireAnyAndAll(t *testing.T) {
	m := newMiddleware(map[int64][]Role{
		1: {{ID: 1, Name: "viewer", Grants: []Grant{grant("Roles.View", Unlimited{})}}},
		2: {{ID: 2, Name: "root", IsSuperuser: true}},
	})

	assert.Equal(t, http.StatusNoContent, serve(m.RequireAny("roles.view", "roles.edit"), 1))
	assert.Equal(t, http.StatusForbidden, serve(m.RequireAll("roles.view", "roles.edit"), 1))
	assert.Equal(t, http.StatusNoContent, serve(m.RequireAll("roles.view", "roles.edit"), 2))
	assert.Equal(t, http.StatusForbidden, serve(m.RequireAny("pages.view"), 3))
	assert.Equal(t, http.StatusForbidden, serve(m.RequireAny("roles.view"), 0))
	assert.Equal(t, http.StatusNoContent, serve(m.RequireAny(), 0))
}

func TestNormalizePermissions(t *testing.T) {
	assert.Equal(t, []string{"roles.view", "roles.edit"}, normalizePermissions([]string{"Roles.View", "roles.view", " ", "roles.edit"}))
}
