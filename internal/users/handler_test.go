package users

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/store/memory"
)

const adminID = int64(1)

func newTestRouter(t *testing.T) (http.Handler, rbac.Role) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	view, err := store.CreatePermission(ctx, rbac.Permission{Name: shared.PermUsersView})
	require.NoError(t, err)
	edit, err := store.CreatePermission(ctx, rbac.Permission{Name: shared.PermUsersEdit})
	require.NoError(t, err)
	admin, err := store.CreateRole(ctx, rbac.Role{Name: "user-admin", Grants: []rbac.Grant{{PermissionID: edit.ID, Quota: rbac.Unlimited{}}}})
	require.NoError(t, err)
	viewer, err := store.CreateRole(ctx, rbac.Role{Name: "user-viewer", Grants: []rbac.Grant{{PermissionID: view.ID, Quota: rbac.Unlimited{}}}})
	require.NoError(t, err)
	require.NoError(t, store.AssignRole(ctx, adminID, admin.ID))

	h := NewHandler(logger, NewService(store, Options{Logger: logger}), rbac.Middleware{Evaluator: rbac.NewEvaluator(store), Logger: logger})
	r := chi.NewRouter()
	r.Route("/users", h.MountRoutes)
	return r, viewer
}

func call(router http.Handler, caller int64, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), caller))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAssignmentTakesEffectImmediately(t *testing.T) {
	router, viewer := newTestRouter(t)
	const target = int64(9)

	rr := call(router, target, http.MethodGet, fmt.Sprintf("/users/%d/roles", target))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = call(router, adminID, http.MethodPut, fmt.Sprintf("/users/%d/roles/%d", target, viewer.ID))
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = call(router, target, http.MethodGet, fmt.Sprintf("/users/%d/roles", target))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		UserID int64       `json:"user_id"`
		Roles  []rbac.Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, target, body.UserID)
	require.Len(t, body.Roles, 1)
	assert.Equal(t, "user-viewer", body.Roles[0].Name)

	rr = call(router, target, http.MethodDelete, fmt.Sprintf("/users/%d/roles/%d", target, viewer.ID))
	assert.Equal(t, http.StatusForbidden, rr.Code, "viewers cannot edit assignments")

	rr = call(router, adminID, http.MethodDelete, fmt.Sprintf("/users/%d/roles/%d", target, viewer.ID))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = call(router, target, http.MethodGet, fmt.Sprintf("/users/%d/roles", target))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAssignUnknownRole(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := call(router, adminID, http.MethodPut, "/users/9/roles/404")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(router, adminID, http.MethodPut, "/users/x/roles/1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
