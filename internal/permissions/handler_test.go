package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/store/memory"
)

const (
	editorID = int64(1)
	viewerID = int64(2)
)

func newTestRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	view, err := store.CreatePermission(ctx, rbac.Permission{Name: shared.PermPermissionsView})
	require.NoError(t, err)
	edit, err := store.CreatePermission(ctx, rbac.Permission{Name: shared.PermPermissionsEdit})
	require.NoError(t, err)
	editor, err := store.CreateRole(ctx, rbac.Role{Name: "editor", Grants: []rbac.Grant{{PermissionID: edit.ID, Quota: rbac.Unlimited{}}}})
	require.NoError(t, err)
	viewer, err := store.CreateRole(ctx, rbac.Role{Name: "viewer", Grants: []rbac.Grant{{PermissionID: view.ID, Quota: rbac.Unlimited{}}}})
	require.NoError(t, err)
	require.NoError(t, store.AssignRole(ctx, editorID, editor.ID))
	require.NoError(t, store.AssignRole(ctx, viewerID, viewer.ID))

	evaluator := rbac.NewEvaluator(store)
	svc := NewService(store, Options{Logger: logger})
	h := NewHandler(logger, svc, rbac.Middleware{Evaluator: evaluator, Logger: logger})
	r := chi.NewRouter()
	r.Route("/permissions", h.MountRoutes)
	return r, store
}

func do(t *testing.T, router http.Handler, caller int64, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), caller))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCRUD(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := do(t, router, editorID, http.MethodPost, "/permissions/", map[string]any{"name": "refund", "requires_value": true})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created rbac.Permission
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "refund", created.Name)

	rr = do(t, router, editorID, http.MethodPost, "/permissions/", map[string]any{"name": "Refund"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, editorID, http.MethodPost, "/permissions/", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"field":"name"`)

	target := "/permissions/" + strconv.FormatInt(created.ID, 10)
	rr = do(t, router, editorID, http.MethodPatch, target, map[string]any{"description": "money back"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, router, viewerID, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got rbac.Permission
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "money back", got.Description)
	assert.True(t, got.RequiresValue, "fields missing from a PATCH body keep their value")

	rr = do(t, router, viewerID, http.MethodGet, "/permissions/?search=ref", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Pagination.Total)

	rr = do(t, router, editorID, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, router, viewerID, http.MethodGet, target, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerGuardsEditRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := do(t, router, viewerID, http.MethodPost, "/permissions/", map[string]any{"name": "refund"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, 77, http.MethodGet, "/permissions/", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandlerBulkReportsMultiStatus(t *testing.T) {
	router, store := newTestRouter(t)
	p, err := store.CreatePermission(context.Background(), rbac.Permission{Name: "refund"})
	require.NoError(t, err)

	rr := do(t, router, editorID, http.MethodPost, "/permissions/bulk/requires-value", map[string]any{"ids": []int64{p.ID, 404}, "requires_value": true})
	require.Equal(t, http.StatusMultiStatus, rr.Code)
	var report struct {
		Succeeded []int64 `json:"succeeded"`
		Failed    []struct {
			ID    int64  `json:"id"`
			Error string `json:"error"`
		} `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, []int64{p.ID}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "permission 404 not found", report.Failed[0].Error)

	rr = do(t, router, editorID, http.MethodPost, "/permissions/bulk/requires-value", map[string]any{"ids": []int64{p.ID}, "requires_value": false})
	assert.Equal(t, http.StatusOK, rr.Code)
}
