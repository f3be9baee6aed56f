package rbac

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

type stubPages struct {
	allowed map[string]bool
}

func (s stubPages) IsPageAllowed(ctx context.Context, userID int64, path string) (bool, error) {
	return s.allowed[path], nil
}

func newAccessRouter(t *testing.T) http.Handler {
	t.Helper()
	src := &stubSource{roles: map[int64][]Role{
		1: {{ID: 1, Name: "auditor", Grants: []Grant{grant(shared.PermAccessView, Unlimited{})}}},
		2: {{ID: 2, Name: "support", Grants: []Grant{
			grant("refund", Capped{Value: 500, Window: Window{Type: LimitDaily, Period: 1}}),
			grant("view_ticket", Unlimited{}),
		}}},
	}}
	evaluator := NewEvaluator(src)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewAccessHandler(logger, evaluator, stubPages{allowed: map[string]bool{"tickets": true}}, Middleware{Evaluator: evaluator, Logger: logger})
	r := chi.NewRouter()
	r.Route("/access", h.MountRoutes)
	return r
}

func getAs(t *testing.T, router http.Handler, caller int64, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), caller))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAccessHandlerQueries(t *testing.T) {
	router := newAccessRouter(t)

	rr := getAs(t, router, 1, "/access/2/limits/refund")
	require.Equal(t, http.StatusOK, rr.Code)
	var limitBody struct {
		Limit struct {
			Granted bool    `json:"granted"`
			Value   float64 `json:"value"`
			Window  string  `json:"window"`
		} `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &limitBody))
	assert.True(t, limitBody.Limit.Granted)
	assert.Equal(t, 500.0, limitBody.Limit.Value)
	assert.Equal(t, "1 day", limitBody.Limit.Window)

	rr = getAs(t, router, 1, "/access/2/permissions/delete_user")
	require.Equal(t, http.StatusOK, rr.Code)
	var d decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.False(t, d.Granted)
	assert.Equal(t, QueryHasPermission, d.Query)

	rr = getAs(t, router, 1, "/access/2/roles/support")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.True(t, d.Granted)

	rr = getAs(t, router, 1, "/access/2/pages?path=tickets")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.True(t, d.Granted)

	rr = getAs(t, router, 1, "/access/2")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap struct {
		Roles       []string `json:"roles"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, []string{"support"}, snap.Roles)
	assert.Equal(t, []string{"refund", "view_ticket"}, snap.Permissions)
}

func TestAccessHandlerRequiresAccessView(t *testing.T) {
	router := newAccessRouter(t)
	rr := getAs(t, router, 2, "/access/1/roles/auditor")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAccessHandlerRejectsBadUserID(t *testing.T) {
	router := newAccessRouter(t)
	rr := getAs(t, router, 1, "/access/abc/roles/x")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
