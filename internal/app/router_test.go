package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/observability"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPrincipalFromHeader(t *testing.T) {
	var (
		gotID int64
		gotOK bool
	)
	handler := PrincipalFromHeader("X-User-ID", discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotOK = shared.PrincipalFromContext(r.Context())
	}))

	cases := []struct {
		header string
		wantID int64
		wantOK bool
	}{
		{" 42 ", 42, true},
		{"", 0, false},
		{"abc", 0, false},
		{"-3", 0, false},
	}
	for _, tc := range cases {
		gotID, gotOK = 0, false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("X-User-ID", tc.header)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, tc.wantOK, gotOK, tc.header)
		assert.Equal(t, tc.wantID, gotID, tc.header)
	}
}

func TestRouterHealthz(t *testing.T) {
	var ready error
	router := NewRouter(RouterParams{
		Logger:  discardLogger(),
		Config:  &Config{AuthUserHeader: "X-User-ID"},
		Metrics: observability.NewMetrics(),
		Ready:   func(*http.Request) error { return ready },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	ready = errors.New("redis down")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/roles/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "unmounted handlers are absent")
}
