package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// PageChecker answers page access questions.
type PageChecker interface {
	IsPageAllowed(ctx context.Context, userID int64, path string) (bool, error)
}

// AccessHandler exposes evaluator queries for other services.
type AccessHandler struct {
	logger    *slog.Logger
	evaluator *Evaluator
	pages     PageChecker
	rbac      Middleware
}

// NewAccessHandler builds AccessHandler instance.
func NewAccessHandler(logger *slog.Logger, evaluator *Evaluator, pages PageChecker, rbac Middleware) *AccessHandler {
	return &AccessHandler{logger: logger, evaluator: evaluator, pages: pages, rbac: rbac}
}

// MountRoutes registers access query routes.
func (h *AccessHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermAccessView))
		r.Get("/{userID}", h.snapshot)
		r.Get("/{userID}/roles/{name}", h.hasRole)
		r.Get("/{userID}/permissions/{name}", h.hasPermission)
		r.Get("/{userID}/limits/{name}", h.permissionLimit)
		r.Get("/{userID}/pages", h.pageAllowed)
	})
}

type decision struct {
	UserID  int64  `json:"user_id"`
	Query   string `json:"query"`
	Subject string `json:"subject"`
	Granted bool   `json:"granted"`
}

type snapshotResponse struct {
	Access
	Permissions []string `json:"permissions"`
}

func (h *AccessHandler) snapshot(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLInt64(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	access, err := h.evaluator.Snapshot(r.Context(), userID)
	if err != nil {
		h.fail(w, "access snapshot", userID, err)
		return
	}
	perms, err := h.evaluator.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.fail(w, "effective permissions", userID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshotResponse{Access: access, Permissions: perms})
}

func (h *AccessHandler) hasRole(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLInt64(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	ok, err := h.evaluator.HasRole(r.Context(), userID, name)
	if err != nil {
		h.fail(w, "has role", userID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision{UserID: userID, Query: QueryHasRole, Subject: name, Granted: ok})
}

func (h *AccessHandler) hasPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLInt64(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	ok, err := h.evaluator.HasPermission(r.Context(), userID, name)
	if err != nil {
		h.fail(w, "has permission", userID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision{UserID: userID, Query: QueryHasPermission, Subject: name, Granted: ok})
}

func (h *AccessHandler) permissionLimit(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLInt64(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	limit, err := h.evaluator.PermissionLimit(r.Context(), userID, name)
	if err != nil {
		h.fail(w, "permission limit", userID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "permission": name, "limit": limit})
}

func (h *AccessHandler) pageAllowed(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLInt64(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	path := r.URL.Query().Get("path")
	ok, err := h.pages.IsPageAllowed(r.Context(), userID, path)
	if err != nil {
		h.fail(w, "page allowed", userID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision{UserID: userID, Query: "page_allowed", Subject: path, Granted: ok})
}

func (h *AccessHandler) fail(w http.ResponseWriter, op string, userID int64, err error) {
	h.logger.Error(op, slog.Int64("user_id", userID), slog.Any("error", err))
	httpx.RespondError(w, err)
}
