package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Handler exposes role assignments per user.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers assignment routes under /users.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersView, shared.PermUsersEdit))
		r.Get("/{userID}/roles", h.listRoles)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermUsersEdit))
		r.Put("/{userID}/roles/{roleID}", h.assign)
		r.Delete("/{userID}/roles/{roleID}", h.revoke)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLInt64(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roles, err := h.service.RolesOf(r.Context(), userID)
	if err != nil {
		h.logger.Error("list user roles", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "roles": roles})
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	userID, roleID, err := pathIDs(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Assign(r.Context(), userID, roleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	userID, roleID, err := pathIDs(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Revoke(r.Context(), userID, roleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathIDs(r *http.Request) (int64, int64, error) {
	userID, err := httpx.URLInt64(r, "userID")
	if err != nil {
		return 0, 0, err
	}
	roleID, err := httpx.URLInt64(r, "roleID")
	if err != nil {
		return 0, 0, err
	}
	return userID, roleID, nil
}
