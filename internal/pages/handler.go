package pages

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Handler exposes the page registry.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers page routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPagesView, shared.PermPagesEdit))
		r.Get("/", h.listPages)
		r.Get("/grants/{subjectType}/{subjectID}", h.listGrants)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermPagesEdit))
		r.Post("/", h.registerPage)
		r.Put("/grants/{subjectType}/{subjectID}", h.replaceGrants)
	})
}

func (h *Handler) listPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list pages", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": pages})
}

func (h *Handler) registerPage(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.Register(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, page)
}

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ids, err := h.service.PagesOf(r.Context(), subject)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grantsResponse{Subject: subject, PageIDs: ids})
}

func (h *Handler) replaceGrants(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in GrantInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ids, err := h.service.GrantPages(r.Context(), subject, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grantsResponse{Subject: subject, PageIDs: ids})
}

type grantsResponse struct {
	rbac.Subject
	PageIDs []int64 `json:"page_ids"`
}

func subjectFromPath(r *http.Request) (rbac.Subject, error) {
	id, err := httpx.URLInt64(r, "subjectID")
	if err != nil {
		return rbac.Subject{}, err
	}
	return rbac.Subject{Type: rbac.SubjectType(chi.URLParam(r, "subjectType")), ID: id}, nil
}
