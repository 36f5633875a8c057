package roles

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warden-admin/warden/internal/platform/httpx"
	"github.com/warden-admin/warden/internal/rbac"
	"github.com/warden-admin/warden/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermRoleRead))
		r.Get("/", h.listRoles)
		r.Get("/{id}", h.getRole)
		r.Get("/{id}/permissions", h.listPermissions)
	})
	r.With(h.rbac.Require(shared.PermRoleCreate)).Post("/", h.createRole)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermRoleEdit))
		r.Put("/{id}", h.updateRole)
		r.Patch("/{id}/permissions", h.setPermissions)
	})
	r.With(h.rbac.Require(shared.PermRoleDelete)).Delete("/{id}", h.deleteRole)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/roles/%d", role.ID))
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var req RoleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, req.Name, req.Description, req.Permissions)
	if err != nil {
		h.fail(w, r, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, r, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	perms, err := h.service.PermissionsOf(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var req PermissionsRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.service.SetRolePermissions(r.Context(), id, req.Permissions)
	if err != nil {
		h.fail(w, r, "set role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid role id", shared.ErrValidation))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
