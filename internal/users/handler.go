package users

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warden-admin/warden/internal/platform/httpx"
	"github.com/warden-admin/warden/internal/rbac"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireSession())
		r.Get("/me", h.getProfile)
		r.Post("/me", h.updateProfile)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermUserRead))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.getUser)
		r.Get("/{id}/roles", h.listUserRoles)
	})
	r.With(h.rbac.Require(shared.PermUserCreate)).Post("/", h.createUser)
	r.With(h.rbac.Require(shared.PermUserEdit)).Put("/{id}", h.updateUser)
	r.With(h.rbac.Require(shared.PermUserDelete)).Delete("/{id}", h.deleteUser)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermUserRoleCreate))
		r.Put("/{id}/roles", h.replaceUserRoles)
		r.Post("/{id}/roles/{roleID}", h.assignRole)
	})
	r.With(h.rbac.Require(shared.PermUserRoleDelete)).Delete("/{id}/roles/{roleID}", h.revokeRole)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageParams(r)
	users, pagination, err := h.service.List(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, r, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": users, "pagination": pagination})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if len(req.RoleIDs) > 0 {
		if err := h.rbac.Permit(r, shared.PermUserRoleCreate); err != nil {
			h.fail(w, r, "create user", err)
			return
		}
	}
	user, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create user", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/users/%d", user.ID))
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpdateUserRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roles, err := h.service.Roles(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) replaceUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ReplaceRolesRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	roles, err := h.service.ReplaceRoles(r.Context(), id, req.RoleIDs)
	if err != nil {
		h.fail(w, r, "replace user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, roleID, err := pathIDs(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.AssignRole(r.Context(), id, roleID); err != nil {
		h.fail(w, r, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	id, roleID, err := pathIDs(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RevokeRole(r.Context(), id, roleID); err != nil {
		h.fail(w, r, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	user, err := h.service.Get(r.Context(), sess.UserID)
	if err != nil {
		h.fail(w, r, "get profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	var req UpdateProfileRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, token, err := h.service.UpdateProfile(r.Context(), sess.UserID, req.Username)
	if err != nil {
		h.fail(w, r, "update profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": user, "token": token})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, key)
	}
	return id, nil
}

func pathIDs(r *http.Request) (int64, int64, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, 0, err
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		return 0, 0, err
	}
	return id, roleID, nil
}
