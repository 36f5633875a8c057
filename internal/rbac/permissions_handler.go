package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warden-admin/warden/internal/platform/httpx"
	"github.com/warden-admin/warden/internal/shared"
)

// PermissionsHandler serves the permission catalog.
type PermissionsHandler struct {
	rbac Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermRoleRead))
		r.Get("/", h.listPermissions)
	})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": shared.Catalog()})
}
