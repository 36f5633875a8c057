// Package roles exposes role management over HTTP.
package roles

import (
	"context"

	"github.com/warden-admin/warden/internal/rbac"
	"github.com/warden-admin/warden/internal/shared"
)

// Service is the part of the assignment store used by the role endpoints.
type Service interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	CreateRole(ctx context.Context, name, description string, perms []string) (rbac.Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string, perms []string) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error
	PermissionsOf(ctx context.Context, roleID int64) ([]shared.Permission, error)
	SetRolePermissions(ctx context.Context, roleID int64, perms []string) ([]shared.Permission, error)
}

// RoleRequest is the payload of POST /roles and PUT /roles/{id}.
type RoleRequest struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Description string   `json:"description" validate:"max=255"`
	Permissions []string `json:"permissions,omitempty"`
}

// PermissionsRequest is the payload of PATCH /roles/{id}/permissions.
type PermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required"`
}

var _ Service = (*rbac.Service)(nil)
