// Package rbac owns role and assignment state and decides whether a session
// may perform an action.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/warden-admin/warden/internal/shared"
)

// AuditRecorder persists audit entries for successful mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates assignment store operations.
type Service struct {
	repo   Repository
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService constructs a Service. audit may be nil.
func NewService(repo Repository, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// ListRoles returns all roles ordered by name, each with its permission set.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role with an optional initial permission set.
func (s *Service) CreateRole(ctx context.Context, name, description string, perms []string) (Role, error) {
	name, description, err := normalizeRole(name, description)
	if err != nil {
		return Role{}, err
	}
	parsed, err := shared.ParsePermissions(perms)
	if err != nil {
		return Role{}, err
	}
	var created Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.InsertRole(ctx, name, description)
		if err != nil {
			return err
		}
		if len(parsed) > 0 {
			if err := tx.ReplaceRolePermissions(ctx, role.ID, parsed); err != nil {
				return err
			}
		}
		role.Permissions = parsed
		created = role
		return nil
	})
	if err != nil {
		return Role{}, fmt.Errorf("create role: %w", err)
	}
	s.record(ctx, shared.AuditRoleCreate, "role", created.ID, map[string]any{"name": created.Name, "permissions": parsed})
	return created, nil
}

// UpdateRole renames a role and replaces its description. A non-nil perms
// also replaces the permission set in the same transaction.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string, perms []string) (Role, error) {
	name, description, err := normalizeRole(name, description)
	if err != nil {
		return Role{}, err
	}
	var parsed []shared.Permission
	if perms != nil {
		if parsed, err = shared.ParsePermissions(perms); err != nil {
			return Role{}, err
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockRole(ctx, id); err != nil {
			return err
		}
		if _, err := tx.UpdateRole(ctx, id, name, description); err != nil {
			return err
		}
		if parsed != nil {
			return tx.ReplaceRolePermissions(ctx, id, parsed)
		}
		return nil
	})
	if err != nil {
		return Role{}, fmt.Errorf("update role: %w", err)
	}
	meta := map[string]any{"name": name}
	if parsed != nil {
		meta["permissions"] = parsed
	}
	s.record(ctx, shared.AuditRoleUpdate, "role", id, meta)
	return s.repo.GetRole(ctx, id)
}

// AssignRole grants roleID to userID. Assigning a role the user already holds
// is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		if err := tx.LockRole(ctx, roleID); err != nil {
			return err
		}
		return tx.InsertUserRole(ctx, userID, roleID)
	})
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	s.record(ctx, shared.AuditUserRoles, "user", userID, map[string]any{"assigned": roleID})
	return nil
}

// RevokeRole removes roleID from userID. Revoking a role the user does not
// hold is a no-op, but both ids must exist.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		if err := tx.LockRole(ctx, roleID); err != nil {
			return err
		}
		return tx.DeleteUserRole(ctx, userID, roleID)
	})
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	s.record(ctx, shared.AuditUserRoles, "user", userID, map[string]any{"revoked": roleID})
	return nil
}

// ReplaceUserRoles sets the user's role set to exactly roleIDs.
func (s *Service) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	ids := uniqueIDs(roleIDs)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		if err := tx.LockRoles(ctx, ids); err != nil {
			return err
		}
		if err := tx.DeleteUserRoles(ctx, userID); err != nil {
			return err
		}
		for _, roleID := range ids {
			if err := tx.InsertUserRole(ctx, userID, roleID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace user roles: %w", err)
	}
	s.record(ctx, shared.AuditUserRoles, "user", userID, map[string]any{"roles": ids})
	return nil
}

// SetRolePermissions replaces the role's permission set wholesale. Every key
// must belong to the catalog; duplicates collapse.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, perms []string) ([]shared.Permission, error) {
	parsed, err := shared.ParsePermissions(perms)
	if err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockRole(ctx, roleID); err != nil {
			return err
		}
		return tx.ReplaceRolePermissions(ctx, roleID, parsed)
	})
	if err != nil {
		return nil, fmt.Errorf("set role permissions: %w", err)
	}
	s.record(ctx, shared.AuditRolePermissions, "role", roleID, map[string]any{"permissions": parsed})
	return parsed, nil
}

// RolesOf returns the roles currently held by userID.
func (s *Service) RolesOf(ctx context.Context, userID int64) ([]Role, error) {
	return s.repo.RolesOfUser(ctx, userID)
}

// PermissionsOf returns the permission set of roleID.
func (s *Service) PermissionsOf(ctx context.Context, roleID int64) ([]shared.Permission, error) {
	return s.repo.RolePermissions(ctx, roleID)
}

// DeleteRole removes the role and every assignment of it.
func (s *Service) DeleteRole(ctx context.Context, roleID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockRole(ctx, roleID); err != nil {
			return err
		}
		if err := tx.DeleteRoleAssignments(ctx, roleID); err != nil {
			return err
		}
		return tx.DeleteRole(ctx, roleID)
	})
	if err != nil {
		return fmt.Errorf("delete role: %w", cascadeError(err))
	}
	s.record(ctx, shared.AuditRoleDelete, "role", roleID, nil)
	return nil
}

// DeleteUser removes the user together with its role assignments. Tokens
// issued to the user stop authorizing immediately.
func (s *Service) DeleteUser(ctx context.Context, userID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		if err := tx.DeleteUserRoles(ctx, userID); err != nil {
			return err
		}
		return tx.DeleteUser(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", cascadeError(err))
	}
	s.record(ctx, shared.AuditUserDelete, "user", userID, nil)
	return nil
}

func (s *Service) record(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// cascadeError reports an interrupted cascade as ErrConflictingState. The
// transaction has already been rolled back at this point.
func cascadeError(err error) error {
	switch {
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrConflictingState):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", shared.ErrConflictingState, err)
	}
}

func normalizeRole(name, description string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("%w: role name required", shared.ErrValidation)
	}
	if len(name) > 64 {
		return "", "", fmt.Errorf("%w: role name too long", shared.ErrValidation)
	}
	return name, strings.TrimSpace(description), nil
}
