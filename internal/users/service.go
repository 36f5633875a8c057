// Package users manages console accounts and their role assignments.
package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/warden-admin/warden/internal/rbac"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
)

// Assignments is the subset of the assignment store used by user management.
type Assignments interface {
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	RevokeRole(ctx context.Context, userID, roleID int64) error
	RolesOf(ctx context.Context, userID int64) ([]rbac.Role, error)
	DeleteUser(ctx context.Context, userID int64) error
}

// TokenIssuer issues a fresh token for an existing user.
type TokenIssuer interface {
	IssueFor(ctx context.Context, userID int64) (session.Session, string, error)
}

// Service handles user business logic.
type Service struct {
	repo        RepositoryPort
	assignments Assignments
	tokens      TokenIssuer
	audit       rbac.AuditRecorder
	logger      *slog.Logger
	hashCost    int
}

// NewService builds Service instance. audit may be nil.
func NewService(repo RepositoryPort, assignments Assignments, tokens TokenIssuer, audit rbac.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		assignments: assignments,
		tokens:      tokens,
		audit:       audit,
		logger:      logger,
		hashCost:    bcrypt.DefaultCost,
	}
}

// SetHashCost overrides the bcrypt cost for new passwords.
func (s *Service) SetHashCost(cost int) {
	s.hashCost = cost
}

// Create registers a user with an initial role set.
func (s *Service) Create(ctx context.Context, req CreateUserRequest) (User, error) {
	username, err := shared.ValidateUsername(req.Username)
	if err != nil {
		return User{}, err
	}
	hash, err := s.hash(req.Password)
	if err != nil {
		return User{}, err
	}
	user, err := s.repo.Create(ctx, username, hash, uniqueIDs(req.RoleIDs))
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	s.record(ctx, shared.AuditUserCreate, user.ID, map[string]any{"username": user.Username, "roles": user.RoleIDs})
	return user, nil
}

// List returns a page of users.
func (s *Service) List(ctx context.Context, page, perPage int) ([]User, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	users, total, err := s.repo.List(ctx, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// Get returns a single user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// Update applies an administrative edit.
func (s *Service) Update(ctx context.Context, id int64, req UpdateUserRequest) (User, error) {
	var username, hash *string
	if req.Username != nil {
		normalized, err := shared.ValidateUsername(*req.Username)
		if err != nil {
			return User{}, err
		}
		username = &normalized
	}
	if req.Password != nil {
		h, err := s.hash(*req.Password)
		if err != nil {
			return User{}, err
		}
		hash = &h
	}
	if username == nil && hash == nil {
		return s.repo.Get(ctx, id)
	}
	user, err := s.repo.Update(ctx, id, username, hash)
	if err != nil {
		return User{}, fmt.Errorf("update user: %w", err)
	}
	s.record(ctx, shared.AuditUserUpdate, id, map[string]any{"username": user.Username, "password_changed": hash != nil})
	return user, nil
}

// UpdateProfile lets the caller rename itself and returns a token carrying the
// new username.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, username string) (User, string, error) {
	user, err := s.Update(ctx, userID, UpdateUserRequest{Username: &username})
	if err != nil {
		return User{}, "", err
	}
	_, token, err := s.tokens.IssueFor(ctx, userID)
	if err != nil {
		return User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Delete removes the user and its role assignments.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.assignments.DeleteUser(ctx, id)
}

// Roles lists the roles currently held by the user.
func (s *Service) Roles(ctx context.Context, id int64) ([]rbac.Role, error) {
	return s.assignments.RolesOf(ctx, id)
}

// ReplaceRoles sets the user's roles to exactly roleIDs.
func (s *Service) ReplaceRoles(ctx context.Context, id int64, roleIDs []int64) ([]rbac.Role, error) {
	if err := s.assignments.ReplaceUserRoles(ctx, id, roleIDs); err != nil {
		return nil, err
	}
	return s.assignments.RolesOf(ctx, id)
}

// AssignRole grants a single role.
func (s *Service) AssignRole(ctx context.Context, id, roleID int64) error {
	return s.assignments.AssignRole(ctx, id, roleID)
}

// RevokeRole removes a single role.
func (s *Service) RevokeRole(ctx context.Context, id, roleID int64) error {
	return s.assignments.RevokeRole(ctx, id, roleID)
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("%w: password must be at least 8 characters", shared.ErrValidation)
	}
	if len(password) > 72 {
		return "", fmt.Errorf("%w: password must be at most 72 bytes", shared.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{Action: action, Entity: "user", EntityID: strconv.FormatInt(id, 10), Meta: meta}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
