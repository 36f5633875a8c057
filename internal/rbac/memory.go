package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warden-admin/warden/internal/shared"
)

// MemoryRepository is an in-process assignment store with the same semantics
// as the PostgreSQL one. Transactions hold the store mutex and work on a copy
// that replaces the live state only when fn succeeds.
type MemoryRepository struct {
	mu     sync.RWMutex
	state  *memoryState
	now    func() time.Time
	failOn func(op string) error
}

type memoryState struct {
	users      map[int64]Subject
	roles      map[int64]Role
	userRoles  map[int64]map[int64]struct{}
	nextRoleID int64
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			users:      make(map[int64]Subject),
			roles:      make(map[int64]Role),
			userRoles:  make(map[int64]map[int64]struct{}),
			nextRoleID: 1,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// FailOn installs a hook consulted before every transactional write. A non-nil
// return aborts the transaction with that error.
func (m *MemoryRepository) FailOn(hook func(op string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = hook
}

// PutUser inserts or renames a user. Users are owned by the users package; the
// store only needs their existence.
func (m *MemoryRepository) PutUser(id int64, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.users[id] = Subject{ID: id, Username: username}
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft := m.state.clone()
	if err := fn(ctx, &memoryTx{state: draft, now: m.now, failOn: m.failOn}); err != nil {
		return err
	}
	m.state = draft
	return nil
}

func (m *MemoryRepository) GetUser(_ context.Context, id int64) (Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.state.users[id]
	if !ok {
		return Subject{}, fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return u, nil
}

func (m *MemoryRepository) GetRole(_ context.Context, id int64) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.state.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	return cloneRole(r), nil
}

func (m *MemoryRepository) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roles := make([]Role, 0, len(m.state.roles))
	for _, r := range m.state.roles {
		roles = append(roles, cloneRole(r))
	}
	sortRolesByName(roles)
	return roles, nil
}

func (m *MemoryRepository) UserRoleIDs(_ context.Context, userID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.roleIDsOf(userID), nil
}

func (m *MemoryRepository) RolesOfUser(_ context.Context, userID int64) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.state.users[userID]; !ok {
		return nil, fmt.Errorf("user %d: %w", userID, shared.ErrNotFound)
	}
	ids := m.state.roleIDsOf(userID)
	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		roles = append(roles, cloneRole(m.state.roles[id]))
	}
	sortRolesByName(roles)
	return roles, nil
}

func (m *MemoryRepository) RolePermissions(_ context.Context, roleID int64) ([]shared.Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.state.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}
	return cloneRole(r).Permissions, nil
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		users:      make(map[int64]Subject, len(s.users)),
		roles:      make(map[int64]Role, len(s.roles)),
		userRoles:  make(map[int64]map[int64]struct{}, len(s.userRoles)),
		nextRoleID: s.nextRoleID,
	}
	for id, u := range s.users {
		out.users[id] = u
	}
	for id, r := range s.roles {
		out.roles[id] = cloneRole(r)
	}
	for uid, set := range s.userRoles {
		cp := make(map[int64]struct{}, len(set))
		for rid := range set {
			cp[rid] = struct{}{}
		}
		out.userRoles[uid] = cp
	}
	return out
}

func (s *memoryState) roleIDsOf(userID int64) []int64 {
	set := s.userRoles[userID]
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type memoryTx struct {
	state  *memoryState
	now    func() time.Time
	failOn func(op string) error
}

func (t *memoryTx) check(op string) error {
	if t.failOn == nil {
		return nil
	}
	return t.failOn(op)
}

func (t *memoryTx) LockUser(_ context.Context, id int64) error {
	if _, ok := t.state.users[id]; !ok {
		return fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *memoryTx) LockRole(_ context.Context, id int64) error {
	if _, ok := t.state.roles[id]; !ok {
		return fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *memoryTx) LockRoles(_ context.Context, ids []int64) error {
	var missing []int64
	for _, id := range uniqueIDs(ids) {
		if _, ok := t.state.roles[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("role ids %v: %w", missing, shared.ErrNotFound)
	}
	return nil
}

func (t *memoryTx) InsertUserRole(_ context.Context, userID, roleID int64) error {
	if err := t.check("InsertUserRole"); err != nil {
		return err
	}
	set, ok := t.state.userRoles[userID]
	if !ok {
		set = make(map[int64]struct{})
		t.state.userRoles[userID] = set
	}
	set[roleID] = struct{}{}
	return nil
}

func (t *memoryTx) DeleteUserRole(_ context.Context, userID, roleID int64) error {
	if err := t.check("DeleteUserRole"); err != nil {
		return err
	}
	delete(t.state.userRoles[userID], roleID)
	return nil
}

func (t *memoryTx) DeleteUserRoles(_ context.Context, userID int64) error {
	if err := t.check("DeleteUserRoles"); err != nil {
		return err
	}
	delete(t.state.userRoles, userID)
	return nil
}

func (t *memoryTx) InsertRole(_ context.Context, name, description string) (Role, error) {
	if err := t.check("InsertRole"); err != nil {
		return Role{}, err
	}
	if t.nameTaken(name, 0) {
		return Role{}, fmt.Errorf("%w: role name %q", shared.ErrDuplicate, name)
	}
	now := t.now()
	role := Role{
		ID:          t.state.nextRoleID,
		Name:        name,
		Description: description,
		Permissions: []shared.Permission{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.state.nextRoleID++
	t.state.roles[role.ID] = role
	return cloneRole(role), nil
}

func (t *memoryTx) UpdateRole(_ context.Context, id int64, name, description string) (Role, error) {
	if err := t.check("UpdateRole"); err != nil {
		return Role{}, err
	}
	role, ok := t.state.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	if t.nameTaken(name, id) {
		return Role{}, fmt.Errorf("%w: role name %q", shared.ErrDuplicate, name)
	}
	role.Name = name
	role.Description = description
	role.UpdatedAt = t.now()
	t.state.roles[id] = role
	return cloneRole(role), nil
}

func (t *memoryTx) ReplaceRolePermissions(_ context.Context, roleID int64, perms []shared.Permission) error {
	if err := t.check("ReplaceRolePermissions"); err != nil {
		return err
	}
	role, ok := t.state.roles[roleID]
	if !ok {
		return fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}
	role.Permissions = append([]shared.Permission{}, perms...)
	shared.SortPermissions(role.Permissions)
	t.state.roles[roleID] = role
	return nil
}

func (t *memoryTx) DeleteRoleAssignments(_ context.Context, roleID int64) error {
	if err := t.check("DeleteRoleAssignments"); err != nil {
		return err
	}
	for _, set := range t.state.userRoles {
		delete(set, roleID)
	}
	return nil
}

func (t *memoryTx) DeleteRole(_ context.Context, roleID int64) error {
	if err := t.check("DeleteRole"); err != nil {
		return err
	}
	if _, ok := t.state.roles[roleID]; !ok {
		return fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}
	delete(t.state.roles, roleID)
	return nil
}

func (t *memoryTx) DeleteUser(_ context.Context, userID int64) error {
	if err := t.check("DeleteUser"); err != nil {
		return err
	}
	if _, ok := t.state.users[userID]; !ok {
		return fmt.Errorf("user %d: %w", userID, shared.ErrNotFound)
	}
	delete(t.state.users, userID)
	delete(t.state.userRoles, userID)
	return nil
}

func (t *memoryTx) nameTaken(name string, except int64) bool {
	for id, r := range t.state.roles {
		if id != except && r.Name == name {
			return true
		}
	}
	return false
}

func sortRolesByName(roles []Role) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Name == roles[j].Name {
			return roles[i].ID < roles[j].ID
		}
		return roles[i].Name < roles[j].Name
	})
}

var _ Repository = (*MemoryRepository)(nil)
