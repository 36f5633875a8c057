package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/warden-admin/warden/internal/platform/db"
	"github.com/warden-admin/warden/internal/shared"
)

// Reader exposes the read side of the assignment store.
type Reader interface {
	GetUser(ctx context.Context, id int64) (Subject, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UserRoleIDs(ctx context.Context, userID int64) ([]int64, error)
	RolesOfUser(ctx context.Context, userID int64) ([]Role, error)
	RolePermissions(ctx context.Context, roleID int64) ([]shared.Permission, error)
}

// Repository is the assignment store. Multi-row edits run inside WithTx and
// are applied entirely or not at all.
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is available inside a transaction. Lock methods return
// shared.ErrNotFound for unknown ids.
type TxRepository interface {
	LockUser(ctx context.Context, id int64) error
	LockRole(ctx context.Context, id int64) error
	LockRoles(ctx context.Context, ids []int64) error
	InsertUserRole(ctx context.Context, userID, roleID int64) error
	DeleteUserRole(ctx context.Context, userID, roleID int64) error
	DeleteUserRoles(ctx context.Context, userID int64) error
	InsertRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, perms []shared.Permission) error
	DeleteRoleAssignments(ctx context.Context, roleID int64) error
	DeleteRole(ctx context.Context, roleID int64) error
	DeleteUser(ctx context.Context, userID int64) error
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool db.Pool
}

// NewRepository returns the PostgreSQL assignment store.
func NewRepository(pool db.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) GetUser(ctx context.Context, id int64) (Subject, error) {
	var s Subject
	err := r.db.QueryRow(ctx, `SELECT id, username FROM users WHERE id = $1`, id).Scan(&s.ID, &s.Username)
	if err != nil {
		return Subject{}, db.MapError(err)
	}
	return s, nil
}

const selectRoles = `
SELECT r.id, r.name, r.description, r.created_at, r.updated_at,
       COALESCE(array_agg(rp.permission ORDER BY rp.permission) FILTER (WHERE rp.permission IS NOT NULL), '{}')
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id`

func (r *repository) GetRole(ctx context.Context, id int64) (Role, error) {
	rows, err := r.db.Query(ctx, selectRoles+` WHERE r.id = $1 GROUP BY r.id`, id)
	if err != nil {
		return Role{}, err
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	return roles[0], nil
}

func (r *repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, selectRoles+` GROUP BY r.id ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

func (r *repository) RolesOfUser(ctx context.Context, userID int64) ([]Role, error) {
	if _, err := r.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, selectRoles+`
JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1
GROUP BY r.id ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

func (r *repository) UserRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) RolePermissions(ctx context.Context, roleID int64) ([]shared.Permission, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}
	rows, err := r.db.Query(ctx, `SELECT permission FROM role_permissions WHERE role_id = $1 ORDER BY permission`, roleID)
	if err != nil {
		return nil, err
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return toPermissions(raw), nil
}

func (r *repository) LockUser(ctx context.Context, id int64) error {
	var locked int64
	err := r.db.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return err
}

func (r *repository) LockRole(ctx context.Context, id int64) error {
	var locked int64
	err := r.db.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	return err
}

func (r *repository) LockRoles(ctx context.Context, ids []int64) error {
	want := uniqueIDs(ids)
	if len(want) == 0 {
		return nil
	}
	rows, err := r.db.Query(ctx, `SELECT id FROM roles WHERE id = ANY($1) ORDER BY id FOR UPDATE`, want)
	if err != nil {
		return err
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return err
	}
	if len(found) != len(want) {
		return fmt.Errorf("role ids %v: %w", missingIDs(want, found), shared.ErrNotFound)
	}
	return nil
}

func (r *repository) InsertUserRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

func (r *repository) DeleteUserRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

func (r *repository) DeleteUserRoles(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	return err
}

func (r *repository) InsertRole(ctx context.Context, name, description string) (Role, error) {
	role := Role{Name: name, Description: description, Permissions: []shared.Permission{}}
	err := r.db.QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING id, created_at, updated_at`,
		name, description).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, db.MapError(err)
	}
	return role, nil
}

func (r *repository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	_, err := r.db.Exec(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1`, id, name, description)
	if err != nil {
		return Role{}, db.MapError(err)
	}
	return r.GetRole(ctx, id)
}

func (r *repository) ReplaceRolePermissions(ctx context.Context, roleID int64, perms []shared.Permission) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	if len(perms) == 0 {
		return nil
	}
	raw := make([]string, len(perms))
	for i, p := range perms {
		raw[i] = p.String()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO role_permissions (role_id, permission) SELECT $1, unnest($2::text[])`, roleID, raw)
	return err
}

func (r *repository) DeleteRoleAssignments(ctx context.Context, roleID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID)
	return err
}

func (r *repository) DeleteRole(ctx context.Context, roleID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}
	return nil
}

func (r *repository) DeleteUser(ctx context.Context, userID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", userID, shared.ErrNotFound)
	}
	return nil
}

func scanRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	roles := make([]Role, 0)
	for rows.Next() {
		var (
			role      Role
			perms     []string
			createdAt time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &createdAt, &updatedAt, &perms); err != nil {
			return nil, err
		}
		role.CreatedAt = createdAt
		role.UpdatedAt = updatedAt
		role.Permissions = toPermissions(perms)
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// toPermissions drops stored keys that left the catalog.
func toPermissions(raw []string) []shared.Permission {
	out := make([]shared.Permission, 0, len(raw))
	for _, r := range raw {
		p := shared.Permission(r)
		if p.IsKnown() {
			out = append(out, p)
		}
	}
	shared.SortPermissions(out)
	return out
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

func missingIDs(want, found []int64) []int64 {
	have := make(map[int64]struct{}, len(found))
	for _, id := range found {
		have[id] = struct{}{}
	}
	var missing []int64
	for _, id := range want {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

var (
	_ Repository   = (*repository)(nil)
	_ TxRepository = (*repository)(nil)
)
