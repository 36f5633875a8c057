package users

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/warden-admin/warden/internal/platform/db"
	"github.com/warden-admin/warden/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Create(ctx context.Context, username, passwordHash string, roleIDs []int64) (User, error)
	Get(ctx context.Context, id int64) (User, error)
	List(ctx context.Context, limit, offset int) ([]User, int, error)
	Update(ctx context.Context, id int64, username, passwordHash *string) (User, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool db.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectUsers = `
SELECT u.id, u.username, u.password_hash, u.created_at, u.updated_at,
       COALESCE(array_agg(ur.role_id ORDER BY ur.role_id) FILTER (WHERE ur.role_id IS NOT NULL), '{}')
FROM users u
LEFT JOIN user_roles ur ON ur.user_id = u.id`

// Create inserts the user and its initial roles in one transaction. Unknown
// role ids fail with shared.ErrNotFound and nothing is written.
func (r *Repository) Create(ctx context.Context, username, passwordHash string, roleIDs []int64) (User, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id`,
			username, passwordHash).Scan(&id); err != nil {
			return err
		}
		for _, roleID := range roleIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, roleID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return r.Get(ctx, id)
}

// Get returns a user with its current role ids.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	rows, err := r.pool.Query(ctx, selectUsers+` WHERE u.id = $1 GROUP BY u.id`, id)
	if err != nil {
		return User{}, err
	}
	users, err := scanUsers(rows)
	if err != nil {
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return users[0], nil
}

// List returns a page of users ordered by id plus the total count.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, selectUsers+` GROUP BY u.id ORDER BY u.id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	users, err := scanUsers(rows)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Update changes the username and/or password hash.
func (r *Repository) Update(ctx context.Context, id int64, username, passwordHash *string) (User, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE users
SET username = COALESCE($2, username),
    password_hash = COALESCE($3, password_hash),
    updated_at = NOW()
WHERE id = $1`, id, username, passwordHash)
	if err != nil {
		return User{}, db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return User{}, fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return r.Get(ctx, id)
}

func scanUsers(rows pgx.Rows) ([]User, error) {
	defer rows.Close()
	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt, &u.RoleIDs); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

var _ RepositoryPort = (*Repository)(nil)
