package auth

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/warden-admin/warden/internal/platform/db"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	RoleIDs(ctx context.Context, userID int64) ([]int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool db.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool db.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectUser = `SELECT id, username, password_hash, created_at, updated_at FROM users`

// FindByUsername fetches a user by normalised username.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.findOne(ctx, selectUser+` WHERE username = $1`, username)
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, selectUser+` WHERE id = $1`, id)
}

func (r *PGRepository) findOne(ctx context.Context, query string, arg any) (*User, error) {
	var user User
	err := r.pool.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	return &user, nil
}

// RoleIDs lists the roles currently held by the user.
func (r *PGRepository) RoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

var _ Repository = (*PGRepository)(nil)
