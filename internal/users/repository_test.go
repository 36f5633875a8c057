package users_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-admin/warden/internal/shared"
	"github.com/warden-admin/warden/internal/users"
)

func newPoolRepository(t *testing.T) (pgxmock.PgxPoolIface, *users.Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, users.NewRepository(mock)
}

func userRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "username", "password_hash", "created_at", "updated_at", "role_ids"})
}

func TestRepositoryCreateWithRoles(t *testing.T) {
	mock, repo := newPoolRepository(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectQuery(`INSERT INTO users \(username, password_hash\)`).
		WithArgs("alice", "hash").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))
	for _, roleID := range []int64{1, 3} {
		mock.ExpectExec(`INSERT INTO user_roles \(user_id, role_id\)`).
			WithArgs(int64(5), roleID).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()
	mock.ExpectRollback()
	mock.ExpectQuery(`COALESCE\(array_agg\(ur.role_id ORDER BY ur.role_id\).* WHERE u.id = \$1 GROUP BY u.id`).
		WithArgs(int64(5)).
		WillReturnRows(userRows().AddRow(int64(5), "alice", "hash", now, now, []int64{1, 3}))

	u, err := repo.Create(context.Background(), "alice", "hash", []int64{1, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(5), u.ID)
	assert.Equal(t, []int64{1, 3}, u.RoleIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateRollsBackOnUnknownRole(t *testing.T) {
	mock, repo := newPoolRepository(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice", "hash").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(`INSERT INTO user_roles`).
		WithArgs(int64(5), int64(99)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "user_roles_role_id_fkey"})
	mock.ExpectRollback()
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "alice", "hash", []int64{99})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateDuplicateUsername(t *testing.T) {
	mock, repo := newPoolRepository(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice", "hash").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})
	mock.ExpectRollback()
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "alice", "hash", nil)
	assert.ErrorIs(t, err, shared.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListAndUpdate(t *testing.T) {
	mock, repo := newPoolRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`GROUP BY u.id ORDER BY u.id LIMIT \$1 OFFSET \$2`).
		WithArgs(2, 0).
		WillReturnRows(userRows().
			AddRow(int64(1), "admin", "h1", now, now, []int64{1}).
			AddRow(int64(2), "bob", "h2", now, now, []int64{}))

	list, total, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 2)
	assert.Empty(t, list[1].RoleIDs)

	name := "robert"
	mock.ExpectExec(`UPDATE users`).
		WithArgs(int64(42), &name, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err = repo.Update(ctx, 42, &name, nil)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
