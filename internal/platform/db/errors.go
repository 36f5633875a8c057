package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/warden-admin/warden/internal/shared"
)

// SQLSTATE codes translated into domain errors.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// MapError translates driver errors into the shared error taxonomy. Errors that
// already carry a domain sentinel are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", shared.ErrDuplicate, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", shared.ErrNotFound, pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", shared.ErrConflictingState, pgErr.Message)
		}
	}
	return err
}
