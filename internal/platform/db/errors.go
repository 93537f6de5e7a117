package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

// PostgreSQL error codes that matter to callers.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

// Classify wraps pgx errors with the shared error kind so services and
// handlers never inspect SQLSTATE themselves. Serialization aborts,
// deadlocks and lock timeouts become retryable concurrency failures;
// unique violations become conflicts.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %s", shared.ErrConcurrency, pgErr.Message)
	case codeUniqueViolation:
		return fmt.Errorf("%w: duplicate %s", shared.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique violation on the given
// constraint. An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
