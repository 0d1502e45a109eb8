// Package storage holds the error vocabulary shared by every repository implementation.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrVersionConflict is returned by a conditional write when the stored version no longer matches
	// the version the caller read. Callers re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate is returned when a write violates a unique constraint.
	ErrDuplicate = errors.New("duplicate key")

	// ErrStorageUnavailable is returned when the backing store times out or cannot be reached.
	// It is fatal to the current request only.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Classify maps a raw driver error onto the storage vocabulary. Timeouts and cancelled deadlines become
// ErrStorageUnavailable, unique violations become ErrDuplicate; anything else is returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}

// IsTransient reports whether err is a concurrency conflict the caller may retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
