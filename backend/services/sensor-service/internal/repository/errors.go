package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"buildingsense/backend/services/sensor-service/internal/models"
)

// ErrStoreLocked is returned when another writer holds the store. It matches models.ErrRetryable.
var ErrStoreLocked = fmt.Errorf("store locked: %w", models.ErrRetryable)

// Postgres SQLSTATEs that mean "someone else holds the rows".
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

// classify wraps lock contention errors with ErrStoreLocked and returns others untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isLockError(err) {
		return fmt.Errorf("%w: %w", ErrStoreLocked, err)
	}
	return err
}

func isLockError(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return true
		}
	}
	return false
}
