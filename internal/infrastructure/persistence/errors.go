package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Postgres SQLSTATE codes the ledger reacts to
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// translateBatchError maps driver errors onto the ledger's error types.
// Lock and serialization failures become shared.ErrConcurrencyConflict so
// the caller can retry the whole unit of work.
func translateBatchError(err error, batchNumber string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &inventory.DuplicateBatchNumberError{BatchNumber: batchNumber}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &inventory.DuplicateBatchNumberError{BatchNumber: batchNumber}
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%s (%s): %w", pgErr.Message, pgErr.Code, shared.ErrConcurrencyConflict)
		}
		return err
	}

	// sqlite reports these as plain errors
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &inventory.DuplicateBatchNumberError{BatchNumber: batchNumber}
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"):
		return fmt.Errorf("%s: %w", msg, shared.ErrConcurrencyConflict)
	}
	return err
}

// notFound maps gorm.ErrRecordNotFound to a typed NotFoundError
func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &inventory.NotFoundError{Entity: entity, ID: id}
	}
	return translateBatchError(err, "")
}
