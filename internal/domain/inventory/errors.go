package inventory

import (
	"fmt"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ValidationError reports malformed input on a single field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return shared.ErrInvalidInput
}

// DuplicateBatchNumberError is returned when a batch number is already taken
type DuplicateBatchNumberError struct {
	BatchNumber string
}

func (e *DuplicateBatchNumberError) Error() string {
	return fmt.Sprintf("batch number %q already exists", e.BatchNumber)
}

func (e *DuplicateBatchNumberError) Unwrap() error {
	return shared.ErrAlreadyExists
}

// InsufficientStockError carries how much was available against what was asked for
type InsufficientStockError struct {
	ProductID uuid.UUID
	Available int
	Required  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, required %d",
		e.ProductID, e.Available, e.Required)
}

func (e *InsufficientStockError) Unwrap() error {
	return shared.ErrInsufficientStock
}

// InvalidStateTransitionError is returned for an edge the batch state machine does not allow
type InvalidStateTransitionError struct {
	BatchID uuid.UUID
	From    BatchStatus
	To      BatchStatus
	Reason  string
}

func (e *InvalidStateTransitionError) Error() string {
	msg := fmt.Sprintf("batch %s cannot move from %s to %s", e.BatchID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return shared.ErrInvalidState
}

// NotFoundError is returned when an entity does not exist
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return shared.ErrNotFound
}

// ConcurrencyConflictError is surfaced once deduction retries are exhausted
type ConcurrencyConflictError struct {
	ProductID uuid.UUID
	Attempts  int
	Err       error
}

func (e *ConcurrencyConflictError) Error() string {
	msg := fmt.Sprintf("concurrent update on product %s after %d attempts", e.ProductID, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConcurrencyConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{shared.ErrConcurrencyConflict}
	}
	return []error{shared.ErrConcurrencyConflict, e.Err}
}

// BatchNotFound builds a NotFoundError for a batch id
func BatchNotFound(id uuid.UUID) *NotFoundError {
	return &NotFoundError{Entity: "batch", ID: id.String()}
}
