package inventory

import (
	"context"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
)

// TransactionScope provides transactional access to the batch ledger.
// Everything done through the repositories handed to fn commits or rolls back together.
type TransactionScope interface {
	// Execute runs fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories exposes what a unit of work can touch.
// Events recorded through Events() are written to the audit outbox in the
// same transaction and only delivered once it commits.
type TransactionalRepositories interface {
	BatchRepo() inventory.BatchRepository
	DeductionLog() inventory.DeductionLog
	Events() shared.EventRecorder
}

// NoOpTransactionScope runs the function directly against the given repositories.
// Used in tests.
type NoOpTransactionScope struct {
	batchRepo    inventory.BatchRepository
	deductionLog inventory.DeductionLog
	recorder     shared.EventRecorder
}

// NewNoOpTransactionScope creates a NoOpTransactionScope
func NewNoOpTransactionScope(batchRepo inventory.BatchRepository, recorder shared.EventRecorder) *NoOpTransactionScope {
	return &NoOpTransactionScope{batchRepo: batchRepo, recorder: recorder}
}

// SetDeductionLog sets the log handed to units of work
func (s *NoOpTransactionScope) SetDeductionLog(log inventory.DeductionLog) {
	s.deductionLog = log
}

// Execute runs fn without a real transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// BatchRepo returns the batch repository
func (s *NoOpTransactionScope) BatchRepo() inventory.BatchRepository {
	return s.batchRepo
}

// DeductionLog returns the deduction log, nil unless set
func (s *NoOpTransactionScope) DeductionLog() inventory.DeductionLog {
	return s.deductionLog
}

// Events returns the event recorder
func (s *NoOpTransactionScope) Events() shared.EventRecorder {
	return s.recorder
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
