package persistence

import (
	"context"

	appinv "github.com/clinic/backend/internal/application/inventory"
	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// RecorderFactory builds an event recorder bound to a transaction
type RecorderFactory func(tx *gorm.DB) shared.EventRecorder

// GormTransactionScope implements TransactionScope using GORM transactions.
// Batch writes, deduction records and the audit events they raise commit or
// roll back together.
type GormTransactionScope struct {
	db       *gorm.DB
	recorder RecorderFactory
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB, recorder RecorderFactory) *GormTransactionScope {
	if recorder == nil {
		recorder = func(*gorm.DB) shared.EventRecorder { return discardRecorder{} }
	}
	return &GormTransactionScope{db: db, recorder: recorder}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appinv.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := &gormTransactionalRepositories{tx: tx, events: s.recorder(tx)}
		return fn(repos)
	})
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx     *gorm.DB
	events shared.EventRecorder
}

// BatchRepo returns the batch repository scoped to the current transaction.
func (r *gormTransactionalRepositories) BatchRepo() inventory.BatchRepository {
	return NewGormBatchRepository(r.tx)
}

// DeductionLog returns the deduction log scoped to the current transaction.
func (r *gormTransactionalRepositories) DeductionLog() inventory.DeductionLog {
	return NewGormDeductionLog(r.tx)
}

// Events returns the event recorder scoped to the current transaction.
func (r *gormTransactionalRepositories) Events() shared.EventRecorder {
	return r.events
}

type discardRecorder struct{}

func (discardRecorder) Record(context.Context, ...shared.DomainEvent) error { return nil }

// Ensure GormTransactionScope implements TransactionScope
var _ appinv.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ appinv.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
