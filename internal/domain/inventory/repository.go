package inventory

import (
	"context"
	"time"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// BatchRepository persists batch records. Mutating methods honour the
// transaction carried by the implementation they were obtained from.
type BatchRepository interface {
	// Create inserts a new batch. Returns DuplicateBatchNumberError when the batch number is taken.
	Create(ctx context.Context, batch *BatchRecord) error

	// FindByID returns NotFoundError when the batch does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*BatchRecord, error)

	// FindByBatchNumber looks a batch up by its globally unique number
	FindByBatchNumber(ctx context.Context, batchNumber string) (*BatchRecord, error)

	// FindByProduct lists a product's batches. Supported filter keys: status, product_type.
	FindByProduct(ctx context.Context, productID uuid.UUID, filter shared.Filter) ([]*BatchRecord, error)

	// CountByProduct counts what FindByProduct would return without paging
	CountByProduct(ctx context.Context, productID uuid.UUID, filter shared.Filter) (int64, error)

	// FindEligibleForAllocation returns active batches with stock, without locking
	FindEligibleForAllocation(ctx context.Context, productID uuid.UUID) ([]*BatchRecord, error)

	// LockEligibleForAllocation is FindEligibleForAllocation with row locks held until the transaction ends
	LockEligibleForAllocation(ctx context.Context, productID uuid.UUID) ([]*BatchRecord, error)

	// ApplyDeduction decrements a batch, reconciles its status and saves it
	ApplyDeduction(ctx context.Context, batchID uuid.UUID, amount int, actor string, at time.Time) (*BatchRecord, error)

	// FindExpiring returns non-terminal batches with 0 < daysUntilExpiry <= daysAhead, soonest first
	FindExpiring(ctx context.Context, daysAhead int, asOf time.Time) ([]*BatchRecord, error)

	// FindPastExpiry returns active or depleted batches whose expiry date is before asOf
	FindPastExpiry(ctx context.Context, asOf time.Time, limit int) ([]*BatchRecord, error)

	// FindDisposalEligible returns expired and recalled batches ordered by expiry
	FindDisposalEligible(ctx context.Context, filter shared.Filter) ([]*BatchRecord, error)

	// CountDisposalEligible counts expired and recalled batches
	CountDisposalEligible(ctx context.Context) (int64, error)

	// UpdateStatus applies an automatic status change and saves the batch
	UpdateStatus(ctx context.Context, batchID uuid.UUID, status BatchStatus, actor string, at time.Time) (*BatchRecord, error)

	// Save writes a loaded batch back. Fails with shared.ErrConcurrencyConflict
	// when the stored version no longer matches.
	Save(ctx context.Context, batch *BatchRecord) error

	// SumRemainingByProduct totals remaining quantity over non-terminal batches
	SumRemainingByProduct(ctx context.Context, productID uuid.UUID) (int, error)
}
