package inventory

import (
	"context"
	"errors"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// mutateBatch loads a batch inside a transaction, applies fn, saves it and
// records whatever events fn raised. A version mismatch on save is reported as
// a ConcurrencyConflictError since manual actions are not replayed.
func mutateBatch(
	ctx context.Context,
	scope TransactionScope,
	batchID uuid.UUID,
	fn func(batch *inventory.BatchRecord) error,
) (*inventory.BatchRecord, error) {
	var out *inventory.BatchRecord
	err := scope.Execute(ctx, func(repos TransactionalRepositories) error {
		batch, err := repos.BatchRepo().FindByID(ctx, batchID)
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
		if err := repos.BatchRepo().Save(ctx, batch); err != nil {
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				return &inventory.ConcurrencyConflictError{ProductID: batch.ProductID, Attempts: 1, Err: err}
			}
			return err
		}
		if err := repos.Events().Record(ctx, batch.PullDomainEvents()...); err != nil {
			return err
		}
		out = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
