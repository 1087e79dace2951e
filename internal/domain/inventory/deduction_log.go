package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeductionRecord is a committed deduction kept under its idempotency key so
// a retried request can be answered with the original breakdown.
type DeductionRecord struct {
	ID             uuid.UUID
	ProductID      uuid.UUID
	IdempotencyKey string
	Quantity       int
	Lines          []DeductionLine
	Reference      string
	Actor          string
	DeductedAt     time.Time
}

// Matches reports whether a retried request asks for the same deduction
func (r *DeductionRecord) Matches(productID uuid.UUID, quantity int) bool {
	return r.ProductID == productID && r.Quantity == quantity
}

// DeductionLog stores deduction records in the transaction that deducts the stock.
// A key is therefore only ever taken by a deduction that committed.
type DeductionLog interface {
	// FindByKey returns NotFoundError when no deduction committed under the key
	FindByKey(ctx context.Context, productID uuid.UUID, key string) (*DeductionRecord, error)

	// Create fails with shared.ErrConcurrencyConflict when another transaction
	// committed the same key first
	Create(ctx context.Context, record *DeductionRecord) error
}
