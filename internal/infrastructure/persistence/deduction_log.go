package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormDeductionLog implements inventory.DeductionLog over deduction_requests
type GormDeductionLog struct {
	db *gorm.DB
}

// NewGormDeductionLog creates a new GormDeductionLog
func NewGormDeductionLog(db *gorm.DB) *GormDeductionLog {
	return &GormDeductionLog{db: db}
}

// FindByKey returns the deduction committed under key for the product
func (l *GormDeductionLog) FindByKey(ctx context.Context, productID uuid.UUID, key string) (*inventory.DeductionRecord, error) {
	var model models.DeductionRequestModel
	err := l.db.WithContext(ctx).
		Where("product_id = ? AND idempotency_key = ?", productID, key).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &inventory.NotFoundError{Entity: "deduction", ID: key}
		}
		return nil, translateDeductionError(err)
	}
	return model.ToDomain()
}

// Create inserts the record. A unique violation means a concurrent deduction
// with the same key committed first; the caller retries and replays it.
func (l *GormDeductionLog) Create(ctx context.Context, record *inventory.DeductionRecord) error {
	model, err := models.DeductionRequestModelFromDomain(record)
	if err != nil {
		return err
	}
	if err := l.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateDeductionError(err)
	}
	record.ID = model.ID
	return nil
}

func translateDeductionError(err error) error {
	err = translateBatchError(err, "")
	var dup *inventory.DuplicateBatchNumberError
	if errors.As(err, &dup) {
		return fmt.Errorf("idempotency key taken by a concurrent deduction: %w", shared.ErrConcurrencyConflict)
	}
	return err
}

// Ensure GormDeductionLog implements DeductionLog
var _ inventory.DeductionLog = (*GormDeductionLog)(nil)
