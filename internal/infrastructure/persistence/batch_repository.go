package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// fifoOrder is the dispensing order: soonest expiry, then oldest receipt, then id
const fifoOrder = "expiry_date ASC, received_date ASC, id ASC"

// GormBatchRepository implements inventory.BatchRepository using GORM
type GormBatchRepository struct {
	db *gorm.DB
}

// NewGormBatchRepository creates a new GormBatchRepository
func NewGormBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: db}
}

// Create inserts a new batch
func (r *GormBatchRepository) Create(ctx context.Context, batch *inventory.BatchRecord) error {
	model := models.BatchModelFromDomain(batch)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateBatchError(err, batch.BatchNumber)
	}
	return nil
}

// FindByID finds a batch by its ID
func (r *GormBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*inventory.BatchRecord, error) {
	var model models.BatchModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventory.BatchNotFound(id)
		}
		return nil, translateBatchError(err, "")
	}
	return model.ToDomain(), nil
}

// FindByBatchNumber finds a batch by its batch number
func (r *GormBatchRepository) FindByBatchNumber(ctx context.Context, batchNumber string) (*inventory.BatchRecord, error) {
	var model models.BatchModel
	if err := r.db.WithContext(ctx).First(&model, "batch_number = ?", batchNumber).Error; err != nil {
		return nil, notFound(err, "batch", batchNumber)
	}
	return model.ToDomain(), nil
}

// FindByProduct lists a product's batches with filtering and pagination
func (r *GormBatchRepository) FindByProduct(ctx context.Context, productID uuid.UUID, filter shared.Filter) ([]*inventory.BatchRecord, error) {
	var rows []models.BatchModel
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.BatchModel{}).Where("product_id = ?", productID), filter)
	query = r.applyOrdering(query, filter)
	query = r.applyPagination(query, filter)

	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return models.BatchModelsToDomain(rows), nil
}

// CountByProduct counts a product's batches matching the filter
func (r *GormBatchRepository) CountByProduct(ctx context.Context, productID uuid.UUID, filter shared.Filter) (int64, error) {
	var count int64
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.BatchModel{}).Where("product_id = ?", productID), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FindEligibleForAllocation returns active batches with stock in FIFO order
func (r *GormBatchRepository) FindEligibleForAllocation(ctx context.Context, productID uuid.UUID) ([]*inventory.BatchRecord, error) {
	return r.findEligible(r.db.WithContext(ctx), productID)
}

// LockEligibleForAllocation is FindEligibleForAllocation with SELECT ... FOR UPDATE.
// The locks are released when the surrounding transaction ends.
func (r *GormBatchRepository) LockEligibleForAllocation(ctx context.Context, productID uuid.UUID) ([]*inventory.BatchRecord, error) {
	batches, err := r.findEligible(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), productID)
	if err != nil {
		return nil, translateBatchError(err, "")
	}
	return batches, nil
}

func (r *GormBatchRepository) findEligible(db *gorm.DB, productID uuid.UUID) ([]*inventory.BatchRecord, error) {
	var rows []models.BatchModel
	err := db.
		Where("product_id = ? AND status = ? AND quantity_remaining > 0", productID, inventory.BatchStatusActive).
		Order(fifoOrder).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return models.BatchModelsToDomain(rows), nil
}

// ApplyDeduction loads the batch, applies the domain deduction and saves it
func (r *GormBatchRepository) ApplyDeduction(ctx context.Context, batchID uuid.UUID, amount int, actor string, at time.Time) (*inventory.BatchRecord, error) {
	batch, err := r.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := batch.Deduct(amount, actor, at); err != nil {
		return nil, err
	}
	if err := r.Save(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// FindExpiring returns non-terminal batches expiring after asOf's day and
// within daysAhead days of it, soonest first
func (r *GormBatchRepository) FindExpiring(ctx context.Context, daysAhead int, asOf time.Time) ([]*inventory.BatchRecord, error) {
	today := inventory.DateOf(asOf)
	horizon := today.AddDate(0, 0, daysAhead)

	var rows []models.BatchModel
	err := r.db.WithContext(ctx).
		Where("expiry_date > ? AND expiry_date <= ?", today, horizon).
		Where("status NOT IN ?", inventory.TerminalStatuses()).
		Order(fifoOrder).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return models.BatchModelsToDomain(rows), nil
}

// FindPastExpiry returns active or depleted batches whose expiry date is
// before asOf's day. Quarantined batches are left for manual review.
func (r *GormBatchRepository) FindPastExpiry(ctx context.Context, asOf time.Time, limit int) ([]*inventory.BatchRecord, error) {
	var rows []models.BatchModel
	query := r.db.WithContext(ctx).
		Where("status IN ? AND expiry_date < ?",
			[]inventory.BatchStatus{inventory.BatchStatusActive, inventory.BatchStatusDepleted},
			inventory.DateOf(asOf)).
		Order("expiry_date ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return models.BatchModelsToDomain(rows), nil
}

// FindDisposalEligible returns expired and recalled batches ordered by expiry
func (r *GormBatchRepository) FindDisposalEligible(ctx context.Context, filter shared.Filter) ([]*inventory.BatchRecord, error) {
	var rows []models.BatchModel
	query := r.disposalEligible(ctx).Order("expiry_date ASC, id ASC")
	query = r.applyPagination(query, filter)
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return models.BatchModelsToDomain(rows), nil
}

// CountDisposalEligible counts expired and recalled batches
func (r *GormBatchRepository) CountDisposalEligible(ctx context.Context) (int64, error) {
	var count int64
	if err := r.disposalEligible(ctx).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormBatchRepository) disposalEligible(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.BatchModel{}).
		Where("status IN ?", []inventory.BatchStatus{inventory.BatchStatusExpired, inventory.BatchStatusRecalled})
}

// UpdateStatus applies an automatic status change and saves the batch
func (r *GormBatchRepository) UpdateStatus(ctx context.Context, batchID uuid.UUID, status inventory.BatchStatus, actor string, at time.Time) (*inventory.BatchRecord, error) {
	batch, err := r.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := batch.ChangeStatus(status, actor, at); err != nil {
		return nil, err
	}
	if err := r.Save(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// Save writes the mutable columns of a loaded batch using optimistic locking.
// The version in the row must still match the version the batch was read at.
func (r *GormBatchRepository) Save(ctx context.Context, batch *inventory.BatchRecord) error {
	result := r.db.WithContext(ctx).
		Model(&models.BatchModel{}).
		Where("id = ? AND version = ?", batch.ID, batch.Version).
		Updates(map[string]interface{}{
			"quantity_remaining": batch.QuantityRemaining,
			"status":             batch.Status,
			"storage_location":   batch.StorageLocation,
			"notes":              batch.Notes,
			"last_updated_by":    batch.LastUpdatedBy,
			"disposed_at":        batch.DisposedAt,
			"disposed_by":        batch.DisposedBy,
			"version":            batch.Version + 1,
			"updated_at":         batch.UpdatedAt,
		})

	if result.Error != nil {
		return translateBatchError(result.Error, batch.BatchNumber)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("batch %s was modified by another transaction (version %d): %w",
			batch.ID, batch.Version, shared.ErrConcurrencyConflict)
	}
	batch.IncrementVersion()
	return nil
}

// SumRemainingByProduct totals remaining quantity over non-terminal batches
func (r *GormBatchRepository) SumRemainingByProduct(ctx context.Context, productID uuid.UUID) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.BatchModel{}).
		Select("COALESCE(SUM(quantity_remaining), 0)").
		Where("product_id = ? AND status NOT IN ?", productID, inventory.TerminalStatuses()).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

// applyFilter applies the supported filter keys: status and product_type
func (r *GormBatchRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	for key, value := range filter.Filters {
		switch key {
		case "status":
			query = query.Where("status = ?", value)
		case "product_type":
			query = query.Where("product_type = ?", value)
		}
	}
	return query
}

func (r *GormBatchRepository) applyOrdering(query *gorm.DB, filter shared.Filter) *gorm.DB {
	field := ValidateSortField(filter.OrderBy, BatchSortFields, "expiry_date")
	dir := ValidateSortOrder(filter.OrderDir)
	query = query.Order(field + " " + dir)
	if field != "id" {
		query = query.Order("id ASC")
	}
	return query
}

func (r *GormBatchRepository) applyPagination(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if filter.Page > 0 && filter.PageSize > 0 {
		query = query.Offset((filter.Page - 1) * filter.PageSize).Limit(filter.PageSize)
	}
	return query
}

// Ensure GormBatchRepository implements BatchRepository
var _ inventory.BatchRepository = (*GormBatchRepository)(nil)
