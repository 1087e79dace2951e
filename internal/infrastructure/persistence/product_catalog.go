package persistence

import (
	"context"
	"errors"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormProductCatalog implements inventory.ProductCatalog over the products table
type GormProductCatalog struct {
	db *gorm.DB
}

// NewGormProductCatalog creates a new GormProductCatalog
func NewGormProductCatalog(db *gorm.DB) *GormProductCatalog {
	return &GormProductCatalog{db: db}
}

// FindProduct returns the active product of the given type
func (c *GormProductCatalog) FindProduct(ctx context.Context, productType inventory.ProductType, id uuid.UUID) (*inventory.ProductInfo, error) {
	var model models.ProductModel
	err := c.db.WithContext(ctx).
		Where("id = ? AND type = ? AND is_active = ?", id, productType, true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &inventory.NotFoundError{Entity: productType.String(), ID: id.String()}
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Upsert stores product master data. Used for seeding and tests.
func (c *GormProductCatalog) Upsert(ctx context.Context, product *inventory.ProductInfo) error {
	return c.db.WithContext(ctx).Save(models.ProductModelFromDomain(product)).Error
}

// Ensure GormProductCatalog implements ProductCatalog
var _ inventory.ProductCatalog = (*GormProductCatalog)(nil)
