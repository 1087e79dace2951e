package inventory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductInfo is what the ledger reads from the medication/vaccine master record
type ProductInfo struct {
	ID           uuid.UUID
	Type         ProductType
	Name         string
	UnitCost     decimal.Decimal
	Supplier     string
	Manufacturer string
}

// ProductCatalog resolves product master data
type ProductCatalog interface {
	// FindProduct returns NotFoundError when no product of that type has the id
	FindProduct(ctx context.Context, productType ProductType, id uuid.UUID) (*ProductInfo, error)
}

// ApplyDefaults fills fields the receiving clerk left blank from the product
// record and copies its name into the snapshot.
func (p *ProductInfo) ApplyDefaults(input *BatchInput) error {
	if input.ProductType != "" && input.ProductType != p.Type {
		return &ValidationError{Field: "product_type", Reason: "does not match product " + p.ID.String()}
	}
	input.ProductType = p.Type
	input.ProductName = p.Name
	if input.UnitCost == nil {
		cost := p.UnitCost
		input.UnitCost = &cost
	}
	if input.Supplier == "" {
		input.Supplier = p.Supplier
	}
	if input.Manufacturer == "" {
		input.Manufacturer = p.Manufacturer
	}
	return nil
}
