package models

import (
	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/shopspring/decimal"
)

// ProductModel is the medication/vaccine master record the ledger reads on receive.
type ProductModel struct {
	BaseModel
	Type         inventory.ProductType `gorm:"type:varchar(20);not null;index"`
	Name         string                `gorm:"type:varchar(255);not null"`
	UnitCost     decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	Supplier     string                `gorm:"type:varchar(200)"`
	Manufacturer string                `gorm:"type:varchar(200)"`
	IsActive     bool                  `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the persistence model to the catalog view used by the ledger.
func (m *ProductModel) ToDomain() *inventory.ProductInfo {
	return &inventory.ProductInfo{
		ID:           m.ID,
		Type:         m.Type,
		Name:         m.Name,
		UnitCost:     m.UnitCost,
		Supplier:     m.Supplier,
		Manufacturer: m.Manufacturer,
	}
}

// ProductModelFromDomain builds a product row, mostly for seeding
func ProductModelFromDomain(p *inventory.ProductInfo) *ProductModel {
	return &ProductModel{
		BaseModel:    BaseModel{ID: p.ID},
		Type:         p.Type,
		Name:         p.Name,
		UnitCost:     p.UnitCost,
		Supplier:     p.Supplier,
		Manufacturer: p.Manufacturer,
		IsActive:     true,
	}
}
