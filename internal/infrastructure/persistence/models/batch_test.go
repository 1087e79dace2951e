package models

import (
	"testing"
	"time"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableNames(t *testing.T) {
	assert.Equal(t, "batches", BatchModel{}.TableName())
	assert.Equal(t, "products", ProductModel{}.TableName())
	assert.Equal(t, "audit_outbox", OutboxEntryModel{}.TableName())
	assert.Len(t, All(), 3)
}

func TestBatchModel_RoundTrip(t *testing.T) {
	now := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	cost := decimal.RequireFromString("12.5000")
	b, err := inventory.NewBatchRecord(inventory.BatchInput{
		ProductID:        uuid.New(),
		ProductType:      inventory.ProductTypeVaccine,
		ProductName:      "Hepatitis B vaccine",
		BatchNumber:      "HBV-0091",
		QuantityReceived: 20,
		UnitCost:         &cost,
		ExpiryDate:       time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC),
		Manufacturer:     "GSK",
	}, "pharmacist-1", now)
	require.NoError(t, err)
	require.NoError(t, b.Recall("qa-lead", "lot recall", now))

	m := BatchModelFromDomain(b)
	assert.Equal(t, b.ID, m.ID)
	assert.Equal(t, inventory.BatchStatusRecalled, m.Status)
	assert.Equal(t, 1, m.Version)

	back := m.ToDomain()
	assert.Equal(t, b.ID, back.ID)
	assert.Equal(t, b.BatchNumber, back.BatchNumber)
	assert.Equal(t, b.Status, back.Status)
	assert.True(t, cost.Equal(back.UnitCost))
	assert.Equal(t, b.Notes, back.Notes)
	assert.Empty(t, back.GetDomainEvents())
}

func TestBatchModel_ExpiryDateIsNormalized(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	m := &BatchModel{
		AggregateModel: AggregateModel{BaseModel: BaseModel{ID: uuid.New()}, Version: 3},
		ExpiryDate:     time.Date(2025, 3, 1, 0, 0, 0, 0, manila),
		ReceivedDate:   time.Date(2024, 11, 2, 8, 0, 0, 0, manila),
		Status:         inventory.BatchStatusActive,
	}

	b := m.ToDomain()
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), b.ExpiryDate)
	assert.Equal(t, time.UTC, b.ReceivedDate.Location())
	assert.Equal(t, 3, b.Version)
}

func TestProductModel_ToDomain(t *testing.T) {
	p := &inventory.ProductInfo{
		ID:       uuid.New(),
		Type:     inventory.ProductTypeMedication,
		Name:     "Amoxicillin 500mg",
		UnitCost: decimal.NewFromFloat(2.75),
		Supplier: "Metro Drug",
	}
	m := ProductModelFromDomain(p)
	assert.True(t, m.IsActive)
	assert.Equal(t, p, m.ToDomain())
}
