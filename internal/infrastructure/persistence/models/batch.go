package models

import (
	"time"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchModel is the persistence model for the BatchRecord aggregate root.
// The composite index serves FIFO allocation and the expiry scans.
type BatchModel struct {
	AggregateModel
	ProductID           uuid.UUID             `gorm:"type:uuid;not null;index:idx_batches_product_status_expiry,priority:1"`
	ProductType         inventory.ProductType `gorm:"type:varchar(20);not null"`
	ProductNameSnapshot string                `gorm:"type:varchar(255)"`
	BatchNumber         string                `gorm:"type:varchar(100);not null;uniqueIndex:idx_batches_batch_number"`
	QuantityReceived    int                   `gorm:"not null"`
	QuantityRemaining   int                   `gorm:"not null"`
	UnitCost            decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	ExpiryDate          time.Time             `gorm:"type:date;not null;index:idx_batches_product_status_expiry,priority:3;index:idx_batches_status_expiry,priority:2"`
	ReceivedDate        time.Time             `gorm:"not null"`
	Supplier            string                `gorm:"type:varchar(200)"`
	Manufacturer        string                `gorm:"type:varchar(200)"`
	StorageLocation     string                `gorm:"type:varchar(100)"`
	Notes               string                `gorm:"type:text"`
	Status              inventory.BatchStatus `gorm:"type:varchar(20);not null;default:active;index:idx_batches_product_status_expiry,priority:2;index:idx_batches_status_expiry,priority:1"`
	CreatedBy           string                `gorm:"type:varchar(100);not null"`
	LastUpdatedBy       string                `gorm:"type:varchar(100);not null"`
	DisposedAt          *time.Time
	DisposedBy          string `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM
func (BatchModel) TableName() string {
	return "batches"
}

// ToDomain converts the persistence model to a domain BatchRecord.
func (m *BatchModel) ToDomain() *inventory.BatchRecord {
	return &inventory.BatchRecord{
		BaseAggregateRoot:   m.ToDomainAggregateRoot(),
		ProductID:           m.ProductID,
		ProductType:         m.ProductType,
		ProductNameSnapshot: m.ProductNameSnapshot,
		BatchNumber:         m.BatchNumber,
		QuantityReceived:    m.QuantityReceived,
		QuantityRemaining:   m.QuantityRemaining,
		UnitCost:            m.UnitCost,
		ExpiryDate:          calendarDate(m.ExpiryDate),
		ReceivedDate:        m.ReceivedDate.UTC(),
		Supplier:            m.Supplier,
		Manufacturer:        m.Manufacturer,
		StorageLocation:     m.StorageLocation,
		Notes:               m.Notes,
		Status:              m.Status,
		CreatedBy:           m.CreatedBy,
		LastUpdatedBy:       m.LastUpdatedBy,
		DisposedAt:          m.DisposedAt,
		DisposedBy:          m.DisposedBy,
	}
}

// FromDomain populates the persistence model from a domain BatchRecord.
func (m *BatchModel) FromDomain(b *inventory.BatchRecord) {
	m.FromDomainAggregateRoot(b.BaseAggregateRoot)
	m.ProductID = b.ProductID
	m.ProductType = b.ProductType
	m.ProductNameSnapshot = b.ProductNameSnapshot
	m.BatchNumber = b.BatchNumber
	m.QuantityReceived = b.QuantityReceived
	m.QuantityRemaining = b.QuantityRemaining
	m.UnitCost = b.UnitCost
	m.ExpiryDate = inventory.DateOf(b.ExpiryDate)
	m.ReceivedDate = b.ReceivedDate
	m.Supplier = b.Supplier
	m.Manufacturer = b.Manufacturer
	m.StorageLocation = b.StorageLocation
	m.Notes = b.Notes
	m.Status = b.Status
	m.CreatedBy = b.CreatedBy
	m.LastUpdatedBy = b.LastUpdatedBy
	m.DisposedAt = b.DisposedAt
	m.DisposedBy = b.DisposedBy
}

// BatchModelFromDomain creates a new persistence model from a domain BatchRecord.
func BatchModelFromDomain(b *inventory.BatchRecord) *BatchModel {
	m := &BatchModel{}
	m.FromDomain(b)
	return m
}

// BatchModelsToDomain converts a slice of models
func BatchModelsToDomain(ms []BatchModel) []*inventory.BatchRecord {
	out := make([]*inventory.BatchRecord, len(ms))
	for i := range ms {
		out[i] = ms[i].ToDomain()
	}
	return out
}

// calendarDate keeps the day a date column was stored with, whatever zone the
// driver attached to it.
func calendarDate(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
