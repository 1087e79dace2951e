package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/google/uuid"
)

// DeductionRequestModel remembers a committed deduction under its idempotency key.
// Lines holds the per-batch breakdown as JSON.
type DeductionRequestModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	ProductID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_deduction_requests_product_key,priority:1"`
	IdempotencyKey string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_deduction_requests_product_key,priority:2"`
	Quantity       int       `gorm:"not null"`
	Lines          []byte    `gorm:"not null"`
	Reference      string    `gorm:"type:varchar(200)"`
	Actor          string    `gorm:"type:varchar(100);not null"`
	DeductedAt     time.Time `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DeductionRequestModel) TableName() string {
	return "deduction_requests"
}

// ToDomain converts the persistence model to a DeductionRecord
func (m *DeductionRequestModel) ToDomain() (*inventory.DeductionRecord, error) {
	var lines []inventory.DeductionLine
	if err := json.Unmarshal(m.Lines, &lines); err != nil {
		return nil, fmt.Errorf("decode deduction %s lines: %w", m.ID, err)
	}
	return &inventory.DeductionRecord{
		ID:             m.ID,
		ProductID:      m.ProductID,
		IdempotencyKey: m.IdempotencyKey,
		Quantity:       m.Quantity,
		Lines:          lines,
		Reference:      m.Reference,
		Actor:          m.Actor,
		DeductedAt:     m.DeductedAt.UTC(),
	}, nil
}

// DeductionRequestModelFromDomain builds a row from a DeductionRecord
func DeductionRequestModelFromDomain(r *inventory.DeductionRecord) (*DeductionRequestModel, error) {
	lines, err := json.Marshal(r.Lines)
	if err != nil {
		return nil, fmt.Errorf("encode deduction lines: %w", err)
	}
	id := r.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &DeductionRequestModel{
		ID:             id,
		ProductID:      r.ProductID,
		IdempotencyKey: r.IdempotencyKey,
		Quantity:       r.Quantity,
		Lines:          lines,
		Reference:      r.Reference,
		Actor:          r.Actor,
		DeductedAt:     r.DeductedAt,
		CreatedAt:      r.DeductedAt,
	}, nil
}
