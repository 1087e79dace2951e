package inventory

import (
	"time"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReceiveBatchRequest records a newly received lot
type ReceiveBatchRequest struct {
	ProductID         uuid.UUID        `json:"product_id" validate:"required"`
	ProductType       string           `json:"product_type" validate:"required,oneof=medication vaccine"`
	BatchNumber       string           `json:"batch_number" validate:"required,max=100"`
	QuantityReceived  int              `json:"quantity_received" validate:"min=1"`
	QuantityRemaining *int             `json:"quantity_remaining" validate:"omitempty,min=0"`
	UnitCost          *decimal.Decimal `json:"unit_cost"`
	ExpiryDate        time.Time        `json:"expiry_date" validate:"required"`
	ReceivedDate      *time.Time       `json:"received_date"`
	Supplier          string           `json:"supplier" validate:"max=200"`
	Manufacturer      string           `json:"manufacturer" validate:"max=200"`
	StorageLocation   string           `json:"storage_location" validate:"max=100"`
	Notes             string           `json:"notes" validate:"max=2000"`
}

func (r ReceiveBatchRequest) toInput() inventory.BatchInput {
	return inventory.BatchInput{
		ProductID:         r.ProductID,
		ProductType:       inventory.ProductType(r.ProductType),
		BatchNumber:       r.BatchNumber,
		QuantityReceived:  r.QuantityReceived,
		QuantityRemaining: r.QuantityRemaining,
		UnitCost:          r.UnitCost,
		ExpiryDate:        r.ExpiryDate,
		ReceivedDate:      r.ReceivedDate,
		Supplier:          r.Supplier,
		Manufacturer:      r.Manufacturer,
		StorageLocation:   r.StorageLocation,
		Notes:             r.Notes,
	}
}

// DeductRequest dispenses quantity units of a product FIFO-by-expiry
type DeductRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"min=1"`
	// IdempotencyKey makes retries of the same dispensing safe, e.g. a prescription line id
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
	Reference      string `json:"reference" validate:"max=200"`
}

// DisposeRequest retires an expired or recalled batch
type DisposeRequest struct {
	BatchID uuid.UUID `json:"batch_id" validate:"required"`
	Reason  string    `json:"reason" validate:"required,max=500"`
}

// ReviewRequest carries a manual lifecycle decision on a batch
type ReviewRequest struct {
	BatchID uuid.UUID `json:"batch_id" validate:"required"`
	Reason  string    `json:"reason" validate:"required,max=500"`
}

// QuarantineOutcome is how a quarantine review ends
type QuarantineOutcome string

const (
	QuarantineRelease QuarantineOutcome = "release"
	QuarantineDispose QuarantineOutcome = "dispose"
)

// ResolveQuarantineRequest closes a quarantine review
type ResolveQuarantineRequest struct {
	BatchID uuid.UUID         `json:"batch_id" validate:"required"`
	Reason  string            `json:"reason" validate:"required,max=500"`
	Outcome QuarantineOutcome `json:"outcome" validate:"required,oneof=release dispose"`
}

// ListBatchesFilter narrows a product's batch list
type ListBatchesFilter struct {
	Status      string `json:"status"`
	ProductType string `json:"product_type" validate:"omitempty,oneof=medication vaccine"`
	Page        int    `json:"page"`
	PageSize    int    `json:"page_size"`
	OrderBy     string `json:"order_by" validate:"omitempty,oneof=expiry_date received_date batch_number quantity_remaining created_at"`
	OrderDir    string `json:"order_dir" validate:"omitempty,oneof=asc desc"`
}

// BatchResponse is a batch with its read-time derived fields
type BatchResponse struct {
	ID                  uuid.UUID       `json:"id"`
	ProductID           uuid.UUID       `json:"product_id"`
	ProductType         string          `json:"product_type"`
	ProductNameSnapshot string          `json:"product_name_snapshot"`
	BatchNumber         string          `json:"batch_number"`
	QuantityReceived    int             `json:"quantity_received"`
	QuantityRemaining   int             `json:"quantity_remaining"`
	QuantityUsed        int             `json:"quantity_used"`
	UsagePercentage     float64         `json:"usage_percentage"`
	UnitCost            decimal.Decimal `json:"unit_cost"`
	ExpiryDate          time.Time       `json:"expiry_date"`
	ReceivedDate        time.Time       `json:"received_date"`
	DaysUntilExpiry     int             `json:"days_until_expiry"`
	IsExpired           bool            `json:"is_expired"`
	IsExpiringSoon      bool            `json:"is_expiring_soon"`
	Status              string          `json:"status"`
	Classification      string          `json:"classification"`
	Supplier            string          `json:"supplier,omitempty"`
	Manufacturer        string          `json:"manufacturer,omitempty"`
	StorageLocation     string          `json:"storage_location,omitempty"`
	Notes               string          `json:"notes,omitempty"`
	CreatedBy           string          `json:"created_by"`
	LastUpdatedBy       string          `json:"last_updated_by"`
	DisposedAt          *time.Time      `json:"disposed_at,omitempty"`
	DisposedBy          string          `json:"disposed_by,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Version             int             `json:"version"`
}

// ToBatchResponse converts a batch, computing derived fields as of asOf
func ToBatchResponse(b *inventory.BatchRecord, asOf time.Time, windowDays int) BatchResponse {
	return BatchResponse{
		ID:                  b.ID,
		ProductID:           b.ProductID,
		ProductType:         b.ProductType.String(),
		ProductNameSnapshot: b.ProductNameSnapshot,
		BatchNumber:         b.BatchNumber,
		QuantityReceived:    b.QuantityReceived,
		QuantityRemaining:   b.QuantityRemaining,
		QuantityUsed:        b.QuantityUsed(),
		UsagePercentage:     b.UsagePercentage(),
		UnitCost:            b.UnitCost,
		ExpiryDate:          b.ExpiryDate,
		ReceivedDate:        b.ReceivedDate,
		DaysUntilExpiry:     b.DaysUntilExpiry(asOf),
		IsExpired:           b.IsExpired(asOf),
		IsExpiringSoon:      b.IsExpiringSoon(asOf, windowDays),
		Status:              b.Status.String(),
		Classification:      inventory.Classify(b, asOf, windowDays).String(),
		Supplier:            b.Supplier,
		Manufacturer:        b.Manufacturer,
		StorageLocation:     b.StorageLocation,
		Notes:               b.Notes,
		CreatedBy:           b.CreatedBy,
		LastUpdatedBy:       b.LastUpdatedBy,
		DisposedAt:          b.DisposedAt,
		DisposedBy:          b.DisposedBy,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
		Version:             b.Version,
	}
}

// ToBatchResponses converts a slice of batches
func ToBatchResponses(batches []*inventory.BatchRecord, asOf time.Time, windowDays int) []BatchResponse {
	out := make([]BatchResponse, len(batches))
	for i, b := range batches {
		out[i] = ToBatchResponse(b, asOf, windowDays)
	}
	return out
}

// DeductionLineResponse is one batch's share of a deduction
type DeductionLineResponse struct {
	BatchID        uuid.UUID `json:"batch_id"`
	BatchNumber    string    `json:"batch_number"`
	ExpiryDate     time.Time `json:"expiry_date"`
	Quantity       int       `json:"quantity"`
	RemainingAfter int       `json:"remaining_after"`
	StatusAfter    string    `json:"status_after"`
}

// DeductionResult is the per-batch breakdown of a committed deduction
type DeductionResult struct {
	ProductID  uuid.UUID               `json:"product_id"`
	Quantity   int                     `json:"quantity"`
	Lines      []DeductionLineResponse `json:"lines"`
	Attempts   int                     `json:"attempts"`
	DeductedAt time.Time               `json:"deducted_at"`
	// Replayed is set when an earlier deduction with the same idempotency key is returned
	Replayed bool `json:"replayed,omitempty"`
}

// AllocationPreview shows what FIFO would pick right now without changing anything
type AllocationPreview struct {
	ProductID uuid.UUID               `json:"product_id"`
	Requested int                     `json:"requested"`
	Available int                     `json:"available"`
	Lines     []DeductionLineResponse `json:"lines"`
}

// StockSummary is a product's on-hand total over non-terminal batches
type StockSummary struct {
	ProductID uuid.UUID `json:"product_id"`
	OnHand    int       `json:"on_hand"`
	AsOf      time.Time `json:"as_of"`
}

// ClassificationResult is the outcome of classifying one batch
type ClassificationResult struct {
	BatchID         uuid.UUID `json:"batch_id"`
	StoredStatus    string    `json:"stored_status"`
	Classification  string    `json:"classification"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	Persisted       bool      `json:"persisted"`
}

// SweepStats summarizes an expiry sweep
type SweepStats struct {
	Scanned      int       `json:"scanned"`
	Expired      int       `json:"expired"`
	Failed       int       `json:"failed"`
	ExpiringSoon int       `json:"expiring_soon"`
	ProcessedAt  time.Time `json:"processed_at"`
}
