package inventory

import (
	"time"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateTypeProduct is used for events that span several batches of one product
const AggregateTypeProduct = "Product"

// Event type constants
const (
	EventTypeBatchReceived      = "BatchReceived"
	EventTypeStockDeducted      = "StockDeducted"
	EventTypeBatchDisposed      = "BatchDisposed"
	EventTypeBatchStatusChanged = "BatchStatusChanged"
)

// BatchReceivedEvent is raised when a new lot is recorded
type BatchReceivedEvent struct {
	shared.BaseDomainEvent
	ProductID   uuid.UUID       `json:"product_id"`
	ProductType ProductType     `json:"product_type"`
	BatchNumber string          `json:"batch_number"`
	Quantity    int             `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	ExpiryDate  time.Time       `json:"expiry_date"`
	Status      BatchStatus     `json:"status"`
}

// NewBatchReceivedEvent creates a BatchReceivedEvent
func NewBatchReceivedEvent(b *BatchRecord, actor string, at time.Time) *BatchReceivedEvent {
	return &BatchReceivedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBatchReceived, AggregateTypeBatchRecord, b.ID, actor, at),
		ProductID:       b.ProductID,
		ProductType:     b.ProductType,
		BatchNumber:     b.BatchNumber,
		Quantity:        b.QuantityRemaining,
		UnitCost:        b.UnitCost,
		ExpiryDate:      b.ExpiryDate,
		Status:          b.Status,
	}
}

// EventType returns the event type name
func (e *BatchReceivedEvent) EventType() string {
	return EventTypeBatchReceived
}

// DeductionLine is one batch's share of a deduction
type DeductionLine struct {
	BatchID        uuid.UUID   `json:"batch_id"`
	BatchNumber    string      `json:"batch_number"`
	ExpiryDate     time.Time   `json:"expiry_date"`
	Quantity       int         `json:"quantity"`
	RemainingAfter int         `json:"remaining_after"`
	StatusAfter    BatchStatus `json:"status_after"`
}

// StockDeductedEvent records a completed FIFO deduction with its per-batch breakdown
type StockDeductedEvent struct {
	shared.BaseDomainEvent
	ProductID      uuid.UUID       `json:"product_id"`
	Quantity       int             `json:"quantity"`
	Lines          []DeductionLine `json:"lines"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Reference      string          `json:"reference,omitempty"`
}

// NewStockDeductedEvent creates a StockDeductedEvent
func NewStockDeductedEvent(productID uuid.UUID, lines []DeductionLine, actor, idempotencyKey, reference string, at time.Time) *StockDeductedEvent {
	total := 0
	for _, l := range lines {
		total += l.Quantity
	}
	return &StockDeductedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeStockDeducted, AggregateTypeProduct, productID, actor, at),
		ProductID:       productID,
		Quantity:        total,
		Lines:           lines,
		IdempotencyKey:  idempotencyKey,
		Reference:       reference,
	}
}

// EventType returns the event type name
func (e *StockDeductedEvent) EventType() string {
	return EventTypeStockDeducted
}

// BatchDisposedEvent is raised when a batch is retired
type BatchDisposedEvent struct {
	shared.BaseDomainEvent
	ProductID          uuid.UUID   `json:"product_id"`
	BatchNumber        string      `json:"batch_number"`
	PreviousStatus     BatchStatus `json:"previous_status"`
	QuantityWrittenOff int         `json:"quantity_written_off"`
	Reason             string      `json:"reason"`
}

// NewBatchDisposedEvent creates a BatchDisposedEvent
func NewBatchDisposedEvent(b *BatchRecord, previous BatchStatus, actor, reason string, at time.Time) *BatchDisposedEvent {
	return &BatchDisposedEvent{
		BaseDomainEvent:    shared.NewBaseDomainEvent(EventTypeBatchDisposed, AggregateTypeBatchRecord, b.ID, actor, at),
		ProductID:          b.ProductID,
		BatchNumber:        b.BatchNumber,
		PreviousStatus:     previous,
		QuantityWrittenOff: b.QuantityRemaining,
		Reason:             reason,
	}
}

// EventType returns the event type name
func (e *BatchDisposedEvent) EventType() string {
	return EventTypeBatchDisposed
}

// BatchStatusChangedEvent is raised for every persisted status change
type BatchStatusChangedEvent struct {
	shared.BaseDomainEvent
	ProductID   uuid.UUID   `json:"product_id"`
	BatchNumber string      `json:"batch_number"`
	From        BatchStatus `json:"from"`
	To          BatchStatus `json:"to"`
	Reason      string      `json:"reason,omitempty"`
}

// NewBatchStatusChangedEvent creates a BatchStatusChangedEvent using the batch's current status as the target
func NewBatchStatusChangedEvent(b *BatchRecord, from BatchStatus, actor, reason string, at time.Time) *BatchStatusChangedEvent {
	return &BatchStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBatchStatusChanged, AggregateTypeBatchRecord, b.ID, actor, at),
		ProductID:       b.ProductID,
		BatchNumber:     b.BatchNumber,
		From:            from,
		To:              b.Status,
		Reason:          reason,
	}
}

// EventType returns the event type name
func (e *BatchStatusChangedEvent) EventType() string {
	return EventTypeBatchStatusChanged
}
