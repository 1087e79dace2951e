package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateTypeBatchRecord is the aggregate type recorded on batch events
const AggregateTypeBatchRecord = "BatchRecord"

// DefaultExpiringSoonDays is the look-ahead window used for expiring-soon classification
const DefaultExpiringSoonDays = 30

const maxBatchNumberLength = 100

// BatchInput carries the fields needed to record a newly received lot.
// QuantityRemaining defaults to QuantityReceived when nil; historical imports
// may set it lower. UnitCost is nil when omitted so the product's cost can be
// used instead.
type BatchInput struct {
	ProductID         uuid.UUID
	ProductType       ProductType
	ProductName       string
	BatchNumber       string
	QuantityReceived  int
	QuantityRemaining *int
	UnitCost          *decimal.Decimal
	ExpiryDate        time.Time
	ReceivedDate      *time.Time
	Supplier          string
	Manufacturer      string
	StorageLocation   string
	Notes             string
}

// BatchRecord is one received lot of a medication or vaccine
type BatchRecord struct {
	shared.BaseAggregateRoot
	ProductID           uuid.UUID
	ProductType         ProductType
	ProductNameSnapshot string
	BatchNumber         string
	QuantityReceived    int
	QuantityRemaining   int
	UnitCost            decimal.Decimal
	ExpiryDate          time.Time
	ReceivedDate        time.Time
	Supplier            string
	Manufacturer        string
	StorageLocation     string
	Notes               string
	Status              BatchStatus
	CreatedBy           string
	LastUpdatedBy       string
	DisposedAt          *time.Time
	DisposedBy          string
}

// NewBatchRecord validates input and creates a batch. A batch whose expiry
// date is already behind now starts out expired.
func NewBatchRecord(input BatchInput, actor string, now time.Time) (*BatchRecord, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if input.ProductID == uuid.Nil {
		return nil, &ValidationError{Field: "product_id", Reason: "is required"}
	}
	if !input.ProductType.IsValid() {
		return nil, &ValidationError{Field: "product_type", Reason: "must be medication or vaccine"}
	}
	batchNumber := strings.TrimSpace(input.BatchNumber)
	if batchNumber == "" {
		return nil, &ValidationError{Field: "batch_number", Reason: "is required"}
	}
	if len(batchNumber) > maxBatchNumberLength {
		return nil, &ValidationError{Field: "batch_number", Reason: fmt.Sprintf("must be at most %d characters", maxBatchNumberLength)}
	}
	if input.QuantityReceived < 1 {
		return nil, &ValidationError{Field: "quantity_received", Reason: "must be at least 1"}
	}
	remaining := input.QuantityReceived
	if input.QuantityRemaining != nil {
		remaining = *input.QuantityRemaining
	}
	if remaining < 0 {
		return nil, &ValidationError{Field: "quantity_remaining", Reason: "cannot be negative"}
	}
	if remaining > input.QuantityReceived {
		return nil, &ValidationError{Field: "quantity_remaining", Reason: "cannot exceed quantity received"}
	}
	unitCost := decimal.Zero
	if input.UnitCost != nil {
		unitCost = *input.UnitCost
	}
	if unitCost.IsNegative() {
		return nil, &ValidationError{Field: "unit_cost", Reason: "cannot be negative"}
	}
	if input.ExpiryDate.IsZero() {
		return nil, &ValidationError{Field: "expiry_date", Reason: "is required"}
	}

	received := now
	if input.ReceivedDate != nil && !input.ReceivedDate.IsZero() {
		received = *input.ReceivedDate
	}

	b := &BatchRecord{
		BaseAggregateRoot:   shared.NewBaseAggregateRoot(now),
		ProductID:           input.ProductID,
		ProductType:         input.ProductType,
		ProductNameSnapshot: strings.TrimSpace(input.ProductName),
		BatchNumber:         batchNumber,
		QuantityReceived:    input.QuantityReceived,
		QuantityRemaining:   remaining,
		UnitCost:            unitCost,
		ExpiryDate:          DateOf(input.ExpiryDate),
		ReceivedDate:        received.UTC(),
		Supplier:            strings.TrimSpace(input.Supplier),
		Manufacturer:        strings.TrimSpace(input.Manufacturer),
		StorageLocation:     strings.TrimSpace(input.StorageLocation),
		Notes:               strings.TrimSpace(input.Notes),
		Status:              BatchStatusActive,
		CreatedBy:           actor,
		LastUpdatedBy:       actor,
	}
	b.ReconcileStatus(now)

	b.AddDomainEvent(NewBatchReceivedEvent(b, actor, now))
	return b, nil
}

// QuantityUsed is how much has left the batch through dispensing
func (b *BatchRecord) QuantityUsed() int {
	return b.QuantityReceived - b.QuantityRemaining
}

// UsagePercentage returns the used share of the received quantity, 0-100
func (b *BatchRecord) UsagePercentage() float64 {
	if b.QuantityReceived == 0 {
		return 0
	}
	return float64(b.QuantityUsed()) / float64(b.QuantityReceived) * 100
}

// DaysUntilExpiry counts whole calendar days (UTC) from asOf to the expiry date.
// Negative once the expiry date has passed.
func (b *BatchRecord) DaysUntilExpiry(asOf time.Time) int {
	return int(DateOf(b.ExpiryDate).Sub(DateOf(asOf)).Hours() / 24)
}

// IsExpired reports whether the expiry date lies before asOf's calendar day
func (b *BatchRecord) IsExpired(asOf time.Time) bool {
	return b.DaysUntilExpiry(asOf) < 0
}

// IsExpiringSoon reports whether expiry falls within (0, windowDays] days of asOf
func (b *BatchRecord) IsExpiringSoon(asOf time.Time, windowDays int) bool {
	days := b.DaysUntilExpiry(asOf)
	return days > 0 && days <= windowDays
}

// ReconciledStatus computes the status implied by quantity and date without changing b.
func (b *BatchRecord) ReconciledStatus(asOf time.Time) BatchStatus {
	status := b.Status
	if status == BatchStatusActive && b.QuantityRemaining == 0 {
		status = BatchStatusDepleted
	}
	if (status == BatchStatusActive || status == BatchStatusDepleted) && b.IsExpired(asOf) {
		status = BatchStatusExpired
	}
	return status
}

// ReconcileStatus applies ReconciledStatus and reports whether the status changed.
func (b *BatchRecord) ReconcileStatus(asOf time.Time) bool {
	next := b.ReconciledStatus(asOf)
	if next == b.Status {
		return false
	}
	b.Status = next
	return true
}

// Deduct removes amount units from the batch and reconciles its status
func (b *BatchRecord) Deduct(amount int, actor string, at time.Time) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if amount < 1 {
		return &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	if !b.Status.IsAllocatable() {
		return &InvalidStateTransitionError{
			BatchID: b.ID,
			From:    b.Status,
			To:      b.Status,
			Reason:  "batch is not available for dispensing",
		}
	}
	if amount > b.QuantityRemaining {
		return &InsufficientStockError{ProductID: b.ProductID, Available: b.QuantityRemaining, Required: amount}
	}

	from := b.Status
	b.QuantityRemaining -= amount
	b.LastUpdatedBy = actor
	b.Touch(at)
	if b.ReconcileStatus(at) {
		b.AddDomainEvent(NewBatchStatusChangedEvent(b, from, actor, "", at))
	}
	return nil
}

// MarkExpired persists the time-triggered transition when expiry has passed.
// It returns false without error when there is nothing to do.
func (b *BatchRecord) MarkExpired(actor string, at time.Time) (bool, error) {
	if err := requireActor(actor); err != nil {
		return false, err
	}
	from := b.Status
	if !b.ReconcileStatus(at) {
		return false, nil
	}
	b.LastUpdatedBy = actor
	b.Touch(at)
	b.AddDomainEvent(NewBatchStatusChangedEvent(b, from, actor, "", at))
	return true, nil
}

// ChangeStatus moves the batch along an automatic edge of the state machine.
// Manual edges (recall, quarantine, disposal) need a reason and go through TransitionTo.
func (b *BatchRecord) ChangeStatus(to BatchStatus, actor string, at time.Time) error {
	return b.TransitionTo(to, actor, "", at)
}

// TransitionTo validates and applies a status change. Manual edges require a
// reason which is appended to the batch notes.
func (b *BatchRecord) TransitionTo(to BatchStatus, actor, reason string, at time.Time) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !to.IsValid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("%q cannot be stored", to)}
	}
	from := b.Status
	if from == to {
		return &InvalidStateTransitionError{BatchID: b.ID, From: from, To: to, Reason: "batch is already " + string(to)}
	}
	if !from.CanTransitionTo(to) {
		return &InvalidStateTransitionError{BatchID: b.ID, From: from, To: to}
	}
	switch {
	case to == BatchStatusDepleted && b.QuantityRemaining != 0:
		return &InvalidStateTransitionError{BatchID: b.ID, From: from, To: to, Reason: "batch still has stock"}
	case to == BatchStatusExpired && !b.IsExpired(at):
		return &InvalidStateTransitionError{BatchID: b.ID, From: from, To: to, Reason: "expiry date has not passed"}
	}

	reason = strings.TrimSpace(reason)
	manual := isManualTransition(from, to)
	if manual && reason == "" {
		return &ValidationError{Field: "reason", Reason: fmt.Sprintf("is required to move a batch from %s to %s", from, to)}
	}

	b.Status = to
	if from == BatchStatusQuarantine && to == BatchStatusActive {
		b.ReconcileStatus(at)
	}
	if manual {
		b.appendNote(at, actor, to, reason)
	}
	b.LastUpdatedBy = actor
	b.Touch(at)

	if to == BatchStatusDisposed {
		disposedAt := at
		b.DisposedAt = &disposedAt
		b.DisposedBy = actor
		b.AddDomainEvent(NewBatchDisposedEvent(b, from, actor, reason, at))
	}
	b.AddDomainEvent(NewBatchStatusChangedEvent(b, from, actor, reason, at))
	return nil
}

// Recall withdraws an active batch from use
func (b *BatchRecord) Recall(actor, reason string, at time.Time) error {
	return b.TransitionTo(BatchStatusRecalled, actor, reason, at)
}

// Quarantine withholds an active batch from allocation pending review
func (b *BatchRecord) Quarantine(actor, reason string, at time.Time) error {
	return b.TransitionTo(BatchStatusQuarantine, actor, reason, at)
}

// ReleaseFromQuarantine returns a quarantined batch to service. It lands on
// depleted or expired instead of active when quantity or date say so.
func (b *BatchRecord) ReleaseFromQuarantine(actor, reason string, at time.Time) error {
	if b.Status != BatchStatusQuarantine {
		return &InvalidStateTransitionError{BatchID: b.ID, From: b.Status, To: BatchStatusActive, Reason: "batch is not in quarantine"}
	}
	return b.TransitionTo(BatchStatusActive, actor, reason, at)
}

// DisposeFromQuarantine retires a quarantined batch after review
func (b *BatchRecord) DisposeFromQuarantine(actor, reason string, at time.Time) error {
	if b.Status != BatchStatusQuarantine {
		return &InvalidStateTransitionError{BatchID: b.ID, From: b.Status, To: BatchStatusDisposed, Reason: "batch is not in quarantine"}
	}
	return b.TransitionTo(BatchStatusDisposed, actor, reason, at)
}

// Dispose retires an expired or recalled batch. Disposal happens once.
func (b *BatchRecord) Dispose(actor, reason string, at time.Time) error {
	if b.Status != BatchStatusExpired && b.Status != BatchStatusRecalled {
		msg := "only expired or recalled batches can be disposed"
		if b.Status == BatchStatusDisposed {
			msg = "batch was already disposed"
		}
		return &InvalidStateTransitionError{BatchID: b.ID, From: b.Status, To: BatchStatusDisposed, Reason: msg}
	}
	return b.TransitionTo(BatchStatusDisposed, actor, reason, at)
}

// IsDisposalEligible reports whether Dispose would accept the batch
func (b *BatchRecord) IsDisposalEligible() bool {
	return b.Status == BatchStatusExpired || b.Status == BatchStatusRecalled
}

func (b *BatchRecord) appendNote(at time.Time, actor string, to BatchStatus, reason string) {
	line := fmt.Sprintf("[%s %s by %s] %s", at.UTC().Format(time.DateOnly), to, actor, reason)
	if b.Notes == "" {
		b.Notes = line
		return
	}
	b.Notes += "\n" + line
}

func isManualTransition(from, to BatchStatus) bool {
	if from == BatchStatusQuarantine {
		return true
	}
	switch to {
	case BatchStatusRecalled, BatchStatusQuarantine, BatchStatusDisposed:
		return true
	}
	return false
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return &ValidationError{Field: "actor", Reason: "is required"}
	}
	return nil
}

// DateOf truncates t to its UTC calendar day
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
