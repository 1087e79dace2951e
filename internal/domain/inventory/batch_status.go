package inventory

import (
	"slices"
	"strings"
)

// ProductType tags which product family a batch belongs to
type ProductType string

const (
	ProductTypeMedication ProductType = "medication"
	ProductTypeVaccine    ProductType = "vaccine"
)

// IsValid reports whether t is a known product family
func (t ProductType) IsValid() bool {
	return t == ProductTypeMedication || t == ProductTypeVaccine
}

func (t ProductType) String() string {
	return string(t)
}

// ParseProductType normalizes s into a ProductType
func ParseProductType(s string) (ProductType, error) {
	t := ProductType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", &ValidationError{Field: "product_type", Reason: "must be medication or vaccine"}
	}
	return t, nil
}

// BatchStatus is the lifecycle state of a batch
type BatchStatus string

const (
	BatchStatusActive BatchStatus = "active"
	// BatchStatusExpiringSoon is a read-time classification and is never stored.
	BatchStatusExpiringSoon BatchStatus = "expiring_soon"
	BatchStatusExpired      BatchStatus = "expired"
	BatchStatusDepleted     BatchStatus = "depleted"
	BatchStatusRecalled     BatchStatus = "recalled"
	BatchStatusQuarantine   BatchStatus = "quarantine"
	BatchStatusDisposed     BatchStatus = "disposed"
)

var transitions = map[BatchStatus][]BatchStatus{
	BatchStatusActive:     {BatchStatusDepleted, BatchStatusExpired, BatchStatusRecalled, BatchStatusQuarantine},
	BatchStatusDepleted:   {BatchStatusExpired},
	BatchStatusExpired:    {BatchStatusDisposed},
	BatchStatusRecalled:   {BatchStatusDisposed},
	BatchStatusQuarantine: {BatchStatusActive, BatchStatusDisposed},
}

// IsValid reports whether s may be persisted
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusActive, BatchStatusExpired, BatchStatusDepleted,
		BatchStatusRecalled, BatchStatusQuarantine, BatchStatusDisposed:
		return true
	}
	return false
}

// IsTerminal reports whether stock in this status no longer counts as on hand.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusExpired, BatchStatusDepleted, BatchStatusRecalled, BatchStatusDisposed:
		return true
	}
	return false
}

// IsAllocatable reports whether FIFO may draw from a batch in this status
func (s BatchStatus) IsAllocatable() bool {
	return s == BatchStatusActive
}

// CanTransitionTo reports whether the state machine has an edge from s to next
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	return slices.Contains(transitions[s], next)
}

func (s BatchStatus) String() string {
	return string(s)
}

// TerminalStatuses lists the stored statuses excluded from stock totals
func TerminalStatuses() []BatchStatus {
	return []BatchStatus{BatchStatusExpired, BatchStatusDepleted, BatchStatusRecalled, BatchStatusDisposed}
}

// ParseBatchStatus accepts any casing and the hyphenated spelling of
// expiring_soon, and returns the canonical value.
func ParseBatchStatus(s string) (BatchStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	status := BatchStatus(normalized)
	if status == BatchStatusExpiringSoon || status.IsValid() {
		return status, nil
	}
	return "", &ValidationError{Field: "status", Reason: "unknown batch status " + s}
}
