package inventory

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// AllocationLine is the quantity to take from one batch
type AllocationLine struct {
	BatchID         uuid.UUID
	BatchNumber     string
	ExpiryDate      time.Time
	RemainingBefore int
	Quantity        int
}

// RemainingAfter is the batch balance once the line is applied
func (l AllocationLine) RemainingAfter() int {
	return l.RemainingBefore - l.Quantity
}

// AllocationPlan is a complete FIFO plan for one request. Plans are never partial.
type AllocationPlan struct {
	Requested int
	Available int
	Lines     []AllocationLine
}

// TotalQuantity sums the plan lines
func (p *AllocationPlan) TotalQuantity() int {
	total := 0
	for _, l := range p.Lines {
		total += l.Quantity
	}
	return total
}

// FifoAllocator plans deductions earliest-expiry first
type FifoAllocator struct{}

// NewFifoAllocator creates a FifoAllocator
func NewFifoAllocator() *FifoAllocator {
	return &FifoAllocator{}
}

// SortForDispensing orders batches by expiry date, then received date, then id.
// The input slice is not modified.
func SortForDispensing(batches []*BatchRecord) []*BatchRecord {
	ordered := make([]*BatchRecord, len(batches))
	copy(ordered, batches)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if ea, eb := DateOf(a.ExpiryDate), DateOf(b.ExpiryDate); !ea.Equal(eb) {
			return ea.Before(eb)
		}
		if !a.ReceivedDate.Equal(b.ReceivedDate) {
			return a.ReceivedDate.Before(b.ReceivedDate)
		}
		return a.ID.String() < b.ID.String()
	})
	return ordered
}

// Plan allocates requested units across batches. Batches that are not
// allocatable or are empty are ignored. When the total available is short of
// requested it returns an InsufficientStockError and no plan.
func (a *FifoAllocator) Plan(batches []*BatchRecord, requested int) (*AllocationPlan, error) {
	if requested < 1 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}

	ordered := make([]*BatchRecord, 0, len(batches))
	available := 0
	var productID uuid.UUID
	for _, b := range batches {
		if b == nil || !b.Status.IsAllocatable() || b.QuantityRemaining <= 0 {
			continue
		}
		productID = b.ProductID
		available += b.QuantityRemaining
		ordered = append(ordered, b)
	}
	if available < requested {
		return nil, &InsufficientStockError{ProductID: productID, Available: available, Required: requested}
	}

	plan := &AllocationPlan{Requested: requested, Available: available}
	need := requested
	for _, b := range SortForDispensing(ordered) {
		if need == 0 {
			break
		}
		take := min(b.QuantityRemaining, need)
		plan.Lines = append(plan.Lines, AllocationLine{
			BatchID:         b.ID,
			BatchNumber:     b.BatchNumber,
			ExpiryDate:      b.ExpiryDate,
			RemainingBefore: b.QuantityRemaining,
			Quantity:        take,
		})
		need -= take
	}
	return plan, nil
}
