package inventory

import "time"

// Classify maps a batch to active, expiring_soon or expired as of asOf.
// Stored statuses other than active are returned unchanged except when the
// batch is past its expiry and reconciliation would expire it.
func Classify(b *BatchRecord, asOf time.Time, windowDays int) BatchStatus {
	status := b.ReconciledStatus(asOf)
	if status != BatchStatusActive {
		return status
	}
	if b.IsExpiringSoon(asOf, windowDays) {
		return BatchStatusExpiringSoon
	}
	return BatchStatusActive
}

// FilterDispensable keeps batches FIFO may draw from on asOf's date. Batches
// still stored as active but already past expiry are dropped.
func FilterDispensable(batches []*BatchRecord, asOf time.Time) []*BatchRecord {
	out := make([]*BatchRecord, 0, len(batches))
	for _, b := range batches {
		if b.QuantityRemaining > 0 && b.ReconciledStatus(asOf).IsAllocatable() {
			out = append(out, b)
		}
	}
	return out
}

// SumOnHand totals remaining quantity over non-terminal batches
func SumOnHand(batches []*BatchRecord) int {
	total := 0
	for _, b := range batches {
		if !b.Status.IsTerminal() {
			total += b.QuantityRemaining
		}
	}
	return total
}
