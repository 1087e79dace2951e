package inventory

import "context"

// Deduction outcomes reported to LedgerMetrics
const (
	OutcomeSuccess           = "success"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeConflict          = "conflict"
	OutcomeDuplicate         = "duplicate"
	OutcomeInvalid           = "invalid"
	OutcomeError             = "error"
)

// LedgerMetrics receives ledger counters. Implemented by telemetry.LedgerMetrics.
type LedgerMetrics interface {
	RecordDeduction(ctx context.Context, outcome string, units int)
	RecordConflictRetry(ctx context.Context)
	RecordReceipt(ctx context.Context, productType string, units int)
	RecordDisposal(ctx context.Context, units int)
	RecordSweep(ctx context.Context, expired, failed, expiringSoon int)
}

type noopMetrics struct{}

func (noopMetrics) RecordDeduction(context.Context, string, int) {}
func (noopMetrics) RecordConflictRetry(context.Context) {}
func (noopMetrics) RecordReceipt(context.Context, string, int) {}
func (noopMetrics) RecordDisposal(context.Context, int) {}
func (noopMetrics) RecordSweep(context.Context, int, int, int) {}
