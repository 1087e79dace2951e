package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// LedgerStatsProvider reports the current shape of the batch ledger for
// periodic gauge collection.
type LedgerStatsProvider interface {
	// BatchStatsByStatus returns batch count and units remaining per status
	BatchStatsByStatus(ctx context.Context) (map[string]BatchStatusStats, error)
}

// BatchStatusStats aggregates the batches in one status
type BatchStatusStats struct {
	Batches int64
	Units   int64
}

// LedgerMetricsConfig holds configuration for ledger metrics
type LedgerMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 5 minutes
	StatsProvider   LedgerStatsProvider
}

// LedgerMetrics records dispensing, receiving, disposal and sweep activity.
// It satisfies the application's metrics port.
type LedgerMetrics struct {
	logger *zap.Logger

	deductions      *Counter
	unitsDispensed  *Counter
	conflictRetries *Counter
	receipts        *Counter
	unitsReceived   *Counter
	disposals       *Counter
	unitsWrittenOff *Counter
	sweepRuns       *Counter
	sweepExpired    *Gauge
	sweepFailed     *Gauge
	expiringSoon    *Gauge
	batchesByStatus *Gauge
	unitsByStatus   *Gauge

	statsProvider   LedgerStatsProvider
	collectInterval time.Duration
	stopChan        chan struct{}
	stopOnce        sync.Once
	collectOnce     sync.Once
}

// NewLedgerMetrics creates the ledger instruments on cfg.Meter
func NewLedgerMetrics(cfg LedgerMetricsConfig) (*LedgerMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.CollectInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	lm := &LedgerMetrics{
		logger:          logger,
		statsProvider:   cfg.StatsProvider,
		collectInterval: interval,
		stopChan:        make(chan struct{}),
	}

	counters := []struct {
		dst               **Counter
		name, desc, unit string
	}{
		{&lm.deductions, "clinic_ledger_deductions_total", "Deduction requests by outcome", "{requests}"},
		{&lm.unitsDispensed, "clinic_ledger_units_dispensed_total", "Units removed from batches by successful deductions", "{units}"},
		{&lm.conflictRetries, "clinic_ledger_conflict_retries_total", "Deductions retried after a concurrent batch update", "{retries}"},
		{&lm.receipts, "clinic_ledger_receipts_total", "Batches received", "{batches}"},
		{&lm.unitsReceived, "clinic_ledger_units_received_total", "Units received into new batches", "{units}"},
		{&lm.disposals, "clinic_ledger_disposals_total", "Batches disposed", "{batches}"},
		{&lm.unitsWrittenOff, "clinic_ledger_units_written_off_total", "Units written off by disposal", "{units}"},
		{&lm.sweepRuns, "clinic_ledger_sweep_runs_total", "Expiry sweeps completed", "{runs}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(cfg.Meter, c.name, c.desc, c.unit)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	gauges := []struct {
		dst               **Gauge
		name, desc, unit string
	}{
		{&lm.sweepExpired, "clinic_ledger_sweep_expired", "Batches expired by the last sweep", "{batches}"},
		{&lm.sweepFailed, "clinic_ledger_sweep_failed", "Batches the last sweep failed to expire", "{batches}"},
		{&lm.expiringSoon, "clinic_ledger_expiring_soon", "Batches inside the expiring-soon window at the last sweep", "{batches}"},
		{&lm.batchesByStatus, "clinic_ledger_batches", "Batches per status", "{batches}"},
		{&lm.unitsByStatus, "clinic_ledger_units_remaining", "Units remaining per batch status", "{units}"},
	}
	for _, g := range gauges {
		gauge, err := NewGauge(cfg.Meter, g.name, g.desc, g.unit)
		if err != nil {
			return nil, err
		}
		*g.dst = gauge
	}

	return lm, nil
}

// RecordDeduction counts a deduction request; units is zero unless it succeeded
func (lm *LedgerMetrics) RecordDeduction(ctx context.Context, outcome string, units int) {
	lm.deductions.Inc(ctx, AttrOutcome.String(outcome))
	if units > 0 {
		lm.unitsDispensed.Add(ctx, int64(units))
	}
}

func (lm *LedgerMetrics) RecordConflictRetry(ctx context.Context) {
	lm.conflictRetries.Inc(ctx)
}

func (lm *LedgerMetrics) RecordReceipt(ctx context.Context, productType string, units int) {
	attr := AttrProductType.String(productType)
	lm.receipts.Inc(ctx, attr)
	lm.unitsReceived.Add(ctx, int64(units), attr)
}

func (lm *LedgerMetrics) RecordDisposal(ctx context.Context, units int) {
	lm.disposals.Inc(ctx)
	if units > 0 {
		lm.unitsWrittenOff.Add(ctx, int64(units))
	}
}

// RecordSweep stores the outcome of the last expiry sweep
func (lm *LedgerMetrics) RecordSweep(ctx context.Context, expired, failed, expiringSoon int) {
	lm.sweepRuns.Inc(ctx)
	lm.sweepExpired.Record(ctx, int64(expired))
	lm.sweepFailed.Record(ctx, int64(failed))
	lm.expiringSoon.Record(ctx, int64(expiringSoon))
}

// StartPeriodicCollection records per-status gauges now and then every
// collect interval until Stop or ctx is done. Non-blocking.
func (lm *LedgerMetrics) StartPeriodicCollection(ctx context.Context) {
	lm.collectOnce.Do(func() {
		go lm.runPeriodicCollection(ctx)
	})
}

func (lm *LedgerMetrics) runPeriodicCollection(ctx context.Context) {
	ticker := time.NewTicker(lm.collectInterval)
	defer ticker.Stop()

	lm.CollectLedgerStats(ctx)
	for {
		select {
		case <-lm.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.CollectLedgerStats(ctx)
		}
	}
}

// CollectLedgerStats records one snapshot of the per-status gauges
func (lm *LedgerMetrics) CollectLedgerStats(ctx context.Context) {
	if lm.statsProvider == nil {
		return
	}
	stats, err := lm.statsProvider.BatchStatsByStatus(ctx)
	if err != nil {
		lm.logger.Warn("Failed to collect ledger stats", zap.Error(err))
		return
	}
	for status, s := range stats {
		attr := AttrBatchStatus.String(status)
		lm.batchesByStatus.Record(ctx, s.Batches, attr)
		lm.unitsByStatus.Record(ctx, s.Units, attr)
	}
}

// Stop stops the periodic collection
func (lm *LedgerMetrics) Stop() {
	lm.stopOnce.Do(func() {
		close(lm.stopChan)
	})
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewLedgerMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// Ledger metric attribute keys
var (
	AttrOutcome     = attribute.Key("outcome")
	AttrProductType = attribute.Key("product_type")
	AttrBatchStatus = attribute.Key("batch_status")
)
