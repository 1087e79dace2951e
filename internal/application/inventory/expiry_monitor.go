package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSweepBatchSize is how many past-expiry batches a sweep loads per round
const DefaultSweepBatchSize = 200

// ExpiryMonitor classifies batches by expiry and persists the time-triggered
// active/depleted -> expired transition.
type ExpiryMonitor struct {
	scope      TransactionScope
	batchRepo  inventory.BatchRepository
	metrics    LedgerMetrics
	windowDays int
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time
}

// NewExpiryMonitor creates an ExpiryMonitor
func NewExpiryMonitor(scope TransactionScope, batchRepo inventory.BatchRepository, cfg LedgerConfig, logger *zap.Logger) *ExpiryMonitor {
	if cfg.ExpiringSoonDays <= 0 {
		cfg.ExpiringSoonDays = inventory.DefaultExpiringSoonDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryMonitor{
		scope:      scope,
		batchRepo:  batchRepo,
		metrics:    noopMetrics{},
		windowDays: cfg.ExpiringSoonDays,
		batchSize:  DefaultSweepBatchSize,
		logger:     logger,
		now:        time.Now,
	}
}

// SetMetrics sets the metrics sink
func (m *ExpiryMonitor) SetMetrics(metrics LedgerMetrics) {
	if metrics != nil {
		m.metrics = metrics
	}
}

// SetClock overrides the time source
func (m *ExpiryMonitor) SetClock(now func() time.Time) {
	m.now = now
}

// SetBatchSize sets how many batches a sweep round loads
func (m *ExpiryMonitor) SetBatchSize(n int) {
	if n > 0 {
		m.batchSize = n
	}
}

// Classify reports a batch as active, expiring_soon or expired as of asOf
// (now when zero). A stored active or depleted batch found past expiry is
// persisted as expired; repeating the call changes nothing further.
func (m *ExpiryMonitor) Classify(ctx context.Context, batchID uuid.UUID, asOf time.Time, actor string) (*ClassificationResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "expiry_monitor", "classify")
	defer span.End()

	if asOf.IsZero() {
		asOf = m.now()
	}
	batch, err := m.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	result := &ClassificationResult{
		BatchID:         batch.ID,
		StoredStatus:    batch.Status.String(),
		Classification:  inventory.Classify(batch, asOf, m.windowDays).String(),
		DaysUntilExpiry: batch.DaysUntilExpiry(asOf),
	}
	if batch.ReconciledStatus(asOf) == inventory.BatchStatusExpired && batch.Status != inventory.BatchStatusExpired {
		if err := requireActor(actor); err != nil {
			return nil, err
		}
		persisted, err := m.expire(ctx, batch, actor, asOf)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		result.Persisted = persisted
		result.StoredStatus = inventory.BatchStatusExpired.String()
	}
	return result, nil
}

// expire writes the expired status through the repository. It reports false
// when another writer already expired the batch.
func (m *ExpiryMonitor) expire(ctx context.Context, stored *inventory.BatchRecord, actor string, asOf time.Time) (bool, error) {
	err := m.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		batch, err := repos.BatchRepo().UpdateStatus(ctx, stored.ID, inventory.BatchStatusExpired, actor, asOf)
		if err != nil {
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				return &inventory.ConcurrencyConflictError{ProductID: stored.ProductID, Attempts: 1, Err: err}
			}
			return err
		}
		return repos.Events().Record(ctx, batch.PullDomainEvents()...)
	})
	var transition *inventory.InvalidStateTransitionError
	if errors.As(err, &transition) && transition.From == inventory.BatchStatusExpired {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindExpiring lists non-terminal batches expiring within daysAhead days,
// soonest first. daysAhead must be at least 1; ExpiringWindow returns the
// configured default.
func (m *ExpiryMonitor) FindExpiring(ctx context.Context, daysAhead int) ([]BatchResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "expiry_monitor", "find_expiring")
	defer span.End()

	if daysAhead < 1 {
		return nil, &inventory.ValidationError{Field: "days_ahead", Reason: "must be at least 1"}
	}
	now := m.now()
	batches, err := m.batchRepo.FindExpiring(ctx, daysAhead, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return ToBatchResponses(batches, now, m.windowDays), nil
}

// ExpiringWindow is the expiring-soon window in days
func (m *ExpiryMonitor) ExpiringWindow() int {
	return m.windowDays
}

// FindDisposalEligible pages through expired and recalled batches
func (m *ExpiryMonitor) FindDisposalEligible(ctx context.Context, page, pageSize int) (*shared.Paginated[BatchResponse], error) {
	f := shared.DefaultFilter()
	f.Page = page
	f.PageSize = pageSize
	f = f.Normalize()

	batches, err := m.batchRepo.FindDisposalEligible(ctx, f)
	if err != nil {
		return nil, err
	}
	total, err := m.batchRepo.CountDisposalEligible(ctx)
	if err != nil {
		return nil, err
	}
	result := shared.NewPaginated(ToBatchResponses(batches, m.now(), m.windowDays), total, f.Page, f.PageSize)
	return &result, nil
}

// Sweep expires every active or depleted batch whose expiry date has passed
// and counts what is expiring soon. Individual failures are counted and
// logged; the sweep carries on with the remaining batches.
func (m *ExpiryMonitor) Sweep(ctx context.Context, actor string) (*SweepStats, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "expiry_monitor", "sweep")
	defer span.End()

	if err := requireActor(actor); err != nil {
		return nil, err
	}

	now := m.now()
	stats := &SweepStats{ProcessedAt: now}
	failed := make(map[uuid.UUID]struct{})

	for {
		limit := m.batchSize + len(failed)
		batches, err := m.batchRepo.FindPastExpiry(ctx, now, limit)
		if err != nil {
			telemetry.RecordError(span, err)
			m.logger.Error("Failed to find past-expiry batches", zap.Error(err))
			return nil, err
		}

		progressed := 0
		for _, b := range batches {
			if _, seen := failed[b.ID]; seen {
				continue
			}
			stats.Scanned++
			persisted, err := m.expire(ctx, b, actor, now)
			if err != nil {
				m.logger.Error("Failed to expire batch",
					zap.String("batch_id", b.ID.String()),
					zap.String("batch_number", b.BatchNumber),
					zap.Error(err),
				)
				failed[b.ID] = struct{}{}
				stats.Failed++
				continue
			}
			if persisted {
				stats.Expired++
			}
			progressed++
		}
		if progressed == 0 || len(batches) < limit {
			break
		}
	}

	expiring, err := m.batchRepo.FindExpiring(ctx, m.windowDays, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	stats.ExpiringSoon = len(expiring)

	m.metrics.RecordSweep(ctx, stats.Expired, stats.Failed, stats.ExpiringSoon)
	telemetry.SetAttributes(span,
		"scanned", stats.Scanned,
		"expired", stats.Expired,
		"failed", stats.Failed,
	)
	if stats.Scanned == 0 {
		m.logger.Debug("No past-expiry batches found", zap.Int("expiring_soon", stats.ExpiringSoon))
		return stats, nil
	}
	m.logger.Info("Completed expiry sweep",
		zap.Int("scanned", stats.Scanned),
		zap.Int("expired", stats.Expired),
		zap.Int("failed", stats.Failed),
		zap.Int("expiring_soon", stats.ExpiringSoon),
	)
	return stats, nil
}
