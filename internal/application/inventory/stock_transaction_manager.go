package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryPolicy bounds how often a deduction is replayed after a lock or version conflict
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns 5 attempts backing off from 20ms up to 500ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// LedgerConfig holds the tunables shared by the ledger services
type LedgerConfig struct {
	ExpiringSoonDays int
	Retry            RetryPolicy
}

// DefaultLedgerConfig returns a 30 day expiring-soon window and the default retry policy
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		ExpiringSoonDays: inventory.DefaultExpiringSoonDays,
		Retry:            DefaultRetryPolicy(),
	}
}

// StockTransactionManager receives stock and dispenses it FIFO-by-expiry.
// Deductions re-read and lock eligible batches inside the transaction that
// writes them, and are retried as a whole on transient conflicts. A
// deduction carrying an idempotency key is recorded in the same transaction,
// so replaying the key returns the committed breakdown.
type StockTransactionManager struct {
	scope     TransactionScope
	batchRepo inventory.BatchRepository
	allocator *inventory.FifoAllocator
	catalog   inventory.ProductCatalog
	metrics   LedgerMetrics
	validate  *validator.Validate
	cfg       LedgerConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewStockTransactionManager creates a StockTransactionManager.
// batchRepo serves the non-transactional reads (previews, listings).
func NewStockTransactionManager(
	scope TransactionScope,
	batchRepo inventory.BatchRepository,
	cfg LedgerConfig,
	logger *zap.Logger,
) *StockTransactionManager {
	if cfg.ExpiringSoonDays <= 0 {
		cfg.ExpiringSoonDays = inventory.DefaultExpiringSoonDays
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockTransactionManager{
		scope:     scope,
		batchRepo: batchRepo,
		allocator: inventory.NewFifoAllocator(),
		metrics:   noopMetrics{},
		validate:  newValidator(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetProductCatalog enables product lookups on receive
func (s *StockTransactionManager) SetProductCatalog(catalog inventory.ProductCatalog) {
	s.catalog = catalog
}

// SetMetrics sets the metrics sink
func (s *StockTransactionManager) SetMetrics(metrics LedgerMetrics) {
	if metrics != nil {
		s.metrics = metrics
	}
}

// SetClock overrides the time source
func (s *StockTransactionManager) SetClock(now func() time.Time) {
	s.now = now
}

// Receive validates and records a new batch
func (s *StockTransactionManager) Receive(ctx context.Context, req ReceiveBatchRequest, actor string) (*BatchResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "stock_transaction", "receive")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrProductID, req.ProductID.String(),
		telemetry.SpanAttrBatchNumber, req.BatchNumber,
		telemetry.SpanAttrQuantity, req.QuantityReceived,
	)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}

	input := req.toInput()
	if s.catalog != nil {
		product, err := s.catalog.FindProduct(ctx, input.ProductType, req.ProductID)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		if err := product.ApplyDefaults(&input); err != nil {
			return nil, err
		}
	}

	now := s.now()
	batch, err := inventory.NewBatchRecord(input, actor, now)
	if err != nil {
		return nil, err
	}

	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := repos.BatchRepo().Create(ctx, batch); err != nil {
			return err
		}
		return repos.Events().Record(ctx, batch.PullDomainEvents()...)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.metrics.RecordReceipt(ctx, batch.ProductType.String(), batch.QuantityRemaining)
	s.logger.Info("Batch received",
		zap.String("batch_id", batch.ID.String()),
		zap.String("batch_number", batch.BatchNumber),
		zap.String("product_id", batch.ProductID.String()),
		zap.Int("quantity", batch.QuantityRemaining),
		zap.String("status", batch.Status.String()),
		zap.String("actor", actor),
	)

	resp := ToBatchResponse(batch, now, s.cfg.ExpiringSoonDays)
	return &resp, nil
}

// Deduct removes req.Quantity units of a product across its batches, earliest
// expiry first. Either the whole quantity is deducted or nothing changes.
// Repeating a request with the same idempotency key returns the original
// result with Replayed set; reusing a key for a different quantity is
// shared.ErrDuplicateRequest.
func (s *StockTransactionManager) Deduct(ctx context.Context, req DeductRequest, actor string) (*DeductionResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "stock_transaction", "deduct")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrProductID, req.ProductID.String(),
		telemetry.SpanAttrQuantity, req.Quantity,
	)

	if err := requireActor(actor); err != nil {
		s.metrics.RecordDeduction(ctx, OutcomeInvalid, 0)
		return nil, err
	}
	if err := validateRequest(s.validate, req); err != nil {
		s.metrics.RecordDeduction(ctx, OutcomeInvalid, 0)
		return nil, err
	}

	if req.IdempotencyKey != "" {
		telemetry.SetAttribute(span, telemetry.SpanAttrIdempotencyKey, req.IdempotencyKey)
	}

	var result *DeductionResult
	var err error
	telemetry.WithProfilingLabels(ctx, telemetry.LedgerOperationLabels(telemetry.OperationDeduct), func(c context.Context) {
		result, err = s.deductWithRetry(c, req, actor)
	})
	if err != nil {
		s.metrics.RecordDeduction(ctx, deductionOutcome(err), 0)
		telemetry.RecordError(span, err)
		s.logger.Warn("Deduction failed",
			zap.String("product_id", req.ProductID.String()),
			zap.Int("quantity", req.Quantity),
			zap.String("actor", actor),
			zap.Error(err),
		)
		return nil, err
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrAttempts, result.Attempts)
	if result.Replayed {
		s.metrics.RecordDeduction(ctx, OutcomeDuplicate, 0)
		s.logger.Info("Deduction replayed",
			zap.String("product_id", req.ProductID.String()),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("actor", actor),
		)
		return result, nil
	}
	s.metrics.RecordDeduction(ctx, OutcomeSuccess, result.Quantity)
	s.logger.Info("Stock deducted",
		zap.String("product_id", req.ProductID.String()),
		zap.Int("quantity", result.Quantity),
		zap.Int("batches", len(result.Lines)),
		zap.Int("attempt", result.Attempts),
		zap.String("actor", actor),
	)
	return result, nil
}

func (s *StockTransactionManager) deductWithRetry(ctx context.Context, req DeductRequest, actor string) (*DeductionResult, error) {
	attempts := 0
	var result *DeductionResult

	operation := func() error {
		attempts++
		r, err := s.deductOnce(ctx, req, actor)
		if err == nil {
			result = r
			return nil
		}
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			s.metrics.RecordConflictRetry(ctx)
			s.logger.Debug("Deduction conflict",
				zap.String("product_id", req.ProductID.String()),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, s.cfg.Retry.backOff(ctx)); err != nil {
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			return nil, &inventory.ConcurrencyConflictError{ProductID: req.ProductID, Attempts: attempts, Err: err}
		}
		return nil, err
	}
	result.Attempts = attempts
	return result, nil
}

// deductOnce is one read-plan-apply pass in a single transaction
func (s *StockTransactionManager) deductOnce(ctx context.Context, req DeductRequest, actor string) (*DeductionResult, error) {
	now := s.now()
	var result *DeductionResult

	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		batchRepo := repos.BatchRepo()

		// The key is checked after the row locks are held, so a concurrent
		// deduction with the same key has committed by the time we read it.
		locked, err := batchRepo.LockEligibleForAllocation(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			previous, err := s.findDeduction(ctx, repos, req)
			if err != nil {
				return err
			}
			if previous != nil {
				result = replayedResult(previous)
				return nil
			}
		}

		plan, err := s.allocator.Plan(inventory.FilterDispensable(locked, now), req.Quantity)
		if err != nil {
			var insufficient *inventory.InsufficientStockError
			if errors.As(err, &insufficient) {
				insufficient.ProductID = req.ProductID
			}
			return err
		}

		lines := make([]inventory.DeductionLine, 0, len(plan.Lines))
		response := make([]DeductionLineResponse, 0, len(plan.Lines))
		var batchEvents []shared.DomainEvent
		for _, line := range plan.Lines {
			batch, err := batchRepo.ApplyDeduction(ctx, line.BatchID, line.Quantity, actor, now)
			if err != nil {
				return err
			}
			lines = append(lines, inventory.DeductionLine{
				BatchID:        batch.ID,
				BatchNumber:    batch.BatchNumber,
				ExpiryDate:     batch.ExpiryDate,
				Quantity:       line.Quantity,
				RemainingAfter: batch.QuantityRemaining,
				StatusAfter:    batch.Status,
			})
			response = append(response, DeductionLineResponse{
				BatchID:        batch.ID,
				BatchNumber:    batch.BatchNumber,
				ExpiryDate:     batch.ExpiryDate,
				Quantity:       line.Quantity,
				RemainingAfter: batch.QuantityRemaining,
				StatusAfter:    batch.Status.String(),
			})
			batchEvents = append(batchEvents, batch.PullDomainEvents()...)
		}

		if req.IdempotencyKey != "" {
			err := repos.DeductionLog().Create(ctx, &inventory.DeductionRecord{
				ProductID:      req.ProductID,
				IdempotencyKey: req.IdempotencyKey,
				Quantity:       plan.TotalQuantity(),
				Lines:          lines,
				Reference:      req.Reference,
				Actor:          actor,
				DeductedAt:     now,
			})
			if err != nil {
				return err
			}
		}

		deducted := inventory.NewStockDeductedEvent(req.ProductID, lines, actor, req.IdempotencyKey, req.Reference, now)
		events := append([]shared.DomainEvent{deducted}, batchEvents...)
		if err := repos.Events().Record(ctx, events...); err != nil {
			return err
		}

		result = &DeductionResult{
			ProductID:  req.ProductID,
			Quantity:   plan.TotalQuantity(),
			Lines:      response,
			DeductedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// findDeduction returns the committed deduction for req's key, or nil
func (s *StockTransactionManager) findDeduction(ctx context.Context, repos TransactionalRepositories, req DeductRequest) (*inventory.DeductionRecord, error) {
	log := repos.DeductionLog()
	if log == nil {
		return nil, errors.New("idempotency keys need a deduction log")
	}
	previous, err := log.FindByKey(ctx, req.ProductID, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !previous.Matches(req.ProductID, req.Quantity) {
		return nil, fmt.Errorf("idempotency key %q was used for %d units, not %d: %w",
			req.IdempotencyKey, previous.Quantity, req.Quantity, shared.ErrDuplicateRequest)
	}
	return previous, nil
}

func replayedResult(record *inventory.DeductionRecord) *DeductionResult {
	lines := make([]DeductionLineResponse, 0, len(record.Lines))
	for _, l := range record.Lines {
		lines = append(lines, DeductionLineResponse{
			BatchID:        l.BatchID,
			BatchNumber:    l.BatchNumber,
			ExpiryDate:     l.ExpiryDate,
			Quantity:       l.Quantity,
			RemainingAfter: l.RemainingAfter,
			StatusAfter:    l.StatusAfter.String(),
		})
	}
	return &DeductionResult{
		ProductID:  record.ProductID,
		Quantity:   record.Quantity,
		Lines:      lines,
		DeductedAt: record.DeductedAt,
		Replayed:   true,
	}
}

func deductionOutcome(err error) string {
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, shared.ErrDuplicateRequest):
		return OutcomeDuplicate
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return OutcomeConflict
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrInvalidState):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// PreviewAllocation reports what FIFO would pick for quantity right now.
// It reads without locks and changes nothing.
func (s *StockTransactionManager) PreviewAllocation(ctx context.Context, productID uuid.UUID, quantity int) (*AllocationPreview, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "stock_transaction", "preview_allocation")
	defer span.End()

	batches, err := s.batchRepo.FindEligibleForAllocation(ctx, productID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	plan, err := s.allocator.Plan(inventory.FilterDispensable(batches, s.now()), quantity)
	if err != nil {
		var insufficient *inventory.InsufficientStockError
		if errors.As(err, &insufficient) {
			insufficient.ProductID = productID
		}
		return nil, err
	}

	preview := &AllocationPreview{
		ProductID: productID,
		Requested: plan.Requested,
		Available: plan.Available,
		Lines:     make([]DeductionLineResponse, 0, len(plan.Lines)),
	}
	for _, line := range plan.Lines {
		status := inventory.BatchStatusActive
		if line.RemainingAfter() == 0 {
			status = inventory.BatchStatusDepleted
		}
		preview.Lines = append(preview.Lines, DeductionLineResponse{
			BatchID:        line.BatchID,
			BatchNumber:    line.BatchNumber,
			ExpiryDate:     line.ExpiryDate,
			Quantity:       line.Quantity,
			RemainingAfter: line.RemainingAfter(),
			StatusAfter:    status.String(),
		})
	}
	return preview, nil
}

// TotalStock returns the product's on-hand quantity over non-terminal batches
func (s *StockTransactionManager) TotalStock(ctx context.Context, productID uuid.UUID) (*StockSummary, error) {
	total, err := s.batchRepo.SumRemainingByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &StockSummary{ProductID: productID, OnHand: total, AsOf: s.now()}, nil
}

// GetBatch returns one batch with derived fields
func (s *StockTransactionManager) GetBatch(ctx context.Context, id uuid.UUID) (*BatchResponse, error) {
	batch, err := s.batchRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToBatchResponse(batch, s.now(), s.cfg.ExpiringSoonDays)
	return &resp, nil
}

// ListBatches pages through a product's batches, soonest expiry first by default
func (s *StockTransactionManager) ListBatches(ctx context.Context, productID uuid.UUID, filter ListBatchesFilter) (*shared.Paginated[BatchResponse], error) {
	if err := validateRequest(s.validate, filter); err != nil {
		return nil, err
	}

	f := shared.DefaultFilter()
	f.Page = filter.Page
	f.PageSize = filter.PageSize
	if filter.OrderBy != "" {
		f.OrderBy = filter.OrderBy
	}
	if filter.OrderDir != "" {
		f.OrderDir = filter.OrderDir
	}
	if filter.Status != "" {
		status, err := inventory.ParseBatchStatus(filter.Status)
		if err != nil {
			return nil, err
		}
		if status == inventory.BatchStatusExpiringSoon {
			return nil, &inventory.ValidationError{Field: "status", Reason: "expiring_soon is derived; use the expiry monitor"}
		}
		f.Filters["status"] = status
	}
	if filter.ProductType != "" {
		f.Filters["product_type"] = inventory.ProductType(filter.ProductType)
	}
	f = f.Normalize()

	batches, err := s.batchRepo.FindByProduct(ctx, productID, f)
	if err != nil {
		return nil, err
	}
	total, err := s.batchRepo.CountByProduct(ctx, productID, f)
	if err != nil {
		return nil, err
	}

	page := shared.NewPaginated(ToBatchResponses(batches, s.now(), s.cfg.ExpiringSoonDays), total, f.Page, f.PageSize)
	return &page, nil
}
