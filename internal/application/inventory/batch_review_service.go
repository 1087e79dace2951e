package inventory

import (
	"context"
	"time"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/infrastructure/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchReviewService handles the manual lifecycle decisions: recall,
// quarantine, and resolving a quarantine. Every decision needs a reason.
type BatchReviewService struct {
	scope      TransactionScope
	metrics    LedgerMetrics
	validate   *validator.Validate
	windowDays int
	logger     *zap.Logger
	now        func() time.Time
}

// NewBatchReviewService creates a BatchReviewService
func NewBatchReviewService(scope TransactionScope, cfg LedgerConfig, logger *zap.Logger) *BatchReviewService {
	if cfg.ExpiringSoonDays <= 0 {
		cfg.ExpiringSoonDays = inventory.DefaultExpiringSoonDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchReviewService{
		scope:      scope,
		metrics:    noopMetrics{},
		validate:   newValidator(),
		windowDays: cfg.ExpiringSoonDays,
		logger:     logger,
		now:        time.Now,
	}
}

// SetMetrics sets the metrics sink
func (s *BatchReviewService) SetMetrics(metrics LedgerMetrics) {
	if metrics != nil {
		s.metrics = metrics
	}
}

// SetClock overrides the time source
func (s *BatchReviewService) SetClock(now func() time.Time) {
	s.now = now
}

// Recall withdraws an active batch
func (s *BatchReviewService) Recall(ctx context.Context, req ReviewRequest, actor string) (*BatchResponse, error) {
	return s.review(ctx, "recall", req.BatchID, req, actor, func(b *inventory.BatchRecord, now time.Time) error {
		return b.Recall(actor, req.Reason, now)
	})
}

// Quarantine withholds an active batch from dispensing pending review
func (s *BatchReviewService) Quarantine(ctx context.Context, req ReviewRequest, actor string) (*BatchResponse, error) {
	return s.review(ctx, "quarantine", req.BatchID, req, actor, func(b *inventory.BatchRecord, now time.Time) error {
		return b.Quarantine(actor, req.Reason, now)
	})
}

// ResolveQuarantine releases a quarantined batch back to service or disposes of it
func (s *BatchReviewService) ResolveQuarantine(ctx context.Context, req ResolveQuarantineRequest, actor string) (*BatchResponse, error) {
	var writtenOff int
	resp, err := s.review(ctx, "resolve_quarantine", req.BatchID, req, actor, func(b *inventory.BatchRecord, now time.Time) error {
		if req.Outcome == QuarantineDispose {
			writtenOff = b.QuantityRemaining
			return b.DisposeFromQuarantine(actor, req.Reason, now)
		}
		return b.ReleaseFromQuarantine(actor, req.Reason, now)
	})
	if err != nil {
		return nil, err
	}
	if req.Outcome == QuarantineDispose {
		s.metrics.RecordDisposal(ctx, writtenOff)
	}
	return resp, nil
}

func (s *BatchReviewService) review(
	ctx context.Context,
	method string,
	batchID uuid.UUID,
	req any,
	actor string,
	apply func(b *inventory.BatchRecord, now time.Time) error,
) (*BatchResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "batch_review", method)
	defer span.End()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrBatchID, batchID.String())

	now := s.now()
	var from inventory.BatchStatus
	batch, err := mutateBatch(ctx, s.scope, batchID, func(b *inventory.BatchRecord) error {
		from = b.Status
		return apply(b, now)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Batch status changed by review",
		zap.String("batch_id", batch.ID.String()),
		zap.String("batch_number", batch.BatchNumber),
		zap.String("from", from.String()),
		zap.String("to", batch.Status.String()),
		zap.String("actor", actor),
	)
	resp := ToBatchResponse(batch, now, s.windowDays)
	return &resp, nil
}
