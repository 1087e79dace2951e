package inventory

import (
	"context"
	"time"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/infrastructure/telemetry"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DisposalWorkflow retires expired and recalled batches
type DisposalWorkflow struct {
	scope      TransactionScope
	metrics    LedgerMetrics
	validate   *validator.Validate
	windowDays int
	logger     *zap.Logger
	now        func() time.Time
}

// NewDisposalWorkflow creates a DisposalWorkflow
func NewDisposalWorkflow(scope TransactionScope, cfg LedgerConfig, logger *zap.Logger) *DisposalWorkflow {
	if cfg.ExpiringSoonDays <= 0 {
		cfg.ExpiringSoonDays = inventory.DefaultExpiringSoonDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DisposalWorkflow{
		scope:      scope,
		metrics:    noopMetrics{},
		validate:   newValidator(),
		windowDays: cfg.ExpiringSoonDays,
		logger:     logger,
		now:        time.Now,
	}
}

// SetMetrics sets the metrics sink
func (w *DisposalWorkflow) SetMetrics(metrics LedgerMetrics) {
	if metrics != nil {
		w.metrics = metrics
	}
}

// SetClock overrides the time source
func (w *DisposalWorkflow) SetClock(now func() time.Time) {
	w.now = now
}

// Dispose marks a batch disposed, stamps who and when, appends the reason to
// its notes and records a BatchDisposed audit event. A batch still stored as
// active whose expiry has passed is expired first.
func (w *DisposalWorkflow) Dispose(ctx context.Context, req DisposeRequest, actor string) (*BatchResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "disposal", "dispose")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrBatchID, req.BatchID.String())

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateRequest(w.validate, req); err != nil {
		return nil, err
	}

	now := w.now()
	var writtenOff int
	batch, err := mutateBatch(ctx, w.scope, req.BatchID, func(b *inventory.BatchRecord) error {
		if _, err := b.MarkExpired(actor, now); err != nil {
			return err
		}
		writtenOff = b.QuantityRemaining
		return b.Dispose(actor, req.Reason, now)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	w.metrics.RecordDisposal(ctx, writtenOff)
	w.logger.Info("Batch disposed",
		zap.String("batch_id", batch.ID.String()),
		zap.String("batch_number", batch.BatchNumber),
		zap.String("product_id", batch.ProductID.String()),
		zap.Int("quantity_written_off", writtenOff),
		zap.String("actor", actor),
	)

	resp := ToBatchResponse(batch, now, w.windowDays)
	return &resp, nil
}
