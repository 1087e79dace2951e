package event

import (
	"context"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// AuditLogHandler writes every ledger event as a structured audit log entry
type AuditLogHandler struct {
	logger *zap.Logger
}

// NewAuditLogHandler creates an AuditLogHandler
func NewAuditLogHandler(log *zap.Logger) *AuditLogHandler {
	return &AuditLogHandler{logger: log.Named("audit")}
}

// EventTypes subscribes to every ledger event
func (h *AuditLogHandler) EventTypes() []string {
	return LedgerEventTypes()
}

func (h *AuditLogHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.String("aggregate_type", event.AggregateType()),
		zap.String("aggregate_id", event.AggregateID().String()),
		zap.String("actor", event.Actor()),
		zap.Time("occurred_at", event.OccurredAt()),
	}

	switch e := event.(type) {
	case *inventory.BatchReceivedEvent:
		fields = append(fields,
			zap.String("product_id", e.ProductID.String()),
			zap.String("batch_number", e.BatchNumber),
			zap.Int("quantity", e.Quantity),
			zap.Time("expiry_date", e.ExpiryDate),
			zap.String("status", string(e.Status)),
		)
	case *inventory.StockDeductedEvent:
		fields = append(fields,
			zap.String("product_id", e.ProductID.String()),
			zap.Int("quantity", e.Quantity),
			zap.Int("batches", len(e.Lines)),
			zap.Any("lines", e.Lines),
		)
		if e.Reference != "" {
			fields = append(fields, zap.String("reference", e.Reference))
		}
	case *inventory.BatchDisposedEvent:
		fields = append(fields,
			zap.String("batch_number", e.BatchNumber),
			zap.String("previous_status", string(e.PreviousStatus)),
			zap.Int("quantity_written_off", e.QuantityWrittenOff),
			zap.String("reason", e.Reason),
		)
	case *inventory.BatchStatusChangedEvent:
		fields = append(fields,
			zap.String("batch_number", e.BatchNumber),
			zap.String("from", string(e.From)),
			zap.String("to", string(e.To)),
			zap.String("reason", e.Reason),
		)
	}

	logger.WithLogger(ctx, h.logger).Info("ledger audit", fields...)
	return nil
}

var _ shared.EventHandler = (*AuditLogHandler)(nil)
