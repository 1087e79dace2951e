package event

import (
	"context"
	"fmt"

	"github.com/clinic/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// OutboxRecorder stages domain events in the audit outbox. Bound to a
// transaction, the entries commit or roll back with the ledger change.
type OutboxRecorder struct {
	serializer *EventSerializer
	maxRetries int
	repo       *GormOutboxRepository
}

// NewOutboxRecorder creates a recorder writing through db. maxRetries caps
// delivery attempts per entry; zero uses the default.
func NewOutboxRecorder(db *gorm.DB, serializer *EventSerializer, maxRetries int) *OutboxRecorder {
	return &OutboxRecorder{
		serializer: serializer,
		maxRetries: maxRetries,
		repo:       NewGormOutboxRepository(db),
	}
}

// WithTx returns a recorder bound to tx
func (r *OutboxRecorder) WithTx(tx *gorm.DB) *OutboxRecorder {
	return &OutboxRecorder{
		serializer: r.serializer,
		maxRetries: r.maxRetries,
		repo:       r.repo.WithTx(tx),
	}
}

// Factory adapts the recorder to a transaction scope's recorder factory
func (r *OutboxRecorder) Factory() func(tx *gorm.DB) shared.EventRecorder {
	return func(tx *gorm.DB) shared.EventRecorder {
		return r.WithTx(tx)
	}
}

// Record serializes events and inserts one pending entry per event
func (r *OutboxRecorder) Record(ctx context.Context, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	entries := make([]*shared.OutboxEntry, 0, len(events))
	for _, event := range events {
		if event.Actor() == "" {
			return fmt.Errorf("event %s has no actor", event.EventType())
		}
		payload, err := r.serializer.Serialize(event)
		if err != nil {
			return err
		}
		entries = append(entries, shared.NewOutboxEntry(event, payload, r.maxRetries))
	}
	return r.repo.Save(ctx, entries...)
}

var _ shared.EventRecorder = (*OutboxRecorder)(nil)
