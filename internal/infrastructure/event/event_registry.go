package event

import "github.com/clinic/backend/internal/domain/inventory"

// RegisterLedgerEvents registers the batch ledger's event types so the
// outbox processor can decode staged payloads.
func RegisterLedgerEvents(serializer *EventSerializer) {
	serializer.Register(inventory.EventTypeBatchReceived, &inventory.BatchReceivedEvent{})
	serializer.Register(inventory.EventTypeStockDeducted, &inventory.StockDeductedEvent{})
	serializer.Register(inventory.EventTypeBatchDisposed, &inventory.BatchDisposedEvent{})
	serializer.Register(inventory.EventTypeBatchStatusChanged, &inventory.BatchStatusChangedEvent{})
}

// LedgerEventTypes lists every event type the ledger raises
func LedgerEventTypes() []string {
	return []string{
		inventory.EventTypeBatchReceived,
		inventory.EventTypeStockDeducted,
		inventory.EventTypeBatchDisposed,
		inventory.EventTypeBatchStatusChanged,
	}
}
