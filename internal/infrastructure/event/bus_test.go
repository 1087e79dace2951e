package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var eventTime = time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)

func receivedEvent(actor string) *inventory.BatchReceivedEvent {
	id := uuid.New()
	return &inventory.BatchReceivedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(inventory.EventTypeBatchReceived, inventory.AggregateTypeBatchRecord, id, actor, eventTime),
		ProductID:       uuid.New(),
		ProductType:     inventory.ProductTypeMedication,
		BatchNumber:     "AMX-2024-01",
		Quantity:        40,
		UnitCost:        decimal.RequireFromString("0.35"),
		ExpiryDate:      time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		Status:          inventory.BatchStatusActive,
	}
}

func deductedEvent(actor string) *inventory.StockDeductedEvent {
	lines := []inventory.DeductionLine{
		{BatchID: uuid.New(), BatchNumber: "A", Quantity: 10, RemainingAfter: 0, StatusAfter: inventory.BatchStatusDepleted},
		{BatchID: uuid.New(), BatchNumber: "B", Quantity: 5, RemainingAfter: 15, StatusAfter: inventory.BatchStatusActive},
	}
	return inventory.NewStockDeductedEvent(uuid.New(), lines, actor, "rx-77/1", "rx-77", eventTime)
}

type testHandler struct {
	mu         sync.Mutex
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
	panicWith  any
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{eventTypes: eventTypes}
}

func (h *testHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	if h.panicWith != nil {
		panic(h.panicWith)
	}
	return h.err
}

func (h *testHandler) EventTypes() []string { return h.eventTypes }

func (h *testHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("routes by event type", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		received := newTestHandler(inventory.EventTypeBatchReceived)
		deducted := newTestHandler(inventory.EventTypeStockDeducted)
		bus.Subscribe(received)
		bus.Subscribe(deducted)

		require.NoError(t, bus.Publish(ctx, receivedEvent("nurse.kim"), receivedEvent("nurse.kim"), deductedEvent("pharm.lee")))

		assert.Equal(t, 2, received.count())
		assert.Equal(t, 1, deducted.count())
	})

	t.Run("explicit types override handler types", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		h := newTestHandler(inventory.EventTypeBatchReceived)
		bus.Subscribe(h, inventory.EventTypeStockDeducted)

		require.NoError(t, bus.Publish(ctx, receivedEvent("a"), deductedEvent("a")))
		assert.Equal(t, 1, h.count())
	})

	t.Run("wildcard handler sees everything", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		all := newTestHandler()
		bus.Subscribe(all)

		require.NoError(t, bus.Publish(ctx, receivedEvent("a"), deductedEvent("a")))
		assert.Equal(t, 2, all.count())
	})

	t.Run("failures are joined and do not stop other handlers", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		failing := newTestHandler(inventory.EventTypeBatchReceived)
		failing.err = errors.New("audit sink down")
		panicking := newTestHandler(inventory.EventTypeBatchReceived)
		panicking.panicWith = "boom"
		healthy := newTestHandler(inventory.EventTypeBatchReceived)
		bus.Subscribe(failing)
		bus.Subscribe(panicking)
		bus.Subscribe(healthy)

		err := bus.Publish(ctx, receivedEvent("a"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "audit sink down")
		assert.Contains(t, err.Error(), "panicked")
		assert.Equal(t, 1, healthy.count())
	})

	t.Run("no matching handlers", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		assert.NoError(t, bus.Publish(ctx, receivedEvent("a")))
	})
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemoryEventBus(zap.NewNop())
	h := newTestHandler(inventory.EventTypeBatchReceived)
	bus.Subscribe(h)

	require.NoError(t, bus.Publish(ctx, receivedEvent("a")))
	bus.Unsubscribe(h)
	require.NoError(t, bus.Publish(ctx, receivedEvent("a")))

	assert.Equal(t, 1, h.count())
}

func TestInMemoryEventBus_StartStop(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemoryEventBus(zap.NewNop())
	h := newTestHandler()
	bus.Subscribe(h)

	require.NoError(t, bus.Start(ctx))
	require.NoError(t, bus.Publish(ctx, receivedEvent("a")))

	require.NoError(t, bus.Stop(ctx))
	assert.ErrorIs(t, bus.Publish(ctx, receivedEvent("a")), ErrBusStopped)

	require.NoError(t, bus.Start(ctx))
	require.NoError(t, bus.Publish(ctx, receivedEvent("a")))
	assert.Equal(t, 2, h.count())
}
