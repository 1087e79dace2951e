package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

var fixedNow = time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// MockEventRecorder captures recorded events
type MockEventRecorder struct {
	mu     sync.Mutex
	events []shared.DomainEvent
	err    error
}

func NewMockEventRecorder() *MockEventRecorder {
	return &MockEventRecorder{}
}

func (r *MockEventRecorder) Record(_ context.Context, events ...shared.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

func (r *MockEventRecorder) GetEventsByType(eventType string) []shared.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]shared.DomainEvent, 0)
	for _, e := range r.events {
		if e.EventType() == eventType {
			result = append(result, e)
		}
	}
	return result
}

func (r *MockEventRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// MockBatchRepository is a mock implementation of inventory.BatchRepository
type MockBatchRepository struct {
	mock.Mock
}

func (m *MockBatchRepository) batch(args mock.Arguments) (*inventory.BatchRecord, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.BatchRecord), args.Error(1)
}

func (m *MockBatchRepository) batches(args mock.Arguments) ([]*inventory.BatchRecord, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*inventory.BatchRecord), args.Error(1)
}

func (m *MockBatchRepository) Create(ctx context.Context, batch *inventory.BatchRecord) error {
	return m.Called(ctx, batch).Error(0)
}

func (m *MockBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*inventory.BatchRecord, error) {
	return m.batch(m.Called(ctx, id))
}

func (m *MockBatchRepository) FindByBatchNumber(ctx context.Context, batchNumber string) (*inventory.BatchRecord, error) {
	return m.batch(m.Called(ctx, batchNumber))
}

func (m *MockBatchRepository) FindByProduct(ctx context.Context, productID uuid.UUID, filter shared.Filter) ([]*inventory.BatchRecord, error) {
	return m.batches(m.Called(ctx, productID, filter))
}

func (m *MockBatchRepository) CountByProduct(ctx context.Context, productID uuid.UUID, filter shared.Filter) (int64, error) {
	args := m.Called(ctx, productID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBatchRepository) FindEligibleForAllocation(ctx context.Context, productID uuid.UUID) ([]*inventory.BatchRecord, error) {
	return m.batches(m.Called(ctx, productID))
}

func (m *MockBatchRepository) LockEligibleForAllocation(ctx context.Context, productID uuid.UUID) ([]*inventory.BatchRecord, error) {
	return m.batches(m.Called(ctx, productID))
}

// ApplyDeduction accepts either a batch or a func computing the result from the arguments
func (m *MockBatchRepository) ApplyDeduction(ctx context.Context, batchID uuid.UUID, amount int, actor string, at time.Time) (*inventory.BatchRecord, error) {
	args := m.Called(ctx, batchID, amount, actor, at)
	if fn, ok := args.Get(0).(func(uuid.UUID, int, string, time.Time) (*inventory.BatchRecord, error)); ok {
		return fn(batchID, amount, actor, at)
	}
	return m.batch(args)
}

func (m *MockBatchRepository) FindExpiring(ctx context.Context, daysAhead int, asOf time.Time) ([]*inventory.BatchRecord, error) {
	return m.batches(m.Called(ctx, daysAhead, asOf))
}

func (m *MockBatchRepository) FindPastExpiry(ctx context.Context, asOf time.Time, limit int) ([]*inventory.BatchRecord, error) {
	return m.batches(m.Called(ctx, asOf, limit))
}

func (m *MockBatchRepository) FindDisposalEligible(ctx context.Context, filter shared.Filter) ([]*inventory.BatchRecord, error) {
	return m.batches(m.Called(ctx, filter))
}

func (m *MockBatchRepository) CountDisposalEligible(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBatchRepository) UpdateStatus(ctx context.Context, batchID uuid.UUID, status inventory.BatchStatus, actor string, at time.Time) (*inventory.BatchRecord, error) {
	args := m.Called(ctx, batchID, status, actor, at)
	if fn, ok := args.Get(0).(func(uuid.UUID, inventory.BatchStatus, string, time.Time) (*inventory.BatchRecord, error)); ok {
		return fn(batchID, status, actor, at)
	}
	return m.batch(args)
}

func (m *MockBatchRepository) Save(ctx context.Context, batch *inventory.BatchRecord) error {
	return m.Called(ctx, batch).Error(0)
}

func (m *MockBatchRepository) SumRemainingByProduct(ctx context.Context, productID uuid.UUID) (int, error) {
	args := m.Called(ctx, productID)
	return args.Int(0), args.Error(1)
}

// MockProductCatalog is a mock implementation of inventory.ProductCatalog
type MockProductCatalog struct {
	mock.Mock
}

func (m *MockProductCatalog) FindProduct(ctx context.Context, productType inventory.ProductType, id uuid.UUID) (*inventory.ProductInfo, error) {
	args := m.Called(ctx, productType, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.ProductInfo), args.Error(1)
}

// memoryDeductionLog keeps deduction records in a map. When racer is set,
// the next Create stores racer instead and reports the key as taken, the way
// a concurrent deduction committing first looks from inside a transaction.
type memoryDeductionLog struct {
	mu      sync.Mutex
	records map[string]*inventory.DeductionRecord
	racer   *inventory.DeductionRecord
	creates int
}

func newMemoryDeductionLog() *memoryDeductionLog {
	return &memoryDeductionLog{records: make(map[string]*inventory.DeductionRecord)}
}

func deductionKey(productID uuid.UUID, key string) string {
	return productID.String() + "/" + key
}

func (l *memoryDeductionLog) FindByKey(_ context.Context, productID uuid.UUID, key string) (*inventory.DeductionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[deductionKey(productID, key)]
	if !ok {
		return nil, &inventory.NotFoundError{Entity: "deduction", ID: key}
	}
	return r, nil
}

func (l *memoryDeductionLog) Create(_ context.Context, record *inventory.DeductionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creates++
	k := deductionKey(record.ProductID, record.IdempotencyKey)
	if l.racer != nil {
		l.records[k] = l.racer
		l.racer = nil
		return fmt.Errorf("idempotency key taken: %w", shared.ErrConcurrencyConflict)
	}
	if _, ok := l.records[k]; ok {
		return fmt.Errorf("idempotency key taken: %w", shared.ErrConcurrencyConflict)
	}
	record.ID = uuid.New()
	l.records[k] = record
	return nil
}

func (l *memoryDeductionLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// recordingMetrics counts calls made to the metrics port
type recordingMetrics struct {
	mu         sync.Mutex
	outcomes   []string
	retries    int
	receipts   int
	disposals  int
	sweeps     int
	lastExpire int
}

func (r *recordingMetrics) RecordDeduction(_ context.Context, outcome string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingMetrics) RecordConflictRetry(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *recordingMetrics) RecordReceipt(context.Context, string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts++
}

func (r *recordingMetrics) RecordDisposal(context.Context, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposals++
}

func (r *recordingMetrics) RecordSweep(_ context.Context, expired, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps++
	r.lastExpire = expired
}

// newBatch builds a stored-looking batch for tests
func newBatch(productID uuid.UUID, number string, expiry time.Time, remaining int) *inventory.BatchRecord {
	cost := decimal.NewFromInt(1)
	b, err := inventory.NewBatchRecord(inventory.BatchInput{
		ProductID:        productID,
		ProductType:      inventory.ProductTypeMedication,
		ProductName:      "Paracetamol 500mg",
		BatchNumber:      number,
		QuantityReceived: remaining,
		UnitCost:         &cost,
		ExpiryDate:       expiry,
	}, "seed", fixedNow)
	if err != nil {
		panic(err)
	}
	b.ClearDomainEvents()
	return b
}

// deductFrom returns an ApplyDeduction result func that applies the domain rule to the given batches
func deductFrom(batches ...*inventory.BatchRecord) func(uuid.UUID, int, string, time.Time) (*inventory.BatchRecord, error) {
	byID := make(map[uuid.UUID]*inventory.BatchRecord, len(batches))
	for _, b := range batches {
		byID[b.ID] = b
	}
	return func(id uuid.UUID, amount int, actor string, at time.Time) (*inventory.BatchRecord, error) {
		b, ok := byID[id]
		if !ok {
			return nil, inventory.BatchNotFound(id)
		}
		if err := b.Deduct(amount, actor, at); err != nil {
			return nil, err
		}
		return b, nil
	}
}
