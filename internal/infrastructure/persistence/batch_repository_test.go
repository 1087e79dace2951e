package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	appinv "github.com/clinic/backend/internal/application/inventory"
	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var ledgerNow = time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)

func ledgerClock() time.Time { return ledgerNow }

// setupLedgerDB opens an in-memory sqlite database with the ledger schema.
// A single connection keeps every transaction on the same database.
func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(sqlite.Open(":memory:"), nil)
	require.NoError(t, err)
	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(context.Background()))
	return db.DB
}

func seedBatch(t *testing.T, repo *GormBatchRepository, productID uuid.UUID, number string, expiry time.Time, qty int) *inventory.BatchRecord {
	t.Helper()
	b, err := inventory.NewBatchRecord(inventory.BatchInput{
		ProductID:        productID,
		ProductType:      inventory.ProductTypeMedication,
		BatchNumber:      number,
		QuantityReceived: qty,
		ExpiryDate:       expiry,
	}, "pharmacist-1", ledgerNow)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), b))
	return b
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// countingRecorder counts events per transaction and can fail on demand
type countingRecorder struct {
	mu     sync.Mutex
	events []shared.DomainEvent
	fail   error
}

func (r *countingRecorder) factory(*gorm.DB) shared.EventRecorder { return r }

func (r *countingRecorder) Record(_ context.Context, events ...shared.DomainEvent) error {
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *countingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestGormBatchRepository_CreateAndFind(t *testing.T) {
	db := setupLedgerDB(t)
	repo := NewGormBatchRepository(db)
	ctx := context.Background()
	productID := uuid.New()

	created := seedBatch(t, repo, productID, "AMX-001", date(2025, 3, 31), 100)

	t.Run("find by id round trips", func(t *testing.T) {
		found, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.BatchNumber, found.BatchNumber)
		assert.Equal(t, 100, found.QuantityRemaining)
		assert.Equal(t, inventory.BatchStatusActive, found.Status)
		assert.Equal(t, date(2025, 3, 31), found.ExpiryDate)
		assert.Equal(t, 1, found.Version)
	})

	t.Run("find by batch number", func(t *testing.T) {
		found, err := repo.FindByBatchNumber(ctx, "AMX-001")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)

		_, err = repo.FindByBatchNumber(ctx, "NOPE")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("duplicate batch number is rejected", func(t *testing.T) {
		dup, err := inventory.NewBatchRecord(inventory.BatchInput{
			ProductID:        productID,
			ProductType:      inventory.ProductTypeMedication,
			BatchNumber:      "AMX-001",
			QuantityReceived: 5,
			ExpiryDate:       date(2025, 6, 1),
		}, "pharmacist-1", ledgerNow)
		require.NoError(t, err)

		err = repo.Create(ctx, dup)
		var dupErr *inventory.DuplicateBatchNumberError
		require.ErrorAs(t, err, &dupErr)
		assert.Equal(t, "AMX-001", dupErr.BatchNumber)
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})
}

func TestGormBatchRepository_SaveVersioning(t *testing.T) {
	db := setupLedgerDB(t)
	repo := NewGormBatchRepository(db)
	ctx := context.Background()

	seeded := seedBatch(t, repo, uuid.New(), "VER-1", date(2025, 5, 1), 10)

	first, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	stale, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)

	require.NoError(t, first.Deduct(3, "nurse-a", ledgerNow))
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, 2, first.Version)

	require.NoError(t, stale.Deduct(4, "nurse-b", ledgerNow))
	err = repo.Save(ctx, stale)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	current, err := repo.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, current.QuantityRemaining)
	assert.Equal(t, 2, current.Version)
}

func TestGormBatchRepository_Queries(t *testing.T) {
	db := setupLedgerDB(t)
	repo := NewGormBatchRepository(db)
	ctx := context.Background()
	productID := uuid.New()

	later := seedBatch(t, repo, productID, "Q-LATER", date(2025, 6, 1), 20)
	sooner := seedBatch(t, repo, productID, "Q-SOONER", date(2025, 1, 1), 10)
	soon := seedBatch(t, repo, productID, "Q-SOON", date(2024, 12, 20), 4)
	gone := seedBatch(t, repo, productID, "Q-GONE", date(2025, 2, 1), 2)
	_, err := repo.ApplyDeduction(ctx, gone.ID, 2, "nurse", ledgerNow)
	require.NoError(t, err)
	recalled := seedBatch(t, repo, productID, "Q-RECALL", date(2025, 9, 1), 7)
	require.NoError(t, recalled.Recall("qa", "bad lot", ledgerNow))
	require.NoError(t, repo.Save(ctx, recalled))
	seedBatch(t, repo, uuid.New(), "OTHER-PRODUCT", date(2024, 12, 15), 50)

	t.Run("eligible batches come back in fifo order", func(t *testing.T) {
		batches, err := repo.FindEligibleForAllocation(ctx, productID)
		require.NoError(t, err)
		require.Len(t, batches, 3)
		assert.Equal(t, soon.ID, batches[0].ID)
		assert.Equal(t, sooner.ID, batches[1].ID)
		assert.Equal(t, later.ID, batches[2].ID)

		locked, err := repo.LockEligibleForAllocation(ctx, productID)
		require.NoError(t, err)
		assert.Len(t, locked, 3)
	})

	t.Run("total excludes depleted and recalled", func(t *testing.T) {
		total, err := repo.SumRemainingByProduct(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, 34, total)

		none, err := repo.SumRemainingByProduct(ctx, uuid.New())
		require.NoError(t, err)
		assert.Zero(t, none)
	})

	t.Run("expiring window is exclusive of today", func(t *testing.T) {
		batches, err := repo.FindExpiring(ctx, 30, ledgerNow)
		require.NoError(t, err)
		numbers := batchNumbers(batches)
		assert.Equal(t, []string{"OTHER-PRODUCT", "Q-SOON"}, numbers)
	})

	t.Run("past expiry as of a later day", func(t *testing.T) {
		batches, err := repo.FindPastExpiry(ctx, date(2025, 2, 15), 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"OTHER-PRODUCT", "Q-SOON", "Q-SOONER", "Q-GONE"}, batchNumbers(batches))

		limited, err := repo.FindPastExpiry(ctx, date(2025, 2, 15), 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("disposal eligible lists recalled", func(t *testing.T) {
		f := shared.DefaultFilter()
		batches, err := repo.FindDisposalEligible(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, []string{"Q-RECALL"}, batchNumbers(batches))

		count, err := repo.CountDisposalEligible(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("list by product with status filter and paging", func(t *testing.T) {
		f := shared.DefaultFilter()
		f.Filters["status"] = inventory.BatchStatusActive
		f.PageSize = 2
		f = f.Normalize()

		batches, err := repo.FindByProduct(ctx, productID, f)
		require.NoError(t, err)
		assert.Equal(t, []string{"Q-SOON", "Q-SOONER"}, batchNumbers(batches))

		count, err := repo.CountByProduct(ctx, productID, f)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("update status applies the domain transition", func(t *testing.T) {
		updated, err := repo.UpdateStatus(ctx, soon.ID, inventory.BatchStatusExpired, "expiry-job", date(2024, 12, 21))
		require.NoError(t, err)
		assert.Equal(t, inventory.BatchStatusExpired, updated.Status)

		_, err = repo.UpdateStatus(ctx, soon.ID, inventory.BatchStatusExpired, "expiry-job", date(2024, 12, 21))
		var transition *inventory.InvalidStateTransitionError
		assert.ErrorAs(t, err, &transition)
	})
}

func batchNumbers(batches []*inventory.BatchRecord) []string {
	out := make([]string, len(batches))
	for i, b := range batches {
		out[i] = b.BatchNumber
	}
	return out
}

func newLedgerManager(t *testing.T, db *gorm.DB, recorder RecorderFactory) *appinv.StockTransactionManager {
	t.Helper()
	m := appinv.NewStockTransactionManager(
		NewGormTransactionScope(db, recorder),
		NewGormBatchRepository(db),
		appinv.DefaultLedgerConfig(),
		zaptest.NewLogger(t),
	)
	m.SetClock(ledgerClock)
	return m
}

func TestLedger_DeductFifo(t *testing.T) {
	ctx := context.Background()

	t.Run("spans batches earliest expiry first", func(t *testing.T) {
		db := setupLedgerDB(t)
		repo := NewGormBatchRepository(db)
		recorder := &countingRecorder{}
		manager := newLedgerManager(t, db, recorder.factory)
		productID := uuid.New()

		b := seedBatch(t, repo, productID, "B", date(2025, 6, 1), 20)
		a := seedBatch(t, repo, productID, "A", date(2025, 1, 1), 10)

		result, err := manager.Deduct(ctx, appinv.DeductRequest{ProductID: productID, Quantity: 15}, "nurse-1")
		require.NoError(t, err)
		require.Len(t, result.Lines, 2)
		assert.Equal(t, a.ID, result.Lines[0].BatchID)
		assert.Equal(t, 10, result.Lines[0].Quantity)
		assert.Equal(t, "depleted", result.Lines[0].StatusAfter)
		assert.Equal(t, b.ID, result.Lines[1].BatchID)
		assert.Equal(t, 5, result.Lines[1].Quantity)

		storedA, err := repo.FindByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Zero(t, storedA.QuantityRemaining)
		assert.Equal(t, inventory.BatchStatusDepleted, storedA.Status)

		storedB, err := repo.FindByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 15, storedB.QuantityRemaining)
		assert.Equal(t, 2, storedB.Version)

		// one StockDeducted plus A's status change
		assert.Equal(t, 2, recorder.count())
	})

	t.Run("insufficient stock leaves every batch untouched", func(t *testing.T) {
		db := setupLedgerDB(t)
		repo := NewGormBatchRepository(db)
		manager := newLedgerManager(t, db, nil)
		productID := uuid.New()

		a := seedBatch(t, repo, productID, "A", date(2025, 1, 1), 10)
		b := seedBatch(t, repo, productID, "B", date(2025, 6, 1), 5)

		_, err := manager.Deduct(ctx, appinv.DeductRequest{ProductID: productID, Quantity: 20}, "nurse-1")
		var insufficient *inventory.InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, 15, insufficient.Available)

		for _, id := range []uuid.UUID{a.ID, b.ID} {
			stored, err := repo.FindByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 1, stored.Version)
		}
	})

	t.Run("failed event write rolls back the deduction", func(t *testing.T) {
		db := setupLedgerDB(t)
		repo := NewGormBatchRepository(db)
		recorder := &countingRecorder{fail: assert.AnError}
		manager := newLedgerManager(t, db, recorder.factory)
		productID := uuid.New()

		a := seedBatch(t, repo, productID, "A", date(2025, 1, 1), 10)

		_, err := manager.Deduct(ctx, appinv.DeductRequest{ProductID: productID, Quantity: 4}, "nurse-1")
		require.ErrorIs(t, err, assert.AnError)

		stored, err := repo.FindByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, stored.QuantityRemaining)
	})

	t.Run("concurrent deductions never oversell", func(t *testing.T) {
		db := setupLedgerDB(t)
		repo := NewGormBatchRepository(db)
		manager := newLedgerManager(t, db, nil)
		productID := uuid.New()

		seedBatch(t, repo, productID, "A", date(2025, 1, 1), 6)
		seedBatch(t, repo, productID, "B", date(2025, 2, 1), 6)

		const workers = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded, insufficient := 0, 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := manager.Deduct(ctx, appinv.DeductRequest{ProductID: productID, Quantity: 1}, "nurse")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case assert.ErrorIs(t, err, shared.ErrInsufficientStock):
					insufficient++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 12, succeeded)
		assert.Equal(t, workers-12, insufficient)

		total, err := repo.SumRemainingByProduct(ctx, productID)
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestLedger_DisposeExpired(t *testing.T) {
	ctx := context.Background()
	db := setupLedgerDB(t)
	repo := NewGormBatchRepository(db)
	scope := NewGormTransactionScope(db, nil)
	productID := uuid.New()

	stale := seedBatch(t, repo, productID, "OLD", date(2024, 12, 10), 9)

	workflow := appinv.NewDisposalWorkflow(scope, appinv.DefaultLedgerConfig(), zaptest.NewLogger(t))
	workflow.SetClock(func() time.Time { return date(2025, 1, 2) })

	resp, err := workflow.Dispose(ctx, appinv.DisposeRequest{BatchID: stale.ID, Reason: "expired on shelf"}, "pharmacist-2")
	require.NoError(t, err)
	assert.Equal(t, "disposed", resp.Status)

	stored, err := repo.FindByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.BatchStatusDisposed, stored.Status)
	assert.Equal(t, 9, stored.QuantityRemaining, "written off quantity stays on the record")
	assert.Equal(t, "pharmacist-2", stored.DisposedBy)
	require.NotNil(t, stored.DisposedAt)

	total, err := repo.SumRemainingByProduct(ctx, productID)
	require.NoError(t, err)
	assert.Zero(t, total)
}
