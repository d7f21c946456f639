package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stockpilot/internal/cache"
	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/models"
)

// flakyCounter 可按需让 IncrementIfExists 失败
type flakyCounter struct {
	*cache.MemoryCounter
	failIncrement atomic.Bool
}

func (c *flakyCounter) IncrementIfExists(ctx context.Context, productID uint, amount int64) (int64, bool, error) {
	if c.failIncrement.Load() {
		return 0, false, errors.New("counter unreachable")
	}
	return c.MemoryCounter.IncrementIfExists(ctx, productID, amount)
}

func newSyncTestEnv(t *testing.T, settle time.Duration) (*stockTestEnv, *flakyCounter, *StockSyncService) {
	t.Helper()
	env := newStockTestEnv(t)
	flaky := &flakyCounter{MemoryCounter: env.counter}
	env.stock.counter = flaky
	syncService := NewStockSyncService(env.stock, StockSyncOptions{Parallel: 2, ReplaySettle: settle})
	return env, flaky, syncService
}

func (e *stockTestEnv) unsyncedCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(&models.StockLog{}).Where("synced = ?", false).Count(&count).Error; err != nil {
		t.Fatalf("count unsynced failed: %v", err)
	}
	return count
}

func TestProcessUnsyncedLogsReplaysFailedRelease(t *testing.T) {
	env, flaky, syncService := newSyncTestEnv(t, 0)
	ctx := context.Background()
	product := env.createProduct(t, 10)

	if err := env.stock.Reserve(ctx, product.ID, "U1", 3); err != nil {
		t.Fatalf("reserve U1 failed: %v", err)
	}
	flaky.failIncrement.Store(true)
	if err := env.stock.Release(ctx, "U1"); err != nil {
		t.Fatalf("release should succeed even if counter fails, got %v", err)
	}
	if value, _ := env.counterValue(t, product.ID); value != 7 {
		t.Fatalf("counter should still be 7 before replay, got %d", value)
	}
	if got := env.unsyncedCount(t); got != 1 {
		t.Fatalf("unsynced logs want 1 got %d", got)
	}

	flaky.failIncrement.Store(false)
	later := time.Now().Add(time.Second)
	env.stock.now = func() time.Time { return later }
	processed, err := syncService.ProcessUnsyncedLogs(ctx)
	if err != nil {
		t.Fatalf("process unsynced failed: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed want 1 got %d", processed)
	}
	if value, _ := env.counterValue(t, product.ID); value != 10 {
		t.Fatalf("counter after replay want 10 got %d", value)
	}
	if got := env.unsyncedCount(t); got != 0 {
		t.Fatalf("unsynced logs want 0 got %d", got)
	}

	processed, err = syncService.ProcessUnsyncedLogs(ctx)
	if err != nil || processed != 0 {
		t.Fatalf("second replay should be a no-op, processed=%d err=%v", processed, err)
	}
	if value, _ := env.counterValue(t, product.ID); value != 10 {
		t.Fatalf("counter must not be applied twice, got %d", value)
	}
}

func TestProcessUnsyncedLogsSeedsColdCounter(t *testing.T) {
	env, flaky, syncService := newSyncTestEnv(t, 0)
	ctx := context.Background()
	product := env.createProduct(t, 10)

	if err := env.stock.Reserve(ctx, product.ID, "U2", 4); err != nil {
		t.Fatalf("reserve U2 failed: %v", err)
	}
	flaky.failIncrement.Store(true)
	if err := env.stock.IncreaseStock(ctx, product.ID, 5, "补货"); err != nil {
		t.Fatalf("increase failed: %v", err)
	}
	flaky.failIncrement.Store(false)
	if err := env.counter.Delete(ctx, product.ID); err != nil {
		t.Fatalf("delete counter failed: %v", err)
	}

	later := time.Now().Add(time.Second)
	env.stock.now = func() time.Time { return later }
	processed, err := syncService.ProcessUnsyncedLogs(ctx)
	if err != nil {
		t.Fatalf("process unsynced failed: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed want 1 got %d", processed)
	}
	value, ok := env.counterValue(t, product.ID)
	if !ok || value != 11 {
		t.Fatalf("counter should be seeded to 15-4=11, got %d (present=%v)", value, ok)
	}
	if got := env.unsyncedCount(t); got != 0 {
		t.Fatalf("unsynced logs want 0 got %d", got)
	}
}

func TestProcessUnsyncedLogsHonorsSettleWindow(t *testing.T) {
	env, flaky, syncService := newSyncTestEnv(t, time.Minute)
	ctx := context.Background()
	product := env.createProduct(t, 10)

	if err := env.stock.Reserve(ctx, product.ID, "U3", 2); err != nil {
		t.Fatalf("reserve U3 failed: %v", err)
	}
	flaky.failIncrement.Store(true)
	if err := env.stock.Release(ctx, "U3"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	flaky.failIncrement.Store(false)

	processed, err := syncService.ProcessUnsyncedLogs(ctx)
	if err != nil {
		t.Fatalf("process unsynced failed: %v", err)
	}
	if processed != 0 {
		t.Fatalf("fresh logs should wait for the settle window, processed %d", processed)
	}
	if got := env.unsyncedCount(t); got != 1 {
		t.Fatalf("unsynced logs want 1 got %d", got)
	}
}

func TestSyncAllCorrectsDriftOnly(t *testing.T) {
	env, _, syncService := newSyncTestEnv(t, 0)
	ctx := context.Background()
	drifted := env.createProduct(t, 10)
	healthy := env.createProduct(t, 8)
	cold := env.createProduct(t, 5)

	if err := env.stock.Reserve(ctx, drifted.ID, "D1", 4); err != nil {
		t.Fatalf("reserve D1 failed: %v", err)
	}
	if err := env.stock.Reserve(ctx, healthy.ID, "D2", 1); err != nil {
		t.Fatalf("reserve D2 failed: %v", err)
	}
	if err := env.counter.Set(ctx, drifted.ID, 10, time.Hour); err != nil {
		t.Fatalf("corrupt counter failed: %v", err)
	}

	report, err := syncService.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync all failed: %v", err)
	}
	if report.Scanned != 3 || report.Corrected != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if value, _ := env.counterValue(t, drifted.ID); value != 6 {
		t.Fatalf("drifted counter want 6 got %d", value)
	}
	if value, _ := env.counterValue(t, healthy.ID); value != 7 {
		t.Fatalf("healthy counter want 7 got %d", value)
	}
	if _, ok := env.counterValue(t, cold.ID); ok {
		t.Fatalf("cold counter should stay cold")
	}
	if got := env.countLogs(t, drifted.ID, constants.StockOpSync); got != 1 {
		t.Fatalf("SYNC logs for drifted product want 1 got %d", got)
	}
	if got := env.countLogs(t, healthy.ID, constants.StockOpSync); got != 0 {
		t.Fatalf("SYNC logs for healthy product want 0 got %d", got)
	}
}

func TestCheckConsistencyAndStatus(t *testing.T) {
	env, _, syncService := newSyncTestEnv(t, 0)
	ctx := context.Background()
	product := env.createProduct(t, 10)

	if err := env.stock.Reserve(ctx, product.ID, "Q1", 2); err != nil {
		t.Fatalf("reserve Q1 failed: %v", err)
	}
	if err := env.stock.Reserve(ctx, product.ID, "Q2", 3); err != nil {
		t.Fatalf("reserve Q2 failed: %v", err)
	}
	if err := env.stock.Finalize(ctx, "Q2"); err != nil {
		t.Fatalf("finalize Q2 failed: %v", err)
	}
	if err := env.counter.Set(ctx, product.ID, 1, time.Hour); err != nil {
		t.Fatalf("corrupt counter failed: %v", err)
	}

	items, err := syncService.CheckConsistency(ctx)
	if err != nil {
		t.Fatalf("check consistency failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("inconsistent items want 1 got %d", len(items))
	}
	if items[0].Counter != 1 || items[0].Expected != 5 || items[0].Locked != 2 || items[0].Durable != 7 {
		t.Fatalf("unexpected drift item: %+v", items[0])
	}
	if value, _ := env.counterValue(t, product.ID); value != 1 {
		t.Fatalf("consistency check must not correct, counter %d", value)
	}

	status, err := syncService.Status(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.LockCounts[constants.StockLockStatusLocked] != 1 || status.LockCounts[constants.StockLockStatusDeducted] != 1 {
		t.Fatalf("unexpected lock counts: %+v", status.LockCounts)
	}
	if status.UnsyncedLogs != 0 || len(status.Inconsistent) != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}

	if _, err := syncService.SyncProduct(ctx, product.ID); err != nil {
		t.Fatalf("sync product failed: %v", err)
	}
	status, err = syncService.Status(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.SyncedToday != 1 || len(status.Inconsistent) != 0 {
		t.Fatalf("status after sync want 1 sync and no drift, got %+v", status)
	}
}
