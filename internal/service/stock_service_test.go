package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stockpilot/internal/cache"
	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/events"
	"github.com/stockpilot/internal/models"
	"github.com/stockpilot/internal/queue"
	"github.com/stockpilot/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type stockTestEnv struct {
	db      *gorm.DB
	counter *cache.MemoryCounter
	stock   *StockService
	events  *recordingPublisher
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.StockChanged
}

func (p *recordingPublisher) PublishStockChanged(_ context.Context, event events.StockChanged) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) operations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]string, 0, len(p.events))
	for _, item := range p.events {
		ops = append(ops, item.Operation)
	}
	return ops
}

func newStockTestEnv(t *testing.T) *stockTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:stock_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateOn(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	counter := cache.NewMemoryCounter()
	publisher := &recordingPublisher{}
	stock := NewStockService(
		repository.NewProductRepository(db),
		repository.NewStockLockRepository(db),
		repository.NewStockLogRepository(db),
		counter,
		StockServiceOptions{
			LockTTL:    30 * time.Minute,
			CounterTTL: time.Hour,
			Publisher:  publisher,
		},
	)
	return &stockTestEnv{db: db, counter: counter, stock: stock, events: publisher}
}

func (e *stockTestEnv) createProduct(t *testing.T, stock int64) *models.Product {
	t.Helper()
	product := &models.Product{
		Name:   fmt.Sprintf("product-%d", time.Now().UnixNano()),
		Price:  models.NewMoneyFromDecimal(decimal.NewFromInt(99)),
		Stock:  stock,
		Status: constants.ProductStatusOn,
	}
	if err := e.db.Create(product).Error; err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return product
}

func (e *stockTestEnv) counterValue(t *testing.T, productID uint) (int64, bool) {
	t.Helper()
	value, ok, err := e.counter.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("read counter failed: %v", err)
	}
	return value, ok
}

func (e *stockTestEnv) durable(t *testing.T, productID uint) int64 {
	t.Helper()
	var product models.Product
	if err := e.db.First(&product, productID).Error; err != nil {
		t.Fatalf("load product failed: %v", err)
	}
	return product.Stock
}

func (e *stockTestEnv) lockStatus(t *testing.T, orderNo string) string {
	t.Helper()
	var lock models.StockLock
	if err := e.db.Where("order_no = ?", orderNo).First(&lock).Error; err != nil {
		t.Fatalf("load lock %s failed: %v", orderNo, err)
	}
	return lock.Status
}

func (e *stockTestEnv) lockedSum(t *testing.T, productID uint) int64 {
	t.Helper()
	sum, err := e.stock.GetLockedStock(productID)
	if err != nil {
		t.Fatalf("sum locked failed: %v", err)
	}
	return sum
}

func (e *stockTestEnv) countLogs(t *testing.T, productID uint, operation string) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(&models.StockLog{}).Where("product_id = ? AND operation_type = ?", productID, operation).Count(&count).Error; err != nil {
		t.Fatalf("count logs failed: %v", err)
	}
	return count
}

func TestStockLifecycleScenario(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)

	if err := env.stock.Reserve(ctx, product.ID, "O1", 4); err != nil {
		t.Fatalf("reserve O1 failed: %v", err)
	}
	if value, _ := env.counterValue(t, product.ID); value != 6 {
		t.Fatalf("counter after O1 want 6 got %d", value)
	}

	if err := env.stock.Reserve(ctx, product.ID, "O1", 4); err != nil {
		t.Fatalf("repeat reserve O1 should succeed, got %v", err)
	}
	if value, _ := env.counterValue(t, product.ID); value != 6 {
		t.Fatalf("counter after repeat want 6 got %d", value)
	}

	err := env.stock.Reserve(ctx, product.ID, "O2", 7)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("reserve O2 want insufficient got %v", err)
	}
	if value, _ := env.counterValue(t, product.ID); value != 6 {
		t.Fatalf("counter after O2 want 6 got %d", value)
	}

	if err := env.stock.Finalize(ctx, "O1"); err != nil {
		t.Fatalf("finalize O1 failed: %v", err)
	}
	if durable := env.durable(t, product.ID); durable != 6 {
		t.Fatalf("durable after finalize want 6 got %d", durable)
	}
	if status := env.lockStatus(t, "O1"); status != constants.StockLockStatusDeducted {
		t.Fatalf("lock O1 want DEDUCTED got %s", status)
	}

	if err := env.stock.Release(ctx, "O1"); err != nil {
		t.Fatalf("release after finalize should be no-op, got %v", err)
	}
	if value, _ := env.counterValue(t, product.ID); value != 6 {
		t.Fatalf("counter after no-op release want 6 got %d", value)
	}
	if status := env.lockStatus(t, "O1"); status != constants.StockLockStatusDeducted {
		t.Fatalf("lock O1 should stay DEDUCTED, got %s", status)
	}

	if got := env.countLogs(t, product.ID, constants.StockOpLock); got != 1 {
		t.Fatalf("LOCK logs want 1 got %d", got)
	}
	if got := env.countLogs(t, product.ID, constants.StockOpDeduct); got != 1 {
		t.Fatalf("DEDUCT logs want 1 got %d", got)
	}
	if got := env.countLogs(t, product.ID, constants.StockOpRollback); got != 0 {
		t.Fatalf("ROLLBACK logs want 0 got %d", got)
	}
	ops := env.events.operations()
	if len(ops) != 2 || ops[0] != constants.StockOpLock || ops[1] != constants.StockOpDeduct {
		t.Fatalf("unexpected published events: %v", ops)
	}
}

func TestReserveSeedsColdCounter(t *testing.T) {
	env := newStockTestEnv(t)
	product := env.createProduct(t, 10)

	if _, ok := env.counterValue(t, product.ID); ok {
		t.Fatalf("counter should start cold")
	}
	if err := env.stock.Reserve(context.Background(), product.ID, "O3", 3); err != nil {
		t.Fatalf("reserve O3 failed: %v", err)
	}
	value, ok := env.counterValue(t, product.ID)
	if !ok || value != 7 {
		t.Fatalf("counter want 7 got %d (present=%v)", value, ok)
	}
}

func TestReserveColdSeedSubtractsLockedQuantity(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)

	if err := env.stock.Reserve(ctx, product.ID, "A1", 4); err != nil {
		t.Fatalf("reserve A1 failed: %v", err)
	}
	if err := env.counter.Delete(ctx, product.ID); err != nil {
		t.Fatalf("delete counter failed: %v", err)
	}
	if err := env.stock.Reserve(ctx, product.ID, "A2", 2); err != nil {
		t.Fatalf("reserve A2 failed: %v", err)
	}
	if value, _ := env.counterValue(t, product.ID); value != 4 {
		t.Fatalf("reseeded counter want 10-4-2=4 got %d", value)
	}
}

func TestReserveRejectsUnknownProductAndBadInput(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()

	if err := env.stock.Reserve(ctx, 999, "X1", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown product want not found got %v", err)
	}
	if err := env.stock.Reserve(ctx, 1, "X2", 0); !errors.Is(err, ErrInvalidStockParams) {
		t.Fatalf("zero quantity want invalid params got %v", err)
	}
	if err := env.stock.Reserve(ctx, 1, "  ", 1); !errors.Is(err, ErrInvalidStockParams) {
		t.Fatalf("blank order no want invalid params got %v", err)
	}
	var locks int64
	env.db.Model(&models.StockLock{}).Count(&locks)
	if locks != 0 {
		t.Fatalf("no lock should be written, got %d", locks)
	}
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)

	var wg sync.WaitGroup
	var success int32
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			err := env.stock.Reserve(ctx, product.ID, fmt.Sprintf("C%d", idx), 1)
			if err == nil {
				atomic.AddInt32(&success, 1)
				return
			}
			if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("unexpected reserve error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if success != 10 {
		t.Fatalf("successful reservations want 10 got %d", success)
	}
	if locked := env.lockedSum(t, product.ID); locked != 10 {
		t.Fatalf("locked sum want 10 got %d", locked)
	}
	if value, _ := env.counterValue(t, product.ID); value != 0 {
		t.Fatalf("counter want 0 got %d", value)
	}
}

func TestConcurrentDuplicateReserveLocksOnce(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.stock.Reserve(ctx, product.ID, "DUP", 3); err != nil {
				t.Errorf("duplicate reserve should succeed, got %v", err)
			}
		}()
	}
	wg.Wait()

	if value, _ := env.counterValue(t, product.ID); value != 97 {
		t.Fatalf("counter want 97 got %d", value)
	}
	if got := env.countLogs(t, product.ID, constants.StockOpLock); got != 1 {
		t.Fatalf("LOCK logs want 1 got %d", got)
	}
}

func TestConservationAcrossOperations(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 20)

	for i := 1; i <= 5; i++ {
		if err := env.stock.Reserve(ctx, product.ID, fmt.Sprintf("K%d", i), int64(i)); err != nil {
			t.Fatalf("reserve K%d failed: %v", i, err)
		}
	}
	if err := env.stock.Finalize(ctx, "K2"); err != nil {
		t.Fatalf("finalize K2 failed: %v", err)
	}
	if err := env.stock.Release(ctx, "K3"); err != nil {
		t.Fatalf("release K3 failed: %v", err)
	}
	if err := env.stock.Finalize(ctx, "K5"); err != nil {
		t.Fatalf("finalize K5 failed: %v", err)
	}

	counter, _ := env.counterValue(t, product.ID)
	locked := env.lockedSum(t, product.ID)
	durable := env.durable(t, product.ID)
	if counter+locked != durable {
		t.Fatalf("conservation broken: counter=%d locked=%d durable=%d", counter, locked, durable)
	}
	if durable != 13 {
		t.Fatalf("durable want 20-2-5=13 got %d", durable)
	}
}

func TestTerminalLocksAreIdempotent(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)

	if err := env.stock.Reserve(ctx, product.ID, "T1", 2); err != nil {
		t.Fatalf("reserve T1 failed: %v", err)
	}
	if err := env.stock.Release(ctx, "T1"); err != nil {
		t.Fatalf("release T1 failed: %v", err)
	}
	if value, _ := env.counterValue(t, product.ID); value != 10 {
		t.Fatalf("counter after release want 10 got %d", value)
	}
	if err := env.stock.Release(ctx, "T1"); err != nil {
		t.Fatalf("second release should be no-op, got %v", err)
	}
	if err := env.stock.Finalize(ctx, "T1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("finalize released lock want invalid state got %v", err)
	}
	if err := env.stock.Release(ctx, "never-locked"); err != nil {
		t.Fatalf("release of unknown order should be no-op, got %v", err)
	}
	if err := env.stock.Finalize(ctx, "never-locked"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("finalize unknown order want not found got %v", err)
	}
	if value, _ := env.counterValue(t, product.ID); value != 10 {
		t.Fatalf("counter should not move after no-ops, got %d", value)
	}
	if durable := env.durable(t, product.ID); durable != 10 {
		t.Fatalf("durable should not move, got %d", durable)
	}
	if got := env.countLogs(t, product.ID, constants.StockOpRollback); got != 1 {
		t.Fatalf("ROLLBACK logs want 1 got %d", got)
	}
}

func TestConcurrentFinalizeAndReleaseSingleWinner(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)
	if err := env.stock.Reserve(ctx, product.ID, "R1", 4); err != nil {
		t.Fatalf("reserve R1 failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = env.stock.Finalize(ctx, "R1")
	}()
	go func() {
		defer wg.Done()
		_ = env.stock.Release(ctx, "R1")
	}()
	wg.Wait()

	counter, _ := env.counterValue(t, product.ID)
	durable := env.durable(t, product.ID)
	if locked := env.lockedSum(t, product.ID); counter+locked != durable {
		t.Fatalf("conservation broken: counter=%d locked=%d durable=%d", counter, locked, durable)
	}
	switch env.lockStatus(t, "R1") {
	case constants.StockLockStatusDeducted:
		if durable != 6 || counter != 6 {
			t.Fatalf("finalize winner want durable=6 counter=6 got durable=%d counter=%d", durable, counter)
		}
	case constants.StockLockStatusReleased:
		if durable != 10 || counter != 10 {
			t.Fatalf("release winner want durable=10 counter=10 got durable=%d counter=%d", durable, counter)
		}
	default:
		t.Fatalf("lock should be terminal")
	}
}

func TestReleaseWithColdCounterMarksLogSynced(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)
	if err := env.stock.Reserve(ctx, product.ID, "L1", 3); err != nil {
		t.Fatalf("reserve L1 failed: %v", err)
	}
	_ = env.counter.Delete(ctx, product.ID)

	if err := env.stock.Release(ctx, "L1"); err != nil {
		t.Fatalf("release L1 failed: %v", err)
	}
	if _, ok := env.counterValue(t, product.ID); ok {
		t.Fatalf("release must not create a counter")
	}
	var unsynced int64
	env.db.Model(&models.StockLog{}).Where("synced = ?", false).Count(&unsynced)
	if unsynced != 0 {
		t.Fatalf("rollback log should be synced when counter is cold, got %d unsynced", unsynced)
	}
	available, err := env.stock.GetAvailableStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("get available failed: %v", err)
	}
	if available != 10 {
		t.Fatalf("available want 10 got %d", available)
	}
}

func TestCleanExpiredLocksRestoresCounter(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)

	if err := env.stock.Reserve(ctx, product.ID, "E1", 3); err != nil {
		t.Fatalf("reserve E1 failed: %v", err)
	}
	if err := env.stock.Reserve(ctx, product.ID, "E2", 2); err != nil {
		t.Fatalf("reserve E2 failed: %v", err)
	}
	if err := env.stock.Finalize(ctx, "E2"); err != nil {
		t.Fatalf("finalize E2 failed: %v", err)
	}

	released, err := env.stock.CleanExpiredLocks(ctx)
	if err != nil {
		t.Fatalf("clean before expiry failed: %v", err)
	}
	if released != 0 {
		t.Fatalf("nothing should expire yet, released %d", released)
	}

	future := time.Now().Add(time.Hour)
	env.stock.now = func() time.Time { return future }
	released, err = env.stock.CleanExpiredLocks(ctx)
	if err != nil {
		t.Fatalf("clean expired failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("released want 1 got %d", released)
	}
	if status := env.lockStatus(t, "E1"); status != constants.StockLockStatusReleased {
		t.Fatalf("E1 want RELEASED got %s", status)
	}
	if value, _ := env.counterValue(t, product.ID); value != 8 {
		t.Fatalf("counter want 10-2=8 got %d", value)
	}

	released, err = env.stock.CleanExpiredLocks(ctx)
	if err != nil || released != 0 {
		t.Fatalf("second sweep should be a no-op, released=%d err=%v", released, err)
	}
}

func TestSyncCounterFromLedgerSubtractsLocked(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)
	if err := env.stock.Reserve(ctx, product.ID, "S1", 4); err != nil {
		t.Fatalf("reserve S1 failed: %v", err)
	}
	if err := env.counter.Set(ctx, product.ID, 42, time.Hour); err != nil {
		t.Fatalf("corrupt counter failed: %v", err)
	}

	result, err := env.stock.SyncCounterFromLedger(ctx, product.ID)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Before != 42 || result.After != 6 || result.Locked != 4 || result.Durable != 10 {
		t.Fatalf("unexpected sync result: %+v", result)
	}
	if value, _ := env.counterValue(t, product.ID); value != 6 {
		t.Fatalf("counter want 6 got %d", value)
	}
	if got := env.countLogs(t, product.ID, constants.StockOpSync); got != 1 {
		t.Fatalf("SYNC logs want 1 got %d", got)
	}

	if _, err := env.stock.SyncCounterFromLedger(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("sync unknown product want not found got %v", err)
	}
}

func TestIncreaseStockUpdatesDurableAndCounter(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 5)
	if err := env.stock.Reserve(ctx, product.ID, "I1", 5); err != nil {
		t.Fatalf("reserve I1 failed: %v", err)
	}
	if err := env.stock.Reserve(ctx, product.ID, "I2", 1); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("reserve I2 want insufficient got %v", err)
	}

	if err := env.stock.IncreaseStock(ctx, product.ID, 3, ""); err != nil {
		t.Fatalf("increase failed: %v", err)
	}
	if durable := env.durable(t, product.ID); durable != 8 {
		t.Fatalf("durable want 8 got %d", durable)
	}
	if value, _ := env.counterValue(t, product.ID); value != 3 {
		t.Fatalf("counter want 3 got %d", value)
	}
	if err := env.stock.Reserve(ctx, product.ID, "I2", 1); err != nil {
		t.Fatalf("reserve after restock failed: %v", err)
	}
	if err := env.stock.IncreaseStock(ctx, 999, 3, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("increase unknown product want not found got %v", err)
	}
}

func TestHandleStockRequests(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)
	if err := env.stock.Reserve(ctx, product.ID, "H1", 2); err != nil {
		t.Fatalf("reserve H1 failed: %v", err)
	}
	if err := env.stock.Reserve(ctx, product.ID, "H2", 2); err != nil {
		t.Fatalf("reserve H2 failed: %v", err)
	}

	payload := queue.StockNotifyPayload{OrderNo: "H1", ProductID: product.ID, Quantity: 2}
	if err := env.stock.HandleDeductRequested(ctx, payload); err != nil {
		t.Fatalf("deduct request failed: %v", err)
	}
	if err := env.stock.HandleDeductRequested(ctx, payload); err != nil {
		t.Fatalf("repeated deduct request should be acknowledged, got %v", err)
	}
	if err := env.stock.HandleRollbackRequested(ctx, queue.StockNotifyPayload{OrderNo: "H2"}); err != nil {
		t.Fatalf("rollback request failed: %v", err)
	}
	if err := env.stock.HandleDeductRequested(ctx, queue.StockNotifyPayload{OrderNo: "H2"}); err != nil {
		t.Fatalf("deduct on released lock should be acknowledged, got %v", err)
	}
	if durable := env.durable(t, product.ID); durable != 8 {
		t.Fatalf("durable want 8 got %d", durable)
	}
	if value, _ := env.counterValue(t, product.ID); value != 8 {
		t.Fatalf("counter want 8 got %d", value)
	}
}

// hookCounter 在 IncrementIfExists 前后各执行一次 hook，用于构造确定的交错顺序
type hookCounter struct {
	*cache.MemoryCounter
	mu     sync.Mutex
	before func()
	after  func()
}

func (c *hookCounter) take(hook *func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn := *hook
	*hook = nil
	return fn
}

func (c *hookCounter) IncrementIfExists(ctx context.Context, productID uint, amount int64) (int64, bool, error) {
	if fn := c.take(&c.before); fn != nil {
		fn()
	}
	value, existed, err := c.MemoryCounter.IncrementIfExists(ctx, productID, amount)
	if fn := c.take(&c.after); fn != nil {
		fn()
	}
	return value, existed, err
}

func (e *stockTestEnv) useHookCounter() *hookCounter {
	hooked := &hookCounter{MemoryCounter: e.counter}
	e.stock.counter = hooked
	return hooked
}

func (e *stockTestEnv) rollbackLog(t *testing.T, orderNo string) models.StockLog {
	t.Helper()
	var log models.StockLog
	if err := e.db.Where("order_no = ? AND operation_type = ?", orderNo, constants.StockOpRollback).First(&log).Error; err != nil {
		t.Fatalf("load rollback log %s failed: %v", orderNo, err)
	}
	return log
}

func TestReleaseInterleavedWithColdReseedConservesStock(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)
	hooked := env.useHookCounter()

	if err := env.stock.Reserve(ctx, product.ID, "C1", 3); err != nil {
		t.Fatalf("reserve C1 failed: %v", err)
	}
	// 计数器过期
	_ = env.counter.Delete(ctx, product.ID)
	hooked.before = func() {
		if err := env.stock.Reserve(ctx, product.ID, "C2", 1); err != nil {
			t.Errorf("reserve C2 during release failed: %v", err)
		}
	}

	if err := env.stock.Release(ctx, "C1"); err != nil {
		t.Fatalf("release C1 failed: %v", err)
	}
	counter, _ := env.counterValue(t, product.ID)
	locked := env.lockedSum(t, product.ID)
	durable := env.durable(t, product.ID)
	if counter != 9 || locked != 1 || durable != 10 {
		t.Fatalf("want counter=9 locked=1 durable=10 got counter=%d locked=%d durable=%d", counter, locked, durable)
	}
	log := env.rollbackLog(t, "C1")
	if log.BeforeQuantity != 6 || log.AfterQuantity != 9 || !log.Synced {
		t.Fatalf("rollback log want 6->9 synced got %d->%d synced=%v", log.BeforeQuantity, log.AfterQuantity, log.Synced)
	}
}

func TestReleaseReseededBeforeCommitOnlyUnderCounts(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)
	hooked := env.useHookCounter()

	if err := env.stock.Reserve(ctx, product.ID, "C3", 3); err != nil {
		t.Fatalf("reserve C3 failed: %v", err)
	}
	_ = env.counter.Delete(ctx, product.ID)
	hooked.after = func() {
		if _, err := env.stock.GetAvailableStock(ctx, product.ID); err != nil {
			t.Errorf("reseed during release failed: %v", err)
		}
	}

	if err := env.stock.Release(ctx, "C3"); err != nil {
		t.Fatalf("release C3 failed: %v", err)
	}
	counter, _ := env.counterValue(t, product.ID)
	if counter != 7 {
		t.Fatalf("counter seeded while C3 was still locked want 7 got %d", counter)
	}
	result, err := env.stock.SyncCounterFromLedger(ctx, product.ID)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.After != 10 {
		t.Fatalf("sync want 10 got %d", result.After)
	}
}

func TestReleaseLosingToFinalizeRevertsCounterCredit(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)
	hooked := env.useHookCounter()

	if err := env.stock.Reserve(ctx, product.ID, "C4", 4); err != nil {
		t.Fatalf("reserve C4 failed: %v", err)
	}
	hooked.after = func() {
		if err := env.stock.Finalize(ctx, "C4"); err != nil {
			t.Errorf("finalize C4 during release failed: %v", err)
		}
	}

	if err := env.stock.Release(ctx, "C4"); err != nil {
		t.Fatalf("losing release should be a no-op, got %v", err)
	}
	if status := env.lockStatus(t, "C4"); status != constants.StockLockStatusDeducted {
		t.Fatalf("lock want DEDUCTED got %s", status)
	}
	counter, _ := env.counterValue(t, product.ID)
	durable := env.durable(t, product.ID)
	if counter != 6 || durable != 6 {
		t.Fatalf("want counter=6 durable=6 got counter=%d durable=%d", counter, durable)
	}
	if got := env.countLogs(t, product.ID, constants.StockOpRollback); got != 0 {
		t.Fatalf("ROLLBACK logs want 0 got %d", got)
	}
}

func TestReleaseLogUsesCounterValues(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 10)
	if err := env.stock.Reserve(ctx, product.ID, "C5", 3); err != nil {
		t.Fatalf("reserve C5 failed: %v", err)
	}
	if err := env.stock.Release(ctx, "C5"); err != nil {
		t.Fatalf("release C5 failed: %v", err)
	}
	log := env.rollbackLog(t, "C5")
	if log.BeforeQuantity != 7 || log.AfterQuantity != 10 || log.ChangeAmount != 3 {
		t.Fatalf("rollback log want 7->10 (+3) got %d->%d (%+d)", log.BeforeQuantity, log.AfterQuantity, log.ChangeAmount)
	}
}

// failingLogRepo 指定操作类型的流水写入失败
type failingLogRepo struct {
	repository.StockLogRepository
	failOp string
}

func (r *failingLogRepo) Create(log *models.StockLog) error {
	if log.OperationType == r.failOp {
		return errors.New("audit write failed")
	}
	return r.StockLogRepository.Create(log)
}

func TestSyncCounterFromLedgerReportsAuditFailure(t *testing.T) {
	env := newStockTestEnv(t)
	ctx := context.Background()
	product := env.createProduct(t, 5)
	env.stock.logRepo = &failingLogRepo{StockLogRepository: env.stock.logRepo, failOp: constants.StockOpSync}

	if _, err := env.stock.SyncCounterFromLedger(ctx, product.ID); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("failed audit write want ErrStoreUnavailable got %v", err)
	}
	if got := env.countLogs(t, product.ID, constants.StockOpSync); got != 0 {
		t.Fatalf("SYNC logs want 0 got %d", got)
	}
}
