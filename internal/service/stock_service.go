package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stockpilot/internal/cache"
	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/events"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/metrics"
	"github.com/stockpilot/internal/models"
	"github.com/stockpilot/internal/queue"
	"github.com/stockpilot/internal/repository"

	"gorm.io/gorm"
)

const maxDurableDeductAttempts = 3

// StockServiceOptions 库存服务可选参数
type StockServiceOptions struct {
	LockTTL         time.Duration
	CounterTTL      time.Duration
	SweepBatchLimit int
	Publisher       events.Publisher
}

// StockService 库存预占协调器：快速计数器 + 持久化库存 + 锁定台账
type StockService struct {
	productRepo repository.ProductRepository
	lockRepo    repository.StockLockRepository
	logRepo     repository.StockLogRepository
	counter     cache.CounterStore
	publisher   events.Publisher
	lockTTL     time.Duration
	counterTTL  time.Duration
	batchLimit  int
	now         func() time.Time
}

// NewStockService 创建库存服务
func NewStockService(productRepo repository.ProductRepository, lockRepo repository.StockLockRepository, logRepo repository.StockLogRepository, counter cache.CounterStore, opts StockServiceOptions) *StockService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Duration(constants.DefaultStockLockTTLMinutes) * time.Minute
	}
	if opts.CounterTTL < 0 {
		opts.CounterTTL = 0
	}
	if opts.SweepBatchLimit <= 0 {
		opts.SweepBatchLimit = constants.DefaultCompensationBatchLimit
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	return &StockService{
		productRepo: productRepo,
		lockRepo:    lockRepo,
		logRepo:     logRepo,
		counter:     counter,
		publisher:   opts.Publisher,
		lockTTL:     opts.LockTTL,
		counterTTL:  opts.CounterTTL,
		batchLimit:  opts.SweepBatchLimit,
		now:         time.Now,
	}
}

// ledgerSnapshot 持久化侧的库存视图
type ledgerSnapshot struct {
	Durable  int64
	Locked   int64
	Expected int64
}

// SyncResult 单商品计数器校准结果
type SyncResult struct {
	ProductID uint  `json:"product_id"`
	Before    int64 `json:"before"`
	After     int64 `json:"after"`
	Durable   int64 `json:"durable"`
	Locked    int64 `json:"locked"`
	WasCold   bool  `json:"was_cold"`
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func orderNoRef(orderNo string) *string {
	if orderNo == "" {
		return nil
	}
	ref := orderNo
	return &ref
}

// loadLedger 计算计数器应有值：持久化库存 - 仍处于 LOCKED 的数量
func (s *StockService) loadLedger(productID uint) (*ledgerSnapshot, error) {
	product, err := s.productRepo.GetByID(productID)
	if err != nil {
		return nil, storeErr(err)
	}
	if product == nil {
		return nil, ErrNotFound
	}
	locked, err := s.lockRepo.SumLockedByProduct(productID)
	if err != nil {
		return nil, storeErr(err)
	}
	expected := product.Stock - locked
	if expected < 0 {
		expected = 0
	}
	return &ledgerSnapshot{Durable: product.Stock, Locked: locked, Expected: expected}, nil
}

// decrementCounter 原子扣减计数器，计数器缺失时以台账值播种后扣减
func (s *StockService) decrementCounter(ctx context.Context, productID uint, quantity int64) (int64, error) {
	after, result, err := s.counter.DecrementWithFloor(ctx, productID, quantity)
	if err != nil {
		return 0, storeErr(err)
	}
	if result == cache.CounterMissing {
		ledger, err := s.loadLedger(productID)
		if err != nil {
			return 0, err
		}
		after, result, err = s.counter.SeedAndDecrement(ctx, productID, ledger.Expected, quantity, s.counterTTL)
		if err != nil {
			return 0, storeErr(err)
		}
		logger.Debugw("stock_counter_seeded", "product_id", productID, "seed", ledger.Expected, "durable", ledger.Durable, "locked", ledger.Locked)
	}
	switch result {
	case cache.CounterOK:
		return after, nil
	case cache.CounterInsufficient:
		return after, ErrInsufficientStock
	default:
		return 0, storeErr(fmt.Errorf("unexpected counter result %s", result))
	}
}

// Reserve 下单预占库存，同一订单号重复调用为幂等成功
func (s *StockService) Reserve(ctx context.Context, productID uint, orderNo string, quantity int64) error {
	orderNo = strings.TrimSpace(orderNo)
	if productID == 0 || orderNo == "" || quantity <= 0 {
		return ErrInvalidStockParams
	}
	existing, err := s.lockRepo.GetByOrderNo(orderNo)
	if err != nil {
		metrics.ObserveReserve("error")
		return storeErr(err)
	}
	if existing != nil {
		metrics.ObserveReserve("duplicate")
		logger.Debugw("stock_reserve_duplicate", "order_no", orderNo, "product_id", existing.ProductID, "status", existing.Status)
		return nil
	}

	after, err := s.decrementCounter(ctx, productID, quantity)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientStock):
			metrics.ObserveReserve("insufficient")
		case errors.Is(err, ErrNotFound):
			metrics.ObserveReserve("not_found")
		default:
			metrics.ObserveReserve("error")
			logger.Warnw("stock_reserve_counter_failed", "order_no", orderNo, "product_id", productID, "error", err)
		}
		return err
	}

	now := s.now()
	lock := &models.StockLock{
		ProductID:      productID,
		OrderNo:        orderNo,
		LockedQuantity: quantity,
		Status:         constants.StockLockStatusLocked,
		ExpireTime:     now.Add(s.lockTTL),
		Remark:         "下单锁定库存",
	}
	lockLog := &models.StockLog{
		ProductID:      productID,
		BeforeQuantity: after + quantity,
		AfterQuantity:  after,
		ChangeAmount:   -quantity,
		OperationType:  constants.StockOpLock,
		OrderNo:        orderNoRef(orderNo),
		Synced:         true,
		Remark:         "下单锁定库存",
	}
	err = s.lockRepo.Transaction(func(tx *gorm.DB) error {
		if err := s.lockRepo.WithTx(tx).Create(lock); err != nil {
			return err
		}
		return s.logRepo.WithTx(tx).Create(lockLog)
	})
	if err != nil {
		// 台账写入失败，归还已扣减的计数器
		if _, _, restoreErr := s.counter.IncrementIfExists(ctx, productID, quantity); restoreErr != nil {
			logger.Errorw("stock_reserve_counter_restore_failed", "order_no", orderNo, "product_id", productID, "quantity", quantity, "error", restoreErr)
		}
		if dup, lookupErr := s.lockRepo.GetByOrderNo(orderNo); lookupErr == nil && dup != nil {
			metrics.ObserveReserve("duplicate")
			logger.Debugw("stock_reserve_duplicate_race", "order_no", orderNo, "product_id", productID)
			return nil
		}
		metrics.ObserveReserve("error")
		logger.Errorw("stock_reserve_persist_failed", "order_no", orderNo, "product_id", productID, "quantity", quantity, "error", err)
		return storeErr(err)
	}

	metrics.ObserveReserve("ok")
	s.publish(ctx, lockLog, now)
	logger.Debugw("stock_reserved", "order_no", orderNo, "product_id", productID, "quantity", quantity, "counter_after", after)
	return nil
}

// Finalize 支付完成后将锁定转为扣减，并落持久化库存
func (s *StockService) Finalize(ctx context.Context, orderNo string) error {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return ErrInvalidStockParams
	}
	lock, err := s.lockRepo.GetByOrderNo(orderNo)
	if err != nil {
		metrics.ObserveFinalize("error")
		return storeErr(err)
	}
	if lock == nil {
		metrics.ObserveFinalize("not_found")
		return ErrNotFound
	}
	if !lock.IsLocked() {
		metrics.ObserveFinalize("invalid_state")
		return ErrInvalidState
	}

	now := s.now()
	var deductLog *models.StockLog
	err = s.lockRepo.Transaction(func(tx *gorm.DB) error {
		affected, err := s.lockRepo.WithTx(tx).TransitionFromLocked(orderNo, constants.StockLockStatusDeducted, now, "支付完成扣减库存")
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrInvalidState
		}
		before, after, err := deductDurable(s.productRepo.WithTx(tx), lock.ProductID, lock.LockedQuantity)
		if err != nil {
			return err
		}
		deductLog = &models.StockLog{
			ProductID:      lock.ProductID,
			BeforeQuantity: before,
			AfterQuantity:  after,
			ChangeAmount:   -lock.LockedQuantity,
			OperationType:  constants.StockOpDeduct,
			OrderNo:        orderNoRef(orderNo),
			Synced:         true,
			Remark:         "支付完成扣减库存",
		}
		return s.logRepo.WithTx(tx).Create(deductLog)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidState):
			metrics.ObserveFinalize("invalid_state")
			return ErrInvalidState
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInsufficientStock):
			metrics.ObserveFinalize("error")
			logger.Errorw("stock_finalize_ledger_inconsistent", "order_no", orderNo, "product_id", lock.ProductID, "quantity", lock.LockedQuantity, "error", err)
			return err
		default:
			metrics.ObserveFinalize("error")
			logger.Errorw("stock_finalize_failed", "order_no", orderNo, "product_id", lock.ProductID, "error", err)
			if errors.Is(err, ErrStoreUnavailable) {
				return err
			}
			return storeErr(err)
		}
	}

	metrics.ObserveFinalize("ok")
	s.publish(ctx, deductLog, now)
	logger.Infow("stock_finalized", "order_no", orderNo, "product_id", lock.ProductID, "quantity", lock.LockedQuantity, "durable_after", deductLog.AfterQuantity)
	return nil
}

// deductDurable 乐观扣减持久化库存，返回扣减前后值
func deductDurable(repo repository.ProductRepository, productID uint, quantity int64) (int64, int64, error) {
	for attempt := 0; attempt < maxDurableDeductAttempts; attempt++ {
		product, err := repo.GetByID(productID)
		if err != nil {
			return 0, 0, err
		}
		if product == nil {
			return 0, 0, ErrNotFound
		}
		after := product.Stock - quantity
		if after < 0 {
			return 0, 0, ErrInsufficientStock
		}
		affected, err := repo.CompareAndSetStock(productID, product.Stock, after)
		if err != nil {
			return 0, 0, err
		}
		if affected == 1 {
			return product.Stock, after, nil
		}
	}
	return 0, 0, storeErr(errors.New("durable stock update conflict"))
}

// Release 释放锁定并归还计数器；锁不存在或已终结时为幂等成功
func (s *StockService) Release(ctx context.Context, orderNo string) error {
	_, err := s.release(ctx, orderNo, "订单取消释放库存")
	return err
}

func (s *StockService) release(ctx context.Context, orderNo, remark string) (bool, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return false, ErrInvalidStockParams
	}
	lock, err := s.lockRepo.GetByOrderNo(orderNo)
	if err != nil {
		metrics.ObserveRelease("error")
		return false, storeErr(err)
	}
	if lock == nil || !lock.IsLocked() {
		metrics.ObserveRelease("noop")
		status := ""
		if lock != nil {
			status = lock.Status
		}
		logger.Debugw("stock_release_noop", "order_no", orderNo, "status", status)
		return false, nil
	}

	// 先归还计数器再提交 RELEASED：期间冷启动播种仍把该锁计入 LOCKED，只会少算
	credit := s.creditCounter(ctx, lock.ProductID, lock.LockedQuantity)
	if !credit.applied {
		credit.before = s.ledgerBaseline(lock.ProductID)
		credit.after = credit.before + lock.LockedQuantity
	}

	now := s.now()
	won := false
	var rollbackLog *models.StockLog
	err = s.lockRepo.Transaction(func(tx *gorm.DB) error {
		affected, err := s.lockRepo.WithTx(tx).TransitionFromLocked(orderNo, constants.StockLockStatusReleased, now, remark)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		won = true
		rollbackLog = &models.StockLog{
			ProductID:      lock.ProductID,
			BeforeQuantity: credit.before,
			AfterQuantity:  credit.after,
			ChangeAmount:   lock.LockedQuantity,
			OperationType:  constants.StockOpRollback,
			OrderNo:        orderNoRef(orderNo),
			Synced:         !credit.failed,
			Remark:         remark,
		}
		return s.logRepo.WithTx(tx).Create(rollbackLog)
	})
	if err != nil {
		s.revertCredit(ctx, lock.ProductID, lock.LockedQuantity, credit)
		metrics.ObserveRelease("error")
		logger.Errorw("stock_release_failed", "order_no", orderNo, "product_id", lock.ProductID, "error", err)
		return false, storeErr(err)
	}
	if !won {
		s.revertCredit(ctx, lock.ProductID, lock.LockedQuantity, credit)
		metrics.ObserveRelease("noop")
		logger.Debugw("stock_release_lost_race", "order_no", orderNo)
		return false, nil
	}

	metrics.ObserveRelease("ok")
	s.publish(ctx, rollbackLog, now)
	logger.Infow("stock_released", "order_no", orderNo, "product_id", lock.ProductID, "quantity", lock.LockedQuantity, "remark", remark)
	return true, nil
}

// counterCredit 提交前对计数器的归还结果
type counterCredit struct {
	applied bool // 计数器存在且已增加
	failed  bool // 计数器不可达，流水记为未同步待重放
	before  int64
	after   int64
}

// creditCounter 计数器存在时增加；冷计数器不补，播种时由台账体现
func (s *StockService) creditCounter(ctx context.Context, productID uint, amount int64) counterCredit {
	after, existed, err := s.counter.IncrementIfExists(ctx, productID, amount)
	if err != nil {
		logger.Warnw("stock_counter_credit_failed", "product_id", productID, "amount", amount, "error", err)
		return counterCredit{failed: true}
	}
	if !existed {
		return counterCredit{}
	}
	return counterCredit{applied: true, before: after - amount, after: after}
}

// revertCredit 台账未提交时撤回已归还的计数
func (s *StockService) revertCredit(ctx context.Context, productID uint, amount int64, credit counterCredit) {
	if !credit.applied {
		return
	}
	if _, _, err := s.counter.IncrementIfExists(ctx, productID, -amount); err != nil {
		logger.Errorw("stock_counter_credit_revert_failed", "product_id", productID, "amount", amount, "error", err)
	}
}

// ledgerBaseline 计数器未参与时以台账推算流水的变更前数量
func (s *StockService) ledgerBaseline(productID uint) int64 {
	ledger, err := s.loadLedger(productID)
	if err != nil {
		return 0
	}
	return ledger.Expected
}

// releaseForCancel 取消路径释放库存；锁已被扣减抢先终结时返回 true
func (s *StockService) releaseForCancel(ctx context.Context, orderNo, remark string) (bool, error) {
	won, err := s.release(ctx, orderNo, remark)
	if err != nil || won {
		return false, err
	}
	lock, err := s.lockRepo.GetByOrderNo(strings.TrimSpace(orderNo))
	if err != nil {
		return false, storeErr(err)
	}
	return lock != nil && lock.Status == constants.StockLockStatusDeducted, nil
}

// SyncCounterFromLedger 以台账重置计数器（持久化库存 - LOCKED 数量）
func (s *StockService) SyncCounterFromLedger(ctx context.Context, productID uint) (*SyncResult, error) {
	if productID == 0 {
		return nil, ErrInvalidStockParams
	}
	ledger, err := s.loadLedger(productID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if delErr := s.counter.Delete(ctx, productID); delErr != nil {
				logger.Warnw("stock_sync_counter_delete_failed", "product_id", productID, "error", delErr)
			}
		}
		return nil, err
	}
	before, warm, err := s.counter.Get(ctx, productID)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := s.counter.Set(ctx, productID, ledger.Expected, s.counterTTL); err != nil {
		return nil, storeErr(err)
	}
	result := &SyncResult{
		ProductID: productID,
		Before:    before,
		After:     ledger.Expected,
		Durable:   ledger.Durable,
		Locked:    ledger.Locked,
		WasCold:   !warm,
	}
	syncLog := &models.StockLog{
		ProductID:      productID,
		BeforeQuantity: before,
		AfterQuantity:  ledger.Expected,
		ChangeAmount:   ledger.Expected - before,
		OperationType:  constants.StockOpSync,
		Synced:         true,
		Remark:         fmt.Sprintf("计数器校准 durable=%d locked=%d", ledger.Durable, ledger.Locked),
	}
	if err := s.logRepo.Create(syncLog); err != nil {
		logger.Errorw("stock_sync_log_failed", "product_id", productID, "before", before, "after", ledger.Expected, "error", err)
		return nil, storeErr(err)
	}
	logger.Infow("stock_counter_synced", "product_id", productID, "before", before, "after", ledger.Expected, "durable", ledger.Durable, "locked", ledger.Locked, "was_cold", !warm)
	return result, nil
}

// CleanExpiredLocks 释放已过期的锁定，返回实际释放数量
func (s *StockService) CleanExpiredLocks(ctx context.Context) (int, error) {
	locks, err := s.lockRepo.ListExpiredLocked(s.now(), s.batchLimit)
	if err != nil {
		return 0, storeErr(err)
	}
	released := 0
	for _, lock := range locks {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}
		ok, err := s.release(ctx, lock.OrderNo, "锁定超时自动释放")
		if err != nil {
			logger.Warnw("stock_expired_lock_release_failed", "order_no", lock.OrderNo, "product_id", lock.ProductID, "error", err)
			continue
		}
		if ok {
			released++
		}
	}
	if released > 0 {
		logger.Infow("stock_expired_locks_cleaned", "scanned", len(locks), "released", released)
	}
	return released, nil
}

// IncreaseStock 后台补货：增加持久化库存并同步计数器
func (s *StockService) IncreaseStock(ctx context.Context, productID uint, amount int64, remark string) error {
	if productID == 0 || amount <= 0 {
		return ErrInvalidStockParams
	}
	remark = strings.TrimSpace(remark)
	if remark == "" {
		remark = "后台补货"
	}
	credit := s.creditCounter(ctx, productID, amount)
	now := s.now()
	var increaseLog *models.StockLog
	err := s.productRepo.Transaction(func(tx *gorm.DB) error {
		productRepo := s.productRepo.WithTx(tx)
		product, err := productRepo.GetByID(productID)
		if err != nil {
			return err
		}
		if product == nil {
			return ErrNotFound
		}
		affected, err := productRepo.IncreaseStock(productID, amount)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		increaseLog = &models.StockLog{
			ProductID:      productID,
			BeforeQuantity: product.Stock,
			AfterQuantity:  product.Stock + amount,
			ChangeAmount:   amount,
			OperationType:  constants.StockOpIncrease,
			Synced:         !credit.failed,
			Remark:         remark,
		}
		return s.logRepo.WithTx(tx).Create(increaseLog)
	})
	if err != nil {
		s.revertCredit(ctx, productID, amount, credit)
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return storeErr(err)
	}
	s.publish(ctx, increaseLog, now)
	logger.Infow("stock_increased", "product_id", productID, "amount", amount, "durable_after", increaseLog.AfterQuantity)
	return nil
}

// GetAvailableStock 查询可售库存（计数器值，缺失时按台账播种）
func (s *StockService) GetAvailableStock(ctx context.Context, productID uint) (int64, error) {
	if productID == 0 {
		return 0, ErrInvalidStockParams
	}
	value, warm, err := s.counter.Get(ctx, productID)
	if err != nil {
		return 0, storeErr(err)
	}
	if warm {
		return value, nil
	}
	ledger, err := s.loadLedger(productID)
	if err != nil {
		return 0, err
	}
	value, _, err = s.counter.SeedAndDecrement(ctx, productID, ledger.Expected, 0, s.counterTTL)
	if err != nil {
		return 0, storeErr(err)
	}
	return value, nil
}

// GetLockedStock 查询商品当前锁定数量
func (s *StockService) GetLockedStock(productID uint) (int64, error) {
	locked, err := s.lockRepo.SumLockedByProduct(productID)
	if err != nil {
		return 0, storeErr(err)
	}
	return locked, nil
}

// GetLock 查询订单锁定记录
func (s *StockService) GetLock(orderNo string) (*models.StockLock, error) {
	lock, err := s.lockRepo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, storeErr(err)
	}
	if lock == nil {
		return nil, ErrNotFound
	}
	return lock, nil
}

// ListLocks 分页查询锁定记录
func (s *StockService) ListLocks(filter repository.StockLockListFilter) ([]models.StockLock, int64, error) {
	return s.lockRepo.List(filter)
}

// ListLogs 查询商品最近的库存流水
func (s *StockService) ListLogs(productID uint, limit int) ([]models.StockLog, error) {
	return s.logRepo.ListByProduct(productID, limit)
}

// HandleDeductRequested 处理异步扣减请求
func (s *StockService) HandleDeductRequested(ctx context.Context, payload queue.StockNotifyPayload) error {
	err := s.Finalize(ctx, payload.OrderNo)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidState):
		lock, lookupErr := s.lockRepo.GetByOrderNo(payload.OrderNo)
		if lookupErr == nil && lock != nil && lock.Status == constants.StockLockStatusDeducted {
			return nil
		}
		logger.Errorw("stock_deduct_request_lock_not_deductable", "order_no", payload.OrderNo, "reason", payload.Reason)
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInvalidStockParams):
		logger.Errorw("stock_deduct_request_rejected", "order_no", payload.OrderNo, "reason", payload.Reason, "error", err)
		return nil
	default:
		return err
	}
}

// HandleRollbackRequested 处理异步回滚请求
func (s *StockService) HandleRollbackRequested(ctx context.Context, payload queue.StockNotifyPayload) error {
	err := s.Release(ctx, payload.OrderNo)
	if err != nil && errors.Is(err, ErrInvalidStockParams) {
		logger.Warnw("stock_rollback_request_rejected", "order_no", payload.OrderNo, "error", err)
		return nil
	}
	return err
}

func (s *StockService) publish(ctx context.Context, log *models.StockLog, at time.Time) {
	if log == nil {
		return
	}
	orderNo := ""
	if log.OrderNo != nil {
		orderNo = *log.OrderNo
	}
	s.publisher.PublishStockChanged(ctx, events.StockChanged{
		ProductID: log.ProductID,
		OrderNo:   orderNo,
		Operation: log.OperationType,
		Before:    log.BeforeQuantity,
		After:     log.AfterQuantity,
		Change:    log.ChangeAmount,
		At:        at,
	})
}
