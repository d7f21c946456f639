package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// StockSyncOptions 同步任务参数
type StockSyncOptions struct {
	Parallel     int
	ReplaySettle time.Duration
	BatchLimit   int
}

// StockSyncService 计数器与台账的对账同步
type StockSyncService struct {
	stock        *StockService
	parallel     int
	replaySettle time.Duration
	batchLimit   int
}

// DriftItem 计数器与台账不一致的商品
type DriftItem struct {
	ProductID uint  `json:"product_id"`
	Counter   int64 `json:"counter"`
	Durable   int64 `json:"durable"`
	Locked    int64 `json:"locked"`
	Expected  int64 `json:"expected"`
}

// FullSyncReport 全量同步结果
type FullSyncReport struct {
	Scanned   int `json:"scanned"`
	Corrected int `json:"corrected"`
	Failed    int `json:"failed"`
}

// SyncStatus 同步状态概览
type SyncStatus struct {
	UnsyncedLogs  int64            `json:"unsynced_logs"`
	SyncedToday   int64            `json:"synced_today"`
	LockCounts    map[string]int64 `json:"lock_counts"`
	Inconsistent  []DriftItem      `json:"inconsistent"`
	CheckedAt     time.Time        `json:"checked_at"`
	ReplaySettleS int              `json:"replay_settle_seconds"`
}

// NewStockSyncService 创建同步服务
func NewStockSyncService(stock *StockService, opts StockSyncOptions) *StockSyncService {
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	if opts.ReplaySettle < 0 {
		opts.ReplaySettle = 0
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = constants.DefaultCompensationBatchLimit
	}
	return &StockSyncService{
		stock:        stock,
		parallel:     opts.Parallel,
		replaySettle: opts.ReplaySettle,
		batchLimit:   opts.BatchLimit,
	}
}

// ProcessUnsyncedLogs 重放未同步到计数器的流水，返回处理条数
func (s *StockSyncService) ProcessUnsyncedLogs(ctx context.Context) (int, error) {
	cutoff := s.stock.now().Add(-s.replaySettle)
	productIDs, err := s.stock.logRepo.ListUnsyncedProductIDs(cutoff, s.batchLimit)
	if err != nil {
		return 0, storeErr(err)
	}
	processed := 0
	for _, productID := range productIDs {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		count, err := s.replayProduct(ctx, productID, cutoff)
		processed += count
		if err != nil {
			logger.Warnw("stock_log_replay_failed", "product_id", productID, "processed", count, "error", err)
		}
	}
	if processed > 0 {
		logger.Infow("stock_unsynced_logs_processed", "products", len(productIDs), "processed", processed)
	}
	return processed, nil
}

func (s *StockSyncService) replayProduct(ctx context.Context, productID uint, cutoff time.Time) (int, error) {
	logs, err := s.stock.logRepo.ListUnsyncedByProduct(productID, cutoff)
	if err != nil {
		return 0, storeErr(err)
	}
	if len(logs) == 0 {
		return 0, nil
	}
	warm, err := s.stock.counter.Exists(ctx, productID)
	if err != nil {
		return 0, storeErr(err)
	}
	if !warm {
		ids := make([]uint, 0, len(logs))
		for _, item := range logs {
			ids = append(ids, item.ID)
		}
		return len(ids), s.seedAndMark(ctx, productID, ids)
	}

	processed := 0
	for idx, item := range logs {
		if item.ChangeAmount != 0 {
			_, existed, err := s.stock.counter.IncrementIfExists(ctx, productID, item.ChangeAmount)
			if err != nil {
				return processed, storeErr(err)
			}
			if !existed {
				// 计数器在重放中途过期，剩余流水已体现在台账中
				ids := make([]uint, 0, len(logs)-idx)
				for _, rest := range logs[idx:] {
					ids = append(ids, rest.ID)
				}
				return processed + len(ids), s.seedAndMark(ctx, productID, ids)
			}
		}
		if err := s.stock.logRepo.MarkSynced(item.ID); err != nil {
			return processed, storeErr(err)
		}
		processed++
	}
	return processed, nil
}

// seedAndMark 计数器缺失时按台账播种，并将流水标记为已同步
func (s *StockSyncService) seedAndMark(ctx context.Context, productID uint, ids []uint) error {
	ledger, err := s.stock.loadLedger(productID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	default:
		if _, _, err := s.stock.counter.SeedAndDecrement(ctx, productID, ledger.Expected, 0, s.stock.counterTTL); err != nil {
			return storeErr(err)
		}
	}
	if err := s.stock.logRepo.MarkSynced(ids...); err != nil {
		return storeErr(err)
	}
	return nil
}

// SyncProduct 手动校准单个商品
func (s *StockSyncService) SyncProduct(ctx context.Context, productID uint) (*SyncResult, error) {
	return s.stock.SyncCounterFromLedger(ctx, productID)
}

// SyncAll 全量对账：发现漂移的商品以台账为准重置计数器
func (s *StockSyncService) SyncAll(ctx context.Context) (*FullSyncReport, error) {
	productIDs, err := s.stock.productRepo.ListIDs()
	if err != nil {
		return nil, storeErr(err)
	}
	report := &FullSyncReport{Scanned: len(productIDs)}
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.parallel)
	for _, productID := range productIDs {
		group.Go(func() error {
			corrected, err := s.reconcileProduct(groupCtx, productID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				logger.Warnw("stock_full_sync_product_failed", "product_id", productID, "error", err)
				return nil
			}
			if corrected {
				report.Corrected++
			}
			return nil
		})
	}
	_ = group.Wait()
	logger.Infow("stock_full_sync_done", "scanned", report.Scanned, "corrected", report.Corrected, "failed", report.Failed)
	return report, ctx.Err()
}

// reconcileProduct 两次观测到相同漂移才校准，避免覆盖进行中的预占
func (s *StockSyncService) reconcileProduct(ctx context.Context, productID uint) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	drift, err := s.detectDrift(ctx, productID)
	if err != nil || drift == nil {
		return false, err
	}
	confirm, err := s.detectDrift(ctx, productID)
	if err != nil || confirm == nil {
		return false, err
	}
	if confirm.Counter != drift.Counter || confirm.Expected != drift.Expected {
		logger.Debugw("stock_drift_unstable_skip", "product_id", productID, "first_counter", drift.Counter, "second_counter", confirm.Counter)
		return false, nil
	}
	logger.Warnw("stock_drift_detected", "product_id", productID, "counter", drift.Counter, "durable", drift.Durable, "locked", drift.Locked, "expected", drift.Expected)
	metrics.ObserveDrift()
	if _, err := s.stock.SyncCounterFromLedger(ctx, productID); err != nil {
		return false, err
	}
	return true, nil
}

// detectDrift 计数器缺失视为一致（下次访问按台账播种）
func (s *StockSyncService) detectDrift(ctx context.Context, productID uint) (*DriftItem, error) {
	value, warm, err := s.stock.counter.Get(ctx, productID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !warm {
		return nil, nil
	}
	ledger, err := s.stock.loadLedger(productID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if value == ledger.Expected {
		return nil, nil
	}
	return &DriftItem{
		ProductID: productID,
		Counter:   value,
		Durable:   ledger.Durable,
		Locked:    ledger.Locked,
		Expected:  ledger.Expected,
	}, nil
}

// CheckConsistency 只读一致性巡检
func (s *StockSyncService) CheckConsistency(ctx context.Context) ([]DriftItem, error) {
	productIDs, err := s.stock.productRepo.ListIDs()
	if err != nil {
		return nil, storeErr(err)
	}
	items := make([]DriftItem, 0)
	for _, productID := range productIDs {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}
		drift, err := s.detectDrift(ctx, productID)
		if err != nil {
			logger.Warnw("stock_consistency_check_failed", "product_id", productID, "error", err)
			continue
		}
		if drift != nil {
			items = append(items, *drift)
			logger.Warnw("stock_inconsistent", "product_id", productID, "counter", drift.Counter, "expected", drift.Expected)
		}
	}
	logger.Infow("stock_consistency_checked", "products", len(productIDs), "inconsistent", len(items))
	return items, nil
}

// Status 同步状态概览
func (s *StockSyncService) Status(ctx context.Context) (*SyncStatus, error) {
	now := s.stock.now()
	unsynced, err := s.stock.logRepo.CountUnsynced()
	if err != nil {
		return nil, storeErr(err)
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	syncedToday, err := s.stock.logRepo.CountByOperationSince(constants.StockOpSync, dayStart)
	if err != nil {
		return nil, storeErr(err)
	}
	lockCounts, err := s.stock.lockRepo.CountByStatus()
	if err != nil {
		return nil, storeErr(err)
	}
	inconsistent, err := s.CheckConsistency(ctx)
	if err != nil {
		return nil, err
	}
	return &SyncStatus{
		UnsyncedLogs:  unsynced,
		SyncedToday:   syncedToday,
		LockCounts:    lockCounts,
		Inconsistent:  inconsistent,
		CheckedAt:     now,
		ReplaySettleS: int(s.replaySettle / time.Second),
	}, nil
}
