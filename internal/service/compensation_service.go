package service

import (
	"context"
	"errors"
	"time"

	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/repository"
)

// CompensationReport 补偿任务执行结果
type CompensationReport struct {
	Task     string `json:"task"`
	Scanned  int    `json:"scanned"`
	Resolved int    `json:"resolved"`
	Failed   int    `json:"failed"`
}

// CompensationService 处理卡在中间态的订单
type CompensationService struct {
	stock       *StockService
	orderRepo   repository.OrderRepository
	unpaidGrace time.Duration
	batchLimit  int
}

// NewCompensationService 创建补偿服务
func NewCompensationService(stock *StockService, orderRepo repository.OrderRepository, unpaidGrace time.Duration, batchLimit int) *CompensationService {
	if unpaidGrace <= 0 {
		unpaidGrace = time.Duration(constants.DefaultUnpaidGraceMinutes) * time.Minute
	}
	if batchLimit <= 0 {
		batchLimit = constants.DefaultCompensationBatchLimit
	}
	return &CompensationService{
		stock:       stock,
		orderRepo:   orderRepo,
		unpaidGrace: unpaidGrace,
		batchLimit:  batchLimit,
	}
}

// CompensateUnpaidOrders 超过宽限期仍未支付且库存仍锁定的订单：释放库存并取消
func (s *CompensationService) CompensateUnpaidOrders(ctx context.Context) (*CompensationReport, error) {
	now := s.stock.now()
	orders, err := s.orderRepo.ListUnpaidWithLockedStock(now.Add(-s.unpaidGrace), s.batchLimit)
	if err != nil {
		return nil, storeErr(err)
	}
	report := &CompensationReport{Task: constants.ReconcileTaskUnpaidOrders, Scanned: len(orders)}
	for _, order := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		deducted, err := s.stock.releaseForCancel(ctx, order.OrderNo, "未支付订单补偿释放")
		if err != nil {
			report.Failed++
			logger.Warnw("compensation_unpaid_release_failed", "order_no", order.OrderNo, "error", err)
			continue
		}
		if deducted {
			// 支付扣减抢先完成，订单按已支付落状态
			if _, err := s.orderRepo.TransitionStatus(order.OrderNo, constants.OrderStatusPendingPayment, constants.OrderStatusPaid, map[string]interface{}{
				"paid_at": now,
			}); err != nil {
				report.Failed++
				logger.Warnw("compensation_unpaid_mark_paid_failed", "order_no", order.OrderNo, "error", err)
				continue
			}
			logger.Warnw("compensation_unpaid_found_deducted", "order_no", order.OrderNo)
			report.Resolved++
			continue
		}
		affected, err := s.orderRepo.TransitionStatus(order.OrderNo, constants.OrderStatusPendingPayment, constants.OrderStatusCanceled, map[string]interface{}{
			"canceled_at": now,
		})
		if err != nil {
			report.Failed++
			logger.Warnw("compensation_unpaid_cancel_failed", "order_no", order.OrderNo, "error", err)
			continue
		}
		if affected == 0 {
			logger.Debugw("compensation_unpaid_status_changed", "order_no", order.OrderNo)
		}
		report.Resolved++
	}
	if report.Scanned > 0 {
		logger.Infow("compensation_unpaid_done", "scanned", report.Scanned, "resolved", report.Resolved, "failed", report.Failed)
	}
	return report, nil
}

// CompensatePaidUndeducted 已支付但库存未扣减的订单：补做扣减
func (s *CompensationService) CompensatePaidUndeducted(ctx context.Context) (*CompensationReport, error) {
	orders, err := s.orderRepo.ListPaidWithoutDeductedStock(s.batchLimit)
	if err != nil {
		return nil, storeErr(err)
	}
	report := &CompensationReport{Task: constants.ReconcileTaskPaidUndeducted, Scanned: len(orders)}
	for _, order := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		err := s.stock.Finalize(ctx, order.OrderNo)
		switch {
		case err == nil:
			report.Resolved++
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotFound), errors.Is(err, ErrInsufficientStock):
			report.Failed++
			logger.Errorw("compensation_paid_order_needs_manual_review", "order_no", order.OrderNo, "product_id", order.ProductID, "quantity", order.Quantity, "error", err)
		default:
			report.Failed++
			logger.Warnw("compensation_paid_finalize_failed", "order_no", order.OrderNo, "error", err)
		}
	}
	if report.Scanned > 0 {
		logger.Infow("compensation_paid_undeducted_done", "scanned", report.Scanned, "resolved", report.Resolved, "failed", report.Failed)
	}
	return report, nil
}
