package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/provider"
	"github.com/stockpilot/internal/queue"
	"github.com/stockpilot/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskOrderTimeoutCancel, c.handleOrderTimeoutCancel)
	mux.HandleFunc(queue.TaskStockDeductRequested, c.handleStockDeductRequested)
	mux.HandleFunc(queue.TaskStockRollbackRequested, c.handleStockRollbackRequested)
}

func (c *Consumer) handleOrderTimeoutCancel(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_order_timeout_cancel_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.OrderTimeoutCancelPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_order_timeout_cancel_unmarshal_failed", "error", err)
		return err
	}
	orderNo := strings.TrimSpace(payload.OrderNo)
	if orderNo == "" {
		logger.Debugw("worker_order_timeout_cancel_skip_invalid_payload", "order_no", payload.OrderNo)
		return nil
	}
	if c.OrderService == nil {
		logger.Warnw("worker_order_timeout_cancel_skip_order_service_nil", "order_no", orderNo)
		return nil
	}
	_, err := c.OrderService.CancelExpiredOrder(ctx, orderNo)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			logger.Debugw("worker_order_timeout_cancel_skip_order_not_found", "order_no", orderNo)
			return nil
		case errors.Is(err, service.ErrStoreUnavailable):
			logger.Warnw("worker_order_timeout_cancel_store_unavailable", "order_no", orderNo, "error", err)
			return err
		default:
			logger.Warnw("worker_order_timeout_cancel_failed", "order_no", orderNo, "error", err)
			return err
		}
	}
	return nil
}

func (c *Consumer) handleStockDeductRequested(ctx context.Context, task *asynq.Task) error {
	payload, ok, err := c.decodeStockTask(task, "deduct")
	if !ok {
		return err
	}
	if err := c.StockService.HandleDeductRequested(ctx, payload); err != nil {
		logger.Warnw("worker_stock_deduct_failed", "order_no", payload.OrderNo, "error", err)
		return err
	}
	return nil
}

func (c *Consumer) handleStockRollbackRequested(ctx context.Context, task *asynq.Task) error {
	payload, ok, err := c.decodeStockTask(task, "rollback")
	if !ok {
		return err
	}
	if err := c.StockService.HandleRollbackRequested(ctx, payload); err != nil {
		logger.Warnw("worker_stock_rollback_failed", "order_no", payload.OrderNo, "error", err)
		return err
	}
	return nil
}

// decodeStockTask 解析库存请求；ok=false 时直接返回 err（nil 表示丢弃）
func (c *Consumer) decodeStockTask(task *asynq.Task, kind string) (queue.StockNotifyPayload, bool, error) {
	if c == nil || task == nil {
		logger.Debugw("worker_stock_task_skip_nil", "kind", kind, "consumer_nil", c == nil, "task_nil", task == nil)
		return queue.StockNotifyPayload{}, false, nil
	}
	payload, err := queue.DecodeStockNotifyPayload(task)
	if err != nil {
		logger.Warnw("worker_stock_task_unmarshal_failed", "kind", kind, "error", err)
		return payload, false, err
	}
	payload.OrderNo = strings.TrimSpace(payload.OrderNo)
	if payload.OrderNo == "" {
		logger.Debugw("worker_stock_task_skip_invalid_payload", "kind", kind)
		return payload, false, nil
	}
	if c.StockService == nil {
		logger.Warnw("worker_stock_task_skip_stock_service_nil", "kind", kind, "order_no", payload.OrderNo)
		return payload, false, nil
	}
	return payload, true, nil
}
