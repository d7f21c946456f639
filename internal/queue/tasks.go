package queue

import (
	"encoding/json"

	"github.com/stockpilot/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskOrderTimeoutCancel 超时取消任务
	TaskOrderTimeoutCancel = constants.TaskOrderTimeoutCancel
	// TaskStockDeductRequested 库存扣减请求
	TaskStockDeductRequested = constants.TaskStockDeductRequested
	// TaskStockRollbackRequested 库存回滚请求
	TaskStockRollbackRequested = constants.TaskStockRollbackRequested
)

// OrderTimeoutCancelPayload 超时取消任务载荷
type OrderTimeoutCancelPayload struct {
	OrderNo string `json:"order_no"`
}

// StockNotifyPayload 库存扣减/回滚请求载荷
type StockNotifyPayload struct {
	OrderNo   string `json:"order_no"`
	ProductID uint   `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

// NewOrderTimeoutCancelTask 创建超时取消任务
func NewOrderTimeoutCancelTask(payload OrderTimeoutCancelPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderTimeoutCancel, body), nil
}

// NewStockDeductRequestedTask 创建库存扣减请求任务
func NewStockDeductRequestedTask(payload StockNotifyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockDeductRequested, body), nil
}

// NewStockRollbackRequestedTask 创建库存回滚请求任务
func NewStockRollbackRequestedTask(payload StockNotifyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockRollbackRequested, body), nil
}

// DecodeStockNotifyPayload 解析库存请求载荷
func DecodeStockNotifyPayload(task *asynq.Task) (StockNotifyPayload, error) {
	var payload StockNotifyPayload
	err := json.Unmarshal(task.Payload(), &payload)
	return payload, err
}
