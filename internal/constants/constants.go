package constants

// 订单状态常量
const (
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusPaid           = "paid"
	OrderStatusCanceled       = "canceled"
)

// 商品上下架状态
const (
	ProductStatusOff = 0
	ProductStatusOn  = 1
)

// 库存锁定状态
const (
	StockLockStatusLocked   = "LOCKED"
	StockLockStatusReleased = "RELEASED"
	StockLockStatusDeducted = "DEDUCTED"
)

// 库存流水操作类型
const (
	StockOpLock     = "LOCK"
	StockOpDeduct   = "DEDUCT"
	StockOpRollback = "ROLLBACK"
	StockOpIncrease = "INCREASE"
	StockOpSync     = "SYNC"
)

// 库存相关默认值
const (
	DefaultStockLockTTLMinutes    = 30
	DefaultStockCounterTTLHours   = 24
	DefaultPaymentExpireMinutes   = 15
	DefaultUnpaidGraceMinutes     = 30
	DefaultCompensationBatchLimit = 200
)

// 缓存键
const (
	CacheKeyStockCounter = "stock"
)

// 队列名称
const (
	QueueDefault  = "default"
	QueueCritical = "critical"
)

// 异步任务类型
const (
	TaskOrderTimeoutCancel     = "order:timeout_cancel"
	TaskStockDeductRequested   = "stock:deduct_requested"
	TaskStockRollbackRequested = "stock:rollback_requested"
)

// 对账任务名称
const (
	ReconcileTaskCleanExpiredLocks   = "clean_expired_locks"
	ReconcileTaskUnpaidOrders        = "compensate_unpaid_orders"
	ReconcileTaskPaidUndeducted      = "compensate_paid_undeducted"
	ReconcileTaskProcessUnsyncedLogs = "process_unsynced_logs"
	ReconcileTaskFullSync            = "full_sync"
	ReconcileTaskTimeoutOrders       = "timeout_orders"
	ReconcileTaskConsistencyCheck    = "consistency_check"
)
