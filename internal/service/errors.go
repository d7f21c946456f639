package service

import "errors"

// 库存协调器错误
var (
	ErrNotFound           = errors.New("stock record not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidState       = errors.New("stock lock not in LOCKED state")
	ErrStoreUnavailable   = errors.New("stock store unavailable")
	ErrInvalidStockParams = errors.New("invalid stock params")
)

// 订单流程错误
var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderStatusInvalid  = errors.New("order status invalid")
	ErrOrderExpired        = errors.New("order expired")
	ErrProductNotAvailable = errors.New("product not available")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidOrderNo      = errors.New("invalid order no")
)
