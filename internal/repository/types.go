package repository

import "time"

// StockLockListFilter 查询库存锁定记录的过滤条件
type StockLockListFilter struct {
	Page      int
	PageSize  int
	ProductID uint
	Status    string
	OrderNo   string
}

// OrderListFilter 查询订单列表的过滤条件
type OrderListFilter struct {
	Page        int
	PageSize    int
	ProductID   uint
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}
