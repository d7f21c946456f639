package events

import (
	"context"
	"time"
)

// StockChanged 库存变动事件
type StockChanged struct {
	ProductID uint      `json:"product_id"`
	OrderNo   string    `json:"order_no,omitempty"`
	Operation string    `json:"operation"`
	Before    int64     `json:"before"`
	After     int64     `json:"after"`
	Change    int64     `json:"change"`
	At        time.Time `json:"at"`
}

// Publisher 库存事件发布接口（尽力而为，失败不影响主流程）
type Publisher interface {
	PublishStockChanged(ctx context.Context, event StockChanged)
}

// NopPublisher 未启用事件流时使用
type NopPublisher struct{}

// PublishStockChanged 丢弃事件
func (NopPublisher) PublishStockChanged(context.Context, StockChanged) {}
