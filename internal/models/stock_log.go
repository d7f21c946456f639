package models

import (
	"time"
)

// StockLog 库存变动流水（仅 synced 字段允许更新）
type StockLog struct {
	ID             uint      `gorm:"primarykey" json:"id"`                                 // 主键
	ProductID      uint      `gorm:"index:idx_stock_log_product_synced;not null" json:"product_id"` // 商品ID
	BeforeQuantity int64     `gorm:"not null" json:"before_quantity"`                      // 变动前数量
	AfterQuantity  int64     `gorm:"not null" json:"after_quantity"`                       // 变动后数量
	ChangeAmount   int64     `gorm:"not null" json:"change_amount"`                        // 变动量（带符号）
	OperationType  string    `gorm:"type:varchar(16);index;not null" json:"operation_type"` // LOCK / DEDUCT / ROLLBACK / INCREASE / SYNC
	OrderNo        *string   `gorm:"type:varchar(64);index" json:"order_no,omitempty"`     // 关联订单编号
	Synced         bool      `gorm:"index:idx_stock_log_product_synced;not null;default:false" json:"synced"` // 是否已同步到计数器
	Remark         string    `gorm:"type:varchar(255)" json:"remark"`                      // 备注
	CreatedAt      time.Time `gorm:"index" json:"created_at"`                              // 创建时间
}

// TableName 指定表名
func (StockLog) TableName() string {
	return "stock_logs"
}
