package models

import (
	"time"
)

// Order 订单表
type Order struct {
	ID           uint       `gorm:"primarykey" json:"id"`                                     // 主键
	OrderNo      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`    // 订单编号
	ProductID    uint       `gorm:"index;not null" json:"product_id"`                         // 商品ID
	ProductName  string     `gorm:"type:varchar(200)" json:"product_name"`                    // 下单时商品名称
	ProductPrice Money      `gorm:"type:decimal(20,2);not null;default:0" json:"product_price"` // 下单时单价
	Quantity     int64      `gorm:"not null" json:"quantity"`                                 // 购买数量
	TotalAmount  Money      `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"` // 订单金额
	Status       string     `gorm:"type:varchar(32);index;not null" json:"status"`            // 订单状态
	ExpiresAt    *time.Time `gorm:"index" json:"expires_at"`                                  // 支付过期时间
	PaidAt       *time.Time `gorm:"index" json:"paid_at"`                                     // 支付时间
	CanceledAt   *time.Time `json:"canceled_at"`                                              // 取消时间
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`                                  // 创建时间
	UpdatedAt    time.Time  `json:"updated_at"`                                               // 更新时间
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
