package models

import (
	"time"
)

// Product 商品表（stock 为持久化库存，权威数据源）
type Product struct {
	ID          uint      `gorm:"primarykey" json:"id"`                                      // 主键
	Name        string    `gorm:"type:varchar(200);not null" json:"name"`                    // 商品名称
	Description string    `gorm:"type:text" json:"description"`                              // 商品描述
	Price       Money     `gorm:"type:decimal(20,2);not null;default:0" json:"price"`        // 单价
	Stock       int64     `gorm:"not null;default:0" json:"stock"`                           // 持久化库存
	Status      int       `gorm:"not null;default:1;index" json:"status"`                    // 状态（1 上架 / 0 下架）
	Version     int64     `gorm:"not null;default:0" json:"version"`                         // 库存版本号（每次写库存递增）
	CreatedAt   time.Time `gorm:"index" json:"created_at"`                                   // 创建时间
	UpdatedAt   time.Time `json:"updated_at"`                                                // 更新时间
}

// TableName 指定表名
func (Product) TableName() string {
	return "products"
}
