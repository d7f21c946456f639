package models

import (
	"time"

	"github.com/stockpilot/internal/constants"
)

// StockLock 库存锁定记录（每个订单至多一条，永不删除）
type StockLock struct {
	ID             uint       `gorm:"primarykey" json:"id"`                                        // 主键
	ProductID      uint       `gorm:"index;not null" json:"product_id"`                            // 商品ID
	OrderNo        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`       // 订单编号（唯一）
	LockedQuantity int64      `gorm:"not null" json:"locked_quantity"`                             // 锁定数量
	Status         string     `gorm:"type:varchar(16);index:idx_stock_lock_status_expire;not null" json:"status"` // LOCKED / RELEASED / DEDUCTED
	ExpireTime     time.Time  `gorm:"index:idx_stock_lock_status_expire;not null" json:"expire_time"` // 锁定过期时间
	ReleaseTime    *time.Time `json:"release_time"`                                                // 离开 LOCKED 的时间
	Remark         string     `gorm:"type:varchar(255)" json:"remark"`                             // 备注
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`                                     // 创建时间
	UpdatedAt      time.Time  `json:"updated_at"`                                                  // 更新时间
}

// TableName 指定表名
func (StockLock) TableName() string {
	return "stock_locks"
}

// IsLocked 是否仍处于锁定状态
func (l *StockLock) IsLocked() bool {
	return l != nil && l.Status == constants.StockLockStatusLocked
}

// IsExpired 是否已超过过期时间
func (l *StockLock) IsExpired(now time.Time) bool {
	return l != nil && now.After(l.ExpireTime)
}
