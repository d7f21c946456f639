package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/models"

	"gorm.io/gorm"
)

// OrderRepository 订单数据访问接口
type OrderRepository interface {
	Create(order *models.Order) error
	GetByOrderNo(orderNo string) (*models.Order, error)
	TransitionStatus(orderNo, from, to string, updates map[string]interface{}) (int64, error)
	ListPendingExpired(now time.Time, limit int) ([]models.Order, error)
	ListUnpaidWithLockedStock(createdBefore time.Time, limit int) ([]models.Order, error)
	ListPaidWithoutDeductedStock(limit int) ([]models.Order, error)
	List(filter OrderListFilter) ([]models.Order, int64, error)
	WithTx(tx *gorm.DB) OrderRepository
}

// GormOrderRepository GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx 绑定事务
func (r *GormOrderRepository) WithTx(tx *gorm.DB) OrderRepository {
	if tx == nil {
		return r
	}
	return &GormOrderRepository{db: tx}
}

// Create 创建订单
func (r *GormOrderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

// GetByOrderNo 根据订单号获取订单，不存在返回 nil
func (r *GormOrderRepository) GetByOrderNo(orderNo string) (*models.Order, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, nil
	}
	var order models.Order
	if err := r.db.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// TransitionStatus 条件更新订单状态（仅当当前状态为 from 时生效）
func (r *GormOrderRepository) TransitionStatus(orderNo, from, to string, updates map[string]interface{}) (int64, error) {
	values := map[string]interface{}{"status": to}
	for key, value := range updates {
		values[key] = value
	}
	result := r.db.Model(&models.Order{}).
		Where("order_no = ? AND status = ?", orderNo, from).
		Updates(values)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ListPendingExpired 查询已过支付期限的待支付订单
func (r *GormOrderRepository) ListPendingExpired(now time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := r.db.Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", constants.OrderStatusPendingPayment, now).
		Order("expires_at asc, id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListUnpaidWithLockedStock 查询超过宽限期仍待支付且库存仍锁定的订单
func (r *GormOrderRepository) ListUnpaidWithLockedStock(createdBefore time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := r.db.Model(&models.Order{}).
		Select("orders.*").
		Joins("JOIN stock_locks ON stock_locks.order_no = orders.order_no").
		Where("orders.status = ? AND orders.created_at < ? AND stock_locks.status = ?",
			constants.OrderStatusPendingPayment, createdBefore, constants.StockLockStatusLocked).
		Order("orders.created_at asc, orders.id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListPaidWithoutDeductedStock 查询已支付但库存未扣减的订单
func (r *GormOrderRepository) ListPaidWithoutDeductedStock(limit int) ([]models.Order, error) {
	var orders []models.Order
	query := r.db.Model(&models.Order{}).
		Select("orders.*").
		Joins("LEFT JOIN stock_locks ON stock_locks.order_no = orders.order_no").
		Where("orders.status = ? AND (stock_locks.id IS NULL OR stock_locks.status <> ?)",
			constants.OrderStatusPaid, constants.StockLockStatusDeducted).
		Order("orders.paid_at asc, orders.id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// List 分页查询订单
func (r *GormOrderRepository) List(filter OrderListFilter) ([]models.Order, int64, error) {
	query := r.db.Model(&models.Order{})
	if filter.ProductID != 0 {
		query = query.Where("product_id = ?", filter.ProductID)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var orders []models.Order
	if err := applyPagination(query.Order("id desc"), filter.Page, filter.PageSize).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
