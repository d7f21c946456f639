package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/models"

	"gorm.io/gorm"
)

// StockLockRepository 库存锁定记录数据访问接口
type StockLockRepository interface {
	Create(lock *models.StockLock) error
	GetByOrderNo(orderNo string) (*models.StockLock, error)
	TransitionFromLocked(orderNo, target string, at time.Time, remark string) (int64, error)
	ListExpiredLocked(now time.Time, limit int) ([]models.StockLock, error)
	SumLockedByProduct(productID uint) (int64, error)
	CountByStatus() (map[string]int64, error)
	List(filter StockLockListFilter) ([]models.StockLock, int64, error)
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) StockLockRepository
}

// GormStockLockRepository GORM 实现
type GormStockLockRepository struct {
	db *gorm.DB
}

// NewStockLockRepository 创建库存锁定仓库
func NewStockLockRepository(db *gorm.DB) *GormStockLockRepository {
	return &GormStockLockRepository{db: db}
}

// WithTx 绑定事务
func (r *GormStockLockRepository) WithTx(tx *gorm.DB) StockLockRepository {
	if tx == nil {
		return r
	}
	return &GormStockLockRepository{db: tx}
}

// Transaction 执行事务
func (r *GormStockLockRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// Create 创建锁定记录
func (r *GormStockLockRepository) Create(lock *models.StockLock) error {
	return r.db.Create(lock).Error
}

// GetByOrderNo 根据订单号获取锁定记录，不存在返回 nil
func (r *GormStockLockRepository) GetByOrderNo(orderNo string) (*models.StockLock, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, nil
	}
	var lock models.StockLock
	if err := r.db.Where("order_no = ?", orderNo).First(&lock).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lock, nil
}

// TransitionFromLocked 将 LOCKED 状态的记录迁移到终态，返回影响行数（0 表示已被其他流程处理）
func (r *GormStockLockRepository) TransitionFromLocked(orderNo, target string, at time.Time, remark string) (int64, error) {
	if target != constants.StockLockStatusReleased && target != constants.StockLockStatusDeducted {
		return 0, errors.New("invalid stock lock target status")
	}
	result := r.db.Model(&models.StockLock{}).
		Where("order_no = ? AND status = ?", orderNo, constants.StockLockStatusLocked).
		Updates(map[string]interface{}{
			"status":       target,
			"release_time": at,
			"remark":       remark,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ListExpiredLocked 查询已过期但仍为 LOCKED 的记录
func (r *GormStockLockRepository) ListExpiredLocked(now time.Time, limit int) ([]models.StockLock, error) {
	var locks []models.StockLock
	query := r.db.Where("status = ? AND expire_time < ?", constants.StockLockStatusLocked, now).
		Order("expire_time asc, id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&locks).Error; err != nil {
		return nil, err
	}
	return locks, nil
}

// SumLockedByProduct 统计商品当前 LOCKED 数量总和
func (r *GormStockLockRepository) SumLockedByProduct(productID uint) (int64, error) {
	var total int64
	err := r.db.Model(&models.StockLock{}).
		Where("product_id = ? AND status = ?", productID, constants.StockLockStatusLocked).
		Select("COALESCE(SUM(locked_quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CountByStatus 按状态统计锁定记录数量
func (r *GormStockLockRepository) CountByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := r.db.Model(&models.StockLock{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, item := range rows {
		counts[item.Status] = item.Total
	}
	return counts, nil
}

// List 分页查询锁定记录
func (r *GormStockLockRepository) List(filter StockLockListFilter) ([]models.StockLock, int64, error) {
	query := r.db.Model(&models.StockLock{})
	if filter.ProductID != 0 {
		query = query.Where("product_id = ?", filter.ProductID)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if orderNo := strings.TrimSpace(filter.OrderNo); orderNo != "" {
		query = query.Where("order_no = ?", orderNo)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var locks []models.StockLock
	if err := applyPagination(query.Order("id desc"), filter.Page, filter.PageSize).Find(&locks).Error; err != nil {
		return nil, 0, err
	}
	return locks, total, nil
}
