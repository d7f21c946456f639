package repository

import (
	"time"

	"github.com/stockpilot/internal/models"

	"gorm.io/gorm"
)

// StockLogRepository 库存流水数据访问接口
type StockLogRepository interface {
	Create(log *models.StockLog) error
	MarkSynced(ids ...uint) error
	ListUnsyncedProductIDs(createdBefore time.Time, limit int) ([]uint, error)
	ListUnsyncedByProduct(productID uint, createdBefore time.Time) ([]models.StockLog, error)
	CountUnsynced() (int64, error)
	CountByOperationSince(operation string, since time.Time) (int64, error)
	ListByProduct(productID uint, limit int) ([]models.StockLog, error)
	WithTx(tx *gorm.DB) StockLogRepository
}

// GormStockLogRepository GORM 实现
type GormStockLogRepository struct {
	db *gorm.DB
}

// NewStockLogRepository 创建库存流水仓库
func NewStockLogRepository(db *gorm.DB) *GormStockLogRepository {
	return &GormStockLogRepository{db: db}
}

// WithTx 绑定事务
func (r *GormStockLogRepository) WithTx(tx *gorm.DB) StockLogRepository {
	if tx == nil {
		return r
	}
	return &GormStockLogRepository{db: tx}
}

// Create 追加流水
func (r *GormStockLogRepository) Create(log *models.StockLog) error {
	return r.db.Create(log).Error
}

// MarkSynced 标记流水已同步到计数器
func (r *GormStockLogRepository) MarkSynced(ids ...uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&models.StockLog{}).
		Where("id IN ? AND synced = ?", ids, false).
		Update("synced", true).Error
}

// ListUnsyncedProductIDs 查询在 createdBefore 之前存在未同步流水的商品
func (r *GormStockLogRepository) ListUnsyncedProductIDs(createdBefore time.Time, limit int) ([]uint, error) {
	var ids []uint
	query := r.db.Model(&models.StockLog{}).
		Where("synced = ? AND created_at < ?", false, createdBefore).
		Distinct().
		Order("product_id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("product_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListUnsyncedByProduct 按创建顺序返回商品在 createdBefore 之前的未同步流水
func (r *GormStockLogRepository) ListUnsyncedByProduct(productID uint, createdBefore time.Time) ([]models.StockLog, error) {
	var logs []models.StockLog
	err := r.db.Where("product_id = ? AND synced = ? AND created_at < ?", productID, false, createdBefore).
		Order("created_at asc, id asc").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// CountUnsynced 未同步流水数量
func (r *GormStockLogRepository) CountUnsynced() (int64, error) {
	var count int64
	if err := r.db.Model(&models.StockLog{}).Where("synced = ?", false).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountByOperationSince 统计指定时间后某类操作的流水数量
func (r *GormStockLogRepository) CountByOperationSince(operation string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.StockLog{}).
		Where("operation_type = ? AND created_at >= ?", operation, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListByProduct 查询商品最近的流水
func (r *GormStockLogRepository) ListByProduct(productID uint, limit int) ([]models.StockLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []models.StockLog
	err := r.db.Where("product_id = ?", productID).
		Order("id desc").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
