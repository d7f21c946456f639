package repository

import (
	"errors"

	"github.com/stockpilot/internal/models"

	"gorm.io/gorm"
)

// ProductRepository 商品及持久化库存数据访问接口
type ProductRepository interface {
	GetByID(id uint) (*models.Product, error)
	ListIDs() ([]uint, error)
	Create(product *models.Product) error
	UpdateStatus(productID uint, status int) (int64, error)
	CompareAndSetStock(productID uint, expected, next int64) (int64, error)
	IncreaseStock(productID uint, amount int64) (int64, error)
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) ProductRepository
}

// GormProductRepository GORM 实现
type GormProductRepository struct {
	db *gorm.DB
}

// NewProductRepository 创建商品仓库
func NewProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// WithTx 绑定事务
func (r *GormProductRepository) WithTx(tx *gorm.DB) ProductRepository {
	if tx == nil {
		return r
	}
	return &GormProductRepository{db: tx}
}

// Transaction 执行事务
func (r *GormProductRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// GetByID 根据 ID 获取商品，不存在返回 nil
func (r *GormProductRepository) GetByID(id uint) (*models.Product, error) {
	if id == 0 {
		return nil, nil
	}
	var product models.Product
	if err := r.db.First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// ListIDs 返回全部商品 ID
func (r *GormProductRepository) ListIDs() ([]uint, error) {
	var ids []uint
	if err := r.db.Model(&models.Product{}).Order("id asc").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// Create 创建商品
func (r *GormProductRepository) Create(product *models.Product) error {
	return r.db.Create(product).Error
}

// UpdateStatus 更新上下架状态
func (r *GormProductRepository) UpdateStatus(productID uint, status int) (int64, error) {
	result := r.db.Model(&models.Product{}).Where("id = ?", productID).Update("status", status)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CompareAndSetStock 库存值等于 expected 时写入 next，返回影响行数
func (r *GormProductRepository) CompareAndSetStock(productID uint, expected, next int64) (int64, error) {
	if productID == 0 || next < 0 {
		return 0, errors.New("invalid stock compare-and-set params")
	}
	result := r.db.Model(&models.Product{}).
		Where("id = ? AND stock = ?", productID, expected).
		Updates(map[string]interface{}{
			"stock":   next,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// IncreaseStock 增加持久化库存
func (r *GormProductRepository) IncreaseStock(productID uint, amount int64) (int64, error) {
	if productID == 0 || amount <= 0 {
		return 0, errors.New("invalid stock increase params")
	}
	result := r.db.Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{
			"stock":   gorm.Expr("stock + ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
