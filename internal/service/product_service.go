package service

import (
	"context"
	"strings"

	"github.com/stockpilot/internal/cache"
	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/models"
	"github.com/stockpilot/internal/repository"
)

// ProductService 商品管理
type ProductService struct {
	productRepo repository.ProductRepository
	stock       *StockService
}

// NewProductService 创建商品服务
func NewProductService(productRepo repository.ProductRepository, stock *StockService) *ProductService {
	return &ProductService{productRepo: productRepo, stock: stock}
}

// CreateProductInput 创建商品输入
type CreateProductInput struct {
	Name        string
	Description string
	Price       string
	Stock       int64
}

// ProductStockView 商品库存视图
type ProductStockView struct {
	Product   *models.Product `json:"product"`
	Durable   int64           `json:"durable"`
	Available int64           `json:"available"`
	Locked    int64           `json:"locked"`
}

// CreateProduct 创建商品（计数器在首次访问时按台账播种）
func (s *ProductService) CreateProduct(input CreateProductInput) (*models.Product, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" || input.Stock < 0 {
		return nil, ErrInvalidStockParams
	}
	price, err := models.NewMoneyFromString(strings.TrimSpace(input.Price))
	if err != nil || price.IsNegative() {
		return nil, ErrInvalidStockParams
	}
	product := &models.Product{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Price:       price,
		Stock:       input.Stock,
		Status:      constants.ProductStatusOn,
	}
	if err := s.productRepo.Create(product); err != nil {
		return nil, storeErr(err)
	}
	logger.Infow("product_created", "product_id", product.ID, "stock", product.Stock)
	return product, nil
}

// GetProductStock 查询商品与实时库存
func (s *ProductService) GetProductStock(ctx context.Context, productID uint) (*ProductStockView, error) {
	product, err := s.productRepo.GetByID(productID)
	if err != nil {
		return nil, storeErr(err)
	}
	if product == nil {
		return nil, ErrNotFound
	}
	available, err := s.stock.GetAvailableStock(ctx, productID)
	if err != nil {
		return nil, err
	}
	locked, err := s.stock.GetLockedStock(productID)
	if err != nil {
		return nil, err
	}
	return &ProductStockView{Product: product, Durable: product.Stock, Available: available, Locked: locked}, nil
}

// SetStatus 上下架，同时清理商品快照缓存
func (s *ProductService) SetStatus(ctx context.Context, productID uint, online bool) error {
	status := constants.ProductStatusOff
	if online {
		status = constants.ProductStatusOn
	}
	affected, err := s.productRepo.UpdateStatus(productID, status)
	if err != nil {
		return storeErr(err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if err := cache.DelProductSnapshot(ctx, productID); err != nil {
		logger.Warnw("product_snapshot_invalidate_failed", "product_id", productID, "error", err)
	}
	return nil
}
