package models

import (
	"github.com/stockpilot/internal/constants"
	"github.com/stockpilot/internal/logger"

	"github.com/shopspring/decimal"
)

// SeedProduct 初始化演示商品
type SeedProduct struct {
	Name        string
	Description string
	Price       string
	Stock       int64
}

// DefaultSeedProducts 默认秒杀商品
func DefaultSeedProducts() []SeedProduct {
	return []SeedProduct{
		{Name: "限量款机械键盘", Description: "秒杀专场", Price: "299.00", Stock: 100},
		{Name: "降噪耳机", Description: "秒杀专场", Price: "899.00", Stock: 50},
		{Name: "运动水杯", Description: "秒杀专场", Price: "39.90", Stock: 500},
	}
}

// InitSeedProducts 商品表为空时写入演示数据
func InitSeedProducts(items []SeedProduct) (int, error) {
	var count int64
	if err := DB.Model(&Product{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		logger.Infow("seed_products_skip_existing", "count", count)
		return 0, nil
	}
	created := 0
	for _, item := range items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return created, err
		}
		product := Product{
			Name:        item.Name,
			Description: item.Description,
			Price:       NewMoneyFromDecimal(price),
			Stock:       item.Stock,
			Status:      constants.ProductStatusOn,
		}
		if err := DB.Create(&product).Error; err != nil {
			return created, err
		}
		created++
		logger.Infow("seed_product_created", "product_id", product.ID, "name", product.Name, "stock", product.Stock)
	}
	return created, nil
}
