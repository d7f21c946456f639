package main

import (
	"flag"
	"fmt"

	"github.com/stockpilot/internal/config"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/models"
)

func main() {
	var name string
	var price string
	var stock int64
	flag.StringVar(&name, "name", "", "追加一个商品名称（为空时写入默认示例商品）")
	flag.StringVar(&price, "price", "9.90", "追加商品单价")
	flag.Int64Var(&stock, "stock", 100, "追加商品库存")
	flag.Parse()

	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	items := models.DefaultSeedProducts()
	if name != "" {
		items = []models.SeedProduct{{Name: name, Price: price, Stock: stock}}
	}
	created, err := models.InitSeedProducts(items)
	if err != nil {
		stdLog.Fatalf("Failed to seed products: %v", err)
	}
	fmt.Printf("seeded %d products\n", created)
}
