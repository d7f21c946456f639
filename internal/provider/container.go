package provider

import (
	"time"

	"github.com/stockpilot/internal/cache"
	"github.com/stockpilot/internal/config"
	"github.com/stockpilot/internal/events"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/models"
	"github.com/stockpilot/internal/queue"
	"github.com/stockpilot/internal/repository"
	"github.com/stockpilot/internal/service"

	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config         *config.Config
	QueueClient    *queue.Client
	Counter        cache.CounterStore
	Publisher      events.Publisher
	KafkaPublisher *events.KafkaPublisher
	LocalNotifier  *queue.LocalNotifier
	Notifier       queue.Notifier

	// Repositories
	ProductRepo   repository.ProductRepository
	OrderRepo     repository.OrderRepository
	StockLockRepo repository.StockLockRepository
	StockLogRepo  repository.StockLogRepository

	// Services
	StockService        *service.StockService
	StockSyncService    *service.StockSyncService
	CompensationService *service.CompensationService
	OrderService        *service.OrderService
	ProductService      *service.ProductService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存，不可用时库存计数器退回进程内实现
	var counter cache.CounterStore
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}
	if cache.Enabled() {
		counter = cache.NewRedisCounter(cache.Client(), cache.Prefix())
	} else {
		logger.Warnw("provider_stock_counter_in_memory", "reason", "redis disabled")
		counter = cache.NewMemoryCounter()
	}
	return Build(cfg, models.DB, counter)
}

// Build 使用给定的数据库与计数器组装容器
func Build(cfg *config.Config, db *gorm.DB, counter cache.CounterStore) *Container {
	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient, _ = queue.NewClient(nil)
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		Counter:     counter,
		Publisher:   events.NopPublisher{},
	}
	if cfg.Kafka.Enabled {
		publisher, err := events.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			logger.Warnw("provider_init_kafka_failed", "error", err)
		} else {
			c.KafkaPublisher = publisher
			c.Publisher = publisher
		}
	}
	c.LocalNotifier = queue.NewLocalNotifier(cfg.Queue.LocalBuffer)
	c.Notifier = queue.NewAsynqNotifier(queueClient, c.LocalNotifier)

	// 1. 初始化 Repositories
	c.initRepositories(db)

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories(db *gorm.DB) {
	c.ProductRepo = repository.NewProductRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
	c.StockLockRepo = repository.NewStockLockRepository(db)
	c.StockLogRepo = repository.NewStockLogRepository(db)
}

func (c *Container) initServices() {
	cfg := c.Config
	c.StockService = service.NewStockService(c.ProductRepo, c.StockLockRepo, c.StockLogRepo, c.Counter, service.StockServiceOptions{
		LockTTL:         time.Duration(cfg.Stock.LockTTLMinutes) * time.Minute,
		CounterTTL:      time.Duration(cfg.Stock.CounterTTLHours) * time.Hour,
		SweepBatchLimit: cfg.Stock.SweepBatchLimit,
		Publisher:       c.Publisher,
	})
	c.LocalNotifier.Bind(c.StockService)
	c.StockSyncService = service.NewStockSyncService(c.StockService, service.StockSyncOptions{
		Parallel:     cfg.Stock.ReconcileParallel,
		ReplaySettle: time.Duration(cfg.Stock.ReplaySettleSecs) * time.Second,
		BatchLimit:   cfg.Stock.SweepBatchLimit,
	})
	c.CompensationService = service.NewCompensationService(
		c.StockService,
		c.OrderRepo,
		time.Duration(cfg.Order.UnpaidGraceMinutes)*time.Minute,
		cfg.Stock.SweepBatchLimit,
	)
	c.OrderService = service.NewOrderService(c.OrderRepo, c.ProductRepo, c.StockService, c.QueueClient, c.Notifier, cfg.Order.PaymentExpireMinutes)
	c.ProductService = service.NewProductService(c.ProductRepo, c.StockService)
}
