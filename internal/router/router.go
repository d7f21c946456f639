package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stockpilot/internal/cache"
	"github.com/stockpilot/internal/config"
	adminhandlers "github.com/stockpilot/internal/http/handlers/admin"
	publichandlers "github.com/stockpilot/internal/http/handlers/public"
	"github.com/stockpilot/internal/http/response"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/provider"
	"github.com/stockpilot/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container, reconciler *worker.Reconciler) *gin.Engine {
	log := logger.Z()
	r := gin.New()

	// 初始化 Handler（按前台/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c, reconciler)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "sp"
	}
	orderRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:order", redisPrefix),
		WindowSeconds: cfg.Security.OrderRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.OrderRateLimit.MaxRequests,
		Message:       "下单过于频繁，请稍后再试",
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 公开接口
		apiV1.GET("/products/:id/stock", publicHandler.GetProductStock)
		apiV1.POST("/orders", RateLimitMiddleware(cache.Client(), orderRule, KeyByIPAndJSONField("product_id")), publicHandler.CreateOrder)
		apiV1.GET("/orders/:order_no", publicHandler.GetOrder)
		apiV1.POST("/orders/:order_no/pay", publicHandler.PayOrder)
		apiV1.POST("/orders/:order_no/cancel", publicHandler.CancelOrder)

		// 运维接口（需鉴权）
		admin := apiV1.Group("/admin")
		admin.Use(OperatorJWTMiddleware(cfg.JWT.SecretKey))
		{
			// 库存对账
			admin.GET("/stock/status", adminHandler.GetStockStatus)
			admin.GET("/stock/consistency", adminHandler.CheckStockConsistency)
			admin.GET("/stock/locks", adminHandler.ListStockLocks)
			admin.POST("/stock/sync/:product_id", adminHandler.SyncProductStock)
			admin.POST("/stock/sync-all", adminHandler.SyncAllStock)
			admin.POST("/stock/process-logs", adminHandler.ProcessStockLogs)
			admin.POST("/stock/clean-expired", adminHandler.CleanExpiredLocks)

			// 商品管理
			admin.POST("/products", adminHandler.CreateProduct)
			admin.GET("/products/:id/stock", adminHandler.GetAdminProductStock)
			admin.GET("/products/:id/stock/logs", adminHandler.ListStockLogs)
			admin.POST("/products/:id/stock/increase", adminHandler.IncreaseStock)
			admin.PUT("/products/:id/status", adminHandler.UpdateProductStatus)

			// 订单管理
			admin.GET("/orders", adminHandler.AdminListOrders)
			admin.GET("/orders/:order_no", adminHandler.AdminGetOrder)
			admin.POST("/orders/:order_no/offline-pay", adminHandler.ConfirmOfflinePayment)

			// 补偿与对账任务
			admin.POST("/compensation/run", adminHandler.RunCompensation)
			admin.GET("/reconcile/tasks", adminHandler.ListReconcileTasks)
			admin.POST("/reconcile/tasks/:task", adminHandler.RunReconcileTask)

			admin.GET("/routes", func(ctx *gin.Context) {
				response.Success(ctx, buildAdminRouteCatalog(r))
			})
		}
	}

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "接口不存在")
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

type adminRouteCatalogItem struct {
	Module string `json:"module"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

func buildAdminRouteCatalog(engine *gin.Engine) []adminRouteCatalogItem {
	if engine == nil {
		return []adminRouteCatalogItem{}
	}

	routes := engine.Routes()
	seen := make(map[string]struct{}, len(routes))
	items := make([]adminRouteCatalogItem, 0, len(routes))

	for _, item := range routes {
		method := strings.ToUpper(strings.TrimSpace(item.Method))
		if method == "" || method == "OPTIONS" || method == "HEAD" {
			continue
		}
		if !strings.HasPrefix(item.Path, "/api/v1/admin/") {
			continue
		}
		key := method + ":" + item.Path
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, adminRouteCatalogItem{
			Module: deriveAdminRouteModule(item.Path),
			Method: method,
			Path:   item.Path,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Module == items[j].Module {
			if items[i].Path == items[j].Path {
				return items[i].Method < items[j].Method
			}
			return items[i].Path < items[j].Path
		}
		return items[i].Module < items[j].Module
	})

	return items
}

func deriveAdminRouteModule(path string) string {
	normalized := strings.TrimPrefix(strings.TrimSpace(path), "/api/v1/admin/")
	if normalized == "" {
		return "system"
	}
	segments := strings.Split(normalized, "/")
	return segments[0]
}
