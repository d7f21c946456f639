package admin

import (
	"github.com/stockpilot/internal/provider"
	"github.com/stockpilot/internal/worker"
)

// Handler 后台运维接口处理器入口
// 说明：该处理器仅用于库存对账、补偿与商品/订单管理 API。
type Handler struct {
	*provider.Container
	Reconciler *worker.Reconciler
}

// New 创建后台处理器
func New(c *provider.Container, reconciler *worker.Reconciler) *Handler {
	return &Handler{Container: c, Reconciler: reconciler}
}
