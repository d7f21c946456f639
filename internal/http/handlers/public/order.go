package public

import (
	"github.com/stockpilot/internal/http/response"
	"github.com/stockpilot/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	ProductID uint   `json:"product_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required"`
	OrderNo   string `json:"order_no"` // 可选，客户端幂等键
}

// CreateOrder 创建订单并预占库存
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数错误", err)
		return
	}
	order, err := h.OrderService.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		OrderNo:   req.OrderNo,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, order)
}

// GetOrder 查询订单
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo, ok := orderNoParam(c)
	if !ok {
		return
	}
	order, err := h.OrderService.GetOrder(c.Request.Context(), orderNo)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, order)
}

// PayOrder 支付订单（扣减库存）
func (h *Handler) PayOrder(c *gin.Context) {
	orderNo, ok := orderNoParam(c)
	if !ok {
		return
	}
	order, err := h.OrderService.PayOrder(c.Request.Context(), orderNo)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, order)
}

// CancelOrder 取消订单（释放库存）
func (h *Handler) CancelOrder(c *gin.Context) {
	orderNo, ok := orderNoParam(c)
	if !ok {
		return
	}
	order, err := h.OrderService.CancelOrder(c.Request.Context(), orderNo)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, order)
}
