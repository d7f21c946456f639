package admin

import (
	"errors"
	"strings"
	"time"

	"github.com/stockpilot/internal/http/response"
	"github.com/stockpilot/internal/repository"
	"github.com/stockpilot/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminListOrders 订单列表
func (h *Handler) AdminListOrders(c *gin.Context) {
	page, pageSize := queryPage(c)
	filter := repository.OrderListFilter{
		Page:      page,
		PageSize:  pageSize,
		ProductID: queryUint(c, "product_id"),
		Status:    strings.TrimSpace(c.Query("status")),
	}
	if from, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Query("created_from"))); err == nil {
		filter.CreatedFrom = &from
	}
	if to, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Query("created_to"))); err == nil {
		filter.CreatedTo = &to
	}
	orders, total, err := h.OrderService.ListOrders(filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, orders, buildPagination(page, pageSize, total))
}

// AdminGetOrder 订单详情（附带库存锁定记录）
func (h *Handler) AdminGetOrder(c *gin.Context) {
	orderNo, ok := orderNoParam(c)
	if !ok {
		return
	}
	order, err := h.OrderService.GetOrder(c.Request.Context(), orderNo)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	lock, err := h.StockService.GetLock(orderNo)
	if err != nil && !errors.Is(err, service.ErrNotFound) {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"order": order, "stock_lock": lock})
}

// ConfirmOfflinePayment 线下收款确认，库存扣减走异步通知
func (h *Handler) ConfirmOfflinePayment(c *gin.Context) {
	orderNo, ok := orderNoParam(c)
	if !ok {
		return
	}
	order, err := h.OrderService.ConfirmOfflinePayment(c.Request.Context(), orderNo)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	requestLog(c).Infow("admin_offline_payment_confirmed", "operator", getOperator(c), "order_no", orderNo)
	response.Success(c, order)
}
