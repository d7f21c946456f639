package admin

import (
	"strconv"
	"strings"

	"github.com/stockpilot/internal/http/response"
	"github.com/stockpilot/internal/repository"

	"github.com/gin-gonic/gin"
)

// IncreaseStockRequest 补货请求
type IncreaseStockRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Remark string `json:"remark"`
}

// GetStockStatus 库存同步状态
func (h *Handler) GetStockStatus(c *gin.Context) {
	status, err := h.StockSyncService.Status(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, status)
}

// SyncProductStock 以台账为准校准单个商品计数器
func (h *Handler) SyncProductStock(c *gin.Context) {
	productID, ok := parseUintParam(c, "product_id")
	if !ok {
		return
	}
	result, err := h.StockSyncService.SyncProduct(c.Request.Context(), productID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	requestLog(c).Infow("admin_stock_sync", "operator", getOperator(c), "product_id", productID, "before", result.Before, "after", result.After)
	response.Success(c, result)
}

// SyncAllStock 全量对账
func (h *Handler) SyncAllStock(c *gin.Context) {
	report, err := h.StockSyncService.SyncAll(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, report)
}

// ProcessStockLogs 重放未同步流水
func (h *Handler) ProcessStockLogs(c *gin.Context) {
	processed, err := h.StockSyncService.ProcessUnsyncedLogs(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"processed": processed})
}

// CleanExpiredLocks 释放过期锁定
func (h *Handler) CleanExpiredLocks(c *gin.Context) {
	released, err := h.StockService.CleanExpiredLocks(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"released": released})
}

// CheckStockConsistency 只读一致性检查
func (h *Handler) CheckStockConsistency(c *gin.Context) {
	items, err := h.StockSyncService.CheckConsistency(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"consistent": len(items) == 0, "items": items})
}

// IncreaseStock 补货
func (h *Handler) IncreaseStock(c *gin.Context) {
	productID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req IncreaseStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数错误", err)
		return
	}
	remark := strings.TrimSpace(req.Remark)
	if operator := getOperator(c); operator != "" {
		remark = strings.TrimSpace(remark + " by " + operator)
	}
	if err := h.StockService.IncreaseStock(c.Request.Context(), productID, req.Amount, remark); err != nil {
		respondServiceError(c, err)
		return
	}
	view, err := h.ProductService.GetProductStock(c.Request.Context(), productID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithMsg(c, "补货成功", view)
}

// ListStockLocks 锁定记录列表
func (h *Handler) ListStockLocks(c *gin.Context) {
	page, pageSize := queryPage(c)
	locks, total, err := h.StockService.ListLocks(repository.StockLockListFilter{
		Page:      page,
		PageSize:  pageSize,
		ProductID: queryUint(c, "product_id"),
		Status:    strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		OrderNo:   strings.TrimSpace(c.Query("order_no")),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, locks, buildPagination(page, pageSize, total))
}

// ListStockLogs 商品库存流水
func (h *Handler) ListStockLogs(c *gin.Context) {
	productID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	logs, err := h.StockService.ListLogs(productID, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, logs)
}

func buildPagination(page, pageSize int, total int64) response.Pagination {
	totalPage := int64(0)
	if pageSize > 0 {
		totalPage = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	return response.Pagination{Page: page, PageSize: pageSize, Total: total, TotalPage: totalPage}
}
