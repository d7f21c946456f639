package public

import (
	"github.com/stockpilot/internal/http/response"

	"github.com/gin-gonic/gin"
)

// GetProductStock 查询商品实时库存
func (h *Handler) GetProductStock(c *gin.Context) {
	productID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	view, err := h.ProductService.GetProductStock(c.Request.Context(), productID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"product_id": productID,
		"name":       view.Product.Name,
		"available":  view.Available,
		"locked":     view.Locked,
		"durable":    view.Durable,
	})
}
