package admin

import (
	"github.com/stockpilot/internal/http/response"
	"github.com/stockpilot/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateProductRequest 创建商品请求
type CreateProductRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Price       string `json:"price" binding:"required"`
	Stock       int64  `json:"stock"`
}

// UpdateProductStatusRequest 上下架请求
type UpdateProductStatusRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// CreateProduct 创建商品
func (h *Handler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数错误", err)
		return
	}
	product, err := h.ProductService.CreateProduct(service.CreateProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, product)
}

// GetAdminProductStock 商品及库存详情
func (h *Handler) GetAdminProductStock(c *gin.Context) {
	productID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	view, err := h.ProductService.GetProductStock(c.Request.Context(), productID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, view)
}

// UpdateProductStatus 商品上下架
func (h *Handler) UpdateProductStatus(c *gin.Context) {
	productID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req UpdateProductStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数错误", err)
		return
	}
	if err := h.ProductService.SetStatus(c.Request.Context(), productID, *req.Online); err != nil {
		respondServiceError(c, err)
		return
	}
	requestLog(c).Infow("admin_product_status_updated", "operator", getOperator(c), "product_id", productID, "online", *req.Online)
	response.Success(c, gin.H{"product_id": productID, "online": *req.Online})
}
