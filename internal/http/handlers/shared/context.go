package shared

import (
	"strconv"
	"strings"

	"github.com/stockpilot/internal/http/response"

	"github.com/gin-gonic/gin"
)

// ParseUintParam 读取路径参数中的正整数 ID，失败时直接写入错误响应。
func ParseUintParam(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Param(name))
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		response.BadRequest(c, "参数 "+name+" 无效")
		return 0, false
	}
	return uint(value), true
}

// OrderNoParam 读取路径中的订单号。
func OrderNoParam(c *gin.Context) (string, bool) {
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		response.BadRequest(c, "订单号不能为空")
		return "", false
	}
	return orderNo, true
}
