package admin

import (
	"strconv"
	"strings"

	handlershared "github.com/stockpilot/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	return handlershared.ParseUintParam(c, name)
}

func orderNoParam(c *gin.Context) (string, bool) {
	return handlershared.OrderNoParam(c)
}

func getOperator(c *gin.Context) string {
	return strings.TrimSpace(c.GetString("operator"))
}

func queryUint(c *gin.Context, key string) uint {
	value, err := strconv.ParseUint(strings.TrimSpace(c.Query(key)), 10, 64)
	if err != nil {
		return 0
	}
	return uint(value)
}

func queryPage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return handlershared.NormalizePagination(page, pageSize)
}
