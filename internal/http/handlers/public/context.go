package public

import (
	handlershared "github.com/stockpilot/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	return handlershared.ParseUintParam(c, name)
}

func orderNoParam(c *gin.Context) (string, bool) {
	return handlershared.OrderNoParam(c)
}

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}
