package public

import (
	handlershared "github.com/stockpilot/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

func respondServiceError(c *gin.Context, err error) {
	handlershared.RespondMappedError(c, err, handlershared.StockErrorRules)
}
