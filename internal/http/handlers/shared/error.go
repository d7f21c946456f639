package shared

import (
	"errors"

	"github.com/stockpilot/internal/http/response"
	"github.com/stockpilot/internal/logger"
	"github.com/stockpilot/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 提供携带 request_id 的日志实例。
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	if requestID, ok := c.Get("request_id"); ok {
		if id, ok := requestID.(string); ok && id != "" {
			return logger.SW("request_id", id)
		}
	}
	return logger.S()
}

// RespondError 返回错误响应，并在有原始错误时记录日志。
func RespondError(c *gin.Context, code int, msg string, err error) {
	appErr := response.WrapError(code, msg, err)
	if err != nil {
		RequestLog(c).Errorw("handler_error",
			"code", appErr.Code,
			"message", appErr.Message,
			"error", err,
		)
	}
	response.Error(c, appErr.Code, appErr.Message)
}

// MappedError 业务错误到接口错误响应的映射关系。
type MappedError struct {
	Target error
	Code   int
	Msg    string
}

// StockErrorRules 库存与订单业务错误映射
var StockErrorRules = []MappedError{
	{Target: service.ErrInvalidStockParams, Code: response.CodeBadRequest, Msg: "参数无效"},
	{Target: service.ErrInvalidQuantity, Code: response.CodeBadRequest, Msg: "购买数量无效"},
	{Target: service.ErrInvalidOrderNo, Code: response.CodeBadRequest, Msg: "订单号无效"},
	{Target: service.ErrNotFound, Code: response.CodeNotFound, Msg: "记录不存在"},
	{Target: service.ErrOrderNotFound, Code: response.CodeNotFound, Msg: "订单不存在"},
	{Target: service.ErrInsufficientStock, Code: response.CodeStockInsufficient, Msg: "库存不足"},
	{Target: service.ErrInvalidState, Code: response.CodeStockLockState, Msg: "库存锁定状态不允许该操作"},
	{Target: service.ErrOrderStatusInvalid, Code: response.CodeConflict, Msg: "订单状态不允许该操作"},
	{Target: service.ErrOrderExpired, Code: response.CodeOrderExpired, Msg: "订单已过期"},
	{Target: service.ErrProductNotAvailable, Code: response.CodeProductOffShelf, Msg: "商品不可购买"},
	{Target: service.ErrStoreUnavailable, Code: response.CodeServiceUnavailable, Msg: "库存服务暂不可用"},
}

// RespondMappedError 按映射规则返回业务错误，未命中时记录原始错误并返回兜底响应。
func RespondMappedError(c *gin.Context, err error, rules []MappedError) {
	for _, rule := range rules {
		if errors.Is(err, rule.Target) {
			if rule.Code == response.CodeServiceUnavailable {
				RespondError(c, rule.Code, rule.Msg, err)
				return
			}
			RespondError(c, rule.Code, rule.Msg, nil)
			return
		}
	}
	RespondError(c, response.CodeInternal, "服务器内部错误", err)
}
