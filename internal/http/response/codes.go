package response

const (
	CodeOK                 = 0
	CodeBadRequest         = 400
	CodeUnauthorized       = 401
	CodeNotFound           = 404
	CodeConflict           = 409
	CodeTooManyRequests    = 429
	CodeInternal           = 500
	CodeServiceUnavailable = 503
)

// 库存业务码
const (
	CodeStockInsufficient = 10001
	CodeStockLockState    = 10002
	CodeOrderExpired      = 10003
	CodeProductOffShelf   = 10004
)
