package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// StatusOf 账本错误对应的 HTTP 状态码
func StatusOf(err error) int {
	switch {
	case errors.Is(err, logic.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, logic.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, logic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, logic.ErrInvalidState), errors.Is(err, logic.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, logic.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, logic.ErrReentrancy):
		return http.StatusLocked
	case errors.Is(err, logic.ErrOutcomeUnknown):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// LedgerError 按错误分类返回响应
func LedgerError(c *gin.Context, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		ErrorResponse(c, status, "内部错误")
		return
	}
	ErrorResponse(c, status, err.Error())
}
