package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinav/clinav/internal/service"
	"github.com/clinav/clinav/pkg/logger"
	"github.com/clinav/clinav/pkg/session"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// errorStatus 按错误类别映射 HTTP 状态码与错误码
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnknownDevice):
		return http.StatusNotFound, "DEVICE_NOT_FOUND"
	case errors.Is(err, service.ErrUnknownWorker):
		return http.StatusNotFound, "WORKER_NOT_FOUND"
	case errors.Is(err, service.ErrNotConnected):
		return http.StatusConflict, "NOT_CONNECTED"
	}
	switch session.KindOf(err) {
	case session.KindProtocolState:
		return http.StatusConflict, "PROTOCOL_STATE"
	case session.KindOutput:
		return http.StatusUnprocessableEntity, "OUTPUT_ERROR"
	case session.KindTimeout:
		return http.StatusGatewayTimeout, "TIMEOUT"
	case session.KindConnection:
		return http.StatusBadGateway, "CONNECTION_ERROR"
	case session.KindEndOfStream:
		return http.StatusBadGateway, "END_OF_STREAM"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.WithField("path", c.Request.URL.Path).WithError(err).Warn("request failed")
	}
	c.JSON(status, ErrorResponse{Code: code, Message: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: msg})
}

func success(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: msg, Data: data})
}
