package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResponseSuccess 返回成功响应
func ResponseSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse(data))
}

// ResponseCreated 返回创建成功响应（201）
func ResponseCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, SuccessResponse(data))
}

// ResponseAccepted 返回已受理响应（202），用于异步任务
func ResponseAccepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, SuccessResponse(data))
}

// ResponseNoContent 返回无内容响应（204）
func ResponseNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// HTTPStatus 业务状态码映射到 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidRequest, CodeSchemaMismatch, CodeTemplateInvalid, CodeUnsupportedFormat:
		return http.StatusBadRequest
	case CodeNotFound, CodeTemplateNotFound, CodeReportNotFound, CodeDocumentNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeReportCanceled:
		return http.StatusConflict
	case CodeModelRateLimited, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeModelTimeout:
		return http.StatusGatewayTimeout
	case CodeServiceUnavailable, CodeRetrievalFailed:
		return http.StatusServiceUnavailable
	case CodeModelCallFailed, CodeChartFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ResponseError 返回错误响应
func ResponseError(c *gin.Context, code int, message string) {
	if message == "" {
		message = GetErrorMessage(code)
	}
	c.JSON(HTTPStatus(code), ErrorResponse(code, message))
}

// ResponseErr 按错误链中的 BusinessError 返回，其余错误视为内部错误
func ResponseErr(c *gin.Context, err error) {
	var be *BusinessError
	if errors.As(err, &be) {
		ResponseError(c, be.Code, be.Error())
		return
	}
	ResponseError(c, CodeInternalError, err.Error())
}

// ResponseBadRequest 返回参数错误响应
func ResponseBadRequest(c *gin.Context, message string) {
	ResponseError(c, CodeInvalidRequest, message)
}

// ResponseNotFound 返回资源不存在响应
func ResponseNotFound(c *gin.Context, message string) {
	ResponseError(c, CodeNotFound, message)
}

// AbortWithError 中断并返回错误
func AbortWithError(c *gin.Context, code int, message string) {
	ResponseError(c, code, message)
	c.Abort()
}
