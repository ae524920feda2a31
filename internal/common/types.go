package common

// APIResponse 统一API响应格式
type APIResponse struct {
	Success bool   `json:"success"`           // 是否成功
	Data    any    `json:"data,omitempty"`    // 响应数据
	Message string `json:"message,omitempty"` // 提示信息
	Code    int    `json:"code"`              // 业务状态码
}

// SuccessResponse 成功响应
func SuccessResponse(data any) APIResponse {
	return APIResponse{Success: true, Data: data, Code: CodeSuccess}
}

// ErrorResponse 错误响应
func ErrorResponse(code int, message string) APIResponse {
	return APIResponse{Success: false, Message: message, Code: code}
}

// 业务状态码
const (
	CodeSuccess = 0

	// 通用错误码 (1000-1999)
	CodeInvalidRequest     = 1000 // 请求参数错误
	CodeNotFound           = 1003 // 资源不存在
	CodeConflict           = 1004 // 资源冲突
	CodeInternalError      = 1005 // 内部错误
	CodeServiceUnavailable = 1006 // 服务不可用
	CodeRateLimited        = 1007 // 请求过于频繁

	// 模型相关错误码 (3000-3099)
	CodeModelCallFailed  = 3001 // 模型调用失败
	CodeModelTimeout     = 3003 // 模型调用超时
	CodeModelRateLimited = 3004 // 模型限流

	// 模板相关错误码 (4000-4099)
	CodeTemplateNotFound = 4000 // 模板不存在
	CodeSchemaMismatch   = 4001 // 模板变量不匹配
	CodeTemplateInvalid  = 4002 // 模板无效

	// 报告流水线错误码 (5000-5099)
	CodeReportNotFound = 5000 // 报告不存在
	CodeRenderFailed   = 5001 // 渲染失败
	CodeChartFailed    = 5002 // 图表生成失败
	CodeReportCanceled = 5003 // 报告已取消

	// 知识库相关错误码 (6000-6099)
	CodeDocumentNotFound  = 6001 // 文档不存在
	CodeRetrievalFailed   = 6002 // 检索失败
	CodeUnsupportedFormat = 6003 // 不支持的文档格式
)

// ErrorMessages 错误码对应的默认消息
var ErrorMessages = map[int]string{
	CodeSuccess:            "操作成功",
	CodeInvalidRequest:     "请求参数错误",
	CodeNotFound:           "资源不存在",
	CodeConflict:           "资源冲突",
	CodeInternalError:      "系统内部错误",
	CodeServiceUnavailable: "服务暂不可用",
	CodeRateLimited:        "请求过于频繁，请稍后重试",

	CodeModelCallFailed:  "模型调用失败",
	CodeModelTimeout:     "模型调用超时",
	CodeModelRateLimited: "模型调用被限流",

	CodeTemplateNotFound: "模板不存在",
	CodeSchemaMismatch:   "模板变量不匹配",
	CodeTemplateInvalid:  "模板无效",

	CodeReportNotFound: "报告不存在",
	CodeRenderFailed:   "报告渲染失败",
	CodeChartFailed:    "图表生成失败",
	CodeReportCanceled: "报告已取消",

	CodeDocumentNotFound:  "文档不存在",
	CodeRetrievalFailed:   "知识检索失败",
	CodeUnsupportedFormat: "不支持的文档格式",
}

// GetErrorMessage 获取错误码对应的消息
func GetErrorMessage(code int) string {
	if msg, ok := ErrorMessages[code]; ok {
		return msg
	}
	return "未知错误"
}

// BusinessError 业务错误
type BusinessError struct {
	Code    int    // 错误码
	Message string // 错误信息
	Err     error  // 原始错误
}

// Error 实现error接口
func (e *BusinessError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回原始错误
func (e *BusinessError) Unwrap() error { return e.Err }

// NewBusinessError 创建业务错误，消息为空时使用默认消息
func NewBusinessError(code int, message string, err error) *BusinessError {
	if message == "" {
		message = GetErrorMessage(code)
	}
	return &BusinessError{Code: code, Message: message, Err: err}
}
