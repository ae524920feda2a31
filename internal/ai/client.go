package ai

import (
	"context"

	"cmsreport/pkg/aiinterface"
)

// 重新导出 aiinterface 包的类型，避免子包依赖父包
type (
	Message                = aiinterface.Message
	ChatCompletionRequest  = aiinterface.ChatCompletionRequest
	ChatCompletionResponse = aiinterface.ChatCompletionResponse
	Usage                  = aiinterface.Usage
	ModelClient            = aiinterface.ModelClient
	ClientConfig           = aiinterface.ClientConfig
	ClientError            = aiinterface.ClientError
	ErrorType              = aiinterface.ErrorType
)

// 重新导出常量
const (
	ErrorTypeAuth            = aiinterface.ErrorTypeAuth
	ErrorTypeRateLimit       = aiinterface.ErrorTypeRateLimit
	ErrorTypeInvalidParams   = aiinterface.ErrorTypeInvalidParams
	ErrorTypeInvalidResponse = aiinterface.ErrorTypeInvalidResponse
	ErrorTypeServerError     = aiinterface.ErrorTypeServerError
	ErrorTypeNetwork         = aiinterface.ErrorTypeNetwork
	ErrorTypeTimeout         = aiinterface.ErrorTypeTimeout
	ErrorTypeCancelled       = aiinterface.ErrorTypeCancelled
	ErrorTypeUnknown         = aiinterface.ErrorTypeUnknown
)

// ModelCallLogger 模型调用日志记录器接口
type ModelCallLogger interface {
	// Log 记录模型调用
	Log(ctx context.Context, log *ModelCallLog) error
}

// ModelCallLog 模型调用日志
type ModelCallLog struct {
	ReportID         string `json:"report_id,omitempty"`
	ModelProvider    string `json:"model_provider"`
	ModelName        string `json:"model_name"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	LatencyMs        int64  `json:"latency_ms"`
	ErrorType        string `json:"error_type,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	TraceID          string `json:"trace_id,omitempty"`
}
