package aiinterface

import (
	"context"
	"errors"
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 消息结构
type Message struct {
	Role    string `json:"role"`    // system, user, assistant
	Content string `json:"content"` // 消息内容
}

// ChatCompletionRequest 对话补全请求
type ChatCompletionRequest struct {
	Messages    []Message `json:"messages"`    // 消息列表
	Temperature float64   `json:"temperature"` // 温度参数（0-2）
	MaxTokens   int       `json:"max_tokens"`  // 最大 Token 数
	TopP        float64   `json:"top_p"`       // Top P 采样
}

// SystemPrompt 返回第一条 system 消息
func (r *ChatCompletionRequest) SystemPrompt() string {
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

// ChatCompletionResponse 对话补全响应
type ChatCompletionResponse struct {
	ID           string `json:"id"`            // 响应 ID
	Model        string `json:"model"`         // 使用的模型
	Content      string `json:"content"`       // 生成的内容
	FinishReason string `json:"finish_reason"` // stop, length ...
	Usage        Usage  `json:"usage"`         // Token 使用情况
}

// Usage Token 使用情况
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`     // 输入 Token 数
	CompletionTokens int `json:"completion_tokens"` // 输出 Token 数
	TotalTokens      int `json:"total_tokens"`      // 总 Token 数
}

// ModelClient AI 模型客户端统一接口
type ModelClient interface {
	// ChatCompletion 对话补全（非流式）
	ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// Name 返回客户端名称（如 "openai", "gemini"）
	Name() string

	// Close 关闭客户端连接
	Close() error
}

// ClientConfig 客户端配置
type ClientConfig struct {
	Provider   string // 提供商（openai, gemini, offline）
	APIKey     string // API Key
	BaseURL    string // 基础 URL
	Model      string // 模型标识
	OrgID      string // 组织 ID（OpenAI）
	MaxRetries int    // 客户端内部重试次数
}

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeAuth            ErrorType = "auth"             // 认证错误
	ErrorTypeRateLimit       ErrorType = "rate_limit"       // 速率限制
	ErrorTypeInvalidParams   ErrorType = "invalid_params"   // 参数错误
	ErrorTypeInvalidResponse ErrorType = "invalid_response" // 响应为空或无法解析
	ErrorTypeServerError     ErrorType = "server_error"     // 服务器错误
	ErrorTypeNetwork         ErrorType = "network"          // 网络错误
	ErrorTypeTimeout         ErrorType = "timeout"          // 调用超时
	ErrorTypeCancelled       ErrorType = "cancelled"        // 调用方取消
	ErrorTypeUnknown         ErrorType = "unknown"          // 未知错误
)

// ClientError 客户端错误
type ClientError struct {
	Type    ErrorType // 错误类型
	Message string    // 错误消息
	Err     error     // 原始错误
}

// Error 实现error接口
func (e *ClientError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回原始错误
func (e *ClientError) Unwrap() error {
	return e.Err
}

// IsRetryable 判断错误是否可重试
func (e *ClientError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeServerError, ErrorTypeTimeout, ErrorTypeInvalidResponse:
		return true
	}
	return false
}

// TypeOf 提取错误类型，上下文错误优先
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeUnknown
}

// ContextError 将上下文错误包装为客户端错误，非上下文错误返回 nil
func ContextError(provider string, err error) *ClientError {
	switch {
	case errors.Is(err, context.Canceled):
		return &ClientError{Type: ErrorTypeCancelled, Message: provider + " 调用已取消", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ClientError{Type: ErrorTypeTimeout, Message: provider + " 调用超时", Err: err}
	}
	return nil
}
