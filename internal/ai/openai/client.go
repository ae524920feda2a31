package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"cmsreport/pkg/aiinterface"

	openai "github.com/sashabaranov/go-openai"
)

// Client OpenAI 及兼容协议（DeepSeek、通义千问等）客户端适配器
type Client struct {
	client     *openai.Client
	modelID    string
	maxRetries int
}

// NewClient 创建 OpenAI 客户端
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "OpenAI API Key 不能为空",
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	model := config.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Client{
		client:     openai.NewClientWithConfig(clientConfig),
		modelID:    model,
		maxRetries: config.MaxRetries,
	}, nil
}

// ChatCompletion 对话补全
// 仅对限流和 5xx 做客户端内重试，超时与取消直接返回。
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	openaiReq := openai.ChatCompletionRequest{
		Model:       c.modelID,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        float32(req.TopP),
	}

	var resp openai.ChatCompletionResponse
	var err error
	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.client.CreateChatCompletion(ctx, openaiReq)
		if err == nil {
			break
		}
		ce := wrapError(err)
		if !ce.IsRetryable() || ce.Type == aiinterface.ErrorTypeTimeout || i == c.maxRetries {
			return nil, ce
		}
		backoff := time.Duration(1<<uint(i)) * time.Second
		select {
		case <-ctx.Done():
			return nil, aiinterface.ContextError("OpenAI", ctx.Err())
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return nil, wrapError(err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeInvalidResponse,
			Message: "OpenAI API 返回空响应",
		}
	}

	return &aiinterface.ChatCompletionResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Name 返回客户端名称
func (c *Client) Name() string {
	return "openai"
}

// Close OpenAI 客户端无需显式关闭
func (c *Client) Close() error {
	return nil
}

// wrapError 按 HTTP 状态码归类错误
func wrapError(err error) *aiinterface.ClientError {
	if ce := aiinterface.ContextError("OpenAI", err); ce != nil {
		return ce
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	var errType aiinterface.ErrorType
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		errType = aiinterface.ErrorTypeAuth
	case status == http.StatusTooManyRequests:
		errType = aiinterface.ErrorTypeRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		errType = aiinterface.ErrorTypeTimeout
	case status >= 500:
		errType = aiinterface.ErrorTypeServerError
	case status >= 400:
		errType = aiinterface.ErrorTypeInvalidParams
	case status == 0:
		errType = aiinterface.ErrorTypeNetwork
	default:
		errType = aiinterface.ErrorTypeUnknown
	}

	return &aiinterface.ClientError{
		Type:    errType,
		Message: "OpenAI API 错误",
		Err:     err,
	}
}
