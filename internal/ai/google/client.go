package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cmsreport/pkg/aiinterface"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultModel = "gemini-1.5-flash"

// GeminiClient Google Gemini 客户端
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewClient 创建 Gemini 客户端
func NewClient(ctx context.Context, config *aiinterface.ClientConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "Gemini API Key 不能为空",
		}
	}

	opts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(config.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

// ChatCompletion 对话补全
// system 消息转为 SystemInstruction，其余消息按顺序作为会话历史，最后一条作为本轮输入。
func (c *GeminiClient) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.TopP > 0 {
		model.SetTopP(float32(req.TopP))
	}
	if sys := req.SystemPrompt(); sys != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(sys)}}
	}

	history, last := splitHistory(req.Messages)
	if last == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeInvalidParams,
			Message: "Gemini 请求缺少用户消息",
		}
	}

	cs := model.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, wrapError(err)
	}

	content := textFromResponse(resp)
	if strings.TrimSpace(content) == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeInvalidResponse,
			Message: "Gemini 返回空响应",
		}
	}

	out := &aiinterface.ChatCompletionResponse{
		Model:   c.model,
		Content: content,
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = strings.ToLower(resp.Candidates[0].FinishReason.String())
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = aiinterface.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Name 返回客户端名称
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Close 关闭底层 gRPC 连接
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func splitHistory(messages []aiinterface.Message) ([]*genai.Content, string) {
	var turns []aiinterface.Message
	for _, m := range messages {
		if m.Role != aiinterface.RoleSystem {
			turns = append(turns, m)
		}
	}
	if len(turns) == 0 {
		return nil, ""
	}
	history := make([]*genai.Content, 0, len(turns)-1)
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == aiinterface.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history, turns[len(turns)-1].Content
}

func textFromResponse(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func wrapError(err error) *aiinterface.ClientError {
	if ce := aiinterface.ContextError("Gemini", err); ce != nil {
		return ce
	}

	errType := aiinterface.ErrorTypeUnknown
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			errType = aiinterface.ErrorTypeAuth
		case gerr.Code == http.StatusTooManyRequests:
			errType = aiinterface.ErrorTypeRateLimit
		case gerr.Code >= 500:
			errType = aiinterface.ErrorTypeServerError
		case gerr.Code >= 400:
			errType = aiinterface.ErrorTypeInvalidParams
		}
	} else if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			errType = aiinterface.ErrorTypeAuth
		case codes.ResourceExhausted:
			errType = aiinterface.ErrorTypeRateLimit
		case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
			errType = aiinterface.ErrorTypeInvalidParams
		case codes.DeadlineExceeded:
			errType = aiinterface.ErrorTypeTimeout
		case codes.Canceled:
			errType = aiinterface.ErrorTypeCancelled
		case codes.Unavailable:
			errType = aiinterface.ErrorTypeNetwork
		case codes.Internal, codes.Unknown:
			errType = aiinterface.ErrorTypeServerError
		}
	}

	return &aiinterface.ClientError{
		Type:    errType,
		Message: "Gemini API 错误",
		Err:     err,
	}
}
