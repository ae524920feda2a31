// Package offline 提供不依赖外部服务的确定性生成后端，用于本地演示与集成测试。
package offline

import (
	"context"
	"fmt"
	"strings"

	"cmsreport/pkg/aiinterface"
)

// Client 离线客户端，根据提示词中的测点描述拼出编号结论
type Client struct {
	model string
}

// NewClient 创建离线客户端
func NewClient(model string) *Client {
	if model == "" {
		model = "offline-rules"
	}
	return &Client{model: model}
}

// ChatCompletion 生成编号结论列表
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, aiinterface.ContextError("offline", err)
	}

	var prompt string
	for _, m := range req.Messages {
		if m.Role == aiinterface.RoleUser {
			prompt = m.Content
		}
	}

	var lines []string
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• "))
		if strings.HasPrefix(line, "测点") {
			lines = append(lines, fmt.Sprintf("%s，建议结合趋势图持续跟踪振动变化。", strings.TrimRight(line, "。")))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "当前数据不足以给出明确结论，建议补充测点频谱与包络数据后复核。")
	}

	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l)
	}
	content := b.String()
	return &aiinterface.ChatCompletionResponse{
		ID:           "offline",
		Model:        c.model,
		Content:      content,
		FinishReason: "stop",
		Usage: aiinterface.Usage{
			PromptTokens:     len([]rune(prompt)),
			CompletionTokens: len([]rune(content)),
			TotalTokens:      len([]rune(prompt)) + len([]rune(content)),
		},
	}, nil
}

// Name 返回客户端名称
func (c *Client) Name() string { return "offline" }

// Close 无资源需要释放
func (c *Client) Close() error { return nil }
