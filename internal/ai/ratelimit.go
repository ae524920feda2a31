package ai

import (
	"context"

	"cmsreport/pkg/aiinterface"

	"golang.org/x/time/rate"
)

// RateLimitedClient 令牌桶限流包装器
// 等待令牌期间上下文结束时返回对应的超时或取消错误。
type RateLimitedClient struct {
	client  ModelClient
	limiter *rate.Limiter
}

// NewRateLimitedClient 创建限流客户端，perSecond <= 0 时直接返回原客户端
func NewRateLimitedClient(client ModelClient, perSecond float64, burst int) ModelClient {
	if perSecond <= 0 {
		return client
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// ChatCompletion 获取令牌后调用底层客户端
func (c *RateLimitedClient) ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ce := aiinterface.ContextError(c.client.Name(), ctx.Err()); ce != nil {
			return nil, ce
		}
		// 截止时间早于下一个令牌
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeRateLimit,
			Message: "等待限流令牌失败",
			Err:     err,
		}
	}
	return c.client.ChatCompletion(ctx, req)
}

// Name 返回底层客户端名称
func (c *RateLimitedClient) Name() string {
	return c.client.Name()
}

// Close 关闭底层客户端
func (c *RateLimitedClient) Close() error {
	return c.client.Close()
}
