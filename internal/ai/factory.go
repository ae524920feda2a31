package ai

import (
	"context"
	"fmt"

	"cmsreport/internal/ai/google"
	"cmsreport/internal/ai/offline"
	"cmsreport/internal/ai/openai"
	"cmsreport/internal/config"
	"cmsreport/pkg/aiinterface"

	"go.uber.org/zap"
)

// NewClient 按配置创建生成后端
// 返回的客户端已包装限流与调用日志，callLog 可为 nil。
func NewClient(ctx context.Context, cfg config.AIConfig, callLog ModelCallLogger, log *zap.Logger) (ModelClient, error) {
	var (
		client    ModelClient
		modelName string
		err       error
	)

	switch cfg.Provider {
	case "openai", "":
		modelName = cfg.OpenAI.Model
		client, err = openai.NewClient(&aiinterface.ClientConfig{
			Provider: "openai",
			APIKey:   cfg.OpenAI.APIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			OrgID:    cfg.OpenAI.OrgID,
			Model:    cfg.OpenAI.Model,
		})
	case "gemini", "google":
		modelName = cfg.Gemini.Model
		client, err = google.NewClient(ctx, &aiinterface.ClientConfig{
			Provider: "gemini",
			APIKey:   cfg.Gemini.APIKey,
			Model:    cfg.Gemini.Model,
		})
	case "offline":
		modelName = "offline-rules"
		client = offline.NewClient(modelName)
	default:
		return nil, fmt.Errorf("不支持的生成后端: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("创建 %s 客户端失败: %w", cfg.Provider, err)
	}

	client = NewRateLimitedClient(client, cfg.Generation.RatePerSecond, cfg.Generation.Burst)
	return NewLoggingClient(client, callLog, modelName, log), nil
}
