package ai

import (
	"context"
	"sync"
	"time"

	"cmsreport/internal/logger"
	"cmsreport/internal/metrics"
	"cmsreport/pkg/aiinterface"

	"go.uber.org/zap"
)

// LoggingClient 带日志记录的客户端包装器
// 每次调用写一条结构化日志、一个计数，并异步落库。
type LoggingClient struct {
	client    ModelClient
	callLog   ModelCallLogger
	modelName string
	log       *zap.Logger

	pending sync.WaitGroup
}

// NewLoggingClient 创建带日志记录的客户端，callLog 可为 nil
func NewLoggingClient(client ModelClient, callLog ModelCallLogger, modelName string, log *zap.Logger) *LoggingClient {
	return &LoggingClient{
		client:    client,
		callLog:   callLog,
		modelName: modelName,
		log:       logger.OrNop(log),
	}
}

// ChatCompletion 对话补全（带日志记录）
func (c *LoggingClient) ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	start := time.Now()
	resp, err := c.client.ChatCompletion(ctx, req)
	c.logCall(ctx, resp, time.Since(start), err)
	return resp, err
}

// Name 返回底层客户端名称
func (c *LoggingClient) Name() string {
	return c.client.Name()
}

// Close 等待未完成的日志写入后关闭底层客户端
func (c *LoggingClient) Close() error {
	c.Flush()
	return c.client.Close()
}

// Flush 等待异步日志写入完成
func (c *LoggingClient) Flush() {
	c.pending.Wait()
}

func (c *LoggingClient) logCall(ctx context.Context, resp *ChatCompletionResponse, latency time.Duration, err error) {
	provider := c.client.Name()
	result := "success"
	if err != nil {
		result = string(aiinterface.TypeOf(err))
	}
	metrics.GenerationCallsTotal.WithLabelValues(provider, result).Inc()

	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}

	l := logger.FromContext(ctx, c.log).With(
		zap.String("provider", provider),
		zap.String("model", c.modelName),
		zap.Duration("latency", latency),
	)
	if err != nil {
		l.Warn("生成调用失败", zap.String("error_type", result), zap.Error(err))
	} else {
		l.Debug("生成调用完成", zap.Int("total_tokens", usage.TotalTokens))
	}

	if c.callLog == nil {
		return
	}
	entry := &ModelCallLog{
		ReportID:         logger.GetReportID(ctx),
		ModelProvider:    provider,
		ModelName:        c.modelName,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		LatencyMs:        latency.Milliseconds(),
		TraceID:          logger.GetTraceID(ctx),
	}
	if err != nil {
		entry.ErrorType = result
		entry.ErrorMessage = err.Error()
	}

	// 异步记录日志（不阻塞主流程）
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if logErr := c.callLog.Log(context.Background(), entry); logErr != nil {
			c.log.Warn("写入调用日志失败", zap.Error(logErr))
		}
	}()
}
