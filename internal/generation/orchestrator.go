// Package generation 调用生成后端并把输出整理成分类后的分析结论。
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cmsreport/internal/analysis"
	"cmsreport/internal/logger"
	"cmsreport/internal/metrics"
	"cmsreport/pkg/aiinterface"

	"go.uber.org/zap"
)

// PlaceholderText 结论不足时的补位文本
const PlaceholderText = "暂无分析结论"

// Orchestrator 生成编排器，只持有注入的后端
type Orchestrator struct {
	backend aiinterface.ModelClient
	log     *zap.Logger
}

// NewOrchestrator 创建生成编排器
func NewOrchestrator(backend aiinterface.ModelClient, log *zap.Logger) *Orchestrator {
	return &Orchestrator{backend: backend, log: logger.OrNop(log)}
}

// Generate 调用后端生成原始文本
// 调用带硬超时；父上下文取消返回 ErrCancelled，超时返回 ErrTimeout。
func (o *Orchestrator) Generate(ctx context.Context, prompt Prompt, cfg Config) (string, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", classify(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	messages := make([]aiinterface.Message, 0, 2)
	if prompt.System != "" {
		messages = append(messages, aiinterface.Message{Role: aiinterface.RoleSystem, Content: prompt.System})
	}
	messages = append(messages, aiinterface.Message{Role: aiinterface.RoleUser, Content: prompt.User})

	resp, err := o.backend.ChatCompletion(callCtx, &aiinterface.ChatCompletionRequest{
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return "", classify(err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: 后端返回空文本", ErrInvalidOutput)
	}
	return resp.Content, nil
}

// Conclusions 生成并整理分析结论
// 数量不足最小值时先补充请求一次，仍不足则以占位结论补齐。
// 空输出或无法切分的输出不视为致命错误。
func (o *Orchestrator) Conclusions(ctx context.Context, prompt Prompt, cfg Config) ([]analysis.ConclusionStatement, error) {
	cfg = cfg.withDefaults()
	log := logger.FromContext(ctx, o.log)

	raw, err := o.Generate(ctx, prompt, cfg)
	if err != nil && !errors.Is(err, ErrInvalidOutput) {
		return nil, err
	}
	texts := Segment(raw)
	if len(texts) == 0 {
		log.Warn("生成结果无法切分为结论", zap.Int("raw_len", len(raw)))
	}

	if missing := cfg.MinStatements - len(texts); missing > 0 {
		extra, err := o.Generate(ctx, followUpPrompt(prompt, texts, missing), cfg)
		switch {
		case errors.Is(err, ErrCancelled):
			return nil, err
		case err != nil:
			log.Warn("补充生成失败，使用占位结论", zap.Error(err))
		default:
			more := Segment(extra)
			if len(more) > missing {
				more = more[:missing]
			}
			texts = append(texts, more...)
		}
	}

	statements := make([]analysis.ConclusionStatement, 0, max(len(texts), cfg.MinStatements))
	for i, t := range texts {
		statements = append(statements, analysis.NewConclusion(i+1, t))
	}
	for len(statements) < cfg.MinStatements {
		statements = append(statements, analysis.ConclusionStatement{
			Ordinal:     len(statements) + 1,
			Text:        PlaceholderText,
			Category:    analysis.CategoryGeneral,
			Placeholder: true,
		})
		metrics.GenerationPlaceholders.Inc()
	}
	return statements, nil
}

// FromTexts 将调用方提供的结论文本整理为结论，不调用后端
func FromTexts(texts []string, minStatements int) []analysis.ConclusionStatement {
	var out []analysis.ConclusionStatement
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, analysis.NewConclusion(len(out)+1, t))
		}
	}
	for len(out) < minStatements {
		out = append(out, analysis.ConclusionStatement{
			Ordinal:     len(out) + 1,
			Text:        PlaceholderText,
			Category:    analysis.CategoryGeneral,
			Placeholder: true,
		})
	}
	return out
}
