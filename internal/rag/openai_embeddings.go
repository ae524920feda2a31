package rag

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// openAIMaxBatch 单次请求最多 2048 条输入
const openAIMaxBatch = 2048

// OpenAIEmbeddingProvider OpenAI 兼容接口的向量化服务
type OpenAIEmbeddingProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbeddingProvider 创建向量化提供者，baseURL 为空时使用官方地址
func NewOpenAIEmbeddingProvider(apiKey, baseURL, model string) *OpenAIEmbeddingProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbeddingProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("文本不能为空")
	}
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch 批量向量化，超过接口上限时分批请求
func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += openAIMaxBatch {
		end := min(i+openAIMaxBatch, len(texts))
		vecs, err := p.embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("批量向量化失败(batch %d-%d): %w", i, end, err)
		}
		all = append(all, vecs...)
	}
	return all, nil
}

func (p *OpenAIEmbeddingProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("调用 Embeddings API 失败: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("返回向量数量不匹配: 期望%d, 实际%d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("返回向量下标越界: %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// GetDimension 模型输出维度
func (p *OpenAIEmbeddingProvider) GetDimension() int {
	if p.model == string(openai.LargeEmbedding3) {
		return 3072
	}
	return 1536
}

func (p *OpenAIEmbeddingProvider) GetModel() string { return p.model }

func (p *OpenAIEmbeddingProvider) GetProviderName() string { return "openai" }
