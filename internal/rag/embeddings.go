package rag

import (
	"context"
	"hash/fnv"
	"math"
)

// EmbeddingProvider 抽象不同向量模型/服务的统一接口。
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
	GetProviderName() string
}

// HashingEmbedder 基于特征哈希的本地向量化，无需外部服务
// 词项（英文单词、汉字及汉字二元组）哈希到固定维度后做 L2 归一化，
// 用于离线部署和测试，语义能力弱于模型向量。
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder 创建本地哈希向量化器
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashingEmbedder{dim: dim}
}

// Dimension 向量维度
func (h *HashingEmbedder) Dimension() int { return h.dim }

func (h *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dim)
	for _, term := range Tokenize(text) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(term))
		sum := f.Sum32()
		idx := int(sum % uint32(h.dim))
		// 最高位决定符号，降低哈希冲突带来的偏置
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	normalize(vec)
	return vec, nil
}

func (h *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashingEmbedder) GetModel() string { return "feature-hashing" }

func (h *HashingEmbedder) GetProviderName() string { return "local" }

// CosineSimilarity 余弦相似度，任一向量为零向量或维度不一致时返回 0
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CosineDistance 余弦距离 1 - cos
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= n
	}
}
