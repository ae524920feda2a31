package rag

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"unicode/utf8"
)

// 默认分块参数
const (
	DefaultChunkMaxSize       = 500
	DefaultCoherenceThreshold = 0.7

	// chunkEmbedWindow 每次惰性向量化的句子数
	chunkEmbedWindow = 16
)

// ErrInvalidChunkSize 最大分块长度非法
var ErrInvalidChunkSize = errors.New("chunk max size must be positive")

// SemanticChunker 基于句向量连贯度的语义分块器
//
// 句子按原文顺序并入当前块，直到加入后超出最大长度（按字符计），
// 或句向量与当前块质心的余弦相似度低于阈值时开启新块。
// 单个句子超长时独立成块，不会被切开。
type SemanticChunker struct {
	MaxSize   int
	Threshold float64
	embedder  EmbeddingProvider
}

// NewSemanticChunker 创建语义分块器，maxSize/threshold 取零值时使用默认值
func NewSemanticChunker(embedder EmbeddingProvider, maxSize int, threshold float64) *SemanticChunker {
	if maxSize <= 0 {
		maxSize = DefaultChunkMaxSize
	}
	if threshold <= 0 {
		threshold = DefaultCoherenceThreshold
	}
	return &SemanticChunker{MaxSize: maxSize, Threshold: threshold, embedder: embedder}
}

// Chunk 惰性产出文档的分块文本
// 返回的序列可重复遍历，每次遍历都会从头开始；向量化失败时产出一次错误后终止。
// maxSize <= 0 时使用分块器默认值。
func (c *SemanticChunker) Chunk(ctx context.Context, text string, maxSize int) iter.Seq2[string, error] {
	if maxSize <= 0 {
		maxSize = c.MaxSize
	}
	return func(yield func(string, error) bool) {
		if maxSize <= 0 {
			yield("", ErrInvalidChunkSize)
			return
		}
		sentences := SplitSentences(text)
		if len(sentences) == 0 {
			return
		}

		var (
			current  string
			centroid []float32
			count    int
			vectors  [][]float32
		)

		for i, sentence := range sentences {
			// 按窗口惰性向量化，消费方提前停止时不会多算
			if c.embedder != nil && i%chunkEmbedWindow == 0 {
				end := min(i+chunkEmbedWindow, len(sentences))
				batch, err := c.embedder.EmbedBatch(ctx, sentences[i:end])
				if err != nil {
					yield("", fmt.Errorf("句子向量化失败: %w", err))
					return
				}
				if len(batch) != end-i {
					yield("", fmt.Errorf("句子向量数量不匹配: 期望%d, 实际%d", end-i, len(batch)))
					return
				}
				vectors = batch
			}
			var vec []float32
			if vectors != nil {
				vec = vectors[i%chunkEmbedWindow]
			}

			if current != "" {
				tooLong := utf8.RuneCountInString(joinSentence(current, sentence)) > maxSize
				incoherent := vec != nil && centroid != nil && CosineSimilarity(vec, centroid) < c.Threshold
				if tooLong || incoherent {
					if !yield(current, nil) {
						return
					}
					current, centroid, count = "", nil, 0
				}
			}

			current = joinSentence(current, sentence)
			centroid = updateCentroid(centroid, vec, count)
			count++
		}

		if current != "" {
			yield(current, nil)
		}
	}
}

// ChunkAll 收集全部分块
func (c *SemanticChunker) ChunkAll(ctx context.Context, text string, maxSize int) ([]string, error) {
	var chunks []string
	for chunk, err := range c.Chunk(ctx, text, maxSize) {
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// updateCentroid 增量更新质心：(centroid*n + vec) / (n+1)
func updateCentroid(centroid, vec []float32, n int) []float32 {
	if vec == nil {
		return centroid
	}
	if centroid == nil || len(centroid) != len(vec) {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out
	}
	out := make([]float32, len(vec))
	fn := float32(n)
	for i := range vec {
		out[i] = (centroid[i]*fn + vec[i]) / (fn + 1)
	}
	return out
}
