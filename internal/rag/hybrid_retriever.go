package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"cmsreport/internal/logger"
	"cmsreport/internal/metrics"
)

// DefaultAlpha 稠密检索默认权重
const DefaultAlpha = 0.5

// ErrRetrievalUnavailable 稠密与稀疏检索均失败
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// DenseSearcher 语义检索源
type DenseSearcher interface {
	SearchDense(ctx context.Context, query string, k int, filter Filter) ([]ScoredPassage, error)
}

// SparseSearcher 词法检索源
type SparseSearcher interface {
	SearchSparse(ctx context.Context, query string, k int, filter Filter) ([]ScoredPassage, error)
}

// IndexSearcher 基于本地索引的稠密/稀疏检索适配
type IndexSearcher struct {
	index    *Index
	embedder EmbeddingProvider
}

// NewIndexSearcher 创建本地检索源
func NewIndexSearcher(index *Index, embedder EmbeddingProvider) *IndexSearcher {
	return &IndexSearcher{index: index, embedder: embedder}
}

// SearchDense 查询向量化后做余弦检索，负相似度截断为 0
func (s *IndexSearcher) SearchDense(ctx context.Context, query string, k int, filter Filter) ([]ScoredPassage, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	hits, err := s.index.Search(ctx, vec, k, filter)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredPassage, len(hits))
	for i, h := range hits {
		out[i] = ScoredPassage{Passage: h.Passage, Score: clamp01(h.Score)}
	}
	return out, nil
}

// SearchSparse BM25 检索
func (s *IndexSearcher) SearchSparse(ctx context.Context, query string, k int, filter Filter) ([]ScoredPassage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.index.SearchLexical(query, k, filter), nil
}

// HybridRetriever 稠密 + 稀疏混合检索
// 两路各取 2k 个候选，稀疏得分按最大值归一化后与稠密得分线性加权：
// score = alpha*dense + (1-alpha)*sparse。同分时依次比较稀疏得分、文档 ID、段落序号。
type HybridRetriever struct {
	dense  DenseSearcher
	sparse SparseSearcher
	alpha  float64
	log    *zap.Logger
}

// RetrieverOption 混合检索选项
type RetrieverOption func(*HybridRetriever)

// WithAlpha 设置稠密权重，取值 [0,1]
func WithAlpha(alpha float64) RetrieverOption {
	return func(r *HybridRetriever) { r.alpha = alpha }
}

// WithRetrieverLogger 设置日志
func WithRetrieverLogger(l *zap.Logger) RetrieverOption {
	return func(r *HybridRetriever) { r.log = l }
}

// NewHybridRetriever 创建混合检索器
func NewHybridRetriever(dense DenseSearcher, sparse SparseSearcher, opts ...RetrieverOption) (*HybridRetriever, error) {
	r := &HybridRetriever{dense: dense, sparse: sparse, alpha: DefaultAlpha}
	for _, opt := range opts {
		opt(r)
	}
	if r.alpha < 0 || r.alpha > 1 {
		return nil, fmt.Errorf("alpha must be within [0,1], got %v", r.alpha)
	}
	if r.dense == nil && r.sparse == nil {
		return nil, errors.New("at least one search source is required")
	}
	r.log = logger.OrNop(r.log)
	return r, nil
}

// Alpha 稠密权重
func (r *HybridRetriever) Alpha() float64 { return r.alpha }

// Retrieve 检索与查询最相关的 k 个段落
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, k int) (*RetrievalResult, error) {
	return r.RetrieveFiltered(ctx, query, k, nil)
}

// RetrieveFiltered 带元数据过滤的检索
// 一路失败时只用另一路的结果，两路都失败返回 ErrRetrievalUnavailable。
func (r *HybridRetriever) RetrieveFiltered(ctx context.Context, query string, k int, filter Filter) (*RetrievalResult, error) {
	start := time.Now()
	defer func() { metrics.RetrievalDuration.Observe(time.Since(start).Seconds()) }()

	result := &RetrievalResult{Query: query, Mode: ModeHybrid}
	if k <= 0 {
		return result, nil
	}

	var (
		wg                    sync.WaitGroup
		denseHits, sparseHits []ScoredPassage
		denseErr, sparseErr   error
	)
	candidates := 2 * k

	if r.dense != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			denseHits, denseErr = r.dense.SearchDense(ctx, query, candidates, filter)
		}()
	} else {
		denseErr = errors.New("dense source not configured")
	}
	if r.sparse != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sparseHits, sparseErr = r.sparse.SearchSparse(ctx, query, candidates, filter)
		}()
	} else {
		sparseErr = errors.New("sparse source not configured")
	}
	wg.Wait()

	alpha := r.alpha
	switch {
	case denseErr != nil && sparseErr != nil:
		metrics.RetrievalTotal.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, errors.Join(denseErr, sparseErr))
	case denseErr != nil:
		r.log.Warn("稠密检索失败，降级为词法检索", zap.Error(denseErr))
		result.Mode = ModeSparseOnly
		alpha = 0
	case sparseErr != nil:
		r.log.Warn("词法检索失败，降级为语义检索", zap.Error(sparseErr))
		result.Mode = ModeDenseOnly
		alpha = 1
	}
	metrics.RetrievalTotal.WithLabelValues(result.Mode).Inc()

	result.Items = fuse(denseHits, sparseHits, alpha, k)
	r.log.Debug("检索完成",
		zap.String("mode", result.Mode),
		zap.Int("dense", len(denseHits)),
		zap.Int("sparse", len(sparseHits)),
		zap.Int("items", len(result.Items)),
	)
	return result, nil
}

// fuse 合并两路候选。同时出现在两路的段落只计一次，两部分得分相加。
func fuse(dense, sparse []ScoredPassage, alpha float64, k int) []RetrievalItem {
	items := make(map[string]*RetrievalItem, len(dense)+len(sparse))
	order := make([]string, 0, len(dense)+len(sparse))
	get := func(p *Passage) *RetrievalItem {
		it, ok := items[p.ID]
		if !ok {
			it = &RetrievalItem{Passage: p}
			items[p.ID] = it
			order = append(order, p.ID)
		}
		return it
	}

	for _, h := range dense {
		get(h.Passage).DenseScore = clamp01(h.Score)
	}
	var maxSparse float64
	for _, h := range sparse {
		maxSparse = max(maxSparse, h.Score)
	}
	for _, h := range sparse {
		if maxSparse > 0 {
			get(h.Passage).SparseScore = h.Score / maxSparse
		}
	}

	out := make([]RetrievalItem, 0, len(order))
	for _, id := range order {
		it := items[id]
		it.Score = alpha*it.DenseScore + (1-alpha)*it.SparseScore
		if it.Score <= 0 {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].SparseScore != out[j].SparseScore {
			return out[i].SparseScore > out[j].SparseScore
		}
		return lessPassage(out[i].Passage, out[j].Passage)
	})
	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
