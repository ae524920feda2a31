package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"cmsreport/internal/logger"
	"cmsreport/internal/metrics"
)

var (
	// ErrDimensionMismatch 向量维度与索引不一致
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrDuplicatePassage 段落 ID 已存在
	ErrDuplicatePassage = errors.New("duplicate passage id")
	// ErrInvalidPassage 段落缺少必要字段
	ErrInvalidPassage = errors.New("invalid passage")
)

// PassageStore 索引持久化，Commit 要求原子提交
type PassageStore interface {
	// Load 加载全部段落及已提交的代数
	Load(ctx context.Context) ([]*Passage, uint64, error)
	// Commit 在一个事务中删除 deleteDocs 下的段落并写入 add
	Commit(ctx context.Context, generation uint64, add []*Passage, deleteDocs []string) error
}

// snapshot 不可变的索引视图，读者持有期间不受写入影响
type snapshot struct {
	generation uint64
	passages   []*Passage
	byID       map[string]*Passage
	lexical    *LexicalIndex
}

func newSnapshot(gen uint64, passages []*Passage) *snapshot {
	sortPassages(passages)
	byID := make(map[string]*Passage, len(passages))
	for _, p := range passages {
		byID[p.ID] = p
	}
	return &snapshot{
		generation: gen,
		passages:   passages,
		byID:       byID,
		lexical:    BuildLexicalIndex(passages),
	}
}

// Index 向量索引
// 读取无锁，读取当前快照；写入串行化，先持久化再整体替换快照，
// 因此一个批次要么全部可见要么全部不可见。
type Index struct {
	dim     int
	store   PassageStore
	log     *zap.Logger
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// IndexOption 索引选项
type IndexOption func(*Index)

// WithPassageStore 设置持久化存储
func WithPassageStore(s PassageStore) IndexOption {
	return func(i *Index) { i.store = s }
}

// WithIndexLogger 设置日志
func WithIndexLogger(l *zap.Logger) IndexOption {
	return func(i *Index) { i.log = l }
}

// NewIndex 创建空索引
func NewIndex(dim int, opts ...IndexOption) *Index {
	idx := &Index{dim: dim}
	for _, opt := range opts {
		opt(idx)
	}
	idx.log = logger.OrNop(idx.log)
	idx.current.Store(newSnapshot(0, nil))
	return idx
}

// OpenIndex 创建索引并从存储恢复
func OpenIndex(ctx context.Context, dim int, store PassageStore, opts ...IndexOption) (*Index, error) {
	idx := NewIndex(dim, append(opts, WithPassageStore(store))...)
	passages, gen, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载索引失败: %w", err)
	}
	for _, p := range passages {
		if len(p.Embedding) != dim {
			return nil, fmt.Errorf("%w: passage %s has %d, index %d", ErrDimensionMismatch, p.ID, len(p.Embedding), dim)
		}
	}
	idx.publish(newSnapshot(gen, passages))
	idx.log.Info("索引已加载", zap.Int("passages", len(passages)), zap.Uint64("generation", gen))
	return idx, nil
}

// Dimension 索引维度
func (i *Index) Dimension() int { return i.dim }

// Generation 当前已发布的代数，每次成功写入加一
func (i *Index) Generation() uint64 { return i.current.Load().generation }

// Len 段落总数
func (i *Index) Len() int { return len(i.current.Load().passages) }

// Get 按 ID 获取段落
func (i *Index) Get(id string) (*Passage, bool) {
	p, ok := i.current.Load().byID[id]
	return p, ok
}

// Documents 已索引的文档 ID 及其段落数
func (i *Index) Documents() map[string]int {
	out := make(map[string]int)
	for _, p := range i.current.Load().passages {
		out[p.DocumentID]++
	}
	return out
}

// Add 原子追加一批段落，任何一条校验或持久化失败则整批不生效
func (i *Index) Add(ctx context.Context, passages []*Passage) error {
	return i.apply(ctx, passages, nil)
}

// Rebuild 用新段落整体替换某文档，替换前后读者只会看到完整的旧版或新版
func (i *Index) Rebuild(ctx context.Context, documentID string, passages []*Passage) error {
	for _, p := range passages {
		if p.DocumentID != documentID {
			return fmt.Errorf("%w: passage %s belongs to %q, not %q", ErrInvalidPassage, p.ID, p.DocumentID, documentID)
		}
	}
	return i.apply(ctx, passages, []string{documentID})
}

// DeleteDocument 删除文档的全部段落
func (i *Index) DeleteDocument(ctx context.Context, documentID string) error {
	return i.apply(ctx, nil, []string{documentID})
}

func (i *Index) apply(ctx context.Context, add []*Passage, deleteDocs []string) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	cur := i.current.Load()
	removed := make(map[string]struct{}, len(deleteDocs))
	for _, d := range deleteDocs {
		removed[d] = struct{}{}
	}

	kept := make([]*Passage, 0, len(cur.passages)+len(add))
	for _, p := range cur.passages {
		if _, ok := removed[p.DocumentID]; !ok {
			kept = append(kept, p)
		}
	}
	exists := make(map[string]struct{}, len(kept)+len(add))
	for _, p := range kept {
		exists[p.ID] = struct{}{}
	}
	for _, p := range add {
		if err := i.validate(p); err != nil {
			return err
		}
		if _, dup := exists[p.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicatePassage, p.ID)
		}
		exists[p.ID] = struct{}{}
	}

	gen := cur.generation + 1
	if i.store != nil {
		if err := i.store.Commit(ctx, gen, add, deleteDocs); err != nil {
			return fmt.Errorf("索引提交失败: %w", err)
		}
	}

	next := append(kept, clonePassages(add)...)
	i.publish(newSnapshot(gen, next))
	i.log.Debug("索引已更新",
		zap.Int("added", len(add)),
		zap.Strings("replaced_documents", deleteDocs),
		zap.Uint64("generation", gen),
	)
	return nil
}

func (i *Index) publish(s *snapshot) {
	i.current.Store(s)
	metrics.IndexPassages.Set(float64(len(s.passages)))
	metrics.IndexGeneration.Set(float64(s.generation))
}

func (i *Index) validate(p *Passage) error {
	if p == nil || p.ID == "" || p.DocumentID == "" || p.Text == "" {
		return ErrInvalidPassage
	}
	if len(p.Embedding) != i.dim {
		return fmt.Errorf("%w: passage %s has %d, index %d", ErrDimensionMismatch, p.ID, len(p.Embedding), i.dim)
	}
	return nil
}

// Search 返回与查询向量余弦距离最小的 k 个段落
// filter 在取前 k 之前生效，因此结果全部满足过滤条件。
func (i *Index) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != i.dim {
		return nil, fmt.Errorf("%w: query has %d, index %d", ErrDimensionMismatch, len(query), i.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	snap := i.current.Load()
	hits := make([]Hit, 0, len(snap.passages))
	for _, p := range snap.passages {
		if !p.Metadata.Matches(filter) {
			continue
		}
		d := CosineDistance(query, p.Embedding)
		hits = append(hits, Hit{Passage: p, Distance: d, Score: 1 - d})
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return lessPassage(hits[a].Passage, hits[b].Passage)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SearchLexical 在当前快照上做 BM25 检索
func (i *Index) SearchLexical(query string, k int, filter Filter) []ScoredPassage {
	return i.current.Load().lexical.Search(query, k, filter)
}

func clonePassages(ps []*Passage) []*Passage {
	out := make([]*Passage, len(ps))
	for j, p := range ps {
		cp := *p
		cp.Embedding = append([]float32(nil), p.Embedding...)
		cp.Metadata = p.Metadata.Clone()
		out[j] = &cp
	}
	return out
}
