package rag

import (
	"fmt"
	"sort"
)

// 段落元数据的固定键
const (
	MetaCategory   = "category"    // 知识类别，如 故障诊断 / 分析方法
	MetaOrigin     = "origin"      // 来源文件名或 URL
	MetaTitle      = "title"       // 文档标题
	MetaDeviceType = "device_type" // 适用设备类型
	MetaFaultType  = "fault_type"  // 故障类型
)

// Metadata 段落元数据，仅允许字符串值
type Metadata map[string]string

// Filter 元数据精确匹配条件，所有键值都需相等
type Filter map[string]string

// Matches 判断元数据是否满足过滤条件
func (m Metadata) Matches(f Filter) bool {
	for k, v := range f {
		if m[k] != v {
			return false
		}
	}
	return true
}

// Clone 复制元数据
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Passage 可检索的最小知识单元，入库后不可变
type Passage struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	Metadata   Metadata  `json:"metadata,omitempty"`
}

// PassageID 由文档 ID 与序号生成稳定的段落 ID
func PassageID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s#%04d", documentID, ordinal)
}

// Hit 向量检索命中
type Hit struct {
	Passage  *Passage `json:"passage"`
	Distance float64  `json:"distance"`
	Score    float64  `json:"score"` // 1 - Distance
}

// ScoredPassage 单一检索源返回的候选
type ScoredPassage struct {
	Passage *Passage
	Score   float64
}

// RetrievalItem 混合检索结果项
type RetrievalItem struct {
	Passage     *Passage `json:"passage"`
	Score       float64  `json:"score"`
	DenseScore  float64  `json:"dense_score"`
	SparseScore float64  `json:"sparse_score"`
	Rank        int      `json:"rank"`
}

// 检索模式
const (
	ModeHybrid     = "hybrid"
	ModeDenseOnly  = "dense_only"
	ModeSparseOnly = "sparse_only"
)

// RetrievalResult 一次查询的排序结果，不持久化
type RetrievalResult struct {
	Query string          `json:"query"`
	Mode  string          `json:"mode"`
	Items []RetrievalItem `json:"items"`
}

// DocumentIDs 结果涉及的源文档 ID（去重，按排名先后）
func (r *RetrievalResult) DocumentIDs() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(r.Items))
	ids := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		id := item.Passage.DocumentID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// sortPassages 按文档 ID、序号排序，保证遍历顺序稳定
func sortPassages(ps []*Passage) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].DocumentID != ps[j].DocumentID {
			return ps[i].DocumentID < ps[j].DocumentID
		}
		return ps[i].Ordinal < ps[j].Ordinal
	})
}
