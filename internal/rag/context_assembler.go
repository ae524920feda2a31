package rag

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultContextBudget 默认上下文预算
const DefaultContextBudget = 2000

// PromptContext 组装后的提示上下文
type PromptContext struct {
	Query             string          `json:"query"`
	Passages          []RetrievalItem `json:"passages"`
	Text              string          `json:"text"`
	Tokens            int             `json:"tokens"`
	Budget            int             `json:"budget"`
	Dropped           int             `json:"dropped"`
	SourceDocumentIDs []string        `json:"sourceDocumentIds"`
}

// ContextAssembler 将检索结果按相关度拼装为有界上下文
type ContextAssembler struct {
	counter TokenCounter
}

// NewContextAssembler 创建组装器，counter 为 nil 时按字符计数
func NewContextAssembler(counter TokenCounter) *ContextAssembler {
	if counter == nil {
		counter = RuneCounter{}
	}
	return &ContextAssembler{counter: counter}
}

// Assemble 按得分降序依次加入段落直到预算用尽
// 至少包含一个段落，即使它本身超出预算。
func (a *ContextAssembler) Assemble(result *RetrievalResult, query string, budget int) PromptContext {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	pc := PromptContext{Query: query, Budget: budget}
	if result == nil || len(result.Items) == 0 {
		return pc
	}

	items := make([]RetrievalItem, len(result.Items))
	copy(items, result.Items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })

	var b strings.Builder
	seen := make(map[string]struct{})
	sepCost := a.counter.Count(passageSeparator)
	for i, item := range items {
		block := formatPassage(len(pc.Passages)+1, item.Passage)
		cost := a.counter.Count(block)
		if len(pc.Passages) > 0 {
			cost += sepCost
		}
		if len(pc.Passages) > 0 && pc.Tokens+cost > budget {
			pc.Dropped = len(items) - i
			break
		}
		if len(pc.Passages) > 0 {
			b.WriteString(passageSeparator)
		}
		b.WriteString(block)
		pc.Tokens += cost
		pc.Passages = append(pc.Passages, item)
		if _, ok := seen[item.Passage.DocumentID]; !ok {
			seen[item.Passage.DocumentID] = struct{}{}
			pc.SourceDocumentIDs = append(pc.SourceDocumentIDs, item.Passage.DocumentID)
		}
	}
	pc.Text = b.String()
	return pc
}

// passageSeparator 段落之间的分隔，计入预算
const passageSeparator = "\n\n"

func formatPassage(n int, p *Passage) string {
	if title := p.Metadata[MetaTitle]; title != "" {
		return fmt.Sprintf("[%d] %s：%s", n, title, p.Text)
	}
	return fmt.Sprintf("[%d] %s", n, p.Text)
}
