package rag

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// BM25 参数
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Tokenize 词法检索分词
// 字母数字连续串作为一个词（小写），汉字逐字成词并追加相邻二元组。
func Tokenize(text string) []string {
	var tokens []string
	var word strings.Builder
	var prevHan rune

	flushWord := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			tokens = append(tokens, string(r))
			if prevHan != 0 {
				tokens = append(tokens, string([]rune{prevHan, r}))
			}
			prevHan = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
			prevHan = 0
		default:
			flushWord()
			prevHan = 0
		}
	}
	flushWord()
	return tokens
}

type posting struct {
	doc int
	tf  int
}

// LexicalIndex BM25 倒排索引，构建后只读
type LexicalIndex struct {
	passages []*Passage
	postings map[string][]posting
	docLen   []int
	avgLen   float64
}

// BuildLexicalIndex 基于段落集合构建倒排索引
func BuildLexicalIndex(passages []*Passage) *LexicalIndex {
	idx := &LexicalIndex{
		passages: passages,
		postings: make(map[string][]posting),
		docLen:   make([]int, len(passages)),
	}
	total := 0
	for i, p := range passages {
		tokens := Tokenize(p.Text)
		idx.docLen[i] = len(tokens)
		total += len(tokens)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for t, n := range tf {
			idx.postings[t] = append(idx.postings[t], posting{doc: i, tf: n})
		}
	}
	if len(passages) > 0 {
		idx.avgLen = float64(total) / float64(len(passages))
	}
	return idx
}

// Search 返回 BM25 得分大于 0 的前 k 个段落
func (l *LexicalIndex) Search(query string, k int, filter Filter) []ScoredPassage {
	if l == nil || len(l.passages) == 0 || k <= 0 {
		return nil
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	n := float64(len(l.passages))
	scores := make(map[int]float64)
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		plist := l.postings[term]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range plist {
			if !l.passages[p.doc].Metadata.Matches(filter) {
				continue
			}
			tf := float64(p.tf)
			norm := 1 - bm25B + bm25B*float64(l.docLen[p.doc])/l.avgLen
			scores[p.doc] += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
		}
	}

	out := make([]ScoredPassage, 0, len(scores))
	for doc, s := range scores {
		if s > 0 {
			out = append(out, ScoredPassage{Passage: l.passages[doc], Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return lessPassage(out[i].Passage, out[j].Passage)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// lessPassage 同分时的稳定次序：文档 ID 升序、序号升序
func lessPassage(a, b *Passage) bool {
	if a.DocumentID != b.DocumentID {
		return a.DocumentID < b.DocumentID
	}
	if a.Ordinal != b.Ordinal {
		return a.Ordinal < b.Ordinal
	}
	return a.ID < b.ID
}
