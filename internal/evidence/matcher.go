// Package evidence 将分析结论与图表配对。
//
// 配对按报告顺序贪心进行，结果只依赖输入顺序，便于报告审计：
//  1. 每条结论选取得分最高且未被使用的图表（得分需大于 0，同分取池中靠前者）；
//  2. 没有正分候选的结论按报告顺序依次领取剩余图表；
//  3. 图表用尽后，允许复用时剩余结论从与其最相关的图表开始复用，否则不配图。
package evidence

import (
	"errors"
	"strings"

	"cmsreport/internal/analysis"
	"cmsreport/internal/logger"
	"cmsreport/internal/metrics"

	"go.uber.org/zap"
)

const (
	categoryMatchScore = 10
	contentWordScore   = 5
)

// ErrChartPoolExhausted 图表数量少于结论数量，只作为提示，不会导致匹配失败
var ErrChartPoolExhausted = errors.New("图表池已用尽")

// MatchResult 匹配结果
type MatchResult struct {
	Pairs     []analysis.MatchedPair
	Charts    []analysis.ChartArtifact // 标记了 Consumed 的图表池副本
	Exhausted bool
}

// Warning 图表不足时返回 ErrChartPoolExhausted，否则返回 nil
func (r MatchResult) Warning() error {
	if r.Exhausted {
		return ErrChartPoolExhausted
	}
	return nil
}

// Matcher 结论与图表匹配器
type Matcher struct {
	reuse bool
	log   *zap.Logger
}

// NewMatcher 创建匹配器，reuse 控制图表用尽后是否复用
func NewMatcher(reuse bool, log *zap.Logger) *Matcher {
	return &Matcher{reuse: reuse, log: logger.OrNop(log)}
}

// Score 结论与图表的相关度
// 类别一致得 10 分加优先级分，结论中每个长度大于 2 的内容词出现在图表名称中得 5 分。
func Score(c analysis.ConclusionStatement, chart analysis.ChartArtifact) int {
	score := 0
	if c.Category == chart.Type {
		if p := c.Category.Priority(); p >= 0 {
			score += categoryMatchScore + len(analysis.PriorityOrder) - p
		}
	}
	label := strings.ToLower(chart.Label())
	for _, w := range analysis.ContentWords(c.Text) {
		if strings.Contains(label, w) {
			score += contentWordScore
		}
	}
	return score
}

// Match 为每条结论恰好生成一个配对，从不失败
func (m *Matcher) Match(conclusions []analysis.ConclusionStatement, pool []analysis.ChartArtifact) MatchResult {
	charts := make([]analysis.ChartArtifact, len(pool))
	copy(charts, pool)

	scores := make([][]int, len(conclusions))
	for i, c := range conclusions {
		scores[i] = make([]int, len(charts))
		for j, ch := range charts {
			scores[i][j] = Score(c, ch)
		}
	}

	uses := make([]int, len(charts))
	assigned := make([]int, len(conclusions))
	pairs := make([]analysis.MatchedPair, len(conclusions))
	for i, c := range conclusions {
		assigned[i] = -1
		pairs[i] = analysis.MatchedPair{Conclusion: c}
	}

	// 第一轮：按报告顺序取最高分的未用图表
	for i := range conclusions {
		best := -1
		for j := range charts {
			if uses[j] > 0 || scores[i][j] <= 0 {
				continue
			}
			if best < 0 || scores[i][j] > scores[i][best] {
				best = j
			}
		}
		if best >= 0 {
			assigned[i] = best
			uses[best]++
			pairs[i].Score = scores[i][best]
		}
	}

	// 第二轮：无正分候选的结论按池顺序领取
	next := 0
	for i := range conclusions {
		if assigned[i] >= 0 {
			continue
		}
		for next < len(charts) && uses[next] > 0 {
			next++
		}
		if next >= len(charts) {
			break
		}
		assigned[i] = next
		uses[next]++
		pairs[i].Score = scores[i][next]
		pairs[i].Positional = true
	}

	exhausted := false
	for i := range conclusions {
		if assigned[i] >= 0 {
			continue
		}
		exhausted = true
		if !m.reuse || len(charts) == 0 {
			continue
		}
		best := 0
		for j := 1; j < len(charts); j++ {
			switch {
			case scores[i][j] > scores[i][best]:
				best = j
			case scores[i][j] == scores[i][best] && uses[j] < uses[best]:
				best = j
			}
		}
		assigned[i] = best
		uses[best]++
		pairs[i].Score = scores[i][best]
		pairs[i].Reused = true
		metrics.EvidenceReusedTotal.Inc()
	}

	for j := range charts {
		charts[j].Consumed = uses[j] > 0
	}
	for i, j := range assigned {
		if j >= 0 {
			pairs[i].Chart = &charts[j]
		}
	}

	if exhausted {
		m.log.Warn("图表数量少于结论数量",
			zap.Int("conclusions", len(conclusions)),
			zap.Int("charts", len(charts)),
			zap.Bool("reuse", m.reuse),
			zap.Error(ErrChartPoolExhausted),
		)
	}
	return MatchResult{Pairs: pairs, Charts: charts, Exhausted: exhausted}
}
