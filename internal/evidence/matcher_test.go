package evidence

import (
	"fmt"
	"testing"

	"cmsreport/internal/analysis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chart(id string, typ analysis.Category, name string) analysis.ChartArtifact {
	return analysis.ChartArtifact{ID: id, Type: typ, Name: name, Path: "charts/" + id + ".png"}
}

func conclusion(ord int, text string) analysis.ConclusionStatement {
	return analysis.NewConclusion(ord, text)
}

func TestScore(t *testing.T) {
	c := analysis.ConclusionStatement{Text: "vibration trend rising", Category: analysis.CategoryTrend}
	// 类别一致 10 + 优先级 11，"vibration" 与 "trend" 出现在名称中各 5
	assert.Equal(t, 31, Score(c, chart("a", analysis.CategoryTrend, "Vibration Trend")))
	assert.Equal(t, 10, Score(c, chart("b", analysis.CategorySpectrum, "vibration trend")))
	assert.Equal(t, 0, Score(c, chart("c", analysis.CategorySpectrum, "FFT")))

	general := analysis.ConclusionStatement{Text: "ok", Category: analysis.CategoryGeneral}
	assert.Equal(t, 11, Score(general, chart("d", analysis.CategoryGeneral, "")))
	waterfall := analysis.ConclusionStatement{Category: analysis.CategoryWaterfall}
	assert.Equal(t, 17, Score(waterfall, chart("e", analysis.CategoryWaterfall, "")))
}

func TestMatchUniqueWhenPoolLargeEnough(t *testing.T) {
	conclusions := []analysis.ConclusionStatement{
		conclusion(1, "振动趋势逐步上升"),
		conclusion(2, "包络谱出现轴承外圈故障频率"),
		conclusion(3, "设备整体运行平稳"),
	}
	pool := []analysis.ChartArtifact{
		chart("spectrum", analysis.CategorySpectrum, "频域谱分析"),
		chart("env", analysis.CategoryEnvelope, "轴承诊断分析"),
		chart("trend", analysis.CategoryTrend, "振动趋势分析"),
		chart("wave", analysis.CategoryStatistical, "时域波形分析"),
	}

	res := NewMatcher(true, nil).Match(conclusions, pool)
	require.Len(t, res.Pairs, 3)
	assert.False(t, res.Exhausted)
	assert.NoError(t, res.Warning())

	assert.Equal(t, "trend", res.Pairs[0].Chart.ID)
	assert.Equal(t, "env", res.Pairs[1].Chart.ID)
	// 无正分的结论按池顺序领取第一个未用图表
	assert.Equal(t, "spectrum", res.Pairs[2].Chart.ID)
	assert.True(t, res.Pairs[2].Positional)

	seen := map[string]bool{}
	for _, p := range res.Pairs {
		require.NotNil(t, p.Chart)
		assert.False(t, seen[p.Chart.ID])
		seen[p.Chart.ID] = true
		assert.False(t, p.Reused)
	}
	assert.False(t, res.Charts[3].Consumed)
	assert.True(t, res.Charts[0].Consumed)
	assert.False(t, pool[0].Consumed, "调用方的图表池不应被修改")
}

func TestMatchPropertyPoolAtLeastConclusions(t *testing.T) {
	cats := analysis.PriorityOrder
	for n := 1; n <= 6; n++ {
		for m := n; m <= n+3; m++ {
			t.Run(fmt.Sprintf("N=%d,M=%d", n, m), func(t *testing.T) {
				var cs []analysis.ConclusionStatement
				for i := 0; i < n; i++ {
					cs = append(cs, analysis.ConclusionStatement{Ordinal: i + 1, Text: "x", Category: cats[i%3]})
				}
				var pool []analysis.ChartArtifact
				for j := 0; j < m; j++ {
					pool = append(pool, chart(fmt.Sprintf("c%d", j), cats[j%4], ""))
				}
				res := NewMatcher(true, nil).Match(cs, pool)
				require.Len(t, res.Pairs, n)
				used := map[string]int{}
				for _, p := range res.Pairs {
					require.NotNil(t, p.Chart)
					used[p.Chart.ID]++
				}
				for id, count := range used {
					assert.Equal(t, 1, count, id)
				}
			})
		}
	}
}

func TestMatchPropertyEveryChartUsedBeforeReuse(t *testing.T) {
	for m := 1; m <= 4; m++ {
		for n := m + 1; n <= m+4; n++ {
			t.Run(fmt.Sprintf("N=%d,M=%d", n, m), func(t *testing.T) {
				var cs []analysis.ConclusionStatement
				for i := 0; i < n; i++ {
					cs = append(cs, analysis.ConclusionStatement{Ordinal: i + 1, Text: "趋势", Category: analysis.CategoryTrend})
				}
				var pool []analysis.ChartArtifact
				for j := 0; j < m; j++ {
					pool = append(pool, chart(fmt.Sprintf("c%d", j), analysis.CategorySpectrum, ""))
				}
				res := NewMatcher(true, nil).Match(cs, pool)
				require.True(t, res.Exhausted)
				assert.ErrorIs(t, res.Warning(), ErrChartPoolExhausted)

				firstReuse := -1
				used := map[string]bool{}
				for i, p := range res.Pairs {
					require.NotNil(t, p.Chart)
					if p.Reused {
						if firstReuse < 0 {
							firstReuse = i
							assert.Len(t, used, m, "复用前所有图表都应已使用")
						}
					} else {
						assert.False(t, used[p.Chart.ID])
					}
					used[p.Chart.ID] = true
				}
				assert.Equal(t, m, firstReuse)
				for _, c := range res.Charts {
					assert.True(t, c.Consumed)
				}
			})
		}
	}
}

// 5 条结论、3 张不同类型图表：5 个配对，其中 2 个复用或为空
func TestMatchFiveConclusionsThreeCharts(t *testing.T) {
	conclusions := []analysis.ConclusionStatement{
		conclusion(1, "振动趋势逐步上升"),
		conclusion(2, "频谱出现明显谐波"),
		conclusion(3, "包络谱出现外圈故障特征"),
		conclusion(4, "有效值处于注意区间"),
		conclusion(5, "建议缩短巡检周期"),
	}
	pool := []analysis.ChartArtifact{
		chart("trend", analysis.CategoryTrend, "振动趋势分析"),
		chart("spectrum", analysis.CategorySpectrum, "频域谱分析"),
		chart("envelope", analysis.CategoryEnvelope, "轴承诊断分析"),
	}

	reuse := NewMatcher(true, nil).Match(conclusions, pool)
	require.Len(t, reuse.Pairs, 5)
	assert.True(t, reuse.Exhausted)
	assert.Equal(t, "trend", reuse.Pairs[0].Chart.ID)
	assert.Equal(t, "spectrum", reuse.Pairs[1].Chart.ID)
	assert.Equal(t, "envelope", reuse.Pairs[2].Chart.ID)
	reused := 0
	for _, p := range reuse.Pairs {
		require.NotNil(t, p.Chart)
		if p.Reused {
			reused++
		}
	}
	assert.Equal(t, 2, reused)
	// 同为零分时复用次数最少、池中靠前的图表
	assert.Equal(t, "trend", reuse.Pairs[3].Chart.ID)
	assert.Equal(t, "spectrum", reuse.Pairs[4].Chart.ID)

	omit := NewMatcher(false, nil).Match(conclusions, pool)
	require.Len(t, omit.Pairs, 5)
	assert.Nil(t, omit.Pairs[3].Chart)
	assert.Nil(t, omit.Pairs[4].Chart)
	for i, p := range omit.Pairs {
		assert.Equal(t, conclusions[i], p.Conclusion)
	}
}

func TestMatchReuseStartsFromHighestRelevance(t *testing.T) {
	conclusions := []analysis.ConclusionStatement{
		conclusion(1, "振动趋势逐步上升"),
		conclusion(2, "趋势持续增长"),
	}
	pool := []analysis.ChartArtifact{
		chart("spectrum", analysis.CategorySpectrum, "频域谱分析"),
		chart("trend", analysis.CategoryTrend, "振动趋势分析"),
	}
	res := NewMatcher(true, nil).Match(conclusions, pool)
	assert.Equal(t, "trend", res.Pairs[0].Chart.ID)
	assert.Equal(t, "spectrum", res.Pairs[1].Chart.ID)
	assert.True(t, res.Pairs[1].Positional)

	res = NewMatcher(true, nil).Match(append(conclusions, conclusion(3, "趋势上升")), pool)
	require.True(t, res.Pairs[2].Reused)
	assert.Equal(t, "trend", res.Pairs[2].Chart.ID)
}

func TestMatchEmptyInputs(t *testing.T) {
	res := NewMatcher(true, nil).Match(nil, nil)
	assert.Empty(t, res.Pairs)
	assert.False(t, res.Exhausted)

	res = NewMatcher(true, nil).Match([]analysis.ConclusionStatement{conclusion(1, "x")}, nil)
	require.Len(t, res.Pairs, 1)
	assert.Nil(t, res.Pairs[0].Chart)
	assert.True(t, res.Exhausted)
}
