// Package analysis 定义振动分析结论、图表与测点数据的领域模型，
// 以及结论主题分类所用的固定词表。
package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category 结论主题类别，同时也是图表的声明类型
type Category string

const (
	CategoryTrend       Category = "trend"
	CategorySpectrum    Category = "spectrum"
	CategoryEnvelope    Category = "envelope"
	CategoryOrder       Category = "order"
	CategoryWaterfall   Category = "waterfall"
	CategoryStatistical Category = "statistical"
	CategoryPhase       Category = "phase"
	CategoryCorrelation Category = "correlation"
	CategoryModal       Category = "modal"
	CategoryTransient   Category = "transient"
	CategoryGeneral     Category = "general"
)

// PriorityOrder 类别优先级，靠前的类别在匹配时获得更高加分
var PriorityOrder = []Category{
	CategoryTrend,
	CategorySpectrum,
	CategoryEnvelope,
	CategoryOrder,
	CategoryWaterfall,
	CategoryStatistical,
	CategoryPhase,
	CategoryCorrelation,
	CategoryModal,
	CategoryTransient,
	CategoryGeneral,
}

// Lexicon 类别关键词表（小写匹配）
var Lexicon = map[Category][]string{
	CategoryTrend:       {"trend", "increasing", "rising", "decreasing", "growth", "degradation", "趋势", "上升", "增长", "下降", "劣化", "逐步"},
	CategorySpectrum:    {"spectrum", "spectral", "frequency", "fft", "harmonic", "频谱", "频率", "谐波", "主频", "边频"},
	CategoryEnvelope:    {"envelope", "bearing", "outer race", "inner race", "rolling element", "cage", "bpfo", "bpfi", "包络", "轴承", "外圈", "内圈", "滚动体", "保持架"},
	CategoryOrder:       {"order", "speed", "rpm", "rotational", "阶次", "转速", "转频"},
	CategoryWaterfall:   {"waterfall", "cascade", "瀑布"},
	CategoryStatistical: {"rms", "peak", "kurtosis", "crest factor", "statistic", "amplitude", "有效值", "峰值", "峭度", "统计", "幅值", "烈度"},
	CategoryPhase:       {"phase", "相位"},
	CategoryCorrelation: {"correlation", "coherence", "相关", "相干"},
	CategoryModal:       {"modal", "mode shape", "natural frequency", "resonance", "模态", "固有频率", "共振"},
	CategoryTransient:   {"transient", "impact", "shock", "impulse", "瞬态", "冲击"},
}

// chartTypeAliases 图表生成方常用的类型名
var chartTypeAliases = map[string]Category{
	"time_series":        CategoryStatistical,
	"timeseries":         CategoryStatistical,
	"frequency":          CategorySpectrum,
	"frequency_spectrum": CategorySpectrum,
	"fft":                CategorySpectrum,
	"bearing":            CategoryEnvelope,
	"bearing_analysis":   CategoryEnvelope,
	"envelope_spectrum":  CategoryEnvelope,
	"speed":              CategoryOrder,
	"order_tracking":     CategoryOrder,
	"overview":           CategoryGeneral,
	"turbine_overview":   CategoryGeneral,
}

// Valid 是否为已知类别
func (c Category) Valid() bool {
	return c.Priority() >= 0
}

// Priority 返回类别在优先级表中的位置，未知返回 -1
func (c Category) Priority() int {
	for i, p := range PriorityOrder {
		if p == c {
			return i
		}
	}
	return -1
}

// ParseCategory 解析类别名或图表类型别名，无法识别时返回 general
func ParseCategory(s string) Category {
	key := strings.ToLower(strings.TrimSpace(s))
	if c := Category(key); c.Valid() {
		return c
	}
	if c, ok := chartTypeAliases[key]; ok {
		return c
	}
	return CategoryGeneral
}

// Classify 按关键词命中数确定结论类别
// 命中数相同时取优先级靠前的类别，无任何命中时返回 general
func Classify(text string) Category {
	lower := strings.ToLower(text)
	best := CategoryGeneral
	bestHits := 0
	for _, c := range PriorityOrder {
		hits := 0
		for _, kw := range Lexicon[c] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = c, hits
		}
	}
	return best
}

// ContentWords 提取长度大于 2 的内容词（小写）
// 连续的字母数字（含汉字）视为一个词
func ContentWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		words = append(words, f)
	}
	return words
}
