package analysis

import "strings"

// SectionKind 结论在报告中归入的章节
type SectionKind string

const (
	SectionAlarm       SectionKind = "alarm"
	SectionMaintenance SectionKind = "maintenance"
	SectionTrend       SectionKind = "trend"
	SectionAnalysis    SectionKind = "analysis"
)

var sectionKeywords = []struct {
	kind  SectionKind
	words []string
}{
	{SectionAlarm, []string{"报警", "异常", "故障", "超标", "警告", "alarm", "fault", "abnormal"}},
	{SectionMaintenance, []string{"维护", "保养", "建议", "检修", "更换", "maintenance", "recommend", "replace", "inspect"}},
	{SectionTrend, []string{"趋势", "变化", "监测", "跟踪", "trend", "monitor"}},
}

// SectionOf 判断结论归属章节，按报警、维护、趋势的顺序匹配
func SectionOf(text string) SectionKind {
	lower := strings.ToLower(text)
	for _, s := range sectionKeywords {
		for _, w := range s.words {
			if strings.Contains(lower, w) {
				return s.kind
			}
		}
	}
	return SectionAnalysis
}

// GroupBySection 按章节分组结论文本，保持原有顺序，忽略占位结论
func GroupBySection(conclusions []ConclusionStatement) map[SectionKind][]string {
	groups := make(map[SectionKind][]string)
	for _, c := range conclusions {
		if c.Placeholder {
			continue
		}
		kind := SectionOf(c.Text)
		groups[kind] = append(groups[kind], c.Text)
	}
	return groups
}
