package generation

import (
	"fmt"
	"strings"

	"cmsreport/internal/analysis"
	"cmsreport/internal/rag"
)

// SystemPrompt 振动分析专家角色设定
const SystemPrompt = `你是一位专业的风电设备振动分析专家，具有丰富的CMS（状态监测系统）数据分析经验。
你的任务是分析风电机组的振动数据，并提供专业的诊断结论和建议。

请遵循以下原则：
1. 基于提供的振动数据和参考资料进行客观分析
2. 结合振动分析理论和实际经验
3. 提供明确的设备状态评估
4. 给出具体的维护建议
5. 使用专业但易懂的语言`

// Prompt 一次生成调用的提示词
type Prompt struct {
	System string
	User   string
}

// PromptInput 构造分析提示词所需的数据
type PromptInput struct {
	Basic         analysis.BasicInfo
	Measurements  []analysis.MeasurementResult
	Query         string
	Context       rag.PromptContext
	MinStatements int
}

// BuildPrompt 由测点特征与检索上下文构造分析提示词
func BuildPrompt(in PromptInput) Prompt {
	want := in.MinStatements
	if want <= 0 {
		want = DefaultMinStatements
	}

	var b strings.Builder
	b.WriteString("请分析以下风电机组振动数据：\n\n")
	b.WriteString("机组信息：\n")
	fmt.Fprintf(&b, "- 风场：%s\n", orUnknown(in.Basic.WindFarmName))
	fmt.Fprintf(&b, "- 机组号：%s\n", orUnknown(in.Basic.TurbineID))
	if !in.Basic.AnalysisTime.IsZero() {
		fmt.Fprintf(&b, "- 分析时间：%s\n", in.Basic.AnalysisTime.Format("2006-01-02 15:04"))
	}

	if len(in.Measurements) > 0 {
		b.WriteString("\n振动数据：\n")
		for _, m := range in.Measurements {
			fmt.Fprintf(&b, "- %s\n", m.Describe())
		}
	}
	if q := strings.TrimSpace(in.Query); q != "" {
		fmt.Fprintf(&b, "\n关注问题：%s\n", q)
	}
	if in.Context.Text != "" {
		b.WriteString("\n参考资料（引用时标注编号）：\n")
		b.WriteString(in.Context.Text)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n请从振动水平、频谱特征、趋势变化、故障诊断和维护建议几个方面给出至少%d条分析结论。\n", want)
	b.WriteString("要求：每条结论单独一行，以“1.”“2.”形式编号开头，每条结论独立完整，不要输出标题或总结段落。")

	return Prompt{System: SystemPrompt, User: b.String()}
}

// followUpPrompt 结论数量不足时的补充请求
func followUpPrompt(base Prompt, have []string, missing int) Prompt {
	var b strings.Builder
	b.WriteString(base.User)
	b.WriteString("\n\n已有结论：\n")
	for i, s := range have {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	fmt.Fprintf(&b, "\n请再补充%d条与上述不重复的分析结论，格式相同，从“1.”开始编号。", missing)
	return Prompt{System: base.System, User: b.String()}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "未知"
	}
	return s
}
