package render

import (
	"bytes"
	"fmt"
	"strings"
	texttemplate "text/template"
	"time"

	reporttpl "cmsreport/internal/template"
)

// epoch 未提供生成时间时写入元数据的固定时间
var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultPlaceholder 可选变量缺失且没有默认值时的占位文本
const DefaultPlaceholder = "—"

// knownDefaults 常用字段缺失时的默认文本
var knownDefaults = map[string]string{
	"analyst_name":                reporttpl.DefaultAnalyst,
	"analysis_summary":            reporttpl.DefaultAnalysisResult,
	"measurement_points_analysis": reporttpl.DefaultPointAnalysis,
	"alarm_info":                  reporttpl.DefaultAlarmInfo,
	"maintenance_recommendations": reporttpl.DefaultMaintenance,
	"trend_analysis":              reporttpl.DefaultTrendAnalysis,
}

// FillVariables 补全渲染变量
// 缺失的变量依次取声明默认值、常用字段默认值、占位文本；列表值展开为 "- " 开头的多行。
// 调用方提供的值压成单行，行首的标记字符加 lineGuard，不会被解析为标记。
func FillVariables(t *reporttpl.Template, vars map[string]interface{}, placeholder string) (map[string]interface{}, error) {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	out := make(map[string]interface{}, len(vars)+len(t.Variables))
	for k, v := range vars {
		out[k] = normalize(v)
	}

	fill := func(name, def string) {
		if v, ok := out[name]; ok && !blank(v) {
			return
		}
		switch {
		case def != "":
			out[name] = def
		case knownDefaults[name] != "":
			out[name] = knownDefaults[name]
		default:
			out[name] = placeholder
		}
	}
	for _, v := range t.Variables {
		fill(v.Name, v.Default)
	}
	refs, err := reporttpl.ReferencedVariables(t.Body)
	if err != nil {
		return nil, err
	}
	for _, r := range refs {
		fill(r, "")
	}
	return out, nil
}

func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		return guardLine(flatten(x))
	case []string:
		if len(x) == 0 {
			return ""
		}
		items := make([]string, len(x))
		for i, it := range x {
			items[i] = flatten(it)
		}
		return "- " + strings.Join(items, "\n- ")
	case []interface{}:
		items := make([]string, 0, len(x))
		for _, it := range x {
			items = append(items, fmt.Sprint(it))
		}
		return normalize(items)
	}
	return v
}

// lineGuard 零宽字符，出现在行首时该行按普通段落解析，输出前去除
const lineGuard = "\u2060"

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ", lineGuard, "")

func flatten(s string) string {
	return lineBreaks.Replace(s)
}

// guardLine 值可能独占一行，以标记字符开头时加保护
func guardLine(s string) string {
	t := strings.TrimLeft(s, " \t")
	if t == "" {
		return s
	}
	switch t[0] {
	case '@', '#', '|', '-', '*':
		return lineGuard + s
	}
	return s
}

func unguard(s string) string {
	return strings.ReplaceAll(s, lineGuard, "")
}

func blank(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

// Build 执行模板得到块文档
// 必填变量缺失返回 template.ErrSchemaMismatch。
func Build(t *reporttpl.Template, data Data, placeholder string) (*Document, error) {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	if err := t.CheckData(data.Variables); err != nil {
		return nil, err
	}
	vars, err := FillVariables(t, data.Variables, placeholder)
	if err != nil {
		return nil, err
	}

	tt, err := texttemplate.New(t.Name).Funcs(reporttpl.FuncMap).Option("missingkey=zero").Parse(t.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", reporttpl.ErrInvalidTemplate, err)
	}
	var buf bytes.Buffer
	if err := tt.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("执行模板 %s v%d 失败: %w", t.Name, t.Version, err)
	}

	at := data.GeneratedAt
	if at.IsZero() {
		at = epoch
	}
	blocks := parseMarkup(buf.String(), data, placeholder)
	return &Document{
		Title:       firstHeading(blocks),
		GeneratedAt: at.UTC().Truncate(time.Second),
		Blocks:      blocks,
	}, nil
}
