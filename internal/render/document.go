// Package render 把模板执行为与格式无关的块文档，再由各格式编码器输出。
//
// 模板正文执行后得到按行书写的轻量标记：
//
//	# 标题 / ## 二级标题 / ### 三级标题
//	- 列表项
//	| 单元格 | 单元格 |   （第一行为表头）
//	@conclusions        （结论及其证据图表）
//	@measurements       （测点特征表）
//	@figure 路径 说明     （单独插图）
//
// 其余非空行均为段落。@figure 只引用本次匹配到的图表路径。
// 所有编码器按同一顺序输出同一组块。
package render

import (
	"fmt"
	"strings"
	"time"

	"cmsreport/internal/analysis"
)

// BlockKind 块类型
type BlockKind string

const (
	BlockHeading     BlockKind = "heading"
	BlockParagraph   BlockKind = "paragraph"
	BlockList        BlockKind = "list"
	BlockTable       BlockKind = "table"
	BlockFigure      BlockKind = "figure"
	BlockConclusions BlockKind = "conclusions"
)

const (
	directiveConclusions  = "@conclusions"
	directiveMeasurements = "@measurements"
	directiveFigure       = "@figure "
)

// Figure 图表引用
type Figure struct {
	Path    string `json:"path"`
	Caption string `json:"caption"`
}

// ConclusionEntry 结论段落中的一条
type ConclusionEntry struct {
	Ordinal     int               `json:"ordinal"`
	Text        string            `json:"text"`
	Category    analysis.Category `json:"category"`
	Placeholder bool              `json:"placeholder,omitempty"`
	Reused      bool              `json:"reused,omitempty"`
	Figure      *Figure           `json:"figure,omitempty"`
}

// Block 文档块
type Block struct {
	Kind        BlockKind         `json:"kind"`
	Level       int               `json:"level,omitempty"`
	Text        string            `json:"text,omitempty"`
	Items       []string          `json:"items,omitempty"`
	Rows        [][]string        `json:"rows,omitempty"`
	Figure      *Figure           `json:"figure,omitempty"`
	Conclusions []ConclusionEntry `json:"conclusions,omitempty"`
}

// Header 表头行
func (b Block) Header() []string {
	if len(b.Rows) == 0 {
		return nil
	}
	return b.Rows[0]
}

// Body 表体行
func (b Block) Body() [][]string {
	if len(b.Rows) < 2 {
		return nil
	}
	return b.Rows[1:]
}

// Document 与格式无关的报告文档
type Document struct {
	Title       string    `json:"title"`
	GeneratedAt time.Time `json:"generated_at"`
	Blocks      []Block   `json:"blocks"`
}

// Data 渲染输入
type Data struct {
	Variables    map[string]interface{}
	Pairs        []analysis.MatchedPair
	Measurements []analysis.MeasurementResult
	// GeneratedAt 写入 PDF/DOCX 元数据的时间，同一输入多次渲染结果一致
	GeneratedAt time.Time
}

// parseMarkup 将模板执行结果解析为块
func parseMarkup(text string, data Data, placeholder string) []Block {
	var (
		blocks []Block
		list   []string
		table  [][]string
	)
	charts := make(map[string]bool, len(data.Pairs))
	for _, p := range data.Pairs {
		if p.Chart != nil && p.Chart.Path != "" {
			charts[p.Chart.Path] = true
		}
	}
	flush := func() {
		if len(list) > 0 {
			blocks = append(blocks, Block{Kind: BlockList, Items: list})
			list = nil
		}
		if len(table) > 0 {
			blocks = append(blocks, Block{Kind: BlockTable, Rows: table})
			table = nil
		}
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flush()
		case line == directiveConclusions:
			flush()
			blocks = append(blocks, conclusionsBlock(data.Pairs))
		case line == directiveMeasurements:
			flush()
			if len(data.Measurements) > 0 {
				blocks = append(blocks, measurementTable(data.Measurements, placeholder))
			}
		case strings.HasPrefix(line, directiveFigure):
			flush()
			ref := strings.SplitN(strings.TrimSpace(unguard(line[len(directiveFigure):])), " ", 2)
			fig := &Figure{Path: ref[0], Caption: ref[0]}
			if len(ref) == 2 {
				fig.Caption = strings.TrimSpace(ref[1])
			}
			if !charts[fig.Path] {
				// 未匹配的路径只保留图注
				blocks = append(blocks, Block{Kind: BlockParagraph, Text: fig.Caption})
				continue
			}
			blocks = append(blocks, Block{Kind: BlockFigure, Figure: fig})
		case headingLevel(line) > 0:
			flush()
			lvl := headingLevel(line)
			blocks = append(blocks, Block{Kind: BlockHeading, Level: lvl, Text: strings.TrimSpace(unguard(line[lvl:]))})
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			if len(table) > 0 {
				flush()
			}
			list = append(list, strings.TrimSpace(unguard(line[2:])))
		case strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") && len(line) > 1:
			if len(list) > 0 {
				flush()
			}
			table = append(table, tableCells(line))
		default:
			flush()
			blocks = append(blocks, Block{Kind: BlockParagraph, Text: strings.TrimSpace(unguard(line))})
		}
	}
	flush()
	return blocks
}

func headingLevel(line string) int {
	n := 0
	for n < len(line) && n < 4 && line[n] == '#' {
		n++
	}
	if n == 0 || n > 3 || n >= len(line) || line[n] != ' ' {
		return 0
	}
	return n
}

func tableCells(line string) []string {
	parts := strings.Split(strings.Trim(line, "|"), "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(unguard(p))
	}
	return cells
}

func conclusionsBlock(pairs []analysis.MatchedPair) Block {
	entries := make([]ConclusionEntry, 0, len(pairs))
	for _, p := range pairs {
		e := ConclusionEntry{
			Ordinal:     p.Conclusion.Ordinal,
			Text:        p.Conclusion.Text,
			Category:    p.Conclusion.Category,
			Placeholder: p.Conclusion.Placeholder,
			Reused:      p.Reused,
		}
		if p.Chart != nil {
			e.Figure = &Figure{Path: p.Chart.Path, Caption: p.Chart.Label()}
		}
		entries = append(entries, e)
	}
	return Block{Kind: BlockConclusions, Conclusions: entries}
}

var measurementHeader = []string{"测点", "RMS (mm/s)", "峰值", "峭度", "主频 (Hz)", "报警级别"}

func measurementTable(ms []analysis.MeasurementResult, placeholder string) Block {
	rows := [][]string{measurementHeader}
	for _, m := range ms {
		kurt, freq, level := placeholder, placeholder, placeholder
		if m.Kurtosis > 0 {
			kurt = fmt.Sprintf("%.2f", m.Kurtosis)
		}
		if f := m.MainFrequency(); f.Frequency > 0 {
			freq = fmt.Sprintf("%.1f", f.Frequency)
		}
		if m.AlarmLevel != "" {
			level = m.AlarmLevel
		}
		rows = append(rows, []string{m.Point, fmt.Sprintf("%.3f", m.RMS), fmt.Sprintf("%.3f", m.Peak), kurt, freq, level})
	}
	return Block{Kind: BlockTable, Rows: rows}
}

// firstHeading 文档标题取第一个一级标题
func firstHeading(blocks []Block) string {
	for _, b := range blocks {
		if b.Kind == BlockHeading && b.Level == 1 {
			return b.Text
		}
	}
	return ""
}
