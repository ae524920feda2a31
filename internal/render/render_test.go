package render

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cmsreport/internal/analysis"
	reporttpl "cmsreport/internal/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTemplate() *reporttpl.Template {
	req := reporttpl.Default()
	return &reporttpl.Template{
		Name:      req.Name,
		Version:   1,
		Variables: req.Variables,
		Formats:   req.Formats,
		Body:      req.Body,
	}
}

func sampleData() Data {
	chart := &analysis.ChartArtifact{ID: "c1", Path: "charts/envelope.png", Name: "主轴承包络谱", Type: analysis.CategoryEnvelope}
	return Data{
		Variables: map[string]interface{}{
			"wind_farm_name": "华北一场",
			"turbine_id":     "WT-07",
			"alarm_info":     []string{"[预警] 主轴承包络峰超限"},
		},
		Pairs: []analysis.MatchedPair{
			{Conclusion: analysis.NewConclusion(1, "主轴承包络谱出现外圈故障频率"), Chart: chart, Score: 26},
			{Conclusion: analysis.ConclusionStatement{Ordinal: 2, Text: "暂无分析结论", Category: analysis.CategoryGeneral, Placeholder: true}},
		},
		Measurements: []analysis.MeasurementResult{
			{Point: "主轴承", RMS: 3.2, Peak: 9.5, Kurtosis: 4.1, DominantFrequencies: []analysis.FrequencyPeak{{Frequency: 87.3, Amplitude: 1.2}}},
		},
		GeneratedAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestParseMarkup(t *testing.T) {
	text := "# 标题\n\n段落一\n- a\n- b\n| 列1 | 列2 |\n| x | y |\n@figure charts/t.png 趋势图\n### 小节\n#不是标题\n"
	data := Data{Pairs: []analysis.MatchedPair{{
		Conclusion: analysis.NewConclusion(1, "趋势上升"),
		Chart:      &analysis.ChartArtifact{ID: "t", Path: "charts/t.png", Name: "趋势图", Type: analysis.CategoryTrend},
	}}}
	blocks := parseMarkup(text, data, "—")
	kinds := make([]BlockKind, len(blocks))
	for i, b := range blocks {
		kinds[i] = b.Kind
	}
	assert.Equal(t, []BlockKind{BlockHeading, BlockParagraph, BlockList, BlockTable, BlockFigure, BlockHeading, BlockParagraph}, kinds)
	assert.Equal(t, []string{"a", "b"}, blocks[2].Items)
	assert.Equal(t, []string{"列1", "列2"}, blocks[3].Header())
	assert.Equal(t, [][]string{{"x", "y"}}, blocks[3].Body())
	assert.Equal(t, "趋势图", blocks[4].Figure.Caption)
	assert.Equal(t, 3, blocks[5].Level)
	assert.Equal(t, "#不是标题", blocks[6].Text)
}

func TestBuildFillsDefaults(t *testing.T) {
	doc, err := Build(defaultTemplate(), sampleData(), "")
	require.NoError(t, err)
	assert.Equal(t, "华北一场 WT-07 机组振动分析报告", doc.Title)

	var texts []string
	var conclusions *Block
	var tables int
	for i, b := range doc.Blocks {
		switch b.Kind {
		case BlockParagraph:
			texts = append(texts, b.Text)
		case BlockList:
			texts = append(texts, b.Items...)
		case BlockConclusions:
			conclusions = &doc.Blocks[i]
		case BlockTable:
			tables++
		}
	}
	assert.Contains(t, texts, reporttpl.DefaultPointAnalysis)
	assert.Contains(t, texts, reporttpl.DefaultMaintenance)
	assert.Contains(t, texts, "[预警] 主轴承包络峰超限")
	assert.NotContains(t, texts, reporttpl.DefaultAlarmInfo)
	assert.Equal(t, 2, tables)

	require.NotNil(t, conclusions)
	require.Len(t, conclusions.Conclusions, 2)
	assert.Equal(t, "charts/envelope.png", conclusions.Conclusions[0].Figure.Path)
	assert.Nil(t, conclusions.Conclusions[1].Figure)
	assert.True(t, conclusions.Conclusions[1].Placeholder)

	// 基本信息表中未提供的时间字段使用占位符
	info := doc.Blocks[1]
	require.Equal(t, BlockTable, info.Kind)
	assert.Equal(t, []string{"分析时间", DefaultPlaceholder}, info.Rows[4])
}

func TestParseMarkupFigureOutsidePairsKeepsCaption(t *testing.T) {
	blocks := parseMarkup("@figure /srv/other.png 外部图片\n", sampleData(), "—")
	require.Len(t, blocks, 1)
	assert.Equal(t, BlockParagraph, blocks[0].Kind)
	assert.Equal(t, "外部图片", blocks[0].Text)
}

func TestBuildVariablesCannotInjectMarkup(t *testing.T) {
	data := sampleData()
	data.Variables["analyst_name"] = "x\n@conclusions\n@figure /srv/secret.png y"
	data.Variables["analysis_summary"] = "@measurements"
	data.Variables["alarm_info"] = []string{"超限\n# 伪造标题", "| a | b |"}

	doc, err := Build(defaultTemplate(), data, "")
	require.NoError(t, err)

	var conclusions int
	var texts []string
	for _, b := range doc.Blocks {
		switch b.Kind {
		case BlockConclusions:
			conclusions++
		case BlockFigure:
			t.Fatalf("unexpected figure block: %+v", b.Figure)
		case BlockHeading:
			assert.NotEqual(t, "伪造标题", b.Text)
		case BlockParagraph:
			texts = append(texts, b.Text)
		case BlockList:
			texts = append(texts, b.Items...)
		case BlockTable:
			for _, row := range b.Rows {
				texts = append(texts, row...)
			}
		}
	}
	assert.Equal(t, 1, conclusions)
	assert.Contains(t, texts, "@measurements")
	assert.Contains(t, texts, "超限 # 伪造标题")
	assert.Contains(t, texts, "| a | b |")
	for _, txt := range texts {
		assert.NotContains(t, txt, lineGuard)
	}

	var buf bytes.Buffer
	require.NoError(t, HTMLEncoder{}.Encode(context.Background(), doc, &buf))
	assert.NotContains(t, buf.String(), `src="/srv/secret.png"`)
}

func TestBuildRequiresVariables(t *testing.T) {
	data := sampleData()
	delete(data.Variables, "turbine_id")
	_, err := Build(defaultTemplate(), data, "")
	assert.ErrorIs(t, err, reporttpl.ErrSchemaMismatch)
}

// writeChart 写一张不透明的 PNG 图表
func writeChart(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: 80, B: uint8(y), A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "envelope.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func docxParts(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	parts := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		parts[f.Name] = string(b)
	}
	return parts
}

func TestRenderAllFormatsIdempotent(t *testing.T) {
	r := NewRenderer(Options{}, nil)
	ctx := context.Background()
	chartPath := writeChart(t, 64, 48)
	data := sampleData()
	data.Pairs[0].Chart.Path = chartPath

	first, err := r.Render(ctx, defaultTemplate(), data, nil)
	require.NoError(t, err)
	require.Empty(t, first.Failures)
	require.Len(t, first.Outputs, 3)

	second, err := r.Render(ctx, defaultTemplate(), data, nil)
	require.NoError(t, err)
	for f, out := range first.Outputs {
		assert.Equal(t, out.Checksum, second.Outputs[f].Checksum, "format %s", f)
		assert.Equal(t, ContentType(f), out.ContentType)
		assert.Positive(t, out.Size)
	}

	html := string(first.Outputs[reporttpl.FormatHTML].Data)
	assert.Contains(t, html, "<h1>华北一场 WT-07 机组振动分析报告</h1>")
	assert.Contains(t, html, `src="`+chartPath+`"`)
	assert.Contains(t, html, `class="placeholder"`)

	assert.True(t, bytes.HasPrefix(first.Outputs[reporttpl.FormatPDF].Data, []byte("%PDF-")))

	parts := docxParts(t, first.Outputs[reporttpl.FormatDOCX].Data)
	body := parts["word/document.xml"]
	assert.Contains(t, body, "主轴承包络谱出现外圈故障频率")
	assert.Contains(t, body, "图: 主轴承包络谱 ("+chartPath+")")
	assert.Contains(t, body, `r:embed="rImg1"`)
	assert.Contains(t, body, `<wp:extent cx="609600" cy="457200"/>`)

	media, ok := parts["word/media/image1.png"]
	require.True(t, ok, "图表应嵌入 word/media")
	raw, err := os.ReadFile(chartPath)
	require.NoError(t, err)
	assert.Equal(t, string(raw), media)
	assert.Contains(t, parts["word/_rels/document.xml.rels"], `Id="rImg1"`)
	assert.Contains(t, parts["word/_rels/document.xml.rels"], `Target="media/image1.png"`)
	assert.Contains(t, parts["[Content_Types].xml"], `Extension="png"`)
}

func TestDOCXMissingChartKeepsCaption(t *testing.T) {
	r := NewRenderer(Options{}, nil)
	res, err := r.Render(context.Background(), defaultTemplate(), sampleData(), []reporttpl.Format{reporttpl.FormatDOCX})
	require.NoError(t, err)
	require.Empty(t, res.Failures)

	parts := docxParts(t, res.Outputs[reporttpl.FormatDOCX].Data)
	assert.Contains(t, parts["word/document.xml"], "图: 主轴承包络谱 (charts/envelope.png)")
	assert.NotContains(t, parts["word/document.xml"], "<w:drawing>")
	for name := range parts {
		assert.False(t, strings.HasPrefix(name, "word/media/"), name)
	}
}

type failingEncoder struct{}

func (failingEncoder) Encode(context.Context, *Document, io.Writer) error {
	return errors.New("字体缺失")
}

func TestRenderOneFormatFails(t *testing.T) {
	r := NewRenderer(Options{}, nil)
	r.SetEncoder(reporttpl.FormatPDF, failingEncoder{})

	res, err := r.Render(context.Background(), defaultTemplate(), sampleData(),
		[]reporttpl.Format{reporttpl.FormatHTML, reporttpl.FormatPDF})
	require.NoError(t, err)
	assert.Equal(t, []reporttpl.Format{reporttpl.FormatHTML}, res.Succeeded())

	ferr := res.Failures[reporttpl.FormatPDF]
	require.Error(t, ferr)
	assert.ErrorIs(t, ferr, ErrFormatFailure)
	var fe *FormatError
	require.True(t, errors.As(ferr, &fe))
	assert.Equal(t, reporttpl.FormatPDF, fe.Format)
	assert.True(t, strings.Contains(fe.Error(), "字体缺失"))
}

type panickingEncoder struct{}

func (panickingEncoder) Encode(context.Context, *Document, io.Writer) error {
	panic("nil font face")
}

func TestRenderEncoderPanicIsolated(t *testing.T) {
	r := NewRenderer(Options{}, nil)
	r.SetEncoder(reporttpl.FormatDOCX, panickingEncoder{})

	res, err := r.Render(context.Background(), defaultTemplate(), sampleData(),
		[]reporttpl.Format{reporttpl.FormatHTML, reporttpl.FormatDOCX})
	require.NoError(t, err)
	assert.Equal(t, []reporttpl.Format{reporttpl.FormatHTML}, res.Succeeded())

	ferr := res.Failures[reporttpl.FormatDOCX]
	require.Error(t, ferr)
	assert.ErrorIs(t, ferr, ErrFormatFailure)
	assert.Contains(t, ferr.Error(), "nil font face")
}

func TestRenderRejectsUndeclaredFormat(t *testing.T) {
	tpl := defaultTemplate()
	tpl.Formats = []reporttpl.Format{reporttpl.FormatHTML}
	r := NewRenderer(Options{}, nil)

	res, err := r.Render(context.Background(), tpl, sampleData(), []reporttpl.Format{reporttpl.FormatDOCX, "xlsx"})
	require.NoError(t, err)
	assert.Empty(t, res.Outputs)
	assert.Len(t, res.Failures, 2)
}

func TestPDFEncoderMissingFont(t *testing.T) {
	enc := NewPDFEncoder("/nonexistent/font.ttf")
	err := enc.Encode(context.Background(), &Document{}, io.Discard)
	assert.Error(t, err)
}
