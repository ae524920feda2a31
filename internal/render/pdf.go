package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
)

const (
	pdfFamilyUTF8 = "report"
	pdfFamilyCore = "Helvetica"
	pdfMargin     = 20.0
	pdfLine       = 6.0
)

// PDFEncoder 输出固定版式 PDF
// 配置了 TrueType 字体时使用 UTF-8 字体，否则退回内置字体（无法显示中文字形）。
type PDFEncoder struct {
	font    []byte
	fontErr error
}

// NewPDFEncoder 创建 PDF 编码器，fontPath 为空使用内置字体
func NewPDFEncoder(fontPath string) *PDFEncoder {
	e := &PDFEncoder{}
	if fontPath != "" {
		e.font, e.fontErr = os.ReadFile(fontPath)
		if e.fontErr != nil {
			e.fontErr = fmt.Errorf("读取 PDF 字体失败: %w", e.fontErr)
		}
	}
	return e
}

// Encode 实现 Encoder
func (e *PDFEncoder) Encode(ctx context.Context, doc *Document, w io.Writer) error {
	if e.fontErr != nil {
		return e.fontErr
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(doc.GeneratedAt)
	pdf.SetModificationDate(doc.GeneratedAt)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)

	family, tr := pdfFamilyCore, latin1
	if len(e.font) > 0 {
		pdf.AddUTF8FontFromBytes(pdfFamilyUTF8, "", e.font)
		family, tr = pdfFamilyUTF8, func(s string) string { return s }
	}
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("cmsreport", true)
	pdf.AddPage()

	pw, _ := pdf.GetPageSize()
	width := pw - 2*pdfMargin

	text := func(size float64, s string) {
		pdf.SetFont(family, "", size)
		pdf.MultiCell(0, size*0.5, tr(s), "", "L", false)
	}

	for _, b := range doc.Blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch b.Kind {
		case BlockHeading:
			pdf.Ln(2)
			text(headingSize(b.Level), b.Text)
			pdf.Ln(1)
		case BlockParagraph:
			text(11, b.Text)
		case BlockList:
			for _, it := range b.Items {
				text(11, "- "+it)
			}
		case BlockTable:
			pdfTable(pdf, family, tr, width, b.Rows)
		case BlockFigure:
			pdfFigure(pdf, family, tr, width, b.Figure, false)
		case BlockConclusions:
			for _, c := range b.Conclusions {
				text(11, fmt.Sprintf("%d. %s", c.Ordinal, c.Text))
				if c.Figure != nil {
					pdfFigure(pdf, family, tr, width, c.Figure, c.Reused)
				}
			}
		}
		pdf.Ln(1)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("生成 PDF 失败: %w", err)
	}
	return pdf.Output(w)
}

// latin1 内置字体只能编码 Latin-1，其余字符替换为 '?'
func latin1(s string) string {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x100 {
			b = append(b, byte(r))
		} else {
			b = append(b, '?')
		}
	}
	return string(b)
}

func headingSize(level int) float64 {
	switch level {
	case 1:
		return 18
	case 2:
		return 14
	}
	return 12
}

func pdfTable(pdf *fpdf.Fpdf, family string, tr func(string) string, width float64, rows [][]string) {
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	if cols == 0 {
		return
	}
	cw := width / float64(cols)
	pdf.SetFillColor(240, 243, 247)
	for i, r := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		if family == pdfFamilyUTF8 {
			style = ""
		}
		pdf.SetFont(family, style, 10)
		for c := 0; c < cols; c++ {
			cell := ""
			if c < len(r) {
				cell = r[c]
			}
			pdf.CellFormat(cw, 7, tr(cell), "1", 0, "L", i == 0, 0, "")
		}
		pdf.Ln(7)
	}
}

// pdfFigure 嵌入 PNG/JPEG 图片，文件不可用时只输出图注
func pdfFigure(pdf *fpdf.Fpdf, family string, tr func(string) string, width float64, f *Figure, reused bool) {
	if typ := imageType(f.Path); typ != "" {
		if _, err := os.Stat(f.Path); err == nil {
			opts := fpdf.ImageOptions{ImageType: typ, ReadDpi: true}
			pdf.ImageOptions(f.Path, -1, 0, width*0.8, 0, true, opts, 0, "")
		}
	}
	pdf.SetFont(family, "", 9)
	pdf.MultiCell(0, 5, tr(figureCaption(f, reused)), "", "C", false)
}

func imageType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "PNG"
	case ".jpg", ".jpeg":
		return "JPG"
	}
	return ""
}
