package parsers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dslipak/pdf"
)

// PDFParser PDF 文本提取，每页作为独立段落，无法解析的页面跳过
type PDFParser struct {
	maxPages int
}

// NewPDFParser 创建 PDF 解析器，最多读取前 500 页
func NewPDFParser() *PDFParser {
	return &PDFParser{maxPages: 500}
}

// Parse pdf.NewReader 需要 ReaderAt，先整体读入内存
func (p *PDFParser) Parse(reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取 PDF 内容失败: %w", err)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("打开 PDF 失败: %w", err)
	}

	n := r.NumPage()
	if p.maxPages > 0 && n > p.maxPages {
		n = p.maxPages
	}
	pages := make([]string, 0, n)
	failed := 0
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			failed++
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return "", fmt.Errorf("PDF 内容为空或无法解析文本（%d 页失败）", failed)
	}
	return strings.Join(pages, "\n\n"), nil
}

func (p *PDFParser) SupportedExtensions() []string {
	return []string{".pdf"}
}

func (p *PDFParser) CanParse(extension string) bool { return hasExtension(p, extension) }
