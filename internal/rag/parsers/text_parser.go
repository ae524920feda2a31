package parsers

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// TextParser 纯文本 / Markdown 解析器
type TextParser struct{}

func NewTextParser() *TextParser {
	return &TextParser{}
}

// Parse 去掉 BOM，统一换行，连续空行压缩为一个段落分隔
func (p *TextParser) Parse(reader io.Reader) (string, error) {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)
	text := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(string(raw))
	text = strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n"))
	if text == "" {
		return "", fmt.Errorf("文件内容为空")
	}
	return text, nil
}

func (p *TextParser) SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown"}
}

func (p *TextParser) CanParse(extension string) bool { return hasExtension(p, extension) }
