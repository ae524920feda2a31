package parsers

import (
	"io"
	"strings"
)

// Parser 知识文档解析器
type Parser interface {
	// Parse 读取并提取纯文本
	Parse(reader io.Reader) (string, error)

	// SupportedExtensions 支持的扩展名（如 ".txt"）
	SupportedExtensions() []string

	// CanParse 是否支持指定扩展名
	CanParse(extension string) bool
}

func hasExtension(p Parser, ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range p.SupportedExtensions() {
		if e == ext {
			return true
		}
	}
	return false
}
