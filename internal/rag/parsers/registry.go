package parsers

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupportedFormat 没有可用的解析器
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ParserRegistry 按扩展名选择解析器
type ParserRegistry struct {
	parsers []Parser
}

// NewParserRegistry 创建注册了全部内置解析器的注册表
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{}
	r.Register(NewTextParser())
	r.Register(NewPDFParser())
	r.Register(NewDocxParser())
	r.Register(NewHTMLParser())
	return r
}

// Register 注册解析器，先注册的优先
func (r *ParserRegistry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Supports 是否支持该文件
func (r *ParserRegistry) Supports(fileName string) bool {
	return r.find(fileName) != nil
}

// Extensions 全部支持的扩展名
func (r *ParserRegistry) Extensions() []string {
	var out []string
	for _, p := range r.parsers {
		out = append(out, p.SupportedExtensions()...)
	}
	sort.Strings(out)
	return out
}

// Parse 根据文件名选择解析器
func (r *ParserRegistry) Parse(fileName string, reader io.Reader) (string, error) {
	p := r.find(fileName)
	if p == nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(fileName))
	}
	return p.Parse(reader)
}

// ParseFile 解析本地文件
func (r *ParserRegistry) ParseFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return r.Parse(filepath.Base(path), f)
}

func (r *ParserRegistry) find(fileName string) Parser {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, p := range r.parsers {
		if p.CanParse(ext) {
			return p
		}
	}
	return nil
}
