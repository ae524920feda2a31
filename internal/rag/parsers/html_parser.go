package parsers

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// HTMLParser HTML 正文提取
type HTMLParser struct{}

// NewHTMLParser 创建 HTML 解析器
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

// 不属于正文的元素
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "header": true, "footer": true, "aside": true,
}

// 结束时需要换行的块级元素
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "br": true, "hr": true, "table": true,
}

// Parse 优先提取 <main>/<article>，否则取 <body>
func (p *HTMLParser) Parse(reader io.Reader) (string, error) {
	doc, err := html.Parse(reader)
	if err != nil {
		return "", fmt.Errorf("解析 HTML 失败: %w", err)
	}
	root := findElement(doc, "main")
	if root == nil {
		root = findElement(doc, "article")
	}
	if root == nil {
		root = findElement(doc, "body")
	}
	if root == nil {
		root = doc
	}

	var b strings.Builder
	collectText(root, &b)
	text := cleanLines(b.String())
	if text == "" {
		return "", fmt.Errorf("HTML 正文为空")
	}
	return text, nil
}

func (p *HTMLParser) SupportedExtensions() []string {
	return []string{".html", ".htm"}
}

func (p *HTMLParser) CanParse(extension string) bool { return hasExtension(p, extension) }

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skippedElements[n.Data] {
			return
		}
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		b.WriteByte('\n')
	}
}

// cleanLines 压缩行内空白并去掉空行
func cleanLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
