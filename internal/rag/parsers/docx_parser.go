package parsers

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DocxParser Word 文档解析器（.docx）
// .docx 是 ZIP 包，正文位于 word/document.xml
type DocxParser struct{}

// NewDocxParser 创建 DOCX 解析器
func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

// Parse 解析 DOCX 文档，每个段落一行
func (p *DocxParser) Parse(reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文档失败: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("打开 DOCX 失败: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("打开 document.xml 失败: %w", err)
		}
		defer rc.Close()
		text, err := extractDocxText(rc)
		if err != nil {
			return "", fmt.Errorf("解析文档内容失败: %w", err)
		}
		if text == "" {
			return "", fmt.Errorf("文档内容为空")
		}
		return text, nil
	}
	return "", fmt.Errorf("无效的 DOCX 文件：找不到 document.xml")
}

func (p *DocxParser) SupportedExtensions() []string {
	return []string{".docx"}
}

func (p *DocxParser) CanParse(extension string) bool { return hasExtension(p, extension) }

// extractDocxText 流式读取 XML，收集 <w:t> 文本，</w:p> 处换行，表格单元格用制表符分隔
func extractDocxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var out, para strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "tc":
				para.WriteByte('\t')
			case "p":
				line := strings.TrimSpace(para.String())
				para.Reset()
				if line == "" {
					continue
				}
				if out.Len() > 0 {
					out.WriteByte('\n')
				}
				out.WriteString(line)
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return out.String(), nil
}
