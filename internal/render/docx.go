package render

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"
	"time"
)

// DOCXEncoder 输出可编辑的 Word 文档（WordprocessingML）
// 可读取的 PNG/JPEG 图表嵌入 word/media，其余只写图注；压缩包内的时间戳取文档生成时间。
type DOCXEncoder struct{}

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Default Extension="png" ContentType="image/png"/>
<Default Extension="jpeg" ContentType="image/jpeg"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>
<Override PartName="/docProps/core.xml" ContentType="application/vnd.openxmlformats-package.core-properties+xml"/>
</Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/>
</Relationships>`

const (
	relStyles = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles"
	relImage  = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
)

// 版心宽度（EMU），图片按原始尺寸缩放到不超过该宽度
const (
	emuPerPixel   = 9525
	maxImageWidth = 5486400
)

type docxImage struct {
	rel    string
	part   string // word/ 下的路径
	data   []byte
	cx, cy int64
}

// docxMedia 同一路径只嵌入一次
type docxMedia struct {
	images []*docxImage
	byPath map[string]*docxImage
}

func (m *docxMedia) load(path string) *docxImage {
	if img, ok := m.byPath[path]; ok {
		return img
	}
	var img *docxImage
	defer func() { m.byPath[path] = img }()

	ext := ""
	switch imageType(path) {
	case "PNG":
		ext = "png"
	case "JPG":
		ext = "jpeg"
	default:
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil
	}
	cx, cy := int64(cfg.Width)*emuPerPixel, int64(cfg.Height)*emuPerPixel
	if cx > maxImageWidth {
		cy = cy * maxImageWidth / cx
		cx = maxImageWidth
	}
	n := len(m.images) + 1
	img = &docxImage{
		rel:  fmt.Sprintf("rImg%d", n),
		part: fmt.Sprintf("media/image%d.%s", n, ext),
		data: data,
		cx:   cx,
		cy:   cy,
	}
	m.images = append(m.images, img)
	return img
}

func (m *docxMedia) rels() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="` + relStyles + `" Target="styles.xml"/>
`)
	for _, img := range m.images {
		b.WriteString(`<Relationship Id="` + img.rel + `" Type="` + relImage + `" Target="` + img.part + `"/>
`)
	}
	b.WriteString(`</Relationships>`)
	return b.String()
}

const docxStyles = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:docDefaults><w:rPrDefault><w:rPr><w:rFonts w:ascii="Calibri" w:eastAsia="Microsoft YaHei" w:hAnsi="Calibri"/><w:sz w:val="22"/></w:rPr></w:rPrDefault></w:docDefaults>
<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/></w:style>
<w:style w:type="paragraph" w:styleId="Heading1"><w:name w:val="heading 1"/><w:basedOn w:val="Normal"/><w:pPr><w:spacing w:before="240" w:after="120"/><w:outlineLvl w:val="0"/></w:pPr><w:rPr><w:b/><w:sz w:val="36"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Heading2"><w:name w:val="heading 2"/><w:basedOn w:val="Normal"/><w:pPr><w:spacing w:before="200" w:after="80"/><w:outlineLvl w:val="1"/></w:pPr><w:rPr><w:b/><w:sz w:val="28"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Heading3"><w:name w:val="heading 3"/><w:basedOn w:val="Normal"/><w:pPr><w:outlineLvl w:val="2"/></w:pPr><w:rPr><w:b/><w:sz w:val="24"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Caption"><w:name w:val="caption"/><w:basedOn w:val="Normal"/><w:pPr><w:jc w:val="center"/></w:pPr><w:rPr><w:i/><w:sz w:val="18"/></w:rPr></w:style>
<w:style w:type="table" w:styleId="TableGrid"><w:name w:val="Table Grid"/><w:tblPr><w:tblBorders><w:top w:val="single" w:sz="4"/><w:left w:val="single" w:sz="4"/><w:bottom w:val="single" w:sz="4"/><w:right w:val="single" w:sz="4"/><w:insideH w:val="single" w:sz="4"/><w:insideV w:val="single" w:sz="4"/></w:tblBorders></w:tblPr></w:style>
</w:styles>`

// Encode 实现 Encoder
func (DOCXEncoder) Encode(ctx context.Context, doc *Document, w io.Writer) error {
	media := &docxMedia{byPath: make(map[string]*docxImage)}
	body, err := docxBody(ctx, doc, media)
	if err != nil {
		return err
	}

	parts := []struct {
		name    string
		content []byte
	}{
		{"[Content_Types].xml", []byte(docxContentTypes)},
		{"_rels/.rels", []byte(docxRels)},
		{"docProps/core.xml", []byte(docxCore(doc))},
		{"word/_rels/document.xml.rels", []byte(media.rels())},
		{"word/styles.xml", []byte(docxStyles)},
		{"word/document.xml", []byte(body)},
	}
	for _, img := range media.images {
		parts = append(parts, struct {
			name    string
			content []byte
		}{"word/" + img.part, img.data})
	}

	zw := zip.NewWriter(w)
	for _, p := range parts {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     p.name,
			Method:   zip.Deflate,
			Modified: doc.GeneratedAt,
		})
		if err != nil {
			return fmt.Errorf("写入 %s 失败: %w", p.name, err)
		}
		if _, err := fw.Write(p.content); err != nil {
			return fmt.Errorf("写入 %s 失败: %w", p.name, err)
		}
	}
	return zw.Close()
}

func docxCore(doc *Document) string {
	at := doc.GeneratedAt.Format(time.RFC3339)
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">` +
		`<dc:title>` + escape(doc.Title) + `</dc:title><dc:creator>cmsreport</dc:creator>` +
		`<dcterms:created xsi:type="dcterms:W3CDTF">` + at + `</dcterms:created>` +
		`<dcterms:modified xsi:type="dcterms:W3CDTF">` + at + `</dcterms:modified>` +
		`</cp:coreProperties>`
}

const docxNamespaces = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"` +
	` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"` +
	` xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"` +
	` xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"` +
	` xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture"`

func docxBody(ctx context.Context, doc *Document, media *docxMedia) (string, error) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document ` + docxNamespaces + `><w:body>`)
	figures := 0
	figure := func(f *Figure, reused bool) {
		if img := media.load(f.Path); img != nil {
			figures++
			docxDrawing(&b, img, figures, f.Caption)
		}
		docxPara(&b, "Caption", figureCaption(f, reused))
	}

	for _, blk := range doc.Blocks {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		switch blk.Kind {
		case BlockHeading:
			docxPara(&b, fmt.Sprintf("Heading%d", blk.Level), blk.Text)
		case BlockParagraph:
			docxPara(&b, "", blk.Text)
		case BlockList:
			for _, it := range blk.Items {
				docxPara(&b, "", "• "+it)
			}
		case BlockTable:
			docxTable(&b, blk.Rows)
		case BlockFigure:
			figure(blk.Figure, false)
		case BlockConclusions:
			for _, c := range blk.Conclusions {
				docxPara(&b, "", fmt.Sprintf("%d. %s", c.Ordinal, c.Text))
				if c.Figure != nil {
					figure(c.Figure, c.Reused)
				}
			}
		}
	}

	b.WriteString(`<w:sectPr><w:pgSz w:w="11906" w:h="16838"/><w:pgMar w:top="1440" w:right="1134" w:bottom="1440" w:left="1134" w:header="720" w:footer="720" w:gutter="0"/></w:sectPr>`)
	b.WriteString(`</w:body></w:document>`)
	return b.String(), nil
}

func figureCaption(f *Figure, reused bool) string {
	s := "图: " + f.Caption
	if f.Path != "" && f.Path != f.Caption {
		s += " (" + f.Path + ")"
	}
	if reused {
		s += "（复用）"
	}
	return s
}

// docxDrawing 居中的内嵌图片段落，id 在文档内唯一
func docxDrawing(b *strings.Builder, img *docxImage, id int, name string) {
	ext := fmt.Sprintf(`cx="%d" cy="%d"`, img.cx, img.cy)
	fmt.Fprintf(b, `<w:p><w:pPr><w:jc w:val="center"/></w:pPr><w:r><w:drawing>`+
		`<wp:inline distT="0" distB="0" distL="0" distR="0"><wp:extent %s/>`+
		`<wp:docPr id="%d" name="%s"/>`+
		`<wp:cNvGraphicFramePr><a:graphicFrameLocks noChangeAspect="1"/></wp:cNvGraphicFramePr>`+
		`<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:pic><pic:nvPicPr><pic:cNvPr id="%d" name="%s"/><pic:cNvPicPr/></pic:nvPicPr>`+
		`<pic:blipFill><a:blip r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>`+
		`<pic:spPr><a:xfrm><a:off x="0" y="0"/><a:ext %s/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></pic:spPr>`+
		`</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r></w:p>`,
		ext, id, escape(name), id, escape(name), img.rel, ext)
}

func docxPara(b *strings.Builder, style, text string) {
	b.WriteString("<w:p>")
	if style != "" {
		b.WriteString(`<w:pPr><w:pStyle w:val="` + style + `"/></w:pPr>`)
	}
	b.WriteString(`<w:r><w:t xml:space="preserve">`)
	b.WriteString(escape(text))
	b.WriteString("</w:t></w:r></w:p>")
}

func docxTable(b *strings.Builder, rows [][]string) {
	b.WriteString(`<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/><w:tblW w:w="0" w:type="auto"/></w:tblPr>`)
	for i, r := range rows {
		b.WriteString("<w:tr>")
		for _, cell := range r {
			b.WriteString(`<w:tc><w:p><w:r>`)
			if i == 0 {
				b.WriteString("<w:rPr><w:b/></w:rPr>")
			}
			b.WriteString(`<w:t xml:space="preserve">` + escape(cell) + `</w:t></w:r></w:p></w:tc>`)
		}
		b.WriteString("</w:tr>")
	}
	b.WriteString("</w:tbl>")
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
