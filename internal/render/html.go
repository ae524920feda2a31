package render

import (
	"context"
	"html/template"
	"io"
)

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:"Microsoft YaHei","PingFang SC",sans-serif;max-width:960px;margin:24px auto;line-height:1.6;color:#222}
table{border-collapse:collapse;margin:12px 0}
th,td{border:1px solid #999;padding:4px 10px;text-align:left}
th{background:#f0f3f7}
figure{margin:8px 0 16px}
figcaption{color:#666;font-size:13px}
.placeholder{color:#999}
</style>
</head>
<body>
{{- range .Blocks}}
{{- if eq .Kind "heading"}}
{{- if eq .Level 1}}
<h1>{{.Text}}</h1>
{{- else if eq .Level 2}}
<h2>{{.Text}}</h2>
{{- else}}
<h3>{{.Text}}</h3>
{{- end}}
{{- else if eq .Kind "paragraph"}}
<p>{{.Text}}</p>
{{- else if eq .Kind "list"}}
<ul>
{{- range .Items}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- else if eq .Kind "table"}}
<table>
<thead><tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Body}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
{{- else if eq .Kind "figure"}}
<figure><img src="{{.Figure.Path}}" alt="{{.Figure.Caption}}"><figcaption>{{.Figure.Caption}}</figcaption></figure>
{{- else if eq .Kind "conclusions"}}
<ol class="conclusions">
{{- range .Conclusions}}
<li{{if .Placeholder}} class="placeholder"{{end}} data-category="{{.Category}}">
<p>{{.Text}}</p>
{{- if .Figure}}
<figure><img src="{{.Figure.Path}}" alt="{{.Figure.Caption}}"><figcaption>{{.Figure.Caption}}{{if .Reused}}（复用）{{end}}</figcaption></figure>
{{- end}}
</li>
{{- end}}
</ol>
{{- end}}
{{- end}}
</body>
</html>
`))

// HTMLEncoder 输出结构化 HTML
type HTMLEncoder struct{}

// Encode 实现 Encoder
func (HTMLEncoder) Encode(_ context.Context, doc *Document, w io.Writer) error {
	return htmlTemplate.Execute(w, doc)
}
