package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"cmsreport/internal/config"
	"cmsreport/internal/logger"
	"cmsreport/internal/metrics"
	reporttpl "cmsreport/internal/template"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrFormatFailure 单个格式渲染失败
var ErrFormatFailure = errors.New("格式渲染失败")

// FormatError 某一格式的渲染错误
type FormatError struct {
	Format reporttpl.Format
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s 渲染失败: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is 支持 errors.Is(err, ErrFormatFailure)
func (e *FormatError) Is(target error) bool { return target == ErrFormatFailure }

// Encoder 格式编码器
type Encoder interface {
	Encode(ctx context.Context, doc *Document, w io.Writer) error
}

// Output 某一格式的渲染产物
type Output struct {
	Format      reporttpl.Format `json:"format"`
	Filename    string           `json:"filename"`
	ContentType string           `json:"content_type"`
	Size        int              `json:"size"`
	Checksum    string           `json:"checksum"`
	Location    string           `json:"location,omitempty"` // 写入存储后的位置
	Data        []byte           `json:"-"`
}

var contentTypes = map[reporttpl.Format]string{
	reporttpl.FormatHTML: "text/html; charset=utf-8",
	reporttpl.FormatPDF:  "application/pdf",
	reporttpl.FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// ContentType 格式对应的 MIME 类型
func ContentType(f reporttpl.Format) string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// RenderResult 渲染结果，至少一个格式成功即视为可交付
type RenderResult struct {
	Document *Document
	Outputs  map[reporttpl.Format]*Output
	Failures map[reporttpl.Format]error
}

// Succeeded 成功的格式（有序）
func (r *RenderResult) Succeeded() []reporttpl.Format {
	out := make([]reporttpl.Format, 0, len(r.Outputs))
	for f := range r.Outputs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Options 渲染器配置
type Options struct {
	Placeholder string
	FontPath    string
}

// OptionsFromConfig 从报告配置构造
func OptionsFromConfig(cfg config.ReportConfig) Options {
	return Options{Placeholder: cfg.Placeholder, FontPath: cfg.FontPath}
}

// Renderer 报告渲染器，可并发使用
type Renderer struct {
	opts     Options
	log      *zap.Logger
	mu       sync.RWMutex
	encoders map[reporttpl.Format]Encoder
}

// NewRenderer 创建渲染器并注册内置编码器
func NewRenderer(opts Options, log *zap.Logger) *Renderer {
	if opts.Placeholder == "" {
		opts.Placeholder = DefaultPlaceholder
	}
	return &Renderer{
		opts: opts,
		log:  logger.OrNop(log),
		encoders: map[reporttpl.Format]Encoder{
			reporttpl.FormatHTML: HTMLEncoder{},
			reporttpl.FormatPDF:  NewPDFEncoder(opts.FontPath),
			reporttpl.FormatDOCX: DOCXEncoder{},
		},
	}
}

// SetEncoder 替换某一格式的编码器
func (r *Renderer) SetEncoder(f reporttpl.Format, e Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[f] = e
}

func (r *Renderer) encoder(f reporttpl.Format) (Encoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.encoders[f]
	return e, ok
}

// Render 执行模板一次，并发输出各格式
// formats 为空时使用模板声明的格式。模板执行失败返回错误；
// 单个格式失败记录在 Failures 中，不影响其他格式。
func (r *Renderer) Render(ctx context.Context, t *reporttpl.Template, data Data, formats []reporttpl.Format) (*RenderResult, error) {
	doc, err := Build(t, data, r.opts.Placeholder)
	if err != nil {
		return nil, err
	}
	if len(formats) == 0 {
		formats = t.Formats
	}
	if len(formats) == 0 {
		formats = reporttpl.AllFormats
	}

	res := &RenderResult{
		Document: doc,
		Outputs:  make(map[reporttpl.Format]*Output, len(formats)),
		Failures: make(map[reporttpl.Format]error),
	}
	var mu sync.Mutex
	var g errgroup.Group
	seen := make(map[reporttpl.Format]bool, len(formats))
	for _, f := range formats {
		if seen[f] {
			continue
		}
		seen[f] = true
		g.Go(func() error {
			start := time.Now()
			out, err := r.safeEncode(ctx, t, doc, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures[f] = err
				metrics.RenderTotal.WithLabelValues(string(f), "failure").Inc()
				r.log.Warn("报告格式渲染失败", zap.String("format", string(f)), zap.Error(err))
				return nil
			}
			res.Outputs[f] = out
			metrics.RenderTotal.WithLabelValues(string(f), "success").Inc()
			r.log.Debug("报告格式渲染完成",
				zap.String("format", string(f)),
				zap.Int("size", out.Size),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil && len(res.Outputs) == 0 {
		return nil, err
	}
	return res, nil
}

// safeEncode 编码器 panic 时只记为该格式失败
func (r *Renderer) safeEncode(ctx context.Context, t *reporttpl.Template, doc *Document, f reporttpl.Format) (out *Output, err error) {
	defer func() {
		if v := recover(); v != nil {
			out = nil
			err = &FormatError{Format: f, Err: fmt.Errorf("编码器 panic: %v", v)}
		}
	}()
	return r.encode(ctx, t, doc, f)
}

func (r *Renderer) encode(ctx context.Context, t *reporttpl.Template, doc *Document, f reporttpl.Format) (*Output, error) {
	if !f.Valid() {
		return nil, &FormatError{Format: f, Err: errors.New("不支持的输出格式")}
	}
	if !t.Supports(f) {
		return nil, &FormatError{Format: f, Err: fmt.Errorf("模板 %s 未声明该格式", t.Name)}
	}
	enc, ok := r.encoder(f)
	if !ok {
		return nil, &FormatError{Format: f, Err: errors.New("没有可用的编码器")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &FormatError{Format: f, Err: err}
	}

	var buf bytes.Buffer
	if err := enc.Encode(ctx, doc, &buf); err != nil {
		return nil, &FormatError{Format: f, Err: err}
	}
	sum := sha256.Sum256(buf.Bytes())
	return &Output{
		Format:      f,
		Filename:    fmt.Sprintf("%s_v%d.%s", t.Name, t.Version, f),
		ContentType: ContentType(f),
		Size:        buf.Len(),
		Checksum:    hex.EncodeToString(sum[:]),
		Data:        buf.Bytes(),
	}, nil
}
