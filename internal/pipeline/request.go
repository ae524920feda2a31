package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cmsreport/internal/analysis"
	"cmsreport/internal/rag"
	"cmsreport/internal/render"
	reporttpl "cmsreport/internal/template"
)

// ReportRequest 一次报告生成请求
// Conclusions 非空时跳过生成后端，直接使用调用方提供的结论文本。
type ReportRequest struct {
	ID              string                       `json:"id"`
	BasicInfo       analysis.BasicInfo           `json:"basic_info"`
	Measurements    []analysis.MeasurementResult `json:"measurements"`
	Query           string                       `json:"query"`
	Filter          rag.Filter                   `json:"filter,omitempty"`
	Conclusions     []string                     `json:"conclusions,omitempty"`
	TemplateName    string                       `json:"template_name"`
	TemplateVersion string                       `json:"template_version"`
	Formats         []reporttpl.Format           `json:"formats,omitempty"`
	Charts          []analysis.ChartArtifact     `json:"charts,omitempty"`
	Variables       map[string]interface{}       `json:"variables,omitempty"`
}

// Validate 检查请求是否可以进入流水线
func (r *ReportRequest) Validate() error {
	if strings.TrimSpace(r.BasicInfo.TurbineID) == "" {
		return fmt.Errorf("%w: turbine_id 不能为空", ErrInvalidRequest)
	}
	if r.RetrievalQuery() == "" {
		return fmt.Errorf("%w: 缺少检索问题与测点数据", ErrInvalidRequest)
	}
	for _, f := range r.Formats {
		if !f.Valid() {
			return fmt.Errorf("%w: 不支持的输出格式 %q", ErrInvalidRequest, f)
		}
	}
	if _, err := reporttpl.ParseVersion(r.TemplateVersion); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// RetrievalQuery 检索问题，未提供时由测点描述拼成
func (r *ReportRequest) RetrievalQuery() string {
	if q := strings.TrimSpace(r.Query); q != "" {
		return q
	}
	parts := make([]string, 0, len(r.Measurements))
	for _, m := range r.Measurements {
		parts = append(parts, m.Describe())
	}
	return strings.Join(parts, "；")
}

// ReportResult 成功完成的报告
type ReportResult struct {
	ID              string                              `json:"id"`
	State           State                               `json:"state"`
	TemplateName    string                              `json:"template_name"`
	TemplateVersion int                                 `json:"template_version"`
	RetrievalMode   string                              `json:"retrieval_mode"`
	Conclusions     []analysis.ConclusionStatement      `json:"conclusions"`
	Pairs           []analysis.MatchedPair              `json:"pairs"`
	Outputs         map[reporttpl.Format]*render.Output `json:"outputs"`
	Failures        map[reporttpl.Format]string         `json:"failures,omitempty"`
	Provenance      *Provenance                         `json:"provenance,omitempty"`
	Warnings        []string                            `json:"warnings,omitempty"`
	History         []Transition                        `json:"history"`
	CreatedAt       time.Time                           `json:"created_at"`
	CompletedAt     time.Time                           `json:"completed_at"`
}

// Formats 成功输出的格式，按固定顺序
func (r *ReportResult) Formats() []reporttpl.Format {
	var out []reporttpl.Format
	for _, f := range reporttpl.AllFormats {
		if _, ok := r.Outputs[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// ChartProducer 图表生产方，根据测点上下文返回图表池
type ChartProducer interface {
	Produce(ctx context.Context, req *ReportRequest) ([]analysis.ChartArtifact, error)
}

// StaticCharts 直接使用请求中携带的图表
type StaticCharts struct{}

// Produce 返回请求图表的副本
func (StaticCharts) Produce(_ context.Context, req *ReportRequest) ([]analysis.ChartArtifact, error) {
	out := make([]analysis.ChartArtifact, len(req.Charts))
	copy(out, req.Charts)
	return out, nil
}

// ChartProducerFunc 函数形式的图表生产方
type ChartProducerFunc func(ctx context.Context, req *ReportRequest) ([]analysis.ChartArtifact, error)

// Produce 调用 f
func (f ChartProducerFunc) Produce(ctx context.Context, req *ReportRequest) ([]analysis.ChartArtifact, error) {
	return f(ctx, req)
}
