package pipeline

import (
	"context"
	"errors"
	"fmt"

	"cmsreport/internal/generation"
	"cmsreport/internal/rag"
	reporttpl "cmsreport/internal/template"
)

// Kind 致命失败的类别
type Kind string

const (
	KindInvalidRequest         Kind = "invalid_request"
	KindTemplateNotFound       Kind = "template_not_found"
	KindTemplateSchemaMismatch Kind = "template_schema_mismatch"
	KindRetrievalUnavailable   Kind = "retrieval_unavailable"
	KindGenerationTimeout      Kind = "generation_timeout"
	KindGenerationRateLimited  Kind = "generation_rate_limited"
	KindGenerationFailed       Kind = "generation_failed"
	KindCancelled              Kind = "cancelled"
	KindRenderFailed           Kind = "render_failed"
	KindInternal               Kind = "internal"
)

// ErrInvalidRequest 请求内容不完整
var ErrInvalidRequest = errors.New("报告请求无效")

// Failure 流水线停止时的状态与原因
type Failure struct {
	ReportID string
	State    State // 失败发生时所在的状态
	Kind     Kind
	Cause    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("报告 %s 在 %s 阶段失败 (%s): %v", f.ReportID, f.State, f.Kind, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Retryable 失败是否可能在重新提交后消失
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case KindRetrievalUnavailable, KindGenerationTimeout, KindGenerationRateLimited, KindGenerationFailed, KindInternal:
		return true
	}
	return false
}

// AsFailure 从错误链中提取 Failure
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// kindOf 按错误链判断类别，取消优先于其他原因
func kindOf(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, generation.ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, reporttpl.ErrInvalidTemplate):
		return KindInvalidRequest
	case errors.Is(err, reporttpl.ErrTemplateNotFound):
		return KindTemplateNotFound
	case errors.Is(err, reporttpl.ErrSchemaMismatch):
		return KindTemplateSchemaMismatch
	case errors.Is(err, rag.ErrRetrievalUnavailable):
		return KindRetrievalUnavailable
	case errors.Is(err, generation.ErrTimeout):
		return KindGenerationTimeout
	case errors.Is(err, generation.ErrRateLimited):
		return KindGenerationRateLimited
	case errors.Is(err, generation.ErrBackend), errors.Is(err, generation.ErrInvalidOutput), errors.Is(err, generation.ErrInvalidConfig):
		return KindGenerationFailed
	}
	return KindInternal
}
