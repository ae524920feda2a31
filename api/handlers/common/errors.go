package common

import (
	"errors"

	"cmsreport/internal/common"
	"cmsreport/internal/pipeline"
	"cmsreport/internal/rag/parsers"
	"cmsreport/internal/storage"
	reporttpl "cmsreport/internal/template"

	"github.com/gin-gonic/gin"
)

var kindCodes = map[pipeline.Kind]int{
	pipeline.KindInvalidRequest:         common.CodeInvalidRequest,
	pipeline.KindTemplateNotFound:       common.CodeTemplateNotFound,
	pipeline.KindTemplateSchemaMismatch: common.CodeSchemaMismatch,
	pipeline.KindRetrievalUnavailable:   common.CodeRetrievalFailed,
	pipeline.KindGenerationTimeout:      common.CodeModelTimeout,
	pipeline.KindGenerationRateLimited:  common.CodeModelRateLimited,
	pipeline.KindGenerationFailed:       common.CodeModelCallFailed,
	pipeline.KindCancelled:              common.CodeReportCanceled,
	pipeline.KindRenderFailed:           common.CodeRenderFailed,
	pipeline.KindInternal:               common.CodeInternalError,
}

// CodeOf 领域错误映射到业务状态码
func CodeOf(err error) int {
	var be *common.BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	if f, ok := pipeline.AsFailure(err); ok {
		if code, ok := kindCodes[f.Kind]; ok {
			return code
		}
		return common.CodeInternalError
	}
	switch {
	case errors.Is(err, reporttpl.ErrTemplateNotFound):
		return common.CodeTemplateNotFound
	case errors.Is(err, reporttpl.ErrSchemaMismatch):
		return common.CodeSchemaMismatch
	case errors.Is(err, reporttpl.ErrInvalidTemplate):
		return common.CodeTemplateInvalid
	case errors.Is(err, pipeline.ErrStatusNotFound), errors.Is(err, pipeline.ErrProvenanceNotFound):
		return common.CodeReportNotFound
	case errors.Is(err, storage.ErrNotFound):
		return common.CodeNotFound
	case errors.Is(err, parsers.ErrUnsupportedFormat):
		return common.CodeUnsupportedFormat
	case errors.Is(err, pipeline.ErrPoolFull), errors.Is(err, pipeline.ErrPoolClosed):
		return common.CodeServiceUnavailable
	}
	return common.CodeInternalError
}

// RespondError 按错误类型返回统一错误响应
// 流水线失败额外附带失败状态与类别。
func RespondError(c *gin.Context, err error) {
	code := CodeOf(err)
	resp := common.ErrorResponse(code, err.Error())
	if f, ok := pipeline.AsFailure(err); ok {
		resp.Data = FailureBody{ReportID: f.ReportID, State: f.State, Kind: f.Kind, Retryable: f.Retryable()}
	}
	c.JSON(common.HTTPStatus(code), resp)
}

// FailureBody 流水线失败的响应数据
type FailureBody struct {
	ReportID  string         `json:"report_id"`
	State     pipeline.State `json:"state"`
	Kind      pipeline.Kind  `json:"kind"`
	Retryable bool           `json:"retryable"`
}
