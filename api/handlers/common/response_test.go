package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"cmsreport/internal/common"
	"cmsreport/internal/pipeline"
	"cmsreport/internal/rag/parsers"
	reporttpl "cmsreport/internal/template"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"模板不存在", fmt.Errorf("x: %w", reporttpl.ErrTemplateNotFound), common.CodeTemplateNotFound},
		{"模板变量不匹配", reporttpl.ErrSchemaMismatch, common.CodeSchemaMismatch},
		{"模板无效", reporttpl.ErrInvalidTemplate, common.CodeTemplateInvalid},
		{"状态不存在", pipeline.ErrStatusNotFound, common.CodeReportNotFound},
		{"格式不支持", parsers.ErrUnsupportedFormat, common.CodeUnsupportedFormat},
		{"工作池已满", pipeline.ErrPoolFull, common.CodeServiceUnavailable},
		{"业务错误", common.NewBusinessError(common.CodeConflict, "", nil), common.CodeConflict},
		{"流水线超时", &pipeline.Failure{Kind: pipeline.KindGenerationTimeout, Cause: errors.New("x")}, common.CodeModelTimeout},
		{"流水线检索失败", &pipeline.Failure{Kind: pipeline.KindRetrievalUnavailable, Cause: errors.New("x")}, common.CodeRetrievalFailed},
		{"未知错误", errors.New("boom"), common.CodeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, CodeOf(tc.err))
		})
	}
}

func TestRespondErrorWithFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondError(c, &pipeline.Failure{
		ReportID: "r-1",
		State:    pipeline.StateGenerating,
		Kind:     pipeline.KindGenerationRateLimited,
		Cause:    errors.New("429"),
	})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	var body struct {
		Success bool        `json:"success"`
		Code    int         `json:"code"`
		Data    FailureBody `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, common.CodeModelRateLimited, body.Code)
	assert.Equal(t, "r-1", body.Data.ReportID)
	assert.Equal(t, pipeline.StateGenerating, body.Data.State)
	assert.True(t, body.Data.Retryable)
}
