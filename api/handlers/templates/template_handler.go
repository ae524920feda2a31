package templates

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	handlercommon "cmsreport/api/handlers/common"
	"cmsreport/internal/common"
	"cmsreport/internal/render"
	"cmsreport/internal/template"

	"github.com/gin-gonic/gin"
)

// TemplateHandler 报告模板管理 Handler
type TemplateHandler struct {
	store    *template.Store
	renderer *render.Renderer
}

// NewTemplateHandler 创建 TemplateHandler 实例，renderer 为空时不提供预览
func NewTemplateHandler(store *template.Store, renderer *render.Renderer) *TemplateHandler {
	return &TemplateHandler{store: store, renderer: renderer}
}

// SaveTemplateRequest 保存模板请求，同名模板会生成新版本
type SaveTemplateRequest struct {
	Name        string                  `json:"name" binding:"required"`
	Type        string                  `json:"type"`
	Author      string                  `json:"author"`
	Description string                  `json:"description"`
	Tags        []string                `json:"tags"`
	Metadata    map[string]string       `json:"metadata"`
	Variables   []template.VariableSpec `json:"variables"`
	Formats     []template.Format       `json:"formats"`
	Body        string                  `json:"body" binding:"required"`
}

// ListTemplates 查询模板列表
// GET /api/templates?type=vibration_analysis&tag=轴承&page=1&page_size=20
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	var f template.ListFilter
	if err := c.ShouldBindQuery(&f.PaginationRequest); err != nil {
		common.ResponseBadRequest(c, "分页参数错误: "+err.Error())
		return
	}
	f.Type = c.Query("type")
	f.Tag = c.Query("tag")
	f.DeviceType = c.Query("device_type")
	f.IncludeInactive = c.Query("include_inactive") == "true"

	resp, err := h.store.List(c.Request.Context(), f)
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, handlercommon.ListResponse{Items: resp.Templates, Pagination: resp.Pagination})
}

// SearchTemplates 关键词检索模板
// GET /api/templates/search?q=轴承
func (h *TemplateHandler) SearchTemplates(c *gin.Context) {
	hits, err := h.store.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, hits)
}

// GetTemplate 查询单个模板，version 支持数字、latest 与 default
// GET /api/templates/:name?version=2
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	tmpl, err := h.store.Get(c.Request.Context(), c.Param("name"), c.Query("version"))
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, tmpl)
}

// ListVersions 查询模板全部版本
// GET /api/templates/:name/versions
func (h *TemplateHandler) ListVersions(c *gin.Context) {
	versions, err := h.store.Versions(c.Request.Context(), c.Param("name"))
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, versions)
}

// SaveTemplate 保存模板
// POST /api/templates
func (h *TemplateHandler) SaveTemplate(c *gin.Context) {
	var req SaveTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	tmpl, err := h.store.Save(c.Request.Context(), template.SaveRequest{
		Name:        req.Name,
		Type:        req.Type,
		Author:      req.Author,
		Description: req.Description,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
		Variables:   req.Variables,
		Formats:     req.Formats,
		Body:        req.Body,
	})
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseCreated(c, tmpl)
}

// DeleteTemplate 停用模板
// DELETE /api/templates/:name
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("name")); err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseNoContent(c)
}

// SetDefault 设置默认版本
// PUT /api/templates/:name/default/:version
func (h *TemplateHandler) SetDefault(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		common.ResponseBadRequest(c, "版本号必须为整数")
		return
	}
	if err := h.store.SetDefault(c.Request.Context(), c.Param("name"), version); err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"name": c.Param("name"), "default_version": version})
}

// DiffVersions 比较两个版本的正文
// GET /api/templates/:name/diff?from=1&to=2
func (h *TemplateHandler) DiffVersions(c *gin.Context) {
	from, err1 := strconv.Atoi(c.Query("from"))
	to, err2 := strconv.Atoi(c.Query("to"))
	if err1 != nil || err2 != nil {
		common.ResponseBadRequest(c, "from 与 to 必须为整数版本号")
		return
	}
	diff, err := h.store.Diff(c.Request.Context(), c.Param("name"), from, to)
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	c.String(http.StatusOK, diff)
}

// ExportTemplates 导出模板为 YAML
// GET /api/templates/export?names=a,b
func (h *TemplateHandler) ExportTemplates(c *gin.Context) {
	var names []string
	for _, n := range strings.Split(c.Query("names"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	var buf bytes.Buffer
	if err := h.store.Export(c.Request.Context(), &buf, names...); err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="templates.yaml"`)
	c.Data(http.StatusOK, "application/yaml", buf.Bytes())
}

// ImportTemplates 从 YAML 导入模板，每个条目保存为新版本
// POST /api/templates/import
func (h *TemplateHandler) ImportTemplates(c *gin.Context) {
	saved, err := h.store.Import(c.Request.Context(), c.Request.Body)
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	summaries := make([]template.Summary, 0, len(saved))
	for _, t := range saved {
		summaries = append(summaries, t.Summarize())
	}
	common.ResponseCreated(c, summaries)
}

// PreviewRequest 预览请求
type PreviewRequest struct {
	Version   string                 `json:"version"`
	Variables map[string]interface{} `json:"variables"`
}

// PreviewTemplate 用给定变量渲染 HTML 预览
// POST /api/templates/:name/preview
func (h *TemplateHandler) PreviewTemplate(c *gin.Context) {
	if h.renderer == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "预览未启用")
		return
	}
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	tmpl, err := h.store.Get(ctx, c.Param("name"), req.Version)
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	res, err := h.renderer.Render(ctx, tmpl, render.Data{Variables: req.Variables, GeneratedAt: time.Now()}, []template.Format{template.FormatHTML})
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	out, ok := res.Outputs[template.FormatHTML]
	if !ok {
		common.ResponseError(c, common.CodeRenderFailed, "")
		return
	}
	c.Data(http.StatusOK, out.ContentType, out.Data)
}
