package api

import (
	"cmsreport/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, container *AppContainer, handlers *Handlers) {
	api := router.Group("/api")
	registerAPIRoutes(api, container, handlers)

	// 版本化 API 组
	apiV1 := router.Group("/api/v1")
	registerAPIRoutes(apiV1, container, handlers)
}

func registerAPIRoutes(apiGroup *gin.RouterGroup, c *AppContainer, h *Handlers) {
	registerReportRoutes(apiGroup, c, h)
	registerTemplateRoutes(apiGroup, h)
	registerKnowledgeRoutes(apiGroup, h)
}

// registerReportRoutes 报告生成路由，生成接口按端点限流
func registerReportRoutes(apiGroup *gin.RouterGroup, c *AppContainer, h *Handlers) {
	limit := middleware.RateLimitByEndpoint(c.RateLimiter)

	reports := apiGroup.Group("/reports")
	{
		reports.POST("", limit, h.Report.Generate)
		reports.POST("/async", limit, h.Report.Submit)
		reports.GET("/:id", h.Report.GetStatus)
		reports.DELETE("/:id", h.Report.Cancel)
		reports.GET("/:id/provenance", h.Report.GetProvenance)
		reports.GET("/:id/files/:format", h.Report.Download)
		reports.GET("/:id/events", h.Report.Events)
	}
}

// registerTemplateRoutes 模板管理路由，静态路径需在 :name 之前注册
func registerTemplateRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	templates := apiGroup.Group("/templates")
	{
		templates.GET("", h.Template.ListTemplates)
		templates.POST("", h.Template.SaveTemplate)
		templates.GET("/search", h.Template.SearchTemplates)
		templates.GET("/export", h.Template.ExportTemplates)
		templates.POST("/import", h.Template.ImportTemplates)

		templates.GET("/:name", h.Template.GetTemplate)
		templates.DELETE("/:name", h.Template.DeleteTemplate)
		templates.GET("/:name/versions", h.Template.ListVersions)
		templates.GET("/:name/diff", h.Template.DiffVersions)
		templates.PUT("/:name/default/:version", h.Template.SetDefault)
		templates.POST("/:name/preview", h.Template.PreviewTemplate)
	}
}

// registerKnowledgeRoutes 知识库路由
func registerKnowledgeRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	kb := apiGroup.Group("/knowledge")
	{
		kb.GET("/documents", h.Knowledge.ListDocuments)
		kb.POST("/documents", h.Knowledge.IngestDocument)
		kb.DELETE("/documents/:id", h.Knowledge.DeleteDocument)
		kb.POST("/upload", h.Knowledge.UploadDocument)
		kb.POST("/search", h.Knowledge.Search)
	}
}
