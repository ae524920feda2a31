package api

import (
	"net/http"
	"strings"
	"time"

	"cmsreport/internal/logger"
	"cmsreport/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// quietPaths 探针与指标抓取不记访问日志
var quietPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// RequestLogger 请求日志中间件，5xx 记为 error，4xx 记为 warn
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if quietPaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id := c.Param("id"); id != "" && strings.Contains(c.FullPath(), "/reports/") {
			fields = append(fields, zap.String("report_id", id))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		log := logger.WithContext(c.Request.Context())
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("HTTP Request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("HTTP Request", fields...)
		default:
			log.Info("HTTP Request", fields...)
		}
	}
}

// corsPolicy 启动时读取的跨域策略
type corsPolicy struct {
	origins []string
	headers string
	methods string
}

func loadCORSPolicy() corsPolicy {
	return corsPolicy{
		origins: getEnvList("CORS_ALLOW_ORIGINS"),
		headers: strings.Join(defaultIfEmpty(
			getEnvList("CORS_ALLOW_HEADERS"),
			[]string{"Content-Type", "Content-Length", "Accept", "Origin", "Cache-Control", middleware.HeaderRequestID, middleware.HeaderTraceID},
		), ", "),
		methods: strings.Join(defaultIfEmpty(
			getEnvList("CORS_ALLOW_METHODS"),
			[]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		), ", "),
	}
}

// CORS 跨域中间件，未配置 CORS_ALLOW_ORIGINS 时允许任意来源
func CORS() gin.HandlerFunc {
	policy := loadCORSPolicy()
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		switch {
		case len(policy.origins) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && stringInSlice(origin, policy.origins):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Headers", policy.headers)
		h.Set("Access-Control-Allow-Methods", policy.methods)
		// 报告下载与限流需要前端读取这些响应头
		h.Set("Access-Control-Expose-Headers", "Content-Disposition, Retry-After, "+middleware.HeaderRequestID)
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
