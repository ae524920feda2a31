package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// PrometheusMiddleware 按路由模板统计请求量、延迟与并发数
// 未匹配路由归入 unmatched，避免任意路径撑爆标签基数。
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		APIRequestsInFlight.Inc()
		start := time.Now()
		defer func() {
			APIRequestsInFlight.Dec()
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			APIRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
			APIRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		}()

		c.Next()
	}
}
