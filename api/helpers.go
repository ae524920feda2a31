package api

import (
	"context"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"

	"cmsreport/internal/config"
	"cmsreport/internal/infra"
	"cmsreport/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadinessResponse 就绪检查响应
type ReadinessResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Database string `json:"database,omitempty"`
	Redis    string `json:"redis,omitempty"`
	Index    int    `json:"index_passages"`
}

// HealthCheck 健康检查
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:  "healthy",
			Service: "cmsreport",
		})
	}
}

// ReadinessCheck 就绪检查，数据库不可用时返回 503，Redis 为可选依赖
func ReadinessCheck(container *AppContainer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := infra.HealthCheck(container.DB); err != nil {
			c.JSON(http.StatusServiceUnavailable, ReadinessResponse{
				Status: "not_ready",
				Reason: "database ping failed",
			})
			return
		}

		resp := ReadinessResponse{Status: "ready", Database: "connected", Redis: "disabled"}
		if container.RedisClient != nil {
			resp.Redis = "connected"
			if err := container.RedisClient.Ping(c.Request.Context()).Err(); err != nil {
				resp.Redis = "unreachable"
			}
		}
		if container.Index != nil {
			resp.Index = container.Index.Len()
		}
		c.JSON(http.StatusOK, resp)
	}
}

// getEnvList 读取逗号分隔的环境变量
func getEnvList(key string) []string {
	return splitList(os.Getenv(key))
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func stringInSlice(target string, list []string) bool {
	return slices.Contains(list, target)
}

func defaultIfEmpty(list, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}

// normalizeRedisConfig 补齐 Redis 配置
// 配置文件未给出时依次回退到 REDIS_ADDR、APP_REDIS_SENTINEL_ADDRS、APP_REDIS_CLUSTER_ADDRS。
func normalizeRedisConfig(cfg config.RedisConfig) config.RedisConfig {
	out := cfg
	out.Host = strings.TrimSpace(out.Host)
	out.Mode = strings.ToLower(strings.TrimSpace(out.Mode))
	if out.Mode == "" {
		out.Mode = "standalone"
	}

	if out.Host == "" {
		host, port := parseRedisAddr(os.Getenv("REDIS_ADDR"))
		out.Host = host
		if out.Port == 0 {
			out.Port = port
		}
	}
	if out.Host == "" {
		out.Host = "localhost"
	}
	if out.Port == 0 {
		out.Port = 6379
	}

	switch {
	case out.Mode == "sentinel" && len(out.SentinelAddrs) == 0:
		out.SentinelAddrs = getEnvList("APP_REDIS_SENTINEL_ADDRS")
	case out.Mode == "cluster" && len(out.ClusterAddrs) == 0:
		out.ClusterAddrs = getEnvList("APP_REDIS_CLUSTER_ADDRS")
	}

	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.MinIdleConns <= 0 {
		out.MinIdleConns = 2
	}
	return out
}

// parseRedisAddr 解析 host:port，端口缺失或非法时返回 0
func parseRedisAddr(addr string) (string, int) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

// ConnectRedis 归一化 Redis 配置后建立连接，连接失败返回 nil，调用方退回内存实现
func ConnectRedis(ctx context.Context, cfg *config.Config) redis.UniversalClient {
	cfg.Redis = normalizeRedisConfig(cfg.Redis)
	client, err := infra.OpenRedis(ctx, &cfg.Redis)
	if err != nil {
		logger.Warn("Redis 不可用，状态存储与任务调度将退回进程内实现", zap.Error(err))
		return nil
	}
	return client
}
