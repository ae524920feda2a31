package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	AI       AIConfig       `mapstructure:"ai"`
	RAG      RagConfig      `mapstructure:"rag"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Report   ReportConfig   `mapstructure:"report"`
	Alarm    AlarmConfig    `mapstructure:"alarm"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // sqlite, postgres
	Path            string `mapstructure:"path"`   // sqlite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// Addr 单节点地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AIConfig 生成后端配置
type AIConfig struct {
	Provider   string           `mapstructure:"provider"` // openai, gemini
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Generation GenerationConfig `mapstructure:"generation"`
}

// OpenAIConfig OpenAI 配置
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	OrgID          string `mapstructure:"org_id"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// GeminiConfig Google Gemini 配置
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// GenerationConfig 生成约束
type GenerationConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"` // 硬超时，默认 60
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"` // 0.0 - 2.0
	MinStatements  int     `mapstructure:"min_statements"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"` // 0 表示不限流
	Burst          int     `mapstructure:"burst"`
	RetryBackoffMs int     `mapstructure:"retry_backoff_ms"`
}

// Timeout 硬超时
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// RagConfig 检索相关配置
type RagConfig struct {
	Chunk          ChunkConfig          `mapstructure:"chunk"`
	Index          IndexConfig          `mapstructure:"index"`
	Retrieval      RetrievalConfig      `mapstructure:"retrieval"`
	Context        ContextConfig        `mapstructure:"context"`
	EmbeddingCache EmbeddingCacheConfig `mapstructure:"embedding_cache"`
}

// ChunkConfig 分块配置
type ChunkConfig struct {
	MaxSize            int     `mapstructure:"max_size"`
	CoherenceThreshold float64 `mapstructure:"coherence_threshold"`
}

// IndexConfig 向量索引配置
type IndexConfig struct {
	Dimension int          `mapstructure:"dimension"`
	Backend   string       `mapstructure:"backend"` // local, qdrant
	Qdrant    QdrantConfig `mapstructure:"qdrant"`
}

// QdrantConfig Qdrant gRPC 配置
type QdrantConfig struct {
	Addr       string `mapstructure:"addr"`
	Collection string `mapstructure:"collection"`
}

// RetrievalConfig 混合检索配置
type RetrievalConfig struct {
	Alpha float64 `mapstructure:"alpha"`
	TopK  int     `mapstructure:"top_k"`
}

// ContextConfig 上下文预算配置
type ContextConfig struct {
	Budget   int    `mapstructure:"budget"`
	Counter  string `mapstructure:"counter"`  // rune, tiktoken
	Encoding string `mapstructure:"encoding"` // tiktoken 编码，如 cl100k_base
}

// EmbeddingCacheConfig 向量缓存配置
type EmbeddingCacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	TTL     string `mapstructure:"ttl"` // 如 "168h"
}

// WorkerConfig 报告任务并发配置
type WorkerConfig struct {
	Enabled     bool   `mapstructure:"enabled"` // 是否启动 asynq worker
	Concurrency int    `mapstructure:"concurrency"`
	Queue       string `mapstructure:"queue"`
	PoolSize    int    `mapstructure:"pool_size"` // 进程内 worker 数
}

// ReportConfig 报告渲染与存储配置
type ReportConfig struct {
	Formats         []string      `mapstructure:"formats"`
	Placeholder     string        `mapstructure:"placeholder"`
	FallbackReuse   bool          `mapstructure:"fallback_reuse"`
	DefaultTemplate string        `mapstructure:"default_template"`
	FontPath        string        `mapstructure:"font_path"` // PDF UTF-8 字体
	Storage         StorageConfig `mapstructure:"storage"`
}

// StorageConfig 报告文件存储配置
type StorageConfig struct {
	Type     string   `mapstructure:"type"` // local, s3
	LocalDir string   `mapstructure:"local_dir"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config S3 兼容对象存储配置
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// AlarmConfig 报警规则
type AlarmConfig struct {
	Rules []AlarmRule `mapstructure:"rules"`
}

// AlarmRule 单条报警规则，Expression 使用测点特征变量，如 "rms > 7.1"
type AlarmRule struct {
	Level      string `mapstructure:"level"`
	Expression string `mapstructure:"expression"`
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
// 找不到配置文件时使用默认值
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_DATABASE_HOST
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Default 返回全部默认值构成的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 120)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/cmsreport.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("ai.gemini.model", "gemini-1.5-flash")
	v.SetDefault("ai.generation.timeout_seconds", 60)
	v.SetDefault("ai.generation.max_tokens", 1024)
	v.SetDefault("ai.generation.temperature", 0.3)
	v.SetDefault("ai.generation.min_statements", 5)
	v.SetDefault("ai.generation.rate_per_second", 0)
	v.SetDefault("ai.generation.burst", 1)
	v.SetDefault("ai.generation.retry_backoff_ms", 1000)

	v.SetDefault("rag.chunk.max_size", 500)
	v.SetDefault("rag.chunk.coherence_threshold", 0.7)
	v.SetDefault("rag.index.dimension", 1536)
	v.SetDefault("rag.index.backend", "local")
	v.SetDefault("rag.index.qdrant.collection", "cms_passages")
	v.SetDefault("rag.retrieval.alpha", 0.5)
	v.SetDefault("rag.retrieval.top_k", 5)
	v.SetDefault("rag.context.budget", 2000)
	v.SetDefault("rag.context.counter", "rune")
	v.SetDefault("rag.context.encoding", "cl100k_base")
	v.SetDefault("rag.embedding_cache.ttl", "168h")

	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.queue", "report")
	v.SetDefault("worker.pool_size", 4)

	v.SetDefault("report.formats", []string{"html", "pdf", "docx"})
	v.SetDefault("report.placeholder", "—")
	v.SetDefault("report.fallback_reuse", true)
	v.SetDefault("report.default_template", "振动分析报告")
	v.SetDefault("report.storage.type", "local")
	v.SetDefault("report.storage.local_dir", "reports")

	v.SetDefault("alarm.rules", []map[string]string{
		{"level": "危险", "expression": "rms >= 11.2"},
		{"level": "警告", "expression": "rms >= 7.1"},
		{"level": "注意", "expression": "rms >= 4.5"},
	})
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	g := c.AI.Generation
	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("ai.generation.temperature 必须在 0-2 之间: %v", g.Temperature)
	}
	if g.TimeoutSeconds <= 0 {
		return fmt.Errorf("ai.generation.timeout_seconds 必须大于 0")
	}
	if a := c.RAG.Retrieval.Alpha; a < 0 || a > 1 {
		return fmt.Errorf("rag.retrieval.alpha 必须在 0-1 之间: %v", a)
	}
	if c.RAG.Chunk.MaxSize <= 0 {
		return fmt.Errorf("rag.chunk.max_size 必须大于 0")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s (可选: sqlite, postgres)", c.Database.Driver)
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取 postgres 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
