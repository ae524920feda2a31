package api

import (
	"context"
	"fmt"
	"time"

	"cmsreport/api/handlers/knowledge"
	"cmsreport/api/handlers/reports"
	"cmsreport/api/handlers/templates"
	"cmsreport/internal/ai"
	"cmsreport/internal/analysis"
	"cmsreport/internal/config"
	"cmsreport/internal/evidence"
	"cmsreport/internal/generation"
	"cmsreport/internal/infra"
	"cmsreport/internal/infra/queue"
	"cmsreport/internal/logger"
	"cmsreport/internal/middleware"
	"cmsreport/internal/pipeline"
	"cmsreport/internal/rag"
	"cmsreport/internal/render"
	"cmsreport/internal/storage"
	"cmsreport/internal/template"
	"cmsreport/internal/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用容器，集中管理所有服务依赖
type AppContainer struct {
	// 基础设施
	DB          *gorm.DB
	Config      *config.Config
	RedisClient redis.UniversalClient
	QueueClient queue.Client
	Logger      *zap.Logger

	// 知识检索
	Embedder  rag.EmbeddingProvider
	Index     *rag.Index
	Ingestor  *rag.Ingestor
	Retriever *rag.HybridRetriever
	Assembler *rag.ContextAssembler
	Qdrant    *rag.QdrantStore

	// 报告生成
	ModelClient ai.ModelClient
	CallLog     *ai.DBLogger
	Templates   *template.Store
	Renderer    *render.Renderer
	Storage     storage.Storage
	Provenance  *pipeline.ProvenanceStore
	Status      pipeline.StatusStore
	Events      *pipeline.EventBus
	Pipeline    *pipeline.Pipeline
	Pool        *pipeline.Pool
	Dispatcher  reports.Dispatcher

	RateLimiter  *middleware.RateLimiter
	WorkerServer *worker.Server
}

// Handlers 全部 HTTP Handler
type Handlers struct {
	Report    *reports.ReportHandler
	Template  *templates.TemplateHandler
	Knowledge *knowledge.KnowledgeHandler
}

// InitContainer 初始化应用容器
// redisClient 为 nil 时状态存储退回内存实现，异步任务走进程内工作池。
func InitContainer(ctx context.Context, db *gorm.DB, redisClient redis.UniversalClient, cfg *config.Config) (*AppContainer, error) {
	c := &AppContainer{
		DB:          db,
		Config:      cfg,
		RedisClient: redisClient,
		Logger:      logger.Get(),
	}

	if err := c.initStores(ctx); err != nil {
		return nil, err
	}
	if err := c.initKnowledge(ctx); err != nil {
		return nil, err
	}
	if err := c.initReporting(ctx); err != nil {
		return nil, err
	}
	c.initDispatch()
	c.RateLimiter = middleware.NewRateLimiter(nil)
	return c, nil
}

// models 需要迁移的全部表
func (c *AppContainer) models() []interface{} {
	var models []interface{}
	models = append(models, c.Templates.Models()...)
	models = append(models, rag.NewGormPassageStore(c.DB).Models()...)
	models = append(models, c.Provenance.Models()...)
	models = append(models, c.CallLog.Models()...)
	return models
}

func (c *AppContainer) initStores(ctx context.Context) error {
	c.Templates = template.NewStore(c.DB, c.Logger.Named("template"))
	c.Provenance = pipeline.NewProvenanceStore(c.DB)
	c.CallLog = ai.NewDBLogger(c.DB)

	if c.Config.Database.AutoMigrate {
		if err := infra.AutoMigrate(c.DB, c.models()...); err != nil {
			return err
		}
	} else {
		c.Logger.Info("跳过自动迁移（配置已禁用）")
	}
	if err := c.Templates.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("初始化内置模板失败: %w", err)
	}

	st, err := storage.New(ctx, c.Config.Report.Storage)
	if err != nil {
		return fmt.Errorf("初始化报告存储失败: %w", err)
	}
	c.Storage = st

	if c.RedisClient != nil {
		c.Status = pipeline.NewRedisStatusStore(c.RedisClient, pipeline.DefaultStatusTTL)
	} else {
		c.Status = pipeline.NewMemoryStatusStore()
	}
	c.Events = pipeline.NewEventBus(32)
	return nil
}

// newEmbedder 配置了 OpenAI 密钥时使用远程向量模型，否则使用本地特征哈希
func (c *AppContainer) newEmbedder() (rag.EmbeddingProvider, int) {
	cfg := c.Config
	var (
		provider rag.EmbeddingProvider
		dim      int
	)
	if cfg.AI.OpenAI.APIKey != "" && cfg.AI.OpenAI.EmbeddingModel != "" {
		p := rag.NewOpenAIEmbeddingProvider(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.BaseURL, cfg.AI.OpenAI.EmbeddingModel)
		provider, dim = p, p.GetDimension()
	} else {
		p := rag.NewHashingEmbedder(cfg.RAG.Index.Dimension)
		provider, dim = p, p.Dimension()
	}

	if cfg.RAG.EmbeddingCache.Enabled {
		ttl, err := time.ParseDuration(cfg.RAG.EmbeddingCache.TTL)
		if err != nil {
			c.Logger.Warn("embedding_cache.ttl 无效，使用默认值", zap.String("ttl", cfg.RAG.EmbeddingCache.TTL))
			ttl = 0
		}
		cache := rag.NewEmbeddingCache(c.RedisClient, ttl, c.Logger.Named("embedding_cache"))
		provider = rag.NewCachedEmbeddingProvider(provider, cache)
	}
	return provider, dim
}

func (c *AppContainer) initKnowledge(ctx context.Context) error {
	cfg := c.Config.RAG
	embedder, dim := c.newEmbedder()
	c.Embedder = embedder

	idx, err := rag.OpenIndex(ctx, dim, rag.NewGormPassageStore(c.DB), rag.WithIndexLogger(c.Logger.Named("index")))
	if err != nil {
		return fmt.Errorf("加载知识索引失败: %w", err)
	}
	c.Index = idx

	local := rag.NewIndexSearcher(idx, embedder)
	var (
		dense  rag.DenseSearcher = local
		mirror rag.DocumentMirror
	)
	if cfg.Index.Backend == "qdrant" {
		q, err := rag.NewQdrantStore(cfg.Index.Qdrant.Addr, cfg.Index.Qdrant.Collection, embedder)
		if err != nil {
			return fmt.Errorf("连接 Qdrant 失败: %w", err)
		}
		if err := q.EnsureCollection(ctx, dim); err != nil {
			_ = q.Close()
			return fmt.Errorf("初始化 Qdrant 集合失败: %w", err)
		}
		c.Qdrant = q
		dense, mirror = q, q
	}

	c.Ingestor = rag.NewIngestor(idx, rag.NewSemanticChunker(embedder, cfg.Chunk.MaxSize, cfg.Chunk.CoherenceThreshold), embedder, mirror, c.Logger.Named("ingest"))
	if n, err := c.Ingestor.Seed(ctx); err != nil {
		c.Logger.Warn("写入内置知识失败", zap.Error(err))
	} else if n > 0 {
		c.Logger.Info("已写入内置知识", zap.Int("documents", n))
	}

	c.Retriever, err = rag.NewHybridRetriever(dense, local,
		rag.WithAlpha(cfg.Retrieval.Alpha),
		rag.WithRetrieverLogger(c.Logger.Named("retriever")),
	)
	if err != nil {
		return fmt.Errorf("创建混合检索器失败: %w", err)
	}

	counter, err := rag.NewTokenCounter(cfg.Context.Counter, cfg.Context.Encoding)
	if err != nil {
		return fmt.Errorf("创建 token 计数器失败: %w", err)
	}
	c.Assembler = rag.NewContextAssembler(counter)
	return nil
}

func (c *AppContainer) initReporting(ctx context.Context) error {
	client, err := ai.NewClient(ctx, c.Config.AI, c.CallLog, c.Logger.Named("ai"))
	if err != nil {
		return err
	}
	c.ModelClient = client

	alarms, err := analysis.NewAlarmEvaluator(c.Config.Alarm.Rules)
	if err != nil {
		return fmt.Errorf("加载报警规则失败: %w", err)
	}
	c.Renderer = render.NewRenderer(render.OptionsFromConfig(c.Config.Report), c.Logger.Named("render"))

	c.Pipeline, err = pipeline.New(pipeline.Deps{
		Retriever:  c.Retriever,
		Assembler:  c.Assembler,
		Generator:  generation.NewOrchestrator(client, c.Logger.Named("generation")),
		Matcher:    evidence.NewMatcher(c.Config.Report.FallbackReuse, c.Logger.Named("evidence")),
		Templates:  c.Templates,
		Renderer:   c.Renderer,
		Storage:    c.Storage,
		Provenance: c.Provenance,
		Alarms:     alarms,
		Events:     c.Events,
		Status:     c.Status,
		Logger:     c.Logger.Named("pipeline"),
	}, pipeline.OptionsFromConfig(c.Config))
	return err
}

// initDispatch Redis 可用且启用 worker 时走 asynq 队列，否则走进程内工作池
func (c *AppContainer) initDispatch() {
	if c.Config.Worker.Enabled && c.RedisClient != nil {
		c.QueueClient = queue.NewClient(c.Config.Redis, c.Config.Worker)
		c.WorkerServer = worker.NewServer(c.Config.Redis, c.Config.Worker, c.Pipeline, c.Ingestor, c.Logger.Named("worker"))
		c.Dispatcher = &queueDispatcher{client: c.QueueClient, status: c.Status, events: c.Events, log: c.Logger}
		return
	}
	if c.Config.Worker.Enabled {
		c.Logger.Warn("Redis 未连接，异步报告退回进程内工作池")
	}
	c.Pool = pipeline.NewPool(c.Pipeline, c.Config.Worker.PoolSize, c.Logger.Named("pool"))
	c.Dispatcher = &poolDispatcher{pool: c.Pool, status: c.Status, events: c.Events}
}

// InitHandlers 初始化所有 Handlers
func (c *AppContainer) InitHandlers() *Handlers {
	var async knowledge.AsyncIngester
	if c.QueueClient != nil {
		async = c.QueueClient
	}
	return &Handlers{
		Report: reports.NewReportHandler(c.Pipeline, reports.Options{
			Dispatcher: c.Dispatcher,
			Status:     c.Status,
			Events:     c.Events,
			Provenance: c.Provenance,
			Files:      c.Storage,
			Logger:     c.Logger.Named("api"),
		}),
		Template:  templates.NewTemplateHandler(c.Templates, c.Renderer),
		Knowledge: knowledge.NewKnowledgeHandler(c.Ingestor, c.Index, c.Retriever, c.Assembler, async),
	}
}

// Close 按依赖逆序释放资源，数据库与 Redis 由调用方关闭
func (c *AppContainer) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			c.Logger.Warn("关闭任务队列客户端失败", zap.Error(err))
		}
	}
	if c.ModelClient != nil {
		if err := c.ModelClient.Close(); err != nil {
			c.Logger.Warn("关闭生成后端失败", zap.Error(err))
		}
	}
	if c.Qdrant != nil {
		if err := c.Qdrant.Close(); err != nil {
			c.Logger.Warn("关闭 Qdrant 连接失败", zap.Error(err))
		}
	}
	if c.RateLimiter != nil {
		c.RateLimiter.Stop()
	}
}
