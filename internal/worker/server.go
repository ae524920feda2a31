package worker

import (
	"context"

	"cmsreport/internal/config"
	"cmsreport/internal/infra"
	"cmsreport/internal/infra/queue"
	"cmsreport/internal/pipeline"
	"cmsreport/internal/worker/handlers"
	"cmsreport/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(
	redis config.RedisConfig,
	cfg config.WorkerConfig,
	runner pipeline.Runner,
	ingester handlers.DocumentIngester,
	logger *zap.Logger,
) *Server {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	base := cfg.Queue
	if base == "" {
		base = "report"
	}

	srv := asynq.NewServer(
		infra.AsynqRedisOpt(redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues:      queue.QueueWeights(base),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				id, _ := asynq.GetTaskID(ctx)
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.String("task_id", id),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	reportHandler := handlers.NewReportHandler(runner, logger)
	mux.HandleFunc(tasks.TypeGenerateReport, reportHandler.HandleGenerateReport)

	if ingester != nil {
		knowledgeHandler := handlers.NewKnowledgeHandler(ingester, logger)
		mux.HandleFunc(tasks.TypeIngestDocument, knowledgeHandler.HandleIngestDocument)
	}

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}
