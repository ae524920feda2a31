package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cmsreport/internal/config"
	"cmsreport/internal/infra"
	"cmsreport/internal/pipeline"
	"cmsreport/internal/rag"
	"cmsreport/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Priority 任务优先级
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// QueueName 按优先级得到队列名
func QueueName(base string, p Priority) string {
	switch {
	case p >= PriorityHigh:
		return base + "_high"
	case p <= PriorityLow:
		return base + "_low"
	}
	return base
}

// QueueWeights 服务端各队列的权重
func QueueWeights(base string) map[string]int {
	return map[string]int{
		QueueName(base, PriorityHigh):   6,
		QueueName(base, PriorityNormal): 3,
		QueueName(base, PriorityLow):    1,
	}
}

// Client 任务队列客户端接口
type Client interface {
	EnqueueGenerateReport(ctx context.Context, req pipeline.ReportRequest, p Priority) (string, error)
	EnqueueIngestDocument(ctx context.Context, doc rag.Document) (string, error)
	// Cancel 删除排队中的报告任务或通知 worker 取消执行中的任务
	Cancel(ctx context.Context, reportID string) (bool, error)
	Close() error
}

type asynqClient struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

// NewClient 创建任务队列客户端
func NewClient(redis config.RedisConfig, worker config.WorkerConfig) Client {
	queue := worker.Queue
	if queue == "" {
		queue = "report"
	}
	opt := infra.AsynqRedisOpt(redis)
	return &asynqClient{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     queue,
	}
}

// EnqueueGenerateReport 提交报告任务，任务 ID 与报告 ID 相同，重复提交会被拒绝
func (c *asynqClient) EnqueueGenerateReport(ctx context.Context, req pipeline.ReportRequest, p Priority) (string, error) {
	payload, err := json.Marshal(tasks.GenerateReportPayload{Request: req})
	if err != nil {
		return "", fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeGenerateReport, payload)
	// 流水线内部已对生成阶段重试，这里只对可重试失败再重试一次
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.TaskID(req.ID),
		asynq.MaxRetry(1),
		asynq.Timeout(10*time.Minute),
		asynq.Retention(24*time.Hour),
		asynq.Queue(QueueName(c.queue, p)),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue task failed: %w", err)
	}
	return info.ID, nil
}

func (c *asynqClient) EnqueueIngestDocument(ctx context.Context, doc rag.Document) (string, error) {
	payload, err := json.Marshal(tasks.IngestDocumentPayload{Document: doc})
	if err != nil {
		return "", fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeIngestDocument, payload)
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue(QueueName(c.queue, PriorityLow)),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue task failed: %w", err)
	}
	return info.ID, nil
}

func (c *asynqClient) Cancel(_ context.Context, reportID string) (bool, error) {
	for _, q := range []string{
		QueueName(c.queue, PriorityHigh),
		QueueName(c.queue, PriorityNormal),
		QueueName(c.queue, PriorityLow),
	} {
		info, err := c.inspector.GetTaskInfo(q, reportID)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return false, fmt.Errorf("query task failed: %w", err)
		}
		switch info.State {
		case asynq.TaskStateActive:
			if err := c.inspector.CancelProcessing(reportID); err != nil {
				return false, fmt.Errorf("cancel task failed: %w", err)
			}
			return true, nil
		case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
			if err := c.inspector.DeleteTask(q, reportID); err != nil {
				return false, fmt.Errorf("delete task failed: %w", err)
			}
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

func (c *asynqClient) Close() error {
	if err := c.inspector.Close(); err != nil {
		return err
	}
	return c.client.Close()
}
