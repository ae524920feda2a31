package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"cmsreport/internal/pipeline"
	"cmsreport/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// ReportHandler 执行报告生成任务
type ReportHandler struct {
	runner pipeline.Runner
	logger *zap.Logger
}

func NewReportHandler(runner pipeline.Runner, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		runner: runner,
		logger: logger,
	}
}

// HandleGenerateReport 不可重试的失败返回 asynq.SkipRetry
func (h *ReportHandler) HandleGenerateReport(ctx context.Context, t *asynq.Task) error {
	var p tasks.GenerateReportPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.Request.ID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			p.Request.ID = id
		}
	}

	h.logger.Info("开始执行报告任务",
		zap.String("report_id", p.Request.ID),
		zap.String("template", p.Request.TemplateName),
	)

	res, err := h.runner.Run(ctx, p.Request)
	if err != nil {
		h.logger.Error("报告任务失败", zap.String("report_id", p.Request.ID), zap.Error(err))
		if f, ok := pipeline.AsFailure(err); ok && !f.Retryable() {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	h.logger.Info("报告任务完成",
		zap.String("report_id", res.ID),
		zap.Int("outputs", len(res.Outputs)),
	)
	return nil
}
