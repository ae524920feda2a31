package api

import (
	"context"
	"time"

	handlercommon "cmsreport/api/handlers/common"
	"cmsreport/internal/infra/queue"
	"cmsreport/internal/pipeline"

	"go.uber.org/zap"
)

// queueDispatcher 通过 asynq 队列投递报告任务
type queueDispatcher struct {
	client queue.Client
	status pipeline.StatusStore
	events *pipeline.EventBus
	log    *zap.Logger
}

func (d *queueDispatcher) Dispatch(ctx context.Context, req pipeline.ReportRequest) (handlercommon.AcceptedResponse, error) {
	taskID, err := d.client.EnqueueGenerateReport(ctx, req, queue.PriorityNormal)
	if err != nil {
		return handlercommon.AcceptedResponse{}, err
	}
	return handlercommon.AcceptedResponse{ReportID: req.ID, TaskID: taskID, Mode: "queue"}, nil
}

func (d *queueDispatcher) Cancel(ctx context.Context, reportID string) bool {
	ok, err := d.client.Cancel(ctx, reportID)
	if err != nil {
		d.log.Warn("取消排队任务失败", zap.String("report_id", reportID), zap.Error(err))
		return false
	}
	if ok {
		markCancelled(ctx, d.status, d.events, reportID)
	}
	return ok
}

// poolDispatcher 使用进程内工作池
type poolDispatcher struct {
	pool   *pipeline.Pool
	status pipeline.StatusStore
	events *pipeline.EventBus
}

func (d *poolDispatcher) Dispatch(_ context.Context, req pipeline.ReportRequest) (handlercommon.AcceptedResponse, error) {
	id, err := d.pool.Submit(req)
	if err != nil {
		return handlercommon.AcceptedResponse{}, err
	}
	return handlercommon.AcceptedResponse{ReportID: id, Mode: "local"}, nil
}

func (d *poolDispatcher) Cancel(ctx context.Context, reportID string) bool {
	if !d.pool.Cancel(reportID) {
		return false
	}
	markCancelled(ctx, d.status, d.events, reportID)
	return true
}

// markCancelled 任务在开始执行前被删除时，流水线不会再写状态，这里补写终态
func markCancelled(ctx context.Context, status pipeline.StatusStore, events *pipeline.EventBus, reportID string) {
	if status == nil {
		return
	}
	st, err := status.Get(ctx, reportID)
	if err != nil || st.State != pipeline.StateInitialized {
		return
	}
	now := time.Now()
	_ = status.Save(ctx, &pipeline.Status{
		ReportID:  reportID,
		State:     pipeline.StateFailed,
		Kind:      pipeline.KindCancelled,
		Error:     "任务在执行前被取消",
		UpdatedAt: now,
	})
	events.Publish(pipeline.Event{
		ReportID:   reportID,
		From:       pipeline.StateInitialized,
		State:      pipeline.StateFailed,
		Kind:       pipeline.KindCancelled,
		Message:    "任务在执行前被取消",
		OccurredAt: now,
	})
}
