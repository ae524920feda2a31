package ai

import (
	"context"
	"time"

	"cmsreport/pkg/types"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DBLogger 数据库日志记录器
type DBLogger struct {
	db *gorm.DB
}

// NewDBLogger 创建数据库日志记录器
func NewDBLogger(db *gorm.DB) *DBLogger {
	return &DBLogger{db: db}
}

// Models 需要迁移的表
func (l *DBLogger) Models() []interface{} {
	return []interface{}{&types.AICallLog{}}
}

// Log 记录模型调用日志
func (l *DBLogger) Log(ctx context.Context, log *ModelCallLog) error {
	modelName := log.ModelName
	if modelName == "" {
		modelName = log.ModelProvider
	}
	status := "success"
	if log.ErrorType != "" {
		status = "error"
	}

	dbLog := &types.AICallLog{
		ID:               uuid.New().String(),
		ReportID:         log.ReportID,
		ModelProvider:    log.ModelProvider,
		ModelName:        modelName,
		PromptTokens:     log.PromptTokens,
		CompletionTokens: log.CompletionTokens,
		TotalTokens:      log.TotalTokens,
		LatencyMS:        log.LatencyMs,
		Status:           status,
		ErrorType:        log.ErrorType,
		ErrorMessage:     log.ErrorMessage,
		CreatedAt:        time.Now().UTC(),
	}
	if log.TraceID != "" {
		dbLog.Metadata = datatypes.JSONMap{"trace_id": log.TraceID}
	}

	return l.db.WithContext(ctx).Create(dbLog).Error
}

// Recent 按报告查询最近的调用记录
func (l *DBLogger) Recent(ctx context.Context, reportID string, limit int) ([]types.AICallLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []types.AICallLog
	q := l.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if reportID != "" {
		q = q.Where("report_id = ?", reportID)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
