package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"cmsreport/internal/rag"
	"cmsreport/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// DocumentIngester 知识入库抽象，便于注入 mock
type DocumentIngester interface {
	Ingest(ctx context.Context, doc rag.Document) (*rag.IngestResult, error)
}

type KnowledgeHandler struct {
	ingester DocumentIngester
	logger   *zap.Logger
}

func NewKnowledgeHandler(ingester DocumentIngester, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		ingester: ingester,
		logger:   logger,
	}
}

func (h *KnowledgeHandler) HandleIngestDocument(ctx context.Context, t *asynq.Task) error {
	var p tasks.IngestDocumentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("开始处理文档任务", zap.String("document_id", p.Document.ID))

	res, err := h.ingester.Ingest(ctx, p.Document)
	if err != nil {
		h.logger.Error("文档处理失败", zap.String("document_id", p.Document.ID), zap.Error(err))
		return err
	}

	h.logger.Info("文档处理完成",
		zap.String("document_id", res.DocumentID),
		zap.Int("passages", res.Passages),
		zap.Uint64("generation", res.Generation),
	)
	return nil
}
