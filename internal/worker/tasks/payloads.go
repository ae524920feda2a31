package tasks

import (
	"cmsreport/internal/pipeline"
	"cmsreport/internal/rag"
)

// Task Types
const (
	TypeGenerateReport = "report:generate"
	TypeIngestDocument = "knowledge:ingest"
)

// GenerateReportPayload 报告生成任务载荷
type GenerateReportPayload struct {
	Request pipeline.ReportRequest `json:"request"`
}

// IngestDocumentPayload 知识文档入库任务载荷
type IngestDocumentPayload struct {
	Document rag.Document `json:"document"`
}
