package types

import (
	"time"

	"gorm.io/datatypes"
)

// AICallLog 生成后端调用日志数据模型
type AICallLog struct {
	ID               string            `gorm:"primaryKey;size:36" json:"id"`
	ReportID         string            `gorm:"size:64;index" json:"report_id,omitempty"`
	ModelProvider    string            `gorm:"size:32" json:"model_provider"` // openai, gemini, offline
	ModelName        string            `gorm:"size:128" json:"model_name"`
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
	TotalTokens      int               `json:"total_tokens"`
	LatencyMS        int64             `json:"latency_ms"`
	Status           string            `gorm:"size:16" json:"status"` // success, error
	ErrorType        string            `gorm:"size:32" json:"error_type,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"index" json:"created_at"`
}

// TableName 表名
func (AICallLog) TableName() string {
	return "ai_call_logs"
}
