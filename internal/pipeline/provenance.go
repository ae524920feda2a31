package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cmsreport/internal/common"

	"gorm.io/gorm"
)

// ErrProvenanceNotFound 报告没有溯源记录
var ErrProvenanceNotFound = errors.New("报告溯源记录不存在")

// Provenance 报告溯源：使用的模板版本与检索到的源文档
type Provenance struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:36"`
	ReportID           string    `json:"report_id" gorm:"size:36;uniqueIndex"`
	TemplateName       string    `json:"template_name" gorm:"size:255;index"`
	TemplateVersion    int       `json:"template_version"`
	SourceDocumentIDs  []string  `json:"source_document_ids" gorm:"type:json;serializer:json"`
	RetrievalMode      string    `json:"retrieval_mode" gorm:"size:32"`
	Formats            []string  `json:"formats" gorm:"type:json;serializer:json"`
	GenerationAttempts int       `json:"generation_attempts"`
	CreatedAt          time.Time `json:"created_at"`
}

// TableName 表名
func (Provenance) TableName() string {
	return "report_provenance"
}

// ProvenanceStore 溯源记录存储
type ProvenanceStore struct {
	db *gorm.DB
}

// NewProvenanceStore 创建溯源存储
func NewProvenanceStore(db *gorm.DB) *ProvenanceStore {
	return &ProvenanceStore{db: db}
}

// Models 需要迁移的表
func (s *ProvenanceStore) Models() []interface{} {
	return []interface{}{&Provenance{}}
}

// Save 写入溯源记录
func (s *ProvenanceStore) Save(ctx context.Context, p *Provenance) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("保存溯源记录失败: %w", err)
	}
	return nil
}

// ByReport 按报告 ID 读取
func (s *ProvenanceStore) ByReport(ctx context.Context, reportID string) (*Provenance, error) {
	var p Provenance
	err := s.db.WithContext(ctx).Scopes(common.ByReport(reportID)).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProvenanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取溯源记录失败: %w", err)
	}
	return &p, nil
}

// ByTemplate 列出引用过某模板的溯源记录，按时间倒序
func (s *ProvenanceStore) ByTemplate(ctx context.Context, name string, offset, limit int) ([]Provenance, error) {
	var out []Provenance
	err := s.db.WithContext(ctx).
		Where("template_name = ?", name).
		Order("created_at DESC").
		Scopes(common.Paginate(offset, limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("查询溯源记录失败: %w", err)
	}
	return out, nil
}
