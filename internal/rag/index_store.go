package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PassageRecord 段落持久化模型
type PassageRecord struct {
	ID         string            `gorm:"primaryKey;size:191" json:"id"`
	DocumentID string            `gorm:"size:191;index;not null" json:"documentId"`
	Ordinal    int               `gorm:"not null" json:"ordinal"`
	Content    string            `gorm:"type:text;not null" json:"content"`
	Embedding  pgvector.Vector   `gorm:"type:vector" json:"-"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	Generation uint64            `gorm:"index" json:"generation"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// TableName 指定表名
func (PassageRecord) TableName() string {
	return "rag_passages"
}

// IndexMeta 索引元信息（单行）
type IndexMeta struct {
	ID         uint `gorm:"primaryKey"`
	Generation uint64
	UpdatedAt  time.Time
}

// TableName 指定表名
func (IndexMeta) TableName() string {
	return "rag_index_meta"
}

// GormPassageStore 基于 GORM 的索引存储，SQLite 与 PostgreSQL(pgvector) 通用
type GormPassageStore struct {
	db        *gorm.DB
	batchSize int
}

// NewGormPassageStore 创建存储
func NewGormPassageStore(db *gorm.DB) *GormPassageStore {
	return &GormPassageStore{db: db, batchSize: 200}
}

// Models 需要迁移的模型
func (s *GormPassageStore) Models() []interface{} {
	return []interface{}{&PassageRecord{}, &IndexMeta{}}
}

// Load 加载全部段落
func (s *GormPassageStore) Load(ctx context.Context) ([]*Passage, uint64, error) {
	var meta IndexMeta
	err := s.db.WithContext(ctx).First(&meta, 1).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, err
	}

	var records []PassageRecord
	if err := s.db.WithContext(ctx).Order("document_id, ordinal").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*Passage, len(records))
	for i := range records {
		out[i] = records[i].toPassage()
	}
	return out, meta.Generation, nil
}

// Commit 在同一事务内完成删除、写入和代数更新
func (s *GormPassageStore) Commit(ctx context.Context, generation uint64, add []*Passage, deleteDocs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(deleteDocs) > 0 {
			if err := tx.Where("document_id IN ?", deleteDocs).Delete(&PassageRecord{}).Error; err != nil {
				return fmt.Errorf("删除旧段落失败: %w", err)
			}
		}
		if len(add) > 0 {
			records := make([]PassageRecord, len(add))
			for i, p := range add {
				records[i] = newPassageRecord(p, generation)
			}
			if err := tx.CreateInBatches(records, s.batchSize).Error; err != nil {
				return fmt.Errorf("写入段落失败: %w", err)
			}
		}
		meta := IndexMeta{ID: 1, Generation: generation}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"generation", "updated_at"}),
		}).Create(&meta).Error
	})
}

func newPassageRecord(p *Passage, gen uint64) PassageRecord {
	meta := make(datatypes.JSONMap, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}
	return PassageRecord{
		ID:         p.ID,
		DocumentID: p.DocumentID,
		Ordinal:    p.Ordinal,
		Content:    p.Text,
		Embedding:  pgvector.NewVector(p.Embedding),
		Metadata:   meta,
		Generation: gen,
	}
}

func (r *PassageRecord) toPassage() *Passage {
	meta := make(Metadata, len(r.Metadata))
	for k, v := range r.Metadata {
		if s, ok := v.(string); ok {
			meta[k] = s
		} else {
			meta[k] = fmt.Sprint(v)
		}
	}
	return &Passage{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Ordinal:    r.Ordinal,
		Text:       r.Content,
		Embedding:  r.Embedding.Slice(),
		Metadata:   meta,
	}
}
