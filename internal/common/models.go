package common

import "time"

// SoftDeleteModel 软删除字段，查询时配合 NotDeleted 使用
type SoftDeleteModel struct {
	DeletedAt *time.Time `json:"deleted_at,omitempty" yaml:"-" gorm:"index"`
	DeletedBy string     `json:"deleted_by,omitempty" yaml:"-" gorm:"size:100"`
}

// IsDeleted 是否已删除
func (m *SoftDeleteModel) IsDeleted() bool {
	return m.DeletedAt != nil
}

// SoftDelete 记录删除时间与操作人
func (m *SoftDeleteModel) SoftDelete(operator string, at time.Time) {
	m.DeletedAt = &at
	m.DeletedBy = operator
}

// TimestampModel 创建与更新时间
type TimestampModel struct {
	CreatedAt time.Time `json:"created_at" yaml:"-" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-" gorm:"not null;autoUpdateTime"`
}
