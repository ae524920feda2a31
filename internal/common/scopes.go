package common

import "gorm.io/gorm"

// NotDeleted 过滤已软删除的记录
// 使用方法：db.Scopes(common.NotDeleted()).Find(&templates)
func NotDeleted() func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("deleted_at IS NULL")
	}
}

// WithDeleted 包含已软删除的记录
func WithDeleted() func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Unscoped()
	}
}

// ByReport 按报告 ID 过滤
func ByReport(reportID string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if reportID == "" {
			return db
		}
		return db.Where("report_id = ?", reportID)
	}
}

// Paginate 分页
func Paginate(offset, limit int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(offset).Limit(limit)
	}
}
