// Package template 管理带版本的报告模板。
//
// 每次保存都生成新版本，已发布版本不会被原地修改；删除只把模板标记为停用，
// 被报告引用过的版本始终可以按版本号读取。
package template

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cmsreport/internal/common"
	"cmsreport/internal/logger"
	"cmsreport/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	VersionLatest  = "latest"
	VersionDefault = "default"

	deletedBy = "template-store"
)

// Store 基于 gorm 的模板存储，保存操作串行化
type Store struct {
	db  *gorm.DB
	mu  sync.Mutex
	log *zap.Logger
	now func() time.Time
}

// NewStore 创建模板存储
func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: logger.OrNop(log), now: time.Now}
}

// Models 需要迁移的表
func (s *Store) Models() []interface{} {
	return []interface{}{&Template{}}
}

// SaveRequest 保存模板请求
type SaveRequest struct {
	Name        string
	Type        string
	Author      string
	Description string
	Tags        []string
	Metadata    map[string]string
	Variables   []VariableSpec
	Formats     []Format
	Body        string
}

// Save 保存为新版本，版本号为该名称已有最大版本号加一
// 该名称当前没有默认版本时，新版本成为默认版本。
func (s *Store) Save(ctx context.Context, req SaveRequest) (*Template, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: 模板名称不能为空", ErrInvalidTemplate)
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, fmt.Errorf("%w: 模板正文不能为空", ErrInvalidTemplate)
	}
	for _, f := range req.Formats {
		if !f.Valid() {
			return nil, fmt.Errorf("%w: 不支持的输出格式: %s", ErrInvalidTemplate, f)
		}
	}
	if err := ValidateSchema(req.Body, req.Variables); err != nil {
		return nil, err
	}
	typ := req.Type
	if typ == "" {
		typ = TypeCustom
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var saved *Template
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		// 包含已软删除的版本，版本号永不复用
		if err := tx.Model(&Template{}).Scopes(common.WithDeleted()).
			Where("name = ?", name).
			Select("COALESCE(MAX(version), 0)").Scan(&maxVersion).Error; err != nil {
			return fmt.Errorf("查询最大版本号失败: %w", err)
		}
		var defaults int64
		if err := tx.Model(&Template{}).Scopes(common.NotDeleted()).
			Where("name = ? AND is_default = ? AND active = ?", name, true, true).
			Count(&defaults).Error; err != nil {
			return fmt.Errorf("查询默认版本失败: %w", err)
		}

		now := s.now().UTC()
		t := &Template{
			ID:          uuid.New().String(),
			Name:        name,
			Version:     maxVersion + 1,
			Type:        typ,
			Author:      req.Author,
			Description: req.Description,
			Tags:        req.Tags,
			Metadata:    req.Metadata,
			Variables:   req.Variables,
			Formats:     req.Formats,
			Body:        req.Body,
			Active:      true,
			IsDefault:   defaults == 0,
		}
		t.CreatedAt, t.UpdatedAt = now, now
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("创建模板版本失败: %w", err)
		}
		saved = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("模板已保存", zap.String("name", saved.Name), zap.Int("version", saved.Version))
	return saved, nil
}

// ParseVersion 解析版本选择器："" / "latest" / "default" / "3" / "v3"
// 返回 0 表示 latest，-1 表示 default。
func ParseVersion(v string) (int, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "", VersionLatest:
		return 0, nil
	case VersionDefault:
		return -1, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(v, "v"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: 版本号无效: %q", ErrInvalidTemplate, v)
	}
	return n, nil
}

// Get 获取模板版本
// latest 返回最高的启用版本；default 返回标记为默认的版本，没有时回退到 latest；
// 显式版本号即使模板已停用也可读取。
func (s *Store) Get(ctx context.Context, name, version string) (*Template, error) {
	return s.find(s.db.WithContext(ctx), name, version)
}

func (s *Store) find(db *gorm.DB, name, version string) (*Template, error) {
	n, err := ParseVersion(version)
	if err != nil {
		return nil, err
	}

	q := db.Scopes(common.NotDeleted()).Where("name = ?", name)
	var t Template
	switch {
	case n > 0:
		err = q.Where("version = ?", n).First(&t).Error
	case n < 0:
		err = q.Where("active = ? AND is_default = ?", true, true).Order("version DESC").First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.find(db, name, VersionLatest)
		}
	default:
		err = q.Where("active = ?", true).Order("version DESC").First(&t).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s@%s", ErrTemplateNotFound, name, orLatest(version))
	}
	if err != nil {
		return nil, fmt.Errorf("查询模板失败: %w", err)
	}
	return &t, nil
}

// Versions 列出某模板的全部可读版本，按版本号升序
func (s *Store) Versions(ctx context.Context, name string) ([]Template, error) {
	var ts []Template
	if err := s.db.WithContext(ctx).Scopes(common.NotDeleted()).
		Where("name = ?", name).Order("version ASC").Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("查询模板版本失败: %w", err)
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return ts, nil
}

// ListFilter 列表过滤条件
type ListFilter struct {
	Type            string
	Tag             string
	DeviceType      string
	IncludeInactive bool
	types.PaginationRequest
}

// ListResult 列表结果
type ListResult struct {
	Templates  []Summary                `json:"templates"`
	Pagination types.PaginationResponse `json:"pagination"`
}

// List 列出每个模板的最新版本摘要，按名称排序
func (s *Store) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	latest, err := s.latestPerName(ctx, f.IncludeInactive)
	if err != nil {
		return nil, err
	}

	var matched []Summary
	for i := range latest {
		t := &latest[i]
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Tag != "" && !containsFold(t.Tags, f.Tag) {
			continue
		}
		if f.DeviceType != "" && t.Metadata[MetaDeviceType] != f.DeviceType {
			continue
		}
		matched = append(matched, t.Summarize())
	}

	page := f.PaginationRequest.Normalize()
	start := min(page.Offset(), len(matched))
	end := min(start+page.PageSize, len(matched))
	return &ListResult{
		Templates:  matched[start:end],
		Pagination: types.NewPaginationResponse(page, int64(len(matched))),
	}, nil
}

// SearchHit 搜索结果
type SearchHit struct {
	Template Summary `json:"template"`
	Score    int     `json:"score"`
}

// Search 在启用模板的最新版本中按关键词打分检索
// 名称命中 +10，描述或元数据命中 +5，每个命中的标签 +5，正文命中 +3。
func (s *Store) Search(ctx context.Context, query string) ([]SearchHit, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	latest, err := s.latestPerName(ctx, false)
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	for i := range latest {
		if score := searchScore(&latest[i], q); score > 0 {
			hits = append(hits, SearchHit{Template: latest[i].Summarize(), Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Template.Name < hits[j].Template.Name
	})
	return hits, nil
}

func searchScore(t *Template, q string) int {
	score := 0
	if strings.Contains(strings.ToLower(t.Name), q) {
		score += 10
	}
	meta := strings.Contains(strings.ToLower(t.Description), q)
	for _, v := range t.Metadata {
		if strings.Contains(strings.ToLower(v), q) {
			meta = true
		}
	}
	if meta {
		score += 5
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			score += 5
		}
	}
	if strings.Contains(strings.ToLower(t.Body), q) {
		score += 3
	}
	return score
}

// Delete 停用模板的全部版本
// 被报告引用过的版本保留可读，其余版本软删除。
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Template{}).Scopes(common.NotDeleted()).
			Where("name = ?", name).
			Updates(map[string]interface{}{"active": false, "is_default": false, "updated_at": s.now().UTC()})
		if res.Error != nil {
			return fmt.Errorf("停用模板失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		if err := tx.Model(&Template{}).Scopes(common.NotDeleted()).
			Where("name = ? AND reference_count = 0", name).
			Updates(map[string]interface{}{"deleted_at": s.now().UTC(), "deleted_by": deletedBy}).Error; err != nil {
			return fmt.Errorf("删除未引用版本失败: %w", err)
		}
		s.log.Info("模板已停用", zap.String("name", name))
		return nil
	})
}

// SetDefault 将指定版本标记为默认版本
func (s *Store) SetDefault(ctx context.Context, name string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t Template
		err := tx.Scopes(common.NotDeleted()).
			Where("name = ? AND version = ? AND active = ?", name, version, true).First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s@v%d", ErrTemplateNotFound, name, version)
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&Template{}).Where("name = ?", name).Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&t).Update("is_default", true).Error
	})
}

// Acquire 解析模板版本并登记报告引用
// 与 Delete 串行执行，返回的版本在之后的删除中保留可读。
func (s *Store) Acquire(ctx context.Context, name, version, reportID string) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t *Template
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.find(tx, name, version)
		if err != nil {
			return err
		}
		res := tx.Model(&Template{}).Scopes(common.NotDeleted()).
			Where("id = ?", found.ID).
			UpdateColumn("reference_count", gorm.Expr("reference_count + 1"))
		if res.Error != nil {
			return fmt.Errorf("记录模板引用失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s@v%d", ErrTemplateNotFound, name, found.Version)
		}
		found.ReferenceCount++
		t = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("模板版本被引用", zap.String("name", t.Name), zap.Int("version", t.Version), zap.String("report_id", reportID))
	return t, nil
}

// latestPerName 每个名称取最高版本
func (s *Store) latestPerName(ctx context.Context, includeInactive bool) ([]Template, error) {
	q := s.db.WithContext(ctx).Scopes(common.NotDeleted())
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var all []Template
	if err := q.Order("name ASC").Order("version DESC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("查询模板列表失败: %w", err)
	}
	out := make([]Template, 0, len(all))
	for _, t := range all {
		if len(out) > 0 && out[len(out)-1].Name == t.Name {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}

func orLatest(v string) string {
	if v == "" {
		return VersionLatest
	}
	return v
}
