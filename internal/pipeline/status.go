package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cmsreport/internal/render"
	reporttpl "cmsreport/internal/template"

	"github.com/redis/go-redis/v9"
)

// ErrStatusNotFound 没有该报告的状态记录
var ErrStatusNotFound = errors.New("报告状态不存在")

// DefaultStatusTTL 状态记录保留时间
const DefaultStatusTTL = 24 * time.Hour

// Status 报告运行状态，用于异步查询
type Status struct {
	ReportID  string                              `json:"report_id"`
	State     State                               `json:"state"`
	Kind      Kind                                `json:"kind,omitempty"`
	Error     string                              `json:"error,omitempty"`
	Outputs   map[reporttpl.Format]*render.Output `json:"outputs,omitempty"`
	Failures  map[reporttpl.Format]string         `json:"failures,omitempty"`
	Warnings  []string                            `json:"warnings,omitempty"`
	UpdatedAt time.Time                           `json:"updated_at"`
}

// StatusStore 报告状态存储
type StatusStore interface {
	Get(ctx context.Context, reportID string) (*Status, error)
	Save(ctx context.Context, s *Status) error
}

// RedisStatusStore 基于 Redis 的状态存储，跨进程共享
type RedisStatusStore struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewRedisStatusStore 创建 Redis 状态存储
func NewRedisStatusStore(client redis.UniversalClient, ttl time.Duration) *RedisStatusStore {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisStatusStore{redis: client, ttl: ttl}
}

// Get 获取状态
func (m *RedisStatusStore) Get(ctx context.Context, reportID string) (*Status, error) {
	data, err := m.redis.Get(ctx, statusKey(reportID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStatusNotFound
		}
		return nil, fmt.Errorf("获取报告状态失败: %w", err)
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("解析报告状态失败: %w", err)
	}
	return &s, nil
}

// Save 保存状态
func (m *RedisStatusStore) Save(ctx context.Context, s *Status) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("序列化报告状态失败: %w", err)
	}
	if err := m.redis.Set(ctx, statusKey(s.ReportID), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("保存报告状态失败: %w", err)
	}
	return nil
}

func statusKey(reportID string) string {
	return fmt.Sprintf("report:status:%s", reportID)
}

// MemoryStatusStore 进程内状态存储
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMemoryStatusStore 创建进程内状态存储
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]Status)}
}

// Get 获取状态副本
func (m *MemoryStatusStore) Get(_ context.Context, reportID string) (*Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[reportID]
	if !ok {
		return nil, ErrStatusNotFound
	}
	return &s, nil
}

// Save 保存状态
func (m *MemoryStatusStore) Save(_ context.Context, s *Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[s.ReportID] = *s
	return nil
}

// statusFromResult 完成时的状态
func statusFromResult(res *ReportResult) *Status {
	return &Status{
		ReportID:  res.ID,
		State:     res.State,
		Outputs:   res.Outputs,
		Failures:  res.Failures,
		Warnings:  res.Warnings,
		UpdatedAt: res.CompletedAt,
	}
}

// statusFromFailure 失败时的状态
func statusFromFailure(f *Failure, at time.Time) *Status {
	return &Status{
		ReportID:  f.ReportID,
		State:     StateFailed,
		Kind:      f.Kind,
		Error:     f.Cause.Error(),
		UpdatedAt: at,
	}
}
