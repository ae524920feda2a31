// Package storage 保存渲染出的报告文件，支持本地目录与 S3 兼容对象存储。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cmsreport/internal/config"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("文件不存在")

// Storage 报告文件存储
type Storage interface {
	// Put 写入对象，返回可用于 Get 的位置
	Put(ctx context.Context, key, contentType string, data io.Reader) (string, error)
	// Get 读取对象
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除对象，不存在时不报错
	Delete(ctx context.Context, key string) error
}

// 存储类型
const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// New 按配置创建存储
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "", TypeLocal:
		dir := cfg.LocalDir
		if dir == "" {
			dir = "./data/reports"
		}
		return NewLocalStorage(dir)
	case TypeS3:
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("未知的存储类型: %s", cfg.Type)
	}
}

// ReportKey 报告文件的对象键：reports/<报告ID>/<文件名>
func ReportKey(reportID, filename string) string {
	return path.Join("reports", sanitize(reportID), sanitize(filename))
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_")
	return r.Replace(s)
}
