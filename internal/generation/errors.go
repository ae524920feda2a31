package generation

import (
	"errors"
	"fmt"

	"cmsreport/pkg/aiinterface"
)

var (
	// ErrTimeout 生成调用超过硬超时
	ErrTimeout = errors.New("生成超时")
	// ErrRateLimited 生成后端限流
	ErrRateLimited = errors.New("生成后端限流")
	// ErrInvalidOutput 生成结果为空或无法解析
	ErrInvalidOutput = errors.New("生成结果无效")
	// ErrCancelled 调用方取消，与失败区分
	ErrCancelled = errors.New("生成已取消")
	// ErrBackend 其他后端错误
	ErrBackend = errors.New("生成后端错误")
	// ErrInvalidConfig 生成参数越界
	ErrInvalidConfig = errors.New("生成参数无效")
)

// classify 将后端错误映射为本包的哨兵错误，保留原始错误链
func classify(err error) error {
	var sentinel error
	switch aiinterface.TypeOf(err) {
	case aiinterface.ErrorTypeCancelled:
		sentinel = ErrCancelled
	case aiinterface.ErrorTypeTimeout:
		sentinel = ErrTimeout
	case aiinterface.ErrorTypeRateLimit:
		sentinel = ErrRateLimited
	case aiinterface.ErrorTypeInvalidResponse:
		sentinel = ErrInvalidOutput
	default:
		sentinel = ErrBackend
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Retryable 是否值得由上层重试一次
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrCancelled) || errors.Is(err, ErrInvalidConfig) {
		return false
	}
	var ce *aiinterface.ClientError
	if errors.As(err, &ce) && ce.Type == aiinterface.ErrorTypeAuth {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrBackend) || errors.Is(err, ErrInvalidOutput)
}
