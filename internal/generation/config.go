package generation

import (
	"fmt"
	"time"

	"cmsreport/internal/config"
)

const (
	DefaultTimeout       = 60 * time.Second
	DefaultMaxTokens     = 1024
	MaxTokensLimit       = 8192
	DefaultTemperature   = 0.3
	DefaultMinStatements = 5
)

// Config 单次生成的约束
type Config struct {
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	MinStatements int
}

// DefaultConfig 默认生成约束
func DefaultConfig() Config {
	return Config{
		Temperature:   DefaultTemperature,
		MaxTokens:     DefaultMaxTokens,
		Timeout:       DefaultTimeout,
		MinStatements: DefaultMinStatements,
	}
}

// FromSettings 由配置文件的 ai.generation 段构造
func FromSettings(g config.GenerationConfig) Config {
	c := Config{
		Temperature:   g.Temperature,
		MaxTokens:     g.MaxTokens,
		Timeout:       g.Timeout(),
		MinStatements: g.MinStatements,
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MinStatements <= 0 {
		c.MinStatements = DefaultMinStatements
	}
	return c
}

// Validate 校验温度与输出长度
func (c Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature 必须在 0-2 之间: %v", ErrInvalidConfig, c.Temperature)
	}
	if c.MaxTokens < 0 || c.MaxTokens > MaxTokensLimit {
		return fmt.Errorf("%w: max_tokens 必须在 1-%d 之间: %d", ErrInvalidConfig, MaxTokensLimit, c.MaxTokens)
	}
	return nil
}
