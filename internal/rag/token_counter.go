package rag

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 上下文预算计量
type TokenCounter interface {
	Count(text string) int
}

// RuneCounter 按字符计数，中文场景下与模型 token 数同量级
type RuneCounter struct{}

func (RuneCounter) Count(text string) int { return utf8.RuneCountInString(text) }

// TiktokenCounter 使用 BPE 编码计数
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter 按编码名创建计数器，如 cl100k_base
// 首次使用会下载编码表，离线环境请使用 RuneCounter。
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("加载 tiktoken 编码 %s 失败: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter 根据配置名创建计数器：rune | tiktoken
func NewTokenCounter(kind, encoding string) (TokenCounter, error) {
	switch kind {
	case "", "rune":
		return RuneCounter{}, nil
	case "tiktoken":
		return NewTiktokenCounter(encoding)
	default:
		return nil, fmt.Errorf("unknown token counter %q", kind)
	}
}
