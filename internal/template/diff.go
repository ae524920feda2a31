package template

import (
	"context"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff 返回两个版本正文的统一格式差异
func (s *Store) Diff(ctx context.Context, name string, from, to int) (string, error) {
	a, err := s.Get(ctx, name, fmt.Sprintf("v%d", from))
	if err != nil {
		return "", err
	}
	b, err := s.Get(ctx, name, fmt.Sprintf("v%d", to))
	if err != nil {
		return "", err
	}
	return DiffBodies(a, b)
}

// DiffBodies 比较两个模板版本的正文
func DiffBodies(a, b *Template) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a.Body),
		B:        difflib.SplitLines(b.Body),
		FromFile: fmt.Sprintf("%s@v%d", a.Name, a.Version),
		ToFile:   fmt.Sprintf("%s@v%d", b.Name, b.Version),
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("生成模板差异失败: %w", err)
	}
	return out, nil
}
