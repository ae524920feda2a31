package template

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Bundle 模板导入导出文件格式
type Bundle struct {
	Templates []BundleEntry `yaml:"templates"`
}

// BundleEntry 单个模板
type BundleEntry struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type,omitempty"`
	Author      string            `yaml:"author,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Tags        []string          `yaml:"tags,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
	Variables   []VariableSpec    `yaml:"variables"`
	Formats     []Format          `yaml:"formats,omitempty"`
	Body        string            `yaml:"body"`
}

func (e BundleEntry) request() SaveRequest {
	return SaveRequest{
		Name:        e.Name,
		Type:        e.Type,
		Author:      e.Author,
		Description: e.Description,
		Tags:        e.Tags,
		Metadata:    e.Metadata,
		Variables:   e.Variables,
		Formats:     e.Formats,
		Body:        e.Body,
	}
}

// Export 以 YAML 导出指定模板的最新版本，names 为空时导出全部启用模板
func (s *Store) Export(ctx context.Context, w io.Writer, names ...string) error {
	var list []Template
	if len(names) == 0 {
		latest, err := s.latestPerName(ctx, false)
		if err != nil {
			return err
		}
		list = latest
	} else {
		for _, n := range names {
			t, err := s.Get(ctx, n, VersionLatest)
			if err != nil {
				return err
			}
			list = append(list, *t)
		}
	}

	var b Bundle
	for _, t := range list {
		b.Templates = append(b.Templates, BundleEntry{
			Name:        t.Name,
			Type:        t.Type,
			Author:      t.Author,
			Description: t.Description,
			Tags:        t.Tags,
			Metadata:    t.Metadata,
			Variables:   t.Variables,
			Formats:     t.Formats,
			Body:        t.Body,
		})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&b); err != nil {
		return fmt.Errorf("导出模板失败: %w", err)
	}
	return enc.Close()
}

// Import 读取 YAML 并逐个保存为新版本
// 任意条目校验失败时返回错误，之前已保存的条目保留。
func (s *Store) Import(ctx context.Context, r io.Reader) ([]*Template, error) {
	var b Bundle
	if err := yaml.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: 解析模板文件失败: %w", ErrInvalidTemplate, err)
	}
	saved := make([]*Template, 0, len(b.Templates))
	for _, e := range b.Templates {
		t, err := s.Save(ctx, e.request())
		if err != nil {
			return saved, fmt.Errorf("导入模板 %s 失败: %w", e.Name, err)
		}
		saved = append(saved, t)
	}
	return saved, nil
}
