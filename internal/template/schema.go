package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"
)

var (
	// ErrTemplateNotFound 模板或版本不存在
	ErrTemplateNotFound = errors.New("模板不存在")
	// ErrSchemaMismatch 模板正文与变量声明不一致，或渲染数据缺少必填变量
	ErrSchemaMismatch = errors.New("模板变量声明不匹配")
	// ErrInvalidTemplate 模板名称、正文或版本号非法
	ErrInvalidTemplate = errors.New("模板无效")
)

// FuncMap 模板正文可用的函数，解析与渲染共用
var FuncMap = template.FuncMap{
	"join": strings.Join,
}

// ReferencedVariables 返回正文在顶层引用的变量名（已排序去重）
// range/with 内部点号改变，只检查 $.name 形式的引用。
func ReferencedVariables(body string) ([]string, error) {
	tmpl, err := template.New("body").Funcs(FuncMap).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: 解析模板正文失败: %w", ErrSchemaMismatch, err)
	}
	seen := map[string]struct{}{}
	for _, t := range tmpl.Templates() {
		if t.Tree != nil && t.Tree.Root != nil {
			walk(t.Tree.Root, false, seen)
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func walk(node parse.Node, dotChanged bool, seen map[string]struct{}) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walk(c, dotChanged, seen)
		}
	case *parse.ActionNode:
		walk(n.Pipe, dotChanged, seen)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			walk(cmd, dotChanged, seen)
		}
	case *parse.CommandNode:
		for _, arg := range n.Args {
			walk(arg, dotChanged, seen)
		}
	case *parse.FieldNode:
		if !dotChanged && len(n.Ident) > 0 {
			seen[n.Ident[0]] = struct{}{}
		}
	case *parse.VariableNode:
		if len(n.Ident) > 1 && n.Ident[0] == "$" {
			seen[n.Ident[1]] = struct{}{}
		}
	case *parse.ChainNode:
		walk(n.Node, dotChanged, seen)
	case *parse.IfNode:
		walk(n.Pipe, dotChanged, seen)
		walk(n.List, dotChanged, seen)
		walk(n.ElseList, dotChanged, seen)
	case *parse.RangeNode:
		walk(n.Pipe, dotChanged, seen)
		walk(n.List, true, seen)
		walk(n.ElseList, dotChanged, seen)
	case *parse.WithNode:
		walk(n.Pipe, dotChanged, seen)
		walk(n.List, true, seen)
		walk(n.ElseList, dotChanged, seen)
	case *parse.TemplateNode:
		walk(n.Pipe, dotChanged, seen)
	}
}

// ValidateSchema 校验正文引用的变量均已声明，且必填变量没有隐式默认值
func ValidateSchema(body string, vars []VariableSpec) error {
	declared := make(map[string]VariableSpec, len(vars))
	for _, v := range vars {
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("%w: 变量名不能为空", ErrSchemaMismatch)
		}
		if _, dup := declared[v.Name]; dup {
			return fmt.Errorf("%w: 变量重复声明: %s", ErrSchemaMismatch, v.Name)
		}
		if v.Required && v.Default != "" && !v.Optional {
			return fmt.Errorf("%w: 必填变量 %s 不能声明默认值", ErrSchemaMismatch, v.Name)
		}
		declared[v.Name] = v
	}

	refs, err := ReferencedVariables(body)
	if err != nil {
		return err
	}
	var missing []string
	for _, r := range refs {
		if _, ok := declared[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: 未声明的变量: %s", ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return nil
}

// CheckData 校验渲染数据包含全部必填变量
func (t *Template) CheckData(data map[string]interface{}) error {
	var missing []string
	for _, v := range t.Variables {
		if !v.Required || v.Optional {
			continue
		}
		if val, ok := data[v.Name]; !ok || isEmpty(val) {
			missing = append(missing, v.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: 模板 %s v%d 缺少必填变量: %s", ErrSchemaMismatch, t.Name, t.Version, strings.Join(missing, ", "))
	}
	return nil
}

func isEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}
