package analysis

import (
	"fmt"

	"cmsreport/internal/config"

	"github.com/Knetic/govaluate"
)

// AlarmNormal 未命中任何规则时的报警级别
const AlarmNormal = "正常"

type alarmRule struct {
	level string
	expr  *govaluate.EvaluableExpression
}

// AlarmEvaluator 按顺序评估报警规则，返回第一个命中的级别
type AlarmEvaluator struct {
	rules []alarmRule
}

// NewAlarmEvaluator 编译报警规则表达式
func NewAlarmEvaluator(rules []config.AlarmRule) (*AlarmEvaluator, error) {
	e := &AlarmEvaluator{rules: make([]alarmRule, 0, len(rules))}
	for _, r := range rules {
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("报警规则 %q 解析失败: %w", r.Expression, err)
		}
		e.rules = append(e.rules, alarmRule{level: r.Level, expr: expr})
	}
	return e, nil
}

// Level 计算测点报警级别
// 表达式引用了测点缺失的特征时视为未命中
func (e *AlarmEvaluator) Level(m MeasurementResult) string {
	if e == nil {
		return AlarmNormal
	}
	params := m.Features()
	for _, r := range e.rules {
		out, err := r.expr.Evaluate(params)
		if err != nil {
			continue
		}
		if hit, ok := out.(bool); ok && hit {
			return r.level
		}
	}
	return AlarmNormal
}

// Annotate 为未标注报警级别的测点填充级别
func (e *AlarmEvaluator) Annotate(ms []MeasurementResult) []MeasurementResult {
	out := make([]MeasurementResult, len(ms))
	for i, m := range ms {
		if m.AlarmLevel == "" {
			m.AlarmLevel = e.Level(m)
		}
		out[i] = m
	}
	return out
}
