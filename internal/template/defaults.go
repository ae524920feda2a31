package template

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// DefaultName 内置振动分析报告模板名称
const DefaultName = "振动分析报告"

// 内置模板的可选变量默认值
const (
	DefaultAnalyst        = "系统自动分析"
	DefaultPointAnalysis  = "暂无测点分析数据"
	DefaultAlarmInfo      = "无报警信息"
	DefaultMaintenance    = "建议继续监测，定期检查设备状态"
	DefaultTrendAnalysis  = "暂无趋势分析数据"
	DefaultAnalysisResult = "设备整体运行状态良好，建议继续监测。"
)

const defaultBody = `# {{.wind_farm_name}} {{.turbine_id}} 机组振动分析报告

| 项目 | 内容 |
| 风场名称 | {{.wind_farm_name}} |
| 机组编号 | {{.turbine_id}} |
| 设备类型 | {{.device_type}} |
| 分析时间 | {{.analysis_time}} |
| 报告时间 | {{.report_time}} |
| 分析人员 | {{.analyst_name}} |

## 一、分析概述

{{.analysis_summary}}

## 二、测点分析

{{.measurement_points_analysis}}

@measurements

## 三、分析结论

@conclusions

## 四、报警信息

{{.alarm_info}}

## 五、趋势分析

{{.trend_analysis}}

## 六、维护建议

{{.maintenance_recommendations}}
`

// Default 内置模板的保存请求
func Default() SaveRequest {
	return SaveRequest{
		Name:        DefaultName,
		Type:        TypeVibrationAnalysis,
		Author:      "system",
		Description: "风电机组 CMS 振动分析标准报告",
		Tags:        []string{"振动", "CMS", "风电"},
		Metadata: map[string]string{
			MetaDeviceType:   "风电机组",
			MetaAnalysisType: "振动分析",
		},
		Variables: []VariableSpec{
			{Name: "wind_farm_name", Type: VarString, Required: true},
			{Name: "turbine_id", Type: VarString, Required: true},
			{Name: "device_type", Type: VarString, Default: "风电机组"},
			{Name: "analysis_time", Type: VarString},
			{Name: "report_time", Type: VarString},
			{Name: "analyst_name", Type: VarString, Default: DefaultAnalyst},
			{Name: "analysis_summary", Type: VarString, Default: DefaultAnalysisResult},
			{Name: "measurement_points_analysis", Type: VarList, Default: DefaultPointAnalysis},
			{Name: "alarm_info", Type: VarList, Default: DefaultAlarmInfo},
			{Name: "trend_analysis", Type: VarString, Default: DefaultTrendAnalysis},
			{Name: "maintenance_recommendations", Type: VarList, Default: DefaultMaintenance},
		},
		Formats: AllFormats,
		Body:    defaultBody,
	}
}

// EnsureDefaults 内置模板不存在时写入第一个版本
func (s *Store) EnsureDefaults(ctx context.Context) error {
	_, err := s.Get(ctx, DefaultName, VersionLatest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrTemplateNotFound) {
		return err
	}
	t, err := s.Save(ctx, Default())
	if err != nil {
		return err
	}
	s.log.Info("已写入内置模板", zap.String("name", t.Name), zap.Int("version", t.Version))
	return nil
}
