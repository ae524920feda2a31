package pipeline

import (
	"fmt"
	"strings"
	"time"

	"cmsreport/internal/analysis"
)

const timeLayout = "2006-01-02 15:04:05"

// reportVariables 组装模板变量，请求中显式给出的变量优先
func reportVariables(req *ReportRequest, conclusions []analysis.ConclusionStatement, measurements []analysis.MeasurementResult, now time.Time) map[string]interface{} {
	vars := make(map[string]interface{}, len(req.Variables)+12)
	for k, v := range req.Variables {
		vars[k] = v
	}
	set := func(name string, v interface{}) {
		if cur, ok := vars[name]; ok && !blank(cur) {
			return
		}
		if blank(v) {
			return
		}
		vars[name] = v
	}

	b := req.BasicInfo
	set("wind_farm_name", b.WindFarmName)
	set("turbine_id", b.TurbineID)
	set("device_type", b.DeviceType)
	set("analyst_name", b.AnalystName)
	if !b.AnalysisTime.IsZero() {
		set("analysis_time", b.AnalysisTime.Format(timeLayout))
	}
	set("report_time", now.Format(timeLayout))

	groups := analysis.GroupBySection(conclusions)
	set("alarm_info", alarmLines(measurements, groups[analysis.SectionAlarm]))
	set("maintenance_recommendations", groups[analysis.SectionMaintenance])
	set("trend_analysis", groups[analysis.SectionTrend])

	points := make([]string, 0, len(measurements))
	for _, m := range measurements {
		points = append(points, m.Describe())
	}
	set("measurement_points_analysis", points)
	set("analysis_summary", summary(measurements, conclusions))
	return vars
}

// alarmLines 报警测点在前，随后是归入报警章节的结论
func alarmLines(ms []analysis.MeasurementResult, conclusions []string) []string {
	var out []string
	for _, m := range ms {
		if m.AlarmLevel != "" && m.AlarmLevel != analysis.AlarmNormal {
			out = append(out, fmt.Sprintf("测点 %s 报警级别: %s (RMS=%.3f mm/s)", m.Point, m.AlarmLevel, m.RMS))
		}
	}
	return append(out, conclusions...)
}

func summary(ms []analysis.MeasurementResult, conclusions []analysis.ConclusionStatement) string {
	if len(ms) == 0 && len(conclusions) == 0 {
		return ""
	}
	alarms := 0
	for _, m := range ms {
		if m.AlarmLevel != "" && m.AlarmLevel != analysis.AlarmNormal {
			alarms++
		}
	}
	n := 0
	for _, c := range conclusions {
		if !c.Placeholder {
			n++
		}
	}
	s := fmt.Sprintf("本次共分析 %d 个测点，形成 %d 条分析结论", len(ms), n)
	if alarms > 0 {
		return s + fmt.Sprintf("，其中 %d 个测点存在报警。", alarms)
	}
	return s + "，各测点未触发报警。"
}

func blank(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	case []interface{}:
		return len(x) == 0
	}
	return false
}
