package analysis

import (
	"testing"

	"cmsreport/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Category
	}{
		{"轴承包络", "驱动端轴承外圈故障特征频率在包络谱中明显", CategoryEnvelope},
		{"英文包络", "Envelope spectrum shows a clear bearing outer race defect", CategoryEnvelope},
		{"趋势", "近一个月振动有效值呈上升趋势", CategoryTrend},
		{"频谱", "频谱中 2 倍转频谐波突出", CategorySpectrum},
		{"瀑布图", "Waterfall plot shows run-up resonance", CategoryWaterfall},
		{"冲击", "时域波形存在周期性冲击", CategoryTransient},
		{"无关键词", "设备整体运行平稳", CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, CategoryEnvelope, ParseCategory("bearing_analysis"))
	assert.Equal(t, CategorySpectrum, ParseCategory("Frequency"))
	assert.Equal(t, CategoryTrend, ParseCategory("trend"))
	assert.Equal(t, CategoryGeneral, ParseCategory("unknown-chart"))
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 0, CategoryTrend.Priority())
	assert.Less(t, CategoryTrend.Priority(), CategoryWaterfall.Priority())
	assert.Equal(t, -1, Category("nope").Priority())
	assert.False(t, Category("nope").Valid())
}

func TestContentWords(t *testing.T) {
	words := ContentWords("The bearing envelope of GB-1 is OK, bearing again")
	assert.Equal(t, []string{"the", "bearing", "envelope", "again"}, words)
}

func TestAlarmEvaluator(t *testing.T) {
	eval, err := NewAlarmEvaluator([]config.AlarmRule{
		{Level: "危险", Expression: "rms >= 11.2 || peak >= 30"},
		{Level: "警告", Expression: "rms >= 7.1"},
		{Level: "齿轮", Expression: "gear_mesh > 2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "危险", eval.Level(MeasurementResult{RMS: 12}))
	assert.Equal(t, "危险", eval.Level(MeasurementResult{RMS: 1, Peak: 31}))
	assert.Equal(t, "警告", eval.Level(MeasurementResult{RMS: 8}))
	// 缺少 gear_mesh 特征视为未命中
	assert.Equal(t, AlarmNormal, eval.Level(MeasurementResult{RMS: 1}))
	assert.Equal(t, "齿轮", eval.Level(MeasurementResult{Extra: map[string]float64{"gear_mesh": 3}}))

	annotated := eval.Annotate([]MeasurementResult{{RMS: 8}, {RMS: 8, AlarmLevel: "人工"}})
	assert.Equal(t, "警告", annotated[0].AlarmLevel)
	assert.Equal(t, "人工", annotated[1].AlarmLevel)

	_, err = NewAlarmEvaluator([]config.AlarmRule{{Level: "x", Expression: "(rms >= 1"}})
	assert.Error(t, err)
}

func TestMainFrequency(t *testing.T) {
	m := MeasurementResult{
		Point:               "主轴承",
		DominantFrequencies: []FrequencyPeak{{Frequency: 10, Amplitude: 0.2}, {Frequency: 25, Amplitude: 0.9}},
	}
	assert.InDelta(t, 25, m.MainFrequency().Frequency, 1e-9)
	assert.Contains(t, m.Describe(), "主频=25.0 Hz")
}

func TestSectionOf(t *testing.T) {
	assert.Equal(t, SectionAlarm, SectionOf("发电机驱动端振动超标"))
	assert.Equal(t, SectionMaintenance, SectionOf("建议下次停机时检查润滑"))
	assert.Equal(t, SectionTrend, SectionOf("需持续跟踪"))
	assert.Equal(t, SectionAnalysis, SectionOf("频谱以 1X 为主"))

	groups := GroupBySection([]ConclusionStatement{
		{Text: "振动超标"},
		{Text: "建议更换轴承"},
		{Text: "占位", Placeholder: true},
	})
	assert.Equal(t, []string{"振动超标"}, groups[SectionAlarm])
	assert.Equal(t, []string{"建议更换轴承"}, groups[SectionMaintenance])
	assert.Empty(t, groups[SectionAnalysis])
}
