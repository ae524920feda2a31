package analysis

import (
	"fmt"
	"strings"
	"time"
)

// FrequencyPeak 频谱峰值
type FrequencyPeak struct {
	Frequency float64 `json:"frequency"` // Hz
	Amplitude float64 `json:"amplitude"`
}

// MeasurementResult 测点特征，由外部信号分析模块提供
type MeasurementResult struct {
	Point               string             `json:"point"`
	RMS                 float64            `json:"rms"`
	Peak                float64            `json:"peak"`
	PeakToPeak          float64            `json:"peak_to_peak,omitempty"`
	Kurtosis            float64            `json:"kurtosis,omitempty"`
	CrestFactor         float64            `json:"crest_factor,omitempty"`
	DominantFrequencies []FrequencyPeak    `json:"dominant_frequencies,omitempty"`
	EnvelopePeaks       []FrequencyPeak    `json:"envelope_peaks,omitempty"`
	Extra               map[string]float64 `json:"extra,omitempty"`
	AlarmLevel          string             `json:"alarm_level,omitempty"`
}

// MainFrequency 主频率（幅值最大的频谱峰），没有频谱数据返回 0
func (m MeasurementResult) MainFrequency() FrequencyPeak {
	var best FrequencyPeak
	for _, p := range m.DominantFrequencies {
		if p.Amplitude > best.Amplitude {
			best = p
		}
	}
	return best
}

// Features 供报警表达式与提示词使用的扁平特征表
func (m MeasurementResult) Features() map[string]interface{} {
	main := m.MainFrequency()
	f := map[string]interface{}{
		"rms":                m.RMS,
		"peak":               m.Peak,
		"peak_to_peak":       m.PeakToPeak,
		"kurtosis":           m.Kurtosis,
		"crest_factor":       m.CrestFactor,
		"dominant_frequency": main.Frequency,
		"dominant_amplitude": main.Amplitude,
		"envelope_peak":      0.0,
	}
	for _, p := range m.EnvelopePeaks {
		if v := f["envelope_peak"].(float64); p.Amplitude > v {
			f["envelope_peak"] = p.Amplitude
		}
	}
	for k, v := range m.Extra {
		f[k] = v
	}
	return f
}

// Describe 测点特征的单行描述
func (m MeasurementResult) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "测点 %s: RMS=%.3f mm/s, 峰值=%.3f", m.Point, m.RMS, m.Peak)
	if m.Kurtosis > 0 {
		fmt.Fprintf(&b, ", 峭度=%.2f", m.Kurtosis)
	}
	if main := m.MainFrequency(); main.Frequency > 0 {
		fmt.Fprintf(&b, ", 主频=%.1f Hz(%.3f)", main.Frequency, main.Amplitude)
	}
	if len(m.EnvelopePeaks) > 0 {
		parts := make([]string, 0, len(m.EnvelopePeaks))
		for _, p := range m.EnvelopePeaks {
			parts = append(parts, fmt.Sprintf("%.1fHz", p.Frequency))
		}
		fmt.Fprintf(&b, ", 包络峰=%s", strings.Join(parts, "/"))
	}
	if m.AlarmLevel != "" {
		fmt.Fprintf(&b, ", 报警级别=%s", m.AlarmLevel)
	}
	return b.String()
}

// BasicInfo 报告基本信息
type BasicInfo struct {
	WindFarmName string    `json:"wind_farm_name"`
	TurbineID    string    `json:"turbine_id"`
	DeviceType   string    `json:"device_type,omitempty"`
	AnalystName  string    `json:"analyst_name,omitempty"`
	AnalysisTime time.Time `json:"analysis_time"`
}

// ConclusionStatement 一条已分类的分析结论
type ConclusionStatement struct {
	Ordinal     int      `json:"ordinal"`
	Text        string   `json:"text"`
	Category    Category `json:"category"`
	Placeholder bool     `json:"placeholder,omitempty"`
}

// NewConclusion 创建结论并按词表分类
func NewConclusion(ordinal int, text string) ConclusionStatement {
	return ConclusionStatement{
		Ordinal:  ordinal,
		Text:     text,
		Category: Classify(text),
	}
}

// ChartArtifact 图表产物的引用，不涉及像素内容
type ChartArtifact struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Type        Category  `json:"type"`
	GeneratedAt time.Time `json:"generated_at"`
	Consumed    bool      `json:"consumed"`
}

// Label 用于名称匹配的标识，优先使用名称，其次路径
func (c ChartArtifact) Label() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Path != "" {
		return c.Path
	}
	return c.ID
}

// MatchedPair 结论与证据图表的配对，Chart 为 nil 表示无图
type MatchedPair struct {
	Conclusion ConclusionStatement `json:"conclusion"`
	Chart      *ChartArtifact      `json:"chart,omitempty"`
	Score      int                 `json:"score"`
	Reused     bool                `json:"reused,omitempty"`
	Positional bool                `json:"positional,omitempty"`
}
