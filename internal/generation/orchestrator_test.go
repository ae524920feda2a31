package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cmsreport/internal/analysis"
	"cmsreport/internal/rag"
	"cmsreport/pkg/aiinterface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient 按顺序返回预设结果
type scriptedClient struct {
	replies []string
	errs    []error
	block   bool
	calls   []*aiinterface.ChatCompletionRequest
}

func (c *scriptedClient) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	i := len(c.calls)
	c.calls = append(c.calls, req)
	if c.block {
		<-ctx.Done()
		return nil, aiinterface.ContextError("scripted", ctx.Err())
	}
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.replies) {
		return &aiinterface.ChatCompletionResponse{Content: c.replies[i]}, nil
	}
	return &aiinterface.ChatCompletionResponse{Content: ""}, nil
}

func (c *scriptedClient) Name() string { return "scripted" }
func (c *scriptedClient) Close() error  { return nil }

func TestSegment(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "数字编号带引导语和续行",
			in:   "分析结论如下：\n1. 主轴承振动有效值为 4.5 mm/s，\n处于注意区间。\n2) 包络谱出现外圈故障频率\n3、建议缩短巡检周期",
			want: []string{"主轴承振动有效值为 4.5 mm/s，处于注意区间。", "包络谱出现外圈故障频率", "建议缩短巡检周期"},
		},
		{
			name: "括号编号与符号",
			in:   "（1）齿轮箱啮合频率幅值上升\n- 边频带明显\n• **趋势**持续增长",
			want: []string{"齿轮箱啮合频率幅值上升", "边频带明显", "趋势持续增长"},
		},
		{
			name: "小数开头的行不是编号",
			in:   "1. 有效值超标\n4.5 mm/s 为注意阈值",
			want: []string{"有效值超标4.5 mm/s 为注意阈值"},
		},
		{
			name: "丢弃只有标题的项",
			in:   "1. 诊断结论：\n2. 发电机前轴承状态良好",
			want: []string{"发电机前轴承状态良好"},
		},
		{
			name: "无编号按句切分",
			in:   "振动正常。建议继续监测。",
			want: []string{"振动正常。", "建议继续监测。"},
		},
		{
			name: "无编号多段",
			in:   "第一段内容\n\n第二段内容",
			want: []string{"第一段内容", "第二段内容"},
		},
		{name: "空输出", in: "  \n ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Segment(tt.in))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{Temperature: 2.1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{Temperature: -0.1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{MaxTokens: MaxTokensLimit + 1}.Validate(), ErrInvalidConfig)
	assert.NoError(t, Config{Temperature: 2}.Validate())

	o := NewOrchestrator(&scriptedClient{}, nil)
	_, err := o.Generate(context.Background(), Prompt{User: "x"}, Config{Temperature: 3})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConclusionsEnoughStatements(t *testing.T) {
	client := &scriptedClient{replies: []string{"1. 振动趋势逐步上升\n2. 频谱出现 2 倍转频\n3. 包络谱出现 BPFO\n4. 峭度正常\n5. 建议缩短检修周期"}}
	o := NewOrchestrator(client, nil)

	got, err := o.Conclusions(context.Background(), Prompt{System: "s", User: "u"}, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Len(t, client.calls, 1)
	assert.Equal(t, aiinterface.RoleSystem, client.calls[0].Messages[0].Role)
	assert.Equal(t, DefaultTemperature, client.calls[0].Temperature)

	assert.Equal(t, analysis.CategoryTrend, got[0].Category)
	assert.Equal(t, analysis.CategorySpectrum, got[1].Category)
	assert.Equal(t, analysis.CategoryEnvelope, got[2].Category)
	for i, c := range got {
		assert.Equal(t, i+1, c.Ordinal)
		assert.False(t, c.Placeholder)
	}
}

func TestConclusionsFollowUpThenPlaceholders(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"1. 主轴承振动偏高\n2. 建议复测",
		"1. 齿轮箱状态正常",
	}}
	o := NewOrchestrator(client, nil)

	got, err := o.Conclusions(context.Background(), Prompt{User: "u"}, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Len(t, client.calls, 2)
	assert.Contains(t, client.calls[1].Messages[0].Content, "再补充3条")
	assert.Contains(t, client.calls[1].Messages[0].Content, "1. 主轴承振动偏高")

	assert.Equal(t, "齿轮箱状态正常", got[2].Text)
	for _, c := range got[3:] {
		assert.True(t, c.Placeholder)
		assert.Equal(t, PlaceholderText, c.Text)
		assert.Equal(t, analysis.CategoryGeneral, c.Category)
	}
	assert.Equal(t, 5, got[4].Ordinal)
}

func TestConclusionsEmptyOutputIsNotFatal(t *testing.T) {
	client := &scriptedClient{replies: []string{"", ""}}
	got, err := NewOrchestrator(client, nil).Conclusions(context.Background(), Prompt{User: "u"}, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, got, DefaultMinStatements)
	assert.True(t, got[0].Placeholder)
}

func TestGenerateErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"限流", &aiinterface.ClientError{Type: aiinterface.ErrorTypeRateLimit, Message: "429"}, ErrRateLimited},
		{"空响应", &aiinterface.ClientError{Type: aiinterface.ErrorTypeInvalidResponse, Message: "empty"}, ErrInvalidOutput},
		{"服务端错误", &aiinterface.ClientError{Type: aiinterface.ErrorTypeServerError, Message: "500"}, ErrBackend},
		{"未知错误", errors.New("boom"), ErrBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrchestrator(&scriptedClient{errs: []error{tt.err}}, nil)
			_, err := o.Generate(context.Background(), Prompt{User: "u"}, DefaultConfig())
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, Retryable(err))
		})
	}

	auth := &aiinterface.ClientError{Type: aiinterface.ErrorTypeAuth, Message: "401"}
	_, err := NewOrchestrator(&scriptedClient{errs: []error{auth}}, nil).Generate(context.Background(), Prompt{User: "u"}, DefaultConfig())
	assert.ErrorIs(t, err, ErrBackend)
	assert.False(t, Retryable(err))
}

func TestGenerateTimeoutAndCancel(t *testing.T) {
	o := NewOrchestrator(&scriptedClient{block: true}, nil)
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Millisecond

	_, err := o.Generate(context.Background(), Prompt{User: "u"}, cfg)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrCancelled)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	cfg.Timeout = 5 * time.Second
	_, err = o.Generate(ctx, Prompt{User: "u"}, cfg)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, Retryable(err))

	_, err = o.Conclusions(ctx, Prompt{User: "u"}, cfg)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(PromptInput{
		Basic: analysis.BasicInfo{WindFarmName: "华能风场", TurbineID: "T07"},
		Measurements: []analysis.MeasurementResult{{
			Point: "主轴承", RMS: 5.2, Peak: 14.1,
			EnvelopePeaks: []analysis.FrequencyPeak{{Frequency: 87.3, Amplitude: 0.4}},
		}},
		Query:   "轴承为什么异响",
		Context: rag.PromptContext{Text: "[1] 滚动轴承故障：包络谱分析"},
	})
	assert.Equal(t, SystemPrompt, p.System)
	assert.Contains(t, p.User, "风场：华能风场")
	assert.Contains(t, p.User, "- 测点 主轴承: RMS=5.200")
	assert.Contains(t, p.User, "关注问题：轴承为什么异响")
	assert.Contains(t, p.User, "[1] 滚动轴承故障")
	assert.Contains(t, p.User, "至少5条")
	assert.False(t, strings.Contains(p.User, "分析时间"))
}

func TestFromTexts(t *testing.T) {
	got := FromTexts([]string{"轴承外圈故障", " ", "转速波动"}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, analysis.CategoryEnvelope, got[0].Category)
	assert.Equal(t, analysis.CategoryOrder, got[1].Category)
	assert.True(t, got[2].Placeholder)
}
