package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"cmsreport/internal/analysis"
	"cmsreport/internal/config"
	"cmsreport/internal/generation"
	"cmsreport/internal/infra"
	"cmsreport/internal/rag"
	"cmsreport/internal/render"
	"cmsreport/internal/storage"
	reporttpl "cmsreport/internal/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	mu     sync.Mutex
	result *rag.RetrievalResult
	err    error
	calls  int
}

func (f *fakeRetriever) RetrieveFiltered(_ context.Context, query string, _ int, _ rag.Filter) (*rag.RetrievalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.Query = query
	return &res, nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	errs    []error
	texts   []string
	block   bool
	started chan struct{}
	calls   int
	prompts []generation.Prompt
	onCall  func()
}

func (g *fakeGenerator) Conclusions(ctx context.Context, prompt generation.Prompt, cfg generation.Config) ([]analysis.ConclusionStatement, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.prompts = append(g.prompts, prompt)
	hook := g.onCall
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if g.block {
		close(g.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= len(g.errs) && g.errs[n-1] != nil {
		return nil, g.errs[n-1]
	}
	return generation.FromTexts(g.texts, cfg.MinStatements), nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type failingEncoder struct{}

func (failingEncoder) Encode(context.Context, *render.Document, io.Writer) error {
	return errors.New("编码器故障")
}

type fixture struct {
	pipeline   *Pipeline
	retriever  *fakeRetriever
	generator  *fakeGenerator
	templates  *reporttpl.Store
	provenance *ProvenanceStore
	renderer   *render.Renderer
	events     *EventBus
	status     *MemoryStatusStore
	outDir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := infra.OpenDatabase(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "pipeline.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = infra.CloseDatabase(db) })

	templates := reporttpl.NewStore(db, nil)
	prov := NewProvenanceStore(db)
	require.NoError(t, db.AutoMigrate(append(templates.Models(), prov.Models()...)...))
	require.NoError(t, templates.EnsureDefaults(context.Background()))

	alarms, err := analysis.NewAlarmEvaluator(config.Default().Alarm.Rules)
	require.NoError(t, err)

	outDir := t.TempDir()
	local, err := storage.NewLocalStorage(outDir)
	require.NoError(t, err)

	f := &fixture{
		retriever: &fakeRetriever{result: &rag.RetrievalResult{
			Mode: rag.ModeHybrid,
			Items: []rag.RetrievalItem{{
				Passage: &rag.Passage{ID: "bearing#0000", DocumentID: "bearing", Text: "轴承外圈故障在包络谱中表现为 BPFO 及其谐波。"},
				Score:   0.9,
			}},
		}},
		generator: &fakeGenerator{texts: []string{
			"振动趋势逐步上升",
			"频谱出现明显谐波",
			"包络谱出现外圈故障特征",
			"有效值处于注意区间",
			"建议缩短巡检周期",
		}},
		templates:  templates,
		provenance: prov,
		renderer:   render.NewRenderer(render.Options{}, nil),
		events:     NewEventBus(16),
		status:     NewMemoryStatusStore(),
		outDir:     outDir,
	}
	p, err := New(Deps{
		Retriever:  f.retriever,
		Generator:  f.generator,
		Templates:  templates,
		Renderer:   f.renderer,
		Storage:    local,
		Provenance: prov,
		Alarms:     alarms,
		Events:     f.events,
		Status:     f.status,
	}, Options{RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func threeCharts() []analysis.ChartArtifact {
	return []analysis.ChartArtifact{
		{ID: "trend", Type: analysis.CategoryTrend, Name: "振动趋势分析", Path: "charts/trend.png"},
		{ID: "spectrum", Type: analysis.CategorySpectrum, Name: "频域谱分析", Path: "charts/spectrum.png"},
		{ID: "envelope", Type: analysis.CategoryEnvelope, Name: "轴承诊断分析", Path: "charts/envelope.png"},
	}
}

func baseRequest() ReportRequest {
	return ReportRequest{
		BasicInfo: analysis.BasicInfo{
			WindFarmName: "华北一场",
			TurbineID:    "WT-07",
			AnalysisTime: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		},
		Measurements: []analysis.MeasurementResult{
			{Point: "主轴承", RMS: 5.2, Peak: 14.1, Kurtosis: 4.3},
			{Point: "齿轮箱", RMS: 2.1, Peak: 6.0},
		},
		Query:   "主轴承噪声偏大的原因",
		Charts:  threeCharts(),
		Formats: []reporttpl.Format{reporttpl.FormatHTML, reporttpl.FormatDOCX},
	}
}

func TestRunFiveConclusionsThreeCharts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.Run(ctx, baseRequest())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	require.Len(t, res.Pairs, 5)

	unmatched := 0
	for _, p := range res.Pairs {
		if p.Chart == nil || p.Reused {
			unmatched++
		}
	}
	assert.Equal(t, 2, unmatched)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, 1, f.generator.callCount())

	assert.Equal(t, []reporttpl.Format{reporttpl.FormatHTML, reporttpl.FormatDOCX}, res.Formats())
	assert.Empty(t, res.Failures)
	for _, o := range res.Outputs {
		require.NotEmpty(t, o.Location)
		_, err := os.Stat(filepath.Join(f.outDir, storage.ReportKey(res.ID, o.Filename)))
		assert.NoError(t, err)
	}

	var states []State
	for _, tr := range res.History {
		states = append(states, tr.To)
	}
	assert.Equal(t, []State{StateRetrieving, StateGenerating, StateMatching, StateRendering, StateCompleted}, states)

	prov, err := f.provenance.ByReport(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reporttpl.DefaultName, prov.TemplateName)
	assert.Equal(t, 1, prov.TemplateVersion)
	assert.Equal(t, []string{"bearing"}, prov.SourceDocumentIDs)
	assert.Equal(t, 1, prov.GenerationAttempts)

	tpl, err := f.templates.Get(ctx, reporttpl.DefaultName, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, tpl.ReferenceCount)

	st, err := f.status.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st.State)
}

func TestRunSuppliedConclusionsSkipGeneration(t *testing.T) {
	f := newFixture(t)
	req := baseRequest()
	req.Conclusions = []string{"主轴承包络谱出现外圈故障频率", "建议一周内复测"}

	res, err := f.pipeline.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, f.generator.callCount())
	require.Len(t, res.Conclusions, generation.DefaultMinStatements)
	assert.Equal(t, "主轴承包络谱出现外圈故障频率", res.Conclusions[0].Text)
	assert.True(t, res.Conclusions[4].Placeholder)
}

func TestRunOneFormatFailsStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.renderer.SetEncoder(reporttpl.FormatPDF, failingEncoder{})
	req := baseRequest()
	req.Formats = []reporttpl.Format{reporttpl.FormatHTML, reporttpl.FormatPDF}

	res, err := f.pipeline.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Contains(t, res.Outputs, reporttpl.FormatHTML)
	assert.NotContains(t, res.Outputs, reporttpl.FormatPDF)
	assert.Contains(t, res.Failures[reporttpl.FormatPDF], "编码器故障")
	assert.Equal(t, []string{"html"}, res.Provenance.Formats)
}

func TestRunAllFormatsFail(t *testing.T) {
	f := newFixture(t)
	f.renderer.SetEncoder(reporttpl.FormatHTML, failingEncoder{})
	req := baseRequest()
	req.Formats = []reporttpl.Format{reporttpl.FormatHTML}

	_, err := f.pipeline.Run(context.Background(), req)
	failure, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindRenderFailed, failure.Kind)
	assert.Equal(t, StateRendering, failure.State)
	assert.ErrorIs(t, err, render.ErrFormatFailure)
}

func TestRunRetrievalUnavailable(t *testing.T) {
	f := newFixture(t)
	f.retriever.err = rag.ErrRetrievalUnavailable
	req := baseRequest()
	req.ID = "r-retrieval"

	res, err := f.pipeline.Run(context.Background(), req)
	assert.Nil(t, res)
	failure, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, StateRetrieving, failure.State)
	assert.Equal(t, KindRetrievalUnavailable, failure.Kind)
	assert.ErrorIs(t, err, rag.ErrRetrievalUnavailable)
	assert.Equal(t, 0, f.generator.callCount())

	st, err := f.status.Get(context.Background(), "r-retrieval")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, KindRetrievalUnavailable, st.Kind)
}

func TestRunRetriesGenerationOnce(t *testing.T) {
	f := newFixture(t)
	f.generator.errs = []error{errors.Join(generation.ErrTimeout, errors.New("deadline"))}

	res, err := f.pipeline.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, f.generator.callCount())
	assert.Equal(t, 2, res.Provenance.GenerationAttempts)
}

func TestRunGenerationFailsAfterRetry(t *testing.T) {
	f := newFixture(t)
	f.generator.errs = []error{generation.ErrRateLimited, generation.ErrRateLimited}

	_, err := f.pipeline.Run(context.Background(), baseRequest())
	failure, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, StateGenerating, failure.State)
	assert.Equal(t, KindGenerationRateLimited, failure.Kind)
	assert.True(t, failure.Retryable())
	assert.Equal(t, 2, f.generator.callCount())
}

func TestRunGenerationCancelled(t *testing.T) {
	f := newFixture(t)
	f.generator.block = true
	f.generator.started = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.generator.started
		cancel()
	}()

	_, err := f.pipeline.Run(ctx, baseRequest())
	failure, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindCancelled, failure.Kind)
	assert.Equal(t, StateGenerating, failure.State)
	assert.False(t, failure.Retryable())
	assert.Equal(t, 1, f.generator.callCount())
}

func TestRunTemplateErrors(t *testing.T) {
	t.Run("模板不存在", func(t *testing.T) {
		f := newFixture(t)
		req := baseRequest()
		req.TemplateName = "不存在的模板"

		_, err := f.pipeline.Run(context.Background(), req)
		failure, ok := AsFailure(err)
		require.True(t, ok)
		assert.Equal(t, KindTemplateNotFound, failure.Kind)
		assert.Equal(t, StateInitialized, failure.State)
		assert.ErrorIs(t, err, reporttpl.ErrTemplateNotFound)
		assert.Equal(t, 0, f.retriever.calls)
	})

	t.Run("缺少必填变量", func(t *testing.T) {
		f := newFixture(t)
		req := baseRequest()
		req.BasicInfo.WindFarmName = ""

		_, err := f.pipeline.Run(context.Background(), req)
		failure, ok := AsFailure(err)
		require.True(t, ok)
		assert.Equal(t, KindTemplateSchemaMismatch, failure.Kind)
		assert.Equal(t, StateRendering, failure.State)
		assert.ErrorIs(t, err, reporttpl.ErrSchemaMismatch)
	})
}

func TestRunKeepsTemplateDeletedMidRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.generator.onCall = func() {
		assert.NoError(t, f.templates.Delete(ctx, reporttpl.DefaultName))
	}

	res, err := f.pipeline.Run(ctx, baseRequest())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)

	_, err = f.templates.Get(ctx, reporttpl.DefaultName, reporttpl.VersionLatest)
	assert.ErrorIs(t, err, reporttpl.ErrTemplateNotFound)

	prov, err := f.provenance.ByReport(ctx, res.ID)
	require.NoError(t, err)
	tpl, err := f.templates.Get(ctx, prov.TemplateName, strconv.Itoa(prov.TemplateVersion))
	require.NoError(t, err)
	assert.False(t, tpl.Active)
	assert.Equal(t, 1, tpl.ReferenceCount)
}

func TestRunPromptCarriesAlarmLevels(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Run(context.Background(), baseRequest())
	require.NoError(t, err)

	f.generator.mu.Lock()
	defer f.generator.mu.Unlock()
	require.NotEmpty(t, f.generator.prompts)
	user := f.generator.prompts[0].User
	assert.Contains(t, user, "测点 主轴承: RMS=5.200 mm/s")
	assert.Contains(t, user, "报警级别=注意")
}

func TestRunInvalidRequest(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*ReportRequest)
	}{
		{"缺少机组编号", func(r *ReportRequest) { r.BasicInfo.TurbineID = "" }},
		{"缺少检索内容", func(r *ReportRequest) { r.Query = ""; r.Measurements = nil }},
		{"未知格式", func(r *ReportRequest) { r.Formats = []reporttpl.Format{"xlsx"} }},
		{"版本号无效", func(r *ReportRequest) { r.TemplateVersion = "v0" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := baseRequest()
			tc.modify(&req)
			_, err := f.pipeline.Run(context.Background(), req)
			failure, ok := AsFailure(err)
			require.True(t, ok)
			assert.Equal(t, KindInvalidRequest, failure.Kind)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestRunPublishesEvents(t *testing.T) {
	f := newFixture(t)
	req := baseRequest()
	req.ID = "r-events"
	ch, cancel := f.events.Subscribe(req.ID)
	defer cancel()

	_, err := f.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	var got []State
	for len(got) < 5 {
		select {
		case evt := <-ch:
			got = append(got, evt.State)
		case <-time.After(time.Second):
			t.Fatalf("事件不足: %v", got)
		}
	}
	assert.Equal(t, []State{StateRetrieving, StateGenerating, StateMatching, StateRendering, StateCompleted}, got)
}

func TestReportVariables(t *testing.T) {
	req := baseRequest()
	req.Variables = map[string]interface{}{"analyst_name": "张工"}
	ms := []analysis.MeasurementResult{
		{Point: "主轴承", RMS: 7.5, AlarmLevel: "警告"},
		{Point: "齿轮箱", RMS: 2.0, AlarmLevel: analysis.AlarmNormal},
	}
	conclusions := []analysis.ConclusionStatement{
		analysis.NewConclusion(1, "主轴承振动超标"),
		analysis.NewConclusion(2, "建议更换润滑脂"),
		analysis.NewConclusion(3, "振动趋势持续跟踪"),
		{Ordinal: 4, Text: generation.PlaceholderText, Placeholder: true},
	}
	now := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)

	vars := reportVariables(&req, conclusions, ms, now)
	assert.Equal(t, "张工", vars["analyst_name"])
	assert.Equal(t, "WT-07", vars["turbine_id"])
	assert.Equal(t, "2024-05-01 08:00:00", vars["analysis_time"])
	assert.Equal(t, "2024-05-02 09:30:00", vars["report_time"])
	assert.Equal(t, []string{"测点 主轴承 报警级别: 警告 (RMS=7.500 mm/s)", "主轴承振动超标"}, vars["alarm_info"])
	assert.Equal(t, []string{"建议更换润滑脂"}, vars["maintenance_recommendations"])
	assert.Equal(t, []string{"振动趋势持续跟踪"}, vars["trend_analysis"])
	assert.Equal(t, "本次共分析 2 个测点，形成 3 条分析结论，其中 1 个测点存在报警。", vars["analysis_summary"])
	_, hasDevice := vars["device_type"]
	assert.False(t, hasDevice)
}
