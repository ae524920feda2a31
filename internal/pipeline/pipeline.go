// Package pipeline 编排一次报告生成：检索、生成结论、匹配证据图表、渲染输出。
//
// 每次运行按 Initialized → Retrieving → Generating → Matching → Rendering → Completed
// 单向推进，任意非终止状态出错进入 Failed 并返回 *Failure。
// 生成阶段图表生产与结论生成并发执行，在匹配前汇合。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cmsreport/internal/analysis"
	"cmsreport/internal/config"
	"cmsreport/internal/evidence"
	"cmsreport/internal/generation"
	"cmsreport/internal/logger"
	"cmsreport/internal/metrics"
	"cmsreport/internal/rag"
	"cmsreport/internal/render"
	"cmsreport/internal/storage"
	reporttpl "cmsreport/internal/template"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("cmsreport/pipeline")

// Retriever 检索参考段落
type Retriever interface {
	RetrieveFiltered(ctx context.Context, query string, k int, filter rag.Filter) (*rag.RetrievalResult, error)
}

// Generator 生成分析结论
type Generator interface {
	Conclusions(ctx context.Context, prompt generation.Prompt, cfg generation.Config) ([]analysis.ConclusionStatement, error)
}

// TemplateSource 解析模板版本，同时登记本报告的引用
type TemplateSource interface {
	Acquire(ctx context.Context, name, version, reportID string) (*reporttpl.Template, error)
}

// Deps 流水线依赖，Retriever、Generator、Templates、Renderer 必填
type Deps struct {
	Retriever  Retriever
	Assembler  *rag.ContextAssembler
	Generator  Generator
	Charts     ChartProducer
	Matcher    *evidence.Matcher
	Templates  TemplateSource
	Renderer   *render.Renderer
	Storage    storage.Storage
	Provenance *ProvenanceStore
	Alarms     *analysis.AlarmEvaluator
	Events     *EventBus
	Status     StatusStore
	Logger     *zap.Logger
}

// Options 运行参数
type Options struct {
	TopK            int
	ContextBudget   int
	Generation      generation.Config
	RetryBackoff    time.Duration
	DefaultTemplate string
}

// DefaultRetryBackoff 生成重试前的等待
const DefaultRetryBackoff = time.Second

// OptionsFromConfig 从应用配置构造
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TopK:            cfg.RAG.Retrieval.TopK,
		ContextBudget:   cfg.RAG.Context.Budget,
		Generation:      generation.FromSettings(cfg.AI.Generation),
		RetryBackoff:    time.Duration(cfg.AI.Generation.RetryBackoffMs) * time.Millisecond,
		DefaultTemplate: cfg.Report.DefaultTemplate,
	}
}

// Pipeline 报告流水线，可被多个请求并发使用
type Pipeline struct {
	deps Deps
	opts Options
	log  *zap.Logger
	now  func() time.Time
}

// New 创建流水线
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Retriever == nil:
		return nil, errors.New("pipeline: 缺少检索器")
	case deps.Generator == nil:
		return nil, errors.New("pipeline: 缺少生成器")
	case deps.Templates == nil:
		return nil, errors.New("pipeline: 缺少模板存储")
	case deps.Renderer == nil:
		return nil, errors.New("pipeline: 缺少渲染器")
	}
	if deps.Assembler == nil {
		deps.Assembler = rag.NewContextAssembler(nil)
	}
	if deps.Charts == nil {
		deps.Charts = StaticCharts{}
	}
	if deps.Matcher == nil {
		deps.Matcher = evidence.NewMatcher(true, deps.Logger)
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.DefaultTemplate == "" {
		opts.DefaultTemplate = reporttpl.DefaultName
	}
	if opts.Generation == (generation.Config{}) {
		opts.Generation = generation.DefaultConfig()
	}
	return &Pipeline{deps: deps, opts: opts, log: logger.OrNop(deps.Logger), now: time.Now}, nil
}

// Events 事件总线，未配置时为 nil
func (p *Pipeline) Events() *EventBus { return p.deps.Events }

// Status 状态存储，未配置时为 nil
func (p *Pipeline) Status() StatusStore { return p.deps.Status }

// run 单次运行的上下文
type run struct {
	p        *Pipeline
	req      *ReportRequest
	tracker  *Tracker
	log      *zap.Logger
	res      *ReportResult
	tmpl     *reporttpl.Template
	prompt   rag.PromptContext
	charts   []analysis.ChartArtifact
	attempts int
}

// Run 执行一次报告生成
// 成功时返回 Completed 的结果；失败返回 *Failure，其中记录失败时的状态与原因。
func (p *Pipeline) Run(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx = logger.WithReportID(ctx, req.ID)
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(attribute.String("report.id", req.ID)))
	defer span.End()

	metrics.PipelinesRunning.Inc()
	defer metrics.PipelinesRunning.Dec()

	r := &run{
		p:   p,
		req: &req,
		log: logger.FromContext(ctx, p.log),
		res: &ReportResult{
			ID:        req.ID,
			State:     StateInitialized,
			CreatedAt: p.now(),
			Failures:  make(map[reporttpl.Format]string),
		},
	}
	r.tracker = NewTracker(req.ID, p.observe(ctx))
	r.tracker.now = p.now
	p.saveStatus(ctx, &Status{ReportID: req.ID, State: StateInitialized, UpdatedAt: r.res.CreatedAt})

	if err := r.execute(ctx); err != nil {
		f, ok := AsFailure(err)
		if !ok {
			f = &Failure{ReportID: req.ID, State: r.tracker.State(), Kind: kindOf(err), Cause: err}
		}
		_ = r.tracker.Fail(string(f.Kind))
		span.RecordError(f)
		span.SetStatus(codes.Error, string(f.Kind))
		metrics.PipelineRunsTotal.WithLabelValues("failed", string(f.State)).Inc()
		r.log.Warn("报告生成失败",
			zap.String("state", string(f.State)),
			zap.String("kind", string(f.Kind)),
			zap.Error(f.Cause))
		p.saveStatus(ctx, statusFromFailure(f, p.now()))
		return nil, f
	}

	r.res.State = StateCompleted
	r.res.History = r.tracker.History()
	metrics.PipelineRunsTotal.WithLabelValues("completed", string(StateCompleted)).Inc()
	r.log.Info("报告生成完成",
		zap.String("template", r.res.TemplateName),
		zap.Int("template_version", r.res.TemplateVersion),
		zap.Int("outputs", len(r.res.Outputs)),
		zap.Int("failures", len(r.res.Failures)))
	p.saveStatus(ctx, statusFromResult(r.res))
	return r.res, nil
}

func (r *run) execute(ctx context.Context) error {
	if err := r.req.Validate(); err != nil {
		return r.fail(KindInvalidRequest, err)
	}
	// 模板在检索前解析，模板不存在时不消耗检索与生成
	if err := r.resolveTemplate(ctx); err != nil {
		return r.fail(kindOf(err), err)
	}

	steps := []struct {
		state State
		fn    func(context.Context) error
	}{
		{StateRetrieving, r.retrieve},
		{StateGenerating, r.generate},
		{StateMatching, r.match},
		{StateRendering, r.render},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return r.fail(KindCancelled, err)
		}
		if err := r.tracker.To(s.state); err != nil {
			return r.fail(KindInternal, err)
		}
		r.res.State = s.state
		if err := r.stage(ctx, s.state, s.fn); err != nil {
			return err
		}
	}

	r.record(ctx)
	r.res.CompletedAt = r.p.now()
	if err := r.tracker.To(StateCompleted); err != nil {
		return r.fail(KindInternal, err)
	}
	return nil
}

// stage 为阶段记录 span 与耗时
func (r *run) stage(ctx context.Context, state State, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+string(state))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	metrics.PipelineStageDuration.WithLabelValues(string(state)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *run) fail(kind Kind, err error) *Failure {
	return &Failure{ReportID: r.req.ID, State: r.tracker.State(), Kind: kind, Cause: err}
}

func (r *run) resolveTemplate(ctx context.Context) error {
	name := r.req.TemplateName
	if name == "" {
		name = r.p.opts.DefaultTemplate
	}
	t, err := r.p.deps.Templates.Acquire(ctx, name, r.req.TemplateVersion, r.req.ID)
	if err != nil {
		return err
	}
	r.tmpl = t
	r.res.TemplateName = t.Name
	r.res.TemplateVersion = t.Version
	return nil
}

func (r *run) retrieve(ctx context.Context) error {
	query := r.req.RetrievalQuery()
	result, err := r.p.deps.Retriever.RetrieveFiltered(ctx, query, r.p.opts.TopK, r.req.Filter)
	if err != nil {
		if ctx.Err() != nil {
			return r.fail(KindCancelled, ctx.Err())
		}
		if !errors.Is(err, rag.ErrRetrievalUnavailable) {
			err = fmt.Errorf("%w: %w", rag.ErrRetrievalUnavailable, err)
		}
		return r.fail(KindRetrievalUnavailable, err)
	}
	r.res.RetrievalMode = result.Mode
	r.prompt = r.p.deps.Assembler.Assemble(result, query, r.p.opts.ContextBudget)
	r.log.Debug("检索完成",
		zap.String("mode", result.Mode),
		zap.Int("hits", len(result.Items)),
		zap.Int("context_passages", len(r.prompt.Passages)),
		zap.Int("context_tokens", r.prompt.Tokens))
	return nil
}

// generate 图表生产与结论生成并发执行
// 图表生产失败只降级为空图表池；结论生成失败按可重试性重试一次。
// 报警级别先于提示词计算，生成时可见。
func (r *run) generate(ctx context.Context) error {
	if r.p.deps.Alarms != nil {
		r.req.Measurements = r.p.deps.Alarms.Annotate(r.req.Measurements)
	}
	g, gctx := errgroup.WithContext(ctx)
	var charts []analysis.ChartArtifact
	var conclusions []analysis.ConclusionStatement

	g.Go(func() error {
		cs, err := r.p.deps.Charts.Produce(gctx, r.req)
		if err != nil {
			if gctx.Err() == nil {
				r.log.Warn("图表生产失败，按无图处理", zap.Error(err))
			}
			return nil
		}
		charts = cs
		return nil
	})
	g.Go(func() error {
		cs, err := r.conclusions(gctx)
		if err != nil {
			return err
		}
		conclusions = cs
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return r.fail(KindCancelled, fmt.Errorf("%w: %w", generation.ErrCancelled, ctx.Err()))
		}
		return r.fail(kindOf(err), err)
	}

	r.charts = charts
	r.res.Conclusions = conclusions
	return nil
}

func (r *run) conclusions(ctx context.Context) ([]analysis.ConclusionStatement, error) {
	cfg := r.p.opts.Generation
	if len(r.req.Conclusions) > 0 {
		return generation.FromTexts(r.req.Conclusions, cfg.MinStatements), nil
	}

	prompt := generation.BuildPrompt(generation.PromptInput{
		Basic:         r.req.BasicInfo,
		Measurements:  r.req.Measurements,
		Query:         r.req.Query,
		Context:       r.prompt,
		MinStatements: cfg.MinStatements,
	})

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		r.attempts = attempt
		cs, err := r.p.deps.Generator.Conclusions(ctx, prompt, cfg)
		if err == nil {
			return cs, nil
		}
		lastErr = err
		if attempt == 2 || !generation.Retryable(err) {
			break
		}
		metrics.GenerationRetriesTotal.Inc()
		r.log.Warn("生成失败，准备重试", zap.Error(err), zap.Duration("backoff", r.p.opts.RetryBackoff))
		timer := time.NewTimer(r.p.opts.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", generation.ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (r *run) match(context.Context) error {
	res := r.p.deps.Matcher.Match(r.res.Conclusions, r.charts)
	r.res.Pairs = res.Pairs
	if err := res.Warning(); err != nil {
		r.res.Warnings = append(r.res.Warnings, fmt.Sprintf("%v: %d 条结论, %d 张图表", err, len(r.res.Conclusions), len(r.charts)))
	}
	return nil
}

func (r *run) render(ctx context.Context) error {
	vars := reportVariables(r.req, r.res.Conclusions, r.req.Measurements, r.res.CreatedAt)
	if err := r.tmpl.CheckData(vars); err != nil {
		return r.fail(KindTemplateSchemaMismatch, err)
	}

	out, err := r.p.deps.Renderer.Render(ctx, r.tmpl, render.Data{
		Variables:    vars,
		Pairs:        r.res.Pairs,
		Measurements: r.req.Measurements,
		GeneratedAt:  r.res.CreatedAt,
	}, r.req.Formats)
	if err != nil {
		kind := kindOf(err)
		if kind == KindInternal {
			kind = KindRenderFailed
		}
		return r.fail(kind, err)
	}

	for f, ferr := range out.Failures {
		r.res.Failures[f] = ferr.Error()
	}
	r.res.Outputs = out.Outputs
	r.store(ctx)

	if len(r.res.Outputs) == 0 {
		errs := make([]error, 0, len(out.Failures))
		for _, f := range sortedFormats(out.Failures) {
			errs = append(errs, out.Failures[f])
		}
		if len(errs) == 0 {
			errs = append(errs, errors.New("没有可写入的输出"))
		}
		return r.fail(KindRenderFailed, fmt.Errorf("%w: %w", render.ErrFormatFailure, errors.Join(errs...)))
	}
	return nil
}

// store 写入报告文件，写入失败的格式计为失败
func (r *run) store(ctx context.Context) {
	st := r.p.deps.Storage
	if st == nil {
		return
	}
	for _, f := range sortedFormats(r.res.Outputs) {
		o := r.res.Outputs[f]
		loc, err := st.Put(ctx, storage.ReportKey(r.req.ID, o.Filename), o.ContentType, bytes.NewReader(o.Data))
		if err != nil {
			r.log.Warn("报告文件写入失败", zap.String("format", string(f)), zap.Error(err))
			r.res.Failures[f] = (&render.FormatError{Format: f, Err: err}).Error()
			delete(r.res.Outputs, f)
			continue
		}
		o.Location = loc
	}
}

// record 写入溯源并登记模板引用，失败只记录警告
func (r *run) record(ctx context.Context) {
	formats := make([]string, 0, len(r.res.Outputs))
	for _, f := range r.res.Formats() {
		formats = append(formats, string(f))
	}
	prov := &Provenance{
		ID:                 uuid.NewString(),
		ReportID:           r.req.ID,
		TemplateName:       r.tmpl.Name,
		TemplateVersion:    r.tmpl.Version,
		SourceDocumentIDs:  r.prompt.SourceDocumentIDs,
		RetrievalMode:      r.res.RetrievalMode,
		Formats:            formats,
		GenerationAttempts: r.attempts,
		CreatedAt:          r.res.CreatedAt,
	}
	if prov.SourceDocumentIDs == nil {
		prov.SourceDocumentIDs = []string{}
	}
	r.res.Provenance = prov

	if ps := r.p.deps.Provenance; ps != nil {
		if err := ps.Save(ctx, prov); err != nil {
			r.log.Warn("溯源记录写入失败", zap.Error(err))
			r.res.Warnings = append(r.res.Warnings, err.Error())
		}
	}
}

// observe 状态变化时发布事件并更新状态记录
func (p *Pipeline) observe(ctx context.Context) Observer {
	log := logger.FromContext(ctx, p.log)
	return func(reportID string, t Transition) {
		log.Debug("流水线状态变化", zap.String("from", string(t.From)), zap.String("to", string(t.To)))
		evt := Event{ReportID: reportID, From: t.From, State: t.To, OccurredAt: t.At}
		if t.To == StateFailed {
			evt.Kind = Kind(t.Reason)
		}
		p.deps.Events.Publish(evt)
		if !t.To.Terminal() {
			p.saveStatus(ctx, &Status{ReportID: reportID, State: t.To, UpdatedAt: t.At})
		}
	}
}

func (p *Pipeline) saveStatus(ctx context.Context, s *Status) {
	if p.deps.Status == nil {
		return
	}
	// 状态记录与请求生命周期解耦，调用方取消后仍要写入失败状态
	if err := p.deps.Status.Save(context.WithoutCancel(ctx), s); err != nil {
		logger.FromContext(ctx, p.log).Warn("报告状态写入失败", zap.Error(err))
	}
}

func sortedFormats[V any](m map[reporttpl.Format]V) []reporttpl.Format {
	out := make([]reporttpl.Format, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
