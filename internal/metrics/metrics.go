package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmsreport_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cmsreport_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIRequestsInFlight 正在处理的请求数
	APIRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cmsreport_api_requests_in_flight",
			Help: "正在处理的 API 请求数",
		},
	)
)

// 流水线指标
var (
	// PipelineRunsTotal 报告流水线执行总数
	// outcome: completed, failed; state: 终止时所在状态
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmsreport_pipeline_runs_total",
			Help: "报告流水线执行总数",
		},
		[]string{"outcome", "state"},
	)

	// PipelineStageDuration 各阶段耗时（秒）
	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cmsreport_pipeline_stage_duration_seconds",
			Help:    "流水线各阶段耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	// PipelinesRunning 正在执行的流水线数量
	PipelinesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cmsreport_pipelines_running",
			Help: "正在执行的流水线数量",
		},
	)
)

// 检索指标
var (
	// RetrievalTotal 混合检索次数
	// mode: hybrid, dense_only, sparse_only, unavailable
	RetrievalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmsreport_retrieval_total",
			Help: "混合检索次数（按降级模式）",
		},
		[]string{"mode"},
	)

	// RetrievalDuration 检索耗时（秒）
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cmsreport_retrieval_duration_seconds",
			Help:    "混合检索耗时分布",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	// IndexPassages 索引中已提交的段落数
	IndexPassages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cmsreport_index_passages",
			Help: "索引已提交段落数",
		},
	)

	// IndexGeneration 索引代数
	IndexGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cmsreport_index_generation",
			Help: "索引当前代数",
		},
	)
)

// 生成与渲染指标
var (
	// GenerationCallsTotal 生成后端调用次数
	// result: success, timeout, rate_limited, invalid_response, cancelled, error
	GenerationCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmsreport_generation_calls_total",
			Help: "生成后端调用次数",
		},
		[]string{"provider", "result"},
	)

	// GenerationRetriesTotal 流水线对生成阶段的重试次数
	GenerationRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cmsreport_generation_retries_total",
			Help: "生成阶段重试次数",
		},
	)

	// GenerationPlaceholders 占位结论数量
	GenerationPlaceholders = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cmsreport_generation_placeholders_total",
			Help: "补齐的占位结论数量",
		},
	)

	// EvidenceReusedTotal 图表复用次数
	EvidenceReusedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cmsreport_evidence_reused_total",
			Help: "图表池不足时的图表复用次数",
		},
	)

	// RenderTotal 各格式渲染结果
	RenderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmsreport_render_total",
			Help: "报告渲染次数（按格式与结果）",
		},
		[]string{"format", "result"},
	)
)
