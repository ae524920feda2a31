package reports

import (
	"context"
	"net/http"
	"time"

	handlercommon "cmsreport/api/handlers/common"
	"cmsreport/internal/common"
	"cmsreport/internal/logger"
	"cmsreport/internal/pipeline"
	"cmsreport/internal/storage"
	reporttpl "cmsreport/internal/template"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dispatcher 异步执行报告，可以是任务队列或进程内工作池
type Dispatcher interface {
	Dispatch(ctx context.Context, req pipeline.ReportRequest) (handlercommon.AcceptedResponse, error)
	Cancel(ctx context.Context, reportID string) bool
}

// ProvenanceReader 溯源查询
type ProvenanceReader interface {
	ByReport(ctx context.Context, reportID string) (*pipeline.Provenance, error)
}

// ReportHandler 报告生成 Handler
type ReportHandler struct {
	runner     pipeline.Runner
	dispatcher Dispatcher
	status     pipeline.StatusStore
	events     *pipeline.EventBus
	provenance ProvenanceReader
	files      storage.Storage
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

// Options 可选依赖，缺失时对应接口返回 503
type Options struct {
	Dispatcher Dispatcher
	Status     pipeline.StatusStore
	Events     *pipeline.EventBus
	Provenance ProvenanceReader
	Files      storage.Storage
	Logger     *zap.Logger
}

// NewReportHandler 创建 ReportHandler
func NewReportHandler(runner pipeline.Runner, opts Options) *ReportHandler {
	return &ReportHandler{
		runner:     runner,
		dispatcher: opts.Dispatcher,
		status:     opts.Status,
		events:     opts.Events,
		provenance: opts.Provenance,
		files:      opts.Files,
		log:        logger.OrNop(opts.Logger),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// Generate 同步生成报告
// POST /api/reports
func (h *ReportHandler) Generate(c *gin.Context) {
	var req pipeline.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	res, err := h.runner.Run(c.Request.Context(), req)
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, res)
}

// Submit 异步生成报告，立即返回报告 ID
// POST /api/reports/async
func (h *ReportHandler) Submit(c *gin.Context) {
	if h.dispatcher == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "异步执行未启用")
		return
	}
	var req pipeline.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		common.ResponseBadRequest(c, err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx := c.Request.Context()
	if h.status != nil {
		queued := &pipeline.Status{ReportID: req.ID, State: pipeline.StateInitialized, UpdatedAt: time.Now()}
		if err := h.status.Save(ctx, queued); err != nil {
			h.log.Warn("保存初始状态失败", zap.String("report_id", req.ID), zap.Error(err))
		}
	}

	accepted, err := h.dispatcher.Dispatch(ctx, req)
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseAccepted(c, accepted)
}

// GetStatus 查询报告状态
// GET /api/reports/:id
func (h *ReportHandler) GetStatus(c *gin.Context) {
	if h.status == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "状态存储未启用")
		return
	}
	s, err := h.status.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, s)
}

// Cancel 取消执行中的报告
// DELETE /api/reports/:id
func (h *ReportHandler) Cancel(c *gin.Context) {
	if h.dispatcher == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "异步执行未启用")
		return
	}
	id := c.Param("id")
	if !h.dispatcher.Cancel(c.Request.Context(), id) {
		common.ResponseError(c, common.CodeReportNotFound, "报告不在执行中")
		return
	}
	common.ResponseAccepted(c, gin.H{"report_id": id, "cancelled": true})
}

// GetProvenance 查询报告溯源记录
// GET /api/reports/:id/provenance
func (h *ReportHandler) GetProvenance(c *gin.Context) {
	if h.provenance == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "溯源存储未启用")
		return
	}
	p, err := h.provenance.ByReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, p)
}

// Download 下载已完成报告的某种格式
// GET /api/reports/:id/files/:format
func (h *ReportHandler) Download(c *gin.Context) {
	if h.status == nil || h.files == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "报告文件存储未启用")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	s, err := h.status.Get(ctx, id)
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	format := reporttpl.Format(c.Param("format"))
	out, ok := s.Outputs[format]
	if !ok {
		common.ResponseError(c, common.CodeNotFound, "报告没有该格式的输出")
		return
	}

	rc, err := h.files.Get(ctx, storage.ReportKey(id, out.Filename))
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", `attachment; filename="`+out.Filename+`"`)
	c.DataFromReader(http.StatusOK, int64(out.Size), out.ContentType, rc, nil)
}

// Events 通过 WebSocket 推送报告进度，终态后关闭连接
// GET /api/reports/:id/events
func (h *ReportHandler) Events(c *gin.Context) {
	if h.events == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "事件推送未启用")
		return
	}
	id := c.Param("id")

	ch, cancel := h.events.Subscribe(id)
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// 订阅之前已结束的报告直接推送终态
	if h.status != nil {
		if s, err := h.status.Get(c.Request.Context(), id); err == nil && s.State.Terminal() {
			_ = conn.WriteJSON(pipeline.Event{ReportID: id, State: s.State, Kind: s.Kind, Message: s.Error, OccurredAt: s.UpdatedAt})
			return
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case evt := <-ch:
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
			if evt.Terminal() {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(evt.State)))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
