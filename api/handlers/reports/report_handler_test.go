package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	handlercommon "cmsreport/api/handlers/common"
	"cmsreport/internal/analysis"
	"cmsreport/internal/common"
	"cmsreport/internal/pipeline"
	"cmsreport/internal/render"
	"cmsreport/internal/storage"
	reporttpl "cmsreport/internal/template"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	res *pipeline.ReportResult
	err error
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.ReportRequest) (*pipeline.ReportResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	res := *f.res
	res.ID = req.ID
	return &res, nil
}

type fakeDispatcher struct {
	dispatched []pipeline.ReportRequest
	cancelled  map[string]bool
	err        error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req pipeline.ReportRequest) (handlercommon.AcceptedResponse, error) {
	if f.err != nil {
		return handlercommon.AcceptedResponse{}, f.err
	}
	f.dispatched = append(f.dispatched, req)
	return handlercommon.AcceptedResponse{ReportID: req.ID, Mode: "local"}, nil
}

func (f *fakeDispatcher) Cancel(_ context.Context, id string) bool {
	return f.cancelled[id]
}

type fakeProvenance struct{}

func (fakeProvenance) ByReport(_ context.Context, id string) (*pipeline.Provenance, error) {
	if id != "r-1" {
		return nil, pipeline.ErrProvenanceNotFound
	}
	return &pipeline.Provenance{ReportID: id, TemplateName: reporttpl.DefaultName, TemplateVersion: 1}, nil
}

type fixture struct {
	router     *gin.Engine
	runner     *fakeRunner
	dispatcher *fakeDispatcher
	status     *pipeline.MemoryStatusStore
	events     *pipeline.EventBus
	files      storage.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		runner:     &fakeRunner{res: &pipeline.ReportResult{State: pipeline.StateCompleted, TemplateName: reporttpl.DefaultName}},
		dispatcher: &fakeDispatcher{cancelled: map[string]bool{}},
		status:     pipeline.NewMemoryStatusStore(),
		events:     pipeline.NewEventBus(8),
		files:      files,
	}
	h := NewReportHandler(f.runner, Options{
		Dispatcher: f.dispatcher,
		Status:     f.status,
		Events:     f.events,
		Provenance: fakeProvenance{},
		Files:      files,
	})

	r := gin.New()
	g := r.Group("/api/reports")
	g.POST("", h.Generate)
	g.POST("/async", h.Submit)
	g.GET("/:id", h.GetStatus)
	g.DELETE("/:id", h.Cancel)
	g.GET("/:id/provenance", h.GetProvenance)
	g.GET("/:id/files/:format", h.Download)
	g.GET("/:id/events", h.Events)
	f.router = r
	return f
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func validRequest() pipeline.ReportRequest {
	return pipeline.ReportRequest{
		ID:        "r-1",
		BasicInfo: analysis.BasicInfo{WindFarmName: "北山风电场", TurbineID: "WT-07"},
		Query:     "主轴承振动超限",
	}
}

func TestReportHandler_Generate(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/reports", validRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"completed"`)

	f.runner.err = &pipeline.Failure{ReportID: "r-1", State: pipeline.StateInitialized, Kind: pipeline.KindTemplateNotFound, Cause: reporttpl.ErrTemplateNotFound}
	w = f.do(http.MethodPost, "/api/reports", validRequest())
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"template_not_found"`)
}

func TestReportHandler_Submit(t *testing.T) {
	f := newFixture(t)

	t.Run("受理并写入初始状态", func(t *testing.T) {
		req := validRequest()
		req.ID = ""
		w := f.do(http.MethodPost, "/api/reports/async", req)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		require.Len(t, f.dispatcher.dispatched, 1)

		id := f.dispatcher.dispatched[0].ID
		require.NotEmpty(t, id)
		s, err := f.status.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, pipeline.StateInitialized, s.State)

		w = f.do(http.MethodGet, "/api/reports/"+id, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("无效请求不入队", func(t *testing.T) {
		before := len(f.dispatcher.dispatched)
		w := f.do(http.MethodPost, "/api/reports/async", pipeline.ReportRequest{Query: "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Len(t, f.dispatcher.dispatched, before)
	})

	t.Run("工作池已满", func(t *testing.T) {
		f.dispatcher.err = pipeline.ErrPoolFull
		defer func() { f.dispatcher.err = nil }()
		w := f.do(http.MethodPost, "/api/reports/async", validRequest())
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestReportHandler_StatusAndCancel(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/reports/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/api/reports/r-9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.dispatcher.cancelled["r-9"] = true
	w = f.do(http.MethodDelete, "/api/reports/r-9", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestReportHandler_Provenance(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/reports/r-1/provenance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), reporttpl.DefaultName)

	w = f.do(http.MethodGet, "/api/reports/r-2/provenance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var body struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, common.CodeReportNotFound, body.Code)
}

func TestReportHandler_Download(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	html := []byte("<html><body>WT-07</body></html>")
	_, err := f.files.Put(ctx, storage.ReportKey("r-1", "report.html"), "text/html", bytes.NewReader(html))
	require.NoError(t, err)
	require.NoError(t, f.status.Save(ctx, &pipeline.Status{
		ReportID: "r-1",
		State:    pipeline.StateCompleted,
		Outputs: map[reporttpl.Format]*render.Output{
			reporttpl.FormatHTML: {Format: reporttpl.FormatHTML, Filename: "report.html", ContentType: "text/html; charset=utf-8", Size: len(html)},
		},
	}))

	w := f.do(http.MethodGet, "/api/reports/r-1/files/html", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(html), w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "report.html")

	w = f.do(http.MethodGet, "/api/reports/r-1/files/pdf", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportHandler_Events(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/reports/r-5/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.events.Subscribers("r-5") == 1 }, time.Second, 10*time.Millisecond)

	f.events.Publish(pipeline.Event{ReportID: "r-5", From: pipeline.StateInitialized, State: pipeline.StateRetrieving})
	f.events.Publish(pipeline.Event{ReportID: "r-5", From: pipeline.StateRetrieving, State: pipeline.StateFailed, Kind: pipeline.KindRetrievalUnavailable})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []pipeline.Event
	for {
		var evt pipeline.Event
		if err := conn.ReadJSON(&evt); err != nil {
			break
		}
		got = append(got, evt)
	}
	require.Len(t, got, 2)
	assert.Equal(t, pipeline.StateRetrieving, got[0].State)
	assert.Equal(t, pipeline.KindRetrievalUnavailable, got[1].Kind)
}

func TestReportHandler_EventsAfterCompletion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.status.Save(context.Background(), &pipeline.Status{ReportID: "r-6", State: pipeline.StateCompleted}))

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/reports/r-6/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt pipeline.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, pipeline.StateCompleted, evt.State)

	var more pipeline.Event
	assert.Error(t, conn.ReadJSON(&more), "终态推送后连接关闭")
}
