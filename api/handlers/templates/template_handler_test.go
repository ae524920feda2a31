package templates

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"cmsreport/internal/common"
	"cmsreport/internal/config"
	"cmsreport/internal/infra"
	"cmsreport/internal/render"
	"cmsreport/internal/template"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := infra.OpenDatabase(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "templates.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = infra.CloseDatabase(db) })

	store := template.NewStore(db, nil)
	require.NoError(t, db.AutoMigrate(store.Models()...))

	h := NewTemplateHandler(store, render.NewRenderer(render.Options{}, nil))
	r := gin.New()
	g := r.Group("/api/templates")
	g.GET("", h.ListTemplates)
	g.POST("", h.SaveTemplate)
	g.GET("/search", h.SearchTemplates)
	g.GET("/export", h.ExportTemplates)
	g.POST("/import", h.ImportTemplates)
	g.GET("/:name", h.GetTemplate)
	g.DELETE("/:name", h.DeleteTemplate)
	g.GET("/:name/versions", h.ListVersions)
	g.GET("/:name/diff", h.DiffVersions)
	g.PUT("/:name/default/:version", h.SetDefault)
	g.POST("/:name/preview", h.PreviewTemplate)
	return r
}

func do(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func inspection(body string) SaveTemplateRequest {
	return SaveTemplateRequest{
		Name: "inspection",
		Type: template.TypeCustom,
		Tags: []string{"巡检"},
		Variables: []template.VariableSpec{
			{Name: "turbine_id", Type: template.VarString, Required: true},
		},
		Body: body,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestTemplateHandler_SaveAndGet(t *testing.T) {
	r := setupRouter(t)

	w := do(r, http.MethodPost, "/api/templates", inspection("# 巡检\n\n机组 {{.turbine_id}}"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/templates", inspection("# 巡检 v2\n\n机组 {{.turbine_id}}"))
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("最新版本", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/templates/inspection", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var tpl template.Template
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &tpl))
		assert.Equal(t, 2, tpl.Version)
	})

	t.Run("指定版本", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/templates/inspection?version=1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var tpl template.Template
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &tpl))
		assert.Equal(t, 1, tpl.Version)
	})

	t.Run("版本列表与差异", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/templates/inspection/versions", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var versions []template.Template
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &versions))
		assert.Len(t, versions, 2)

		w = do(r, http.MethodGet, "/api/templates/inspection/diff?from=1&to=2", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "v2")

		w = do(r, http.MethodGet, "/api/templates/inspection/diff?from=a&to=2", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("列表与检索", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/templates?page=1&page_size=10", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"inspection"`)

		w = do(r, http.MethodGet, "/api/templates/search?q="+url.QueryEscape("巡检"), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"inspection"`)
	})
}

func TestTemplateHandler_Errors(t *testing.T) {
	r := setupRouter(t)

	t.Run("模板不存在", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/templates/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, common.CodeTemplateNotFound, decode(t, w).Code)
	})

	t.Run("正文引用未声明变量", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/templates", inspection("机组 {{.turbine_id}} {{.undeclared}}"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, common.CodeSchemaMismatch, decode(t, w).Code)
	})

	t.Run("缺少必填字段", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/templates", map[string]string{"name": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("非法版本号", func(t *testing.T) {
		w := do(r, http.MethodPut, "/api/templates/inspection/default/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTemplateHandler_DeleteAndDefault(t *testing.T) {
	r := setupRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/templates", inspection("v1 {{.turbine_id}}")).Code)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/templates", inspection("v2 {{.turbine_id}}")).Code)

	w := do(r, http.MethodPut, "/api/templates/inspection/default/2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/templates/inspection?version=default", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tpl template.Template
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &tpl))
	assert.Equal(t, 2, tpl.Version)

	w = do(r, http.MethodDelete, "/api/templates/inspection", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(r, http.MethodDelete, "/api/templates/inspection", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplateHandler_ExportImport(t *testing.T) {
	r := setupRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/templates", inspection("机组 {{.turbine_id}}")).Code)

	w := do(r, http.MethodGet, "/api/templates/export?names=inspection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	exported := w.Body.String()
	assert.Contains(t, exported, "inspection")

	req := httptest.NewRequest(http.MethodPost, "/api/templates/import", strings.NewReader(exported))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var summaries []template.Summary
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].Version)
}

func TestTemplateHandler_Preview(t *testing.T) {
	r := setupRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/templates", inspection("# 巡检报告\n\n机组 {{.turbine_id}}")).Code)

	w := do(r, http.MethodPost, "/api/templates/inspection/preview", PreviewRequest{Variables: map[string]interface{}{"turbine_id": "WT-07"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "WT-07")

	w = do(r, http.MethodPost, "/api/templates/inspection/preview", PreviewRequest{Variables: map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
