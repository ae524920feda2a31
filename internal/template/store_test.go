package template

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cmsreport/internal/config"
	"cmsreport/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := infra.OpenDatabase(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "templates.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = infra.CloseDatabase(db) })

	s := NewStore(db, nil)
	require.NoError(t, db.AutoMigrate(s.Models()...))
	return s
}

func simpleRequest(name, body string) SaveRequest {
	return SaveRequest{
		Name: name,
		Body: body,
		Variables: []VariableSpec{
			{Name: "turbine_id", Type: VarString, Required: true},
			{Name: "note", Type: VarString},
		},
	}
}

func TestSaveIncrementsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		tpl, err := s.Save(ctx, simpleRequest("巡检", "机组 {{.turbine_id}} 第"+strings.Repeat("I", i)+"版 {{.note}}"))
		require.NoError(t, err)
		assert.Equal(t, i, tpl.Version)
		assert.True(t, tpl.Active)
		assert.Equal(t, i == 1, tpl.IsDefault)
	}

	latest, err := s.Get(ctx, "巡检", "")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	v2, err := s.Get(ctx, "巡检", "v2")
	require.NoError(t, err)
	assert.Contains(t, v2.Body, "第II版")

	def, err := s.Get(ctx, "巡检", VersionDefault)
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)

	require.NoError(t, s.SetDefault(ctx, "巡检", 2))
	def, err = s.Get(ctx, "巡检", VersionDefault)
	require.NoError(t, err)
	assert.Equal(t, 2, def.Version)

	versions, err := s.Versions(ctx, "巡检")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i].Version, versions[i-1].Version)
	}
}

func TestSaveRejectsSchemaMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, simpleRequest("坏模板", "{{.turbine_id}} {{.undeclared}}"))
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	req := simpleRequest("坏模板", "{{.turbine_id}}")
	req.Variables[0].Default = "WT-00"
	_, err = s.Save(ctx, req)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	req.Variables[0].Optional = true
	_, err = s.Save(ctx, req)
	assert.NoError(t, err)

	_, err = s.Save(ctx, simpleRequest("坏模板", "{{.turbine_id"))
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = s.Save(ctx, SaveRequest{Name: "x", Body: "a", Formats: []Format{"xlsx"}})
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestReferencedVariablesIgnoresRangeDot(t *testing.T) {
	refs, err := ReferencedVariables(`{{range .points}}{{.name}} {{$.turbine_id}}{{end}}{{if .alarm}}{{.alarm}}{{end}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"alarm", "points", "turbine_id"}, refs)
}

func TestDeleteKeepsReferencedVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, simpleRequest("月报", "v1 {{.turbine_id}}"))
	require.NoError(t, err)
	_, err = s.Save(ctx, simpleRequest("月报", "v2 {{.turbine_id}}"))
	require.NoError(t, err)
	v1, err := s.Acquire(ctx, "月报", "1", "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.ReferenceCount)

	require.NoError(t, s.Delete(ctx, "月报"))

	_, err = s.Get(ctx, "月报", VersionLatest)
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	v1, err = s.Get(ctx, "月报", "1")
	require.NoError(t, err)
	assert.False(t, v1.Active)
	assert.Equal(t, 1, v1.ReferenceCount)

	_, err = s.Get(ctx, "月报", "2")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	// 删除后重新保存，版本号不复用
	tpl, err := s.Save(ctx, simpleRequest("月报", "v3 {{.turbine_id}}"))
	require.NoError(t, err)
	assert.Equal(t, 3, tpl.Version)

	assert.ErrorIs(t, s.Delete(ctx, "不存在"), ErrTemplateNotFound)
	_, err = s.Acquire(ctx, "月报", "9", "rpt-2")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestAcquireRacesDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("巡检报告-%d", i)
		_, err := s.Save(ctx, simpleRequest(name, "{{.turbine_id}}"))
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			acquired *Template
			acqErr   error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			acquired, acqErr = s.Acquire(ctx, name, VersionLatest, "rpt")
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Delete(ctx, name))
		}()
		wg.Wait()

		// 要么在删除前登记成功且版本保留，要么删除在先、解析失败
		if acqErr != nil {
			assert.ErrorIs(t, acqErr, ErrTemplateNotFound)
			continue
		}
		got, err := s.Get(ctx, name, strconv.Itoa(acquired.Version))
		require.NoError(t, err, name)
		assert.Equal(t, 1, got.ReferenceCount)
	}
}

func TestListAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureDefaults(ctx))
	require.NoError(t, s.EnsureDefaults(ctx))

	_, err := s.Save(ctx, SaveRequest{
		Name:        "齿轮箱专项",
		Type:        TypeFaultDiagnosis,
		Description: "齿轮箱振动诊断",
		Tags:        []string{"齿轮箱"},
		Body:        "齿轮箱 {{.turbine_id}}",
		Variables:   []VariableSpec{{Name: "turbine_id", Required: true}},
	})
	require.NoError(t, err)

	res, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Pagination.Total)

	res, err = s.List(ctx, ListFilter{Type: TypeFaultDiagnosis})
	require.NoError(t, err)
	require.Len(t, res.Templates, 1)
	assert.Equal(t, "齿轮箱专项", res.Templates[0].Name)

	hits, err := s.Search(ctx, "齿轮箱")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 10+5+5+3, hits[0].Score)

	hits, err = s.Search(ctx, "振动")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, DefaultName, hits[0].Template.Name)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	hits, err = s.Search(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDiffAndBundle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, simpleRequest("日报", "标题\n机组 {{.turbine_id}}\n"))
	require.NoError(t, err)
	_, err = s.Save(ctx, simpleRequest("日报", "标题\n机组 {{.turbine_id}} {{.note}}\n"))
	require.NoError(t, err)

	d, err := s.Diff(ctx, "日报", 1, 2)
	require.NoError(t, err)
	assert.Contains(t, d, "--- 日报@v1")
	assert.Contains(t, d, "+机组 {{.turbine_id}} {{.note}}")

	var buf bytes.Buffer
	require.NoError(t, s.Export(ctx, &buf, "日报"))
	assert.Contains(t, buf.String(), "name: 日报")

	other := newTestStore(t)
	saved, err := other.Import(ctx, &buf)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, 1, saved[0].Version)
	assert.Contains(t, saved[0].Body, "{{.note}}")

	_, err = other.Import(ctx, strings.NewReader("templates: [oops"))
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestCheckData(t *testing.T) {
	tpl := Default()
	full := &Template{Name: tpl.Name, Version: 1, Variables: tpl.Variables}

	err := full.CheckData(map[string]interface{}{"wind_farm_name": "华北一场"})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "turbine_id")

	assert.NoError(t, full.CheckData(map[string]interface{}{"wind_farm_name": "华北一场", "turbine_id": "WT-07"}))
	assert.True(t, full.Supports(FormatPDF))
}

func TestParseVersion(t *testing.T) {
	for in, want := range map[string]int{"": 0, "latest": 0, "default": -1, "3": 3, "v12": 12} {
		got, err := ParseVersion(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseVersion("v0")
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}
