package knowledge

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	handlercommon "cmsreport/api/handlers/common"
	"cmsreport/internal/common"
	"cmsreport/internal/rag"

	"github.com/gin-gonic/gin"
)

// maxUploadSize 上传文档大小上限
const maxUploadSize = 20 << 20

// Ingester 知识入库
type Ingester interface {
	Ingest(ctx context.Context, doc rag.Document) (*rag.IngestResult, error)
	IngestReader(ctx context.Context, fileName string, r io.Reader, meta rag.Metadata) (*rag.IngestResult, error)
	Delete(ctx context.Context, documentID string) error
	Supports(fileName string) bool
}

// IndexStats 索引统计
type IndexStats interface {
	Documents() map[string]int
	Len() int
	Generation() uint64
}

// Searcher 混合检索
type Searcher interface {
	RetrieveFiltered(ctx context.Context, query string, k int, filter rag.Filter) (*rag.RetrievalResult, error)
}

// AsyncIngester 异步入库任务提交
type AsyncIngester interface {
	EnqueueIngestDocument(ctx context.Context, doc rag.Document) (string, error)
}

// KnowledgeHandler 知识库管理 Handler
type KnowledgeHandler struct {
	ingester  Ingester
	index     IndexStats
	searcher  Searcher
	assembler *rag.ContextAssembler
	async     AsyncIngester
}

// NewKnowledgeHandler 创建 KnowledgeHandler，async 为空时只支持同步入库
func NewKnowledgeHandler(ingester Ingester, index IndexStats, searcher Searcher, assembler *rag.ContextAssembler, async AsyncIngester) *KnowledgeHandler {
	if assembler == nil {
		assembler = rag.NewContextAssembler(nil)
	}
	return &KnowledgeHandler{
		ingester:  ingester,
		index:     index,
		searcher:  searcher,
		assembler: assembler,
		async:     async,
	}
}

// IngestDocument 入库文本文档
// POST /api/knowledge/documents?async=true
func (h *KnowledgeHandler) IngestDocument(c *gin.Context) {
	var doc rag.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	if strings.TrimSpace(doc.ID) == "" || strings.TrimSpace(doc.Text) == "" {
		common.ResponseBadRequest(c, "id 与 text 不能为空")
		return
	}

	if c.Query("async") == "true" {
		if h.async == nil {
			common.ResponseError(c, common.CodeServiceUnavailable, "异步入库未启用")
			return
		}
		taskID, err := h.async.EnqueueIngestDocument(c.Request.Context(), doc)
		if err != nil {
			handlercommon.RespondError(c, err)
			return
		}
		common.ResponseAccepted(c, gin.H{"document_id": doc.ID, "task_id": taskID})
		return
	}

	res, err := h.ingester.Ingest(c.Request.Context(), doc)
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseCreated(c, res)
}

// UploadDocument 上传文件并入库，支持 txt/md/html/pdf/docx
// POST /api/knowledge/upload
func (h *KnowledgeHandler) UploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	fh, err := c.FormFile("file")
	if err != nil {
		common.ResponseBadRequest(c, "缺少上传文件: "+err.Error())
		return
	}
	name := filepath.Base(fh.Filename)
	if !h.ingester.Supports(name) {
		common.ResponseError(c, common.CodeUnsupportedFormat, "不支持的文档格式: "+filepath.Ext(name))
		return
	}

	f, err := fh.Open()
	if err != nil {
		common.ResponseBadRequest(c, "读取上传文件失败: "+err.Error())
		return
	}
	defer f.Close()

	meta := rag.Metadata{}
	for _, key := range []string{"category", "component", "source"} {
		if v := strings.TrimSpace(c.PostForm(key)); v != "" {
			meta[key] = v
		}
	}
	res, err := h.ingester.IngestReader(c.Request.Context(), name, f, meta)
	if err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseCreated(c, res)
}

// DocumentInfo 文档统计
type DocumentInfo struct {
	ID       string `json:"id"`
	Passages int    `json:"passages"`
}

// ListDocuments 列出已入库文档
// GET /api/knowledge/documents
func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	docs := h.index.Documents()
	items := make([]DocumentInfo, 0, len(docs))
	for id, n := range docs {
		items = append(items, DocumentInfo{ID: id, Passages: n})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	common.ResponseSuccess(c, gin.H{
		"documents":  items,
		"passages":   h.index.Len(),
		"generation": h.index.Generation(),
	})
}

// DeleteDocument 删除文档
// DELETE /api/knowledge/documents/:id
func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.index.Documents()[id]; !ok {
		common.ResponseError(c, common.CodeDocumentNotFound, "")
		return
	}
	if err := h.ingester.Delete(c.Request.Context(), id); err != nil {
		handlercommon.RespondError(c, err)
		return
	}
	common.ResponseNoContent(c)
}

// SearchRequest 检索请求
type SearchRequest struct {
	Query  string     `json:"query" binding:"required"`
	TopK   int        `json:"top_k"`
	Filter rag.Filter `json:"filter"`
	Budget int        `json:"budget"` // 大于 0 时返回组装后的上下文
}

// SearchResponse 检索响应
type SearchResponse struct {
	*rag.RetrievalResult
	Context *rag.PromptContext `json:"context,omitempty"`
}

// Search 混合检索
// POST /api/knowledge/search
func (h *KnowledgeHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	if req.TopK > 50 {
		req.TopK = 50
	}

	res, err := h.searcher.RetrieveFiltered(c.Request.Context(), req.Query, req.TopK, req.Filter)
	if err != nil {
		common.ResponseError(c, common.CodeRetrievalFailed, err.Error())
		return
	}
	resp := SearchResponse{RetrievalResult: res}
	if req.Budget > 0 {
		pc := h.assembler.Assemble(res, req.Query, req.Budget)
		resp.Context = &pc
	}
	common.ResponseSuccess(c, resp)
}
