package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"cmsreport/internal/logger"
	"cmsreport/internal/rag/parsers"
)

// Document 待入库的知识文档
type Document struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// DocumentMirror 入库后同步的外部向量库（如 Qdrant）
type DocumentMirror interface {
	ReplaceDocument(ctx context.Context, documentID string, passages []*Passage) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// Ingestor 文档入库流程：解析 → 语义分块 → 向量化 → 写入索引
type Ingestor struct {
	parsers  *parsers.ParserRegistry
	chunker  *SemanticChunker
	embedder EmbeddingProvider
	index    *Index
	mirror   DocumentMirror
	log      *zap.Logger
}

// NewIngestor 创建入库器，mirror 可为 nil
func NewIngestor(index *Index, chunker *SemanticChunker, embedder EmbeddingProvider, mirror DocumentMirror, log *zap.Logger) *Ingestor {
	return &Ingestor{
		parsers:  parsers.NewParserRegistry(),
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		mirror:   mirror,
		log:      logger.OrNop(log),
	}
}

// IngestResult 单个文档的入库结果
type IngestResult struct {
	DocumentID string `json:"documentId"`
	Passages   int    `json:"passages"`
	Generation uint64 `json:"generation"`
}

// Ingest 入库单个文档，已存在的同 ID 文档会被整体替换
func (in *Ingestor) Ingest(ctx context.Context, doc Document) (*IngestResult, error) {
	if doc.ID == "" {
		return nil, errors.New("document id is required")
	}
	chunks, err := in.chunker.ChunkAll(ctx, doc.Text, 0)
	if err != nil {
		return nil, fmt.Errorf("文档 %s 分块失败: %w", doc.ID, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("文档 %s 内容为空", doc.ID)
	}
	vecs, err := in.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("文档 %s 向量化失败: %w", doc.ID, err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("文档 %s 向量数量不匹配: 期望%d, 实际%d", doc.ID, len(chunks), len(vecs))
	}

	passages := make([]*Passage, len(chunks))
	for i, text := range chunks {
		meta := doc.Metadata.Clone()
		if doc.Title != "" {
			meta[MetaTitle] = doc.Title
		}
		passages[i] = &Passage{
			ID:         PassageID(doc.ID, i),
			DocumentID: doc.ID,
			Ordinal:    i,
			Text:       text,
			Embedding:  vecs[i],
			Metadata:   meta,
		}
	}

	if err := in.index.Rebuild(ctx, doc.ID, passages); err != nil {
		return nil, err
	}
	if in.mirror != nil {
		// 外部镜像失败不影响本地索引
		if err := in.mirror.ReplaceDocument(ctx, doc.ID, passages); err != nil {
			in.log.Warn("向量库镜像同步失败", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}

	in.log.Info("文档已入库",
		zap.String("document_id", doc.ID),
		zap.Int("passages", len(passages)),
		zap.Uint64("generation", in.index.Generation()),
	)
	return &IngestResult{DocumentID: doc.ID, Passages: len(passages), Generation: in.index.Generation()}, nil
}

// IngestReader 解析上传内容后入库，文档 ID 取自文件名
func (in *Ingestor) IngestReader(ctx context.Context, fileName string, r io.Reader, meta Metadata) (*IngestResult, error) {
	text, err := in.parsers.Parse(fileName, r)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = Metadata{}
	}
	meta[MetaOrigin] = filepath.Base(fileName)
	return in.Ingest(ctx, Document{
		ID:       DocumentIDFromName(fileName),
		Title:    strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)),
		Text:     text,
		Metadata: meta,
	})
}

// IngestFile 入库本地文件
func (in *Ingestor) IngestFile(ctx context.Context, path string, meta Metadata) (*IngestResult, error) {
	text, err := in.parsers.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = Metadata{}
	}
	meta[MetaOrigin] = filepath.Base(path)
	return in.Ingest(ctx, Document{
		ID:       DocumentIDFromName(path),
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Text:     text,
		Metadata: meta,
	})
}

// Delete 删除文档
func (in *Ingestor) Delete(ctx context.Context, documentID string) error {
	if err := in.index.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if in.mirror != nil {
		if err := in.mirror.DeleteDocument(ctx, documentID); err != nil {
			in.log.Warn("向量库镜像删除失败", zap.String("document_id", documentID), zap.Error(err))
		}
	}
	return nil
}

// Seed 索引为空时写入内置知识
func (in *Ingestor) Seed(ctx context.Context) (int, error) {
	if in.index.Len() > 0 {
		return 0, nil
	}
	n := 0
	for _, doc := range SeedDocuments() {
		if _, err := in.Ingest(ctx, doc); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Supports 是否支持该文件格式
func (in *Ingestor) Supports(fileName string) bool {
	return in.parsers.Supports(fileName)
}

// DocumentIDFromName 文件名（去扩展名、小写、空白转下划线）作为文档 ID
func DocumentIDFromName(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.Join(strings.Fields(strings.ToLower(base)), "_")
}
