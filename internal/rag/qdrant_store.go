package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Qdrant payload 字段
const (
	qdrantFieldContent   = "content"
	qdrantFieldDocID     = "doc_id"
	qdrantFieldPassageID = "passage_id"
	qdrantFieldOrdinal   = "ordinal"
)

// QdrantPoints Qdrant 点操作的最小接口，便于替换为测试桩
type QdrantPoints interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// QdrantCollections Qdrant 集合操作的最小接口
type QdrantCollections interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantStore 外部向量库镜像
// 本地索引是权威数据，Qdrant 作为可选的稠密检索源，规模较大时替代本地线性扫描。
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      QdrantPoints
	collections QdrantCollections
	collection  string
	embedder    EmbeddingProvider
}

// NewQdrantStore 连接 Qdrant gRPC 服务
func NewQdrantStore(addr, collection string, embedder EmbeddingProvider) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("连接 qdrant %s 失败: %w", addr, err)
	}
	s := NewQdrantStoreWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, embedder)
	s.conn = conn
	return s, nil
}

// NewQdrantStoreWithClients 使用已有客户端创建
func NewQdrantStoreWithClients(points QdrantPoints, collections QdrantCollections, collection string, embedder EmbeddingProvider) *QdrantStore {
	if collection == "" {
		collection = "cms_knowledge"
	}
	return &QdrantStore{points: points, collections: collections, collection: collection, embedder: embedder}
}

// Close 关闭连接
func (s *QdrantStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection 集合不存在时按维度创建（余弦距离）
func (s *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("查询 qdrant 集合失败: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(dims), Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("创建 qdrant 集合 %s 失败: %w", s.collection, err)
	}
	return nil
}

// ReplaceDocument 删除文档旧的点并写入新段落
func (s *QdrantStore) ReplaceDocument(ctx context.Context, documentID string, passages []*Passage) error {
	if err := s.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	return s.Upsert(ctx, passages)
}

// Upsert 写入段落
func (s *QdrantStore) Upsert(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(passages))
	for i, p := range passages {
		payload := map[string]*pb.Value{
			qdrantFieldContent:   stringValue(p.Text),
			qdrantFieldDocID:     stringValue(p.DocumentID),
			qdrantFieldPassageID: stringValue(p.ID),
			qdrantFieldOrdinal:   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.Ordinal)}},
		}
		for k, v := range p.Metadata {
			payload[k] = stringValue(v)
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: qdrantPointID(p.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Embedding}}},
			Payload: payload,
		}
	}
	wait := true
	if _, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant 写入 %d 个点失败: %w", len(points), err)
	}
	return nil
}

// DeleteDocument 按文档 ID 删除
func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch(qdrantFieldDocID, documentID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant 删除文档 %s 失败: %w", documentID, err)
	}
	return nil
}

// SearchDense 实现 DenseSearcher
func (s *QdrantStore) SearchDense(ctx context.Context, query string, k int, filter Filter) ([]ScoredPassage, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filter) > 0 {
		must := make([]*pb.Condition, 0, len(filter))
		for key, val := range filter {
			must = append(must, fieldMatch(key, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant 检索失败: %w", err)
	}
	out := make([]ScoredPassage, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		p := &Passage{Metadata: Metadata{}}
		for key, val := range r.GetPayload() {
			switch key {
			case qdrantFieldContent:
				p.Text = val.GetStringValue()
			case qdrantFieldDocID:
				p.DocumentID = val.GetStringValue()
			case qdrantFieldPassageID:
				p.ID = val.GetStringValue()
			case qdrantFieldOrdinal:
				p.Ordinal = int(val.GetIntegerValue())
			default:
				if sv, ok := val.GetKind().(*pb.Value_StringValue); ok {
					p.Metadata[key] = sv.StringValue
				} else if iv, ok := val.GetKind().(*pb.Value_IntegerValue); ok {
					p.Metadata[key] = strconv.FormatInt(iv.IntegerValue, 10)
				}
			}
		}
		if p.ID == "" {
			p.ID = r.GetId().GetUuid()
		}
		out = append(out, ScoredPassage{Passage: p, Score: clamp01(float64(r.GetScore()))})
	}
	return out, nil
}

// qdrantPointID Qdrant 只接受 UUID 或整数 ID，段落 ID 映射为稳定的 UUIDv5
func qdrantPointID(passageID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("cmsreport:"+passageID)).String()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
