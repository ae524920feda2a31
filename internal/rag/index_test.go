package rag

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"cmsreport/internal/config"
	"cmsreport/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := infra.OpenDatabase(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "rag.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = infra.CloseDatabase(db) })
	return db
}

func passage(doc string, ord int, text string, vec []float32, meta Metadata) *Passage {
	return &Passage{ID: PassageID(doc, ord), DocumentID: doc, Ordinal: ord, Text: text, Embedding: vec, Metadata: meta}
}

func TestIndexSearchOrdersByDistance(t *testing.T) {
	idx := NewIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []*Passage{
		passage("a", 0, "x", []float32{1, 0}, nil),
		passage("b", 0, "y", []float32{0.7, 0.7}, nil),
		passage("c", 0, "z", []float32{0, 1}, nil),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0.1}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Passage.DocumentID)
	assert.Equal(t, "b", hits[1].Passage.DocumentID)
	assert.InDelta(t, 1-hits[0].Distance, hits[0].Score, 1e-12)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestIndexFilterAppliesBeforeTopK(t *testing.T) {
	idx := NewIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []*Passage{
		passage("near", 0, "x", []float32{1, 0}, Metadata{MetaCategory: "故障诊断"}),
		passage("near", 1, "x", []float32{1, 0.01}, Metadata{MetaCategory: "故障诊断"}),
		passage("far", 0, "y", []float32{0, 1}, Metadata{MetaCategory: "标准规范"}),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 1, Filter{MetaCategory: "标准规范"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "far", hits[0].Passage.DocumentID)
}

func TestIndexRejectsBadBatchAtomically(t *testing.T) {
	idx := NewIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []*Passage{passage("a", 0, "x", []float32{1, 0}, nil)}))
	gen := idx.Generation()

	err := idx.Add(ctx, []*Passage{
		passage("b", 0, "y", []float32{0, 1}, nil),
		passage("b", 1, "z", []float32{0, 1, 0}, nil),
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = idx.Add(ctx, []*Passage{passage("a", 0, "dup", []float32{0, 1}, nil)})
	assert.ErrorIs(t, err, ErrDuplicatePassage)

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, gen, idx.Generation())
	_, ok := idx.Get(PassageID("b", 0))
	assert.False(t, ok)

	_, err = idx.Search(ctx, []float32{1, 0, 0}, 1, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

type failingStore struct{ err error }

func (s failingStore) Load(context.Context) ([]*Passage, uint64, error) { return nil, 0, nil }
func (s failingStore) Commit(context.Context, uint64, []*Passage, []string) error {
	return s.err
}

func TestIndexStoreFailureLeavesSnapshot(t *testing.T) {
	boom := errors.New("disk full")
	idx := NewIndex(2, WithPassageStore(failingStore{err: boom}))

	err := idx.Add(context.Background(), []*Passage{passage("a", 0, "x", []float32{1, 0}, nil)})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, uint64(0), idx.Generation())
}

func TestIndexRebuildSwapsDocument(t *testing.T) {
	idx := NewIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []*Passage{
		passage("doc", 0, "old-0", []float32{1, 0}, nil),
		passage("doc", 1, "old-1", []float32{1, 0}, nil),
		passage("other", 0, "keep", []float32{0, 1}, nil),
	}))

	require.NoError(t, idx.Rebuild(ctx, "doc", []*Passage{passage("doc", 0, "new-0", []float32{1, 0}, nil)}))
	assert.Equal(t, uint64(2), idx.Generation())
	assert.Equal(t, map[string]int{"doc": 1, "other": 1}, idx.Documents())

	p, ok := idx.Get(PassageID("doc", 0))
	require.True(t, ok)
	assert.Equal(t, "new-0", p.Text)

	err := idx.Rebuild(ctx, "doc", []*Passage{passage("elsewhere", 0, "x", []float32{1, 0}, nil)})
	assert.ErrorIs(t, err, ErrInvalidPassage)

	require.NoError(t, idx.DeleteDocument(ctx, "doc"))
	assert.Equal(t, map[string]int{"other": 1}, idx.Documents())
}

func TestIndexConcurrentReadsDuringRebuild(t *testing.T) {
	idx := NewIndex(2)
	ctx := context.Background()
	v1 := []*Passage{passage("doc", 0, "v1", []float32{1, 0}, nil), passage("doc", 1, "v1", []float32{1, 0}, nil)}
	require.NoError(t, idx.Add(ctx, v1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			text := "v2"
			if i%2 == 1 {
				text = "v1"
			}
			_ = idx.Rebuild(ctx, "doc", []*Passage{passage("doc", 0, text, []float32{1, 0}, nil), passage("doc", 1, text, []float32{1, 0}, nil)})
		}
	}()

	for i := 0; i < 200; i++ {
		hits, err := idx.Search(ctx, []float32{1, 0}, 10, nil)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		// 同一快照内不会混合新旧版本
		assert.Equal(t, hits[0].Passage.Text, hits[1].Passage.Text)
	}
	wg.Wait()
}

func TestGormPassageStorePersistsAndReloads(t *testing.T) {
	db := openTestDB(t)
	store := NewGormPassageStore(db)
	require.NoError(t, infra.AutoMigrate(db, store.Models()...))
	ctx := context.Background()

	idx, err := OpenIndex(ctx, 3, store)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, []*Passage{
		passage("kb-bearing", 0, "轴承外圈故障", []float32{0.1, 0.2, 0.3}, Metadata{MetaCategory: "故障诊断"}),
		passage("kb-bearing", 1, "包络分析", []float32{0.3, 0.2, 0.1}, nil),
	}))

	reopened, err := OpenIndex(ctx, 3, store)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	assert.Equal(t, uint64(1), reopened.Generation())

	p, ok := reopened.Get(PassageID("kb-bearing", 0))
	require.True(t, ok)
	assert.Equal(t, "轴承外圈故障", p.Text)
	assert.Equal(t, "故障诊断", p.Metadata[MetaCategory])
	assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, p.Embedding, 1e-6)

	_, err = OpenIndex(ctx, 4, store)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestGormPassageStoreCommitRollsBack(t *testing.T) {
	db := openTestDB(t)
	store := NewGormPassageStore(db)
	require.NoError(t, infra.AutoMigrate(db, store.Models()...))
	ctx := context.Background()

	first := passage("a", 0, "x", []float32{1, 0}, nil)
	require.NoError(t, store.Commit(ctx, 1, []*Passage{first}, nil))

	// 批内主键冲突，整个事务回滚，包括对 a 的删除
	dup := passage("b", 0, "y", []float32{0, 1}, nil)
	err := store.Commit(ctx, 2, []*Passage{dup, dup}, []string{"a"})
	require.Error(t, err)

	loaded, gen, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
	require.Len(t, loaded, 1)
	assert.Equal(t, first.ID, loaded[0].ID)
}
