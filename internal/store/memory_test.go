package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-rag-go/internal/model"
)

func record(sourceID string, index int, embedding []float32) model.ChunkRecord {
	return model.ChunkRecord{
		ChunkID:    fmt.Sprintf("%s_chunk_%d", sourceID, index),
		SourceID:   sourceID,
		OwnerKey:   "user_aaaaaaaaaaaa",
		ChunkIndex: index,
		FullText:   fmt.Sprintf("chunk %d of %s", index, sourceID),
		Embedding:  embedding,
	}
}

func TestMemoryStoreRejectsWrongDimension(t *testing.T) {
	s := NewMemoryStore(4)
	_, err := s.UpsertChunks(context.Background(), "user_aaaaaaaaaaaa", "doc-1",
		[]model.ChunkRecord{record("doc-1", 0, []float32{1, 0})})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// 整批拒绝：第一条合法也不应落盘。
	_, err = s.UpsertChunks(context.Background(), "user_aaaaaaaaaaaa", "doc-1",
		[]model.ChunkRecord{
			record("doc-1", 0, []float32{1, 0, 0, 0}),
			record("doc-1", 1, []float32{1, 0}),
		})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	results, err := s.QueryBySimilarity(context.Background(), "user_aaaaaaaaaaaa", []float32{1, 0, 0, 0}, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryStoreScopesByOwner(t *testing.T) {
	s := NewMemoryStore(2)
	_, err := s.UpsertChunks(context.Background(), "user_aaaaaaaaaaaa", "doc-1",
		[]model.ChunkRecord{record("doc-1", 0, []float32{1, 0})})
	require.NoError(t, err)

	// 其他 owner 的查询不可见任何结果。
	results, err := s.QueryBySimilarity(context.Background(), "user_bbbbbbbbbbbb", []float32{1, 0}, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.QueryBySimilarity(context.Background(), "user_aaaaaaaaaaaa", []float32{1, 0}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMemoryStoreRanksByCosineSimilarity(t *testing.T) {
	s := NewMemoryStore(2)
	owner := "user_aaaaaaaaaaaa"
	_, err := s.UpsertChunks(context.Background(), owner, "doc-1", []model.ChunkRecord{
		record("doc-1", 0, []float32{1, 0}),      // 与查询向量完全一致
		record("doc-1", 1, []float32{0.6, 0.8}),  // cos = 0.6
		record("doc-1", 2, []float32{0, 1}),      // cos = 0，正交
		record("doc-1", 3, []float32{-1, 0}),     // cos = -1
	})
	require.NoError(t, err)

	results, err := s.QueryBySimilarity(context.Background(), owner, []float32{1, 0}, 0.3, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.Equal(t, 0, results[0].Chunk.ChunkIndex)
	assert.InDelta(t, 0.6, results[1].Similarity, 1e-9)
	assert.Equal(t, 1, results[1].Chunk.ChunkIndex)
}

func TestMemoryStoreExcludesZeroMagnitudeVectors(t *testing.T) {
	s := NewMemoryStore(2)
	owner := "user_aaaaaaaaaaaa"
	_, err := s.UpsertChunks(context.Background(), owner, "doc-1", []model.ChunkRecord{
		record("doc-1", 0, []float32{0, 0}),
		record("doc-1", 1, []float32{1, 0}),
	})
	require.NoError(t, err)

	// 零向量无相似度可言，即使阈值为负也不得返回。
	results, err := s.QueryBySimilarity(context.Background(), owner, []float32{1, 0}, -1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Chunk.ChunkIndex)

	// 查询向量本身是零向量时同样没有任何结果。
	results, err = s.QueryBySimilarity(context.Background(), owner, []float32{0, 0}, -1, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryStoreUpsertReplacesSource(t *testing.T) {
	s := NewMemoryStore(2)
	owner := "user_aaaaaaaaaaaa"
	_, err := s.UpsertChunks(context.Background(), owner, "doc-1", []model.ChunkRecord{
		record("doc-1", 0, []float32{1, 0}),
		record("doc-1", 1, []float32{1, 0}),
		record("doc-1", 2, []float32{1, 0}),
	})
	require.NoError(t, err)

	n, err := s.UpsertChunks(context.Background(), owner, "doc-1", []model.ChunkRecord{
		record("doc-1", 0, []float32{0.6, 0.8}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := s.QueryBySimilarity(context.Background(), owner, []float32{1, 0}, 0, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.6, results[0].Similarity, 1e-9)
}

func TestMemoryStoreTieBreaksDeterministically(t *testing.T) {
	s := NewMemoryStore(2)
	owner := "user_aaaaaaaaaaaa"
	_, err := s.UpsertChunks(context.Background(), owner, "doc-b", []model.ChunkRecord{
		record("doc-b", 1, []float32{2, 0}),
		record("doc-b", 0, []float32{3, 0}),
	})
	require.NoError(t, err)
	_, err = s.UpsertChunks(context.Background(), owner, "doc-a", []model.ChunkRecord{
		record("doc-a", 0, []float32{1, 0}),
	})
	require.NoError(t, err)

	// 三条相似度同为 1.0，应按 (sourceID, chunkIndex) 升序排列。
	results, err := s.QueryBySimilarity(context.Background(), owner, []float32{1, 0}, 0.9, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "doc-a", results[0].Chunk.SourceID)
	assert.Equal(t, "doc-b", results[1].Chunk.SourceID)
	assert.Equal(t, 0, results[1].Chunk.ChunkIndex)
	assert.Equal(t, 1, results[2].Chunk.ChunkIndex)
}

func TestMemoryStoreDeleteSource(t *testing.T) {
	s := NewMemoryStore(2)
	owner := "user_aaaaaaaaaaaa"
	_, err := s.UpsertChunks(context.Background(), owner, "doc-1",
		[]model.ChunkRecord{record("doc-1", 0, []float32{1, 0})})
	require.NoError(t, err)
	_, err = s.UpsertChunks(context.Background(), owner, "doc-2",
		[]model.ChunkRecord{record("doc-2", 0, []float32{1, 0})})
	require.NoError(t, err)

	require.NoError(t, s.DeleteSource(context.Background(), owner, "doc-1"))
	// 删除不存在的来源静默成功。
	require.NoError(t, s.DeleteSource(context.Background(), owner, "doc-missing"))

	results, err := s.QueryBySimilarity(context.Background(), owner, []float32{1, 0}, 0, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-2", results[0].Chunk.SourceID)
}
