package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-rag-go/internal/config"
	"flow-rag-go/internal/identity"
	"flow-rag-go/internal/model"
	"flow-rag-go/internal/store"
)

// stubEmbedder 返回预设向量，便于在测试中精确控制相似度。
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	return v, nil
}

func (s *stubEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.CreateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 2 }

// failingStore 模拟存储不可用。
type failingStore struct{}

func (failingStore) UpsertChunks(ctx context.Context, ownerKey, sourceID string, chunks []model.ChunkRecord) (int, error) {
	return 0, store.ErrUnavailable
}

func (failingStore) QueryBySimilarity(ctx context.Context, ownerKey string, queryVector []float32, minSimilarity float64, limit int) ([]model.ScoredChunk, error) {
	return nil, store.ErrUnavailable
}

func (failingStore) DeleteSource(ctx context.Context, ownerKey, sourceID string) error {
	return store.ErrUnavailable
}

func retrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		RecallFloor:          0.3,
		DefaultMinSimilarity: 0.7,
		DefaultTopK:          5,
		SnippetMaxLen:        500,
	}
}

func seedChunk(t *testing.T, s store.ChunkStore, ownerKey, sourceID string, index int, vec []float32) {
	t.Helper()
	_, err := s.UpsertChunks(context.Background(), ownerKey, sourceID, []model.ChunkRecord{{
		ChunkID:    fmt.Sprintf("%s_chunk_%d", sourceID, index),
		SourceID:   sourceID,
		OwnerKey:   ownerKey,
		ChunkIndex: index,
		FullText:   fmt.Sprintf("text of %s/%d", sourceID, index),
		Embedding:  vec,
	}})
	require.NoError(t, err)
}

func TestRetrieveExactMatchRanksFirst(t *testing.T) {
	owner := identity.HashOwnerID("owner-x")
	mem := store.NewMemoryStore(2)
	seedChunk(t, mem, owner, "doc-1", 0, []float32{0.6, 0.8})
	_, err := mem.UpsertChunks(context.Background(), owner, "doc-2", []model.ChunkRecord{
		{ChunkID: "doc-2_chunk_0", SourceID: "doc-2", OwnerKey: owner, ChunkIndex: 0, FullText: "a", Embedding: []float32{1, 0}},
		{ChunkID: "doc-2_chunk_1", SourceID: "doc-2", OwnerKey: owner, ChunkIndex: 1, FullText: "b", Embedding: []float32{0.8, 0.6}},
	})
	require.NoError(t, err)

	embedder := &stubEmbedder{vectors: map[string][]float32{"what is doc two": {1, 0}}}
	svc := NewRetrievalService(embedder, mem, nil, retrievalConfig())

	resp, err := svc.Retrieve(context.Background(), "owner-x", "what is doc two", RetrieveOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.FallbackNone, resp.Fallback)
	require.NotEmpty(t, resp.References)
	// 与查询向量完全一致的分块排第一，相似度 ≈ 1.0。
	assert.Equal(t, "doc-2", resp.References[0].SourceID)
	assert.Equal(t, 0, resp.References[0].ChunkIndex)
	assert.InDelta(t, 1.0, resp.References[0].Similarity, 1e-9)
}

func TestRetrieveNearMissYieldsLowConfidence(t *testing.T) {
	owner := identity.HashOwnerID("owner-x")
	mem := store.NewMemoryStore(2)
	// cos((1,0), (0.58, 0.8146...)) ≈ 0.58
	seedChunk(t, mem, owner, "doc-1", 0, []float32{0.58, 0.81461647})

	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	svc := NewRetrievalService(embedder, mem, nil, retrievalConfig())

	resp, err := svc.Retrieve(context.Background(), "owner-x", "query", RetrieveOptions{MinSimilarity: 0.7})
	require.NoError(t, err)
	assert.Equal(t, model.FallbackLowConfidence, resp.Fallback)
	require.Len(t, resp.References, 1)
	// 近似结果携带真实相似度，而非圆整后的占位值。
	assert.InDelta(t, 0.58, resp.References[0].Similarity, 1e-6)
}

func TestRetrieveEmptyOwnerIsNoMatch(t *testing.T) {
	mem := store.NewMemoryStore(2)
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	svc := NewRetrievalService(embedder, mem, nil, retrievalConfig())

	resp, err := svc.Retrieve(context.Background(), "fresh-owner", "query", RetrieveOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.FallbackNoMatch, resp.Fallback)
	assert.Empty(t, resp.References)
}

func TestRetrieveDedupsBySourceKeepingBest(t *testing.T) {
	owner := identity.HashOwnerID("owner-x")
	mem := store.NewMemoryStore(2)
	_, err := mem.UpsertChunks(context.Background(), owner, "doc-1", []model.ChunkRecord{
		{ChunkID: "doc-1_chunk_0", SourceID: "doc-1", OwnerKey: owner, ChunkIndex: 0, FullText: "a", Embedding: []float32{1, 0}},
		{ChunkID: "doc-1_chunk_1", SourceID: "doc-1", OwnerKey: owner, ChunkIndex: 1, FullText: "b", Embedding: []float32{0.8, 0.6}},
	})
	require.NoError(t, err)

	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	svc := NewRetrievalService(embedder, mem, nil, retrievalConfig())

	resp, err := svc.Retrieve(context.Background(), "owner-x", "query", RetrieveOptions{})
	require.NoError(t, err)
	// 同源两个分块都过阈值，去重后只保留一条引用，带最高相似度与合并计数。
	require.Len(t, resp.References, 1)
	assert.InDelta(t, 1.0, resp.References[0].Similarity, 1e-9)
	assert.Equal(t, 2, resp.References[0].ChunkCount)
	assert.Equal(t, 0, resp.References[0].ChunkIndex)
}

func TestRetrieveSimilarityIsRecomputable(t *testing.T) {
	owner := identity.HashOwnerID("owner-x")
	mem := store.NewMemoryStore(3)
	vectors := [][]float32{
		{0.2, 0.5, 0.9},
		{0.9, 0.1, 0.3},
		{0.4, 0.4, 0.4},
	}
	for i, v := range vectors {
		seedChunk(t, mem, owner, fmt.Sprintf("doc-%d", i), 0, v)
	}

	queryVec := []float32{0.3, 0.6, 0.7}
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": queryVec}}
	svc := NewRetrievalService(embedder, mem, nil, retrievalConfig())

	resp, err := svc.Retrieve(context.Background(), "owner-x", "query", RetrieveOptions{MinSimilarity: 0.01})
	require.NoError(t, err)
	require.NotEmpty(t, resp.References)

	// 每条引用的相似度都必须能用查询向量与分块向量独立复算出来。
	byID := map[string][]float32{"doc-0": vectors[0], "doc-1": vectors[1], "doc-2": vectors[2]}
	for _, ref := range resp.References {
		expected, ok := store.CosineSimilarity(queryVec, byID[ref.SourceID])
		require.True(t, ok)
		assert.InDelta(t, expected, ref.Similarity, 1e-6)
	}
}

func TestRetrieveQueryEmbeddingFailureIsTerminal(t *testing.T) {
	mem := store.NewMemoryStore(2)
	embedder := &stubEmbedder{err: errors.New("remote down")}
	svc := NewRetrievalService(embedder, mem, nil, retrievalConfig())

	_, err := svc.Retrieve(context.Background(), "owner-x", "query", RetrieveOptions{})
	assert.ErrorIs(t, err, ErrQueryEmbeddingFailed)
}

func TestRetrieveStoreFailureIsNotNoMatch(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	svc := NewRetrievalService(embedder, failingStore{}, nil, retrievalConfig())

	resp, err := svc.Retrieve(context.Background(), "owner-x", "query", RetrieveOptions{})
	// 基础设施故障必须以错误返回，绝不能伪装成"无相关资料"。
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRetrieveScopesByOwner(t *testing.T) {
	mem := store.NewMemoryStore(2)
	ownerA := identity.HashOwnerID("owner-a")
	seedChunk(t, mem, ownerA, "doc-1", 0, []float32{1, 0})

	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	svc := NewRetrievalService(embedder, mem, nil, retrievalConfig())

	resp, err := svc.Retrieve(context.Background(), "owner-b", "query", RetrieveOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.FallbackNoMatch, resp.Fallback)
	assert.Empty(t, resp.References)
}

func TestPartitionIsDeterministic(t *testing.T) {
	candidates := []model.ScoredChunk{
		{Chunk: model.ChunkRecord{SourceID: "a", ChunkIndex: 0}, Similarity: 0.91},
		{Chunk: model.ChunkRecord{SourceID: "b", ChunkIndex: 0}, Similarity: 0.7},
		{Chunk: model.ChunkRecord{SourceID: "c", ChunkIndex: 0}, Similarity: 0.69},
		{Chunk: model.ChunkRecord{SourceID: "d", ChunkIndex: 0}, Similarity: 0.31},
	}

	qualified, nearMiss := partition(candidates, 0.7)
	// 阈值为闭下界：恰好等于阈值的候选属于合格组。
	require.Len(t, qualified, 2)
	require.Len(t, nearMiss, 2)
	assert.Equal(t, "b", qualified[1].Chunk.SourceID)
	assert.Equal(t, "c", nearMiss[0].Chunk.SourceID)
}
