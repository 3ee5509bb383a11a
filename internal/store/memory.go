package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"flow-rag-go/internal/model"
)

// MemoryStore 是 ChunkStore 的进程内实现，仅用于本地联调与测试。
// 所有数据保存在内存中，进程退出即丢失。
type MemoryStore struct {
	dims int

	mu sync.RWMutex
	// chunks 按 ownerKey -> sourceID 两级索引，整来源替换时直接覆盖内层切片。
	chunks map[string]map[string][]model.ChunkRecord
}

// NewMemoryStore 创建一个维度为 dims 的内存存储。
func NewMemoryStore(dims int) *MemoryStore {
	return &MemoryStore{
		dims:   dims,
		chunks: make(map[string]map[string][]model.ChunkRecord),
	}
}

// UpsertChunks 整体替换 (ownerKey, sourceID) 下的分块集合。
// 任何一条向量维度不符都拒绝整批写入，不做部分落盘。
func (s *MemoryStore) UpsertChunks(ctx context.Context, ownerKey, sourceID string, chunks []model.ChunkRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for i, chunk := range chunks {
		if len(chunk.Embedding) != s.dims {
			return 0, fmt.Errorf("%w: chunk %d has %d dims, store expects %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), s.dims)
		}
	}

	copied := make([]model.ChunkRecord, len(chunks))
	copy(copied, chunks)

	s.mu.Lock()
	defer s.mu.Unlock()
	bySource, ok := s.chunks[ownerKey]
	if !ok {
		bySource = make(map[string][]model.ChunkRecord)
		s.chunks[ownerKey] = bySource
	}
	bySource[sourceID] = copied
	return len(copied), nil
}

// QueryBySimilarity 在 ownerKey 范围内全量扫描并计算真实余弦相似度。
func (s *MemoryStore) QueryBySimilarity(ctx context.Context, ownerKey string, queryVector []float32, minSimilarity float64, limit int) ([]model.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []model.ScoredChunk
	for _, chunks := range s.chunks[ownerKey] {
		for _, chunk := range chunks {
			sim, ok := CosineSimilarity(queryVector, chunk.Embedding)
			if !ok {
				// 零模长或维度不符的向量无相似度可言，直接排除。
				continue
			}
			if sim < minSimilarity {
				continue
			}
			scored = append(scored, model.ScoredChunk{Chunk: chunk, Similarity: sim})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		if scored[i].Chunk.SourceID != scored[j].Chunk.SourceID {
			return scored[i].Chunk.SourceID < scored[j].Chunk.SourceID
		}
		return scored[i].Chunk.ChunkIndex < scored[j].Chunk.ChunkIndex
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// DeleteSource 删除 (ownerKey, sourceID) 下的全部分块。来源不存在时静默成功。
func (s *MemoryStore) DeleteSource(ctx context.Context, ownerKey, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bySource, ok := s.chunks[ownerKey]; ok {
		delete(bySource, sourceID)
	}
	return nil
}
