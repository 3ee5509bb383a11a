// Package store 定义分块向量存储的统一契约，并提供 Elasticsearch 与内存两种实现。
package store

import (
	"context"
	"errors"
	"math"

	"flow-rag-go/internal/model"
)

// 存储层错误分类。
var (
	// ErrUnavailable 表示存储暂时不可用，调用方不得将其与"无结果"混淆。
	ErrUnavailable = errors.New("store: unavailable")
	// ErrNotFound 仅用于按 ID 的精确查找；相似度查询无结果时返回空序列而非该错误。
	ErrNotFound = errors.New("store: not found")
	// ErrDimensionMismatch 表示写入向量的维度与该存储声明的维度不符。
	ErrDimensionMismatch = errors.New("store: vector dimension mismatch")
)

// ChunkStore 是分块向量存储的契约。
//
// UpsertChunks 以 (ownerKey, sourceID) 为粒度整体替换分块集合，对读者而言是
// 原子的：任何查询都不会看到同一来源新旧分块混杂的状态。同一 key 上的写入
// 彼此串行，不同 key 的写入相互独立。
//
// QueryBySimilarity 严格限定在 ownerKey 范围内，按余弦相似度降序返回，
// 相似度相同的按 (sourceID, chunkIndex) 升序保证确定性。零模长向量不参与
// 相似度计算，直接排除。
type ChunkStore interface {
	UpsertChunks(ctx context.Context, ownerKey, sourceID string, chunks []model.ChunkRecord) (int, error)
	QueryBySimilarity(ctx context.Context, ownerKey string, queryVector []float32, minSimilarity float64, limit int) ([]model.ScoredChunk, error)
	DeleteSource(ctx context.Context, ownerKey, sourceID string) error
}

// CosineSimilarity 计算两个向量的余弦相似度 dot(a,b) / (‖a‖·‖b‖)。
// 任一向量模长为零时相似度未定义，返回 (0, false)。
func CosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
