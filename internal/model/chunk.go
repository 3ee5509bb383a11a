// Package model 定义了与数据库表及 Elasticsearch 文档对应的 Go 结构体。
package model

import "time"

// DocumentChunk 对应于数据库中的 document_chunks 表。
// 分块文本在向量化之前先落库，作为检索索引的可回放来源。
type DocumentChunk struct {
	ID         uint   `gorm:"primaryKey;autoIncrement;column:id"`
	OwnerKey   string `gorm:"type:varchar(32);not null;index:idx_owner_source;column:owner_key"`
	SourceID   string `gorm:"type:varchar(64);not null;index:idx_owner_source;column:source_id"`
	ChunkIndex int    `gorm:"not null;column:chunk_index"`
	Text       string `gorm:"type:text;column:text"`
	// StartPos/EndPos 是分块在源文本中的词位置，保留给定位跳转使用。
	StartPos   int       `gorm:"not null;column:start_pos"`
	EndPos     int       `gorm:"not null;column:end_pos"`
	TokenCount int       `gorm:"not null;column:token_count"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// ChunkMetadata 是分块的附加元数据，整体序列化进 Elasticsearch 的 metadata 字段。
type ChunkMetadata struct {
	StartPos   int `json:"start_position"`
	EndPos     int `json:"end_position"`
	TokenCount int `json:"token_count"`
}

// ChunkRecord 代表存储在 Elasticsearch 中的分块文档结构。
// chunk_id 由 (source_id, chunk_index) 确定，重复索引同一来源时覆盖而非追加。
type ChunkRecord struct {
	ChunkID     string        `json:"chunk_id"`
	SourceID    string        `json:"source_id"`
	OwnerKey    string        `json:"owner_key"`
	ChunkIndex  int           `json:"chunk_index"`
	TextPreview string        `json:"text_preview"`
	FullText    string        `json:"full_text"`
	Embedding   []float32     `json:"embedding"`
	TokenCount  int           `json:"token_count"`
	Metadata    ChunkMetadata `json:"metadata"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ScoredChunk 是一条带真实余弦相似度的检索候选。
// Similarity 一定来自一次实际的向量计算，绝不允许是占位常量。
type ScoredChunk struct {
	Chunk      ChunkRecord
	Similarity float64
}
