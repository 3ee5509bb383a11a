package model

import "time"

// 来源文档的索引状态流转：pending -> extracting -> chunking -> embedding -> indexed / failed。
const (
	SourceStatusPending    = "pending"
	SourceStatusExtracting = "extracting"
	SourceStatusChunking   = "chunking"
	SourceStatusEmbedding  = "embedding"
	SourceStatusIndexed    = "indexed"
	SourceStatusFailed     = "failed"
)

// Source 对应于数据库中的 sources 表，记录每个已上传文档的归属与索引状态。
// OwnerKey 是经过单向哈希的账号标识，原始账号 ID 不落库。
type Source struct {
	SourceID   string    `gorm:"primaryKey;type:varchar(64);column:source_id"`
	OwnerKey   string    `gorm:"type:varchar(32);not null;index;column:owner_key"`
	SourceName string    `gorm:"type:varchar(255);not null;column:source_name"`
	ObjectName string    `gorm:"type:varchar(255);column:object_name"`
	Status     string    `gorm:"type:varchar(20);not null;default:pending;column:status"`
	ChunkCount int       `gorm:"not null;default:0;column:chunk_count"`
	TokenCount int       `gorm:"not null;default:0;column:token_count"`
	Error      string    `gorm:"type:varchar(500);column:error"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Source) TableName() string {
	return "sources"
}
