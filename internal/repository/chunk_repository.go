package repository

import (
	"gorm.io/gorm"

	"flow-rag-go/internal/model"
)

// ChunkRepository 接口定义了分块暂存表的持久化操作。
// 分块文本在向量化之前先落库，嵌入或索引失败时可以直接从表中回放，
// 不必重新提取和切分原文。
type ChunkRepository interface {
	ReplaceForSource(ownerKey, sourceID string, chunks []model.DocumentChunk) error
	FindBySource(ownerKey, sourceID string) ([]model.DocumentChunk, error)
	DeleteBySource(ownerKey, sourceID string) error
}

// chunkRepository 是 ChunkRepository 接口的 GORM 实现。
type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// ReplaceForSource 在一个事务内整体替换 (ownerKey, sourceID) 的暂存分块。
func (r *chunkRepository) ReplaceForSource(ownerKey, sourceID string, chunks []model.DocumentChunk) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_key = ? AND source_id = ?", ownerKey, sourceID).
			Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 200).Error
	})
}

// FindBySource 按分块序号升序返回来源的全部暂存分块。
func (r *chunkRepository) FindBySource(ownerKey, sourceID string) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.Where("owner_key = ? AND source_id = ?", ownerKey, sourceID).
		Order("chunk_index asc").Find(&chunks).Error
	return chunks, err
}

// DeleteBySource 删除来源的全部暂存分块。
func (r *chunkRepository) DeleteBySource(ownerKey, sourceID string) error {
	return r.db.Where("owner_key = ? AND source_id = ?", ownerKey, sourceID).
		Delete(&model.DocumentChunk{}).Error
}
