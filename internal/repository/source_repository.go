// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flow-rag-go/internal/model"
)

// ErrSourceNotFound 表示来源记录不存在或不属于该 owner。
var ErrSourceNotFound = errors.New("repository: source not found")

// statusCacheTTL 是 Redis 中来源状态缓存的有效期。
// 状态查询走缓存以避免索引过程中的高频轮询压到 MySQL。
const statusCacheTTL = 30 * time.Second

// SourceRepository 接口定义了来源注册表相关的数据持久化操作。
type SourceRepository interface {
	Create(source *model.Source) error
	GetByID(ownerKey, sourceID string) (*model.Source, error)
	ListByOwner(ownerKey string) ([]model.Source, error)
	UpdateStatus(ctx context.Context, ownerKey, sourceID, status, errMsg string) error
	UpdateCounts(ownerKey, sourceID string, chunkCount, tokenCount int) error
	Delete(ownerKey, sourceID string) error

	// Status cache operations (Redis)
	GetCachedStatus(ctx context.Context, ownerKey, sourceID string) (string, bool)
}

// sourceRepository 是 SourceRepository 接口的 GORM+Redis 实现。
type sourceRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewSourceRepository 创建一个新的 SourceRepository 实例。
func NewSourceRepository(db *gorm.DB, redisClient *redis.Client) SourceRepository {
	return &sourceRepository{db: db, redisClient: redisClient}
}

func (r *sourceRepository) statusCacheKey(ownerKey, sourceID string) string {
	return "source:status:" + ownerKey + ":" + sourceID
}

// Create 注册一个新来源。source_id 冲突时整行覆盖（重新上传同名来源）。
func (r *sourceRepository) Create(source *model.Source) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}},
		UpdateAll: true,
	}).Create(source).Error
}

// GetByID 按 (ownerKey, sourceID) 检索来源，跨 owner 访问视同不存在。
func (r *sourceRepository) GetByID(ownerKey, sourceID string) (*model.Source, error) {
	var source model.Source
	err := r.db.Where("owner_key = ? AND source_id = ?", ownerKey, sourceID).First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

// ListByOwner 列出指定 owner 的全部来源，按创建时间倒序。
func (r *sourceRepository) ListByOwner(ownerKey string) ([]model.Source, error) {
	var sources []model.Source
	err := r.db.Where("owner_key = ?", ownerKey).Order("created_at desc").Find(&sources).Error
	return sources, err
}

// UpdateStatus 更新来源的索引状态，并同步刷新 Redis 状态缓存。
// errMsg 仅在 status 为 failed 时有意义，其余状态写入空串清除历史错误。
func (r *sourceRepository) UpdateStatus(ctx context.Context, ownerKey, sourceID, status, errMsg string) error {
	err := r.db.Model(&model.Source{}).
		Where("owner_key = ? AND source_id = ?", ownerKey, sourceID).
		Updates(map[string]any{"status": status, "error": errMsg}).Error
	if err != nil {
		return err
	}
	// 缓存刷新失败不影响主流程，下次查询回源即可。
	if cacheErr := r.redisClient.Set(ctx, r.statusCacheKey(ownerKey, sourceID), status, statusCacheTTL).Err(); cacheErr != nil {
		return nil
	}
	return nil
}

// UpdateCounts 在索引完成后回填分块数与 token 数。
func (r *sourceRepository) UpdateCounts(ownerKey, sourceID string, chunkCount, tokenCount int) error {
	return r.db.Model(&model.Source{}).
		Where("owner_key = ? AND source_id = ?", ownerKey, sourceID).
		Updates(map[string]any{"chunk_count": chunkCount, "token_count": tokenCount}).Error
}

// Delete 删除来源记录。
func (r *sourceRepository) Delete(ownerKey, sourceID string) error {
	result := r.db.Where("owner_key = ? AND source_id = ?", ownerKey, sourceID).Delete(&model.Source{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSourceNotFound
	}
	return nil
}

// GetCachedStatus 从 Redis 读取来源状态缓存，未命中时返回 false。
func (r *sourceRepository) GetCachedStatus(ctx context.Context, ownerKey, sourceID string) (string, bool) {
	val, err := r.redisClient.Get(ctx, r.statusCacheKey(ownerKey, sourceID)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}
